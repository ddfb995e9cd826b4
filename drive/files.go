package drive

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/keyheader"
)

// GetFileHeader fetches a file's header. It returns (nil, nil) when the
// file does not exist.
func GetFileHeader(ctx context.Context, c *core.Client, drive core.TargetDrive, fileID string) (*core.FileHeader, error) {
	query := url.Values{}
	query.Set("alias", drive.Alias)
	query.Set("type", drive.Type)
	query.Set("fileId", fileID)

	var header core.FileHeader
	if err := c.GetJSON(ctx, "/drive/files/header", query, &header); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &header, nil
}

// GetFileHeaderByUniqueID fetches a header by its client-assigned unique
// id. It returns (nil, nil) when no such file exists.
func GetFileHeaderByUniqueID(ctx context.Context, c *core.Client, drive core.TargetDrive, uniqueID string) (*core.FileHeader, error) {
	query := url.Values{}
	query.Set("alias", drive.Alias)
	query.Set("type", drive.Type)
	query.Set("uniqueId", uniqueID)

	var header core.FileHeader
	if err := c.GetJSON(ctx, "/drive/files/header", query, &header); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &header, nil
}

// PayloadResult is a fetched (and, when possible, decrypted) payload.
type PayloadResult struct {
	Bytes       []byte
	ContentType string
}

// GetPayloadBytes fetches a payload block. When kh is non-nil it is used
// for decryption; otherwise the key header inlined in the response headers
// is unwrapped with the session's shared secret. Returns (nil, nil) when
// the file or payload does not exist.
func GetPayloadBytes(ctx context.Context, c *core.Client, drive core.TargetDrive, fileID, key string, kh *keyheader.KeyHeader) (*PayloadResult, error) {
	query := url.Values{}
	query.Set("alias", drive.Alias)
	query.Set("type", drive.Type)
	query.Set("fileId", fileID)
	query.Set("key", key)

	raw, err := c.GetRaw(ctx, "/drive/files/payload", query)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decryptRaw(c, raw, kh)
}

// GetThumbBytes fetches one thumbnail size of a payload. Same decryption
// and not-found semantics as GetPayloadBytes.
func GetThumbBytes(ctx context.Context, c *core.Client, drive core.TargetDrive, fileID, payloadKey string, width, height int, kh *keyheader.KeyHeader) (*PayloadResult, error) {
	query := url.Values{}
	query.Set("alias", drive.Alias)
	query.Set("type", drive.Type)
	query.Set("fileId", fileID)
	query.Set("payloadKey", payloadKey)
	query.Set("width", strconv.Itoa(width))
	query.Set("height", strconv.Itoa(height))

	raw, err := c.GetRaw(ctx, "/drive/files/thumb", query)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decryptRaw(c, raw, kh)
}

func decryptRaw(c *core.Client, raw *core.RawResponse, kh *keyheader.KeyHeader) (*PayloadResult, error) {
	plain, err := raw.Decrypt(c.SharedSecret(), kh)
	if err != nil {
		return nil, err
	}
	return &PayloadResult{Bytes: plain, ContentType: raw.ContentType}, nil
}

// DeleteFile removes a file. Deleting a file that does not exist returns
// (false, nil): already gone is not an error.
func DeleteFile(ctx context.Context, c *core.Client, drive core.TargetDrive, fileID string) (bool, error) {
	query := url.Values{}
	query.Set("alias", drive.Alias)
	query.Set("type", drive.Type)
	query.Set("fileId", fileID)
	return c.Delete(ctx, "/drive/files", query)
}

// PayloadFetcherFor returns a content.PayloadFetcher-shaped closure bound
// to one local file, decrypting with kh when supplied.
func PayloadFetcherFor(c *core.Client, drive core.TargetDrive, fileID string) func(ctx context.Context, key string) ([]byte, error) {
	return func(ctx context.Context, key string) ([]byte, error) {
		query := url.Values{}
		query.Set("alias", drive.Alias)
		query.Set("type", drive.Type)
		query.Set("fileId", fileID)
		query.Set("key", key)

		raw, err := c.GetRaw(ctx, "/drive/files/payload", query)
		if err != nil {
			return nil, err
		}
		// Ciphertext is returned as is; the content resolver owns decryption.
		return raw.Bytes, nil
	}
}
