// Package transit mirrors the drive read surface for files belonging to
// other identities, routed through the local host's relay endpoints. Every
// operation carries the remote identity (odinId); decryption semantics are
// identical to the local drive client.
package transit

import (
	"context"
	"errors"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/drive"
)

type transitQueryBatchRequest struct {
	OdinID               string                `json:"odinId"`
	QueryParams          drive.FileQueryParams `json:"queryParams"`
	ResultOptionsRequest drive.ResultOptions   `json:"resultOptionsRequest"`
}

// QueryBatchOverTransit performs a filtered, paged listing on a remote
// identity's drive through the relay.
func QueryBatchOverTransit(ctx context.Context, c *core.Client, odinID string,
	params drive.FileQueryParams, opts drive.ResultOptions) (*drive.QueryBatchResponse, error) {

	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 100
	}

	req := transitQueryBatchRequest{
		OdinID:               odinID,
		QueryParams:          params.Encoded(),
		ResultOptionsRequest: opts,
	}
	var resp drive.QueryBatchResponse
	if err := c.PostJSON(ctx, "/transit/query/batch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type transitFileRequest struct {
	OdinID string               `json:"odinId"`
	File   drive.FileIdentifier `json:"file"`
}

// GetFileHeaderOverTransit fetches a remote file's header, memoized in
// cache when one is supplied. Returns (nil, nil) when the file does not
// exist; misses are never cached.
func GetFileHeaderOverTransit(ctx context.Context, c *core.Client, cache *HeaderCache,
	odinID string, targetDrive core.TargetDrive, fileID string) (*core.FileHeader, error) {

	key := CacheKey{OdinID: odinID, Drive: targetDrive, FileID: fileID}
	if cache != nil {
		if header, ok := cache.Get(key); ok {
			return header, nil
		}
	}

	req := transitFileRequest{
		OdinID: odinID,
		File:   drive.FileIdentifier{FileID: fileID, TargetDrive: targetDrive},
	}
	var header core.FileHeader
	if err := c.PostJSON(ctx, "/transit/query/header", req, &header); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if cache != nil {
		cache.Put(key, &header)
	}
	return &header, nil
}

type transitPayloadRequest struct {
	OdinID string               `json:"odinId"`
	File   drive.FileIdentifier `json:"file"`
	Key    string               `json:"key"`
}

// GetPayloadBytesOverTransit fetches a remote payload block, decrypting
// like the local drive client. Returns (nil, nil) when it does not exist.
func GetPayloadBytesOverTransit(ctx context.Context, c *core.Client, odinID string,
	targetDrive core.TargetDrive, fileID, key string) (*drive.PayloadResult, error) {

	req := transitPayloadRequest{
		OdinID: odinID,
		File:   drive.FileIdentifier{FileID: fileID, TargetDrive: targetDrive},
		Key:    key,
	}
	raw, err := c.PostRaw(ctx, "/transit/query/payload", req)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	plain, err := raw.Decrypt(c.SharedSecret(), nil)
	if err != nil {
		return nil, err
	}
	return &drive.PayloadResult{Bytes: plain, ContentType: raw.ContentType}, nil
}

type transitThumbRequest struct {
	OdinID     string               `json:"odinId"`
	File       drive.FileIdentifier `json:"file"`
	PayloadKey string               `json:"payloadKey"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
}

// GetThumbBytesOverTransit fetches one thumbnail size of a remote payload.
func GetThumbBytesOverTransit(ctx context.Context, c *core.Client, odinID string,
	targetDrive core.TargetDrive, fileID, payloadKey string, width, height int) (*drive.PayloadResult, error) {

	req := transitThumbRequest{
		OdinID:     odinID,
		File:       drive.FileIdentifier{FileID: fileID, TargetDrive: targetDrive},
		PayloadKey: payloadKey,
		Width:      width,
		Height:     height,
	}
	raw, err := c.PostRaw(ctx, "/transit/query/thumb", req)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	plain, err := raw.Decrypt(c.SharedSecret(), nil)
	if err != nil {
		return nil, err
	}
	return &drive.PayloadResult{Bytes: plain, ContentType: raw.ContentType}, nil
}

type transitDrivesByTypeRequest struct {
	OdinID    string `json:"odinId"`
	DriveType string `json:"driveType"`
}

type pagedDrives struct {
	Results []drive.DriveDefinition `json:"results"`
}

// GetDrivesByTypeOverTransit lists a remote identity's drives of one type.
func GetDrivesByTypeOverTransit(ctx context.Context, c *core.Client, odinID, driveType string) ([]drive.DriveDefinition, error) {
	req := transitDrivesByTypeRequest{OdinID: odinID, DriveType: driveType}
	var page pagedDrives
	if err := c.PostJSON(ctx, "/transit/query/metadata/type", req, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

type processInboxRequest struct {
	TargetDrive core.TargetDrive `json:"targetDrive"`
}

type processInboxResponse struct {
	TotalItemsProcessed int `json:"totalItemsProcessed"`
}

// ProcessInbox drains the host's inbox of pending cross-identity
// deliveries for a drive. Call it before subscribing to live updates so
// the backlog is not missed.
func ProcessInbox(ctx context.Context, c *core.Client, targetDrive core.TargetDrive) (int, error) {
	req := processInboxRequest{TargetDrive: targetDrive}
	var resp processInboxResponse
	if err := c.PostJSON(ctx, "/transit/inbox/processor/process", req, &resp); err != nil {
		return 0, err
	}
	return resp.TotalItemsProcessed, nil
}

// PayloadFetcherFor returns a content.PayloadFetcher-shaped closure bound
// to one remote file. Bytes are returned as served; the content resolver
// owns decryption.
func PayloadFetcherFor(c *core.Client, odinID string, targetDrive core.TargetDrive, fileID string) func(ctx context.Context, key string) ([]byte, error) {
	return func(ctx context.Context, key string) ([]byte, error) {
		req := transitPayloadRequest{
			OdinID: odinID,
			File:   drive.FileIdentifier{FileID: fileID, TargetDrive: targetDrive},
			Key:    key,
		}
		raw, err := c.PostRaw(ctx, "/transit/query/payload", req)
		if err != nil {
			return nil, err
		}
		return raw.Bytes, nil
	}
}
