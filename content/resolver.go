// Package content turns a file header (or its default payload) into a typed
// content value. Small content is inlined in the header to save a round
// trip; anything at or above the header budget lives in a separate payload,
// and this package hides which path a given file took.
package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/cryptox"
	"github.com/identhost/drivesync/keyheader"
)

// ErrContentParse means a file's content could not be parsed even after the
// control-character recovery pass.
var ErrContentParse = errors.New("content parse failed")

// Codec converts between a typed content value and its serialized bytes.
// The core stays content-agnostic; each domain supplies its own codec.
type Codec[T any] struct {
	Marshal   func(T) ([]byte, error)
	Unmarshal func([]byte) (T, error)
}

// JSONCodec returns the standard JSON codec for T.
func JSONCodec[T any]() Codec[T] {
	return Codec[T]{
		Marshal: func(v T) ([]byte, error) { return json.Marshal(v) },
		Unmarshal: func(data []byte) (T, error) {
			var v T
			err := json.Unmarshal(data, &v)
			return v, err
		},
	}
}

// PayloadFetcher fetches one payload of the file being resolved. The drive
// and transit packages both satisfy it, so resolution is identical for
// local and remote files.
type PayloadFetcher func(ctx context.Context, key string) ([]byte, error)

// Resolve produces the typed content of header.
//
// When the header holds complete content and the caller requested metadata
// headers, the inline jsonContent is decrypted (for encrypted files) and
// parsed directly. Otherwise the default payload is fetched through fetch
// and decrypted with the file's key header.
func Resolve[T any](ctx context.Context, sharedSecret []byte, header *core.FileHeader,
	codec Codec[T], fetch PayloadFetcher, includeMetadataHeader bool) (*T, error) {

	var kh *keyheader.KeyHeader
	if header.FileMetadata.IsEncrypted {
		decrypted, err := header.DecryptKeyHeader(sharedSecret)
		if err != nil {
			return nil, err
		}
		kh = decrypted
	}

	appData := header.FileMetadata.AppData
	if appData.ContentIsComplete && includeMetadataHeader && appData.JSONContent != "" {
		plain, err := decodeInline(appData.JSONContent, header.FileMetadata.IsEncrypted, kh)
		if err != nil {
			return nil, err
		}
		return parse(codec, plain)
	}

	if fetch == nil {
		return nil, fmt.Errorf("content of file %s is not embedded and no payload fetcher was supplied", header.FileID)
	}
	raw, err := fetch(ctx, core.DefaultPayloadKey)
	if err != nil {
		return nil, err
	}
	if header.FileMetadata.IsEncrypted && kh != nil {
		raw, err = cryptox.DecryptCBC(raw, kh.Iv, kh.AesKey)
		if err != nil {
			return nil, err
		}
	}
	return parse(codec, raw)
}

func decodeInline(jsonContent string, encrypted bool, kh *keyheader.KeyHeader) ([]byte, error) {
	if !encrypted {
		return []byte(jsonContent), nil
	}
	if kh == nil {
		return nil, fmt.Errorf("%w: encrypted content without a key header", cryptox.ErrDecryption)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(jsonContent)
	if err != nil {
		return nil, fmt.Errorf("decoding inline content: %w", err)
	}
	return cryptox.DecryptCBC(ciphertext, kh.Iv, kh.AesKey)
}

// parse attempts codec.Unmarshal, falling back to a recovery pass that
// strips the two control characters known to appear in corrupted legacy
// content (U+0019, U+0014) before giving up.
func parse[T any](codec Codec[T], data []byte) (*T, error) {
	v, err := codec.Unmarshal(data)
	if err == nil {
		return &v, nil
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == '\u0019' || r == '\u0014' {
			return -1
		}
		return r
	}, string(data))

	v, err = codec.Unmarshal([]byte(cleaned))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentParse, err)
	}
	return &v, nil
}

// Resolved pairs a header with its parsed content in batch results.
type Resolved[T any] struct {
	Header  *core.FileHeader
	Content *T
}

// ResolveBatch resolves every header, isolating corrupt items: a file whose
// content fails to parse is skipped (and reported through onSkip when set)
// instead of failing the whole page. Fetchers are built per file through
// newFetcher, which may return nil for header-only resolution.
func ResolveBatch[T any](ctx context.Context, sharedSecret []byte, headers []core.FileHeader,
	codec Codec[T], newFetcher func(header *core.FileHeader) PayloadFetcher,
	includeMetadataHeader bool, onSkip func(header *core.FileHeader, err error)) []Resolved[T] {

	out := make([]Resolved[T], 0, len(headers))
	for i := range headers {
		header := &headers[i]
		var fetch PayloadFetcher
		if newFetcher != nil {
			fetch = newFetcher(header)
		}
		v, err := Resolve(ctx, sharedSecret, header, codec, fetch, includeMetadataHeader)
		if err != nil {
			if onSkip != nil {
				onSkip(header, err)
			}
			continue
		}
		out = append(out, Resolved[T]{Header: header, Content: v})
	}
	return out
}
