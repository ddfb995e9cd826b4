// Package drive implements the client protocol against the local identity's
// drive API: querying, header and payload fetches, encrypted uploads and
// patches, deletion, and drive management. Every operation is a plain
// function taking the core client handle as its first argument.
package drive

import (
	"context"
	"encoding/base64"
	"net/url"
	"strconv"

	"github.com/identhost/drivesync/core"
)

// TimeRange bounds a query by userDate (unix milliseconds, inclusive).
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// FileQueryParams is the server-side filter for listing operations.
// String-valued filters (sender, groupId, tags, uniqueId) are compared by
// the host as encoded byte arrays, so they are base64-encoded on the wire;
// callers supply plain values.
type FileQueryParams struct {
	TargetDrive              core.TargetDrive `json:"targetDrive"`
	FileType                 []int            `json:"fileType,omitempty"`
	DataType                 []int            `json:"dataType,omitempty"`
	Sender                   []string         `json:"sender,omitempty"`
	GroupID                  []string         `json:"groupId,omitempty"`
	UserDate                 *TimeRange       `json:"userDate,omitempty"`
	TagsMatchAtLeastOne      []string         `json:"tagsMatchAtLeastOne,omitempty"`
	TagsMatchAll             []string         `json:"tagsMatchAll,omitempty"`
	ClientUniqueIDAtLeastOne []string         `json:"clientUniqueIdAtLeastOne,omitempty"`
	ArchivalStatus           []int            `json:"archivalStatus,omitempty"`
}

// Encoded returns a copy with every byte-compared filter base64-encoded.
func (p FileQueryParams) Encoded() FileQueryParams {
	out := p
	out.Sender = encodeFilterValues(p.Sender)
	out.GroupID = encodeFilterValues(p.GroupID)
	out.TagsMatchAtLeastOne = encodeFilterValues(p.TagsMatchAtLeastOne)
	out.TagsMatchAll = encodeFilterValues(p.TagsMatchAll)
	out.ClientUniqueIDAtLeastOne = encodeFilterValues(p.ClientUniqueIDAtLeastOne)
	return out
}

func encodeFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = base64.StdEncoding.EncodeToString([]byte(v))
	}
	return out
}

// ResultOptions controls paging and header verbosity of listings. The
// cursor is opaque: pass the previous response's CursorState back unchanged
// to continue; an empty next cursor signals the end of results.
type ResultOptions struct {
	MaxRecords            int    `json:"maxRecords"`
	CursorState           string `json:"cursorState,omitempty"`
	IncludeMetadataHeader bool   `json:"includeMetadataHeader"`
}

// QueryBatchResponse is one page of listing results.
type QueryBatchResponse struct {
	CursorState           string            `json:"cursorState"`
	SearchResults         []core.FileHeader `json:"searchResults"`
	IncludeMetadataHeader bool              `json:"includeMetadataHeader"`
	QueryTime             int64             `json:"queryTime,omitempty"`
}

type queryBatchRequest struct {
	QueryParams          FileQueryParams `json:"queryParams"`
	ResultOptionsRequest ResultOptions   `json:"resultOptionsRequest"`
}

// QueryBatch performs a filtered, paged listing on a drive.
func QueryBatch(ctx context.Context, c *core.Client, params FileQueryParams, opts ResultOptions) (*QueryBatchResponse, error) {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 100
	}

	req := queryBatchRequest{QueryParams: params.Encoded(), ResultOptionsRequest: opts}
	var resp QueryBatchResponse
	if err := c.PostJSON(ctx, "/drive/query/batch", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type queryRecentRequest struct {
	QueryParams   FileQueryParams `json:"queryParams"`
	ResultOptions ResultOptions   `json:"resultOptions"`
}

// QueryRecent is the legacy most-recent-first listing. Same pagination
// contract as QueryBatch.
func QueryRecent(ctx context.Context, c *core.Client, params FileQueryParams, opts ResultOptions) (*QueryBatchResponse, error) {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 100
	}

	req := queryRecentRequest{QueryParams: params.Encoded(), ResultOptions: opts}
	var resp QueryBatchResponse
	if err := c.PostJSON(ctx, "/drive/query/recent", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetFilesByTag lists the files on a drive carrying the given tag.
func GetFilesByTag(ctx context.Context, c *core.Client, drive core.TargetDrive, tag string, opts ResultOptions) (*QueryBatchResponse, error) {
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = 100
	}

	query := url.Values{}
	query.Set("alias", drive.Alias)
	query.Set("type", drive.Type)
	query.Set("tag", base64.StdEncoding.EncodeToString([]byte(tag)))
	query.Set("maxRecords", strconv.Itoa(opts.MaxRecords))
	if opts.CursorState != "" {
		query.Set("cursorState", opts.CursorState)
	}
	query.Set("includeMetadataHeader", strconv.FormatBool(opts.IncludeMetadataHeader))

	var resp QueryBatchResponse
	if err := c.GetJSON(ctx, "/drive/query/tag", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
