package drive_test

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/drive"
)

func TestFileQueryParams_Encoded(t *testing.T) {
	params := drive.FileQueryParams{
		TargetDrive:         notesDrive,
		Sender:              []string{"bob.example.com"},
		TagsMatchAtLeastOne: []string{"chat"},
	}

	encoded := params.Encoded()
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("bob.example.com")), encoded.Sender[0])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("chat")), encoded.TagsMatchAtLeastOne[0])
	assert.Nil(t, encoded.GroupID)

	// The original is untouched.
	assert.Equal(t, "bob.example.com", params.Sender[0])
}

func seedNotes(t *testing.T, c *core.Client) map[string]string {
	t.Helper()
	ctx := context.Background()

	files := map[string]string{}
	for title, meta := range map[string]core.AppFileMetaData{
		"alpha": {FileType: 100, Tags: []string{"chat", "pinned"}, UniqueID: "u-alpha"},
		"beta":  {FileType: 100, Tags: []string{"chat"}, GroupID: "thread-1"},
		"gamma": {FileType: 200, Tags: []string{"archive"}, GroupID: "thread-1"},
	} {
		result, err := drive.UploadContent(ctx, c, noteCodec, drive.ContentFile[note]{
			TargetDrive: notesDrive,
			ACL:         connectedACL,
			AppData:     meta,
			Content:     note{Title: title},
		}, nil)
		require.NoError(t, err)
		files[title] = result.File.FileID
	}
	return files
}

func titlesOf(t *testing.T, c *core.Client, resp *drive.QueryBatchResponse) []string {
	t.Helper()
	var out []string
	for i := range resp.SearchResults {
		_, got, err := drive.GetContent(context.Background(), c, noteCodec, notesDrive, resp.SearchResults[i].FileID)
		require.NoError(t, err)
		out = append(out, got.Title)
	}
	return out
}

func TestQueryBatch_TagFilter(t *testing.T) {
	_, c := newHostAndClient(t, "alice.example.com")
	seedNotes(t, c)

	resp, err := drive.QueryBatch(context.Background(), c, drive.FileQueryParams{
		TargetDrive:         notesDrive,
		TagsMatchAtLeastOne: []string{"chat"},
	}, drive.ResultOptions{IncludeMetadataHeader: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, titlesOf(t, c, resp))
}

func TestQueryBatch_FileTypeAndGroupFilter(t *testing.T) {
	_, c := newHostAndClient(t, "alice.example.com")
	seedNotes(t, c)
	ctx := context.Background()

	resp, err := drive.QueryBatch(ctx, c, drive.FileQueryParams{
		TargetDrive: notesDrive,
		FileType:    []int{200},
	}, drive.ResultOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gamma"}, titlesOf(t, c, resp))

	resp, err = drive.QueryBatch(ctx, c, drive.FileQueryParams{
		TargetDrive: notesDrive,
		GroupID:     []string{"thread-1"},
	}, drive.ResultOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"beta", "gamma"}, titlesOf(t, c, resp))
}

func TestQueryBatch_Paging(t *testing.T) {
	_, c := newHostAndClient(t, "alice.example.com")
	files := seedNotes(t, c)
	ctx := context.Background()

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		resp, err := drive.QueryBatch(ctx, c, drive.FileQueryParams{TargetDrive: notesDrive},
			drive.ResultOptions{MaxRecords: 1, CursorState: cursor})
		require.NoError(t, err)
		require.Len(t, resp.SearchResults, 1)
		seen[resp.SearchResults[0].FileID] = true
		pages++

		if resp.CursorState == "" {
			break
		}
		cursor = resp.CursorState
	}

	assert.Equal(t, len(files), pages)
	assert.Len(t, seen, len(files))
}

func TestQueryBatch_HeaderOnlyStripsContent(t *testing.T) {
	_, c := newHostAndClient(t, "alice.example.com")
	seedNotes(t, c)

	resp, err := drive.QueryBatch(context.Background(), c, drive.FileQueryParams{
		TargetDrive: notesDrive,
	}, drive.ResultOptions{IncludeMetadataHeader: false})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SearchResults)
	for _, header := range resp.SearchResults {
		assert.Empty(t, header.FileMetadata.AppData.JSONContent)
	}

	resp, err = drive.QueryBatch(context.Background(), c, drive.FileQueryParams{
		TargetDrive: notesDrive,
	}, drive.ResultOptions{IncludeMetadataHeader: true})
	require.NoError(t, err)
	for _, header := range resp.SearchResults {
		assert.NotEmpty(t, header.FileMetadata.AppData.JSONContent)
	}
}

func TestQueryBatch_UniqueIDFilter(t *testing.T) {
	_, c := newHostAndClient(t, "alice.example.com")
	seedNotes(t, c)

	resp, err := drive.QueryBatch(context.Background(), c, drive.FileQueryParams{
		TargetDrive:              notesDrive,
		ClientUniqueIDAtLeastOne: []string{"u-alpha"},
	}, drive.ResultOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha"}, titlesOf(t, c, resp))
}

func TestQueryRecent(t *testing.T) {
	_, c := newHostAndClient(t, "alice.example.com")
	seedNotes(t, c)

	resp, err := drive.QueryRecent(context.Background(), c, drive.FileQueryParams{
		TargetDrive: notesDrive,
	}, drive.ResultOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.SearchResults, 3)
}

func TestGetFilesByTag(t *testing.T) {
	_, c := newHostAndClient(t, "alice.example.com")
	seedNotes(t, c)

	resp, err := drive.GetFilesByTag(context.Background(), c, notesDrive, "pinned", drive.ResultOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha"}, titlesOf(t, c, resp))
}
