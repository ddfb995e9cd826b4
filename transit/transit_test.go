package transit_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identhost/drivesync/content"
	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/cryptox"
	"github.com/identhost/drivesync/drive"
	"github.com/identhost/drivesync/internal/hosttest"
	"github.com/identhost/drivesync/transit"
)

type chatMessage struct {
	Text string `json:"text"`
}

var chatCodec = content.JSONCodec[chatMessage]()

var chatDrive = core.TargetDrive{
	Alias: "1b2c3d4e5f60718293a4b5c6d7e8f901",
	Type:  "fedcba98765432100123456789abcdef",
}

// twoIdentities wires up alice and bob as mutual peers and returns a client
// per identity.
func twoIdentities(t *testing.T) (aliceHost, bobHost *hosttest.Host, alice, bob *core.Client) {
	t.Helper()

	mk := func(identity string) (*hosttest.Host, *core.Client) {
		secret := cryptox.RandomBytes(16)
		host := hosttest.New(identity, secret)
		t.Cleanup(host.Close)
		host.AddDrive(chatDrive, "chat", false)
		c := core.New(identity,
			core.WithRoot(host.URL()),
			core.WithSharedSecret(secret),
			core.WithAccessToken("test-token"))
		return host, c
	}

	aliceHost, alice = mk("alice.example.com")
	bobHost, bob = mk("bob.example.com")
	aliceHost.AddPeer(bobHost)
	bobHost.AddPeer(aliceHost)
	return aliceHost, bobHost, alice, bob
}

func uploadChat(t *testing.T, c *core.Client, msg chatMessage) *drive.UploadResult {
	t.Helper()
	result, err := drive.UploadContent(context.Background(), c, chatCodec, drive.ContentFile[chatMessage]{
		TargetDrive: chatDrive,
		ACL:         core.AccessControlList{RequiredSecurityGroup: core.SecurityGroupConnected},
		Content:     msg,
	}, nil)
	require.NoError(t, err)
	return result
}

func TestGetFileHeaderOverTransit_RewrapsKeyHeader(t *testing.T) {
	_, _, alice, bob := twoIdentities(t)
	ctx := context.Background()

	uploaded := uploadChat(t, bob, chatMessage{Text: "hi alice"})

	header, err := transit.GetFileHeaderOverTransit(ctx, alice, nil,
		"bob.example.com", chatDrive, uploaded.File.FileID)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.True(t, header.FileMetadata.IsEncrypted)
	assert.Nil(t, header.ServerMetadata, "server metadata never crosses identities")

	// The relayed envelope must open under alice's session secret even
	// though the file was written under bob's.
	kh, err := header.DecryptKeyHeader(alice.SharedSecret())
	require.NoError(t, err)
	require.NotNil(t, kh)

	got, err := content.Resolve(ctx, alice.SharedSecret(), header, chatCodec, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "hi alice", got.Text)
}

func TestGetFileHeaderOverTransit_CachesHits(t *testing.T) {
	aliceHost, _, alice, bob := twoIdentities(t)
	ctx := context.Background()

	uploaded := uploadChat(t, bob, chatMessage{Text: "cached"})
	cache := transit.NewHeaderCache()

	first, err := transit.GetFileHeaderOverTransit(ctx, alice, cache,
		"bob.example.com", chatDrive, uploaded.File.FileID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, aliceHost.RequestCount("/transit/query/header"))

	second, err := transit.GetFileHeaderOverTransit(ctx, alice, cache,
		"bob.example.com", chatDrive, uploaded.File.FileID)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, aliceHost.RequestCount("/transit/query/header"),
		"a cache hit must not go back to the wire")
	assert.Equal(t, 1, cache.Len())
}

func TestGetFileHeaderOverTransit_MissesNotCached(t *testing.T) {
	aliceHost, _, alice, _ := twoIdentities(t)
	ctx := context.Background()
	cache := transit.NewHeaderCache()

	header, err := transit.GetFileHeaderOverTransit(ctx, alice, cache,
		"bob.example.com", chatDrive, "no-such-file")
	require.NoError(t, err)
	assert.Nil(t, header)
	assert.Equal(t, 0, cache.Len())

	_, err = transit.GetFileHeaderOverTransit(ctx, alice, cache,
		"bob.example.com", chatDrive, "no-such-file")
	require.NoError(t, err)
	assert.Equal(t, 2, aliceHost.RequestCount("/transit/query/header"),
		"misses are retried, not cached")
}

func TestGetPayloadBytesOverTransit(t *testing.T) {
	_, _, alice, bob := twoIdentities(t)
	ctx := context.Background()

	msg := chatMessage{Text: strings.Repeat("long message ", 400)}
	uploaded := uploadChat(t, bob, msg)

	payload, err := transit.GetPayloadBytesOverTransit(ctx, alice,
		"bob.example.com", chatDrive, uploaded.File.FileID, core.DefaultPayloadKey)
	require.NoError(t, err)
	require.NotNil(t, payload)

	serialized, _ := json.Marshal(msg)
	assert.Equal(t, serialized, payload.Bytes)
	assert.Equal(t, "application/json", payload.ContentType)

	missing, err := transit.GetPayloadBytesOverTransit(ctx, alice,
		"bob.example.com", chatDrive, uploaded.File.FileID, "no-such-key")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestQueryBatchOverTransit(t *testing.T) {
	_, _, alice, bob := twoIdentities(t)
	ctx := context.Background()

	uploadChat(t, bob, chatMessage{Text: "one"})
	uploadChat(t, bob, chatMessage{Text: "two"})

	resp, err := transit.QueryBatchOverTransit(ctx, alice, "bob.example.com",
		drive.FileQueryParams{TargetDrive: chatDrive},
		drive.ResultOptions{IncludeMetadataHeader: true})
	require.NoError(t, err)
	require.Len(t, resp.SearchResults, 2)

	// Every relayed result resolves under alice's session.
	resolved := content.ResolveBatch(ctx, alice.SharedSecret(), resp.SearchResults,
		chatCodec, nil, true, nil)
	require.Len(t, resolved, 2)

	texts := []string{resolved[0].Content.Text, resolved[1].Content.Text}
	assert.ElementsMatch(t, []string{"one", "two"}, texts)
}

func TestResolveOverTransitPayloadFetcher(t *testing.T) {
	_, _, alice, bob := twoIdentities(t)
	ctx := context.Background()

	msg := chatMessage{Text: strings.Repeat("spilled ", 600)}
	uploaded := uploadChat(t, bob, msg)

	header, err := transit.GetFileHeaderOverTransit(ctx, alice, nil,
		"bob.example.com", chatDrive, uploaded.File.FileID)
	require.NoError(t, err)
	require.False(t, header.FileMetadata.AppData.ContentIsComplete)

	fetch := transit.PayloadFetcherFor(alice, "bob.example.com", chatDrive, uploaded.File.FileID)
	got, err := content.Resolve(ctx, alice.SharedSecret(), header, chatCodec, fetch, true)
	require.NoError(t, err)
	assert.Equal(t, msg.Text, got.Text)
}

func TestGetDrivesByTypeOverTransit(t *testing.T) {
	_, _, alice, _ := twoIdentities(t)

	drives, err := transit.GetDrivesByTypeOverTransit(context.Background(), alice,
		"bob.example.com", chatDrive.Type)
	require.NoError(t, err)
	require.Len(t, drives, 1)
	assert.Equal(t, chatDrive, drives[0].TargetDriveInfo)
}

func TestProcessInbox_DrainsDeliveries(t *testing.T) {
	_, _, alice, bob := twoIdentities(t)
	ctx := context.Background()

	// Bob sends two messages to alice.
	for _, text := range []string{"first", "second"} {
		_, err := drive.UploadContent(ctx, bob, chatCodec, drive.ContentFile[chatMessage]{
			TargetDrive: chatDrive,
			ACL:         core.AccessControlList{RequiredSecurityGroup: core.SecurityGroupConnected},
			Content:     chatMessage{Text: text},
			Recipients:  []string{"alice.example.com"},
		}, nil)
		require.NoError(t, err)
	}

	processed, err := transit.ProcessInbox(ctx, alice, chatDrive)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	// Draining is destructive: a second pass finds nothing.
	processed, err = transit.ProcessInbox(ctx, alice, chatDrive)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	// The delivered files are now queryable locally.
	resp, err := drive.QueryBatch(ctx, alice, drive.FileQueryParams{TargetDrive: chatDrive}, drive.ResultOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.SearchResults, 2)
}
