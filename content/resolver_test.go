package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/cryptox"
	"github.com/identhost/drivesync/keyheader"
)

type note struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func testSecret() []byte {
	return []byte("0123456789abcdef")
}

// encryptedHeader builds a file header whose inline content is ciphertext
// under a fresh key header, wrapped with the session secret.
func encryptedHeader(t *testing.T, secret []byte, content any, complete bool) (*core.FileHeader, keyheader.KeyHeader) {
	t.Helper()

	kh := keyheader.New()
	ekh, err := keyheader.Encrypt(secret, kh, cryptox.RandomBytes(16))
	require.NoError(t, err)

	header := &core.FileHeader{
		FileID:                         "file-1",
		SharedSecretEncryptedKeyHeader: ekh,
		FileMetadata: core.FileMetadata{
			IsEncrypted: true,
			AppData:     core.AppFileMetaData{ContentIsComplete: complete},
		},
	}
	if complete {
		serialized, err := json.Marshal(content)
		require.NoError(t, err)
		ciphertext, err := cryptox.EncryptCBC(serialized, kh.Iv, kh.AesKey)
		require.NoError(t, err)
		header.FileMetadata.AppData.JSONContent = base64.StdEncoding.EncodeToString(ciphertext)
	}
	return header, kh
}

func TestResolve_InlineUnencrypted(t *testing.T) {
	serialized, _ := json.Marshal(note{Title: "hi", Body: "there"})
	header := &core.FileHeader{
		FileMetadata: core.FileMetadata{
			AppData: core.AppFileMetaData{
				ContentIsComplete: true,
				JSONContent:       string(serialized),
			},
		},
	}

	got, err := Resolve(context.Background(), nil, header, JSONCodec[note](), nil, true)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Title)
}

func TestResolve_InlineEncrypted(t *testing.T) {
	secret := testSecret()
	header, _ := encryptedHeader(t, secret, note{Title: "secret", Body: "stuff"}, true)

	got, err := Resolve(context.Background(), secret, header, JSONCodec[note](), nil, true)
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Title)
	assert.Equal(t, "stuff", got.Body)
}

func TestResolve_PayloadPathEncrypted(t *testing.T) {
	secret := testSecret()
	header, kh := encryptedHeader(t, secret, nil, false)

	serialized, _ := json.Marshal(note{Title: "big", Body: "payload"})
	ciphertext, err := cryptox.EncryptCBC(serialized, kh.Iv, kh.AesKey)
	require.NoError(t, err)

	var fetchedKey string
	fetch := func(ctx context.Context, key string) ([]byte, error) {
		fetchedKey = key
		return ciphertext, nil
	}

	got, err := Resolve(context.Background(), secret, header, JSONCodec[note](), fetch, true)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultPayloadKey, fetchedKey)
	assert.Equal(t, "big", got.Title)
}

func TestResolve_HeaderOnlyListingFetchesPayload(t *testing.T) {
	// A listing without metadata headers has the jsonContent stripped even
	// for embedded files, so resolution must go through the fetcher.
	secret := testSecret()
	header, kh := encryptedHeader(t, secret, note{Title: "inline"}, true)

	serialized, _ := json.Marshal(note{Title: "from payload"})
	ciphertext, err := cryptox.EncryptCBC(serialized, kh.Iv, kh.AesKey)
	require.NoError(t, err)
	fetch := func(ctx context.Context, key string) ([]byte, error) { return ciphertext, nil }

	got, err := Resolve(context.Background(), secret, header, JSONCodec[note](), fetch, false)
	require.NoError(t, err)
	assert.Equal(t, "from payload", got.Title)
}

func TestResolve_NoFetcherForPayloadContent(t *testing.T) {
	header := &core.FileHeader{
		FileID:       "file-2",
		FileMetadata: core.FileMetadata{AppData: core.AppFileMetaData{ContentIsComplete: false}},
	}

	_, err := Resolve(context.Background(), nil, header, JSONCodec[note](), nil, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file-2")
}

func TestParse_RecoversFromControlCharacters(t *testing.T) {
	// Corrupted legacy content carries stray U+0019/U+0014 bytes that break
	// strict JSON parsing until the recovery pass strips them.
	corrupted := []byte("\x19{\"title\":\"ok\"\x14}")

	got, err := parse(JSONCodec[note](), corrupted)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Title)
}

func TestParse_UnrecoverableContent(t *testing.T) {
	_, err := parse(JSONCodec[note](), []byte("not json at all"))
	require.ErrorIs(t, err, ErrContentParse)
}

func TestResolveBatch_SkipsCorruptItems(t *testing.T) {
	good, _ := json.Marshal(note{Title: "good"})
	headers := []core.FileHeader{
		{
			FileID: "good-file",
			FileMetadata: core.FileMetadata{AppData: core.AppFileMetaData{
				ContentIsComplete: true, JSONContent: string(good),
			}},
		},
		{
			FileID: "corrupt-file",
			FileMetadata: core.FileMetadata{AppData: core.AppFileMetaData{
				ContentIsComplete: true, JSONContent: "###",
			}},
		},
	}

	var skipped []string
	out := ResolveBatch(context.Background(), nil, headers, JSONCodec[note](), nil, true,
		func(header *core.FileHeader, err error) {
			skipped = append(skipped, header.FileID)
			assert.True(t, errors.Is(err, ErrContentParse))
		})

	require.Len(t, out, 1)
	assert.Equal(t, "good-file", out[0].Header.FileID)
	assert.Equal(t, "good", out[0].Content.Title)
	assert.Equal(t, []string{"corrupt-file"}, skipped)
}
