package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identhost/drivesync/cryptox"
	"github.com/identhost/drivesync/keyheader"
)

func testSecret() []byte {
	return []byte("0123456789abcdef")
}

type echoRequest struct {
	Name string `json:"name"`
}

func TestPostJSON_WrapsAndUnwrapsEnvelope(t *testing.T) {
	secret := testSecret()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env secretEnvelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		require.Len(t, []byte(env.Iv), 16, "request body must be enveloped")

		plain, err := cryptox.DecryptCBC(env.Data, env.Iv, secret)
		require.NoError(t, err)

		var req echoRequest
		require.NoError(t, json.Unmarshal(plain, &req))
		assert.Equal(t, "frodo", req.Name)

		// Answer with an enveloped response.
		respPlain, _ := json.Marshal(map[string]string{"greeting": "hello " + req.Name})
		iv := cryptox.RandomBytes(16)
		data, err := cryptox.EncryptCBC(respPlain, iv, secret)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(secretEnvelope{Iv: iv, Data: data})
	}))
	defer server.Close()

	c := New("frodo.example.com", WithRoot(server.URL), WithSharedSecret(secret))

	var out struct {
		Greeting string `json:"greeting"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "/echo", echoRequest{Name: "frodo"}, &out))
	assert.Equal(t, "hello frodo", out.Greeting)
}

func TestPostJSON_PlainWithoutSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req echoRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "anon", req.Name)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer server.Close()

	c := New("frodo.example.com", WithRoot(server.URL))

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "/echo", echoRequest{Name: "anon"}, &out))
	assert.True(t, out.OK)
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", http.StatusNotFound, "", ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, "", ErrUnauthorized},
		{"forbidden", http.StatusForbidden, "", ErrUnauthorized},
		{"version conflict", http.StatusBadRequest,
			`{"errorCode":"versionTagMismatch","message":"stale"}`, ErrVersionConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := New("frodo.example.com", WithRoot(server.URL))
			err := c.GetJSON(context.Background(), "/x", nil, &struct{}{})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGetRaw_ParsesDecryptHeaders(t *testing.T) {
	secret := testSecret()
	kh := keyheader.New()
	plaintext := []byte("payload body bytes")

	ciphertext, err := cryptox.EncryptCBC(plaintext, kh.Iv, kh.AesKey)
	require.NoError(t, err)
	ekh, err := keyheader.Encrypt(secret, kh, cryptox.RandomBytes(16))
	require.NoError(t, err)
	encoded, err := ekh.Encode64()
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderDecryptedContentType, "application/json")
		w.Header().Set(HeaderPayloadEncrypted, "True")
		w.Header().Set(HeaderSharedSecretEncHeader64, encoded)
		_, _ = w.Write(ciphertext)
	}))
	defer server.Close()

	c := New("frodo.example.com", WithRoot(server.URL), WithSharedSecret(secret))
	raw, err := c.GetRaw(context.Background(), "/payload", url.Values{"key": {"dflt_key"}})
	require.NoError(t, err)

	assert.Equal(t, "application/json", raw.ContentType)
	assert.True(t, raw.PayloadEncrypted)
	require.NotNil(t, raw.EncryptedKeyHeader)

	// Decrypt via the inlined key header.
	plain, err := raw.Decrypt(secret, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, plain)

	// Decrypt via an explicitly supplied key header.
	plain, err = raw.Decrypt(nil, &kh)
	require.NoError(t, err)
	assert.Equal(t, plaintext, plain)
}

func TestRawResponse_DecryptUnencryptedPassthrough(t *testing.T) {
	raw := &RawResponse{Bytes: []byte("clear"), PayloadEncrypted: false}
	plain, err := raw.Decrypt(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("clear"), plain)
}

func TestRawResponse_DecryptEncryptedWithoutHeaderFails(t *testing.T) {
	raw := &RawResponse{Bytes: []byte("cipher"), PayloadEncrypted: true}
	_, err := raw.Decrypt(testSecret(), nil)
	require.ErrorIs(t, err, cryptox.ErrDecryption)
}

func TestDelete_AbsentTargetIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New("frodo.example.com", WithRoot(server.URL))
	deleted, err := c.Delete(context.Background(), "/drive/files", nil)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestPostMultipart_PartsArriveNamed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, `{"a":1}`, r.MultipartForm.Value["instructions"][0])
		files := r.MultipartForm.File["payload"]
		require.Len(t, files, 1)
		assert.Equal(t, "dflt_key", files[0].Filename)
		assert.Equal(t, "application/octet-stream", files[0].Header.Get("Content-Type"))

		_ = json.NewEncoder(w).Encode(map[string]string{"newVersionTag": "v2"})
	}))
	defer server.Close()

	c := New("frodo.example.com", WithRoot(server.URL))
	parts := []MultipartPart{
		{Name: "instructions", ContentType: "application/json", Data: []byte(`{"a":1}`)},
		{Name: "payload", FileName: "dflt_key", ContentType: "application/octet-stream", Data: []byte{1, 2, 3}},
	}

	var out struct {
		NewVersionTag string `json:"newVersionTag"`
	}
	require.NoError(t, c.PostMultipart(context.Background(), "/upload", parts, &out))
	assert.Equal(t, "v2", out.NewVersionTag)
}

func TestAccessTokenHeaderIsSent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-123", r.Header.Get(AccessTokenHeader))
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer server.Close()

	c := New("frodo.example.com", WithRoot(server.URL), WithAccessToken("tok-123"))
	require.NoError(t, c.GetJSON(context.Background(), "/x", nil, &struct{}{}))
}
