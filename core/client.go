// Package core provides the capability handle every drive and transit
// operation takes as its first argument: an identity's API root, the
// session's shared secret and access token, and the HTTP plumbing that
// transparently encrypts session traffic.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/identhost/drivesync/cryptox"
	"github.com/identhost/drivesync/internal/logging"
	"github.com/identhost/drivesync/keyheader"
)

// AccessTokenHeader carries the session token on every request.
const AccessTokenHeader = "X-Access-Token"

// Response headers on raw payload and thumbnail fetches.
const (
	HeaderDecryptedContentType    = "DecryptedContentType"
	HeaderPayloadEncrypted        = "PayloadEncrypted"
	HeaderSharedSecretEncHeader64 = "SharedSecretEncryptedHeader64"
)

// Client is the capability handle for one identity's API. It holds no
// durable state; the shared secret lives only in memory for the session.
type Client struct {
	identity     string
	root         string
	sharedSecret []byte
	accessToken  string
	httpClient   *http.Client
	log          logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRoot overrides the API root URL (no trailing slash), e.g. a test
// server address. The default is https://<identity>/api/v1.
func WithRoot(root string) Option {
	return func(c *Client) { c.root = strings.TrimSuffix(root, "/") }
}

// WithSharedSecret installs the session's shared secret. Without it the
// client can only read anonymous content and cannot encrypt uploads.
func WithSharedSecret(secret []byte) Option {
	return func(c *Client) { c.sharedSecret = secret }
}

// WithAccessToken installs the session's access token.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.accessToken = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger installs a structured logger. The default discards everything.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the given identity (e.g. "frodo.example.com").
func New(identity string, opts ...Option) *Client {
	c := &Client{
		identity:   identity,
		root:       "https://" + identity + "/api/v1",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the identity this client talks to.
func (c *Client) Identity() string { return c.identity }

// SharedSecret returns the session's shared secret, or nil when the caller
// is unauthenticated.
func (c *Client) SharedSecret() []byte { return c.sharedSecret }

// Logger returns the client's logger.
func (c *Client) Logger() logging.Logger { return c.log }

// secretEnvelope is the outer transport-encryption wrapper applied to JSON
// POST bodies and host responses whenever a shared secret is present.
type secretEnvelope struct {
	Iv   keyheader.ByteArray `json:"iv"`
	Data keyheader.ByteArray `json:"data"`
}

// PostJSON sends a JSON body to path and decodes the JSON response into out
// (out may be nil). When a shared secret is present the body is wrapped as
// {iv, data} encrypted under the shared secret, and enveloped responses are
// unwrapped transparently.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", path, err)
	}

	if len(c.sharedSecret) > 0 {
		iv := cryptox.RandomBytes(16)
		data, err := cryptox.EncryptCBC(payload, iv, c.sharedSecret)
		if err != nil {
			return fmt.Errorf("encrypting request for %s: %w", path, err)
		}
		payload, err = json.Marshal(secretEnvelope{Iv: iv, Data: data})
		if err != nil {
			return fmt.Errorf("encoding request envelope for %s: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.root+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, _, err := c.do(req)
	if err != nil {
		return err
	}
	return c.decodeJSON(raw, out)
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.urlFor(path, query), nil)
	if err != nil {
		return err
	}

	raw, _, err := c.do(req)
	if err != nil {
		return err
	}
	return c.decodeJSON(raw, out)
}

// RawResponse is the undecoded result of a payload or thumbnail fetch.
type RawResponse struct {
	Bytes            []byte
	ContentType      string
	PayloadEncrypted bool

	// EncryptedKeyHeader is present when the host inlined the file's
	// encrypted key header instead of requiring a separate header fetch.
	EncryptedKeyHeader *keyheader.EncryptedKeyHeader
}

// Decrypt returns the response plaintext. When kh is nil it falls back to
// the inlined encrypted key header (unwrapped with sharedSecret); when the
// payload is not encrypted the bytes are returned as is.
func (r *RawResponse) Decrypt(sharedSecret []byte, kh *keyheader.KeyHeader) ([]byte, error) {
	if kh == nil {
		if !r.PayloadEncrypted {
			return r.Bytes, nil
		}
		if r.EncryptedKeyHeader == nil {
			return nil, fmt.Errorf("%w: payload is encrypted and no key header is available", cryptox.ErrDecryption)
		}
		decrypted, err := keyheader.Decrypt(sharedSecret, r.EncryptedKeyHeader)
		if err != nil {
			return nil, err
		}
		kh = decrypted
	}
	return cryptox.DecryptCBC(r.Bytes, kh.Iv, kh.AesKey)
}

// GetRaw performs a GET returning the raw bytes plus the decrypt-relevant
// response headers.
func (c *Client) GetRaw(ctx context.Context, path string, query url.Values) (*RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.urlFor(path, query), nil)
	if err != nil {
		return nil, err
	}
	return c.doRaw(req)
}

// PostRaw sends a JSON body and returns the raw response, used by the
// transit payload and thumbnail endpoints.
func (c *Client) PostRaw(ctx context.Context, path string, body any) (*RawResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request for %s: %w", path, err)
	}

	if len(c.sharedSecret) > 0 {
		iv := cryptox.RandomBytes(16)
		data, err := cryptox.EncryptCBC(payload, iv, c.sharedSecret)
		if err != nil {
			return nil, fmt.Errorf("encrypting request for %s: %w", path, err)
		}
		payload, err = json.Marshal(secretEnvelope{Iv: iv, Data: data})
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.root+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRaw(req)
}

// MultipartPart is one part of a multipart upload body.
type MultipartPart struct {
	Name        string // "instructions", "metaData", "payload", "thumbnail"
	FileName    string // payload key or thumbnail key, empty for JSON parts
	ContentType string
	Data        []byte
}

// PostMultipart uploads the given parts and decodes the JSON response into
// out. Multipart bodies are not wrapped in the secret envelope; encrypted
// parts are already ciphertext under per-file keys.
func (c *Client) PostMultipart(ctx context.Context, path string, parts []MultipartPart, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, part := range parts {
		hdr := make(textproto.MIMEHeader)
		disposition := fmt.Sprintf(`form-data; name=%q`, part.Name)
		if part.FileName != "" {
			disposition = fmt.Sprintf(`form-data; name=%q; filename=%q`, part.Name, part.FileName)
		}
		hdr.Set("Content-Disposition", disposition)
		if part.ContentType != "" {
			hdr.Set("Content-Type", part.ContentType)
		}
		pw, err := w.CreatePart(hdr)
		if err != nil {
			return err
		}
		if _, err := pw.Write(part.Data); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.root+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	raw, _, err := c.do(req)
	if err != nil {
		return err
	}
	return c.decodeJSON(raw, out)
}

// Delete performs a DELETE with query parameters. It returns false without
// an error when the target does not exist.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.urlFor(path, query), nil)
	if err != nil {
		return false, err
	}

	_, status, err := c.do(req)
	if err != nil {
		if status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) urlFor(path string, query url.Values) string {
	u := c.root + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	if c.accessToken != "" {
		req.Header.Set(AccessTokenHeader, c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if err := statusError(resp.StatusCode, body); err != nil {
		c.log.Debug(req.Context(), "request failed",
			"method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) doRaw(req *http.Request) (*RawResponse, error) {
	if c.accessToken != "" {
		req.Header.Set(AccessTokenHeader, c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return nil, err
	}

	out := &RawResponse{
		Bytes:            body,
		ContentType:      resp.Header.Get(HeaderDecryptedContentType),
		PayloadEncrypted: strings.EqualFold(resp.Header.Get(HeaderPayloadEncrypted), "true"),
	}
	if out.ContentType == "" {
		out.ContentType = resp.Header.Get("Content-Type")
	}
	if enc := resp.Header.Get(HeaderSharedSecretEncHeader64); enc != "" {
		ekh, err := keyheader.Decode64(enc)
		if err != nil {
			return nil, err
		}
		out.EncryptedKeyHeader = ekh
	}
	return out, nil
}

// decodeJSON unwraps an enveloped response when needed, then unmarshals.
func (c *Client) decodeJSON(body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}

	if len(c.sharedSecret) > 0 {
		var env secretEnvelope
		if err := json.Unmarshal(body, &env); err == nil && len(env.Iv) == 16 && len(env.Data) > 0 {
			plain, err := cryptox.DecryptCBC(env.Data, env.Iv, c.sharedSecret)
			if err != nil {
				return fmt.Errorf("decrypting response envelope: %w", err)
			}
			body = plain
		}
	}
	return json.Unmarshal(body, out)
}

func statusError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrUnauthorized
	}

	var apiErr apiErrorBody
	_ = json.Unmarshal(body, &apiErr)
	if apiErr.ErrorCode == ErrorCodeVersionTagMismatch {
		return ErrVersionConflict
	}
	if apiErr.Message != "" {
		return fmt.Errorf("host returned %d: %s", status, apiErr.Message)
	}
	return fmt.Errorf("host returned %d", status)
}
