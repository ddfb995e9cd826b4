// Package hosttest runs an in-memory identity host implementing the drive
// and transit HTTP contract, so the SDK can be exercised end to end without
// a real deployment. State lives behind one mutex; version tags are fresh
// uuids per write, exactly like a real host.
package hosttest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/cryptox"
	"github.com/identhost/drivesync/keyheader"
)

type payloadBlock struct {
	bytes       []byte
	contentType string
}

type storedFile struct {
	header   core.FileHeader
	payloads map[string]payloadBlock
	thumbs   map[string]payloadBlock
}

type driveStore struct {
	name                string
	metadata            string
	allowAnonymousReads bool
	files               map[string]*storedFile
	byUniqueID          map[string]string
	inboxPending        int
}

// Host is one in-memory identity host.
type Host struct {
	identity     string
	sharedSecret []byte
	server       *httptest.Server

	mu             sync.Mutex
	drives         map[core.TargetDrive]*driveStore
	peers          map[string]*Host
	failRecipients map[string]bool
	hits           map[string]int
}

// New starts a host for the given identity. sharedSecret must match the
// client session's secret; pass nil for anonymous-only access.
func New(identity string, sharedSecret []byte) *Host {
	h := &Host{
		identity:       identity,
		sharedSecret:   sharedSecret,
		drives:         make(map[core.TargetDrive]*driveStore),
		peers:          make(map[string]*Host),
		failRecipients: make(map[string]bool),
		hits:           make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(h.countHits)

	r.Post("/drive/query/batch", h.handleQueryBatch)
	r.Post("/drive/query/recent", h.handleQueryRecent)
	r.Get("/drive/query/tag", h.handleQueryTag)
	r.Get("/drive/files/header", h.handleGetHeader)
	r.Get("/drive/files/payload", h.handleGetPayload)
	r.Get("/drive/files/thumb", h.handleGetThumb)
	r.Post("/drive/files/upload", h.handleUpload)
	r.Post("/drive/files/update", h.handleUpdate)
	r.Delete("/drive/files", h.handleDelete)
	r.Get("/drive/mgmt", h.handleListDrives)
	r.Post("/drive/mgmt/create", h.handleCreateDrive)
	r.Get("/drive/metadata/type", h.handleDrivesByType)

	r.Post("/transit/query/batch", h.handleTransitQueryBatch)
	r.Post("/transit/query/header", h.handleTransitHeader)
	r.Post("/transit/query/payload", h.handleTransitPayload)
	r.Post("/transit/query/thumb", h.handleTransitThumb)
	r.Post("/transit/query/metadata/type", h.handleTransitDrivesByType)
	r.Post("/transit/inbox/processor/process", h.handleProcessInbox)

	h.server = httptest.NewServer(r)
	return h
}

// URL is the host's API root, suitable for core.WithRoot.
func (h *Host) URL() string { return h.server.URL }

// Identity returns the host's identity name.
func (h *Host) Identity() string { return h.identity }

// Close shuts the host down.
func (h *Host) Close() { h.server.Close() }

// AddDrive provisions a drive.
func (h *Host) AddDrive(drive core.TargetDrive, name string, allowAnonymousReads bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensureDriveLocked(drive, name, "", allowAnonymousReads)
}

// AddPeer registers another host as reachable over transit.
func (h *Host) AddPeer(peer *Host) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[peer.identity] = peer
}

// FailRecipient makes every delivery to the given identity fail at the
// enqueue stage.
func (h *Host) FailRecipient(identity string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failRecipients[identity] = true
}

// RequestCount reports how many requests hit the given path.
func (h *Host) RequestCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

// StoredHeader returns a copy of a stored file's header for assertions.
func (h *Host) StoredHeader(drive core.TargetDrive, fileID string) (core.FileHeader, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ds, ok := h.drives[drive]
	if !ok {
		return core.FileHeader{}, false
	}
	f, ok := ds.files[fileID]
	if !ok {
		return core.FileHeader{}, false
	}
	return f.header, true
}

// StoredPayload returns the stored (possibly ciphertext) bytes of one
// payload block.
func (h *Host) StoredPayload(drive core.TargetDrive, fileID, key string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ds, ok := h.drives[drive]
	if !ok {
		return nil, false
	}
	f, ok := ds.files[fileID]
	if !ok {
		return nil, false
	}
	block, ok := f.payloads[key]
	if !ok {
		return nil, false
	}
	return block.bytes, true
}

func (h *Host) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.hits[r.URL.Path]++
		h.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (h *Host) ensureDriveLocked(drive core.TargetDrive, name, metadata string, allowAnonymousReads bool) *driveStore {
	ds, ok := h.drives[drive]
	if !ok {
		ds = &driveStore{
			name:                name,
			metadata:            metadata,
			allowAnonymousReads: allowAnonymousReads,
			files:               make(map[string]*storedFile),
			byUniqueID:          make(map[string]string),
		}
		h.drives[drive] = ds
	}
	return ds
}

func newVersionTag() string { return uuid.NewString() }

type secretEnvelope struct {
	Iv   keyheader.ByteArray `json:"iv"`
	Data keyheader.ByteArray `json:"data"`
}

// decodeBody reads a JSON request, unwrapping the session envelope when the
// client encrypted it.
func (h *Host) decodeBody(r *http.Request, out any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	if len(h.sharedSecret) > 0 {
		var env secretEnvelope
		if err := json.Unmarshal(body, &env); err == nil && len(env.Iv) == 16 && len(env.Data) > 0 {
			plain, err := cryptox.DecryptCBC(env.Data, env.Iv, h.sharedSecret)
			if err != nil {
				return fmt.Errorf("unwrapping request envelope: %w", err)
			}
			body = plain
		}
	}
	return json.Unmarshal(body, out)
}

// writeJSON answers with a session-enveloped JSON body when a shared secret
// is configured, mirroring real host behavior.
func (h *Host) writeJSON(w http.ResponseWriter, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if len(h.sharedSecret) > 0 {
		iv := cryptox.RandomBytes(16)
		data, err := cryptox.EncryptCBC(payload, iv, h.sharedSecret)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		payload, _ = json.Marshal(secretEnvelope{Iv: iv, Data: data})
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

// writeError answers with the plain JSON error shape clients parse.
func writeError(w http.ResponseWriter, status int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"errorCode": errorCode,
		"message":   message,
	})
}

// rewrapKeyHeader re-encrypts a key envelope from one session secret to
// another, as the relay does when serving another identity's files.
func rewrapKeyHeader(ekh *keyheader.EncryptedKeyHeader, fromSecret, toSecret []byte) (*keyheader.EncryptedKeyHeader, error) {
	if ekh == nil {
		return nil, nil
	}
	kh, err := keyheader.Decrypt(fromSecret, ekh)
	if err != nil {
		return nil, err
	}
	return keyheader.Encrypt(toSecret, *kh, cryptox.RandomBytes(16))
}
