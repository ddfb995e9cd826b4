// Package keyheader implements the per-file key envelope of the drive
// protocol. Every encrypted file carries a KeyHeader (a symmetric key plus
// IV) which is itself encrypted with the session's shared secret for
// transport, producing an EncryptedKeyHeader.
package keyheader

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/identhost/drivesync/cryptox"
)

const (
	// SupportedVersion is the only key-header encryption version this
	// client understands. Anything else means protocol skew.
	SupportedVersion = 1

	// cipherTypeAesCbc is the wire code for the AES-CBC cipher suite.
	cipherTypeAesCbc = 11

	keySize = 16
	ivSize  = 16
)

var (
	// ErrMissingSharedSecret means an operation that needs the session's
	// shared secret was attempted without one (unauthenticated caller).
	ErrMissingSharedSecret = errors.New("no shared secret available")

	// ErrUnsupportedVersion means the envelope's encryptionVersion is not
	// SupportedVersion.
	ErrUnsupportedVersion = errors.New("unsupported key header encryption version")
)

// KeyHeader is the per-file symmetric key material. It is generated once
// when a file is first uploaded and reused on every subsequent update, so
// payload blocks encrypted under it stay valid.
type KeyHeader struct {
	Iv     []byte
	AesKey []byte
}

// New generates a fresh random KeyHeader.
func New() KeyHeader {
	return KeyHeader{
		Iv:     cryptox.RandomBytes(ivSize),
		AesKey: cryptox.RandomBytes(keySize),
	}
}

// Equal reports whether two key headers hold the same key material.
func (k KeyHeader) Equal(other KeyHeader) bool {
	return bytes.Equal(k.Iv, other.Iv) && bytes.Equal(k.AesKey, other.AesKey)
}

// EncryptedKeyHeader is the transport form of a KeyHeader: iv||aesKey
// encrypted with the shared secret under a fresh transfer IV.
type EncryptedKeyHeader struct {
	EncryptionVersion int       `json:"encryptionVersion"`
	Type              int       `json:"type"`
	Iv                ByteArray `json:"iv"`
	EncryptedAesKey   ByteArray `json:"encryptedAesKey"`
}

// Encrypt wraps kh for transport: it concatenates iv||aesKey and encrypts
// the 32-byte result with sharedSecret under transferIv.
func Encrypt(sharedSecret []byte, kh KeyHeader, transferIv []byte) (*EncryptedKeyHeader, error) {
	if len(sharedSecret) == 0 {
		return nil, ErrMissingSharedSecret
	}

	combined := make([]byte, 0, len(kh.Iv)+len(kh.AesKey))
	combined = append(combined, kh.Iv...)
	combined = append(combined, kh.AesKey...)

	encrypted, err := cryptox.EncryptCBC(combined, transferIv, sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("encrypting key header: %w", err)
	}

	return &EncryptedKeyHeader{
		EncryptionVersion: SupportedVersion,
		Type:              cipherTypeAesCbc,
		Iv:                ByteArray(transferIv),
		EncryptedAesKey:   ByteArray(encrypted),
	}, nil
}

// Decrypt unwraps an EncryptedKeyHeader using the session's shared secret.
// It fails with ErrUnsupportedVersion on protocol skew and with
// ErrMissingSharedSecret when no shared secret is supplied.
func Decrypt(sharedSecret []byte, ekh *EncryptedKeyHeader) (*KeyHeader, error) {
	if ekh == nil {
		return nil, errors.New("nil encrypted key header")
	}
	if ekh.EncryptionVersion != SupportedVersion {
		return nil, fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, ekh.EncryptionVersion)
	}
	if len(sharedSecret) == 0 {
		return nil, ErrMissingSharedSecret
	}

	combined, err := cryptox.DecryptCBC(ekh.EncryptedAesKey, ekh.Iv, sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("decrypting key header: %w", err)
	}
	if len(combined) != ivSize+keySize {
		return nil, fmt.Errorf("%w: key header plaintext is %d bytes, want %d",
			cryptox.ErrDecryption, len(combined), ivSize+keySize)
	}

	return &KeyHeader{
		Iv:     combined[:ivSize],
		AesKey: combined[ivSize:],
	}, nil
}

// Encode64 serializes the envelope to base64-encoded JSON, the form the
// server inlines in payload response headers.
func (e *EncryptedKeyHeader) Encode64() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode64 parses a base64-encoded JSON envelope as produced by Encode64.
func Decode64(s string) (*EncryptedKeyHeader, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding key header envelope: %w", err)
	}
	var ekh EncryptedKeyHeader
	if err := json.Unmarshal(raw, &ekh); err != nil {
		return nil, fmt.Errorf("parsing key header envelope: %w", err)
	}
	return &ekh, nil
}
