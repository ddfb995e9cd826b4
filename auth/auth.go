// Package auth holds the session helpers around the drive SDK: deriving
// the session's shared secret from credentials and inspecting access
// tokens. Token verification is the host's job; the client only needs the
// claims to warn about imminent expiry.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

// SharedSecretSize is the size of the session's shared secret, matching
// the AES key size used by the key-header envelope.
const SharedSecretSize = 16

// ErrMalformedToken means the access token is not a parseable JWT.
var ErrMalformedToken = errors.New("malformed access token")

// DeriveSharedSecret stretches a password and per-identity salt into the
// session's shared secret using argon2id.
func DeriveSharedSecret(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, SharedSecretSize)
}

// TokenInfo is the subset of access-token claims the client cares about.
type TokenInfo struct {
	Subject   string
	Identity  string
	ExpiresAt time.Time
}

// InspectToken parses an access token without verifying its signature and
// returns its claims.
func InspectToken(token string) (*TokenInfo, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	info := &TokenInfo{}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		info.Identity = iss
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}

// ExpiresWithin reports whether the token expires inside the given window.
// Tokens without an expiry never expire.
func (t *TokenInfo) ExpiresWithin(window time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(t.ExpiresAt) < window
}
