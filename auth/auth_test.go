package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSharedSecret_Deterministic(t *testing.T) {
	password := []byte("correct horse battery staple")
	salt := []byte("frodo.example.com")

	a := DeriveSharedSecret(password, salt)
	b := DeriveSharedSecret(password, salt)

	assert.Len(t, a, SharedSecretSize)
	assert.Equal(t, a, b, "same inputs must derive the same secret")
}

func TestDeriveSharedSecret_DifferentSalts(t *testing.T) {
	password := []byte("correct horse battery staple")

	a := DeriveSharedSecret(password, []byte("frodo.example.com"))
	b := DeriveSharedSecret(password, []byte("sam.example.com"))

	assert.NotEqual(t, a, b)
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return s
}

func TestInspectToken(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	s := signedToken(t, jwt.MapClaims{
		"sub": "app-session-42",
		"iss": "frodo.example.com",
		"exp": exp.Unix(),
	})

	info, err := InspectToken(s)
	require.NoError(t, err)
	assert.Equal(t, "app-session-42", info.Subject)
	assert.Equal(t, "frodo.example.com", info.Identity)
	assert.Equal(t, exp.Unix(), info.ExpiresAt.Unix())

	assert.True(t, info.ExpiresWithin(time.Hour))
	assert.False(t, info.ExpiresWithin(time.Minute))
}

func TestInspectToken_NoExpiry(t *testing.T) {
	s := signedToken(t, jwt.MapClaims{"sub": "x"})

	info, err := InspectToken(s)
	require.NoError(t, err)
	assert.True(t, info.ExpiresAt.IsZero())
	assert.False(t, info.ExpiresWithin(100*365*24*time.Hour))
}

func TestInspectToken_Malformed(t *testing.T) {
	_, err := InspectToken("not-a-token")
	require.ErrorIs(t, err, ErrMalformedToken)
}
