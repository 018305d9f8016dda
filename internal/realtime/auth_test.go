package realtime

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticator_Validate(t *testing.T) {
	auth := NewAuthenticator("topsecret")

	valid := signToken(t, "topsecret", jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	assert.NoError(t, auth.Validate(valid))
}

func TestAuthenticator_RejectsWrongSecret(t *testing.T) {
	auth := NewAuthenticator("topsecret")

	forged := signToken(t, "othersecret", jwt.MapClaims{"sub": "ops"})
	assert.Error(t, auth.Validate(forged))
}

func TestAuthenticator_RejectsExpired(t *testing.T) {
	auth := NewAuthenticator("topsecret")

	expired := signToken(t, "topsecret", jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	assert.Error(t, auth.Validate(expired))
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/realtime/ws", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", tokenFromRequest(r))

	r = httptest.NewRequest("GET", "/realtime/sse?token=def456", nil)
	assert.Equal(t, "def456", tokenFromRequest(r))

	r = httptest.NewRequest("GET", "/realtime/ws", nil)
	assert.Equal(t, "", tokenFromRequest(r))
}
