package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
)

func TestAuthenticateFailsWithoutHeader(t *testing.T) {
	a := &Authenticator{}
	req := httptest.NewRequest(http.MethodPost, "/mcp/srv1", nil)

	_, err := a.Authenticate(req.Context(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMissingAPIKey)
}

func TestIssueSessionReturnsEmptyWithoutSecret(t *testing.T) {
	a := &Authenticator{}
	token, err := a.IssueSession(&store.ApiKey{ID: uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestIssueSessionAndVerifySessionRoundTrip(t *testing.T) {
	a := &Authenticator{JWTSecret: []byte("0123456789abcdef0123456789abcdef")}
	key := &store.ApiKey{ID: uuid.New()}

	token, err := a.IssueSession(key)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	apiKeyID, ok := a.verifySession(token)
	require.True(t, ok)
	assert.Equal(t, key.ID.String(), apiKeyID)
}

func TestVerifySessionRejectsGarbageToken(t *testing.T) {
	a := &Authenticator{JWTSecret: []byte("0123456789abcdef0123456789abcdef")}
	_, ok := a.verifySession("not-a-jwt")
	assert.False(t, ok)
}
