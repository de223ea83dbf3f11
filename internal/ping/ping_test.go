package ping

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/upstream"
)

func TestFirstReachableFailsWhenNoURLResponds(t *testing.T) {
	ing := &Ingestor{Upstream: upstream.New(0, 0)}
	defer ing.Upstream.Close()

	server := &store.RegisteredServer{ServerID: "srv1"}
	_, err := ing.firstReachable(context.Background(), server, []string{"http://127.0.0.1:0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no reachable MCP origin")
}

func TestServeHTTPRejectsMissingServerID(t *testing.T) {
	ing := &Ingestor{}
	req := httptest.NewRequest(http.MethodPost, "/ping", strings.NewReader(`{"detectedUrls":["http://x"]}`))
	w := httptest.NewRecorder()

	ing.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeHTTPRejectsMalformedBody(t *testing.T) {
	ing := &Ingestor{}
	req := httptest.NewRequest(http.MethodPost, "/ping", strings.NewReader("not json"))
	w := httptest.NewRecorder()

	ing.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
