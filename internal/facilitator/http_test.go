package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
)

func TestHTTPClientVerifySendsRequestPerNetwork(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(1), body["x402Version"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"isValid": true,
			"payer":   "0xabc",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	h := testHeader("0x" + repeatChar("5", 64))
	req := Requirements{Network: "base-sepolia", Asset: "0xusdc"}

	result, err := client.Verify(context.Background(), h, req)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, "0xabc", result.Payer)
	assert.Equal(t, "/base-sepolia/verify", gotPath)
}

func TestHTTPClientSettleSurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success":     false,
			"errorReason": "insufficient_funds",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	h := testHeader("0x" + repeatChar("6", 64))
	req := Requirements{Network: "base-sepolia", Asset: "0xusdc"}

	result, err := client.Settle(context.Background(), h, req)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "insufficient_funds", result.ErrorReason)
}

func TestHTTPClientServerErrorIsFacilitatorUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	h := testHeader("0x" + repeatChar("7", 64))
	req := Requirements{Network: "base-sepolia", Asset: "0xusdc"}

	_, err := client.Verify(context.Background(), h, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrFacilitatorUnavailable)
}

func TestHTTPClientAttachesAuthHeaders(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"isValid": true})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL).WithAuthHeaders(func(ctx context.Context, method, path string) (map[string]string, error) {
		return map[string]string{"Authorization": "Bearer test-jwt"}, nil
	})

	h := testHeader("0x" + repeatChar("8", 64))
	req := Requirements{Network: "base-sepolia", Asset: "0xusdc"}
	_, err := client.Verify(context.Background(), h, req)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-jwt", gotHeader)
}
