// Package catalog exposes the collaborator-boundary CRUD surface spec.md
// §6 names but leaves unspecified beyond request/response shapes:
// POST /api/servers, GET /api/servers/find, POST /api/servers/{id}/tools.
// Kept intentionally thin — it is a direct wrapper over internal/store and
// internal/registry, with no business logic of its own (spec.md §1's
// collaborator boundary).
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/registry"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
)

// Handler serves the catalog CRUD surface.
type Handler struct {
	Store    *store.Store
	Registry *registry.Registry
}

type createServerRequest struct {
	ServerID        string            `json:"serverId"`
	MCPOrigin       string            `json:"mcpOrigin"`
	ReceiverAddress string            `json:"receiverAddress"`
	RequireAuth     bool              `json:"requireAuth"`
	AuthHeaders     map[string]string `json:"authHeaders,omitempty"`
}

// CreateServer handles POST /api/servers.
func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrMalformedPayment)
		return
	}

	// Idempotent registration: an active server already on file for this
	// origin is returned as-is (spec.md §4.10 find_by_origin).
	if existing, err := h.Registry.FindByOrigin(r.Context(), req.MCPOrigin); err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}

	srv := &store.RegisteredServer{
		ServerID:        req.ServerID,
		MCPOrigin:       req.MCPOrigin,
		ReceiverAddress: req.ReceiverAddress,
		RequireAuth:     req.RequireAuth,
		AuthHeaders:     req.AuthHeaders,
	}
	if err := h.Store.CreateServer(r.Context(), srv); err != nil {
		if errors.Is(err, store.ErrDuplicateServerID) {
			writeError(w, fmt.Errorf("%w: %v", errs.ErrDuplicateRegistration, err))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

// FindServer handles GET /api/servers/find?mcpOrigin=….
func (h *Handler) FindServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	origin := r.URL.Query().Get("mcpOrigin")
	if origin == "" {
		writeError(w, errs.ErrMalformedPayment)
		return
	}

	srv, err := h.Registry.FindByOrigin(r.Context(), origin)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

type createToolRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// CreateTool handles POST /api/servers/{id}/tools.
func (h *Handler) CreateTool(w http.ResponseWriter, r *http.Request, serverID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := uuid.Parse(serverID)
	if err != nil {
		writeError(w, errs.ErrMalformedPayment)
		return
	}

	var req createToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrMalformedPayment)
		return
	}

	tool := &store.RegisteredTool{
		ServerID:    id,
		Name:        req.Name,
		Description: req.Description,
		InputSchema: req.InputSchema,
	}
	if err := h.Store.UpsertTool(r.Context(), tool); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tool)
}

type createPricingRequest struct {
	MaxAmountRequiredRaw string `json:"maxAmountRequiredRaw"`
	TokenDecimals        int32  `json:"tokenDecimals"`
	AssetAddress         string `json:"assetAddress"`
	Network              string `json:"network"`
}

// CreatePricingEntry handles POST /api/tools/{tool_id}/pricing
// — the write side of the registry's `is_monetized ⇔ ∃ active PricingEntry`
// invariant (spec.md §3); a tool has no way to start charging without it.
func (h *Handler) CreatePricingEntry(w http.ResponseWriter, r *http.Request, toolID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id, err := uuid.Parse(toolID)
	if err != nil {
		writeError(w, errs.ErrMalformedPayment)
		return
	}

	var req createPricingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.ErrMalformedPayment)
		return
	}

	entry := &store.PricingEntry{
		ToolID:               id,
		MaxAmountRequiredRaw: req.MaxAmountRequiredRaw,
		TokenDecimals:        req.TokenDecimals,
		AssetAddress:         req.AssetAddress,
		Network:              req.Network,
	}
	if err := h.Store.CreatePricingEntry(r.Context(), entry); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	cat := errs.CategoryOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(cat.StatusCode())
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
