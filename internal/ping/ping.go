// Package ping implements POST /ping (spec.md §4.12): an authenticated SDK
// heartbeat that reconciles an upstream's current tool list with the Tool
// Registry. New tools are created free/inactive-pricing; tools no longer
// advertised are marked inactive; pricing on tools that survive is left
// untouched.
package ping

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/registry"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/upstream"
)

// Request is the POST /ping body: the server_id this heartbeat is for, a
// set of candidate MCP origins the SDK detected, plus arbitrary platform
// metadata the collaborator catalog may want to record (not interpreted
// here beyond DetectedURLs).
type Request struct {
	ServerID     string                 `json:"serverId"`
	DetectedURLs []string               `json:"detectedUrls"`
	PlatformEnv  map[string]interface{} `json:"platformEnv,omitempty"`
}

// Response reports which origin was reachable and how reconciliation went.
type Response struct {
	ReachableURL string `json:"reachableUrl,omitempty"`
	ToolsAdded   int    `json:"toolsAdded"`
	ToolsRemoved int    `json:"toolsRemoved"`
	Error        string `json:"error,omitempty"`
}

// Ingestor reconciles a server's live tool list against the registry.
type Ingestor struct {
	Store    *store.Store
	Upstream *upstream.Pool
	Registry *registry.Registry
}

// Reconcile picks the first reachable URL in req.DetectedURLs, lists its
// tools over MCP, and reconciles that list with server's registered tools.
func (ing *Ingestor) Reconcile(ctx context.Context, server *store.RegisteredServer, req Request) (Response, error) {
	var resp Response

	origin, err := ing.firstReachable(ctx, server, req.DetectedURLs)
	if err != nil {
		return Response{Error: err.Error()}, err
	}
	resp.ReachableURL = origin

	cfg := upstream.ServerConfig{
		ServerID:    server.ServerID,
		MCPOrigin:   origin,
		RequireAuth: server.RequireAuth,
		AuthHeaders: server.AuthHeaders,
	}
	listResult, err := ing.Upstream.ListTools(ctx, cfg)
	if err != nil {
		return Response{Error: err.Error()}, fmt.Errorf("listing upstream tools: %w", err)
	}

	live := make(map[string]struct{}, len(listResult.Tools))
	for _, t := range listResult.Tools {
		live[t.Name] = struct{}{}

		schema, marshalErr := json.Marshal(t.InputSchema)
		if marshalErr != nil {
			schema = json.RawMessage(`{}`)
		}

		existing, lookupErr := ing.Store.GetToolByName(ctx, server.ID, t.Name)
		isNew := lookupErr != nil
		tool := &store.RegisteredTool{
			ServerID:    server.ID,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
			Status:      store.ServerStatusActive,
		}
		if !isNew {
			tool.IsMonetized = existing.IsMonetized // preserve pricing state
		}
		if err := ing.Store.UpsertTool(ctx, tool); err != nil {
			return Response{Error: err.Error()}, fmt.Errorf("upserting tool %s: %w", t.Name, err)
		}
		if isNew {
			resp.ToolsAdded++
		}
	}

	existingTools, err := ing.Store.ListToolsByServer(ctx, server.ID)
	if err != nil {
		return Response{Error: err.Error()}, fmt.Errorf("listing registered tools: %w", err)
	}
	for _, t := range existingTools {
		if _, stillLive := live[t.Name]; !stillLive && t.Status == store.ServerStatusActive {
			if err := ing.Store.SetToolStatus(ctx, t.ID, store.ServerStatusInactive); err != nil {
				return Response{Error: err.Error()}, err
			}
			resp.ToolsRemoved++
		}
	}

	if ing.Registry != nil {
		ing.Registry.Invalidate(server.ServerID)
	}
	return resp, nil
}

func (ing *Ingestor) firstReachable(ctx context.Context, server *store.RegisteredServer, urls []string) (string, error) {
	for _, base := range urls {
		origin := base + "/mcp"
		cfg := upstream.ServerConfig{
			ServerID:    server.ServerID + ":probe",
			MCPOrigin:   origin,
			RequireAuth: server.RequireAuth,
			AuthHeaders: server.AuthHeaders,
		}
		if err := ing.Upstream.Ping(ctx, cfg); err == nil {
			return origin, nil
		}
	}
	return "", fmt.Errorf("no reachable MCP origin among %d candidates", len(urls))
}

// ServeHTTP wires Reconcile to POST /ping. The caller is expected to have
// already authenticated the request via middleware; the target server is
// resolved here from the body's serverId field (spec.md §4.12 "authenticated SDK
// instance").
func (ing *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.ServerID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	server, err := ing.Store.GetServerByServerID(r.Context(), req.ServerID)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	resp, err := ing.Reconcile(r.Context(), server, req)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusBadGateway)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
