// Package registry is the Tool/Server Registry read path (spec.md §4.10):
// a small in-process TTL cache in front of internal/store, keyed by
// server_id, so the MCP Proxy's hot path doesn't round-trip to Postgres on
// every request. The ping ingestor invalidates a server's entry directly
// after a refresh; catalog writes (new tools, pricing entries) do not
// invalidate and become visible once the cached entry's TTL runs out.
//
// Grounded on stronghold's handlers package, which invalidates its account
// cache synchronously on every mutating request rather than relying on TTL
// expiry alone.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
)

// DefaultTTL is how long a cached entry is served before a fresh DB read
// (spec.md §4.10 default 60s).
const DefaultTTL = 60 * time.Second

// Entry bundles a server with its tools and their active pricing, the
// shape the MCP Proxy needs to service a request without further queries.
type Entry struct {
	Server  *store.RegisteredServer
	Tools   map[string]*store.RegisteredTool // keyed by tool name
	Pricing map[uuid.UUID][]*store.PricingEntry
}

type cached struct {
	entry     *Entry
	expiresAt time.Time
}

// Registry is a read-through, write-invalidated cache over internal/store.
type Registry struct {
	store *store.Store
	ttl   time.Duration

	mu   sync.RWMutex
	byID map[string]cached // server_id -> entry
}

// New builds a Registry backed by s, caching entries for ttl (DefaultTTL if
// zero or negative).
func New(s *store.Store, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{store: s, ttl: ttl, byID: make(map[string]cached)}
}

// Get returns the Entry for serverID, serving from cache when fresh and
// falling back to the store otherwise.
func (r *Registry) Get(ctx context.Context, serverID string) (*Entry, error) {
	r.mu.RLock()
	c, ok := r.byID[serverID]
	r.mu.RUnlock()
	if ok && time.Now().Before(c.expiresAt) {
		return c.entry, nil
	}

	entry, err := r.load(ctx, serverID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byID[serverID] = cached{entry: entry, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return entry, nil
}

func (r *Registry) load(ctx context.Context, serverID string) (*Entry, error) {
	srv, err := r.store.GetServerByServerID(ctx, serverID)
	if err != nil {
		return nil, err
	}

	tools, err := r.store.ListToolsByServer(ctx, srv.ID)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		Server:  srv,
		Tools:   make(map[string]*store.RegisteredTool, len(tools)),
		Pricing: make(map[uuid.UUID][]*store.PricingEntry, len(tools)),
	}
	for _, t := range tools {
		if t.Status != store.ServerStatusActive {
			continue
		}
		entry.Tools[t.Name] = t
		if t.IsMonetized {
			pricing, err := r.store.ListActivePricing(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			entry.Pricing[t.ID] = pricing
		}
	}
	return entry, nil
}

// Invalidate drops the cached entry for serverID; the ping ingestor calls it
// after a reconciliation (spec.md §4.10 write path).
func (r *Registry) Invalidate(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, serverID)
}

// FindByOrigin supports idempotent registration: same mcp_origin and an
// active record already on file returns that record (spec.md §4.10).
func (r *Registry) FindByOrigin(ctx context.Context, mcpOrigin string) (*store.RegisteredServer, error) {
	return r.store.FindServer(ctx, mcpOrigin)
}
