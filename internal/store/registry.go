package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ServerStatus is a RegisteredServer's lifecycle state.
type ServerStatus string

const (
	ServerStatusActive   ServerStatus = "active"
	ServerStatusInactive ServerStatus = "inactive"
)

// RegisteredServer is an upstream MCP server the gateway fronts (spec.md §3).
type RegisteredServer struct {
	ID              uuid.UUID
	ServerID        string // stable public identifier used in /mcp/{server_id}
	MCPOrigin       string
	ReceiverAddress string
	RequireAuth     bool
	AuthHeaders     map[string]string
	Status          ServerStatus
	CreatorID       *uuid.UUID
	CreatedAt       time.Time
}

// RegisteredTool is one tool exposed by a RegisteredServer.
type RegisteredTool struct {
	ID          uuid.UUID
	ServerID    uuid.UUID
	Name        string
	Description string
	InputSchema json.RawMessage
	IsMonetized bool
	Status      ServerStatus
	CreatedAt   time.Time
}

// PricingEntry prices one tool on one (network, asset) pair (spec.md §3).
// Invariant enforced at insert time: at most one active entry per tool per
// (network, asset_address).
type PricingEntry struct {
	ID                   uuid.UUID
	ToolID               uuid.UUID
	MaxAmountRequiredRaw string
	TokenDecimals        int32
	AssetAddress         string
	Network              string
	Active               bool
	CreatedAt            time.Time
}

// ErrDuplicateServerID is returned when registering a server_id that already exists.
var ErrDuplicateServerID = errors.New("server_id already registered")

// CreateServer registers srv. Unique on server_id.
func (s *Store) CreateServer(ctx context.Context, srv *RegisteredServer) error {
	headers, err := json.Marshal(srv.AuthHeaders)
	if err != nil {
		return fmt.Errorf("marshalling auth headers: %w", err)
	}

	query := `
		INSERT INTO registered_servers (
			server_id, mcp_origin, receiver_address, require_auth, auth_headers,
			status, creator_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = s.QueryRow(ctx, query,
		srv.ServerID, srv.MCPOrigin, srv.ReceiverAddress, srv.RequireAuth,
		headers, ServerStatusActive, srv.CreatorID,
	).Scan(&srv.ID, &srv.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateServerID
		}
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Status = ServerStatusActive
	return nil
}

const serverColumns = `id, server_id, mcp_origin, receiver_address, require_auth,
	auth_headers, status, creator_id, created_at`

func scanServerRow(row pgx.Row) (*RegisteredServer, error) {
	var srv RegisteredServer
	var headers []byte
	if err := row.Scan(
		&srv.ID, &srv.ServerID, &srv.MCPOrigin, &srv.ReceiverAddress,
		&srv.RequireAuth, &headers, &srv.Status, &srv.CreatorID, &srv.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &srv.AuthHeaders); err != nil {
			return nil, fmt.Errorf("unmarshalling auth headers: %w", err)
		}
	}
	return &srv, nil
}

// GetServerByServerID looks up a server by its public server_id.
func (s *Store) GetServerByServerID(ctx context.Context, serverID string) (*RegisteredServer, error) {
	query := `SELECT ` + serverColumns + ` FROM registered_servers WHERE server_id = $1`
	return scanServerRow(s.QueryRow(ctx, query, serverID))
}

// FindServer looks up an active server by its mcp_origin, for registration
// dedup (spec.md §4.10 "GET /api/servers/find").
func (s *Store) FindServer(ctx context.Context, mcpOrigin string) (*RegisteredServer, error) {
	query := `SELECT ` + serverColumns + ` FROM registered_servers WHERE mcp_origin = $1 AND status = $2`
	return scanServerRow(s.QueryRow(ctx, query, mcpOrigin, ServerStatusActive))
}

// UpsertTool inserts or updates a tool discovered for server by the ping
// ingestor, keyed on (server_id, name) as spec.md §3 requires.
func (s *Store) UpsertTool(ctx context.Context, tool *RegisteredTool) error {
	query := `
		INSERT INTO registered_tools (server_id, name, description, input_schema, is_monetized, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (server_id, name) DO UPDATE
		SET description = EXCLUDED.description, input_schema = EXCLUDED.input_schema
		RETURNING id, created_at, is_monetized, status
	`
	return s.QueryRow(ctx, query,
		tool.ServerID, tool.Name, tool.Description, tool.InputSchema,
		tool.IsMonetized, ServerStatusActive,
	).Scan(&tool.ID, &tool.CreatedAt, &tool.IsMonetized, &tool.Status)
}

// GetToolByName looks up a tool by (server_id, name).
func (s *Store) GetToolByName(ctx context.Context, serverID uuid.UUID, name string) (*RegisteredTool, error) {
	query := `
		SELECT id, server_id, name, description, input_schema, is_monetized, status, created_at
		FROM registered_tools WHERE server_id = $1 AND name = $2
	`
	var t RegisteredTool
	err := s.QueryRow(ctx, query, serverID, name).Scan(
		&t.ID, &t.ServerID, &t.Name, &t.Description, &t.InputSchema,
		&t.IsMonetized, &t.Status, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListToolsByServer returns every tool registered for server_id, for tools/list rewriting.
func (s *Store) ListToolsByServer(ctx context.Context, serverID uuid.UUID) ([]*RegisteredTool, error) {
	query := `
		SELECT id, server_id, name, description, input_schema, is_monetized, status, created_at
		FROM registered_tools WHERE server_id = $1
	`
	rows, err := s.Query(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer rows.Close()

	var out []*RegisteredTool
	for rows.Next() {
		var t RegisteredTool
		if err := rows.Scan(&t.ID, &t.ServerID, &t.Name, &t.Description, &t.InputSchema,
			&t.IsMonetized, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tool: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SetToolMonetized flips is_monetized, maintaining the invariant that it
// tracks whether an active PricingEntry exists (spec.md §3).
func (s *Store) SetToolMonetized(ctx context.Context, toolID uuid.UUID, monetized bool) error {
	return s.Exec(ctx, `UPDATE registered_tools SET is_monetized = $2 WHERE id = $1`, toolID, monetized)
}

// SetToolStatus transitions a tool between active and inactive, used by the
// ping reconciler when an upstream stops advertising a previously-known
// tool — the row and its pricing history are kept, not deleted.
func (s *Store) SetToolStatus(ctx context.Context, toolID uuid.UUID, status ServerStatus) error {
	return s.Exec(ctx, `UPDATE registered_tools SET status = $2 WHERE id = $1`, toolID, status)
}

// CreatePricingEntry adds a pricing entry, deactivating any existing active
// entry for the same (tool, network, asset_address) first so the one-active
// invariant (spec.md §3) never breaks.
func (s *Store) CreatePricingEntry(ctx context.Context, entry *PricingEntry) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning pricing transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE pricing_entries SET active = false
		WHERE tool_id = $1 AND network = $2 AND asset_address = $3 AND active = true
	`, entry.ToolID, entry.Network, entry.AssetAddress)
	if err != nil {
		return fmt.Errorf("deactivating prior pricing entry: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO pricing_entries (tool_id, max_amount_required_raw, token_decimals, asset_address, network, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, entry.ToolID, entry.MaxAmountRequiredRaw, entry.TokenDecimals, entry.AssetAddress, entry.Network, true,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting pricing entry: %w", err)
	}
	entry.Active = true

	// is_monetized ⇔ ∃ active PricingEntry (spec.md §3) — flip it in the
	// same transaction so a crash between the two statements can't leave
	// a priced tool still reporting free.
	_, err = tx.Exec(ctx, `UPDATE registered_tools SET is_monetized = true WHERE id = $1`, entry.ToolID)
	if err != nil {
		return fmt.Errorf("marking tool monetized: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing pricing transaction: %w", err)
	}
	return nil
}

// ListActivePricing returns every active pricing entry for a tool, ordered
// oldest-first — the base ordering the requirements builder refines
// (spec.md §4.5).
func (s *Store) ListActivePricing(ctx context.Context, toolID uuid.UUID) ([]*PricingEntry, error) {
	query := `
		SELECT id, tool_id, max_amount_required_raw, token_decimals, asset_address, network, active, created_at
		FROM pricing_entries
		WHERE tool_id = $1 AND active = true
		ORDER BY created_at ASC
	`
	rows, err := s.Query(ctx, query, toolID)
	if err != nil {
		return nil, fmt.Errorf("listing pricing entries: %w", err)
	}
	defer rows.Close()

	var out []*PricingEntry
	for rows.Next() {
		var p PricingEntry
		if err := rows.Scan(&p.ID, &p.ToolID, &p.MaxAmountRequiredRaw, &p.TokenDecimals,
			&p.AssetAddress, &p.Network, &p.Active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning pricing entry: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
