// Package store is the PostgreSQL persistence layer for registered servers,
// tools, pricing, payment records, wallets, and API keys (spec.md §3). It is
// grounded on stronghold's internal/db package: the same pool wrapper with
// timeout-bounded Query/QueryRow/Exec, the same cancel-on-Scan/Close Row and
// Rows wrappers, and the same conditional-UPDATE state-transition idiom
// applied here to PaymentRecord's pending/completed/failed lifecycle instead
// of stronghold's reserved/executing/settling pipeline.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultQueryTimeout bounds every query issued through Store so a wedged
// connection cannot hang a request indefinitely.
const DefaultQueryTimeout = 10 * time.Second

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Config configures the connection pool.
type Config struct {
	DatabaseURL string
	MaxConns    int32
}

// New opens a pool against cfg.DatabaseURL and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 20
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool, primarily for tests against a
// disposable test database.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases all pooled connections.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Exec runs a statement that returns no rows.
func (s *Store) Exec(ctx context.Context, sql string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}

// ExecResult runs a statement and returns its command tag, for
// RowsAffected-gated transition checks.
func (s *Store) ExecResult(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	return s.pool.Exec(ctx, sql, args...)
}

// cancelRow defers the timeout cancellation until Scan is called, since pgx
// defers reading the row until then.
type cancelRow struct {
	row    pgx.Row
	cancel context.CancelFunc
}

func (r *cancelRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	r.cancel()
	return err
}

// QueryRow runs a statement expected to return at most one row.
func (s *Store) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	return &cancelRow{row: s.pool.QueryRow(ctx, sql, args...), cancel: cancel}
}

type cancelRows struct {
	pgx.Rows
	cancel context.CancelFunc
}

func (r *cancelRows) Close() {
	r.Rows.Close()
	r.cancel()
}

// Query runs a statement that returns multiple rows. The caller must Close
// the result, which also releases the timeout context.
func (s *Store) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelRows{Rows: rows, cancel: cancel}, nil
}

// BeginTx starts a transaction for multi-statement writes (wallet creation
// and deactivation, pricing-entry creation).
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// HashKey returns the SHA-256 hex digest used to look up an ApiKey by its
// presented plaintext without ever storing the plaintext (spec.md §3 ApiKey).
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
