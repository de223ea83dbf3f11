package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentStatus is a PaymentRecord's lifecycle state (spec.md §3). Terminal
// states (completed, failed) are immutable — no transition leaves them.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRecord is one settled (or settling) payment against a tool call.
type PaymentRecord struct {
	ID              uuid.UUID
	ToolID          uuid.UUID
	UserID          *uuid.UUID
	AmountRaw       string // NUMERIC(38,0) as decimal string, never float64
	TokenDecimals   int32
	Currency        string
	Network         string
	TransactionHash *string
	Status          PaymentStatus
	Signature       string // unique-indexed; the raw X-PAYMENT header value
	CreatedAt       time.Time
	SettledAt       *time.Time
}

// CreateOrGetPayment inserts rec as pending, or — if rec.Signature already
// exists — returns the existing record unchanged. Grounded on stronghold's
// CreateOrGetPaymentTransaction: INSERT ... ON CONFLICT DO NOTHING
// RETURNING, falling back to a SELECT on conflict, so two concurrent
// requests presenting the same signature can never both "win" the insert.
func (s *Store) CreateOrGetPayment(ctx context.Context, rec *PaymentRecord) (*PaymentRecord, bool, error) {
	query := `
		INSERT INTO payment_records (
			tool_id, user_id, amount_raw, token_decimals, currency, network,
			status, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (signature) DO NOTHING
		RETURNING id, created_at
	`

	err := s.QueryRow(ctx, query,
		rec.ToolID, rec.UserID, rec.AmountRaw, rec.TokenDecimals, rec.Currency,
		rec.Network, PaymentStatusPending, rec.Signature,
	).Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, fetchErr := s.GetPaymentBySignature(ctx, rec.Signature)
			if fetchErr != nil {
				return nil, false, fmt.Errorf("fetching existing payment by signature: %w", fetchErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("inserting payment record: %w", err)
	}

	rec.Status = PaymentStatusPending
	return rec, true, nil
}

func scanPaymentRow(row pgx.Row) (*PaymentRecord, error) {
	var rec PaymentRecord
	err := row.Scan(
		&rec.ID, &rec.ToolID, &rec.UserID, &rec.AmountRaw, &rec.TokenDecimals,
		&rec.Currency, &rec.Network, &rec.TransactionHash, &rec.Status,
		&rec.Signature, &rec.CreatedAt, &rec.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

const paymentColumns = `id, tool_id, user_id, amount_raw, token_decimals, currency,
	network, transaction_hash, status, signature, created_at, settled_at`

// GetPaymentBySignature looks up a payment by its unique signature — the
// idempotency key the MCP proxy checks on every paid call.
func (s *Store) GetPaymentBySignature(ctx context.Context, signature string) (*PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE signature = $1`
	return scanPaymentRow(s.QueryRow(ctx, query, signature))
}

// GetPaymentByID looks up a payment by primary key.
func (s *Store) GetPaymentByID(ctx context.Context, id uuid.UUID) (*PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE id = $1`
	return scanPaymentRow(s.QueryRow(ctx, query, id))
}

// CompletePayment transitions a pending payment to completed, recording the
// settlement transaction hash. Conditional on status = pending so a retry
// race can never re-settle a terminal record (spec.md §8.1 monotonicity).
func (s *Store) CompletePayment(ctx context.Context, id uuid.UUID, txHash string) error {
	query := `
		UPDATE payment_records
		SET status = $2, transaction_hash = $3, settled_at = NOW()
		WHERE id = $1 AND status = $4
	`
	result, err := s.ExecResult(ctx, query, id, PaymentStatusCompleted, txHash, PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("completing payment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("complete payment failed: record %s not pending", id)
	}
	return nil
}

// FailPayment transitions a pending payment to failed.
func (s *Store) FailPayment(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE payment_records
		SET status = $2
		WHERE id = $1 AND status = $3
	`
	result, err := s.ExecResult(ctx, query, id, PaymentStatusFailed, PaymentStatusPending)
	if err != nil {
		return fmt.Errorf("failing payment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("fail payment failed: record %s not pending", id)
	}
	return nil
}

// ListStalePending returns pending payments older than olderThan, for the
// janitor to expire (spec.md §5,
// DESIGN.md Open Question on janitor interval).
func (s *Store) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE status = $1 AND created_at < NOW() - $2::interval
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := s.Query(ctx, query, PaymentStatusPending, fmt.Sprintf("%d seconds", int(olderThan.Seconds())), limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale pending payments: %w", err)
	}
	defer rows.Close()

	var out []*PaymentRecord
	for rows.Next() {
		rec, err := scanPaymentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stale payment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
