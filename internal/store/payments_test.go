package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// getTestStore returns a Store for testing, or nil if DATABASE_URL isn't
// configured. Grounded on stronghold's getTestPool: tests skip cleanly
// rather than fail when no database is reachable.
func getTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Logf("could not connect to database: %v", err)
		return nil
	}
	return NewFromPool(pool)
}

// createTestTool registers a throwaway server and tool, since
// payment_records.tool_id references registered_tools.
func createTestTool(t *testing.T, s *Store) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	srv := &RegisteredServer{
		ServerID:        "test-" + uuid.New().String(),
		MCPOrigin:       "http://localhost:0/" + uuid.New().String(),
		ReceiverAddress: "0x0000000000000000000000000000000000000001",
		Status:          ServerStatusActive,
	}
	require.NoError(t, s.CreateServer(ctx, srv))
	tool := &RegisteredTool{ServerID: srv.ID, Name: "test-tool", InputSchema: []byte(`{}`)}
	require.NoError(t, s.UpsertTool(ctx, tool))
	return tool.ID
}

func TestCreateOrGetPaymentIsIdempotentOnSignature(t *testing.T) {
	s := getTestStore(t)
	if s == nil {
		t.Skip("no database connection available")
	}
	ctx := context.Background()

	rec := &PaymentRecord{
		ToolID:        createTestTool(t, s),
		AmountRaw:     "100",
		TokenDecimals: 6,
		Currency:      "USDC",
		Network:       "base-sepolia",
		Signature:     "sig-" + uuid.New().String(),
	}

	first, created, err := s.CreateOrGetPayment(ctx, rec)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, PaymentStatusPending, first.Status)

	dup := &PaymentRecord{
		ToolID:        rec.ToolID,
		AmountRaw:     "100",
		TokenDecimals: 6,
		Currency:      "USDC",
		Network:       "base-sepolia",
		Signature:     rec.Signature,
	}
	second, created, err := s.CreateOrGetPayment(ctx, dup)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestCompletePaymentRequiresPendingState(t *testing.T) {
	s := getTestStore(t)
	if s == nil {
		t.Skip("no database connection available")
	}
	ctx := context.Background()

	rec := &PaymentRecord{
		ToolID:        createTestTool(t, s),
		AmountRaw:     "50",
		TokenDecimals: 6,
		Currency:      "USDC",
		Network:       "base-sepolia",
		Signature:     "sig-" + uuid.New().String(),
	}
	_, _, err := s.CreateOrGetPayment(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, s.CompletePayment(ctx, rec.ID, "0xabc"))

	// Second completion attempt must fail: the record is now terminal.
	err = s.CompletePayment(ctx, rec.ID, "0xdef")
	require.Error(t, err)
}
