package payments

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
)

// staleGrace is added to a requirement's max_timeout_seconds before a
// pending record is expired (spec.md §4.6: "expires pending records older
// than max_timeout_seconds + 60s").
const staleGrace = 60 * time.Second

// Janitor periodically expires pending payment records that were never
// settled — left behind when an upstream tool call errored after Verify
// succeeded (spec.md §4.6 ordering note: "the record remains in pending").
// Grounded on the teacher's reaper-style background goroutine shape used by
// internal/upstream's Pool.
type Janitor struct {
	Store    *store.Store
	Interval time.Duration
	MaxAge   time.Duration // typically defaultMaxTimeoutSeconds + staleGrace
	Logger   *slog.Logger

	stop chan struct{}
}

// Run starts the janitor loop; call Stop to end it.
func (j *Janitor) Run(ctx context.Context) {
	if j.Interval <= 0 {
		j.Interval = 30 * time.Second
	}
	if j.MaxAge <= 0 {
		j.MaxAge = 60*time.Second + staleGrace
	}
	if j.Logger == nil {
		j.Logger = slog.Default()
	}
	j.stop = make(chan struct{})

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// Stop ends the janitor loop started by Run.
func (j *Janitor) Stop() {
	if j.stop != nil {
		close(j.stop)
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	stale, err := j.Store.ListStalePending(ctx, j.MaxAge, 100)
	if err != nil {
		j.Logger.Error("janitor: listing stale pending payments", "error", err)
		return
	}
	for _, rec := range stale {
		if err := j.Store.FailPayment(ctx, rec.ID); err != nil {
			j.Logger.Warn("janitor: expiring stale payment", "payment_id", rec.ID, "error", err)
			continue
		}
		j.Logger.Info("janitor: expired stale pending payment", "payment_id", rec.ID, "tool_id", rec.ToolID)
	}
}
