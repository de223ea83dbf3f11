package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
)

func TestSessionAcquireEnforcesInFlightLimit(t *testing.T) {
	sess := &session{maxInFlight: 2, lastUsed: time.Now()}

	require.NoError(t, sess.acquire())
	require.NoError(t, sess.acquire())

	err := sess.acquire()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrBusy)

	sess.release()
	require.NoError(t, sess.acquire())
}

func TestSessionReleaseFreesSlot(t *testing.T) {
	sess := &session{maxInFlight: 1, lastUsed: time.Now()}
	require.NoError(t, sess.acquire())
	sess.release()
	assert.Equal(t, 0, sess.inFlight)
}
