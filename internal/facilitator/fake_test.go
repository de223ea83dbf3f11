package facilitator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/paymentcodec"
)

func testHeader(nonce string) paymentcodec.Header {
	return paymentcodec.Header{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload: paymentcodec.Payload{
			Signature: "0x" + repeatChar("a", 130),
			Authorization: paymentcodec.Authorization{
				From:        "0x" + repeatChar("1", 40),
				To:          "0x" + repeatChar("2", 40),
				Value:       "100",
				ValidAfter:  "0",
				ValidBefore: "9999999999",
				Nonce:       nonce,
			},
		},
	}
}

func repeatChar(s string, n int) string {
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, s...)
	}
	return string(out[:n])
}

func TestFakeClientSettleIsIdempotentOnNonce(t *testing.T) {
	f := NewFakeClient()
	h := testHeader("0x" + repeatChar("3", 64))
	req := Requirements{Network: "base-sepolia"}

	first, err := f.Settle(context.Background(), h, req)
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := f.Settle(context.Background(), h, req)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, "replay", second.ErrorReason)
	assert.Equal(t, first.TransactionHash, second.TransactionHash)
}

func TestFakeClientVerifyDefaultsToValid(t *testing.T) {
	f := NewFakeClient()
	h := testHeader("0x" + repeatChar("4", 64))

	result, err := f.Verify(context.Background(), h, Requirements{})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, h.Payload.Authorization.From, result.Payer)
}
