package payments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/facilitator"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/paymentcodec"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/requirements"
)

func TestSelectMatchingRequirementRejectsNetworkMismatch(t *testing.T) {
	header := paymentcodec.Header{Network: "base"}
	reqList := []requirements.PaymentRequirements{{Network: "base-sepolia"}}

	_, err := selectMatchingRequirement(header, reqList)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNoMatchingRequirement)
}

func TestSelectMatchingRequirementFindsAlignedNetwork(t *testing.T) {
	header := paymentcodec.Header{Network: "base"}
	reqList := []requirements.PaymentRequirements{
		{Network: "base-sepolia"},
		{Network: "base", MaxAmountRequired: "100"},
	}

	matched, err := selectMatchingRequirement(header, reqList)
	require.NoError(t, err)
	assert.Equal(t, "base", matched.Network)
}

func TestUnderpaidRejectsValueBelowRequired(t *testing.T) {
	assert.True(t, underpaid("50", "100"))
	assert.False(t, underpaid("100", "100"))
	assert.False(t, underpaid("150", "100"))
}

func TestUnderpaidTreatsUnparsableAmountsAsUnderpaid(t *testing.T) {
	assert.True(t, underpaid("not-a-number", "100"))
}

func TestClassifyInvalidReasonMapsKnownReasons(t *testing.T) {
	assert.ErrorIs(t, classifyInvalidReason("expired"), errs.ErrExpiredAuthorization)
	assert.ErrorIs(t, classifyInvalidReason("wrong_network"), errs.ErrWrongNetwork)
	assert.ErrorIs(t, classifyInvalidReason("underpayment"), errs.ErrUnderpayment)
	assert.ErrorIs(t, classifyInvalidReason("signature_mismatch"), errs.ErrMalformedPayment)
}

func TestFakeFacilitatorSettleSucceedsForFreshNonce(t *testing.T) {
	fake := facilitator.NewFakeClient()
	header := paymentcodec.Header{
		Network: "base-sepolia",
		Payload: paymentcodec.Payload{
			Authorization: paymentcodec.Authorization{Nonce: "0x" + repeatDigit("1", 64)},
		},
	}
	req := toFacilitatorRequirements(requirements.PaymentRequirements{Network: "base-sepolia"})

	result, err := fake.Settle(context.Background(), header, req)
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestToFacilitatorRequirementsPreservesFields(t *testing.T) {
	r := requirements.PaymentRequirements{
		Scheme: "exact", Network: "base", MaxAmountRequired: "100",
		PayTo: "0x1", MaxTimeoutSeconds: 60, Asset: "0xusdc",
		ExtraName: "USD Coin", ExtraVersion: "2",
	}
	out := toFacilitatorRequirements(r)
	assert.Equal(t, r.Scheme, out.Scheme)
	assert.Equal(t, r.Network, out.Network)
	assert.Equal(t, r.MaxAmountRequired, out.MaxAmountRequired)
	assert.Equal(t, r.Asset, out.Asset)
	assert.Equal(t, r.PayTo, out.PayTo)
}

func repeatDigit(s string, n int) string {
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, s...)
	}
	return string(out[:n])
}
