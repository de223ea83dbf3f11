package mcpproxy

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/facilitator"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/requirements"
)

func TestErrorResponseCarriesCategoryStatusCode(t *testing.T) {
	resp := errorResponse(json.RawMessage("1"), errs.ErrUnderpayment)
	require.NotNil(t, resp.Error)
	assert.Equal(t, errs.CategoryClientFault.StatusCode()*-1, resp.Error.Code)
	assert.Equal(t, errs.CategoryClientFault.StatusCode(), resp.httpStatus)
}

func TestPaymentRequiredResponseUsesReservedCode(t *testing.T) {
	reqList := []requirements.PaymentRequirements{{Network: "base-sepolia", MaxAmountRequired: "100"}}
	resp := paymentRequiredResponse(json.RawMessage("1"), reqList)

	require.NotNil(t, resp.Error)
	assert.Equal(t, PaymentRequiredCode, resp.Error.Code)
	assert.Equal(t, http.StatusPaymentRequired, resp.httpStatus)

	data, ok := resp.Error.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1, data["x402Version"])
}

func TestEncodeSettlementProducesValidBase64JSON(t *testing.T) {
	result := &facilitator.SettleResult{Success: true, TransactionHash: "0xabc", Network: "base-sepolia"}
	encoded, err := encodeSettlement(result)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	var wire settlementWire
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.True(t, wire.Success)
	assert.Equal(t, "0xabc", wire.Transaction)
}
