package requirements

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/tokenregistry"
)

func pricingEntry(network, asset string, createdAt time.Time) *store.PricingEntry {
	return &store.PricingEntry{
		ID:                   uuid.New(),
		MaxAmountRequiredRaw: "100",
		TokenDecimals:        6,
		AssetAddress:         asset,
		Network:              network,
		Active:               true,
		CreatedAt:            createdAt,
	}
}

func TestBuildReturnsNilForFreeTool(t *testing.T) {
	out, err := Build(tokenregistry.New(), nil, "res", "desc", "0xpay", "base")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestBuildOrdersPreferredNetworkFirst(t *testing.T) {
	registry := tokenregistry.New()
	now := time.Now()
	entries := []*store.PricingEntry{
		pricingEntry("eip155:1", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", now),
		pricingEntry("base-sepolia", "0x036CbD53842c5426634E7929541eC2318f3dCF7e", now.Add(time.Second)),
	}

	out, err := Build(registry, entries, "res", "desc", "0xpay", "base-sepolia")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "base-sepolia", out[0].Network)
}

func TestBuildPrefersUSDCOverNonStablecoin(t *testing.T) {
	registry := tokenregistry.New()
	now := time.Now()
	entries := []*store.PricingEntry{
		pricingEntry("base", "0x4200000000000000000000000000000000000006", now),                  // WETH
		pricingEntry("base", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", now.Add(time.Second)), // USDC
	}

	out, err := Build(registry, entries, "res", "desc", "0xpay", "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "USDC", out[0].ExtraName)
}

func TestBuildStillEmitsEntryForUnknownToken(t *testing.T) {
	registry := tokenregistry.New()
	now := time.Now()
	entries := []*store.PricingEntry{
		pricingEntry("base", "0x000000000000000000000000000000000000dead", now), // not in the registry
	}

	out, err := Build(registry, entries, "res", "desc", "0xpay", "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "0x000000000000000000000000000000000000dead", out[0].Asset)
	assert.Empty(t, out[0].ExtraName)
	assert.Empty(t, out[0].ExtraVersion)
}

func TestBuildFallsBackToCreatedAtAscending(t *testing.T) {
	registry := tokenregistry.New()
	now := time.Now()
	first := pricingEntry("base-sepolia", "0x036CbD53842c5426634E7929541eC2318f3dCF7e", now)
	second := pricingEntry("base-sepolia", "0x036CbD53842c5426634E7929541eC2318f3dCF7e", now.Add(time.Second))

	out, err := Build(registry, []*store.PricingEntry{first, second}, "res", "desc", "0xpay", "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	// No rule distinguishes these two entries, so the stable sort preserves
	// the caller's created_at-ascending input order.
	assert.Equal(t, first.MaxAmountRequiredRaw, out[0].MaxAmountRequired)
}
