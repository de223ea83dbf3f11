// Package tokenregistry is the process-wide static table mapping
// (network, asset address) to token metadata, and the sole place base-unit
// <-> human-decimal conversion happens (spec.md §4.1). All amount
// arithmetic elsewhere operates on base units; this package is the only
// caller-facing boundary where a human decimal string appears.
package tokenregistry

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnknownToken is returned by Lookup on a miss. Callers must tolerate it:
// the Requirements Builder still emits a requirement for an unknown token,
// it just skips stablecoin-aware ordering for that entry (spec.md §8).
var ErrUnknownToken = errors.New("unknown token")

// TokenInfo describes one (network, asset) pair.
type TokenInfo struct {
	Network      string
	Address      string
	Symbol       string
	Decimals     int32
	IsStablecoin bool
	LogoURI      string
}

// Registry is an immutable-after-construction token table. Constructed once
// at process bootstrap via New and passed down explicitly — no package-level
// init() and no global Registry; the package-level seed table is only read
// by New (DESIGN NOTES §9 "Global state").
type Registry struct {
	byKey map[string]TokenInfo
}

func key(network, address string) string {
	return network + "|" + strings.ToLower(address)
}

// New builds the registry from the built-in seed table. Callers that need
// additional tokens (e.g. a devnet deployment) can pass extras.
func New(extras ...TokenInfo) *Registry {
	r := &Registry{byKey: make(map[string]TokenInfo, len(seed)+len(extras))}
	for _, t := range seed {
		r.byKey[key(t.Network, t.Address)] = t
	}
	for _, t := range extras {
		r.byKey[key(t.Network, t.Address)] = t
	}
	return r
}

// Lookup returns the token metadata for (network, address), or
// ErrUnknownToken on a miss.
func (r *Registry) Lookup(network, address string) (TokenInfo, error) {
	t, ok := r.byKey[key(network, address)]
	if !ok {
		return TokenInfo{}, ErrUnknownToken
	}
	return t, nil
}

// ToBaseUnits converts a human decimal amount (e.g. "1.50") into the integer
// base-unit string for a token with the given decimals (e.g. "1500000" at
// 6 decimals). Arbitrary precision throughout — never float64.
func ToBaseUnits(human string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(human)
	if err != nil {
		return "", err
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return "", errors.New("amount has more fractional digits than the token supports")
	}
	return scaled.Truncate(0).String(), nil
}

// FromBaseUnits converts an integer base-unit string back into a human
// decimal string for display only.
func FromBaseUnits(base string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(base)
	if err != nil {
		return "", err
	}
	return d.Shift(-decimals).String(), nil
}

// seed is the built-in token table: USDC and WETH across the networks this
// gateway targets by default.
var seed = []TokenInfo{
	{
		Network:      "base-sepolia",
		Address:      "0x036CbD53842c5426634E7929541eC2318f3dCF7e",
		Symbol:       "USDC",
		Decimals:     6,
		IsStablecoin: true,
	},
	{
		Network:      "base",
		Address:      "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Symbol:       "USDC",
		Decimals:     6,
		IsStablecoin: true,
	},
	{
		Network:      "eip155:1",
		Address:      "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Symbol:       "USDC",
		Decimals:     6,
		IsStablecoin: true,
	},
	{
		Network:  "base",
		Address:  "0x4200000000000000000000000000000000000006",
		Symbol:   "WETH",
		Decimals: 18,
	},
}
