// Package requirements builds the ordered PaymentRequirements list the
// gateway advertises in a 402 response and hands to the facilitator
// (spec.md §4.5). It is pure: no I/O, no locking — a straight transform
// over already-loaded pricing rows, in the spirit of the teacher's
// LocalFacilitator helpers which keep signature math free of side effects.
package requirements

import (
	"sort"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/tokenregistry"
)

// PaymentRequirements is one acceptable way to pay for a tool call.
type PaymentRequirements struct {
	Scheme            string
	Network           string
	MaxAmountRequired string
	Resource          string
	Description       string
	MimeType          string
	PayTo             string
	MaxTimeoutSeconds int
	Asset             string
	ExtraName         string
	ExtraVersion      string
}

// defaultMaxTimeoutSeconds is used when a pricing entry doesn't carry its
// own timeout override (none of the fields in store.PricingEntry do today,
// so this is the single value used throughout — spec.md §4.5 names it but
// leaves the exact figure to the implementation).
const defaultMaxTimeoutSeconds = 60

// Build produces the ordered, non-empty requirements list for tool, or nil
// if the tool has no active pricing (it is free — spec.md §4.5 "Payments
// Core is bypassed").
func Build(
	registry *tokenregistry.Registry,
	entries []*store.PricingEntry,
	resource, description, payTo, preferredNetwork string,
) ([]PaymentRequirements, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	out := make([]PaymentRequirements, 0, len(entries))
	for _, e := range entries {
		// An unknown (network, asset) still gets a requirement — spec.md
		// §8's unknown-token case only skips stablecoin-aware sorting for
		// that entry, it never drops the entry (internal/tokenregistry's
		// ErrUnknownToken doc makes the same call).
		req := PaymentRequirements{
			Scheme:            "exact",
			Network:           e.Network,
			MaxAmountRequired: e.MaxAmountRequiredRaw,
			Resource:          resource,
			Description:       description,
			MimeType:          "",
			PayTo:             payTo,
			MaxTimeoutSeconds: defaultMaxTimeoutSeconds,
			Asset:             e.AssetAddress,
		}
		if info, err := registry.Lookup(e.Network, e.AssetAddress); err == nil {
			req.ExtraName = info.Symbol
			req.ExtraVersion = "2"
		}
		out = append(out, req)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]

		if preferredNetwork != "" && (a.Network == preferredNetwork) != (b.Network == preferredNetwork) {
			return a.Network == preferredNetwork
		}

		aUSDC, bUSDC := isUSDC(registry, a), isUSDC(registry, b)
		if aUSDC != bUSDC {
			return aUSDC
		}

		aBase, bBase := a.Network == "base", b.Network == "base"
		if aBase != bBase {
			return aBase
		}

		// Fall through to created_at ascending, carried by entries' original
		// order (entries is already created_at-ascending from the store).
		return false
	})

	return out, nil
}

func isUSDC(registry *tokenregistry.Registry, r PaymentRequirements) bool {
	info, err := registry.Lookup(r.Network, r.Asset)
	if err != nil {
		return false
	}
	return info.IsStablecoin && info.Symbol == "USDC"
}
