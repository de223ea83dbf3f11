// Package facilitator talks to the external x402 facilitator service that
// verifies and settles payment authorizations (spec.md §4.3), or, when
// configured for self-hosted settlement, submits the EIP-3009
// transferWithAuthorization transaction directly.
package facilitator

import (
	"context"
	"errors"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/paymentcodec"
)

// Requirements is the subset of a PaymentRequirements entry the facilitator
// needs to verify and settle against — passed alongside the decoded header.
type Requirements struct {
	Scheme            string
	Network           string
	MaxAmountRequired string
	Asset             string
	PayTo             string
	MaxTimeoutSeconds int
	ExtraName         string
	ExtraVersion      string
}

// VerifyResult is the outcome of a Verify call.
type VerifyResult struct {
	IsValid       bool
	InvalidReason string
	Payer         string
}

// SettleResult is the outcome of a Settle call.
type SettleResult struct {
	Success         bool
	ErrorReason     string
	TransactionHash string
	Network         string
}

// Client is the interface every facilitator backend implements.
// Verify is stateless; Settle must be idempotent on the payload's nonce —
// a second Settle call for an already-settled nonce must return
// {Success:false, ErrorReason:"replay"} rather than double-charging
// (spec.md §4.3).
type Client interface {
	Verify(ctx context.Context, header paymentcodec.Header, req Requirements) (*VerifyResult, error)
	Settle(ctx context.Context, header paymentcodec.Header, req Requirements) (*SettleResult, error)
}

// errUnavailable wraps err as ErrFacilitatorUnavailable so errs.CategoryOf
// classifies it as retriable (spec.md §4.3: "network errors are surfaced
// as FacilitatorUnavailable (retriable)").
func errUnavailable(err error) error {
	return errors.Join(errs.ErrFacilitatorUnavailable, err)
}
