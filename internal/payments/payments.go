// Package payments implements the Payments Core state machine of spec.md
// §4.6: decode → build requirements → verify → insert pending → proceed →
// settle. It is the orchestration layer over paymentcodec, requirements,
// facilitator, and store; grounded on the teacher's handlePayment
// (x402/middleware.go) generalized from one fixed price to per-tool
// pricing, and on the "outcome sum type" design note (closed interface with
// an unexported marker method, avoiding exceptions-for-flow-control).
package payments

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/facilitator"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/paymentcodec"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/requirements"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/signing"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/tokenregistry"
)

// Outcome is the closed result of handle_paid_call. Only the types in this
// package implement it.
type Outcome interface {
	isOutcome()
}

// PaymentRequired means the caller must retry with an X-PAYMENT header
// satisfying one of Requirements.
type PaymentRequired struct {
	Requirements []requirements.PaymentRequirements
}

// Proceed means verification succeeded and the gateway may forward the
// tool call upstream; Settle must be called once the upstream call returns.
type Proceed struct {
	PaymentID uuid.UUID
	Header    paymentcodec.Header
	Req       requirements.PaymentRequirements
}

// Settled means settlement completed; the response may be returned with
// an X-PAYMENT-RESPONSE header built from Result.
type Settled struct {
	PaymentID uuid.UUID
	Result    *facilitator.SettleResult
}

// Failed is a terminal error; Reason usually wraps one of the errs
// sentinels, and errs.CategoryOf treats any other reason as internal.
type Failed struct {
	Reason error
}

func (PaymentRequired) isOutcome() {}
func (Proceed) isOutcome()         {}
func (Settled) isOutcome()         {}
func (Failed) isOutcome()          {}

// Core wires together the components handle_paid_call needs.
type Core struct {
	Store       *store.Store
	Tokens      *tokenregistry.Registry
	Facilitator facilitator.Client
	Signers     *signing.Registry
}

// CallContext is the per-call input to HandlePaidCall.
type CallContext struct {
	Tool             *store.RegisteredTool
	Server           *store.RegisteredServer
	PaymentHeader    string // raw X-PAYMENT header value, "" if absent
	PreferredNetwork string
	Resource         string
	APIKey           *store.ApiKey
	Wallet           *store.UserWallet
}

// HandlePaidCall runs the state machine described in spec.md §4.6.
func (c *Core) HandlePaidCall(ctx context.Context, call CallContext) Outcome {
	entries, err := c.Store.ListActivePricing(ctx, call.Tool.ID)
	if err != nil {
		return Failed{Reason: fmt.Errorf("%w: loading pricing: %v", errs.ErrMalformedPayment, err)}
	}

	reqList, err := requirements.Build(c.Tokens, entries, call.Resource, call.Tool.Description, call.Server.ReceiverAddress, call.PreferredNetwork)
	if err != nil {
		return Failed{Reason: fmt.Errorf("building requirements: %w", err)}
	}
	if len(reqList) == 0 {
		// Free tool: Payments Core is bypassed entirely.
		return Proceed{}
	}

	headerStr := call.PaymentHeader
	if headerStr == "" {
		signed, signErr := c.tryAutoSign(ctx, call, reqList)
		if signErr != nil {
			return PaymentRequired{Requirements: reqList}
		}
		headerStr = signed
	}

	header, err := paymentcodec.Decode(headerStr)
	if err != nil {
		return Failed{Reason: fmt.Errorf("%w: %w", errs.ErrMalformedPayment, err)}
	}

	matched, err := selectMatchingRequirement(*header, reqList)
	if err != nil {
		return Failed{Reason: err}
	}

	if underpaid(header.Payload.Authorization.Value, matched.MaxAmountRequired) {
		return Failed{Reason: errs.ErrUnderpayment}
	}

	fReq := toFacilitatorRequirements(matched)
	result, err := c.Facilitator.Verify(ctx, *header, fReq)
	if err != nil {
		return Failed{Reason: err}
	}
	if !result.IsValid {
		return Failed{Reason: classifyInvalidReason(result.InvalidReason)}
	}

	rec := &store.PaymentRecord{
		ToolID:        call.Tool.ID,
		AmountRaw:     header.Payload.Authorization.Value,
		TokenDecimals: tokenDecimals(c.Tokens, matched),
		Currency:      matched.ExtraName,
		Network:       matched.Network,
		Signature:     headerStr,
	}
	if call.APIKey != nil {
		rec.UserID = &call.APIKey.UserID
	}

	existing, created, err := c.Store.CreateOrGetPayment(ctx, rec)
	if err != nil {
		return Failed{Reason: fmt.Errorf("persisting payment record: %w", err)}
	}
	if !created {
		switch existing.Status {
		case store.PaymentStatusCompleted:
			return Settled{PaymentID: existing.ID, Result: &facilitator.SettleResult{
				Success: true, TransactionHash: derefString(existing.TransactionHash), Network: existing.Network,
			}}
		case store.PaymentStatusPending:
			return Failed{Reason: errs.ErrPaymentInFlight}
		default: // failed: expired by the janitor or rejected at settlement
			return Failed{Reason: errs.ErrExpiredAuthorization}
		}
	}

	return Proceed{PaymentID: existing.ID, Header: *header, Req: matched}
}

// Settle is called after the upstream tool call returns a non-error result
// (spec.md §4.6: "settle happens after the upstream call returns a
// non-error result").
func (c *Core) Settle(ctx context.Context, proceed Proceed) Outcome {
	fReq := toFacilitatorRequirements(proceed.Req)
	result, err := c.Facilitator.Settle(ctx, proceed.Header, fReq)
	if err != nil {
		return Failed{Reason: err}
	}

	if result.Success {
		if err := c.Store.CompletePayment(ctx, proceed.PaymentID, result.TransactionHash); err != nil {
			return Failed{Reason: fmt.Errorf("persisting settlement: %w", err)}
		}
		return Settled{PaymentID: proceed.PaymentID, Result: result}
	}

	if result.ErrorReason == "replay" && result.TransactionHash != "" {
		// Already settled by a prior attempt; treat as completed. A
		// concurrent settle may have completed it first, which is the
		// outcome we want anyway, so a conditional-update miss is ignored.
		_ = c.Store.CompletePayment(ctx, proceed.PaymentID, result.TransactionHash)
		return Settled{PaymentID: proceed.PaymentID, Result: result}
	}

	if err := c.Store.FailPayment(ctx, proceed.PaymentID); err != nil {
		return Failed{Reason: fmt.Errorf("persisting settle failure: %w", err)}
	}
	return Failed{Reason: fmt.Errorf("settle failed: %s", result.ErrorReason)}
}

// UpstreamFailed marks a Proceed's payment record left dangling by an
// upstream error as still pending — the janitor will expire it to failed
// after max_timeout_seconds+60s if it's never settled (spec.md §4.6).
func (c *Core) UpstreamFailed(_ context.Context, _ Proceed) Outcome {
	return Failed{Reason: errs.ErrUpstreamGone}
}

func (c *Core) tryAutoSign(ctx context.Context, call CallContext, reqList []requirements.PaymentRequirements) (string, error) {
	if call.APIKey == nil || call.Wallet == nil || c.Signers == nil {
		return "", errs.ErrNoMatchingRequirement
	}
	req := reqList[0]
	info, err := c.Tokens.Lookup(req.Network, req.Asset)
	if err != nil {
		return "", err
	}
	_ = info

	header, err := c.Signers.Resolve(ctx, signing.Context{
		APIKey:       call.APIKey,
		Wallet:       call.Wallet,
		Requirement:  req,
		TokenAddress: req.Asset,
		ChainID:      chainIDFor(req.Network),
	})
	if err != nil {
		return "", err
	}
	return paymentcodec.Encode(*header)
}

func selectMatchingRequirement(header paymentcodec.Header, reqList []requirements.PaymentRequirements) (requirements.PaymentRequirements, error) {
	for _, r := range reqList {
		if r.Network == header.Network {
			return r, nil
		}
	}
	return requirements.PaymentRequirements{}, errs.ErrNoMatchingRequirement
}

func underpaid(value, required string) bool {
	v, ok1 := new(big.Int).SetString(value, 10)
	r, ok2 := new(big.Int).SetString(required, 10)
	if !ok1 || !ok2 {
		return true
	}
	return v.Cmp(r) < 0
}

func classifyInvalidReason(reason string) error {
	switch reason {
	case "expired":
		return errs.ErrExpiredAuthorization
	case "wrong_network":
		return errs.ErrWrongNetwork
	case "underpayment":
		return errs.ErrUnderpayment
	default:
		return errs.ErrMalformedPayment
	}
}

func toFacilitatorRequirements(r requirements.PaymentRequirements) facilitator.Requirements {
	return facilitator.Requirements{
		Scheme:            r.Scheme,
		Network:           r.Network,
		MaxAmountRequired: r.MaxAmountRequired,
		Asset:             r.Asset,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		ExtraName:         r.ExtraName,
		ExtraVersion:      r.ExtraVersion,
	}
}

func tokenDecimals(registry *tokenregistry.Registry, r requirements.PaymentRequirements) int32 {
	info, err := registry.Lookup(r.Network, r.Asset)
	if err != nil {
		return 0
	}
	return info.Decimals
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func chainIDFor(network string) *big.Int {
	switch network {
	case "base-sepolia":
		return big.NewInt(84532)
	case "base":
		return big.NewInt(8453)
	default:
		return big.NewInt(1)
	}
}
