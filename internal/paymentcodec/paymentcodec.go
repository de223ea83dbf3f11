// Package paymentcodec encodes and decodes the X-PAYMENT wire header
// (spec.md §4.2, §6): base64(JSON) of an x402 "exact" scheme payload
// carrying an EIP-3009 TransferWithAuthorization and its signature.
//
// Field shapes are grounded on daogora's internal/eip3009 authorization
// struct, collapsed into the single hex signature the wire protocol uses
// instead of separate v/r/s, and on the teacher's base64 handling in
// x402/middleware.go.
package paymentcodec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
)

// Decode sub-reasons (spec.md §4.2).
const (
	ReasonNotBase64          = "not_base64"
	ReasonNotJSON            = "not_json"
	ReasonShapeViolation     = "shape_violation"
	ReasonBadSignatureFormat = "bad_signature_format"
)

// MalformedPaymentHeaderError wraps a decode failure with its sub-reason.
type MalformedPaymentHeaderError struct {
	Reason string
	Err    error
}

func (e *MalformedPaymentHeaderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed payment header (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed payment header (%s)", e.Reason)
}

func (e *MalformedPaymentHeaderError) Unwrap() error { return e.Err }

func malformed(reason string, err error) error {
	return &MalformedPaymentHeaderError{Reason: reason, Err: err}
}

// Authorization is the EIP-3009 TransferWithAuthorization wire shape.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Payload is the signature + authorization pair, "payload" in the wire header.
type Payload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Header is the full X-PAYMENT wire structure.
type Header struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     string  `json:"network"`
	Payload     Payload `json:"payload"`
}

var (
	addressPattern   = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	nonceHexPattern  = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	decimalPattern   = regexp.MustCompile(`^[0-9]+$`)
	standardSigHex   = regexp.MustCompile(`^0x[a-fA-F0-9]{130}$`)
	maxAmountAllowed = mustBig("1000000000000000000") // 10^18 per spec.md §4.2
)

func mustBig(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

// Encode canonicalizes h to JSON and base64 (standard alphabet, no newlines).
func Encode(h Header) (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encoding payment header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Decode base64-decodes, JSON-parses, and validates s against the wire shape.
func Decode(s string) (*Header, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, malformed(ReasonNotBase64, err)
	}

	var h Header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, malformed(ReasonNotJSON, err)
	}

	if err := validateShape(&h); err != nil {
		return nil, err
	}

	// Canonicalize to EIP-55 checksummed form so every downstream
	// comparison, log line, and persisted record sees the same casing
	// regardless of what the client sent.
	h.Payload.Authorization.From = ChecksumAddress(h.Payload.Authorization.From)
	h.Payload.Authorization.To = ChecksumAddress(h.Payload.Authorization.To)

	return &h, nil
}

func validateShape(h *Header) error {
	if h.Scheme != "exact" {
		return malformed(ReasonShapeViolation, fmt.Errorf("unsupported scheme %q", h.Scheme))
	}
	if h.Network == "" {
		return malformed(ReasonShapeViolation, fmt.Errorf("missing network"))
	}

	a := h.Payload.Authorization
	if !addressPattern.MatchString(a.From) {
		return malformed(ReasonShapeViolation, fmt.Errorf("invalid from address"))
	}
	if !addressPattern.MatchString(a.To) {
		return malformed(ReasonShapeViolation, fmt.Errorf("invalid to address"))
	}
	if !nonceHexPattern.MatchString(a.Nonce) {
		return malformed(ReasonShapeViolation, fmt.Errorf("invalid nonce"))
	}
	for _, field := range []struct {
		name, val string
	}{{"value", a.Value}, {"validAfter", a.ValidAfter}, {"validBefore", a.ValidBefore}} {
		if !decimalPattern.MatchString(field.val) {
			return malformed(ReasonShapeViolation, fmt.Errorf("invalid %s: must be a non-negative decimal integer", field.name))
		}
		n, ok := new(big.Int).SetString(field.val, 10)
		if !ok || n.Cmp(maxAmountAllowed) > 0 {
			return malformed(ReasonShapeViolation, fmt.Errorf("%s exceeds maximum allowed magnitude", field.name))
		}
	}

	if !standardSigHex.MatchString(h.Payload.Signature) && !isEIP6492(h.Payload.Signature) {
		return malformed(ReasonBadSignatureFormat, fmt.Errorf("signature must be 0x<130hex> or EIP-6492"))
	}

	return nil
}

// isEIP6492 recognizes the EIP-6492 counterfactual-wallet signature wrapper
// by its well-known magic suffix, without attempting to unwrap it further —
// unwrapping is the Signing Strategies / Facilitator Client's job.
func isEIP6492(sig string) bool {
	const magicSuffix = "6492649264926492649264926492649264926492649264926492649264926492"
	return len(sig) > len(magicSuffix) && sig[len(sig)-len(magicSuffix):] == magicSuffix
}

// ChecksumAddress re-exports an address in EIP-55 checksummed form on re-export.
func ChecksumAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}
