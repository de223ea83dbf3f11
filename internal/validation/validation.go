// Package validation implements POST /validate (spec.md §4.11): a
// read-only lookup of a previously gateway-issued payment by its raw
// signature, answering is_valid=true iff the payment record has settled.
// It never calls the facilitator — it is authoritative only about prior
// gateway-issued payments, not about the chain itself.
package validation

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
)

// Request is the POST /validate body.
type Request struct {
	Payment   string `json:"payment"`
	Timestamp int64  `json:"timestamp"`
}

// Response is the POST /validate body.
type Response struct {
	IsValid     bool   `json:"is_valid"`
	PaymentID   string `json:"payment_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
}

// Service answers validation requests against the Payment Store.
type Service struct {
	Store *store.Store
}

// Validate looks up payment by its raw signature and reports whether it has
// settled (spec.md §4.11: "is_valid=true iff status is completed").
func (s *Service) Validate(ctx context.Context, req Request) Response {
	if req.Payment == "" {
		return Response{IsValid: false, ErrorReason: "missing_payment"}
	}

	rec, err := s.Store.GetPaymentBySignature(ctx, req.Payment)
	if err != nil {
		return Response{IsValid: false, ErrorReason: "not_found"}
	}

	resp := Response{
		PaymentID: rec.ID.String(),
		Amount:    rec.AmountRaw,
		Currency:  rec.Currency,
	}
	if rec.UserID != nil {
		resp.UserID = rec.UserID.String()
	}
	if rec.Status != store.PaymentStatusCompleted {
		resp.ErrorReason = string(rec.Status)
		return resp
	}
	resp.IsValid = true
	return resp
}

// ServeHTTP wires Validate to the HTTP edge: POST /validate.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(Response{IsValid: false, ErrorReason: "malformed_request"})
		return
	}

	resp := s.Validate(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
