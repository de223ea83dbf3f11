// Package mcpproxy implements POST/GET /mcp/{server_id} (spec.md §4.9): the
// JSON-RPC entry point that inspects each inbound message, forwards
// tools/list/initialize/ping unchanged (rewriting tools/list prices on the
// way out), and routes tools/call through Payments Core before forwarding.
//
// Grounded on the teacher's x402/middleware.go ServeHTTP three-path
// dispatch (token / payment header / 402), generalized from one flat-price
// gate in front of a single JSON-RPC passthrough to a per-tool-call pricing
// lookup in front of N upstream MCP servers, and on proxy/rpc.go's
// header-stripping director pattern, adapted into the streamable-HTTP
// forward path owned by internal/upstream.
package mcpproxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/auth"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/facilitator"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/payments"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/registry"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/requirements"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/upstream"
)

// PaymentRequiredCode is the JSON-RPC error code reserved for "payment
// required" (spec.md §4.9: "code reserved for payment-required").
const PaymentRequiredCode = -32402

// PaymentHeaderName and ResponseHeaderName are the x402 wire headers
// (spec.md §4.9, §6); both MUST be listed in CORS Access-Control-Expose-Headers.
const (
	PaymentHeaderName  = "X-PAYMENT"
	ResponseHeaderName = "X-PAYMENT-RESPONSE"
)

// rpcRequest is the minimal JSON-RPC 2.0 envelope the proxy needs to
// inspect and re-dispatch; a local type rather than mcp-go's
// transport.JSONRPCRequest to keep raw id/params handling simple at this
// edge (the typed mcp.* requests are built fresh per upstream call).
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`

	// httpStatus is the HTTP status this JSON-RPC envelope must be sent
	// under (spec.md §6: 402 payment required, 400 malformed, 5xx
	// upstream/facilitator unavailable); zero means 200. Not serialized —
	// it steers ServeHTTP's WriteHeader call, not the wire body.
	httpStatus int
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Handler is the POST/GET /mcp/{server_id} HTTP handler.
type Handler struct {
	Registry       *registry.Registry
	Upstream       *upstream.Pool
	Payments       *payments.Core
	Auth           *auth.Authenticator
	GatewayURL     string
	DefaultNetwork string
	Logger         *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// ServeHTTP dispatches one JSON-RPC message against serverID.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request, serverID string) {
	w.Header().Set("Access-Control-Expose-Headers", ResponseHeaderName+", "+auth.SessionHeaderName+", Content-Length")

	if r.Method != http.MethodPost {
		// GET is the SSE counterpart for server-initiated notifications
		// (spec.md §4.9); this gateway has none to push, so it answers
		// with an empty event stream that ends at once rather than an error.
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		return
	}

	entry, err := h.Registry.Get(r.Context(), serverID)
	if err != nil {
		h.logger().Warn("mcp proxy: server lookup failed", "server_id", serverID, "error", err)
		writeHTTPError(w, fmt.Errorf("%w: %v", errs.ErrUpstreamUnreachable, err))
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeHTTPError(w, fmt.Errorf("%w: %v", errs.ErrMalformedPayment, err))
		return
	}

	cfg := upstream.ServerConfig{
		ServerID:    entry.Server.ServerID,
		MCPOrigin:   entry.Server.MCPOrigin,
		RequireAuth: entry.Server.RequireAuth,
		AuthHeaders: entry.Server.AuthHeaders,
	}

	var resp rpcResponse
	switch req.Method {
	case "initialize":
		resp = h.handleInitialize(r.Context(), cfg, req)
	case "tools/list":
		resp = h.handleToolsList(r.Context(), cfg, entry, req)
	case "ping":
		resp = h.handlePing(r.Context(), cfg, req)
	case "tools/call":
		resp = h.handleToolsCall(r.Context(), w, cfg, entry, req, r)
	default:
		resp = h.forwardOpaque(r.Context(), cfg, req)
	}

	status := resp.httpStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleInitialize(ctx context.Context, cfg upstream.ServerConfig, req rpcRequest) rpcResponse {
	result, err := h.Upstream.Initialize(ctx, cfg)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (h *Handler) handlePing(ctx context.Context, cfg upstream.ServerConfig, req rpcRequest) rpcResponse {
	if err := h.Upstream.Ping(ctx, cfg); err != nil {
		return errorResponse(req.ID, err)
	}
	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
}

// handleToolsList forwards to the upstream and rewrites each tool's
// description with a price annotation for tools carrying active pricing
// (spec.md §4.9 "tool metadata ... is rewritten").
func (h *Handler) handleToolsList(ctx context.Context, cfg upstream.ServerConfig, entry *registry.Entry, req rpcRequest) rpcResponse {
	result, err := h.Upstream.ListTools(ctx, cfg)
	if err != nil {
		return errorResponse(req.ID, err)
	}

	for i := range result.Tools {
		tool, ok := entry.Tools[result.Tools[i].Name]
		if !ok || !tool.IsMonetized {
			continue
		}
		pricing := entry.Pricing[tool.ID]
		if len(pricing) == 0 {
			continue
		}
		cheapest := pricing[0]
		result.Tools[i].Description = fmt.Sprintf("%s (price: %s base units on %s)",
			result.Tools[i].Description, cheapest.MaxAmountRequiredRaw, cheapest.Network)
	}

	return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (h *Handler) forwardOpaque(ctx context.Context, cfg upstream.ServerConfig, req rpcRequest) rpcResponse {
	// Methods this gateway doesn't special-case are forwarded as an opaque
	// tool-less call isn't meaningful over this pool's typed API; reject
	// rather than guess at a generic JSON-RPC passthrough shape.
	return errorResponse(req.ID, fmt.Errorf("unsupported method %q", req.Method))
}

func (h *Handler) handleToolsCall(ctx context.Context, w http.ResponseWriter, cfg upstream.ServerConfig, entry *registry.Entry, req rpcRequest, httpReq *http.Request) rpcResponse {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, fmt.Errorf("%w: %v", errs.ErrMalformedPayment, err))
	}

	tool, ok := entry.Tools[params.Name]
	if !ok {
		return errorResponse(req.ID, fmt.Errorf("%w: unknown tool %q", errs.ErrNoMatchingRequirement, params.Name))
	}

	if !tool.IsMonetized {
		result, err := h.Upstream.CallTool(ctx, cfg, params.Name, params.Arguments)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	}

	apiKey, authErr := h.Auth.Authenticate(ctx, httpReq)
	if authErr == nil {
		h.Auth.WriteSessionHeader(w, apiKey)
	}
	call := payments.CallContext{
		Tool:             tool,
		Server:           entry.Server,
		PaymentHeader:    httpReq.Header.Get(PaymentHeaderName),
		PreferredNetwork: h.DefaultNetwork,
		Resource:         fmt.Sprintf("%s/mcp/%s/%s", h.GatewayURL, entry.Server.ServerID, params.Name),
		APIKey:           apiKey,
	}

	outcome := h.Payments.HandlePaidCall(ctx, call)
	switch o := outcome.(type) {
	case payments.PaymentRequired:
		return paymentRequiredResponse(req.ID, o.Requirements)
	case payments.Failed:
		return errorResponse(req.ID, o.Reason)
	case payments.Proceed:
		result, err := h.Upstream.CallTool(ctx, cfg, params.Name, params.Arguments)
		if err != nil {
			// Verify already succeeded; the record stays pending for the
			// janitor rather than being marked failed here (spec.md §4.6
			// ordering: settle only follows a non-error upstream result).
			return errorResponse(req.ID, err)
		}
		if o.PaymentID == uuid.Nil {
			// No active pricing: Payments Core was bypassed, nothing to settle.
			return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
		}

		settleOutcome := h.Payments.Settle(ctx, o)
		settled, ok := settleOutcome.(payments.Settled)
		if !ok {
			failed := settleOutcome.(payments.Failed)
			return errorResponse(req.ID, failed.Reason)
		}

		if header, err := encodeSettlement(settled.Result); err == nil {
			w.Header().Set(ResponseHeaderName, header)
		}
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	default:
		return errorResponse(req.ID, fmt.Errorf("unrecognized payments outcome %T", outcome))
	}
}

// settlementWire is the X-PAYMENT-RESPONSE payload (spec.md §6).
type settlementWire struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
}

func encodeSettlement(result *facilitator.SettleResult) (string, error) {
	wire := settlementWire{
		Success:     result.Success,
		ErrorReason: result.ErrorReason,
		Transaction: result.TransactionHash,
		Network:     result.Network,
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func errorResponse(id json.RawMessage, err error) rpcResponse {
	cat := errs.CategoryOf(err)
	return rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &rpcError{
			Code:    cat.StatusCode() * -1,
			Message: err.Error(),
		},
		httpStatus: cat.StatusCode(),
	}
}

func paymentRequiredResponse(id json.RawMessage, reqList []requirements.PaymentRequirements) rpcResponse {
	return rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &rpcError{
			Code:    PaymentRequiredCode,
			Message: "payment required",
			Data: map[string]interface{}{
				"x402Version": 1,
				"accepts":     reqList,
			},
		},
		httpStatus: http.StatusPaymentRequired,
	}
}

func writeHTTPError(w http.ResponseWriter, err error) {
	cat := errs.CategoryOf(err)
	w.WriteHeader(cat.StatusCode())
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
