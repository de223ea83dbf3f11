package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/paymentcodec"
)

// defaultTimeout is the 15s facilitator timeout from spec.md §4.3/§5.
const defaultTimeout = 15 * time.Second

// HTTPClient talks to a remote x402 facilitator over HTTPS, grounded on the
// teacher's RemoteFacilitator (x402/facilitator.go) generalized to the
// per-network routing (spec.md §6: POST {base}/{network}/verify|settle)
// and the richer PaymentRequirements shape this spec needs.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	// authHeaders, when set, decorates each request (e.g. Coinbase CDP JWT
	// auth), grounded on avidreder's CoinbaseAuthProvider.
	authHeaders func(ctx context.Context, method, path string) (map[string]string, error)
}

// NewHTTPClient creates an HTTPClient against baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// WithAuthHeaders attaches a per-request auth-header provider (e.g. CDP JWT).
func (c *HTTPClient) WithAuthHeaders(f func(ctx context.Context, method, path string) (map[string]string, error)) *HTTPClient {
	c.authHeaders = f
	return c
}

type wireRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Asset             string                 `json:"asset"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra"`
}

func toWireRequirements(r Requirements) wireRequirements {
	return wireRequirements{
		Scheme:            r.Scheme,
		Network:           r.Network,
		MaxAmountRequired: r.MaxAmountRequired,
		Asset:             r.Asset,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Extra: map[string]interface{}{
			"name":    r.ExtraName,
			"version": r.ExtraVersion,
		},
	}
}

func (c *HTTPClient) Verify(ctx context.Context, header paymentcodec.Header, req Requirements) (*VerifyResult, error) {
	var resp struct {
		IsValid       bool   `json:"isValid"`
		InvalidReason string `json:"invalidReason"`
		Payer         string `json:"payer"`
	}
	if err := c.post(ctx, req.Network, "verify", header, req, &resp); err != nil {
		return nil, err
	}
	return &VerifyResult{IsValid: resp.IsValid, InvalidReason: resp.InvalidReason, Payer: resp.Payer}, nil
}

func (c *HTTPClient) Settle(ctx context.Context, header paymentcodec.Header, req Requirements) (*SettleResult, error) {
	var resp struct {
		Success     bool   `json:"success"`
		ErrorReason string `json:"errorReason"`
		Transaction string `json:"transaction"`
		Network     string `json:"network"`
	}
	if err := c.post(ctx, req.Network, "settle", header, req, &resp); err != nil {
		return nil, err
	}
	return &SettleResult{
		Success:         resp.Success,
		ErrorReason:     resp.ErrorReason,
		TransactionHash: resp.Transaction,
		Network:         resp.Network,
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, network, op string, header paymentcodec.Header, req Requirements, dst interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"x402Version":         1,
		"paymentPayload":      header,
		"paymentRequirements": toWireRequirements(req),
	})
	if err != nil {
		return fmt.Errorf("marshalling facilitator request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", c.baseURL, network, op)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.authHeaders != nil {
		headers, err := c.authHeaders(ctx, http.MethodPost, "/"+network+"/"+op)
		if err != nil {
			return fmt.Errorf("building facilitator auth headers: %w", err)
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}
	}

	slog.Debug("facilitator request", "url", url)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return errUnavailable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errUnavailable(fmt.Errorf("reading facilitator response: %w", err))
	}

	slog.Debug("facilitator response", "url", url, "status", resp.StatusCode)

	if resp.StatusCode >= 500 {
		return errUnavailable(fmt.Errorf("facilitator returned %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("facilitator rejected request (%d): %s", resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, dst); err != nil {
		return fmt.Errorf("parsing facilitator response: %w", err)
	}
	return nil
}
