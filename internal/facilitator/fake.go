package facilitator

import (
	"context"
	"sync"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/paymentcodec"
)

// FakeClient is an in-memory Client double for tests in internal/payments
// and internal/mcpproxy that need a facilitator without a network call.
// Grounded on the closed-interface test-double convention used throughout
// stronghold's test suite (db.go's interfaces are satisfied by lightweight
// fakes rather than mocking frameworks).
type FakeClient struct {
	mu       sync.Mutex
	settled  map[string]string
	VerifyFn func(header paymentcodec.Header, req Requirements) *VerifyResult
	SettleFn func(header paymentcodec.Header, req Requirements) *SettleResult
}

// NewFakeClient returns a FakeClient that, absent overrides, verifies and
// settles every call successfully.
func NewFakeClient() *FakeClient {
	return &FakeClient{settled: make(map[string]string)}
}

func (f *FakeClient) Verify(_ context.Context, header paymentcodec.Header, req Requirements) (*VerifyResult, error) {
	if f.VerifyFn != nil {
		return f.VerifyFn(header, req), nil
	}
	return &VerifyResult{IsValid: true, Payer: header.Payload.Authorization.From}, nil
}

func (f *FakeClient) Settle(_ context.Context, header paymentcodec.Header, req Requirements) (*SettleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	nonce := header.Payload.Authorization.Nonce
	if txHash, already := f.settled[nonce]; already {
		return &SettleResult{Success: false, ErrorReason: "replay", TransactionHash: txHash, Network: header.Network}, nil
	}

	if f.SettleFn != nil {
		result := f.SettleFn(header, req)
		if result.Success {
			f.settled[nonce] = result.TransactionHash
		}
		return result, nil
	}

	txHash := "0xfake" + nonce[2:10]
	f.settled[nonce] = txHash
	return &SettleResult{Success: true, TransactionHash: txHash, Network: header.Network}, nil
}
