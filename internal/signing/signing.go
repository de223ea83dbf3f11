// Package signing implements the Signing Strategies of spec.md §4.7: given
// a call the caller didn't attach an X-PAYMENT header to, try to produce one
// automatically on the caller's behalf using a managed wallet. EIP-712
// hashing is grounded on the x402-go client's signEIP712 (it builds the
// TypedData via go-ethereum's signer/core/apitypes rather than hand-rolled
// domain-separator math, the cleaner of the two approaches this pack
// shows), kept distinct from the teacher's verification-side digest math in
// internal/facilitator/local.go.
package signing

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/paymentcodec"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/requirements"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
)

// Context is everything a Strategy needs to decide whether it applies and,
// if so, to produce a signed header.
type Context struct {
	APIKey       *store.ApiKey     // nil if the caller authenticated some other way
	Wallet       *store.UserWallet // the caller's wallet, if one was resolved
	Requirement  requirements.PaymentRequirements
	TokenAddress string
	ChainID      *big.Int
}

// Strategy is one way of producing a payment header without the caller
// supplying one. Strategies never retry each other's failures — a failed
// CanSign==true strategy returns PaymentRequired upward rather than falling
// through, to avoid signing (and so paying) twice for the same call.
type Strategy interface {
	CanSign(ctx context.Context, sc Context) bool
	Sign(ctx context.Context, sc Context) (*paymentcodec.Header, error)
}

// Registry tries strategies in priority order and uses the first applicable one.
type Registry struct {
	strategies []Strategy
}

// NewRegistry builds a Registry trying strategies in the given order.
func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// Resolve returns the header produced by the first applicable strategy, or
// errs.ErrNoMatchingRequirement if none apply (the caller should fall back
// to PaymentRequired).
func (r *Registry) Resolve(ctx context.Context, sc Context) (*paymentcodec.Header, error) {
	for _, strat := range r.strategies {
		if strat.CanSign(ctx, sc) {
			return strat.Sign(ctx, sc)
		}
	}
	return nil, errs.ErrNoMatchingRequirement
}

// KeySource resolves the private key backing a managed wallet. Production
// deployments back this with the wallet provider's custodial signer API;
// tests and self-hosted deployments can back it with a static key table.
type KeySource interface {
	KeyFor(ctx context.Context, wallet *store.UserWallet) (*ecdsa.PrivateKey, error)
}

// ManagedWalletSigner implements the "managed-wallet signing" strategy of
// spec.md §4.7: applies when the caller authenticated by API key and has an
// active managed or custodial wallet. The wallet's network is not checked.
type ManagedWalletSigner struct {
	Keys KeySource
}

func (m *ManagedWalletSigner) CanSign(_ context.Context, sc Context) bool {
	return sc.APIKey != nil &&
		sc.Wallet != nil &&
		sc.Wallet.IsActive &&
		(sc.Wallet.WalletType == store.WalletTypeManaged || sc.Wallet.WalletType == store.WalletTypeCustodial)
}

func (m *ManagedWalletSigner) Sign(ctx context.Context, sc Context) (*paymentcodec.Header, error) {
	key, err := m.Keys.KeyFor(ctx, sc.Wallet)
	if err != nil {
		return nil, fmt.Errorf("resolving managed wallet key: %w", err)
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	now := time.Now().Unix()
	validAfter := now - 600
	validBefore := now + int64(sc.Requirement.MaxTimeoutSeconds)

	auth := paymentcodec.Authorization{
		From:        sc.Wallet.WalletAddress,
		To:          sc.Requirement.PayTo,
		Value:       sc.Requirement.MaxAmountRequired,
		ValidAfter:  fmt.Sprintf("%d", validAfter),
		ValidBefore: fmt.Sprintf("%d", validBefore),
		Nonce:       "0x" + hex.EncodeToString(nonce),
	}

	sig, err := signEIP712(auth, sc.TokenAddress, sc.ChainID, sc.Requirement.ExtraName, sc.Requirement.ExtraVersion, key)
	if err != nil {
		return nil, fmt.Errorf("signing authorization: %w", err)
	}

	return &paymentcodec.Header{
		X402Version: 1,
		Scheme:      sc.Requirement.Scheme,
		Network:     sc.Requirement.Network,
		Payload: paymentcodec.Payload{
			Signature:     "0x" + hex.EncodeToString(sig),
			Authorization: auth,
		},
	}, nil
}

// NoneSigner never applies — the terminal entry in a Registry so Resolve's
// loop always has a well-defined "give up" outcome even with an empty
// strategy list.
type NoneSigner struct{}

func (NoneSigner) CanSign(context.Context, Context) bool { return false }
func (NoneSigner) Sign(context.Context, Context) (*paymentcodec.Header, error) {
	return nil, errs.ErrNoMatchingRequirement
}

func signEIP712(
	auth paymentcodec.Authorization,
	tokenAddress string,
	chainID *big.Int,
	domainName, domainVersion string,
	key *ecdsa.PrivateKey,
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: tokenAddress,
		},
		Message: apitypes.TypedDataMessage{
			"from":        common.HexToAddress(auth.From).Hex(),
			"to":          common.HexToAddress(auth.To).Hex(),
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hashing domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hashing message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	digest := crypto.Keccak256Hash(rawData)

	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("signing digest: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
