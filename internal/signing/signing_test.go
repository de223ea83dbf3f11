package signing

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/requirements"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
)

type staticKeySource struct {
	key *ecdsa.PrivateKey
}

func (s staticKeySource) KeyFor(context.Context, *store.UserWallet) (*ecdsa.PrivateKey, error) {
	return s.key, nil
}

func TestManagedWalletSignerAppliesOnlyWithActiveManagedWallet(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := &ManagedWalletSigner{Keys: staticKeySource{key: key}}

	apiKey := &store.ApiKey{ID: uuid.New()}
	wallet := &store.UserWallet{
		WalletAddress: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		WalletType:    store.WalletTypeManaged,
		IsActive:      true,
	}

	assert.True(t, signer.CanSign(context.Background(), Context{APIKey: apiKey, Wallet: wallet}))
	assert.False(t, signer.CanSign(context.Background(), Context{APIKey: nil, Wallet: wallet}))

	inactive := *wallet
	inactive.IsActive = false
	assert.False(t, signer.CanSign(context.Background(), Context{APIKey: apiKey, Wallet: &inactive}))
}

func TestManagedWalletSignerProducesValidHeader(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := &ManagedWalletSigner{Keys: staticKeySource{key: key}}

	wallet := &store.UserWallet{
		WalletAddress: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		WalletType:    store.WalletTypeManaged,
		IsActive:      true,
	}
	req := requirements.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "100",
		PayTo:             "0x0000000000000000000000000000000000000001",
		MaxTimeoutSeconds: 60,
		ExtraName:         "USD Coin",
		ExtraVersion:      "2",
	}
	sc := Context{
		APIKey:       &store.ApiKey{ID: uuid.New()},
		Wallet:       wallet,
		Requirement:  req,
		TokenAddress: "0x036CbD53842c5426634E7929541eC2318f3dCF7e",
		ChainID:      big.NewInt(84532),
	}

	header, err := signer.Sign(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, "exact", header.Scheme)
	assert.Equal(t, wallet.WalletAddress, header.Payload.Authorization.From)
	assert.Equal(t, req.PayTo, header.Payload.Authorization.To)
	assert.Len(t, header.Payload.Signature, 132) // "0x" + 65 bytes hex
}

func TestRegistryResolveUsesFirstApplicableStrategy(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := &ManagedWalletSigner{Keys: staticKeySource{key: key}}
	registry := NewRegistry(signer, NoneSigner{})

	wallet := &store.UserWallet{
		WalletAddress: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		WalletType:    store.WalletTypeManaged,
		IsActive:      true,
	}
	sc := Context{
		APIKey: &store.ApiKey{ID: uuid.New()},
		Wallet: wallet,
		Requirement: requirements.PaymentRequirements{
			Scheme: "exact", PayTo: "0x1", MaxAmountRequired: "1", MaxTimeoutSeconds: 60,
		},
		TokenAddress: "0x036CbD53842c5426634E7929541eC2318f3dCF7e",
		ChainID:      big.NewInt(84532),
	}

	header, err := registry.Resolve(context.Background(), sc)
	require.NoError(t, err)
	assert.NotNil(t, header)
}

func TestRegistryResolveFailsWhenNoStrategyApplies(t *testing.T) {
	registry := NewRegistry(NoneSigner{})
	_, err := registry.Resolve(context.Background(), Context{})
	require.Error(t, err)
}
