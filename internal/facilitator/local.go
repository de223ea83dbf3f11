package facilitator

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/paymentcodec"
)

// LocalClient is a self-hosted facilitator: it verifies EIP-3009 signatures
// locally and submits transferWithAuthorization transactions directly,
// paying gas from its own relayer key. Adapted from the teacher's
// LocalFacilitator (x402/local_facilitator.go) — same domain-separator and
// authorization-hash math — generalized to accept the asset/network for
// each call instead of one fixed USDC contract, and to use paymentcodec's
// wire shape instead of the teacher's flat batch payload.
type LocalClient struct {
	rpcURL     string
	privateKey *ecdsa.PrivateKey
	address    common.Address

	// settled tracks nonces this process has already settled, so a
	// second Settle call returns {Success:false, ErrorReason:"replay"}
	// instead of resubmitting the transaction (spec.md §4.3).
	settled map[string]string // nonce -> tx hash
}

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	authTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
	transferWithAuthSig = crypto.Keccak256([]byte(
		"transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)",
	))[:4]
)

// NewLocalClient creates a LocalClient whose relayer key is derived from
// privateKeyHex and which settles against rpcURL.
func NewLocalClient(rpcURL, privateKeyHex string) (*LocalClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway private key: %w", err)
	}
	return &LocalClient{
		rpcURL:     rpcURL,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		settled:    make(map[string]string),
	}, nil
}

// Address returns the relayer address (logged at startup).
func (c *LocalClient) Address() common.Address { return c.address }

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func addrPad(a common.Address) []byte {
	padded := make([]byte, 32)
	copy(padded[12:], a.Bytes())
	return padded
}

func domainSeparator(name, version string, chainID *big.Int, contract common.Address) common.Hash {
	enc := make([]byte, 5*32)
	copy(enc[0:32], domainTypeHash.Bytes())
	copy(enc[32:64], crypto.Keccak256([]byte(name)))
	copy(enc[64:96], crypto.Keccak256([]byte(version)))
	copy(enc[96:128], pad32(chainID))
	copy(enc[128:160], addrPad(contract))
	return crypto.Keccak256Hash(enc)
}

func authHash(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	enc := make([]byte, 7*32)
	copy(enc[0:32], authTypeHash.Bytes())
	copy(enc[32:64], addrPad(from))
	copy(enc[64:96], addrPad(to))
	copy(enc[96:128], pad32(value))
	copy(enc[128:160], pad32(validAfter))
	copy(enc[160:192], pad32(validBefore))
	copy(enc[192:224], nonce[:])
	return crypto.Keccak256Hash(enc)
}

func chainIDFromNetwork(network string) (*big.Int, error) {
	// Accepts either CAIP-2 ("eip155:84532") or the short alias
	// ("base-sepolia"/"base") the rest of this gateway uses.
	switch network {
	case "base-sepolia":
		return big.NewInt(84532), nil
	case "base":
		return big.NewInt(8453), nil
	}
	parts := strings.SplitN(network, ":", 2)
	if len(parts) == 2 && parts[0] == "eip155" {
		n, ok := new(big.Int).SetString(parts[1], 10)
		if ok {
			return n, nil
		}
	}
	return nil, fmt.Errorf("unrecognized network %q for local settlement", network)
}

func digestFor(h paymentcodec.Header, req Requirements) (common.Hash, [32]byte, error) {
	chainID, err := chainIDFromNetwork(h.Network)
	if err != nil {
		return common.Hash{}, [32]byte{}, err
	}

	asset := common.HexToAddress(req.Asset)
	a := h.Payload.Authorization
	from := common.HexToAddress(a.From)
	to := common.HexToAddress(a.To)
	value, _ := new(big.Int).SetString(a.Value, 10)
	validAfter, _ := new(big.Int).SetString(a.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(a.ValidBefore, 10)

	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(a.Nonce, "0x"))
	if err != nil {
		return common.Hash{}, [32]byte{}, fmt.Errorf("invalid nonce: %w", err)
	}
	var nonce [32]byte
	copy(nonce[32-len(nonceBytes):], nonceBytes)

	ds := domainSeparator(req.ExtraName, req.ExtraVersion, chainID, asset)
	ah := authHash(from, to, value, validAfter, validBefore, nonce)

	digest := crypto.Keccak256Hash(append([]byte{0x19, 0x01}, append(ds.Bytes(), ah.Bytes()...)...))
	return digest, nonce, nil
}

// Verify checks the EIP-712 signature, the recipient, and that the
// authorized value covers the requirement, locally without touching the
// chain; the payer's token balance is not checked.
func (c *LocalClient) Verify(_ context.Context, h paymentcodec.Header, req Requirements) (*VerifyResult, error) {
	a := h.Payload.Authorization

	validBefore, _ := strconv.ParseInt(a.ValidBefore, 10, 64)
	if validBefore < time.Now().Unix() {
		return &VerifyResult{IsValid: false, InvalidReason: "expired"}, nil
	}

	digest, _, err := digestFor(h, req)
	if err != nil {
		return nil, err
	}

	sigHex := strings.TrimPrefix(h.Payload.Signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return &VerifyResult{IsValid: false, InvalidReason: "bad_signature_format"}, nil
	}
	normalized := append([]byte(nil), sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pubBytes, err := crypto.Ecrecover(digest.Bytes(), normalized)
	if err != nil {
		return &VerifyResult{IsValid: false, InvalidReason: "bad_signature_format"}, nil
	}
	pub, err := crypto.UnmarshalPubkey(pubBytes)
	if err != nil {
		return &VerifyResult{IsValid: false, InvalidReason: "bad_signature_format"}, nil
	}
	recovered := crypto.PubkeyToAddress(*pub)
	expected := common.HexToAddress(a.From)
	if recovered != expected {
		return &VerifyResult{IsValid: false, InvalidReason: "signature_mismatch"}, nil
	}

	if common.HexToAddress(a.To) != common.HexToAddress(req.PayTo) {
		return &VerifyResult{IsValid: false, InvalidReason: "wrong_network"}, nil
	}

	value, _ := new(big.Int).SetString(a.Value, 10)
	required, _ := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if value.Cmp(required) < 0 {
		return &VerifyResult{IsValid: false, InvalidReason: "underpayment"}, nil
	}

	return &VerifyResult{IsValid: true, Payer: recovered.Hex()}, nil
}

// Settle submits the transferWithAuthorization transaction. Idempotent on
// the authorization's nonce: a repeat Settle for an already-settled nonce
// reports replay without resubmitting.
func (c *LocalClient) Settle(ctx context.Context, h paymentcodec.Header, req Requirements) (*SettleResult, error) {
	a := h.Payload.Authorization

	if txHash, already := c.settled[a.Nonce]; already {
		return &SettleResult{Success: false, ErrorReason: "replay", TransactionHash: txHash, Network: h.Network}, nil
	}

	_, nonce32, err := digestFor(h, req)
	if err != nil {
		return nil, err
	}

	from := common.HexToAddress(a.From)
	to := common.HexToAddress(a.To)
	value, _ := new(big.Int).SetString(a.Value, 10)
	validAfter, _ := new(big.Int).SetString(a.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(a.ValidBefore, 10)
	asset := common.HexToAddress(req.Asset)

	sigHex := strings.TrimPrefix(h.Payload.Signature, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return nil, errors.New("invalid signature for settlement")
	}
	var r, s [32]byte
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v := sig[64]
	if v < 27 {
		v += 27
	}

	callData := packTransferWithAuth(from, to, value, validAfter, validBefore, nonce32, v, r, s)

	client, err := ethclient.DialContext(ctx, c.rpcURL)
	if err != nil {
		return nil, errUnavailable(fmt.Errorf("rpc connect: %w", err))
	}
	defer client.Close()

	chainID, err := chainIDFromNetwork(h.Network)
	if err != nil {
		return nil, err
	}

	txNonce, err := client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, errUnavailable(fmt.Errorf("pending nonce: %w", err))
	}

	gasLimit := uint64(100_000)
	if est, err := client.EstimateGas(ctx, ethereum.CallMsg{From: c.address, To: &asset, Data: callData}); err == nil {
		gasLimit = est * 12 / 10
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errUnavailable(fmt.Errorf("latest header: %w", err))
	}
	tip := big.NewInt(1e9)
	feeCap := new(big.Int).Add(header.BaseFee, tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     txNonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &asset,
		Value:     new(big.Int),
		Data:      callData,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(chainID), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signing settlement tx: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, errUnavailable(fmt.Errorf("transaction_failed: %w", err))
	}

	txHash := signed.Hash().Hex()
	c.settled[a.Nonce] = txHash

	slog.Info("local settlement submitted", "hash", txHash, "from", from.Hex(), "to", to.Hex(), "value", value.String())
	return &SettleResult{Success: true, TransactionHash: txHash, Network: h.Network}, nil
}

func packTransferWithAuth(
	from, to common.Address,
	value, validAfter, validBefore *big.Int,
	nonce [32]byte,
	v uint8,
	r, s [32]byte,
) []byte {
	data := make([]byte, 4+9*32)
	copy(data[:4], transferWithAuthSig)
	offset := 4
	copy(data[offset+12:offset+32], from.Bytes())
	offset += 32
	copy(data[offset+12:offset+32], to.Bytes())
	offset += 32
	copy(data[offset:offset+32], pad32(value))
	offset += 32
	copy(data[offset:offset+32], pad32(validAfter))
	offset += 32
	copy(data[offset:offset+32], pad32(validBefore))
	offset += 32
	copy(data[offset:offset+32], nonce[:])
	offset += 32
	data[offset+31] = v
	offset += 32
	copy(data[offset:offset+32], r[:])
	offset += 32
	copy(data[offset:offset+32], s[:])
	return data
}
