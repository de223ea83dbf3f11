package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WalletType classifies how a UserWallet's key material is held.
type WalletType string

const (
	WalletTypeExternal  WalletType = "external"
	WalletTypeManaged   WalletType = "managed"
	WalletTypeCustodial WalletType = "custodial"
)

// WalletArchitecture is the chain family a wallet address is valid on.
type WalletArchitecture string

const WalletArchitectureEVM WalletArchitecture = "evm"

// UserWallet is one address a user can pay from or receive settlement to
// (spec.md §3). At most one wallet per user has IsPrimary set.
type UserWallet struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	WalletAddress    string
	WalletType       WalletType
	Provider         string
	Architecture     WalletArchitecture
	IsPrimary        bool
	IsActive         bool
	ExternalWalletID *string
	WalletMetadata   map[string]interface{}
	CreatedAt        time.Time
}

// ApiKey authenticates a caller against the registry and MCP proxy
// (spec.md §3). The plaintext key is never stored — only KeyHash.
type ApiKey struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	KeyHash     string
	Name        string
	Permissions []string
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	Active      bool
	CreatedAt   time.Time
}

// CreateWallet inserts wallet. If IsPrimary is set, any existing primary
// wallet for the user is demoted first, preserving the at-most-one-primary
// invariant (spec.md §3).
func (s *Store) CreateWallet(ctx context.Context, wallet *UserWallet) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning wallet transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if wallet.IsPrimary {
		if _, err := tx.Exec(ctx,
			`UPDATE user_wallets SET is_primary = false WHERE user_id = $1 AND is_primary = true`,
			wallet.UserID,
		); err != nil {
			return fmt.Errorf("demoting existing primary wallet: %w", err)
		}
	}

	metadata, err := json.Marshal(wallet.WalletMetadata)
	if err != nil {
		return fmt.Errorf("marshalling wallet metadata: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO user_wallets (
			user_id, wallet_address, wallet_type, provider, architecture,
			is_primary, is_active, external_wallet_id, wallet_metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, wallet.UserID, wallet.WalletAddress, wallet.WalletType, wallet.Provider,
		wallet.Architecture, wallet.IsPrimary, true, wallet.ExternalWalletID, metadata,
	).Scan(&wallet.ID, &wallet.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting wallet: %w", err)
	}
	wallet.IsActive = true

	return tx.Commit(ctx)
}

// DeactivateWallet soft-deletes a wallet. If it was the primary, the oldest
// remaining active wallet for the user is promoted (spec.md §3).
func (s *Store) DeactivateWallet(ctx context.Context, walletID uuid.UUID) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning wallet deactivation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	var wasPrimary bool
	err = tx.QueryRow(ctx,
		`UPDATE user_wallets u SET is_active = false, is_primary = false
		 FROM (SELECT id, is_primary FROM user_wallets WHERE id = $1) prev
		 WHERE u.id = prev.id
		 RETURNING u.user_id, prev.is_primary`,
		walletID,
	).Scan(&userID, &wasPrimary)
	if err != nil {
		return fmt.Errorf("deactivating wallet: %w", err)
	}

	if wasPrimary {
		if _, err := tx.Exec(ctx, `
			UPDATE user_wallets SET is_primary = true
			WHERE id = (
				SELECT id FROM user_wallets
				WHERE user_id = $1 AND is_active = true
				ORDER BY created_at ASC LIMIT 1
			)
		`, userID); err != nil {
			return fmt.Errorf("promoting replacement primary wallet: %w", err)
		}
	}

	return tx.Commit(ctx)
}

const apiKeyColumns = `id, user_id, key_hash, name, permissions, expires_at, last_used_at, active, created_at`

// GetAPIKeyByHash looks up an active API key by its hash — the slow path of
// internal/auth. Expiry is not checked here; internal/auth checks ExpiresAt
// on the result.
func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND active = true`
	var k ApiKey
	err := s.QueryRow(ctx, query, keyHash).Scan(
		&k.ID, &k.UserID, &k.KeyHash, &k.Name, &k.Permissions,
		&k.ExpiresAt, &k.LastUsedAt, &k.Active, &k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetAPIKeyByID looks up an active API key by primary key, used to resolve
// a signed session claim without re-hashing the raw key (internal/auth).
func (s *Store) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1 AND active = true`
	var k ApiKey
	err := s.QueryRow(ctx, query, id).Scan(
		&k.ID, &k.UserID, &k.KeyHash, &k.Name, &k.Permissions,
		&k.ExpiresAt, &k.LastUsedAt, &k.Active, &k.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// TouchAPIKey records last use and returns any error; internal/auth calls
// it best-effort and discards that error, so it never fails the request it
// authenticates.
func (s *Store) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	return s.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
}
