// Package config loads gateway configuration from the environment, in the
// same shape the teacher proxy used for its single-upstream deployment:
// env vars with defaults, a .env dev convenience load, and validation that
// only fires for the features actually enabled.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all gateway configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// GatewayURL is this gateway's own public URL, used in resource fields.
	GatewayURL string

	// DatabaseURL is the Postgres DSN for the Payment Store / Tool Registry.
	// Empty means no store is opened: cmd/gateway starts without the Payment
	// Store and Tool Registry.
	DatabaseURL string

	// FacilitatorURL is the x402 facilitator endpoint.
	FacilitatorURL string

	// CDPAPIKeyID / CDPAPIKeySecret / CDPWalletSecret are the Coinbase CDP
	// credentials. Only CDPAPIKeyID is consulted: with a remote facilitator,
	// cmd/gateway then installs an auth-header builder that fails every
	// facilitator request, since CDP request signing is not wired in.
	CDPAPIKeyID     string
	CDPAPIKeySecret string
	CDPWalletSecret string

	// GatewayPrivateKey enables the self-hosted local facilitator: hex
	// private key of the relayer wallet that pays settlement gas.
	GatewayPrivateKey string
	SettlementRPCURL  string

	// DefaultNetwork is the network name (e.g. base-sepolia) preferred when a client's
	// request carries no explicit preference.
	DefaultNetwork string

	// JWTSecret signs API-key-derived session claims (internal/auth).
	JWTSecret []byte

	// UpstreamIdleTimeout closes pooled MCP sessions idle this long.
	UpstreamIdleTimeout time.Duration
	// UpstreamMaxInFlight bounds per-server concurrent tool calls.
	UpstreamMaxInFlight int

	// JanitorInterval is how often the Payments Core janitor sweeps
	// expired pending records.
	JanitorInterval time.Duration

	// RegistryCacheTTL is the Tool/Server Registry read-cache lifetime.
	RegistryCacheTTL time.Duration
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded if present (dev convenience).
func Load() (*Config, error) {
	_ = godotenv.Load() // no-op if .env absent (production uses real env vars)

	cfg := &Config{
		Port:                getEnvInt("PORT", 8080),
		GatewayURL:          getEnv("GATEWAY_URL", "http://localhost:8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		FacilitatorURL:      getEnv("FACILITATOR_URL", ""),
		CDPAPIKeyID:         getEnv("CDP_API_KEY", ""),
		CDPAPIKeySecret:     getEnv("CDP_API_KEY_SECRET", ""),
		CDPWalletSecret:     getEnv("CDP_WALLET_SECRET", ""),
		GatewayPrivateKey:   getEnv("GATEWAY_PRIVATE_KEY", ""),
		SettlementRPCURL:    getEnv("SETTLEMENT_RPC_URL", "https://sepolia.base.org"),
		DefaultNetwork:      getEnv("NETWORK", "base-sepolia"),
		UpstreamIdleTimeout: time.Duration(getEnvInt("UPSTREAM_IDLE_TIMEOUT_SECONDS", 300)) * time.Second,
		UpstreamMaxInFlight: getEnvInt("UPSTREAM_MAX_IN_FLIGHT", 32),
		JanitorInterval:     time.Duration(getEnvInt("JANITOR_INTERVAL_SECONDS", 30)) * time.Second,
		RegistryCacheTTL:    time.Duration(getEnvInt("REGISTRY_CACHE_TTL_SECONDS", 60)) * time.Second,
	}

	jwtHex := getEnv("JWT_SECRET", "")
	if jwtHex != "" {
		secret, err := hex.DecodeString(jwtHex)
		if err != nil {
			return nil, fmt.Errorf("JWT_SECRET must be valid hex: %w", err)
		}
		if len(secret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes (64 hex chars)")
		}
		cfg.JWTSecret = secret
	}

	// Facilitator-dependent fields are only required when a facilitator mode
	// is actually configured — mirrors the teacher's "validate only what's
	// enabled" pattern.
	if cfg.FacilitatorURL == "" && cfg.GatewayPrivateKey == "" && cfg.CDPAPIKeyID == "" {
		// No facilitator backend configured: nothing further to validate.
		// cmd/gateway then falls back to the in-memory fake facilitator.
		return cfg, nil
	}

	if cfg.GatewayPrivateKey != "" {
		if cfg.SettlementRPCURL == "" {
			return nil, fmt.Errorf("SETTLEMENT_RPC_URL is required when GATEWAY_PRIVATE_KEY is set")
		}
	}

	return cfg, nil
}

// PaymentsEnabled reports whether any facilitator backend is configured.
func (c *Config) PaymentsEnabled() bool {
	return c.FacilitatorURL != "" || c.GatewayPrivateKey != "" || c.CDPAPIKeyID != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
