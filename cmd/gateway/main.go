// Command gateway runs the x402-gated MCP reverse proxy: it loads
// configuration, connects the Payment Store, wires the facilitator,
// signing, upstream pool, and Payments Core, and serves the HTTP surface
// spec.md §6 names.
//
// Grounded on the teacher's main.go wiring switch statement (facilitator
// chosen by which of FACILITATOR_URL / GATEWAY_PRIVATE_KEY is set),
// generalized from "one RPC endpoint, one flat price" to "many MCP
// servers, many priced tools, persisted payment records."
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/auth"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/catalog"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/config"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/facilitator"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/mcpproxy"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/payments"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/ping"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/registry"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/signing"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/store"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/tokenregistry"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/upstream"
	"github.com/ethdenver2026/x402-mcp-gateway/internal/validation"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, store.Config{DatabaseURL: cfg.DatabaseURL})
		if err != nil {
			slog.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	} else {
		slog.Warn("DATABASE_URL not set: payment gating and registry are unavailable")
	}

	tokens := tokenregistry.New()

	facilitatorClient := buildFacilitator(cfg, logger)

	signers := signing.NewRegistry(signing.NoneSigner{})

	pool := upstream.New(cfg.UpstreamIdleTimeout, cfg.UpstreamMaxInFlight)
	defer pool.Close()

	reg := registry.New(db, cfg.RegistryCacheTTL)

	core := &payments.Core{
		Store:       db,
		Tokens:      tokens,
		Facilitator: facilitatorClient,
		Signers:     signers,
	}

	janitor := &payments.Janitor{Store: db, Interval: cfg.JanitorInterval}
	if db != nil {
		go janitor.Run(ctx)
		defer janitor.Stop()
	}

	authenticator := &auth.Authenticator{Store: db, JWTSecret: cfg.JWTSecret}

	proxyHandler := &mcpproxy.Handler{
		Registry:       reg,
		Upstream:       pool,
		Payments:       core,
		Auth:           authenticator,
		GatewayURL:     cfg.GatewayURL,
		DefaultNetwork: cfg.DefaultNetwork,
		Logger:         logger,
	}

	validationSvc := &validation.Service{Store: db}
	pingIngestor := &ping.Ingestor{Store: db, Upstream: pool, Registry: reg}
	catalogHandler := &catalog.Handler{Store: db, Registry: reg}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/{server_id}", func(w http.ResponseWriter, r *http.Request) {
		proxyHandler.ServeHTTP(w, r, r.PathValue("server_id"))
	})
	mux.HandleFunc("/validate", validationSvc.ServeHTTP)
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		apiKey, err := authenticator.Authenticate(r.Context(), r)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		authenticator.WriteSessionHeader(w, apiKey)
		pingIngestor.ServeHTTP(w, r)
	})
	mux.HandleFunc("/api/servers", catalogHandler.CreateServer)
	mux.HandleFunc("/api/servers/find", catalogHandler.FindServer)
	mux.HandleFunc("/api/servers/{id}/tools", func(w http.ResponseWriter, r *http.Request) {
		catalogHandler.CreateTool(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("/api/tools/{tool_id}/pricing", func(w http.ResponseWriter, r *http.Request) {
		catalogHandler.CreatePricingEntry(w, r, r.PathValue("tool_id"))
	})

	handler := withCORS(mux)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.JanitorInterval)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway starting", "addr", addr, "payments_enabled", cfg.PaymentsEnabled())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func buildFacilitator(cfg *config.Config, logger *slog.Logger) facilitator.Client {
	switch {
	case cfg.FacilitatorURL != "":
		logger.Info("payment mode: remote facilitator", "url", cfg.FacilitatorURL)
		client := facilitator.NewHTTPClient(cfg.FacilitatorURL)
		if cfg.CDPAPIKeyID != "" {
			client = client.WithAuthHeaders(cdpAuthHeaders(cfg))
		}
		return client

	case cfg.GatewayPrivateKey != "":
		local, err := facilitator.NewLocalClient(cfg.SettlementRPCURL, cfg.GatewayPrivateKey)
		if err != nil {
			logger.Error("local facilitator init failed", "error", err)
			os.Exit(1)
		}
		logger.Info("payment mode: local facilitator",
			"settlement_rpc", cfg.SettlementRPCURL, "relayer", local.Address().Hex())
		return local

	default:
		logger.Info("payment mode: fake (no FACILITATOR_URL or GATEWAY_PRIVATE_KEY set)")
		return facilitator.NewFakeClient()
	}
}

// cdpAuthHeaders builds the Coinbase CDP JWT auth-header closure consumed
// by HTTPClient.WithAuthHeaders. Grounded on avidreder's
// coinbase_facilitator.go CDP JWT signing pattern; the cdp-sdk/go client
// itself is not wired in (see DESIGN.md) so this placeholder surfaces a
// clear startup error instead of silently sending unauthenticated requests.
func cdpAuthHeaders(cfg *config.Config) func(ctx context.Context, method, path string) (map[string]string, error) {
	return func(ctx context.Context, method, path string) (map[string]string, error) {
		return nil, fmt.Errorf("CDP_API_KEY configured but cdp-sdk/go auth header generation is not wired in this build")
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-KEY, X-PAYMENT")
		w.Header().Set("Access-Control-Expose-Headers", "X-PAYMENT-RESPONSE, X-SESSION-TOKEN, Content-Length")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
