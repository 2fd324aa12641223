// Package main runs the invoice marketplace server:
// - Positions indexer (continuous): ledger sweeps, WS log triggers, diff history
// - Listing ledger: signature-authenticated create/fill/cancel with partial fills
// - Transaction builders: unsigned escrow (V1) and allowance (V2) flows
// - Settlement webhook: HMAC-verified, idempotency-keyed set_settled relay
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mr-tron/base58"
	"github.com/redis/go-redis/v9"

	"invoice-market/internal/httpapi"
	"invoice-market/internal/ledger"
	"invoice-market/internal/marketplace"
	"invoice-market/internal/positions"
	"invoice-market/internal/settlement"
	"invoice-market/internal/sigverify"
	"invoice-market/internal/solana"
	"invoice-market/internal/storage"
	chstore "invoice-market/internal/storage/clickhouse"
	"invoice-market/internal/storage/memory"
	"invoice-market/internal/storage/migrations"
	pgstore "invoice-market/internal/storage/postgres"
	"invoice-market/internal/storage/redisstore"
	"invoice-market/internal/txbuilder"
)

// allStores holds all storage implementations.
type allStores struct {
	listings       storage.ListingStore
	webhookEvents  storage.WebhookEventStore
	assets         storage.AssetStore
	positionsCache storage.PositionsCacheStore
	history        storage.PositionHistoryStore
	txLogs         storage.TxLogStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint (optional, enables live position triggers)")
	programID := flag.String("program-id", os.Getenv("MARKETPLACE_PROGRAM_ID"), "Marketplace program ID")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	redisURL := flag.String("redis-url", os.Getenv("REDIS_URL"), "Redis URL for the positions cache (optional)")
	webhookSecret := flag.String("webhook-secret", os.Getenv("PAYMENT_WEBHOOK_SECRET"), "Shared HMAC secret for the payment webhook")
	relayerKey := flag.String("relayer-key", os.Getenv("RELAYER_SECRET_KEY"), "Base58 relayer secret key used to sign set_settled")
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	sweepInterval := flag.Duration("sweep-interval", 30*time.Second, "Position indexer sweep interval")
	cacheTTL := flag.Duration("cache-ttl", 30*time.Second, "Position snapshot freshness window")
	sigTolerance := flag.Duration("sig-tolerance", sigverify.DefaultTolerance, "Accepted clock drift for signed listing timestamps")
	requireSigs := flag.Bool("require-signatures", true, "Require wallet signatures on listing mutations")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *programID == "" {
		logger.Fatal("--program-id is required")
	}
	if *webhookSecret == "" {
		logger.Fatal("--webhook-secret is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	relayerPriv, relayerPub, err := loadRelayerKey(*relayerKey)
	if err != nil {
		logger.Fatalf("Invalid relayer key: %v", err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *redisURL, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Ledger gateway
	rpc := solana.NewHTTPClient(*rpcEndpoint)
	gw := ledger.NewGateway(rpc, *programID)

	// WebSocket client is optional; without it the indexer falls back to sweeps only.
	var ws solana.WSClient
	if *wsEndpoint != "" {
		wsClient, err := solana.NewWSClient(ctx, *wsEndpoint, nil)
		if err != nil {
			logger.Fatalf("Failed to connect websocket: %v", err)
		}
		defer wsClient.Close()
		ws = wsClient
	} else {
		logger.Println("No --ws-endpoint set, running without live position triggers")
	}

	// Positions indexer
	indexer := positions.New(gw, stores.assets, stores.positionsCache, stores.history, ws, positions.Config{
		SweepInterval: *sweepInterval,
		CacheTTL:      *cacheTTL,
	})
	go indexer.Run(ctx)

	// Marketplace service
	verifier := sigverify.NewVerifier(*requireSigs, *sigTolerance)
	market := marketplace.New(stores.listings, verifier, indexer, gw)

	// Transaction builder
	builder := txbuilder.NewBuilder(gw)

	// Settlement webhook gateway
	webhook := settlement.New(settlement.Config{
		Secret:        *webhookSecret,
		RelayerKey:    relayerPriv,
		RelayerPubkey: relayerPub,
	}, gw, builder, stores.webhookEvents, stores.txLogs)

	// HTTP server
	api := httpapi.NewServer(market, indexer, builder, webhook, stores.assets, stores.txLogs)
	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		logger.Fatalf("HTTP server error: %v", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Shutdown error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN, redisURL string, useMemory bool, logger *log.Logger) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			listings:       memory.NewListingStore(),
			webhookEvents:  memory.NewWebhookEventStore(),
			assets:         memory.NewAssetStore(),
			positionsCache: memory.NewPositionsCacheStore(),
			history:        memory.NewPositionHistoryStore(),
			txLogs:         memory.NewTxLogStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	// ClickHouse holds the append-only position diff history.
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		listings:       pgstore.NewListingStore(pool),
		webhookEvents:  pgstore.NewWebhookEventStore(pool),
		assets:         pgstore.NewAssetStore(pool),
		positionsCache: pgstore.NewPositionsCacheStore(pool),
		txLogs:         pgstore.NewTxLogStore(pool),
		history:        chstore.NewPositionHistoryStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	// Wrap the positions cache with Redis read-through if configured.
	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		stores.positionsCache = redisstore.NewPositionsCacheStore(stores.positionsCache, rdb, 30*time.Second)
		pgCleanup := cleanup
		cleanup = func() {
			rdb.Close()
			pgCleanup()
		}
		logger.Println("Redis positions cache enabled")
	}

	return stores, cleanup, nil
}

// loadRelayerKey decodes a base58 ed25519 secret key (64 bytes) and returns
// the key with its base58 public key.
func loadRelayerKey(encoded string) (ed25519.PrivateKey, string, error) {
	if encoded == "" {
		return nil, "", fmt.Errorf("--relayer-key is required")
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("decode base58: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, "", fmt.Errorf("expected %d byte secret key, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	pub := base58.Encode(priv.Public().(ed25519.PublicKey))
	return priv, pub, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
