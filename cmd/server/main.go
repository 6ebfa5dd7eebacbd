package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/escrowdesk/service/config"
	"github.com/brojonat/escrowdesk/service/cost"
	"github.com/brojonat/escrowdesk/service/db"
	"github.com/brojonat/escrowdesk/service/metrics"
	"github.com/brojonat/escrowdesk/service/server"
	"github.com/brojonat/escrowdesk/service/solana"
	"github.com/brojonat/escrowdesk/service/temporal"
	"github.com/brojonat/escrowdesk/service/token"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.Network,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize database store and create tables if needed
	store := db.NewStore(dbPool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL)
	solanaClient := solana.NewClient(solanaRPC, cfg.SolanaRPCURL, metricsCollector, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	// Initialize token metadata registry. The HTTP metadata source is
	// optional; without it tokens resolve with on-chain decimals only.
	var source token.MetadataSource
	if cfg.TokenRegistryURL != "" {
		source = token.NewHTTPSource(cfg.TokenRegistryURL, nil, logger)
		logger.Info("token metadata enrichment enabled", "url", cfg.TokenRegistryURL)
	}
	registry := token.NewRegistry(solanaClient, source, logger, token.WithStore(token.NewDBStore(store)))

	// Initialize cost estimator
	estimator := cost.NewEstimator(solanaClient, logger)

	// Initialize Temporal client for schedule management
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()
	logger.Info("connected to temporal",
		"host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
	)

	// Initialize HTTP server
	httpServer := server.New(
		cfg.ServerAddr,
		cfg,
		store,
		solanaClient,
		registry,
		estimator,
		temporalClient,
		metricsCollector,
		logger,
	)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
