package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/escrowdesk/service/config"
	"github.com/brojonat/escrowdesk/service/cost"
	"github.com/brojonat/escrowdesk/service/db"
	"github.com/brojonat/escrowdesk/service/escrow"
	"github.com/brojonat/escrowdesk/service/metrics"
	"github.com/brojonat/escrowdesk/service/state"
	"github.com/brojonat/escrowdesk/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ChainClient defines the Solana operations handlers need.
// This allows for easy mocking in tests.
type ChainClient interface {
	GetEscrowAccount(ctx context.Context, address solanago.PublicKey) (*escrow.RawAccount, error)
	GetTokenBalance(ctx context.Context, owner, mint solanago.PublicKey) (float64, error)
}

// TokenResolver resolves mint addresses to token info.
type TokenResolver interface {
	Resolve(ctx context.Context, mint solanago.PublicKey) (escrow.TokenInfo, error)
}

// CostEstimator defines the cost estimation operations handlers need.
type CostEstimator interface {
	EstimateCreationCost(ctx context.Context, maker, depositMint, requestMint solanago.PublicKey) (*cost.Breakdown, error)
	EstimateExchangeCost(ctx context.Context, taker, depositMint, requestMint solanago.PublicKey) (*cost.Breakdown, error)
}

// WatchStore defines the watch persistence operations handlers need.
type WatchStore interface {
	UpsertWatch(ctx context.Context, params db.UpsertWatchParams) (*db.Watch, error)
	GetWatch(ctx context.Context, address, network string) (*db.Watch, error)
	ListWatches(ctx context.Context) ([]*db.Watch, error)
	DeleteWatch(ctx context.Context, address, network string) error
	WatchExists(ctx context.Context, address, network string) (bool, error)
}

// Server represents the HTTP server for the escrow service.
type Server struct {
	addr      string
	cfg       *config.Config
	store     WatchStore
	chain     ChainClient
	registry  TokenResolver
	estimator CostEstimator
	scheduler temporal.Scheduler
	snapshots *state.Table[*escrow.Snapshot]
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to create/delete Temporal schedules for escrow polling.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store WatchStore, chain ChainClient, registry TokenResolver, estimator CostEstimator, scheduler temporal.Scheduler, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		cfg:       cfg,
		store:     store,
		chain:     chain,
		registry:  registry,
		estimator: estimator,
		scheduler: scheduler,
		snapshots: state.NewTable[*escrow.Snapshot](),
		metrics:   m,
		logger:    logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// instrument wraps a handler with request count/duration recording
	// under a fixed route label.
	instrument := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Escrow routes
	mux.Handle("GET /api/v1/escrows/{address}", instrument("get_escrow", handleGetEscrow(s.chain, s.registry, s.snapshots, s.metrics, s.logger)))
	mux.Handle("POST /api/v1/escrows/{address}/fill-quote", instrument("fill_quote", handleFillQuote(s.chain, s.registry, s.metrics, s.logger)))
	mux.Handle("GET /api/v1/escrows/{address}/exchange-cost", instrument("exchange_cost", handleExchangeCost(s.chain, s.estimator, s.metrics, s.logger)))
	mux.Handle("GET /api/v1/creation-cost", instrument("creation_cost", handleCreationCost(s.estimator, s.metrics, s.logger)))

	// Watch routes
	mux.Handle("POST /api/v1/watches", instrument("register_watch", handleRegisterWatch(s.store, s.scheduler, s.cfg, s.logger)))
	mux.Handle("DELETE /api/v1/watches/{address}", instrument("unregister_watch", handleUnregisterWatch(s.store, s.scheduler, s.logger)))
	mux.Handle("GET /api/v1/watches", instrument("list_watches", handleListWatches(s.store, s.logger)))
	mux.Handle("GET /api/v1/watches/{address}", instrument("get_watch", handleGetWatch(s.store, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
