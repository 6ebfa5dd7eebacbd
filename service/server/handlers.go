package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/escrowdesk/service/amount"
	"github.com/brojonat/escrowdesk/service/config"
	"github.com/brojonat/escrowdesk/service/cost"
	"github.com/brojonat/escrowdesk/service/db"
	"github.com/brojonat/escrowdesk/service/escrow"
	"github.com/brojonat/escrowdesk/service/metrics"
	solanapkg "github.com/brojonat/escrowdesk/service/solana"
	"github.com/brojonat/escrowdesk/service/state"
	"github.com/brojonat/escrowdesk/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for any request here
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	minPollInterval    = 10 * time.Second
	maxPollInterval    = 24 * time.Hour
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// fetchSnapshot fetches the escrow account, resolves both mints, and derives
// a fresh snapshot.
func fetchSnapshot(ctx context.Context, chain ChainClient, registry TokenResolver, address solanago.PublicKey) (*escrow.Snapshot, error) {
	raw, err := chain.GetEscrowAccount(ctx, address)
	if err != nil {
		return nil, err
	}

	depositToken, err := registry.Resolve(ctx, raw.DepositTokenMint)
	if err != nil {
		return nil, err
	}

	requestToken, err := registry.Resolve(ctx, raw.RequestTokenMint)
	if err != nil {
		return nil, err
	}

	return escrow.BuildSnapshot(address, raw, depositToken, requestToken, time.Now())
}

// handleGetEscrow returns a handler that fetches an escrow and returns its
// derived snapshot.
// GET /api/v1/escrows/{address}
//
// Concurrent requests for the same escrow are sequence-gated: each fetch is
// numbered when it starts, and a completion for a superseded fetch never
// overwrites the value of a later one. If this fetch was superseded while in
// flight, the handler serves whatever the newest fetch stored.
func handleGetEscrow(chain ChainClient, registry TokenResolver, snapshots *state.Table[*escrow.Snapshot], m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")

		pk, ok := parseAddressParam(w, logger, address)
		if !ok {
			return
		}

		seq := snapshots.Begin(address)

		snap, err := fetchSnapshot(r.Context(), chain, registry, pk)
		if err != nil {
			writeEscrowError(w, logger, address, err)
			return
		}
		if m != nil {
			m.RecordSnapshotBuilt(string(snap.Status))
		}

		if !snapshots.Complete(address, seq, snap) {
			if m != nil {
				m.RecordStaleCompletion("escrow_snapshot")
			}
			logger.Debug("snapshot superseded by newer fetch", "address", address, "seq", seq)
			if newer, ok := snapshots.Get(address); ok {
				snap = newer
			}
		}

		if m != nil {
			m.SetEscrowStatus(address, string(snap.Status))
		}

		logger.Debug("escrow snapshot served",
			"address", address,
			"status", snap.Status,
			"deposit_remaining", snap.DepositRemaining,
		)

		writeJSON(w, escrowToResponse(snap), http.StatusOK)
	})
}

// handleFillQuote returns a handler that validates a candidate fill amount
// and previews the integer amounts for the exchange instruction.
// POST /api/v1/escrows/{address}/fill-quote
func handleFillQuote(chain ChainClient, registry TokenResolver, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		address := r.PathValue("address")
		pk, ok := parseAddressParam(w, logger, address)
		if !ok {
			return
		}

		var req struct {
			Wallet string `json:"wallet"`
			Amount string `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode fill-quote request", "error", err)
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Wallet); err != nil {
			writeError(w, fmt.Sprintf("invalid wallet: %v", err), http.StatusBadRequest)
			return
		}
		wallet, err := solanago.PublicKeyFromBase58(req.Wallet)
		if err != nil {
			writeError(w, "invalid wallet: must be a valid Solana public key", http.StatusBadRequest)
			return
		}

		if req.Amount == "" {
			writeError(w, "amount is required", http.StatusBadRequest)
			return
		}

		snap, err := fetchSnapshot(r.Context(), chain, registry, pk)
		if err != nil {
			writeEscrowError(w, logger, address, err)
			return
		}

		balance, err := chain.GetTokenBalance(r.Context(), wallet, snap.Raw.RequestTokenMint)
		if err != nil {
			writeEscrowError(w, logger, address, err)
			return
		}

		resp := fillQuoteResponse{
			Address:         address,
			Amount:          req.Amount,
			MaxFill:         escrow.MaxFillAmount(snap, balance),
			ExpectedReceive: escrow.ExpectedReceive(snap, parseFloatOrZero(req.Amount)),
		}
		resp.MaxFillText = amount.FormatDecimals(resp.MaxFill)

		validation := escrow.ValidateFillAmount(snap, req.Amount, balance)
		resp.Valid = validation.Valid
		if validation.Err != nil {
			resp.Error = validation.Err.Error()
		}

		if m != nil {
			outcome := "valid"
			if !validation.Valid {
				outcome = "invalid"
			}
			m.RecordFillValidation(outcome)
		}

		if validation.Valid {
			plan, err := escrow.PrepareFill(snap, req.Amount, balance)
			if err != nil {
				logger.Error("fill plan failed after validation", "address", address, "error", err)
				writeError(w, "failed to prepare fill", http.StatusInternalServerError)
				return
			}
			resp.Plan = &fillPlanResponse{
				PayAmount:     plan.PayAmount.String(),
				ReceiveAmount: plan.ReceiveAmount.String(),
				FullFill:      plan.FullFill,
			}
		}

		logger.Debug("fill quote computed",
			"address", address,
			"wallet", req.Wallet,
			"amount", req.Amount,
			"valid", resp.Valid,
		)

		writeJSON(w, resp, http.StatusOK)
	})
}

// handleExchangeCost returns a handler that estimates the lamport cost for a
// taker to exchange against an escrow.
// GET /api/v1/escrows/{address}/exchange-cost?taker={pubkey}
//
// Cost is advisory: an estimation failure yields 200 with
// cost_unavailable=true rather than an error.
func handleExchangeCost(chain ChainClient, estimator CostEstimator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		pk, ok := parseAddressParam(w, logger, address)
		if !ok {
			return
		}

		takerParam := r.URL.Query().Get("taker")
		if err := validateAddress(takerParam); err != nil {
			writeError(w, fmt.Sprintf("invalid taker: %v", err), http.StatusBadRequest)
			return
		}
		taker, err := solanago.PublicKeyFromBase58(takerParam)
		if err != nil {
			writeError(w, "invalid taker: must be a valid Solana public key", http.StatusBadRequest)
			return
		}

		raw, err := chain.GetEscrowAccount(r.Context(), pk)
		if err != nil {
			writeEscrowError(w, logger, address, err)
			return
		}

		breakdown, err := estimator.EstimateExchangeCost(r.Context(), taker, raw.DepositTokenMint, raw.RequestTokenMint)
		if err != nil {
			if errors.Is(err, cost.ErrEstimation) {
				if m != nil {
					m.RecordCostEstimate("exchange", "unavailable")
				}
				logger.Warn("exchange cost unavailable", "address", address, "error", err)
				writeJSON(w, costResponse{CostUnavailable: true}, http.StatusOK)
				return
			}
			logger.Error("failed to estimate exchange cost", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if m != nil {
			m.RecordCostEstimate("exchange", "ok")
		}
		writeJSON(w, costResponse{Breakdown: breakdown}, http.StatusOK)
	})
}

// handleCreationCost returns a handler that estimates the lamport cost for a
// maker to create an escrow for the given mint pair.
// GET /api/v1/creation-cost?maker={pubkey}&deposit={mint}&request={mint}
func handleCreationCost(estimator CostEstimator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		maker, ok := parsePubkeyQuery(w, query.Get("maker"), "maker")
		if !ok {
			return
		}
		deposit, ok := parsePubkeyQuery(w, query.Get("deposit"), "deposit")
		if !ok {
			return
		}
		request, ok := parsePubkeyQuery(w, query.Get("request"), "request")
		if !ok {
			return
		}

		breakdown, err := estimator.EstimateCreationCost(r.Context(), maker, deposit, request)
		if err != nil {
			if errors.Is(err, cost.ErrEstimation) {
				if m != nil {
					m.RecordCostEstimate("creation", "unavailable")
				}
				logger.Warn("creation cost unavailable", "maker", maker, "error", err)
				writeJSON(w, costResponse{CostUnavailable: true}, http.StatusOK)
				return
			}
			logger.Error("failed to estimate creation cost", "maker", maker, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if m != nil {
			m.RecordCostEstimate("creation", "ok")
		}
		writeJSON(w, costResponse{Breakdown: breakdown}, http.StatusOK)
	})
}

// handleRegisterWatch returns a handler that registers an escrow watch and
// creates a Temporal schedule for polling.
// POST /api/v1/watches
func handleRegisterWatch(store WatchStore, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Address      string `json:"address"`
			Network      string `json:"network"` // "mainnet" or "devnet"
			PollInterval string `json:"poll_interval"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode register request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			logger.Debug("invalid address", "address", req.Address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := validateNetwork(req.Network); err != nil {
			logger.Debug("invalid network", "network", req.Network, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		pollInterval := cfg.DefaultPollInterval
		if req.PollInterval != "" {
			parsed, err := time.ParseDuration(req.PollInterval)
			if err != nil {
				logger.Debug("invalid poll interval", "interval", req.PollInterval, "error", err)
				writeError(w, "invalid poll_interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
				return
			}
			pollInterval = parsed
		}

		if err := validatePollInterval(pollInterval); err != nil {
			logger.Debug("invalid poll interval value", "interval", pollInterval, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		existed, err := store.WatchExists(r.Context(), req.Address, req.Network)
		if err != nil {
			logger.Error("failed to check watch existence", "address", req.Address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		watch, err := store.UpsertWatch(r.Context(), db.UpsertWatchParams{
			Address:      req.Address,
			Network:      req.Network,
			PollInterval: pollInterval,
			Status:       "active",
		})
		if err != nil {
			logger.Error("failed to register watch", "address", req.Address, "error", err)
			writeError(w, "failed to register watch", http.StatusInternalServerError)
			return
		}

		if err := scheduler.UpsertEscrowSchedule(r.Context(), req.Address, req.Network, pollInterval); err != nil {
			logger.Error("failed to create schedule", "address", req.Address, "network", req.Network, "error", err)

			if !existed {
				// Rollback: remove the watch we just created
				if delErr := store.DeleteWatch(r.Context(), req.Address, req.Network); delErr != nil {
					logger.Error("failed to rollback watch creation", "address", req.Address, "error", delErr)
				}
			}

			writeError(w, "failed to create schedule for watch", http.StatusInternalServerError)
			return
		}

		statusCode := http.StatusCreated
		if existed {
			statusCode = http.StatusOK
		}

		logger.Info("watch registered with schedule",
			"address", watch.Address,
			"network", watch.Network,
			"poll_interval", watch.PollInterval,
			"updated", existed,
		)

		writeJSON(w, watchToResponse(watch), statusCode)
	})
}

// handleUnregisterWatch returns a handler that removes an escrow watch and
// deletes its Temporal schedule.
// DELETE /api/v1/watches/{address}?network={network}
func handleUnregisterWatch(store WatchStore, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		network := r.URL.Query().Get("network")

		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := validateNetwork(network); err != nil {
			logger.Debug("invalid network", "network", network, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		exists, err := store.WatchExists(r.Context(), address, network)
		if err != nil {
			logger.Error("failed to check watch existence", "address", address, "network", network, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if !exists {
			writeError(w, "watch not found", http.StatusNotFound)
			return
		}

		// Delete the schedule first. If this fails, keep the watch so the
		// state stays consistent.
		if err := scheduler.DeleteEscrowSchedule(r.Context(), address, network); err != nil {
			logger.Error("failed to delete schedule", "address", address, "network", network, "error", err)
			writeError(w, "failed to delete schedule for watch", http.StatusInternalServerError)
			return
		}

		if err := store.DeleteWatch(r.Context(), address, network); err != nil {
			logger.Error("failed to delete watch", "address", address, "network", network, "error", err)
			writeError(w, "failed to unregister watch", http.StatusInternalServerError)
			return
		}

		logger.Info("watch unregistered", "address", address, "network", network)
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleListWatches returns a handler that lists all registered watches.
// GET /api/v1/watches
func handleListWatches(store WatchStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		watches, err := store.ListWatches(r.Context())
		if err != nil {
			logger.Error("failed to list watches", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("watches listed", "count", len(watches))

		resp := make([]watchResponse, len(watches))
		for i, watch := range watches {
			resp[i] = watchToResponse(watch)
		}

		writeJSON(w, map[string]interface{}{
			"watches": resp,
		}, http.StatusOK)
	})
}

// handleGetWatch returns a handler that retrieves a single watch.
// GET /api/v1/watches/{address}?network={network}
func handleGetWatch(store WatchStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		network := r.URL.Query().Get("network")

		if err := validateAddress(address); err != nil {
			logger.Debug("invalid address", "address", address, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := validateNetwork(network); err != nil {
			logger.Debug("invalid network", "network", network, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		watch, err := store.GetWatch(r.Context(), address, network)
		if err != nil {
			logger.Debug("watch not found", "address", address, "network", network, "error", err)
			writeError(w, "watch not found", http.StatusNotFound)
			return
		}

		writeJSON(w, watchToResponse(watch), http.StatusOK)
	})
}

// escrowResponse is the JSON response format for an escrow snapshot, with
// adaptive-precision display strings alongside the numeric values.
type escrowResponse struct {
	*escrow.Snapshot

	DepositAmountText    string `json:"deposit_amount_text"`
	DepositRemainingText string `json:"deposit_remaining_text"`
	RequestAmountText    string `json:"request_amount_text"`
	PriceText            string `json:"price_text"`
}

func escrowToResponse(s *escrow.Snapshot) escrowResponse {
	return escrowResponse{
		Snapshot:             s,
		DepositAmountText:    amount.FormatDecimals(s.DepositAmount),
		DepositRemainingText: amount.FormatDecimals(s.DepositRemaining),
		RequestAmountText:    amount.FormatDecimals(s.RequestAmount),
		PriceText:            amount.FormatDecimals(s.Raw.Price),
	}
}

// fillQuoteResponse is the JSON response format for a fill-quote request.
type fillQuoteResponse struct {
	Address         string  `json:"address"`
	Amount          string  `json:"amount"`
	Valid           bool    `json:"valid"`
	Error           string  `json:"error,omitempty"`
	MaxFill         float64 `json:"max_fill"`
	MaxFillText     string  `json:"max_fill_text"`
	ExpectedReceive float64 `json:"expected_receive"`

	Plan *fillPlanResponse `json:"plan,omitempty"`
}

type fillPlanResponse struct {
	PayAmount     string `json:"pay_amount"`     // request-token smallest units
	ReceiveAmount string `json:"receive_amount"` // deposit-token smallest units
	FullFill      bool   `json:"full_fill"`
}

// costResponse is the JSON response format for cost estimates.
type costResponse struct {
	Breakdown       *cost.Breakdown `json:"breakdown,omitempty"`
	CostUnavailable bool            `json:"cost_unavailable,omitempty"`
}

// watchResponse is the JSON response format for an escrow watch.
type watchResponse struct {
	Address       string     `json:"address"`
	Network       string     `json:"network"`
	PollInterval  string     `json:"poll_interval"`
	Status        string     `json:"status"`
	LastStatus    string     `json:"last_status,omitempty"`
	LastRemaining int64      `json:"last_remaining"`
	LastPollTime  *time.Time `json:"last_poll_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func watchToResponse(w *db.Watch) watchResponse {
	return watchResponse{
		Address:       w.Address,
		Network:       w.Network,
		PollInterval:  w.PollInterval.String(),
		Status:        w.Status,
		LastStatus:    w.LastStatus,
		LastRemaining: w.LastRemaining,
		LastPollTime:  w.LastPollTime,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

// parseAddressParam validates and parses an escrow address path parameter,
// writing the error response itself when the address is bad.
func parseAddressParam(w http.ResponseWriter, logger *slog.Logger, address string) (solanago.PublicKey, bool) {
	if err := validateAddress(address); err != nil {
		logger.Debug("invalid address", "address", address, "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}

	pk, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		writeError(w, "invalid address: must be a valid Solana public key", http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}

	return pk, true
}

// parsePubkeyQuery validates and parses a public key query parameter.
func parsePubkeyQuery(w http.ResponseWriter, value, name string) (solanago.PublicKey, bool) {
	if err := validateAddress(value); err != nil {
		writeError(w, fmt.Sprintf("invalid %s: %v", name, err), http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}

	pk, err := solanago.PublicKeyFromBase58(value)
	if err != nil {
		writeError(w, fmt.Sprintf("invalid %s: must be a valid Solana public key", name), http.StatusBadRequest)
		return solanago.PublicKey{}, false
	}

	return pk, true
}

// writeEscrowError maps escrow/chain errors to HTTP status codes.
func writeEscrowError(w http.ResponseWriter, logger *slog.Logger, address string, err error) {
	switch {
	case errors.Is(err, escrow.ErrInvalidAccount):
		writeError(w, "escrow account not found", http.StatusNotFound)
	case errors.Is(err, escrow.ErrMalformedAccount):
		logger.Warn("malformed escrow account", "address", address, "error", err)
		writeError(w, "account is not a valid escrow", http.StatusUnprocessableEntity)
	case errors.Is(err, solanapkg.ErrRateLimited):
		logger.Warn("rate limited by RPC", "address", address)
		writeError(w, "rate limited by Solana RPC, try again shortly", http.StatusTooManyRequests)
	default:
		logger.Error("escrow fetch failed", "address", address, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// parseFloatOrZero is a lenient parse for advisory display values. The
// strict parse lives in the fill validation itself.
func parseFloatOrZero(text string) float64 {
	var v float64
	fmt.Sscanf(strings.TrimSpace(text), "%g", &v)
	return v
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	// Check for common SQL injection patterns
	lowerAddr := strings.ToLower(address)
	sqlPatterns := []string{"drop ", "delete ", "insert ", "update ", "select ", "--", "/*", "*/", ";"}
	for _, pattern := range sqlPatterns {
		if strings.Contains(lowerAddr, pattern) {
			return errorf("invalid characters in address: suspicious pattern detected")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// validateNetwork validates a network parameter.
func validateNetwork(network string) error {
	if network == "" {
		return errorf("network is required")
	}

	if network != "mainnet" && network != "devnet" {
		return errorf("invalid network: must be 'mainnet' or 'devnet'")
	}

	return nil
}

// validatePollInterval validates a poll interval for reasonable bounds.
func validatePollInterval(interval time.Duration) error {
	if interval <= 0 {
		return errorf("poll_interval must be positive")
	}

	if interval < minPollInterval {
		return errorf("poll_interval must be at least %v", minPollInterval)
	}

	if interval > maxPollInterval {
		return errorf("poll_interval cannot exceed %v", maxPollInterval)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
