package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/escrowdesk/service/db"
	"github.com/brojonat/escrowdesk/service/escrow"
	"github.com/brojonat/escrowdesk/service/metrics"
	natspkg "github.com/brojonat/escrowdesk/service/nats"
	solanago "github.com/gagliardetto/solana-go"
)

// PollEscrowInput contains the input parameters for polling an escrow.
type PollEscrowInput struct {
	Address string `json:"address"`
	Network string `json:"network"` // "mainnet" or "devnet"
}

// PollEscrowResult contains the result of polling an escrow.
type PollEscrowResult struct {
	Address          string    `json:"address"`
	Status           string    `json:"status"`
	PreviousStatus   string    `json:"previous_status,omitempty"`
	DepositRemaining float64   `json:"deposit_remaining"`
	StatusChanged    bool      `json:"status_changed"`
	RemainingChanged bool      `json:"remaining_changed"`
	EventPublished   bool      `json:"event_published"`
	PollTime         time.Time `json:"poll_time"`
	Error            *string   `json:"error,omitempty"`
}

// FetchSnapshotInput contains parameters for the FetchSnapshot activity.
type FetchSnapshotInput struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// FetchSnapshotResult contains the result of the FetchSnapshot activity.
type FetchSnapshotResult struct {
	Snapshot *escrow.Snapshot `json:"snapshot"`
}

// RecordObservationInput contains parameters for the RecordObservation activity.
type RecordObservationInput struct {
	Address          string `json:"address"`
	Network          string `json:"network"`
	Status           string `json:"status"`
	RawRemaining     int64  `json:"raw_remaining"`
	ObservedAtMillis int64  `json:"observed_at_millis"`
}

// RecordObservationResult contains the result of the RecordObservation activity.
type RecordObservationResult struct {
	PreviousStatus   string `json:"previous_status"` // empty on first observation
	StatusChanged    bool   `json:"status_changed"`
	RemainingChanged bool   `json:"remaining_changed"`
}

// PublishEventInput contains parameters for the PublishEvent activity.
type PublishEventInput struct {
	Snapshot       *escrow.Snapshot `json:"snapshot"`
	Network        string           `json:"network"`
	PreviousStatus string           `json:"previous_status"`
	ObservedAt     time.Time        `json:"observed_at"`
}

// PublishEventResult contains the result of the PublishEvent activity.
type PublishEventResult struct {
	Subject string `json:"subject"`
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	GetWatch(ctx context.Context, address, network string) (*db.Watch, error)
	RecordPollResult(ctx context.Context, address, network, lastStatus string, lastRemaining int64, polledAt time.Time) error
}

// ChainClientInterface defines the Solana operations needed by activities.
// This allows for easy mocking in tests.
type ChainClientInterface interface {
	GetEscrowAccount(ctx context.Context, address solanago.PublicKey) (*escrow.RawAccount, error)
}

// RegistryInterface defines the token resolution operations needed by activities.
type RegistryInterface interface {
	Resolve(ctx context.Context, mint solanago.PublicKey) (escrow.TokenInfo, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishEscrowEvent(ctx context.Context, event *natspkg.EscrowEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	store     StoreInterface
	chain     ChainClientInterface
	registry  RegistryInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	chain ChainClientInterface,
	registry RegistryInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		chain:     chain,
		registry:  registry,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// FetchSnapshot fetches the escrow account from Solana, resolves both token
// mints, and derives a fresh snapshot. The snapshot is rebuilt from scratch
// on every poll since the remaining amount and status can change between
// observations.
func (a *Activities) FetchSnapshot(ctx context.Context, input FetchSnapshotInput) (*FetchSnapshotResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordPollActivity("FetchSnapshot", time.Since(start).Seconds())
		}
	}()

	a.logger.DebugContext(ctx, "fetching escrow snapshot",
		"address", input.Address,
		"network", input.Network,
	)

	address, err := solanago.PublicKeyFromBase58(input.Address)
	if err != nil {
		a.logger.ErrorContext(ctx, "invalid escrow address",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("invalid escrow address: %w", err)
	}

	raw, err := a.chain.GetEscrowAccount(ctx, address)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch escrow account",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch escrow account: %w", err)
	}

	depositToken, err := a.registry.Resolve(ctx, raw.DepositTokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve deposit token %s: %w", raw.DepositTokenMint, err)
	}

	requestToken, err := a.registry.Resolve(ctx, raw.RequestTokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve request token %s: %w", raw.RequestTokenMint, err)
	}

	snapshot, err := escrow.BuildSnapshot(address, raw, depositToken, requestToken, time.Now())
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to build snapshot",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("failed to build snapshot: %w", err)
	}

	a.logger.InfoContext(ctx, "fetched escrow snapshot",
		"address", input.Address,
		"status", snapshot.Status,
		"deposit_remaining", snapshot.DepositRemaining,
	)

	if a.metrics != nil {
		a.metrics.SetEscrowStatus(input.Address, string(snapshot.Status))
	}

	return &FetchSnapshotResult{Snapshot: snapshot}, nil
}

// RecordObservation compares the freshly derived status and remaining amount
// against the last recorded ones and persists the poll result. Returns what
// changed so the workflow can decide whether to publish an event.
func (a *Activities) RecordObservation(ctx context.Context, input RecordObservationInput) (*RecordObservationResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordPollActivity("RecordObservation", time.Since(start).Seconds())
		}
	}()

	observedAt := time.UnixMilli(input.ObservedAtMillis)

	watch, err := a.store.GetWatch(ctx, input.Address, input.Network)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to get watch",
			"address", input.Address,
			"network", input.Network,
			"error", err,
		)
		if a.metrics != nil {
			a.metrics.RecordDBOperation("get_watch", "error")
		}
		return nil, fmt.Errorf("failed to get watch for %s: %w", input.Address, err)
	}

	// The first observation has nothing to compare against, so neither the
	// status nor the remaining amount counts as changed.
	previousStatus := ""
	remainingChanged := false
	if watch != nil && watch.LastPollTime != nil {
		previousStatus = watch.LastStatus
		remainingChanged = watch.LastRemaining != input.RawRemaining
	}

	if err := a.store.RecordPollResult(ctx, input.Address, input.Network, input.Status, input.RawRemaining, observedAt); err != nil {
		a.logger.ErrorContext(ctx, "failed to record poll result",
			"address", input.Address,
			"error", err,
		)
		if a.metrics != nil {
			a.metrics.RecordDBOperation("record_poll_result", "error")
		}
		return nil, fmt.Errorf("failed to record poll result: %w", err)
	}

	if a.metrics != nil {
		a.metrics.RecordDBOperation("record_poll_result", "ok")
	}

	changed := previousStatus != "" && previousStatus != input.Status

	if a.metrics != nil {
		a.metrics.RecordPollExecution(input.Address, input.Status)
	}

	a.logger.InfoContext(ctx, "recorded escrow observation",
		"address", input.Address,
		"status", input.Status,
		"previous_status", previousStatus,
		"status_changed", changed,
		"remaining_changed", remainingChanged,
	)

	return &RecordObservationResult{
		PreviousStatus:   previousStatus,
		StatusChanged:    changed,
		RemainingChanged: remainingChanged,
	}, nil
}

// PublishEvent publishes an escrow status event to NATS.
func (a *Activities) PublishEvent(ctx context.Context, input PublishEventInput) (*PublishEventResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordPollActivity("PublishEvent", time.Since(start).Seconds())
		}
	}()

	if input.Snapshot == nil {
		return nil, fmt.Errorf("snapshot is required")
	}

	event := natspkg.FromSnapshot(input.Snapshot, input.Network, input.PreviousStatus, input.ObservedAt)

	if err := a.publisher.PublishEscrowEvent(ctx, event); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish escrow event",
			"address", event.Address,
			"status", event.Status,
			"error", err,
		)
		return nil, fmt.Errorf("failed to publish escrow event: %w", err)
	}

	a.logger.InfoContext(ctx, "published escrow event",
		"address", event.Address,
		"status", event.Status,
		"previous_status", event.PreviousStatus,
	)

	return &PublishEventResult{Subject: "escrows." + event.Address}, nil
}
