package temporal

import (
	"fmt"
	"math"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// PollEscrowWorkflow is the Temporal workflow that polls a single escrow
// account. It is triggered by a Temporal schedule at the watch's configured
// interval.
//
// The workflow performs these steps:
// 1. Fetch the escrow account and derive a fresh snapshot (FetchSnapshot)
// 2. Compare against the last recorded status and persist (RecordObservation)
// 3. Publish an event to NATS when the status or remaining amount changed
//    (PublishEvent)
func PollEscrowWorkflow(ctx workflow.Context, input PollEscrowInput) (*PollEscrowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("PollEscrowWorkflow started", "address", input.Address, "network", input.Network)

	result := &PollEscrowResult{
		Address:  input.Address,
		PollTime: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: Fetch and derive the snapshot
	var fetchResult *FetchSnapshotResult
	err := workflow.ExecuteActivity(ctx, a.FetchSnapshot, FetchSnapshotInput{
		Address: input.Address,
		Network: input.Network,
	}).Get(ctx, &fetchResult)
	if err != nil {
		logger.Error("failed to fetch snapshot", "address", input.Address, "error", err)
		errMsg := fmt.Sprintf("failed to fetch snapshot: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	snapshot := fetchResult.Snapshot
	result.Status = string(snapshot.Status)
	result.DepositRemaining = snapshot.DepositRemaining

	logger.Info("fetched snapshot",
		"address", input.Address,
		"status", snapshot.Status,
		"deposit_remaining", snapshot.DepositRemaining,
	)

	// Step 2: Record the observation and learn the previous status
	var recordResult *RecordObservationResult
	err = workflow.ExecuteActivity(ctx, a.RecordObservation, RecordObservationInput{
		Address:          input.Address,
		Network:          input.Network,
		Status:           string(snapshot.Status),
		RawRemaining:     clampRemaining(snapshot.Raw.TokensDepositRemaining),
		ObservedAtMillis: workflow.Now(ctx).UnixMilli(),
	}).Get(ctx, &recordResult)
	if err != nil {
		logger.Error("failed to record observation", "address", input.Address, "error", err)
		errMsg := fmt.Sprintf("failed to record observation: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to record observation: %w", err)
	}

	result.PreviousStatus = recordResult.PreviousStatus
	result.StatusChanged = recordResult.StatusChanged
	result.RemainingChanged = recordResult.RemainingChanged

	// Step 3: Publish an event when the status or the remaining amount
	// changed. Publishing is best-effort: the observation is already
	// persisted, so a NATS outage should not fail the whole poll.
	if recordResult.StatusChanged || recordResult.RemainingChanged {
		var publishResult *PublishEventResult
		err = workflow.ExecuteActivity(ctx, a.PublishEvent, PublishEventInput{
			Snapshot:       snapshot,
			Network:        input.Network,
			PreviousStatus: recordResult.PreviousStatus,
			ObservedAt:     workflow.Now(ctx),
		}).Get(ctx, &publishResult)
		if err != nil {
			logger.Warn("failed to publish escrow event",
				"address", input.Address,
				"status", snapshot.Status,
				"error", err,
			)
		} else {
			result.EventPublished = true
			logger.Info("published escrow event",
				"address", input.Address,
				"subject", publishResult.Subject,
				"previous_status", recordResult.PreviousStatus,
				"status", snapshot.Status,
			)
		}
	}

	logger.Info("PollEscrowWorkflow completed",
		"address", input.Address,
		"status", result.Status,
		"status_changed", result.StatusChanged,
		"remaining_changed", result.RemainingChanged,
		"event_published", result.EventPublished,
	)

	return result, nil
}

// clampRemaining converts a raw u64 remaining amount to the int64 the watch
// store records, saturating at math.MaxInt64 instead of wrapping negative.
func clampRemaining(raw uint64) int64 {
	if raw > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(raw)
}
