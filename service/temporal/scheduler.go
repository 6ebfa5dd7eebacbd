package temporal

import (
	"context"
	"time"
)

// Scheduler manages Temporal schedules for escrow polling.
// Each watched escrow gets its own schedule that triggers the
// PollEscrowWorkflow.
type Scheduler interface {
	// CreateEscrowSchedule creates a new schedule for polling an escrow.
	// The schedule will trigger the PollEscrowWorkflow on the given interval.
	CreateEscrowSchedule(ctx context.Context, address, network string, interval time.Duration) error

	// UpsertEscrowSchedule creates the schedule if it does not exist, or
	// updates its interval if it does.
	UpsertEscrowSchedule(ctx context.Context, address, network string, interval time.Duration) error

	// DeleteEscrowSchedule deletes the schedule for an escrow.
	// This stops the escrow from being polled.
	DeleteEscrowSchedule(ctx context.Context, address, network string) error
}
