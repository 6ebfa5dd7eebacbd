package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreateEscrowSchedule creates a new Temporal schedule for polling an escrow.
func (c *Client) CreateEscrowSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	id := scheduleID(address, network)

	c.logger.Debug("creating escrow schedule",
		"address", address,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)

	scheduleSpec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{
			{
				Every: interval,
			},
		},
	}

	workflowAction := client.ScheduleWorkflowAction{
		ID:        fmt.Sprintf("poll-escrow-%s-%s", network, address),
		Workflow:  "PollEscrowWorkflow",
		TaskQueue: c.taskQueue,
		Args: []interface{}{PollEscrowInput{
			Address: address,
			Network: network,
		}},
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:     id,
		Spec:   scheduleSpec,
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"escrow_address": address,
			"network":        network,
			"created_by":     "escrowdesk",
		},
	})

	if err != nil {
		c.logger.Error("failed to create schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", id, err)
	}

	c.logger.Info("escrow schedule created",
		"address", address,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)

	return nil
}

// UpsertEscrowSchedule creates or updates a Temporal schedule for polling an
// escrow. If the schedule already exists, it updates the poll interval.
// Otherwise, it creates a new schedule.
func (c *Client) UpsertEscrowSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	id := scheduleID(address, network)

	c.logger.Debug("upserting escrow schedule",
		"address", address,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	desc, err := handle.Describe(ctx)

	if err != nil {
		// Schedule doesn't exist or error getting it - create new one
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		return c.CreateEscrowSchedule(ctx, address, network, interval)
	}

	c.logger.Debug("schedule exists, updating interval",
		"schedule_id", id,
		"old_interval", desc.Schedule.Spec.Intervals[0].Every,
		"new_interval", interval,
	)

	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})

	if err != nil {
		c.logger.Error("failed to update schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("escrow schedule updated",
		"address", address,
		"network", network,
		"schedule_id", id,
		"interval", interval,
	)

	return nil
}

// DeleteEscrowSchedule deletes the Temporal schedule for an escrow.
func (c *Client) DeleteEscrowSchedule(ctx context.Context, address, network string) error {
	id := scheduleID(address, network)

	c.logger.Debug("deleting escrow schedule",
		"address", address,
		"network", network,
		"schedule_id", id,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"address", address,
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("escrow schedule deleted",
		"address", address,
		"network", network,
		"schedule_id", id,
	)

	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// scheduleID generates a unique schedule ID for an escrow watch.
func scheduleID(address, network string) string {
	return "poll-escrow-" + network + "-" + address
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
