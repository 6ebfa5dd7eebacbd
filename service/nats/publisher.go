package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/escrowdesk/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing escrow events to NATS.
type Publisher interface {
	// PublishEscrowEvent publishes a single event to JetStream on the
	// subject "escrows.{address}".
	PublishEscrowEvent(ctx context.Context, event *EscrowEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes escrow events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for escrow events.
	StreamName = "ESCROWS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "escrows.*"

	// StreamRetention is how long events are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher creates a JetStream publisher. It connects to NATS and
// ensures the stream exists. If m is nil, no metrics are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("escrowdesk-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Status-change events for watched escrow accounts",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishEscrowEvent publishes a single escrow event.
func (p *JetStreamPublisher) PublishEscrowEvent(ctx context.Context, event *EscrowEvent) error {
	subject := fmt.Sprintf("escrows.%s", event.Address)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal escrow event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status)
	}
	if err != nil {
		return fmt.Errorf("failed to publish escrow event: %w", err)
	}

	p.logger.Debug("published escrow event",
		"subject", subject,
		"status", event.Status,
		"previous_status", event.PreviousStatus,
	)
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
