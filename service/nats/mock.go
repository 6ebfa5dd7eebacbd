package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*EscrowEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*EscrowEvent, 0),
	}
}

// PublishEscrowEvent records the event and returns any configured error.
func (m *MockPublisher) PublishEscrowEvent(ctx context.Context, event *EscrowEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetPublishError configures the error returned by PublishEscrowEvent.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// GetPublishedEvents returns all published events.
func (m *MockPublisher) GetPublishedEvents() []*EscrowEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*EscrowEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// IsClosed reports whether Close was called.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
