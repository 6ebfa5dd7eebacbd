package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// CreateEscrowSchedule records that a schedule was created.
func (m *MockScheduler) CreateEscrowSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[scheduleID(address, network)] = interval
	return nil
}

// UpsertEscrowSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertEscrowSchedule(ctx context.Context, address, network string, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[scheduleID(address, network)] = interval // Creates or updates
	return nil
}

// DeleteEscrowSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteEscrowSchedule(ctx context.Context, address, network string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := scheduleID(address, network)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}

	delete(m.schedules, id)
	return nil
}

// SetCreateError makes CreateEscrowSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.createErr = err
}

// SetDeleteError makes DeleteEscrowSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// ScheduleExists checks if a schedule exists for an escrow.
func (m *MockScheduler) ScheduleExists(address, network string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.schedules[scheduleID(address, network)]
	return exists
}

// GetScheduleInterval returns the interval for an escrow's schedule.
func (m *MockScheduler) GetScheduleInterval(address, network string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interval, exists := m.schedules[scheduleID(address, network)]
	return interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.createErr = nil
	m.deleteErr = nil
}
