package nats

import (
	"context"
	"sync"

	"github.com/brojonat/mintmarket/service/market"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	operationEvents []*OperationEvent
	viewEvents      []*ViewEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishOperation records the event and returns any configured error.
func (m *MockPublisher) PublishOperation(ctx context.Context, event *OperationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.operationEvents = append(m.operationEvents, event)
	return nil
}

// PublishView records the event and returns any configured error.
func (m *MockPublisher) PublishView(ctx context.Context, event *ViewEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.viewEvents = append(m.viewEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetOperationEvents returns all published operation events.
func (m *MockPublisher) GetOperationEvents() []*OperationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*OperationEvent, len(m.operationEvents))
	copy(events, m.operationEvents)
	return events
}

// GetOperationEventsForAccount returns operation events for one account.
func (m *MockPublisher) GetOperationEventsForAccount(account market.Account) []*OperationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*OperationEvent, 0)
	for _, event := range m.operationEvents {
		if event.Operation.Account.Equal(account) {
			events = append(events, event)
		}
	}
	return events
}

// GetViewEvents returns all published view events.
func (m *MockPublisher) GetViewEvents() []*ViewEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ViewEvent, len(m.viewEvents))
	copy(events, m.viewEvents)
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operationEvents = nil
	m.viewEvents = nil
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
