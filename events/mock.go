package events

import (
	"context"
	"sync"
)

// MockPublisher records published events for tests.
type MockPublisher struct {
	mu           sync.RWMutex
	published    []Event
	publishError error
	closed       bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{published: make([]Event, 0)}
}

func (m *MockPublisher) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.published = append(m.published, ev)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

func (m *MockPublisher) Published() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.published))
	copy(out, m.published)
	return out
}

func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
