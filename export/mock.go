package export

import (
	"context"
	"sync"
)

// MockPublisher records messages for tests
type MockPublisher struct {
	Messages   []MockMessage
	PublishErr error
	FailFirst  int // fail this many publishes before succeeding
	calls      int
	mu         sync.Mutex
}

// MockMessage represents a published message for testing
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

func (m *MockPublisher) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.PublishErr != nil && (m.FailFirst == 0 || m.calls <= m.FailFirst) {
		return m.PublishErr
	}

	m.Messages = append(m.Messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Calls returns the number of Publish calls
func (m *MockPublisher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MemorySink keeps batches in memory
type MemorySink struct {
	Batches []*Batch
	Closed  bool
	mu      sync.Mutex
}

func (m *MemorySink) Write(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, b)
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
