package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Delivery is one recorded call to MockSink.Deliver.
type Delivery struct {
	Message    Message
	Recipients []string
}

// MockSink is a mock notification sink for testing.
type MockSink struct {
	mu         sync.RWMutex
	deliveries []Delivery
	failFor    map[string]error
}

// NewMockSink creates a new mock sink for testing.
func NewMockSink() *MockSink {
	return &MockSink{failFor: make(map[string]error)}
}

// Deliver records the call and returns the configured failures joined.
func (m *MockSink) Deliver(ctx context.Context, msg Message, recipients []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deliveries = append(m.deliveries, Delivery{
		Message:    msg,
		Recipients: append([]string(nil), recipients...),
	})

	var errs []error
	for _, r := range recipients {
		if err, ok := m.failFor[r]; ok {
			errs = append(errs, fmt.Errorf("chat %s: %w", r, err))
		}
	}
	return errors.Join(errs...)
}

// FailFor makes deliveries to recipient fail with err.
func (m *MockSink) FailFor(recipient string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFor[recipient] = err
}

// Deliveries returns a copy of all recorded deliveries.
func (m *MockSink) Deliveries() []Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// DeliveryCount returns the number of Deliver calls.
func (m *MockSink) DeliveryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.deliveries)
}
