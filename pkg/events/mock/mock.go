package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"trade-ledger/pkg/events"
)

// MockPublisher records published messages. PublishFunc overrides behavior.
type MockPublisher struct {
	PublishFunc func(ctx context.Context, msg events.Message) error
	CloseFunc   func() error

	mu       sync.Mutex
	messages []events.Message

	closeCalls int64
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, msg events.Message) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, msg); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
	return nil
}

func (m *MockPublisher) Name() string { return "mock" }

func (m *MockPublisher) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Messages returns a copy of every successfully published message.
func (m *MockPublisher) Messages() []events.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]events.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *MockPublisher) CloseCalls() int {
	return int(atomic.LoadInt64(&m.closeCalls))
}
