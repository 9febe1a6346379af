package mocks

import (
	"context"
	"sync"

	"github.com/copyleftdev/postscry/internal/taskstypes"
)

// MockNotifier records the tasks it was told about.
type MockNotifier struct {
	mu       sync.Mutex
	notified []*taskstypes.Task
	ch       chan *taskstypes.Task
	Err      error
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{ch: make(chan *taskstypes.Task, 16)}
}

func (m *MockNotifier) Notify(_ context.Context, task *taskstypes.Task) error {
	m.mu.Lock()
	m.notified = append(m.notified, task)
	m.mu.Unlock()
	select {
	case m.ch <- task:
	default:
	}
	return m.Err
}

// C delivers each notified task.
func (m *MockNotifier) C() <-chan *taskstypes.Task { return m.ch }

func (m *MockNotifier) Notified() []*taskstypes.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*taskstypes.Task(nil), m.notified...)
}
