package mocks

import (
	"context"
	"sync"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// MockTaskQueue is an in-memory TaskQueue for testing.
// Dequeue returns pending tasks in enqueue order, ignoring ScheduledFor.
type MockTaskQueue struct {
	mu    sync.Mutex
	tasks []*domain.Task
	acked []string
	nacks map[string]string

	// EnqueueFn overrides Enqueue when set
	EnqueueFn func(task *domain.Task) error
	// PurgeFn overrides PurgeTasks when set
	PurgeFn func(olderThan int) (int, error)
}

var _ driven.TaskQueue = (*MockTaskQueue)(nil)

// NewMockTaskQueue creates a new MockTaskQueue
func NewMockTaskQueue() *MockTaskQueue {
	return &MockTaskQueue{nacks: make(map[string]string)}
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, task *domain.Task) error {
	if m.EnqueueFn != nil {
		return m.EnqueueFn(task)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *MockTaskQueue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	for _, task := range tasks {
		if err := m.Enqueue(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockTaskQueue) Dequeue(ctx context.Context) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		if task.Status == domain.TaskStatusPending {
			task.MarkProcessing()
			return task, nil
		}
	}
	return nil, nil
}

func (m *MockTaskQueue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	return m.Dequeue(ctx)
}

func (m *MockTaskQueue) Ack(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, taskID)
	if task := m.find(taskID); task != nil {
		task.MarkCompleted()
	}
	return nil
}

func (m *MockTaskQueue) Nack(ctx context.Context, taskID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nacks[taskID] = reason
	if task := m.find(taskID); task != nil {
		task.MarkFailed(reason)
	}
	return nil
}

func (m *MockTaskQueue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task := m.find(taskID); task != nil {
		return task, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockTaskQueue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.Task
	for _, task := range m.tasks {
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		result = append(result, task)
	}
	return result, nil
}

func (m *MockTaskQueue) CancelTask(ctx context.Context, taskID string) error {
	return m.Nack(ctx, taskID, "cancelled")
}

func (m *MockTaskQueue) PurgeTasks(ctx context.Context, olderThan int) (int, error) {
	if m.PurgeFn != nil {
		return m.PurgeFn(olderThan)
	}
	return 0, nil
}

func (m *MockTaskQueue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &driven.QueueStats{}
	for _, task := range m.tasks {
		switch task.Status {
		case domain.TaskStatusPending:
			stats.PendingCount++
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (m *MockTaskQueue) Ping(ctx context.Context) error { return nil }

func (m *MockTaskQueue) Close() error { return nil }

// Tasks returns every enqueued task
func (m *MockTaskQueue) Tasks() []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Task(nil), m.tasks...)
}

// TasksOfType returns enqueued tasks of one type
func (m *MockTaskQueue) TasksOfType(taskType domain.TaskType) []*domain.Task {
	var result []*domain.Task
	for _, task := range m.Tasks() {
		if task.Type == taskType {
			result = append(result, task)
		}
	}
	return result
}

// Acked returns acknowledged task IDs
func (m *MockTaskQueue) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

// NackReason returns the reason a task was nacked with
func (m *MockTaskQueue) NackReason(taskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason, ok := m.nacks[taskID]
	return reason, ok
}

func (m *MockTaskQueue) find(taskID string) *domain.Task {
	for _, task := range m.tasks {
		if task.ID == taskID {
			return task
		}
	}
	return nil
}
