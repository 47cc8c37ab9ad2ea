package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven/mocks"
)

// mockSchedulerStore implements driven.SchedulerStore for testing
type mockSchedulerStore struct {
	mu             sync.Mutex
	scheduledTasks map[string]*domain.ScheduledTask
	getDueFn       func() ([]*domain.ScheduledTask, error)
}

var _ driven.SchedulerStore = (*mockSchedulerStore)(nil)

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{
		scheduledTasks: make(map[string]*domain.ScheduledTask),
	}
}

func (m *mockSchedulerStore) GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.scheduledTasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return task, nil
}

func (m *mockSchedulerStore) ListScheduledTasks(ctx context.Context, workspaceID string) ([]*domain.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.ScheduledTask
	for _, task := range m.scheduledTasks {
		if task.WorkspaceID == workspaceID {
			result = append(result, task)
		}
	}
	return result, nil
}

func (m *mockSchedulerStore) SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduledTasks[task.ID] = task
	return nil
}

func (m *mockSchedulerStore) DeleteScheduledTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scheduledTasks, id)
	return nil
}

func (m *mockSchedulerStore) GetDueScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	if m.getDueFn != nil {
		return m.getDueFn()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*domain.ScheduledTask
	for _, task := range m.scheduledTasks {
		if task.IsDue() {
			result = append(result, task)
		}
	}
	return result, nil
}

func (m *mockSchedulerStore) UpdateLastRun(ctx context.Context, id string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.scheduledTasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	task.UpdateNextRun()
	task.LastError = lastError
	return nil
}

func dueTask(id string, taskType domain.TaskType) *domain.ScheduledTask {
	task := domain.NewScheduledTask(id, id, taskType, "", time.Hour)
	task.NextRun = time.Now().Add(-time.Minute)
	return task
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(SchedulerConfig{
		Store:     newMockSchedulerStore(),
		TaskQueue: mocks.NewMockTaskQueue(),
	})

	if s.interval != 30*time.Second {
		t.Errorf("expected default interval 30s, got %v", s.interval)
	}
	if s.lockTTL != time.Minute {
		t.Errorf("expected default lock TTL 1m, got %v", s.lockTTL)
	}
	if s.logger == nil {
		t.Error("expected default logger")
	}
}

func TestScheduler_EnsureDefaults(t *testing.T) {
	store := newMockSchedulerStore()
	s := NewScheduler(SchedulerConfig{Store: store, TaskQueue: mocks.NewMockTaskQueue()})
	ctx := context.Background()

	existing := domain.NewScheduledTask("purge-tasks", "Purge", domain.TaskTypePurgeTasks, "", 6*time.Hour)
	existing.Enabled = false
	_ = store.SaveScheduledTask(ctx, existing)

	if err := s.EnsureDefaults(ctx, 5*time.Minute); err != nil {
		t.Fatalf("EnsureDefaults failed: %v", err)
	}

	sweep, err := store.GetScheduledTask(ctx, "sweep-stale-documents")
	if err != nil {
		t.Fatalf("sweep schedule not created: %v", err)
	}
	if sweep.Interval != 5*time.Minute {
		t.Errorf("expected sweep interval 5m, got %v", sweep.Interval)
	}

	purge, _ := store.GetScheduledTask(ctx, "purge-tasks")
	if purge.Enabled || purge.Interval != 6*time.Hour {
		t.Error("existing schedule must be left untouched")
	}
}

func TestScheduler_Poll(t *testing.T) {
	store := newMockSchedulerStore()
	queue := mocks.NewMockTaskQueue()
	s := NewScheduler(SchedulerConfig{Store: store, TaskQueue: queue})
	ctx := context.Background()

	_ = store.SaveScheduledTask(ctx, dueTask("sweep", domain.TaskTypeSweepStaleDocuments))
	notDue := domain.NewScheduledTask("purge", "purge", domain.TaskTypePurgeTasks, "", time.Hour)
	_ = store.SaveScheduledTask(ctx, notDue)

	if n := s.Poll(ctx); n != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", n)
	}

	tasks := queue.Tasks()
	if len(tasks) != 1 || tasks[0].Type != domain.TaskTypeSweepStaleDocuments {
		t.Fatalf("expected one sweep task, got %+v", tasks)
	}

	sweep, _ := store.GetScheduledTask(ctx, "sweep")
	if sweep.LastRun == nil || !sweep.NextRun.After(time.Now()) {
		t.Error("expected last run recorded and next run moved forward")
	}

	// Nothing is due any more
	if n := s.Poll(ctx); n != 0 {
		t.Errorf("expected no tasks on second poll, got %d", n)
	}
}

func TestScheduler_Poll_EnqueueError(t *testing.T) {
	store := newMockSchedulerStore()
	queue := mocks.NewMockTaskQueue()
	queue.EnqueueFn = func(*domain.Task) error { return errors.New("queue full") }
	s := NewScheduler(SchedulerConfig{Store: store, TaskQueue: queue})
	ctx := context.Background()

	_ = store.SaveScheduledTask(ctx, dueTask("sweep", domain.TaskTypeSweepStaleDocuments))

	if n := s.Poll(ctx); n != 0 {
		t.Errorf("expected 0 enqueued, got %d", n)
	}
	sweep, _ := store.GetScheduledTask(ctx, "sweep")
	if sweep.LastError != "queue full" {
		t.Errorf("expected last error recorded, got %q", sweep.LastError)
	}
}

func TestScheduler_Poll_LockHeld(t *testing.T) {
	store := newMockSchedulerStore()
	queue := mocks.NewMockTaskQueue()
	lock := mocks.NewMockDistributedLock()
	lock.Hold(schedulerLockName, time.Minute)
	s := NewScheduler(SchedulerConfig{Store: store, TaskQueue: queue, Lock: lock})
	ctx := context.Background()

	_ = store.SaveScheduledTask(ctx, dueTask("sweep", domain.TaskTypeSweepStaleDocuments))

	if n := s.Poll(ctx); n != 0 {
		t.Errorf("expected poll skipped while lock held, got %d", n)
	}
	if len(queue.Tasks()) != 0 {
		t.Error("expected no tasks enqueued")
	}
}

func TestScheduler_Poll_ReleasesLock(t *testing.T) {
	store := newMockSchedulerStore()
	lock := mocks.NewMockDistributedLock()
	s := NewScheduler(SchedulerConfig{Store: store, TaskQueue: mocks.NewMockTaskQueue(), Lock: lock})

	s.Poll(context.Background())

	if lock.IsHeld(schedulerLockName) {
		t.Error("expected scheduler lock released after poll")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	store := newMockSchedulerStore()
	queue := mocks.NewMockTaskQueue()
	s := NewScheduler(SchedulerConfig{Store: store, TaskQueue: queue, PollInterval: 10 * time.Millisecond})

	_ = store.SaveScheduledTask(context.Background(), dueTask("sweep", domain.TaskTypeSweepStaleDocuments))

	s.Start(context.Background())
	s.Start(context.Background()) // second start is a no-op
	deadline := time.Now().Add(time.Second)
	for len(queue.Tasks()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if len(queue.Tasks()) != 1 {
		t.Errorf("expected the due task enqueued once, got %d", len(queue.Tasks()))
	}
}

func TestScheduler_SetEnabledAndTrigger(t *testing.T) {
	store := newMockSchedulerStore()
	queue := mocks.NewMockTaskQueue()
	s := NewScheduler(SchedulerConfig{Store: store, TaskQueue: queue})
	ctx := context.Background()

	_ = store.SaveScheduledTask(ctx, domain.NewScheduledTask("purge", "purge", domain.TaskTypePurgeTasks, "", time.Hour))

	if err := s.SetEnabled(ctx, "purge", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	purge, _ := store.GetScheduledTask(ctx, "purge")
	if purge.Enabled {
		t.Error("expected schedule disabled")
	}

	task, err := s.TriggerNow(ctx, "purge")
	if err != nil {
		t.Fatalf("TriggerNow failed: %v", err)
	}
	if task.Type != domain.TaskTypePurgeTasks {
		t.Errorf("expected purge task, got %s", task.Type)
	}

	if _, err := s.TriggerNow(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := s.ListScheduledTasks(ctx, "")
	if err != nil || len(list) != 1 {
		t.Errorf("expected 1 platform schedule, got %d (%v)", len(list), err)
	}
}

func TestNewScheduledQueueTask_Workspace(t *testing.T) {
	scheduled := domain.NewScheduledTask("s", "s", domain.TaskTypeSweepStaleDocuments, "ws-1", time.Hour)
	task := newScheduledQueueTask(scheduled)

	if task.WorkspaceID != "ws-1" || task.Payload[domain.PayloadWorkspaceID] != "ws-1" {
		t.Errorf("expected workspace carried into task, got %+v", task)
	}
}
