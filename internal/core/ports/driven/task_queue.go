package driven

import (
	"context"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// TaskQueue carries ingestion, embedding and maintenance tasks between the
// scheduler, the ops API and the workers. Redis is used when REDIS_URL is set,
// Postgres otherwise; both keep failed tasks as the dead-letter record.
type TaskQueue interface {
	// Enqueue stores a pending task. A ScheduledFor in the future delays delivery,
	// which is how throttled embedding runs are requeued.
	Enqueue(ctx context.Context, task *domain.Task) error

	// EnqueueBatch stores all tasks or none. Nil entries are skipped.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) error

	// Dequeue claims the next due task and marks it processing with Attempts
	// incremented. Returns nil, nil when nothing is due.
	Dequeue(ctx context.Context) (*domain.Task, error)

	// DequeueWithTimeout is Dequeue waiting up to timeout seconds.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack marks a claimed task completed.
	Ack(ctx context.Context, taskID string) error

	// Nack records reason and either schedules a retry with the task's backoff
	// or, once MaxAttempts is reached, marks it failed.
	Nack(ctx context.Context, taskID string, reason string) error

	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CancelTask fails a pending task with reason "cancelled". Tasks that are
	// missing or past pending return an error.
	CancelTask(ctx context.Context, taskID string) error

	// PurgeTasks deletes completed and failed tasks last updated more than
	// olderThan seconds ago and returns how many were removed.
	PurgeTasks(ctx context.Context, olderThan int) (int, error)

	Stats(ctx context.Context) (*QueueStats, error)

	Ping(ctx context.Context) error

	Close() error
}

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	WorkspaceID string
	Status      domain.TaskStatus
	Type        domain.TaskType
	Limit       int
	Offset      int
}

// QueueStats is served by `flopods-core status` and GET /api/v1/queue/stats.
// FailedCount doubles as the dead-letter depth.
type QueueStats struct {
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	CompletedCount  int64 `json:"completed_count"`
	FailedCount     int64 `json:"failed_count"`
	// OldestPendingAge is in seconds
	OldestPendingAge int64 `json:"oldest_pending_age"`
}

// SchedulerStore persists the maintenance schedule (stale sweep, task purge).
type SchedulerStore interface {
	GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error)

	// ListScheduledTasks lists the schedules of a workspace; "" lists the global ones
	ListScheduledTasks(ctx context.Context, workspaceID string) ([]*domain.ScheduledTask, error)

	// SaveScheduledTask upserts by ID
	SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error

	DeleteScheduledTask(ctx context.Context, id string) error

	// GetDueScheduledTasks returns enabled schedules whose NextRun has passed
	GetDueScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error)

	// UpdateLastRun stamps LastRun, records lastError and advances NextRun by the interval
	UpdateLastRun(ctx context.Context, id string, lastError string) error
}
