package driving

import (
	"context"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// ScheduleService manages periodic maintenance tasks
type ScheduleService interface {
	// ListScheduledTasks lists a workspace's schedules; "" lists platform maintenance
	ListScheduledTasks(ctx context.Context, workspaceID string) ([]*domain.ScheduledTask, error)

	SetEnabled(ctx context.Context, id string, enabled bool) error

	// TriggerNow enqueues a scheduled task immediately
	TriggerNow(ctx context.Context, id string) (*domain.Task, error)
}
