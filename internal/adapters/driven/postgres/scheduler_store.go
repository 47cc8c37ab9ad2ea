package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SchedulerStore = (*SchedulerStore)(nil)

// SchedulerStore implements driven.SchedulerStore using PostgreSQL
type SchedulerStore struct {
	db *DB
}

// NewSchedulerStore creates a new SchedulerStore
func NewSchedulerStore(db *DB) *SchedulerStore {
	return &SchedulerStore{db: db}
}

const scheduledTaskColumns = `id, name, type, workspace_id, interval_ns, enabled, next_run, last_run, last_error`

// GetScheduledTask retrieves a scheduled task by ID
func (s *SchedulerStore) GetScheduledTask(ctx context.Context, id string) (*domain.ScheduledTask, error) {
	query := `SELECT ` + scheduledTaskColumns + ` FROM scheduled_tasks WHERE id = $1`

	task, err := scanScheduledTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError("get scheduled task "+id, err)
	}
	return task, nil
}

// ListScheduledTasks lists a workspace's schedules. The empty workspace
// holds the platform maintenance schedules.
func (s *SchedulerStore) ListScheduledTasks(ctx context.Context, workspaceID string) ([]*domain.ScheduledTask, error) {
	query := `
		SELECT ` + scheduledTaskColumns + `
		FROM scheduled_tasks
		WHERE workspace_id = $1
		ORDER BY next_run ASC
	`
	return s.query(ctx, query, workspaceID)
}

// SaveScheduledTask creates or updates a scheduled task
func (s *SchedulerStore) SaveScheduledTask(ctx context.Context, task *domain.ScheduledTask) error {
	query := `
		INSERT INTO scheduled_tasks (` + scheduledTaskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			workspace_id = EXCLUDED.workspace_id,
			interval_ns = EXCLUDED.interval_ns,
			enabled = EXCLUDED.enabled,
			next_run = EXCLUDED.next_run,
			last_run = EXCLUDED.last_run,
			last_error = EXCLUDED.last_error
	`
	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Name,
		string(task.Type),
		task.WorkspaceID,
		int64(task.Interval),
		task.Enabled,
		task.NextRun,
		nullTime(task.LastRun),
		task.LastError,
	)
	return mapError("save scheduled task", err)
}

// DeleteScheduledTask removes a scheduled task
func (s *SchedulerStore) DeleteScheduledTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return mapError("delete scheduled task", err)
	}
	return expectRow(result, "scheduled task "+id)
}

// GetDueScheduledTasks retrieves enabled tasks whose next run has passed
func (s *SchedulerStore) GetDueScheduledTasks(ctx context.Context) ([]*domain.ScheduledTask, error) {
	query := `
		SELECT ` + scheduledTaskColumns + `
		FROM scheduled_tasks
		WHERE enabled AND next_run <= NOW()
		ORDER BY next_run ASC
	`
	return s.query(ctx, query)
}

// UpdateLastRun stamps the run and schedules the next one a full interval
// later, in one statement.
func (s *SchedulerStore) UpdateLastRun(ctx context.Context, id string, lastError string) error {
	query := `
		UPDATE scheduled_tasks
		SET last_run = NOW(),
		    next_run = NOW() + (interval_ns / 1000) * INTERVAL '1 microsecond',
		    last_error = $2
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, lastError)
	if err != nil {
		return mapError("update scheduled task run", err)
	}
	return expectRow(result, "scheduled task "+id)
}

func (s *SchedulerStore) query(ctx context.Context, query string, args ...any) ([]*domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list scheduled tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.ScheduledTask
	for rows.Next() {
		task, err := scanScheduledTask(rows)
		if err != nil {
			return nil, mapError("scan scheduled task", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanScheduledTask(row rowScanner) (*domain.ScheduledTask, error) {
	var task domain.ScheduledTask
	var taskType string
	var lastRun sql.NullTime
	var intervalNs int64

	if err := row.Scan(
		&task.ID,
		&task.Name,
		&taskType,
		&task.WorkspaceID,
		&intervalNs,
		&task.Enabled,
		&task.NextRun,
		&lastRun,
		&task.LastError,
	); err != nil {
		return nil, err
	}

	task.Type = domain.TaskType(taskType)
	task.Interval = time.Duration(intervalNs)
	task.LastRun = timePtr(lastRun)
	return &task, nil
}
