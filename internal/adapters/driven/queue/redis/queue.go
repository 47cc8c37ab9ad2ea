package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

const (
	taskStream     = "flopods:tasks"
	taskGroup      = "flopods:workers"
	scheduledTasks = "flopods:scheduled"
	// taskIndex lists every stored task ID so listing never scans the keyspace
	taskIndex = "flopods:task-index"

	taskKeyPrefix    = "flopods:task:"
	messageKeyPrefix = "flopods:task-msg:"

	consumerPrefix = "worker-"

	defaultClaimTimeout = 5 * time.Minute
	// Failed tasks double as the dead-letter record, so they outlive a day
	defaultTaskTTL = 7 * 24 * time.Hour
)

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// Config holds Redis queue settings.
type Config struct {
	// ConsumerName must be unique per worker process
	ConsumerName string
	// ClaimTimeout is how long a delivered task may stay unacknowledged
	// before another worker claims it
	ClaimTimeout time.Duration
	// TaskTTL bounds how long task records are kept
	TaskTTL time.Duration
}

// Queue implements TaskQueue using Redis Streams with one consumer group.
// Task records live in JSON strings; the stream only carries task IDs.
// Delayed and retried tasks wait in a sorted set until due.
type Queue struct {
	client       *redis.Client
	consumerName string
	claimTimeout time.Duration
	taskTTL      time.Duration
}

// NewQueue creates a Redis-backed task queue and its consumer group.
func NewQueue(ctx context.Context, client *redis.Client, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = consumerPrefix + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = defaultClaimTimeout
	}
	if cfg.TaskTTL <= 0 {
		cfg.TaskTTL = defaultTaskTTL
	}

	q := &Queue{
		client:       client,
		consumerName: cfg.ConsumerName,
		claimTimeout: cfg.ClaimTimeout,
		taskTTL:      cfg.TaskTTL,
	}

	err := q.client.XGroupCreateMkStream(ctx, taskStream, taskGroup, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	return q, nil
}

// Enqueue adds a task to the queue for processing.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	return q.EnqueueBatch(ctx, []*domain.Task{task})
}

// EnqueueBatch adds multiple tasks in one transaction.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	now := time.Now()
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, task := range tasks {
			if task == nil {
				continue
			}
			if err := q.store(ctx, pipe, task); err != nil {
				return err
			}
			if task.ScheduledFor.After(now) {
				pipe.ZAdd(ctx, scheduledTasks, redis.Z{
					Score:  float64(task.ScheduledFor.Unix()),
					Member: task.ID,
				})
			} else {
				pipe.XAdd(ctx, streamEntry(task))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks until a task is available or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.read(ctx, 0)
}

// DequeueWithTimeout waits up to timeout seconds and returns nil if no task arrived.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if timeout <= 0 {
		// BLOCK 0 would wait forever
		timeout = 1
	}
	return q.read(ctx, time.Duration(timeout)*time.Second)
}

func (q *Queue) read(ctx context.Context, block time.Duration) (*domain.Task, error) {
	if err := q.promoteScheduledTasks(ctx); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Abandoned deliveries go first. Errors here only mean nothing to claim.
	if task, err := q.claimAbandonedTask(ctx); err == nil && task != nil {
		return task, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    taskGroup,
		Consumer: q.consumerName,
		Streams:  []string{taskStream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.deliver(ctx, streams[0].Messages[0])
}

// deliver loads the task behind a stream message and marks it processing.
// Messages without a task record are dropped.
func (q *Queue) deliver(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	taskID, _ := msg.Values["task_id"].(string)
	task, err := q.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) || taskID == "" {
		q.dropMessage(ctx, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.MarkProcessing()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := q.store(ctx, pipe, task); err != nil {
			return err
		}
		pipe.Set(ctx, messageKeyPrefix+task.ID, msg.ID, q.taskTTL)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark task processing: %w", err)
	}
	return task, nil
}

// Ack acknowledges successful completion of a task.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.MarkCompleted()

	return q.finish(ctx, task, nil)
}

// Nack schedules a retry with backoff, or marks the task failed once its
// attempts are exhausted.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if task.CanRetry() {
		task.Retry(reason)
		return q.finish(ctx, task, func(pipe redis.Pipeliner) {
			pipe.ZAdd(ctx, scheduledTasks, redis.Z{
				Score:  float64(task.ScheduledFor.Unix()),
				Member: task.ID,
			})
		})
	}

	task.MarkFailed(reason)
	return q.finish(ctx, task, nil)
}

// finish acknowledges the task's stream message and stores its new state
func (q *Queue) finish(ctx context.Context, task *domain.Task, extra func(redis.Pipeliner)) error {
	msgID, err := q.client.Get(ctx, messageKeyPrefix+task.ID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to get message ID: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if msgID != "" {
			pipe.XAck(ctx, taskStream, taskGroup, msgID)
			pipe.XDel(ctx, taskStream, msgID)
		}
		pipe.Del(ctx, messageKeyPrefix+task.ID)
		if extra != nil {
			extra(pipe)
		}
		return q.store(ctx, pipe, task)
	})
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, taskKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// ListTasks returns tasks matching the filter. The index is walked in full,
// so this is meant for operators, not hot paths.
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	var tasks []*domain.Task
	skipped := 0

	err := q.eachTask(ctx, func(task *domain.Task) bool {
		if filter.WorkspaceID != "" && task.WorkspaceID != filter.WorkspaceID {
			return true
		}
		if filter.Status != "" && task.Status != filter.Status {
			return true
		}
		if filter.Type != "" && task.Type != filter.Type {
			return true
		}
		if skipped < filter.Offset {
			skipped++
			return true
		}
		tasks = append(tasks, task)
		return filter.Limit <= 0 || len(tasks) < filter.Limit
	})
	return tasks, err
}

// CancelTask marks a pending task as failed with reason "cancelled".
func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: task %s is %s", domain.ErrInvalidInput, taskID, task.Status)
	}

	task.MarkFailed("cancelled")
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, scheduledTasks, taskID)
		return q.store(ctx, pipe, task)
	})
	return err
}

// PurgeTasks removes completed and failed tasks not updated for olderThanSeconds.
func (q *Queue) PurgeTasks(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)

	var expired []string
	err := q.eachTask(ctx, func(task *domain.Task) bool {
		done := task.Status == domain.TaskStatusCompleted || task.Status == domain.TaskStatusFailed
		if done && task.UpdatedAt.Before(cutoff) {
			expired = append(expired, task.ID)
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range expired {
			pipe.Del(ctx, taskKeyPrefix+id, messageKeyPrefix+id)
			pipe.SRem(ctx, taskIndex, id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", err)
	}
	return len(expired), nil
}

// Stats counts tasks by status from the task records.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}
	now := time.Now()

	err := q.eachTask(ctx, func(task *domain.Task) bool {
		switch task.Status {
		case domain.TaskStatusPending:
			stats.PendingCount++
			if age := int64(now.Sub(task.CreatedAt).Seconds()); age > stats.OldestPendingAge {
				stats.OldestPendingAge = age
			}
		case domain.TaskStatusProcessing:
			stats.ProcessingCount++
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is shared.
func (q *Queue) Close() error {
	return nil
}

func (q *Queue) store(ctx context.Context, pipe redis.Pipeliner, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}
	pipe.Set(ctx, taskKeyPrefix+task.ID, data, q.taskTTL)
	pipe.SAdd(ctx, taskIndex, task.ID)
	return nil
}

// eachTask calls fn for every indexed task until fn returns false.
// IDs whose record expired are pruned from the index.
func (q *Queue) eachTask(ctx context.Context, fn func(*domain.Task) bool) error {
	var cursor uint64
	for {
		ids, next, err := q.client.SScan(ctx, taskIndex, cursor, "", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan tasks: %w", err)
		}

		for _, id := range ids {
			task, err := q.GetTask(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				q.client.SRem(ctx, taskIndex, id)
				continue
			}
			if err != nil {
				continue
			}
			if !fn(task) {
				return nil
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// promoteScheduledTasks moves due delayed tasks onto the stream.
func (q *Queue) promoteScheduledTasks(ctx context.Context) error {
	due, err := q.client.ZRangeByScore(ctx, scheduledTasks, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(time.Now().Unix(), 10),
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	for _, taskID := range due {
		// ZREM decides which worker promotes the task
		removed, err := q.client.ZRem(ctx, scheduledTasks, taskID).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}

		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			continue
		}
		if err := q.client.XAdd(ctx, streamEntry(task)).Err(); err != nil {
			return err
		}
	}
	return nil
}

// claimAbandonedTask takes over a delivery that stayed unacknowledged for
// longer than the claim timeout, e.g. after a worker crash.
func (q *Queue) claimAbandonedTask(ctx context.Context) (*domain.Task, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: taskStream,
		Group:  taskGroup,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   q.claimTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, p := range pending {
		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   taskStream,
			Group:    taskGroup,
			Consumer: q.consumerName,
			MinIdle:  q.claimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if err != nil || len(claimed) == 0 {
			continue
		}

		task, err := q.deliver(ctx, claimed[0])
		if err != nil || task == nil {
			continue
		}
		return task, nil
	}
	return nil, nil
}

func (q *Queue) dropMessage(ctx context.Context, msgID string) {
	q.client.XAck(ctx, taskStream, taskGroup, msgID)
	q.client.XDel(ctx, taskStream, msgID)
}

func streamEntry(task *domain.Task) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: taskStream,
		Values: map[string]any{
			"task_id":      task.ID,
			"type":         string(task.Type),
			"workspace_id": task.WorkspaceID,
			"priority":     task.Priority,
		},
	}
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
