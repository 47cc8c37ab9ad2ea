package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

const schedulerLockName = "flopods:scheduler"

// Scheduler enqueues maintenance tasks on their intervals.
// It runs on worker nodes; with a DistributedLock configured only one
// instance enqueues per poll.
type Scheduler struct {
	store  driven.SchedulerStore
	queue  driven.TaskQueue
	lock   driven.DistributedLock
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration
	lockTTL  time.Duration
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Store        driven.SchedulerStore
	TaskQueue    driven.TaskQueue
	Lock         driven.DistributedLock // optional
	Logger       *slog.Logger
	PollInterval time.Duration // default 30s
	LockTTL      time.Duration // default 2x poll interval
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 2 * interval
	}

	return &Scheduler{
		store:    cfg.Store,
		queue:    cfg.TaskQueue,
		lock:     cfg.Lock,
		logger:   logger,
		interval: interval,
		lockTTL:  lockTTL,
	}
}

// EnsureDefaults saves the default maintenance schedules that do not exist
// yet. Existing schedules keep their interval and enabled flag.
func (s *Scheduler) EnsureDefaults(ctx context.Context, staleSweepInterval time.Duration) error {
	for _, scheduled := range domain.DefaultMaintenanceSchedule() {
		_, err := s.store.GetScheduledTask(ctx, scheduled.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if scheduled.Type == domain.TaskTypeSweepStaleDocuments && staleSweepInterval > 0 {
			scheduled.Interval = staleSweepInterval
			scheduled.NextRun = time.Now().Add(staleSweepInterval)
		}
		if err := s.store.SaveScheduledTask(ctx, scheduled); err != nil {
			return err
		}
		s.logger.Info("created scheduled task", "scheduled_id", scheduled.ID, "interval", scheduled.Interval)
	}
	return nil
}

// Start begins the scheduler loop in the background.
// It runs until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info("scheduler starting", "poll_interval", s.interval)
	go s.run(ctx, s.stopCh, s.doneCh)
}

// Stop stops the loop and waits for the current poll to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll enqueues every due scheduled task once and returns how many were
// enqueued. It is a no-op when another instance holds the scheduler lock.
func (s *Scheduler) Poll(ctx context.Context) int {
	unlock, ok := s.tryLock(ctx)
	if !ok {
		return 0
	}
	defer unlock()

	due, err := s.store.GetDueScheduledTasks(ctx)
	if err != nil {
		s.logger.Error("failed to get due scheduled tasks", "error", err)
		return 0
	}

	enqueued := 0
	for _, scheduled := range due {
		if !scheduled.IsDue() {
			continue
		}

		task := newScheduledQueueTask(scheduled)
		if err := s.queue.Enqueue(ctx, task); err != nil {
			s.logger.Error("failed to enqueue scheduled task", "scheduled_id", scheduled.ID, "error", err)
			_ = s.store.UpdateLastRun(ctx, scheduled.ID, err.Error())
			continue
		}
		enqueued++

		s.logger.Info("enqueued scheduled task",
			"scheduled_id", scheduled.ID,
			"task_id", task.ID,
			"task_type", task.Type,
		)
		if err := s.store.UpdateLastRun(ctx, scheduled.ID, ""); err != nil {
			s.logger.Warn("failed to update scheduled task last run", "scheduled_id", scheduled.ID, "error", err)
		}
	}
	return enqueued
}

// tryLock takes the scheduler lock if one is configured. A lock backend
// error skips the cycle.
func (s *Scheduler) tryLock(ctx context.Context) (func(), bool) {
	if s.lock == nil {
		return func() {}, true
	}

	acquired, err := s.lock.Acquire(ctx, schedulerLockName, s.lockTTL)
	if err != nil {
		s.logger.Warn("failed to acquire scheduler lock", "error", err)
		return nil, false
	}
	if !acquired {
		s.logger.Debug("scheduler lock held by another instance, skipping cycle")
		return nil, false
	}
	return func() {
		if err := s.lock.Release(ctx, schedulerLockName); err != nil {
			s.logger.Warn("failed to release scheduler lock", "error", err)
		}
	}, true
}

func newScheduledQueueTask(scheduled *domain.ScheduledTask) *domain.Task {
	var payload map[string]string
	if scheduled.WorkspaceID != "" {
		payload = map[string]string{domain.PayloadWorkspaceID: scheduled.WorkspaceID}
	}
	return domain.NewTask(scheduled.Type, scheduled.WorkspaceID, payload)
}

// ListScheduledTasks lists the scheduled tasks of a workspace; the empty
// workspace holds platform maintenance.
func (s *Scheduler) ListScheduledTasks(ctx context.Context, workspaceID string) ([]*domain.ScheduledTask, error) {
	return s.store.ListScheduledTasks(ctx, workspaceID)
}

// SetEnabled enables or disables a scheduled task.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	scheduled, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return err
	}
	scheduled.Enabled = enabled
	return s.store.SaveScheduledTask(ctx, scheduled)
}

// TriggerNow enqueues a scheduled task immediately, ignoring its schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (*domain.Task, error) {
	scheduled, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return nil, err
	}

	task := newScheduledQueueTask(scheduled)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Info("manually triggered scheduled task", "scheduled_id", scheduled.ID, "task_id", task.ID)
	return task, nil
}
