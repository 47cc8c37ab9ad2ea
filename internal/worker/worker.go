package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driving"
)

// Scheduler enqueues periodic tasks while the worker runs
type Scheduler interface {
	Start(ctx context.Context)
	Stop()
}

// Worker processes tasks from the task queue.
type Worker struct {
	taskQueue   driven.TaskQueue
	ingestion   driving.IngestionService
	pipeline    driving.EmbeddingPipeline
	maintenance driving.MaintenanceService
	scheduler   Scheduler
	logger      *slog.Logger

	concurrency    int
	dequeueTimeout int // seconds
	errorBackoff   time.Duration

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue   driven.TaskQueue
	Ingestion   driving.IngestionService
	Pipeline    driving.EmbeddingPipeline
	Maintenance driving.MaintenanceService
	Scheduler   Scheduler // optional
	Logger      *slog.Logger

	Concurrency    int // Number of concurrent task processors
	DequeueTimeout int // Seconds to wait for a task before checking again
	ErrorBackoff   time.Duration
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}
	errorBackoff := cfg.ErrorBackoff
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		ingestion:      cfg.Ingestion,
		pipeline:       cfg.Pipeline,
		maintenance:    cfg.Maintenance,
		scheduler:      cfg.Scheduler,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		errorBackoff:   errorBackoff,
	}
}

// Start launches the processing goroutines and returns.
// They run until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if w.taskQueue == nil {
		return errors.New("worker requires a task queue")
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.scheduler != nil {
		w.scheduler.Start(ctx)
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop waits for in-flight tasks to finish and stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	<-w.doneCh

	// Background vision calls started by ingestion
	if waiter, ok := w.ingestion.(interface{ Wait() }); ok {
		waiter.Wait()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			w.sleep(ctx, w.errorBackoff)
			continue
		}
		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-t.C:
	}
}

// processTask runs one task and acks or nacks it. Nacked tasks are retried
// by the queue with backoff until their attempts run out.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With(
		"task_id", task.ID,
		"task_type", task.Type,
		"workspace_id", task.WorkspaceID,
		"attempt", task.Attempts,
	)
	logger.Info("processing task")

	start := time.Now()
	err := w.handle(ctx, task, logger)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			logger.Info("document busy, retrying later", "duration", duration, "error", err)
		} else {
			logger.Error("task failed", "duration", duration, "error", err)
		}

		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	logger.Info("task completed", "duration", duration)
	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

func (w *Worker) handle(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	switch task.Type {
	case domain.TaskTypeIngestDocument:
		if w.ingestion == nil {
			return errors.New("ingestion service not configured")
		}
		job := task.IngestionJob()
		if job.DocumentID == "" {
			return fmt.Errorf("%w: document_id not found in task payload", domain.ErrInvalidInput)
		}
		return w.ingestion.Ingest(ctx, job)

	case domain.TaskTypeGenerateEmbeddings:
		if w.pipeline == nil {
			return errors.New("embedding pipeline not configured")
		}
		job := task.EmbeddingJob()
		if job.DocumentID == "" {
			return fmt.Errorf("%w: document_id not found in task payload", domain.ErrInvalidInput)
		}
		return w.pipeline.Run(ctx, job)

	case domain.TaskTypeRegenerateEmbeddings:
		if w.pipeline == nil {
			return errors.New("embedding pipeline not configured")
		}
		documentID := task.DocumentID()
		if documentID == "" {
			return fmt.Errorf("%w: document_id not found in task payload", domain.ErrInvalidInput)
		}
		return w.pipeline.Regenerate(ctx, documentID)

	case domain.TaskTypeSweepStaleDocuments:
		if w.maintenance == nil {
			return errors.New("maintenance service not configured")
		}
		swept, err := w.maintenance.SweepStaleDocuments(ctx)
		if err != nil {
			return err
		}
		if swept > 0 {
			logger.Warn("marked stale documents as failed", "count", swept)
		}
		return nil

	case domain.TaskTypePurgeTasks:
		if w.maintenance == nil {
			return errors.New("maintenance service not configured")
		}
		purged, err := w.maintenance.PurgeTasks(ctx)
		if err != nil {
			return err
		}
		logger.Debug("purged finished tasks", "count", purged)
		return nil

	default:
		return fmt.Errorf("%w: unknown task type %s", domain.ErrInvalidInput, task.Type)
	}
}

// Health reports whether the worker runs and its queue answers.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{Running: running}
	if err := w.taskQueue.Ping(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}
	return health
}
