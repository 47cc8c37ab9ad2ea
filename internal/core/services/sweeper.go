package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driving"
)

// Ensure MaintenanceService implements the driving port
var _ driving.MaintenanceService = (*MaintenanceService)(nil)

const (
	DefaultStaleAfter     = time.Hour
	DefaultTaskRetention  = 7 * 24 * time.Hour
	defaultSweepBatchSize = 100
)

// MaintenanceService fails documents abandoned in PROCESSING and purges
// finished queue tasks.
type MaintenanceService struct {
	documents     driven.DocumentStore
	queue         driven.TaskQueue
	lock          driven.DistributedLock
	staleAfter    time.Duration
	taskRetention time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// MaintenanceServiceConfig holds dependencies for MaintenanceService.
type MaintenanceServiceConfig struct {
	Documents driven.DocumentStore
	Queue     driven.TaskQueue
	// Lock, when set, keeps the sweeper away from documents a pipeline run
	// still holds
	Lock          driven.DistributedLock
	StaleAfter    time.Duration
	TaskRetention time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// NewMaintenanceService creates a maintenance service
func NewMaintenanceService(cfg MaintenanceServiceConfig) *MaintenanceService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.TaskRetention <= 0 {
		cfg.TaskRetention = DefaultTaskRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MaintenanceService{
		documents:     cfg.Documents,
		queue:         cfg.Queue,
		lock:          cfg.Lock,
		staleAfter:    cfg.StaleAfter,
		taskRetention: cfg.TaskRetention,
		now:           cfg.Now,
		logger:        logger,
	}
}

// SweepStaleDocuments marks documents that have not progressed for
// staleAfter as ERROR. Documents whose pipeline lock is held are skipped.
func (m *MaintenanceService) SweepStaleDocuments(ctx context.Context) (int, error) {
	before := m.now().Add(-m.staleAfter)

	stale, err := m.documents.ListStale(ctx, domain.DocumentStatusProcessing, before, defaultSweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale documents: %w", err)
	}

	swept := 0
	for _, doc := range stale {
		if err := ctx.Err(); err != nil {
			return swept, err
		}

		if m.lock != nil {
			acquired, err := m.lock.Acquire(ctx, DocumentLockName(doc.ID), time.Minute)
			if err != nil {
				return swept, fmt.Errorf("check document lock: %w", err)
			}
			if !acquired {
				continue
			}
		}

		metadata := map[string]string{
			domain.MetaError:    fmt.Sprintf("processing stalled for more than %s", m.staleAfter),
			domain.MetaFailedAt: m.now().UTC().Format(time.RFC3339),
		}
		if doc.Metadata[domain.MetaEmbeddingStatus] != "" {
			metadata[domain.MetaEmbeddingStatus] = domain.EmbeddingStatusFailed
		}
		err := m.documents.UpdateStatus(ctx, doc.ID, domain.DocumentStatusError, metadata)

		if m.lock != nil {
			_ = m.lock.Release(context.WithoutCancel(ctx), DocumentLockName(doc.ID))
		}
		if err != nil {
			return swept, fmt.Errorf("mark document %s failed: %w", doc.ID, err)
		}

		swept++
		m.logger.Warn("marked stale document as failed",
			"document_id", doc.ID,
			"workspace_id", doc.WorkspaceID,
			"last_update", doc.UpdatedAt,
		)
	}

	if swept > 0 {
		m.logger.Info("stale document sweep completed", "swept", swept)
	}
	return swept, nil
}

// PurgeTasks removes completed and failed tasks older than the retention.
func (m *MaintenanceService) PurgeTasks(ctx context.Context) (int, error) {
	n, err := m.queue.PurgeTasks(ctx, int(m.taskRetention.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	if n > 0 {
		m.logger.Info("purged finished tasks", "count", n)
	}
	return n, nil
}
