package services

import (
	"context"
	"fmt"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driving"
)

// Ensure documentService implements DocumentService
var _ driving.DocumentService = (*documentService)(nil)

const (
	defaultDownloadTTL = 15 * time.Minute
	maxDownloadTTL     = 7 * 24 * time.Hour
)

// documentService implements the DocumentService interface
type documentService struct {
	documents driven.DocumentStore
	storage   driven.ObjectStorage
	queue     driven.TaskQueue
	costs     driven.CostStore
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	documents driven.DocumentStore,
	storage driven.ObjectStorage,
	queue driven.TaskQueue,
	costs driven.CostStore,
) driving.DocumentService {
	return &documentService{
		documents: documents,
		storage:   storage,
		queue:     queue,
		costs:     costs,
	}
}

// Get retrieves a document by ID
func (s *documentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	return s.documents.Get(ctx, id)
}

// DownloadURL returns a signed URL for an uploaded document's source file
func (s *documentService) DownloadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if doc.SourceType != domain.SourceTypeInternal || doc.StorageKey == "" {
		return "", fmt.Errorf("%w: document %s has no uploaded file", domain.ErrInvalidInput, id)
	}

	if ttl <= 0 {
		ttl = defaultDownloadTTL
	}
	if ttl > maxDownloadTTL {
		ttl = maxDownloadTTL
	}
	return s.storage.SignedURL(ctx, doc.StorageKey, ttl)
}

// RequestIngestion enqueues text extraction for a document
func (s *documentService) RequestIngestion(ctx context.Context, id string) (*domain.Task, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	task := domain.NewIngestionTask(domain.IngestionJob{
		DocumentID:  doc.ID,
		WorkspaceID: doc.WorkspaceID,
		UserID:      doc.UserID,
	})
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue ingestion: %w", err)
	}
	return task, nil
}

// RequestRegeneration enqueues a full embedding rebuild for a document.
// Only documents whose text has been extracted can be regenerated.
func (s *documentService) RequestRegeneration(ctx context.Context, id string) (*domain.Task, error) {
	doc, err := s.documents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Metadata[domain.MetaTextKey] == "" {
		return nil, fmt.Errorf("%w: document %s has no extracted text", domain.ErrInvalidInput, id)
	}

	task := domain.NewRegenerateTask(doc.WorkspaceID, doc.ID)
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue regeneration: %w", err)
	}
	return task, nil
}

// Costs returns the cost records of a document
func (s *documentService) Costs(ctx context.Context, id string) ([]*domain.ProcessingCost, error) {
	if _, err := s.documents.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.costs.ListByDocument(ctx, id)
}

// CostSummary aggregates a workspace's costs since the given time
func (s *documentService) CostSummary(ctx context.Context, workspaceID string, since time.Time) (*domain.CostSummary, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", domain.ErrInvalidInput)
	}
	return s.costs.Summarize(ctx, workspaceID, since)
}
