package driving

import (
	"context"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// DocumentService provides operator access to documents
type DocumentService interface {
	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// DownloadURL returns a signed URL for an uploaded document's source file
	DownloadURL(ctx context.Context, id string, ttl time.Duration) (string, error)

	// RequestIngestion enqueues text extraction for a document
	RequestIngestion(ctx context.Context, id string) (*domain.Task, error)

	// RequestRegeneration enqueues a full embedding rebuild for a document
	RequestRegeneration(ctx context.Context, id string) (*domain.Task, error)

	// Costs returns the cost records of a document
	Costs(ctx context.Context, id string) ([]*domain.ProcessingCost, error)

	// CostSummary aggregates a workspace's costs since the given time
	CostSummary(ctx context.Context, workspaceID string, since time.Time) (*domain.CostSummary, error)
}
