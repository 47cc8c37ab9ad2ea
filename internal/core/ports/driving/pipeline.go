package driving

import (
	"context"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// EmbeddingPipeline turns extracted document text into stored embeddings
type EmbeddingPipeline interface {
	// Run embeds a document's text starting at the job's chunk index.
	// Document-level failures are recorded on the document and not returned.
	Run(ctx context.Context, job domain.EmbeddingJob) error

	// Regenerate deletes every embedding and backup of a document and runs
	// the pipeline again from the first chunk
	Regenerate(ctx context.Context, documentID string) error
}

// IngestionService extracts text from documents and hands them to the pipeline
type IngestionService interface {
	// Ingest extracts text and enqueues embedding generation.
	// Extraction failures are recorded on the document and not returned.
	Ingest(ctx context.Context, job domain.IngestionJob) error
}

// MaintenanceService runs periodic housekeeping
type MaintenanceService interface {
	// SweepStaleDocuments marks documents stuck in PROCESSING as ERROR and
	// returns how many were marked
	SweepStaleDocuments(ctx context.Context) (int, error)

	// PurgeTasks removes finished queue tasks and returns how many were removed
	PurgeTasks(ctx context.Context) (int, error)
}
