package driven

import (
	"context"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// DocumentStore handles document persistence
type DocumentStore interface {
	// Save creates or updates a document
	Save(ctx context.Context, doc *domain.Document) error

	// Get retrieves a document by ID
	Get(ctx context.Context, id string) (*domain.Document, error)

	// UpdateStatus sets the status and merges the given metadata keys
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, metadata map[string]string) error

	// MergeMetadata merges keys into the metadata without touching the status
	MergeMetadata(ctx context.Context, id string, metadata map[string]string) error

	// ListStale lists documents in status whose last update is older than before
	ListStale(ctx context.Context, status domain.DocumentStatus, before time.Time, limit int) ([]*domain.Document, error)
}

// EmbeddingStore handles vector persistence
type EmbeddingStore interface {
	// Insert stores one embedding; a duplicate (document, chunk index) fails
	// with domain.ErrAlreadyExists
	Insert(ctx context.Context, embedding *domain.Embedding) error

	// ListByDocument returns a document's embeddings ordered by chunk index
	ListByDocument(ctx context.Context, documentID string) ([]*domain.Embedding, error)

	// DeleteByDocument removes all embeddings of a document and returns how many were removed
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// CountByDocument returns the number of stored embeddings of a document
	CountByDocument(ctx context.Context, documentID string) (int, error)

	// Search returns the nearest chunks of a workspace by cosine distance
	Search(ctx context.Context, workspaceID string, vector []float32, limit int) ([]*domain.SearchHit, error)
}
