package driving

import (
	"context"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// SearchService answers semantic queries over a workspace's embeddings
type SearchService interface {
	Search(ctx context.Context, workspaceID, query string, limit int) ([]*domain.SearchHit, error)
}
