package postgres

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EmbeddingStore = (*EmbeddingStore)(nil)

// EmbeddingStore keeps chunk vectors in a pgvector column.
// UNIQUE (document_id, chunk_index) rejects duplicate chunks.
type EmbeddingStore struct {
	db *DB
}

// NewEmbeddingStore creates a new EmbeddingStore
func NewEmbeddingStore(db *DB) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

// Insert stores one embedding. A duplicate chunk returns domain.ErrAlreadyExists.
func (s *EmbeddingStore) Insert(ctx context.Context, e *domain.Embedding) error {
	if e.ID == "" {
		e.ID = domain.GenerateID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO document_embeddings
			(id, document_id, workspace_id, chunk_index, text, embedding, model,
			 backup_key, token_count, start_char, end_char, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.DocumentID,
		e.WorkspaceID,
		e.ChunkIndex,
		e.Text,
		pgvector.NewVector(e.Vector),
		e.Model,
		e.BackupKey,
		e.TokenCount,
		e.StartChar,
		e.EndChar,
		e.CreatedAt,
	)
	return mapError("insert embedding", err)
}

// ListByDocument returns a document's embeddings ordered by chunk index
func (s *EmbeddingStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Embedding, error) {
	query := `
		SELECT id, document_id, workspace_id, chunk_index, text, embedding, model,
		       backup_key, token_count, start_char, end_char, created_at
		FROM document_embeddings
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, mapError("list embeddings", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Embedding
	for rows.Next() {
		var e domain.Embedding
		var vec pgvector.Vector
		if err := rows.Scan(
			&e.ID, &e.DocumentID, &e.WorkspaceID, &e.ChunkIndex, &e.Text, &vec, &e.Model,
			&e.BackupKey, &e.TokenCount, &e.StartChar, &e.EndChar, &e.CreatedAt,
		); err != nil {
			return nil, mapError("scan embedding", err)
		}
		e.Vector = vec.Slice()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteByDocument removes all embeddings of a document
func (s *EmbeddingStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_embeddings WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, mapError("delete embeddings", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountByDocument returns the number of stored embeddings of a document
func (s *EmbeddingStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_embeddings WHERE document_id = $1`, documentID,
	).Scan(&n)
	if err != nil {
		return 0, mapError("count embeddings", err)
	}
	return n, nil
}

// Search returns the workspace's nearest chunks by cosine distance (<=>)
func (s *EmbeddingStore) Search(ctx context.Context, workspaceID string, vector []float32, limit int) ([]*domain.SearchHit, error) {
	query := `
		SELECT document_id, chunk_index, text, embedding <=> $2 AS distance
		FROM document_embeddings
		WHERE workspace_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, workspaceID, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, mapError("search embeddings", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*domain.SearchHit
	for rows.Next() {
		var h domain.SearchHit
		if err := rows.Scan(&h.DocumentID, &h.ChunkIndex, &h.Text, &h.Distance); err != nil {
			return nil, mapError("scan search hit", err)
		}
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}
