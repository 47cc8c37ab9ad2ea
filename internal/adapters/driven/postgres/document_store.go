package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore implements driven.DocumentStore using PostgreSQL.
// Metadata lives in a JSONB column; partial updates merge with ||.
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

const documentColumns = `id, workspace_id, user_id, name, source_type, external_provider,
	storage_key, external_url, mime_type, size_bytes, status, metadata, created_at, updated_at`

// Save creates or updates a document
func (s *DocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	metadataJSON, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return err
	}

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = now
	}

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			external_provider = EXCLUDED.external_provider,
			storage_key = EXCLUDED.storage_key,
			external_url = EXCLUDED.external_url,
			mime_type = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		doc.ID,
		doc.WorkspaceID,
		doc.UserID,
		doc.Name,
		string(doc.SourceType),
		string(doc.ExternalProvider),
		doc.StorageKey,
		doc.ExternalURL,
		doc.MimeType,
		doc.SizeBytes,
		string(doc.Status),
		metadataJSON,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	return mapError("save document", err)
}

// Get retrieves a document by ID
func (s *DocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError("get document "+id, err)
	}
	return doc, nil
}

// UpdateStatus sets the status and merges metadata in one statement
func (s *DocumentStore) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, metadata map[string]string) error {
	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE documents
		SET status = $2, metadata = metadata || $3::jsonb, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, string(status), metadataJSON)
	if err != nil {
		return mapError("update document status", err)
	}
	return expectRow(result, "document "+id)
}

// MergeMetadata merges keys into the metadata without touching the status
func (s *DocumentStore) MergeMetadata(ctx context.Context, id string, metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}
	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	query := `UPDATE documents SET metadata = metadata || $2::jsonb, updated_at = NOW() WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id, metadataJSON)
	if err != nil {
		return mapError("merge document metadata", err)
	}
	return expectRow(result, "document "+id)
}

// ListStale lists documents in status last updated before the cutoff, oldest first
func (s *DocumentStore) ListStale(ctx context.Context, status domain.DocumentStatus, before time.Time, limit int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, string(status), before, limit)
	if err != nil {
		return nil, mapError("list stale documents", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, mapError("scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var sourceType, provider, status string
	var metadataJSON []byte

	err := row.Scan(
		&doc.ID,
		&doc.WorkspaceID,
		&doc.UserID,
		&doc.Name,
		&sourceType,
		&provider,
		&doc.StorageKey,
		&doc.ExternalURL,
		&doc.MimeType,
		&doc.SizeBytes,
		&status,
		&metadataJSON,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.SourceType = domain.SourceType(sourceType)
	doc.ExternalProvider = domain.ExternalProvider(provider)
	doc.Status = domain.DocumentStatus(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

// expectRow returns domain.ErrNotFound when an UPDATE or DELETE matched nothing
func expectRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}
