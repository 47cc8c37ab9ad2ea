package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CostStore = (*CostStore)(nil)

// CostStore appends processing cost records. Amounts are NUMERIC columns
// read back through decimal.Decimal.
type CostStore struct {
	db *DB
}

// NewCostStore creates a new CostStore
func NewCostStore(db *DB) *CostStore {
	return &CostStore{db: db}
}

// Append inserts one record
func (s *CostStore) Append(ctx context.Context, c *domain.ProcessingCost) error {
	if c.ID == "" {
		c.ID = domain.GenerateID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO processing_costs
			(id, document_id, workspace_id, type, status, tokens, input_tokens, output_tokens, chunks,
			 extraction_cost_usd, embedding_cost_usd, vision_cost_usd, total_cost_usd,
			 credits_consumed, model, key_source, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.DocumentID,
		c.WorkspaceID,
		string(c.Type),
		string(c.Status),
		c.Tokens,
		c.InputTokens,
		c.OutputTokens,
		c.Chunks,
		c.ExtractionCostUSD,
		c.EmbeddingCostUSD,
		c.VisionCostUSD,
		c.TotalCostUSD,
		c.CreditsConsumed,
		c.Model,
		string(c.KeySource),
		c.ErrorMessage,
		c.CreatedAt,
	)
	return mapError("append processing cost", err)
}

// ListByDocument returns a document's records, oldest first
func (s *CostStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.ProcessingCost, error) {
	query := `
		SELECT id, document_id, workspace_id, type, status, tokens, input_tokens, output_tokens, chunks,
		       extraction_cost_usd, embedding_cost_usd, vision_cost_usd, total_cost_usd,
		       credits_consumed, model, key_source, error_message, created_at
		FROM processing_costs
		WHERE document_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, mapError("list processing costs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ProcessingCost
	for rows.Next() {
		var c domain.ProcessingCost
		var typ, status, keySource string
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.WorkspaceID, &typ, &status,
			&c.Tokens, &c.InputTokens, &c.OutputTokens, &c.Chunks,
			&c.ExtractionCostUSD, &c.EmbeddingCostUSD, &c.VisionCostUSD, &c.TotalCostUSD,
			&c.CreditsConsumed, &c.Model, &keySource, &c.ErrorMessage, &c.CreatedAt,
		); err != nil {
			return nil, mapError("scan processing cost", err)
		}
		c.Type = domain.ProcessingType(typ)
		c.Status = domain.ProcessingStatus(status)
		c.KeySource = domain.KeySource(keySource)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Summarize aggregates a workspace's records created at or after since
func (s *CostStore) Summarize(ctx context.Context, workspaceID string, since time.Time) (*domain.CostSummary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(tokens), 0),
		       COALESCE(SUM(total_cost_usd), 0),
		       COALESCE(SUM(credits_consumed), 0)
		FROM processing_costs
		WHERE workspace_id = $1 AND created_at >= $2
	`
	summary := &domain.CostSummary{WorkspaceID: workspaceID}
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, query, workspaceID, since).Scan(
		&summary.Runs, &summary.Tokens, &total, &summary.CreditsConsumed,
	)
	if err != nil {
		return nil, mapError("summarize processing costs", err)
	}
	summary.TotalCostUSD = total
	return summary, nil
}
