package driven

import (
	"context"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// CreditStore holds workspace credit balances.
// Debits are atomic with respect to concurrent debits on the same workspace.
type CreditStore interface {
	// GetSubscription returns the workspace's balance and BYOK flag
	GetSubscription(ctx context.Context, workspaceID string) (*domain.Subscription, error)

	// DebitCredits subtracts credits only if the balance covers them and returns
	// the new balance; otherwise *domain.InsufficientCreditsError
	DebitCredits(ctx context.Context, workspaceID string, credits int64) (int64, error)

	// CreditCredits adds credits back and returns the new balance
	CreditCredits(ctx context.Context, workspaceID string, credits int64) (int64, error)

	// SetBYOK records whether the workspace brings its own provider keys
	SetBYOK(ctx context.Context, workspaceID string, enabled bool) error
}

// ProviderKeyStore holds workspace-supplied provider API keys.
type ProviderKeyStore interface {
	// GetProviderKey returns the plaintext key or domain.ErrNotFound
	GetProviderKey(ctx context.Context, workspaceID, provider string) (string, error)

	// SaveProviderKey stores the key encrypted
	SaveProviderKey(ctx context.Context, workspaceID, provider, apiKey string) error

	// DeleteProviderKey removes the key
	DeleteProviderKey(ctx context.Context, workspaceID, provider string) error
}

// CostStore appends ProcessingCost records. Records are never updated.
type CostStore interface {
	Append(ctx context.Context, cost *domain.ProcessingCost) error

	// ListByDocument returns a document's cost records, oldest first
	ListByDocument(ctx context.Context, documentID string) ([]*domain.ProcessingCost, error)

	// Summarize aggregates a workspace's records created at or after since
	Summarize(ctx context.Context, workspaceID string, since time.Time) (*domain.CostSummary, error)
}
