package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Reservation is a debit taken before a billed run starts.
// Skipped reservations (BYOK or zero credits) never touch the balance.
type Reservation struct {
	WorkspaceID string
	Credits     int64
	Skipped     bool
}

// CreditLedger guards workspace credit balances.
// Every balance change is a single atomic store operation.
type CreditLedger struct {
	store  driven.CreditStore
	logger *slog.Logger
}

// NewCreditLedger creates a ledger
func NewCreditLedger(store driven.CreditStore, logger *slog.Logger) *CreditLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditLedger{store: store, logger: logger}
}

// Reserve debits credits up front. It fails with domain.ErrInsufficientCredits
// (as *domain.InsufficientCreditsError) when the balance does not cover them.
func (l *CreditLedger) Reserve(ctx context.Context, workspaceID string, credits int64, source domain.KeySource) (*Reservation, error) {
	if source == domain.KeySourceBYOK || credits <= 0 {
		return &Reservation{WorkspaceID: workspaceID, Skipped: true}, nil
	}

	balance, err := l.store.DebitCredits(ctx, workspaceID, credits)
	if err != nil {
		return nil, fmt.Errorf("reserve %d credits: %w", credits, err)
	}

	l.logger.Debug("credits reserved",
		"workspace_id", workspaceID,
		"credits", credits,
		"balance", balance,
	)
	return &Reservation{WorkspaceID: workspaceID, Credits: credits}, nil
}

// Deduct debits credits for a run that has already been priced.
func (l *CreditLedger) Deduct(ctx context.Context, workspaceID string, credits int64, source domain.KeySource) error {
	_, err := l.Reserve(ctx, workspaceID, credits, source)
	return err
}

// Settle adjusts a reservation to the actual charge: the difference is
// debited, or the surplus refunded.
func (l *CreditLedger) Settle(ctx context.Context, r *Reservation, actual int64) error {
	if r == nil || r.Skipped {
		return nil
	}

	diff := actual - r.Credits
	switch {
	case diff > 0:
		if _, err := l.store.DebitCredits(ctx, r.WorkspaceID, diff); err != nil {
			return fmt.Errorf("settle %d extra credits: %w", diff, err)
		}
	case diff < 0:
		if _, err := l.store.CreditCredits(ctx, r.WorkspaceID, -diff); err != nil {
			return fmt.Errorf("refund %d credits: %w", -diff, err)
		}
	}
	r.Credits = actual
	return nil
}

// Release refunds a reservation in full. Releasing twice is a no-op.
func (l *CreditLedger) Release(ctx context.Context, r *Reservation) error {
	if r == nil || r.Skipped || r.Credits == 0 {
		return nil
	}

	if _, err := l.store.CreditCredits(ctx, r.WorkspaceID, r.Credits); err != nil {
		return fmt.Errorf("release %d credits: %w", r.Credits, err)
	}
	l.logger.Debug("credits released", "workspace_id", r.WorkspaceID, "credits", r.Credits)
	r.Credits = 0
	return nil
}

// Balance returns the workspace's current credit balance
func (l *CreditLedger) Balance(ctx context.Context, workspaceID string) (int64, error) {
	sub, err := l.store.GetSubscription(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	return sub.Credits, nil
}
