package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CreditStore = (*CreditStore)(nil)

// CreditStore keeps workspace balances in the subscriptions table.
// Every balance change is a single conditional UPDATE, so concurrent
// debits can never drive a balance below zero.
type CreditStore struct {
	db *DB
}

// NewCreditStore creates a new CreditStore
func NewCreditStore(db *DB) *CreditStore {
	return &CreditStore{db: db}
}

func (s *CreditStore) GetSubscription(ctx context.Context, workspaceID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.db.QueryRowContext(ctx,
		`SELECT workspace_id, credits, byok_enabled, updated_at FROM subscriptions WHERE workspace_id = $1`,
		workspaceID,
	).Scan(&sub.WorkspaceID, &sub.Credits, &sub.BYOKEnabled, &sub.UpdatedAt)
	if err != nil {
		return nil, mapError("get subscription "+workspaceID, err)
	}
	return &sub, nil
}

// DebitCredits subtracts credits when the balance covers them
func (s *CreditStore) DebitCredits(ctx context.Context, workspaceID string, credits int64) (int64, error) {
	if credits < 0 {
		return 0, fmt.Errorf("%w: negative debit %d", domain.ErrInvalidInput, credits)
	}

	var balance int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE subscriptions
		SET credits = credits - $2, updated_at = NOW()
		WHERE workspace_id = $1 AND credits >= $2
		RETURNING credits
	`, workspaceID, credits).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, mapError("debit credits", err)
	}

	// Either the workspace is unknown or the balance is short
	sub, err := s.GetSubscription(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	return sub.Credits, &domain.InsufficientCreditsError{
		WorkspaceID: workspaceID,
		Required:    credits,
		Available:   sub.Credits,
	}
}

// CreditCredits adds credits back
func (s *CreditStore) CreditCredits(ctx context.Context, workspaceID string, credits int64) (int64, error) {
	if credits < 0 {
		return 0, fmt.Errorf("%w: negative credit %d", domain.ErrInvalidInput, credits)
	}

	var balance int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE subscriptions
		SET credits = credits + $2, updated_at = NOW()
		WHERE workspace_id = $1
		RETURNING credits
	`, workspaceID, credits).Scan(&balance)
	if err != nil {
		return 0, mapError("credit workspace "+workspaceID, err)
	}
	return balance, nil
}

func (s *CreditStore) SetBYOK(ctx context.Context, workspaceID string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET byok_enabled = $2, updated_at = NOW() WHERE workspace_id = $1`,
		workspaceID, enabled,
	)
	if err != nil {
		return mapError("set byok", err)
	}
	return expectRow(result, "subscription "+workspaceID)
}
