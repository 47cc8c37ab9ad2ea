package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven/mocks"
)

func TestCreditLedger_ReserveAndSettle(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockCreditStore()
	store.SetBalance("ws-1", 100)
	ledger := NewCreditLedger(store, nil)

	r, err := ledger.Reserve(ctx, "ws-1", 30, domain.KeySourcePlatform)
	require.NoError(t, err)
	assert.False(t, r.Skipped)
	assert.Equal(t, int64(70), store.Balance("ws-1"))

	// Actual charge lower than reserved: surplus refunded
	require.NoError(t, ledger.Settle(ctx, r, 20))
	assert.Equal(t, int64(80), store.Balance("ws-1"))
	assert.Equal(t, int64(20), r.Credits)

	// Actual charge higher: difference debited
	require.NoError(t, ledger.Settle(ctx, r, 25))
	assert.Equal(t, int64(75), store.Balance("ws-1"))
}

func TestCreditLedger_ReserveInsufficient(t *testing.T) {
	store := mocks.NewMockCreditStore()
	store.SetBalance("ws-1", 5)
	ledger := NewCreditLedger(store, nil)

	_, err := ledger.Reserve(context.Background(), "ws-1", 6, domain.KeySourcePlatform)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientCredits))

	var insufficient *domain.InsufficientCreditsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(6), insufficient.Required)
	assert.Equal(t, int64(5), insufficient.Available)
	assert.Equal(t, int64(5), store.Balance("ws-1"), "failed reservation must not change the balance")
}

func TestCreditLedger_Release(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockCreditStore()
	store.SetBalance("ws-1", 50)
	ledger := NewCreditLedger(store, nil)

	r, err := ledger.Reserve(ctx, "ws-1", 40, domain.KeySourcePlatform)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, r))
	assert.Equal(t, int64(50), store.Balance("ws-1"))

	// Second release is a no-op
	require.NoError(t, ledger.Release(ctx, r))
	assert.Equal(t, int64(50), store.Balance("ws-1"))
}

func TestCreditLedger_BYOKSkipsCredits(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockCreditStore()
	store.SetBalance("ws-1", 0)
	ledger := NewCreditLedger(store, nil)

	r, err := ledger.Reserve(ctx, "ws-1", 1_000, domain.KeySourceBYOK)
	require.NoError(t, err)
	assert.True(t, r.Skipped)

	require.NoError(t, ledger.Settle(ctx, r, 2_000))
	require.NoError(t, ledger.Release(ctx, r))
	require.NoError(t, ledger.Deduct(ctx, "ws-1", 10, domain.KeySourceBYOK))
	assert.Equal(t, int64(0), store.Balance("ws-1"))
	assert.Equal(t, 0, store.DebitCount())
}

func TestCreditLedger_ZeroCreditsSkipped(t *testing.T) {
	store := mocks.NewMockCreditStore()
	ledger := NewCreditLedger(store, nil)

	// Unknown workspace is fine when nothing is charged
	r, err := ledger.Reserve(context.Background(), "ws-unknown", 0, domain.KeySourcePlatform)
	require.NoError(t, err)
	assert.True(t, r.Skipped)
}

func TestCreditLedger_ConcurrentDeduct(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockCreditStore()
	store.SetBalance("ws-1", 10)
	ledger := NewCreditLedger(store, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ledger.Deduct(ctx, "ws-1", 8, domain.KeySourcePlatform)
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientCredits):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(2), store.Balance("ws-1"))
}

func TestCreditLedger_Balance(t *testing.T) {
	store := mocks.NewMockCreditStore()
	store.SetBalance("ws-1", 42)
	ledger := NewCreditLedger(store, nil)

	balance, err := ledger.Balance(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)

	_, err = ledger.Balance(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
