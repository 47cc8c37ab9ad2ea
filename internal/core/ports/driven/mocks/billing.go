package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// MockCreditStore is an in-memory CreditStore. Debits are checked and applied
// under one lock, matching the conditional UPDATE of the real store.
type MockCreditStore struct {
	mu            sync.Mutex
	subscriptions map[string]*domain.Subscription
	debits        int
}

// NewMockCreditStore creates a new MockCreditStore
func NewMockCreditStore() *MockCreditStore {
	return &MockCreditStore{
		subscriptions: make(map[string]*domain.Subscription),
	}
}

// SetBalance creates or replaces a workspace subscription
func (m *MockCreditStore) SetBalance(workspaceID string, credits int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[workspaceID] = &domain.Subscription{WorkspaceID: workspaceID, Credits: credits}
}

// Balance returns the current balance, or -1 for unknown workspaces
func (m *MockCreditStore) Balance(workspaceID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[workspaceID]
	if !ok {
		return -1
	}
	return sub.Credits
}

// DebitCount returns how many debits succeeded
func (m *MockCreditStore) DebitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debits
}

func (m *MockCreditStore) GetSubscription(ctx context.Context, workspaceID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[workspaceID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MockCreditStore) DebitCredits(ctx context.Context, workspaceID string, credits int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[workspaceID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if sub.Credits < credits {
		return sub.Credits, &domain.InsufficientCreditsError{
			WorkspaceID: workspaceID,
			Required:    credits,
			Available:   sub.Credits,
		}
	}
	sub.Credits -= credits
	m.debits++
	return sub.Credits, nil
}

func (m *MockCreditStore) CreditCredits(ctx context.Context, workspaceID string, credits int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[workspaceID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	sub.Credits += credits
	return sub.Credits, nil
}

func (m *MockCreditStore) SetBYOK(ctx context.Context, workspaceID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[workspaceID]
	if !ok {
		return domain.ErrNotFound
	}
	sub.BYOKEnabled = enabled
	return nil
}

// MockProviderKeyStore is an in-memory ProviderKeyStore
type MockProviderKeyStore struct {
	mu   sync.RWMutex
	keys map[string]string // workspaceID/provider -> key
}

// NewMockProviderKeyStore creates a new MockProviderKeyStore
func NewMockProviderKeyStore() *MockProviderKeyStore {
	return &MockProviderKeyStore{keys: make(map[string]string)}
}

func (m *MockProviderKeyStore) GetProviderKey(ctx context.Context, workspaceID, provider string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.keys[workspaceID+"/"+provider]
	if !ok {
		return "", domain.ErrNotFound
	}
	return key, nil
}

func (m *MockProviderKeyStore) SaveProviderKey(ctx context.Context, workspaceID, provider, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[workspaceID+"/"+provider] = apiKey
	return nil
}

func (m *MockProviderKeyStore) DeleteProviderKey(ctx context.Context, workspaceID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, workspaceID+"/"+provider)
	return nil
}

// MockCostStore is an in-memory append-only CostStore
type MockCostStore struct {
	mu      sync.RWMutex
	records []*domain.ProcessingCost

	// AppendFn overrides Append when set
	AppendFn func(cost *domain.ProcessingCost) error
}

// NewMockCostStore creates a new MockCostStore
func NewMockCostStore() *MockCostStore {
	return &MockCostStore{}
}

func (m *MockCostStore) Append(ctx context.Context, cost *domain.ProcessingCost) error {
	if m.AppendFn != nil {
		return m.AppendFn(cost)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cost
	m.records = append(m.records, &cp)
	return nil
}

func (m *MockCostStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.ProcessingCost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.ProcessingCost
	for _, r := range m.records {
		if r.DocumentID == documentID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockCostStore) Summarize(ctx context.Context, workspaceID string, since time.Time) (*domain.CostSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary := &domain.CostSummary{WorkspaceID: workspaceID, TotalCostUSD: decimal.Zero}
	for _, r := range m.records {
		if r.WorkspaceID != workspaceID || r.CreatedAt.Before(since) {
			continue
		}
		summary.Runs++
		summary.Tokens += r.Tokens
		summary.TotalCostUSD = summary.TotalCostUSD.Add(r.TotalCostUSD)
		summary.CreditsConsumed += r.CreditsConsumed
	}
	return summary, nil
}

// Records returns every appended record
func (m *MockCostStore) Records() []*domain.ProcessingCost {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.ProcessingCost(nil), m.records...)
}
