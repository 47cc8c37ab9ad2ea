package mocks

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// MockDocumentStore is a mock implementation of DocumentStore for testing.
// Documents are copied in and out so callers never share state with the store.
type MockDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document

	// UpdateStatusFn overrides UpdateStatus when set
	UpdateStatusFn func(id string, status domain.DocumentStatus, metadata map[string]string) error
}

// NewMockDocumentStore creates a new MockDocumentStore
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{
		documents: make(map[string]*domain.Document),
	}
}

func (m *MockDocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = copyDocument(doc)
	return nil
}

func (m *MockDocumentStore) Get(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *MockDocumentStore) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, metadata map[string]string) error {
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(id, status, metadata)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Status = status
	for k, v := range metadata {
		doc.SetMeta(k, v)
	}
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) MergeMetadata(ctx context.Context, id string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	for k, v := range metadata {
		doc.SetMeta(k, v)
	}
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *MockDocumentStore) ListStale(ctx context.Context, status domain.DocumentStatus, before time.Time, limit int) ([]*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*domain.Document
	for _, doc := range m.documents {
		if doc.Status == status && doc.UpdatedAt.Before(before) {
			result = append(result, copyDocument(doc))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyDocument(doc *domain.Document) *domain.Document {
	cp := *doc
	if doc.Metadata != nil {
		cp.Metadata = make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// MockEmbeddingStore is a mock implementation of EmbeddingStore for testing.
// It enforces the (document, chunk index) uniqueness of the real table.
type MockEmbeddingStore struct {
	mu         sync.RWMutex
	embeddings map[string]map[int]*domain.Embedding // documentID -> chunk index

	// InsertHook runs before every insert, outside the lock
	InsertHook func(e *domain.Embedding)
	// InsertFn overrides Insert when set
	InsertFn func(e *domain.Embedding) error
}

// NewMockEmbeddingStore creates a new MockEmbeddingStore
func NewMockEmbeddingStore() *MockEmbeddingStore {
	return &MockEmbeddingStore{
		embeddings: make(map[string]map[int]*domain.Embedding),
	}
}

func (m *MockEmbeddingStore) Insert(ctx context.Context, e *domain.Embedding) error {
	if m.InsertHook != nil {
		m.InsertHook(e)
	}
	if m.InsertFn != nil {
		return m.InsertFn(e)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex, ok := m.embeddings[e.DocumentID]
	if !ok {
		byIndex = make(map[int]*domain.Embedding)
		m.embeddings[e.DocumentID] = byIndex
	}
	if _, exists := byIndex[e.ChunkIndex]; exists {
		return domain.ErrAlreadyExists
	}
	cp := *e
	byIndex[e.ChunkIndex] = &cp
	return nil
}

func (m *MockEmbeddingStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Embedding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*domain.Embedding, 0, len(m.embeddings[documentID]))
	for _, e := range m.embeddings[documentID] {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ChunkIndex < result[j].ChunkIndex })
	return result, nil
}

func (m *MockEmbeddingStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.embeddings[documentID])
	delete(m.embeddings, documentID)
	return n, nil
}

func (m *MockEmbeddingStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings[documentID]), nil
}

func (m *MockEmbeddingStore) Search(ctx context.Context, workspaceID string, vector []float32, limit int) ([]*domain.SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []*domain.SearchHit
	for _, byIndex := range m.embeddings {
		for _, e := range byIndex {
			if e.WorkspaceID != workspaceID {
				continue
			}
			hits = append(hits, &domain.SearchHit{
				DocumentID: e.DocumentID,
				ChunkIndex: e.ChunkIndex,
				Text:       e.Text,
				Distance:   cosineDistance(vector, e.Vector),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
