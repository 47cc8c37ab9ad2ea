package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// MockObjectStorage is an in-memory ObjectStorage for testing
type MockObjectStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
	deletes [][]string

	// PutFn overrides Put when set
	PutFn func(key string, data []byte) error
	// GetFn overrides Get when set
	GetFn func(key string) ([]byte, error)
}

// NewMockObjectStorage creates a new MockObjectStorage
func NewMockObjectStorage() *MockObjectStorage {
	return &MockObjectStorage{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MockObjectStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if m.PutFn != nil {
		return m.PutFn(key, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	m.types[key] = contentType
	return nil
}

func (m *MockObjectStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if m.GetFn != nil {
		return m.GetFn(key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MockObjectStorage) Delete(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
		delete(m.types, key)
	}
	m.deletes = append(m.deletes, append([]string(nil), keys...))
	return nil
}

func (m *MockObjectStorage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (m *MockObjectStorage) Ping(ctx context.Context) error {
	return nil
}

// Keys returns the stored keys in sorted order
func (m *MockObjectStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is stored
func (m *MockObjectStorage) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

// ContentType returns the content type key was stored with
func (m *MockObjectStorage) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[key]
}

// DeleteCalls returns the key batches passed to Delete
func (m *MockObjectStorage) DeleteCalls() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]string(nil), m.deletes...)
}
