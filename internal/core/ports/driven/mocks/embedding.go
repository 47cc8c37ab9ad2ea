package mocks

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// MockEmbeddingProvider is a mock implementation of EmbeddingProvider for testing.
// It returns deterministic vectors derived from the text hash. Errors queued
// with FailWith are returned, one per call, before any vector is produced.
type MockEmbeddingProvider struct {
	mu         sync.Mutex
	name       string
	dimensions int
	model      string
	errs       []error
	calls      []string

	// VectorFn overrides the generated vector when set
	VectorFn func(text string) []float32
	// InputTokensFn overrides the reported token usage when set
	InputTokensFn func(text string) int
}

// NewMockEmbeddingProvider creates a new MockEmbeddingProvider
func NewMockEmbeddingProvider() *MockEmbeddingProvider {
	return &MockEmbeddingProvider{
		name:       "mock",
		dimensions: 8,
		model:      "mock-embedding-model",
	}
}

// FailWith queues errors returned by the next calls, in order
func (m *MockEmbeddingProvider) FailWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, errs...)
}

// Calls returns the texts embedded so far, including failed calls
func (m *MockEmbeddingProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockEmbeddingProvider) Name() string { return m.name }

func (m *MockEmbeddingProvider) Embed(ctx context.Context, apiKey, model, text string) (*domain.EmbeddingResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	vector := m.generateEmbedding(text)
	if m.VectorFn != nil {
		vector = m.VectorFn(text)
	}
	tokens := len(text) / 4
	if m.InputTokensFn != nil {
		tokens = m.InputTokensFn(text)
	}
	return &domain.EmbeddingResult{Vector: vector, InputTokens: tokens}, nil
}

func (m *MockEmbeddingProvider) Dimensions(model string) int { return m.dimensions }

func (m *MockEmbeddingProvider) DefaultModel() string { return m.model }

func (m *MockEmbeddingProvider) Close() error { return nil }

// generateEmbedding generates a deterministic embedding based on text hash
func (m *MockEmbeddingProvider) generateEmbedding(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vector := make([]float32, m.dimensions)
	for i := range vector {
		seed = seed*6364136223846793005 + 1442695040888963407
		vector[i] = float32(seed>>40)/float32(1<<24) - 0.5
	}
	return vector
}

// MockVisionProvider is a mock implementation of VisionProvider for testing
type MockVisionProvider struct {
	mu    sync.Mutex
	calls int

	// AnalyzeFn overrides Analyze when set
	AnalyzeFn func(req domain.VisionRequest) (*domain.VisionResult, error)
}

// NewMockVisionProvider creates a new MockVisionProvider
func NewMockVisionProvider() *MockVisionProvider {
	return &MockVisionProvider{}
}

func (m *MockVisionProvider) Name() string { return "mock-vision" }

func (m *MockVisionProvider) Analyze(ctx context.Context, req domain.VisionRequest) (*domain.VisionResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.AnalyzeFn != nil {
		return m.AnalyzeFn(req)
	}
	return &domain.VisionResult{Text: "an image", InputTokens: 258, OutputTokens: 12}, nil
}

// CallCount returns how many times Analyze ran
func (m *MockVisionProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockVisionProvider) DefaultModel() string { return "mock-vision-model" }

func (m *MockVisionProvider) Close() error { return nil }
