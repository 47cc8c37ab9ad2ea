package driven

import (
	"context"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// EmbeddingProvider calls an external embedding API once per input text.
// Implementations return *domain.ProviderError for HTTP and transport failures
// so callers can classify them; they do not retry.
type EmbeddingProvider interface {
	// Name returns the provider identifier (e.g. "gemini", "openai")
	Name() string

	// Embed generates the embedding of one text with the given key and model
	Embed(ctx context.Context, apiKey, model, text string) (*domain.EmbeddingResult, error)

	// Dimensions returns the vector size the model produces
	Dimensions(model string) int

	// DefaultModel returns the model used when none is configured
	DefaultModel() string

	// Close releases cached clients
	Close() error
}

// VisionProvider analyzes images with a multimodal model.
type VisionProvider interface {
	Name() string

	// Analyze answers the request's prompt about its image
	Analyze(ctx context.Context, req domain.VisionRequest) (*domain.VisionResult, error)

	DefaultModel() string
	Close() error
}
