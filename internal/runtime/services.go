package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Services holds references to the configured AI providers.
// Providers can be swapped while workers run (e.g. after a key rotation).
// Thread-safe for concurrent access.
type Services struct {
	mu sync.RWMutex

	embedding      driven.EmbeddingProvider
	embeddingModel string

	vision      driven.VisionProvider
	visionModel string
}

// NewServices creates an empty Services registry
func NewServices() *Services {
	return &Services{}
}

// EmbeddingProvider returns the current embedding provider (may be nil)
func (s *Services) EmbeddingProvider() driven.EmbeddingProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.embedding
}

// EmbeddingModel returns the configured model, or the provider's default
func (s *Services) EmbeddingModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.embeddingModel != "" || s.embedding == nil {
		return s.embeddingModel
	}
	return s.embedding.DefaultModel()
}

// VisionProvider returns the current vision provider (may be nil)
func (s *Services) VisionProvider() driven.VisionProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vision
}

// VisionModel returns the configured model, or the provider's default
func (s *Services) VisionModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.visionModel != "" || s.vision == nil {
		return s.visionModel
	}
	return s.vision.DefaultModel()
}

// SetEmbeddingProvider updates the embedding provider.
// Closes the old provider if it is a different instance.
func (s *Services) SetEmbeddingProvider(p driven.EmbeddingProvider, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embedding != nil && s.embedding != p {
		_ = s.embedding.Close()
	}
	s.embedding = p
	s.embeddingModel = model
}

// SetVisionProvider updates the vision provider.
// Closes the old provider if it is a different instance.
func (s *Services) SetVisionProvider(p driven.VisionProvider, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vision != nil && s.vision != p {
		_ = s.vision.Close()
	}
	s.vision = p
	s.visionModel = model
}

// Close shuts down all providers
func (s *Services) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.embedding != nil {
		_ = s.embedding.Close()
		s.embedding = nil
	}
	if s.vision != nil {
		_ = s.vision.Close()
		s.vision = nil
	}
	return nil
}

// ValidateAndSetEmbedding embeds a short check text with apiKey and installs the
// provider only if the returned vector has the expected size.
func (s *Services) ValidateAndSetEmbedding(ctx context.Context, p driven.EmbeddingProvider, model, apiKey string) error {
	if p == nil {
		s.SetEmbeddingProvider(nil, "")
		return nil
	}
	if model == "" {
		model = p.DefaultModel()
	}

	result, err := p.Embed(ctx, apiKey, model, "connectivity check")
	if err != nil {
		_ = p.Close()
		return err
	}
	if want := p.Dimensions(model); want > 0 && len(result.Vector) != want {
		_ = p.Close()
		return fmt.Errorf("%w: %s returned %d dimensions, expected %d",
			domain.ErrMalformedResponse, p.Name(), len(result.Vector), want)
	}

	s.SetEmbeddingProvider(p, model)
	return nil
}
