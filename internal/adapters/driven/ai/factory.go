package ai

import (
	"fmt"
	"strings"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// StoredDimensions is the width of the embedding column, vector(768).
// OpenAI models that support it are asked for that size directly.
const StoredDimensions = 768

// ProviderConfig selects and configures one AI provider.
type ProviderConfig struct {
	// Provider is "gemini" or "openai". Empty disables the capability.
	Provider string
	Model    string
	// BaseURL overrides the API endpoint (OpenAI-compatible hosts, test servers)
	BaseURL string
}

// NewEmbeddingProvider creates the embedding provider named by cfg.
// Returns nil, nil when no provider is configured, and ErrInvalidInput when
// the model's vectors do not fit the embedding column.
func NewEmbeddingProvider(cfg ProviderConfig) (driven.EmbeddingProvider, error) {
	var p driven.EmbeddingProvider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case ProviderGemini:
		p = NewGemini(GeminiConfig{EmbeddingModel: cfg.Model, Endpoint: cfg.BaseURL})
	case ProviderOpenAI:
		p = NewOpenAIEmbedding(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidInput, cfg.Provider)
	}

	if err := CheckStoredDimensions(p, cfg.Model); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// CheckStoredDimensions fails when model, or the provider's default model
// when empty, does not produce StoredDimensions-wide vectors.
func CheckStoredDimensions(p driven.EmbeddingProvider, model string) error {
	if model == "" {
		model = p.DefaultModel()
	}
	if d := p.Dimensions(model); d != StoredDimensions {
		return fmt.Errorf("%w: embedding model %s produces %d dimensions, stored vectors have %d",
			domain.ErrInvalidInput, model, d, StoredDimensions)
	}
	return nil
}

// NewVisionProvider creates the vision provider named by cfg.
// Only Gemini serves vision; OpenAI here is an embeddings-only adapter.
func NewVisionProvider(cfg ProviderConfig) (driven.VisionProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case ProviderGemini:
		return NewGemini(GeminiConfig{VisionModel: cfg.Model, Endpoint: cfg.BaseURL}).Vision(), nil
	default:
		return nil, fmt.Errorf("%w: unknown vision provider %q", domain.ErrInvalidInput, cfg.Provider)
	}
}
