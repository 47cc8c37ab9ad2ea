package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driving"
	"github.com/zahidkhandev/flopods-sub000/internal/ratelimit"
	"github.com/zahidkhandev/flopods-sub000/internal/runtime"
)

// Ensure searchService implements SearchService
var _ driving.SearchService = (*searchService)(nil)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// searchService embeds a query and ranks stored chunks by cosine distance
type searchService struct {
	embeddings   driven.EmbeddingStore
	services     *runtime.Services // embedding provider may change at runtime
	keys         *KeyResolver
	limiter      *ratelimit.Limiter
	clientConfig EmbeddingClientConfig
	logger       *slog.Logger
}

// SearchServiceConfig holds dependencies for the search service.
type SearchServiceConfig struct {
	Embeddings   driven.EmbeddingStore
	Services     *runtime.Services
	Keys         *KeyResolver
	Limiter      *ratelimit.Limiter
	ClientConfig EmbeddingClientConfig
	Logger       *slog.Logger
}

// NewSearchService creates a new SearchService.
// Queries share the limiter with the pipeline so both respect the same cooldowns.
func NewSearchService(cfg SearchServiceConfig) driving.SearchService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := cfg.ClientConfig
	if clientCfg.Logger == nil {
		clientCfg.Logger = logger
	}
	return &searchService{
		embeddings:   cfg.Embeddings,
		services:     cfg.Services,
		keys:         cfg.Keys,
		limiter:      cfg.Limiter,
		clientConfig: clientCfg,
		logger:       logger,
	}
}

// Search returns the chunks of a workspace closest to query
func (s *searchService) Search(ctx context.Context, workspaceID, query string, limit int) ([]*domain.SearchHit, error) {
	start := time.Now()

	query = domain.SanitizeText(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", domain.ErrInvalidInput)
	}

	// Apply defaults
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	provider := s.services.EmbeddingProvider()
	if provider == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", domain.ErrServiceUnavailable)
	}

	key, err := s.keys.Resolve(ctx, workspaceID, provider.Name())
	if err != nil {
		return nil, err
	}

	client := NewEmbeddingClient(provider, s.limiter, s.clientConfig)
	result, err := client.Embed(ctx, EmbedCall{
		APIKey:      key.APIKey,
		Model:       s.services.EmbeddingModel(),
		Text:        strings.TrimSpace(query),
		Fingerprint: key.Fingerprint,
		Tier:        key.Tier,
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.embeddings.Search(ctx, workspaceID, result.Vector, limit)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}

	s.logger.Debug("search completed",
		"workspace_id", workspaceID,
		"hits", len(hits),
		"took_ms", time.Since(start).Milliseconds(),
	)
	return hits, nil
}
