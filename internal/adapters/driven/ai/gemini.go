package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var (
	_ driven.EmbeddingProvider = (*Gemini)(nil)
	_ driven.VisionProvider    = GeminiVision{}
)

const (
	ProviderGemini = "gemini"

	defaultGeminiEmbeddingModel = "text-embedding-004"
	defaultGeminiVisionModel    = "gemini-2.0-flash"
)

var geminiDimensions = map[string]int{
	"text-embedding-004":   768,
	"embedding-001":        768,
	"gemini-embedding-001": 3072,
}

// Gemini serves embeddings and image analysis through the Gemini API.
// One client is kept per API key since keys are bound at client creation.
type Gemini struct {
	embeddingModel string
	visionModel    string
	opts           []option.ClientOption

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// GeminiConfig holds Gemini adapter settings.
type GeminiConfig struct {
	EmbeddingModel string
	VisionModel    string
	// Endpoint overrides the API host
	Endpoint string
}

// NewGemini creates a Gemini provider.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultGeminiEmbeddingModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = defaultGeminiVisionModel
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	return &Gemini{
		embeddingModel: cfg.EmbeddingModel,
		visionModel:    cfg.VisionModel,
		opts:           opts,
		clients:        make(map[string]*genai.Client),
	}
}

func (g *Gemini) Name() string { return ProviderGemini }

// DefaultModel returns the embedding model
func (g *Gemini) DefaultModel() string { return g.embeddingModel }

// Dimensions returns the vector size of model
func (g *Gemini) Dimensions(model string) int {
	if d, ok := geminiDimensions[model]; ok {
		return d
	}
	return 768
}

// Embed generates the embedding of one text
func (g *Gemini) Embed(ctx context.Context, apiKey, model, text string) (*domain.EmbeddingResult, error) {
	client, err := g.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = g.embeddingModel
	}

	em := client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, mapGeminiError(err)
	}
	if resp == nil || resp.Embedding == nil {
		return nil, fmt.Errorf("%s: %w: no embedding in response", ProviderGemini, domain.ErrMalformedResponse)
	}

	// The embedding endpoint does not report usage
	return &domain.EmbeddingResult{Vector: resp.Embedding.Values}, nil
}

// Analyze answers req.Prompt about req.Image
func (g *Gemini) Analyze(ctx context.Context, req domain.VisionRequest) (*domain.VisionResult, error) {
	client, err := g.client(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = g.visionModel
	}

	m := client.GenerativeModel(model)
	m.SetTemperature(0)

	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: req.MimeType, Data: req.Image},
		genai.Text(req.Prompt),
	)
	if err != nil {
		return nil, mapGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%s: %w: no candidates", ProviderGemini, domain.ErrMalformedResponse)
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}

	result := &domain.VisionResult{Text: b.String()}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

// VisionModel returns the default vision model
func (g *Gemini) VisionModel() string { return g.visionModel }

// Vision returns g as a VisionProvider sharing its client cache.
func (g *Gemini) Vision() GeminiVision { return GeminiVision{g} }

// GeminiVision is the vision side of a Gemini provider.
type GeminiVision struct {
	*Gemini
}

// DefaultModel returns the vision model
func (v GeminiVision) DefaultModel() string { return v.visionModel }

// Close closes every cached client
func (g *Gemini) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for key, c := range g.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(g.clients, key)
	}
	return errors.Join(errs...)
}

func (g *Gemini) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, domain.NewProviderError(ProviderGemini, http.StatusUnauthorized, "missing api key")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, g.opts...)
	c, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, domain.NewTransportError(ProviderGemini, err)
	}
	g.clients[apiKey] = c
	return c, nil
}

// mapGeminiError converts API errors into ProviderErrors carrying the
// equivalent HTTP status.
func mapGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewTransportError(ProviderGemini, err)
	}

	ae, ok := apierror.FromError(err)
	if !ok {
		return domain.NewTransportError(ProviderGemini, err)
	}

	status := ae.HTTPCode()
	if status <= 0 {
		status = grpcToHTTP(ae.GRPCStatus().Code())
	}

	pe := domain.NewProviderError(ProviderGemini, status, ae.Error())
	pe.Err = err
	if info := ae.Details().RetryInfo; info != nil {
		pe.RetryAfter = info.GetRetryDelay().AsDuration()
	}
	return pe
}

func grpcToHTTP(code codes.Code) int {
	switch code {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
