package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Ensure OpenAIEmbedding implements EmbeddingProvider
var _ driven.EmbeddingProvider = (*OpenAIEmbedding)(nil)

const (
	ProviderOpenAI = "openai"

	defaultOpenAIModel   = "text-embedding-3-small"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// Native dimensions of models that cannot be shortened
var openAIFixedDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedding calls an OpenAI-compatible /embeddings endpoint.
// The API key is passed per call so one instance serves every workspace.
type OpenAIEmbedding struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAIEmbedding creates an OpenAI embedding provider.
func NewOpenAIEmbedding(model, baseURL string) *OpenAIEmbedding {
	if model == "" {
		model = defaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIEmbedding{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// The caller bounds every call with its own deadline
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

type embeddingRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format,omitempty"`
	Dimensions     int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (e *OpenAIEmbedding) Name() string { return ProviderOpenAI }

func (e *OpenAIEmbedding) DefaultModel() string { return e.model }

// Dimensions returns the vector size requested for model
func (e *OpenAIEmbedding) Dimensions(model string) int {
	if d, ok := openAIFixedDimensions[model]; ok {
		return d
	}
	return StoredDimensions
}

// Embed generates the embedding of one text
func (e *OpenAIEmbedding) Embed(ctx context.Context, apiKey, model, text string) (*domain.EmbeddingResult, error) {
	if model == "" {
		model = e.model
	}

	reqBody := embeddingRequest{
		Input:          text,
		Model:          model,
		EncodingFormat: "float",
	}
	if _, fixed := openAIFixedDimensions[model]; !fixed {
		reqBody.Dimensions = StoredDimensions
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, domain.NewTransportError(ProviderOpenAI, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransportError(ProviderOpenAI, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, openAIError(resp, respBody)
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", ProviderOpenAI, domain.ErrMalformedResponse, err)
	}
	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("%s: %w: no embedding in response", ProviderOpenAI, domain.ErrMalformedResponse)
	}

	return &domain.EmbeddingResult{
		Vector:      embResp.Data[0].Embedding,
		InputTokens: embResp.Usage.PromptTokens,
	}, nil
}

// Close releases idle connections
func (e *OpenAIEmbedding) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// openAIError builds a ProviderError from a non-200 response
func openAIError(resp *http.Response, body []byte) error {
	message := http.StatusText(resp.StatusCode)
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	pe := domain.NewProviderError(ProviderOpenAI, resp.StatusCode, message)
	pe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return pe
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
