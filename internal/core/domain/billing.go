package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// KeySource tells whether a call uses the platform key or the workspace's own key
type KeySource string

const (
	// KeySourcePlatform is the shared platform key; calls are billed in credits
	KeySourcePlatform KeySource = "PLATFORM"
	// KeySourceBYOK is a workspace-supplied key; credits are never touched
	KeySourceBYOK KeySource = "BYOK"
)

// ProcessingType classifies a billed processing run
type ProcessingType string

const (
	ProcessingTypeEmbedding  ProcessingType = "EMBEDDING"
	ProcessingTypeOCR        ProcessingType = "OCR"
	ProcessingTypeExtraction ProcessingType = "EXTRACTION"
	ProcessingTypeVision     ProcessingType = "VISION"
)

// ProcessingStatus is the outcome of a billed run
type ProcessingStatus string

const (
	ProcessingStatusCompleted ProcessingStatus = "COMPLETED"
	ProcessingStatusFailed    ProcessingStatus = "FAILED"
)

// Subscription holds a workspace's credit balance. Credits never go negative.
type Subscription struct {
	WorkspaceID string    `json:"workspace_id"`
	Credits     int64     `json:"credits"`
	BYOKEnabled bool      `json:"byok_enabled"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProcessingCost is an append-only record of one processing run
type ProcessingCost struct {
	ID                string           `json:"id"`
	DocumentID        string           `json:"document_id"`
	WorkspaceID       string           `json:"workspace_id"`
	Type              ProcessingType   `json:"type"`
	Status            ProcessingStatus `json:"status"`
	Tokens            int64            `json:"tokens"`
	InputTokens       int64            `json:"input_tokens"`
	OutputTokens      int64            `json:"output_tokens"`
	Chunks            int              `json:"chunks"`
	ExtractionCostUSD decimal.Decimal  `json:"extraction_cost_usd"`
	EmbeddingCostUSD  decimal.Decimal  `json:"embedding_cost_usd"`
	VisionCostUSD     decimal.Decimal  `json:"vision_cost_usd"`
	TotalCostUSD      decimal.Decimal  `json:"total_cost_usd"`
	CreditsConsumed   int64            `json:"credits_consumed"`
	Model             string           `json:"model"`
	KeySource         KeySource        `json:"key_source"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// CostSummary aggregates ProcessingCost records
type CostSummary struct {
	WorkspaceID     string          `json:"workspace_id"`
	Runs            int64           `json:"runs"`
	Tokens          int64           `json:"tokens"`
	TotalCostUSD    decimal.Decimal `json:"total_cost_usd"`
	CreditsConsumed int64           `json:"credits_consumed"`
}

// EmbeddingResult is what a provider returns for one input text
type EmbeddingResult struct {
	Vector      []float32
	InputTokens int
}

// VisionRequest asks a vision model to describe or transcribe an image
type VisionRequest struct {
	APIKey   string
	Model    string
	Image    []byte
	MimeType string
	Prompt   string
}

// VisionResult is the structured answer of a vision model
type VisionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}
