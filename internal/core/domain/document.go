package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocumentStatus is the lifecycle state of a document
type DocumentStatus string

const (
	DocumentStatusUploading  DocumentStatus = "UPLOADING"
	DocumentStatusProcessing DocumentStatus = "PROCESSING"
	DocumentStatusReady      DocumentStatus = "READY"
	DocumentStatusError      DocumentStatus = "ERROR"
)

// SourceType classifies where a document's content comes from
type SourceType string

const (
	// SourceTypeInternal is a file uploaded to object storage
	SourceTypeInternal SourceType = "INTERNAL"
	// SourceTypeExternal is a URL fetched at ingestion time
	SourceTypeExternal SourceType = "EXTERNAL"
)

// ExternalProvider classifies external URLs
type ExternalProvider string

const (
	ExternalProviderYouTube ExternalProvider = "YOUTUBE"
	ExternalProviderWeb     ExternalProvider = "WEB"
)

// Metadata keys written by the ingestion and embedding pipelines.
const (
	MetaError               = "error"
	MetaFailedAt            = "failed_at"
	MetaTextLength          = "text_length"
	MetaTextKey             = "text_key"
	MetaExtractionSource    = "extraction_source"
	MetaExtractionStatus    = "extraction_status"
	MetaExtractedAt         = "extracted_at"
	MetaEmbeddingStatus     = "embedding_status"
	MetaEmbeddingRetryCount = "embedding_retry_count"
	MetaChunkCount          = "chunk_count"
	MetaEmbeddedAt          = "embedded_at"
	MetaEmbeddingModel      = "embedding_model"
	MetaEmbeddingGeneration = "embedding_generation"
	MetaVisionSummary       = "vision_summary"
)

// Values of MetaEmbeddingStatus.
const (
	EmbeddingStatusQueued     = "queued"
	EmbeddingStatusNotQueued  = "not_queued"
	EmbeddingStatusProcessing = "processing"
	EmbeddingStatusRetrying   = "retrying"
	EmbeddingStatusCompleted  = "completed"
	EmbeddingStatusFailed     = "failed"
)

// Document represents an uploaded or linked document owned by a workspace
type Document struct {
	ID               string            `json:"id"`
	WorkspaceID      string            `json:"workspace_id"`
	UserID           string            `json:"user_id"`
	Name             string            `json:"name"`
	SourceType       SourceType        `json:"source_type"`
	ExternalProvider ExternalProvider  `json:"external_provider,omitempty"`
	StorageKey       string            `json:"storage_key,omitempty"`  // object key for internal uploads
	ExternalURL      string            `json:"external_url,omitempty"` // URL for external sources
	MimeType         string            `json:"mime_type"`
	SizeBytes        int64             `json:"size_bytes"`
	Status           DocumentStatus    `json:"status"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsImage reports whether the document is an image upload.
func (d *Document) IsImage() bool {
	return strings.HasPrefix(d.MimeType, "image/")
}

// EmbeddingGeneration returns the document's embedding generation.
// Regeneration bumps it so jobs queued for an earlier pass can be dropped.
func (d *Document) EmbeddingGeneration() int {
	n, err := strconv.Atoi(d.Metadata[MetaEmbeddingGeneration])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SetMeta sets a metadata key, allocating the map if needed.
func (d *Document) SetMeta(key, value string) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[key] = value
}

// Chunk is a token-bounded span of a document's text. Chunks live only in
// memory; the Embedding record is their persisted form.
type Chunk struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
	StartChar  int    `json:"start_char"` // rune offset, inclusive
	EndChar    int    `json:"end_char"`   // rune offset, exclusive
}

// Embedding is the stored vector of one chunk. (DocumentID, ChunkIndex) is unique.
type Embedding struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	WorkspaceID string    `json:"workspace_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Text        string    `json:"text"`
	Vector      []float32 `json:"vector"`
	Model       string    `json:"model"`
	BackupKey   string    `json:"backup_key"`
	TokenCount  int       `json:"token_count"`
	StartChar   int       `json:"start_char"`
	EndChar     int       `json:"end_char"`
	CreatedAt   time.Time `json:"created_at"`
}

// SearchHit is one result of a vector similarity query
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"` // cosine distance, lower is closer
}

// ExtractedTextKey is the object key of a document's extracted text.
func ExtractedTextKey(workspaceID, documentID string) string {
	return fmt.Sprintf("documents/%s/%s/extracted.txt", workspaceID, documentID)
}

// EmbeddingBackupKey is the object key of one chunk's vector backup.
func EmbeddingBackupKey(workspaceID, documentID string, chunkIndex int) string {
	return fmt.Sprintf("embeddings/%s/%s/%d.json", workspaceID, documentID, chunkIndex)
}
