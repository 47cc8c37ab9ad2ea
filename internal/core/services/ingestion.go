package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/zahidkhandev/flopods-sub000/internal/billing"
	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driving"
	"github.com/zahidkhandev/flopods-sub000/internal/runtime"
)

// Ensure IngestionService implements the driving port
var _ driving.IngestionService = (*IngestionService)(nil)

// Extraction sources recorded in document metadata.
const (
	ExtractionSourceOCR        = "vision_ocr"
	ExtractionSourceYouTube    = "youtube_transcript"
	ExtractionSourceWebScraper = "web_scraper"
)

const (
	DefaultVisionTimeout = 2 * time.Minute

	DefaultOCRPrompt = "Transcribe all text visible in this image exactly as written. " +
		"Preserve reading order and line breaks. Reply with the text only."
	DefaultDescribePrompt = "Describe this image in two or three sentences for search indexing."

	// Reservation estimates for one image call
	estimatedImageTokens  = 258
	estimatedOutputTokens = 1024
)

// errSourceUnavailable marks source downloads that failed for reasons other
// than a missing object.
var errSourceUnavailable = errors.New("source download failed")

// IngestionService extracts text from uploaded files and external URLs,
// stores it and hands the document to the embedding pipeline.
type IngestionService struct {
	documents      driven.DocumentStore
	storage        driven.ObjectStorage
	queue          driven.TaskQueue
	extractors     driven.ExtractorRegistry
	transcripts    driven.TranscriptFetcher
	scraper        driven.WebScraper
	services       *runtime.Services
	keys           *KeyResolver
	ledger         *CreditLedger
	estimator      *billing.Estimator
	costs          driven.CostStore
	visionTimeout  time.Duration
	ocrPrompt      string
	describePrompt string
	logger         *slog.Logger

	// side tracks background vision calls
	side sync.WaitGroup
}

// IngestionServiceConfig holds dependencies for IngestionService.
type IngestionServiceConfig struct {
	Documents   driven.DocumentStore
	Storage     driven.ObjectStorage // documents bucket: sources and extracted text
	Queue       driven.TaskQueue
	Extractors  driven.ExtractorRegistry
	Transcripts driven.TranscriptFetcher
	Scraper     driven.WebScraper
	Services    *runtime.Services
	Keys        *KeyResolver
	Ledger      *CreditLedger
	Estimator   *billing.Estimator
	Costs       driven.CostStore

	VisionTimeout  time.Duration
	OCRPrompt      string
	DescribePrompt string
	Logger         *slog.Logger
}

// NewIngestionService creates an ingestion service
func NewIngestionService(cfg IngestionServiceConfig) *IngestionService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.VisionTimeout <= 0 {
		cfg.VisionTimeout = DefaultVisionTimeout
	}
	if cfg.OCRPrompt == "" {
		cfg.OCRPrompt = DefaultOCRPrompt
	}
	if cfg.DescribePrompt == "" {
		cfg.DescribePrompt = DefaultDescribePrompt
	}

	return &IngestionService{
		documents:      cfg.Documents,
		storage:        cfg.Storage,
		queue:          cfg.Queue,
		extractors:     cfg.Extractors,
		transcripts:    cfg.Transcripts,
		scraper:        cfg.Scraper,
		services:       cfg.Services,
		keys:           cfg.Keys,
		ledger:         cfg.Ledger,
		estimator:      cfg.Estimator,
		costs:          cfg.Costs,
		visionTimeout:  cfg.VisionTimeout,
		ocrPrompt:      cfg.OCRPrompt,
		describePrompt: cfg.DescribePrompt,
		logger:         logger,
	}
}

// extraction is the outcome of reading one document's source
type extraction struct {
	text   string
	source string
	image  []byte
}

// Ingest extracts the document's text, stores it and enqueues embedding.
// Extraction failures are terminal: they are recorded on the document and
// nil is returned.
func (s *IngestionService) Ingest(ctx context.Context, job domain.IngestionJob) error {
	if job.DocumentID == "" {
		return fmt.Errorf("%w: ingestion job without document id", domain.ErrInvalidInput)
	}

	doc, err := s.documents.Get(ctx, job.DocumentID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("document deleted before ingestion", "document_id", job.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	if err := s.documents.UpdateStatus(ctx, doc.ID, domain.DocumentStatusProcessing, map[string]string{
		domain.MetaExtractionStatus: "extracting",
	}); err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	s.logger.Info("ingesting document",
		"document_id", doc.ID,
		"workspace_id", doc.WorkspaceID,
		"source_type", doc.SourceType,
		"mime_type", doc.MimeType,
	)

	result, err := s.extract(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return s.fail(ctx, doc, err)
	}

	text := domain.SanitizeText(result.text)
	if text == "" {
		return s.fail(ctx, doc, fmt.Errorf("%w: no text extracted", domain.ErrExtractionFailed))
	}

	textKey := domain.ExtractedTextKey(doc.WorkspaceID, doc.ID)
	if err := s.storage.Put(ctx, textKey, []byte(text), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("failed to store extracted text: %w", err)
	}

	metadata := map[string]string{
		domain.MetaTextLength:       strconv.Itoa(utf8.RuneCountInString(text)),
		domain.MetaTextKey:          textKey,
		domain.MetaExtractionSource: result.source,
		domain.MetaExtractionStatus: "completed",
		domain.MetaExtractedAt:      time.Now().UTC().Format(time.RFC3339),
		domain.MetaEmbeddingStatus:  domain.EmbeddingStatusQueued,
	}
	if err := s.documents.UpdateStatus(ctx, doc.ID, domain.DocumentStatusProcessing, metadata); err != nil {
		return fmt.Errorf("failed to record extraction: %w", err)
	}

	if result.image != nil {
		s.describeImage(doc, result.image)
	}

	task := domain.NewEmbeddingTask(domain.EmbeddingJob{
		DocumentID:  doc.ID,
		WorkspaceID: doc.WorkspaceID,
		UserID:      doc.UserID,
		Generation:  doc.EmbeddingGeneration(),
	})
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("failed to enqueue embedding generation",
			"document_id", doc.ID,
			"workspace_id", doc.WorkspaceID,
			"error", err,
		)
		if err := s.documents.UpdateStatus(ctx, doc.ID, domain.DocumentStatusReady, map[string]string{
			domain.MetaEmbeddingStatus: domain.EmbeddingStatusNotQueued,
		}); err != nil {
			return fmt.Errorf("failed to update document status: %w", err)
		}
		return nil
	}

	s.logger.Info("document extracted",
		"document_id", doc.ID,
		"workspace_id", doc.WorkspaceID,
		"extraction_source", result.source,
		"text_length", metadata[domain.MetaTextLength],
		"task_id", task.ID,
	)
	return nil
}

// Wait blocks until background vision calls have finished
func (s *IngestionService) Wait() {
	s.side.Wait()
}

func (s *IngestionService) extract(ctx context.Context, doc *domain.Document) (*extraction, error) {
	switch doc.SourceType {
	case domain.SourceTypeInternal:
		return s.extractInternal(ctx, doc)
	case domain.SourceTypeExternal:
		return s.extractExternal(ctx, doc)
	default:
		return nil, fmt.Errorf("%w: source type %q", domain.ErrUnsupportedSource, doc.SourceType)
	}
}

func (s *IngestionService) extractInternal(ctx context.Context, doc *domain.Document) (*extraction, error) {
	if doc.StorageKey == "" {
		return nil, fmt.Errorf("%w: document has no storage key", domain.ErrInvalidInput)
	}

	data, err := s.storage.Get(ctx, doc.StorageKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("source file missing: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errSourceUnavailable, err)
	}

	if doc.IsImage() {
		text, err := s.ocr(ctx, doc, data)
		if err != nil {
			return nil, err
		}
		return &extraction{text: text, source: ExtractionSourceOCR, image: data}, nil
	}

	text, name, err := s.extractors.Extract(ctx, data, doc.MimeType)
	if err != nil {
		return nil, err
	}
	return &extraction{text: text, source: name}, nil
}

func (s *IngestionService) extractExternal(ctx context.Context, doc *domain.Document) (*extraction, error) {
	if doc.ExternalURL == "" {
		return nil, fmt.Errorf("%w: document has no external url", domain.ErrInvalidInput)
	}

	provider := doc.ExternalProvider
	if provider == "" {
		provider = detectExternalProvider(doc.ExternalURL)
	}

	switch provider {
	case domain.ExternalProviderYouTube:
		if s.transcripts == nil {
			return nil, fmt.Errorf("%w: transcript fetching is not configured", domain.ErrUnsupportedSource)
		}
		text, err := s.transcripts.FetchTranscript(ctx, doc.ExternalURL)
		if err != nil {
			return nil, err
		}
		return &extraction{text: text, source: ExtractionSourceYouTube}, nil
	case domain.ExternalProviderWeb:
		if s.scraper == nil {
			return nil, fmt.Errorf("%w: web scraping is not configured", domain.ErrUnsupportedSource)
		}
		text, err := s.scraper.Scrape(ctx, doc.ExternalURL)
		if err != nil {
			return nil, err
		}
		return &extraction{text: text, source: ExtractionSourceWebScraper}, nil
	default:
		return nil, fmt.Errorf("%w: external provider %q", domain.ErrUnsupportedSource, provider)
	}
}

func detectExternalProvider(rawURL string) domain.ExternalProvider {
	u, err := url.Parse(rawURL)
	if err != nil {
		return domain.ExternalProviderWeb
	}
	host := strings.ToLower(u.Host)
	if host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") {
		return domain.ExternalProviderYouTube
	}
	return domain.ExternalProviderWeb
}

// ocr transcribes an image through the vision provider. The call is billed
// like an embedding run: reserve, call, settle.
func (s *IngestionService) ocr(ctx context.Context, doc *domain.Document, image []byte) (string, error) {
	result, err := s.analyze(ctx, doc, image, s.ocrPrompt, domain.ProcessingTypeOCR)
	if err != nil {
		return "", fmt.Errorf("%w: ocr: %w", domain.ErrExtractionFailed, err)
	}
	return result.Text, nil
}

// describeImage runs the vision description in the background. It never
// blocks or fails ingestion.
func (s *IngestionService) describeImage(doc *domain.Document, image []byte) {
	if s.services.VisionProvider() == nil {
		return
	}

	s.side.Add(1)
	go func() {
		defer s.side.Done()

		// Detached from the task context: the task may finish first
		ctx, cancel := context.WithTimeout(context.Background(), s.visionTimeout)
		defer cancel()

		result, err := s.analyze(ctx, doc, image, s.describePrompt, domain.ProcessingTypeVision)
		if err != nil {
			s.logger.Warn("image description failed", "document_id", doc.ID, "error", err)
			return
		}
		if err := s.documents.MergeMetadata(ctx, doc.ID, map[string]string{
			domain.MetaVisionSummary: strings.TrimSpace(result.Text),
		}); err != nil {
			s.logger.Warn("failed to store image description", "document_id", doc.ID, "error", err)
		}
	}()
}

func (s *IngestionService) analyze(ctx context.Context, doc *domain.Document, image []byte, prompt string, kind domain.ProcessingType) (*domain.VisionResult, error) {
	vision := s.services.VisionProvider()
	if vision == nil {
		return nil, fmt.Errorf("%w: no vision provider configured", domain.ErrServiceUnavailable)
	}
	model := s.services.VisionModel()

	key, err := s.keys.Resolve(ctx, doc.WorkspaceID, vision.Name())
	if err != nil {
		return nil, err
	}

	estimate, err := s.estimator.QuoteUsage(model, estimatedImageTokens, estimatedOutputTokens)
	if err != nil {
		return nil, err
	}
	reservation, err := s.ledger.Reserve(ctx, doc.WorkspaceID, estimate.Credits, key.Source)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.visionTimeout)
	defer cancel()

	result, err := vision.Analyze(callCtx, domain.VisionRequest{
		APIKey:   key.APIKey,
		Model:    model,
		Image:    image,
		MimeType: doc.MimeType,
		Prompt:   prompt,
	})
	if err != nil {
		if rerr := s.ledger.Release(context.WithoutCancel(ctx), reservation); rerr != nil {
			s.logger.Error("failed to release credits", "document_id", doc.ID, "error", rerr)
		}
		s.appendCost(ctx, &domain.ProcessingCost{
			DocumentID:   doc.ID,
			WorkspaceID:  doc.WorkspaceID,
			Type:         kind,
			Status:       domain.ProcessingStatusFailed,
			Model:        model,
			KeySource:    key.Source,
			ErrorMessage: err.Error(),
		})
		return nil, err
	}

	actual, err := s.estimator.QuoteUsage(model, int64(result.InputTokens), int64(result.OutputTokens))
	if err != nil {
		actual = estimate
	}
	if err := s.ledger.Settle(ctx, reservation, actual.Credits); err != nil {
		s.logger.Error("failed to settle credits", "document_id", doc.ID, "error", err)
	}

	credits := actual.Credits
	if key.Source == domain.KeySourceBYOK {
		credits = 0
	}
	cost := &domain.ProcessingCost{
		DocumentID:      doc.ID,
		WorkspaceID:     doc.WorkspaceID,
		Type:            kind,
		Status:          domain.ProcessingStatusCompleted,
		Tokens:          actual.InputTokens + actual.OutputTokens,
		InputTokens:     actual.InputTokens,
		OutputTokens:    actual.OutputTokens,
		TotalCostUSD:    actual.CostUSD,
		CreditsConsumed: credits,
		Model:           model,
		KeySource:       key.Source,
	}
	if kind == domain.ProcessingTypeVision {
		cost.VisionCostUSD = actual.CostUSD
	} else {
		cost.ExtractionCostUSD = actual.CostUSD
	}
	s.appendCost(ctx, cost)
	return result, nil
}

// fail records a terminal extraction failure.
func (s *IngestionService) fail(ctx context.Context, doc *domain.Document, cause error) error {
	if err := s.documents.UpdateStatus(ctx, doc.ID, domain.DocumentStatusError, map[string]string{
		domain.MetaError:            cause.Error(),
		domain.MetaFailedAt:         time.Now().UTC().Format(time.RFC3339),
		domain.MetaExtractionStatus: "failed",
	}); err != nil {
		return fmt.Errorf("failed to record extraction failure (%v): %w", cause, err)
	}

	s.logger.Warn("extraction failed",
		"document_id", doc.ID,
		"workspace_id", doc.WorkspaceID,
		"error", cause,
	)
	return nil
}

func (s *IngestionService) appendCost(ctx context.Context, cost *domain.ProcessingCost) {
	cost.ID = domain.GenerateID()
	cost.CreatedAt = time.Now()
	if err := s.costs.Append(context.WithoutCancel(ctx), cost); err != nil {
		s.logger.Error("failed to append processing cost",
			"document_id", cost.DocumentID,
			"type", cost.Type,
			"error", err,
		)
	}
}
