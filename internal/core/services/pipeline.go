package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/billing"
	"github.com/zahidkhandev/flopods-sub000/internal/chunker"
	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driving"
	"github.com/zahidkhandev/flopods-sub000/internal/ratelimit"
	"github.com/zahidkhandev/flopods-sub000/internal/runtime"
)

// Ensure EmbeddingPipeline implements the driving port
var _ driving.EmbeddingPipeline = (*EmbeddingPipeline)(nil)

const (
	// DefaultMaxRetryCycles bounds how often a throttled document is requeued
	DefaultMaxRetryCycles = 7
	// DefaultRequeueBaseDelay is the delay of the first requeue, doubled per cycle
	DefaultRequeueBaseDelay = 30 * time.Second
	// DefaultRequeueMaxDelay caps the requeue delay
	DefaultRequeueMaxDelay = 30 * time.Minute
	// DefaultDocumentLockTTL bounds how long one run may hold a document
	DefaultDocumentLockTTL = 30 * time.Minute

	lockExtendEvery = 50 // chunks
)

// DocumentLockName is the lock serializing pipeline runs of one document.
func DocumentLockName(documentID string) string {
	return "embeddings:" + documentID
}

// EmbeddingPipeline chunks a document's extracted text, embeds every chunk
// and dual-writes the vectors to object storage and the embedding table.
//
// A run:
//  1. Locks the document
//  2. Loads the text (job payload or stored extracted text)
//  3. Resolves the API key (workspace key first, then platform key)
//  4. Chunks, prices and reserves credits before any provider call
//  5. Embeds chunks sequentially from the job's start chunk
//  6. Settles credits on the reported usage and appends the cost record
//
// When the provider keeps throttling, the run releases its reservation and
// requeues itself from the failing chunk with a growing delay. Queued jobs
// carry the document's embedding generation; Regenerate bumps it, so jobs
// from an earlier pass are dropped instead of colliding with its rows.
type EmbeddingPipeline struct {
	documents       driven.DocumentStore
	embeddings      driven.EmbeddingStore
	costs           driven.CostStore
	documentStorage driven.ObjectStorage
	vectorStorage   driven.ObjectStorage
	queue           driven.TaskQueue
	lock            driven.DistributedLock
	keys            *KeyResolver
	ledger          *CreditLedger
	estimator       *billing.Estimator
	chunker         *chunker.Chunker
	services        *runtime.Services
	limiter         *ratelimit.Limiter
	clientConfig    EmbeddingClientConfig

	maxRetryCycles   int
	requeueBaseDelay time.Duration
	requeueMaxDelay  time.Duration
	lockTTL          time.Duration
	logger           *slog.Logger
}

// EmbeddingPipelineConfig holds dependencies for EmbeddingPipeline.
type EmbeddingPipelineConfig struct {
	Documents       driven.DocumentStore
	Embeddings      driven.EmbeddingStore
	Costs           driven.CostStore
	DocumentStorage driven.ObjectStorage // extracted text
	VectorStorage   driven.ObjectStorage // per-chunk vector backups
	Queue           driven.TaskQueue
	Lock            driven.DistributedLock
	Keys            *KeyResolver
	Ledger          *CreditLedger
	Estimator       *billing.Estimator
	Chunker         *chunker.Chunker
	Services        *runtime.Services
	Limiter         *ratelimit.Limiter
	ClientConfig    EmbeddingClientConfig

	MaxRetryCycles   int
	RequeueBaseDelay time.Duration
	RequeueMaxDelay  time.Duration
	LockTTL          time.Duration
	Logger           *slog.Logger
}

// NewEmbeddingPipeline creates a pipeline
func NewEmbeddingPipeline(cfg EmbeddingPipelineConfig) *EmbeddingPipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetryCycles <= 0 {
		cfg.MaxRetryCycles = DefaultMaxRetryCycles
	}
	if cfg.RequeueBaseDelay <= 0 {
		cfg.RequeueBaseDelay = DefaultRequeueBaseDelay
	}
	if cfg.RequeueMaxDelay <= 0 {
		cfg.RequeueMaxDelay = DefaultRequeueMaxDelay
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultDocumentLockTTL
	}
	if cfg.ClientConfig.Logger == nil {
		cfg.ClientConfig.Logger = logger
	}

	return &EmbeddingPipeline{
		documents:        cfg.Documents,
		embeddings:       cfg.Embeddings,
		costs:            cfg.Costs,
		documentStorage:  cfg.DocumentStorage,
		vectorStorage:    cfg.VectorStorage,
		queue:            cfg.Queue,
		lock:             cfg.Lock,
		keys:             cfg.Keys,
		ledger:           cfg.Ledger,
		estimator:        cfg.Estimator,
		chunker:          cfg.Chunker,
		services:         cfg.Services,
		limiter:          cfg.Limiter,
		clientConfig:     cfg.ClientConfig,
		maxRetryCycles:   cfg.MaxRetryCycles,
		requeueBaseDelay: cfg.RequeueBaseDelay,
		requeueMaxDelay:  cfg.RequeueMaxDelay,
		lockTTL:          cfg.LockTTL,
		logger:           logger,
	}
}

// Run embeds the job's document from job.StartChunk.
// Document-level failures are recorded on the document and nil is returned.
func (p *EmbeddingPipeline) Run(ctx context.Context, job domain.EmbeddingJob) error {
	if job.DocumentID == "" {
		return fmt.Errorf("%w: embedding job without document id", domain.ErrInvalidInput)
	}

	release, err := p.acquire(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	defer release()

	doc, err := p.documents.Get(ctx, job.DocumentID)
	if errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("document deleted before embedding", "document_id", job.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	if job.WorkspaceID == "" {
		job.WorkspaceID = doc.WorkspaceID
	}

	reason, err := p.staleReason(ctx, doc, job)
	if err != nil {
		return err
	}
	if reason != "" {
		p.logger.Info("dropping stale embedding job",
			"document_id", doc.ID,
			"workspace_id", doc.WorkspaceID,
			"reason", reason,
			"retry_count", job.RetryCount,
			"start_chunk", job.StartChunk,
		)
		return nil
	}

	return p.process(ctx, doc, job)
}

// staleReason reports why a queued job no longer applies to the document,
// or "" when it should run.
func (p *EmbeddingPipeline) staleReason(ctx context.Context, doc *domain.Document, job domain.EmbeddingJob) (string, error) {
	if generation := doc.EmbeddingGeneration(); job.Generation != generation {
		return fmt.Sprintf("job generation %d, document generation %d", job.Generation, generation), nil
	}
	if doc.Status != domain.DocumentStatusReady || doc.Metadata[domain.MetaEmbeddingStatus] != domain.EmbeddingStatusCompleted {
		return "", nil
	}

	want, err := strconv.Atoi(doc.Metadata[domain.MetaChunkCount])
	if err != nil {
		return "", nil
	}
	have, err := p.embeddings.CountByDocument(ctx, doc.ID)
	if err != nil {
		return "", fmt.Errorf("failed to count embeddings: %w", err)
	}
	if have == want {
		return "document already embedded", nil
	}
	return "", nil
}

// Regenerate deletes every backup object and embedding row of a document,
// then embeds it again from the first chunk with a fresh retry budget.
func (p *EmbeddingPipeline) Regenerate(ctx context.Context, documentID string) error {
	release, err := p.acquire(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()

	doc, err := p.documents.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	existing, err := p.embeddings.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list embeddings: %w", err)
	}
	if len(existing) > 0 {
		keys := make([]string, 0, len(existing))
		for _, e := range existing {
			key := e.BackupKey
			if key == "" {
				key = domain.EmbeddingBackupKey(doc.WorkspaceID, doc.ID, e.ChunkIndex)
			}
			keys = append(keys, key)
		}
		if err := p.vectorStorage.Delete(ctx, keys); err != nil {
			return fmt.Errorf("failed to delete vector backups: %w", err)
		}
	}

	deleted, err := p.embeddings.DeleteByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}

	generation := doc.EmbeddingGeneration() + 1
	if err := p.documents.UpdateStatus(ctx, documentID, domain.DocumentStatusProcessing, map[string]string{
		domain.MetaEmbeddingStatus:     domain.EmbeddingStatusProcessing,
		domain.MetaEmbeddingRetryCount: "0",
		domain.MetaChunkCount:          "0",
		domain.MetaEmbeddingGeneration: strconv.Itoa(generation),
	}); err != nil {
		return fmt.Errorf("failed to reset document: %w", err)
	}
	doc.SetMeta(domain.MetaEmbeddingGeneration, strconv.Itoa(generation))

	p.logger.Info("regenerating embeddings",
		"document_id", documentID,
		"deleted_embeddings", deleted,
		"generation", generation,
	)

	return p.process(ctx, doc, domain.EmbeddingJob{
		DocumentID:  doc.ID,
		WorkspaceID: doc.WorkspaceID,
		UserID:      doc.UserID,
		Generation:  generation,
	})
}

func (p *EmbeddingPipeline) acquire(ctx context.Context, documentID string) (func(), error) {
	name := DocumentLockName(documentID)
	acquired, err := p.lock.Acquire(ctx, name, p.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire document lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, name)
	}
	return func() {
		// Release with a fresh context so a cancelled run still unlocks
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.lock.Release(releaseCtx, name); err != nil {
			p.logger.Warn("failed to release document lock", "lock", name, "error", err)
		}
	}, nil
}

// embeddingRun carries the state of one pipeline pass over a document.
type embeddingRun struct {
	doc         *domain.Document
	job         domain.EmbeddingJob
	model       string
	key         *ResolvedKey
	quote       billing.Quote
	reservation *Reservation

	// usedTokens is the billable usage: estimates for chunks stored by
	// earlier passes plus what the provider reported for this one.
	usedTokens int64
	embedded   int
	skipped    int
}

func (p *EmbeddingPipeline) process(ctx context.Context, doc *domain.Document, job domain.EmbeddingJob) error {
	run := &embeddingRun{doc: doc, job: job}
	start := time.Now()

	provider := p.services.EmbeddingProvider()
	if provider == nil {
		return p.fail(ctx, run, fmt.Errorf("%w: no embedding provider configured", domain.ErrServiceUnavailable))
	}
	run.model = p.services.EmbeddingModel()

	text, err := p.loadText(ctx, doc, job)
	if err != nil {
		return p.fail(ctx, run, err)
	}

	run.key, err = p.keys.Resolve(ctx, doc.WorkspaceID, provider.Name())
	if err != nil {
		return p.fail(ctx, run, err)
	}

	chunks, err := p.chunker.Split(text)
	if err != nil {
		return p.fail(ctx, run, fmt.Errorf("failed to chunk text: %w", err))
	}

	var totalTokens int64
	for _, c := range chunks {
		totalTokens += int64(c.TokenCount)
	}
	run.quote, err = p.estimator.Quote(run.model, totalTokens)
	if err != nil {
		return p.fail(ctx, run, err)
	}

	run.reservation, err = p.ledger.Reserve(ctx, doc.WorkspaceID, run.quote.Credits, run.key.Source)
	if err != nil {
		return p.fail(ctx, run, err)
	}

	if err := p.documents.UpdateStatus(ctx, doc.ID, domain.DocumentStatusProcessing, map[string]string{
		domain.MetaEmbeddingStatus:     domain.EmbeddingStatusProcessing,
		domain.MetaEmbeddingModel:      run.model,
		domain.MetaEmbeddingRetryCount: strconv.Itoa(job.RetryCount),
	}); err != nil {
		p.releaseReservation(run)
		return fmt.Errorf("failed to update document status: %w", err)
	}

	client := NewEmbeddingClient(provider, p.limiter, p.clientConfig)
	first := min(job.StartChunk, len(chunks))
	for _, c := range chunks[:first] {
		run.usedTokens += int64(c.TokenCount)
	}

	p.logger.Info("embedding document",
		"document_id", doc.ID,
		"workspace_id", doc.WorkspaceID,
		"chunks", len(chunks),
		"start_chunk", first,
		"retry_count", job.RetryCount,
		"key_source", run.key.Source,
		"credits_reserved", run.quote.Credits,
	)

	for i := first; i < len(chunks); i++ {
		if err := ctx.Err(); err != nil {
			p.releaseReservation(run)
			return err
		}
		if i > first && (i-first)%lockExtendEvery == 0 {
			if err := p.lock.Extend(ctx, DocumentLockName(doc.ID), p.lockTTL); err != nil {
				p.logger.Warn("failed to extend document lock", "document_id", doc.ID, "error", err)
			}
		}

		err := p.embedChunk(ctx, client, run, chunks[i])
		switch {
		case err == nil:
			continue
		case ctx.Err() != nil:
			p.releaseReservation(run)
			return ctx.Err()
		case errors.Is(err, domain.ErrRateLimited):
			return p.requeue(ctx, run, i, err)
		default:
			return p.fail(ctx, run, fmt.Errorf("chunk %d: %w", i, err))
		}
	}

	return p.complete(ctx, run, first, time.Since(start))
}

func (p *EmbeddingPipeline) loadText(ctx context.Context, doc *domain.Document, job domain.EmbeddingJob) (string, error) {
	text := job.Text
	if text == "" {
		key := doc.Metadata[domain.MetaTextKey]
		if key == "" {
			key = domain.ExtractedTextKey(doc.WorkspaceID, doc.ID)
		}
		data, err := p.documentStorage.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("failed to load extracted text: %w", err)
		}
		text = string(data)
	}

	text = domain.SanitizeText(text)
	if text == "" {
		return "", fmt.Errorf("%w: document has no text to embed", domain.ErrInvalidInput)
	}
	return text, nil
}

// embeddingBackup is the JSON object written to the vectors bucket
type embeddingBackup struct {
	DocumentID  string    `json:"document_id"`
	WorkspaceID string    `json:"workspace_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Model       string    `json:"model"`
	Dimensions  int       `json:"dimensions"`
	Vector      []float32 `json:"vector"`
	Text        string    `json:"text"`
	TokenCount  int       `json:"token_count"`
	StartChar   int       `json:"start_char"`
	EndChar     int       `json:"end_char"`
	CreatedAt   time.Time `json:"created_at"`
}

func (p *EmbeddingPipeline) embedChunk(ctx context.Context, client *EmbeddingClient, run *embeddingRun, chunk domain.Chunk) error {
	text := domain.SanitizeText(chunk.Text)
	if text == "" {
		run.skipped++
		p.logger.Debug("skipping empty chunk", "document_id", run.doc.ID, "chunk_index", chunk.Index)
		return nil
	}

	result, err := client.Embed(ctx, EmbedCall{
		APIKey:      run.key.APIKey,
		Model:       run.model,
		Text:        text,
		Fingerprint: run.key.Fingerprint,
		Tier:        run.key.Tier,
	})
	if err != nil {
		return err
	}

	now := time.Now()
	backupKey := domain.EmbeddingBackupKey(run.doc.WorkspaceID, run.doc.ID, chunk.Index)
	backup, err := json.Marshal(embeddingBackup{
		DocumentID:  run.doc.ID,
		WorkspaceID: run.doc.WorkspaceID,
		ChunkIndex:  chunk.Index,
		Model:       run.model,
		Dimensions:  len(result.Vector),
		Vector:      result.Vector,
		Text:        text,
		TokenCount:  chunk.TokenCount,
		StartChar:   chunk.StartChar,
		EndChar:     chunk.EndChar,
		CreatedAt:   now,
	})
	if err != nil {
		return fmt.Errorf("failed to encode vector backup: %w", err)
	}
	if err := p.vectorStorage.Put(ctx, backupKey, backup, "application/json"); err != nil {
		return fmt.Errorf("failed to write vector backup: %w", err)
	}

	if err := p.embeddings.Insert(ctx, &domain.Embedding{
		ID:          domain.GenerateID(),
		DocumentID:  run.doc.ID,
		WorkspaceID: run.doc.WorkspaceID,
		ChunkIndex:  chunk.Index,
		Text:        text,
		Vector:      result.Vector,
		Model:       run.model,
		BackupKey:   backupKey,
		TokenCount:  chunk.TokenCount,
		StartChar:   chunk.StartChar,
		EndChar:     chunk.EndChar,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	tokens := int64(result.InputTokens)
	if tokens <= 0 {
		tokens = int64(chunk.TokenCount)
	}
	run.usedTokens += tokens
	run.embedded++
	return nil
}

// complete settles the run on its actual usage and marks the document
// ready. chunk_count is the number of stored rows, which excludes chunks
// that sanitized to nothing.
func (p *EmbeddingPipeline) complete(ctx context.Context, run *embeddingRun, first int, took time.Duration) error {
	chunkCount, err := p.embeddings.CountByDocument(ctx, run.doc.ID)
	if err != nil {
		p.logger.Warn("failed to count stored embeddings", "document_id", run.doc.ID, "error", err)
		chunkCount = first + run.embedded
	}

	usage, err := p.estimator.Quote(run.model, run.usedTokens)
	if err != nil {
		usage = run.quote
	}
	if err := p.ledger.Settle(ctx, run.reservation, usage.Credits); err != nil {
		p.logger.Error("failed to settle credits",
			"document_id", run.doc.ID,
			"workspace_id", run.doc.WorkspaceID,
			"reserved", run.quote.Credits,
			"actual", usage.Credits,
			"error", err,
		)
	}

	credits := usage.Credits
	if run.key.Source == domain.KeySourceBYOK {
		credits = 0
	}
	p.appendCost(ctx, &domain.ProcessingCost{
		DocumentID:       run.doc.ID,
		WorkspaceID:      run.doc.WorkspaceID,
		Type:             domain.ProcessingTypeEmbedding,
		Status:           domain.ProcessingStatusCompleted,
		Tokens:           usage.InputTokens,
		InputTokens:      usage.InputTokens,
		Chunks:           chunkCount,
		EmbeddingCostUSD: usage.CostUSD,
		TotalCostUSD:     usage.CostUSD,
		CreditsConsumed:  credits,
		Model:            run.model,
		KeySource:        run.key.Source,
	})

	if err := p.documents.UpdateStatus(ctx, run.doc.ID, domain.DocumentStatusReady, map[string]string{
		domain.MetaEmbeddingStatus: domain.EmbeddingStatusCompleted,
		domain.MetaChunkCount:      strconv.Itoa(chunkCount),
		domain.MetaEmbeddedAt:      time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("failed to mark document ready: %w", err)
	}

	p.logger.Info("document embedded",
		"document_id", run.doc.ID,
		"workspace_id", run.doc.WorkspaceID,
		"chunks", chunkCount,
		"skipped_chunks", run.skipped,
		"tokens", usage.InputTokens,
		"credits", credits,
		"duration_seconds", took.Seconds(),
	)
	return nil
}

// requeue schedules the rest of the document after the provider kept
// throttling at chunk index next.
func (p *EmbeddingPipeline) requeue(ctx context.Context, run *embeddingRun, next int, cause error) error {
	p.releaseReservation(run)

	cycle := run.job.RetryCount + 1
	if cycle > p.maxRetryCycles {
		return p.fail(ctx, run, fmt.Errorf("still rate limited after %d requeue cycles: %w", p.maxRetryCycles, cause))
	}

	delay := p.requeueDelay(run.job.RetryCount)
	task := domain.NewEmbeddingTask(domain.EmbeddingJob{
		DocumentID:  run.doc.ID,
		WorkspaceID: run.doc.WorkspaceID,
		UserID:      run.job.UserID,
		Text:        run.job.Text,
		RetryCount:  cycle,
		StartChunk:  next,
		Generation:  run.job.Generation,
	})
	task.ScheduledFor = time.Now().Add(delay)

	if err := p.queue.Enqueue(ctx, task); err != nil {
		return p.fail(ctx, run, fmt.Errorf("failed to requeue throttled document: %w", err))
	}

	if err := p.documents.UpdateStatus(ctx, run.doc.ID, domain.DocumentStatusProcessing, map[string]string{
		domain.MetaEmbeddingStatus:     domain.EmbeddingStatusRetrying,
		domain.MetaEmbeddingRetryCount: strconv.Itoa(cycle),
	}); err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	p.logger.Warn("document requeued after rate limiting",
		"document_id", run.doc.ID,
		"workspace_id", run.doc.WorkspaceID,
		"retry_count", cycle,
		"start_chunk", next,
		"delay", delay,
		"task_id", task.ID,
	)
	return nil
}

func (p *EmbeddingPipeline) requeueDelay(retryCount int) time.Duration {
	if retryCount >= 32 {
		return p.requeueMaxDelay
	}
	delay := p.requeueBaseDelay << retryCount
	if delay <= 0 || delay > p.requeueMaxDelay {
		return p.requeueMaxDelay
	}
	return delay
}

// fail records a document-level failure. It only returns an error when the
// failure itself cannot be recorded.
func (p *EmbeddingPipeline) fail(ctx context.Context, run *embeddingRun, cause error) error {
	p.releaseReservation(run)

	if err := p.documents.UpdateStatus(ctx, run.doc.ID, domain.DocumentStatusError, map[string]string{
		domain.MetaError:           cause.Error(),
		domain.MetaFailedAt:        time.Now().UTC().Format(time.RFC3339),
		domain.MetaEmbeddingStatus: domain.EmbeddingStatusFailed,
	}); err != nil {
		return fmt.Errorf("failed to record embedding failure (%v): %w", cause, err)
	}

	cost := &domain.ProcessingCost{
		DocumentID:   run.doc.ID,
		WorkspaceID:  run.doc.WorkspaceID,
		Type:         domain.ProcessingTypeEmbedding,
		Status:       domain.ProcessingStatusFailed,
		Model:        run.model,
		ErrorMessage: cause.Error(),
	}
	if run.key != nil {
		cost.KeySource = run.key.Source
	}
	p.appendCost(ctx, cost)

	p.logger.Warn("embedding failed",
		"document_id", run.doc.ID,
		"workspace_id", run.doc.WorkspaceID,
		"error", cause,
	)
	return nil
}

func (p *EmbeddingPipeline) releaseReservation(run *embeddingRun) {
	if run.reservation == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.ledger.Release(ctx, run.reservation); err != nil {
		p.logger.Error("failed to release credits",
			"document_id", run.doc.ID,
			"workspace_id", run.doc.WorkspaceID,
			"credits", run.reservation.Credits,
			"error", err,
		)
	}
}

func (p *EmbeddingPipeline) appendCost(ctx context.Context, cost *domain.ProcessingCost) {
	cost.ID = domain.GenerateID()
	cost.CreatedAt = time.Now()
	if err := p.costs.Append(ctx, cost); err != nil {
		p.logger.Error("failed to append processing cost",
			"document_id", cost.DocumentID,
			"type", cost.Type,
			"status", cost.Status,
			"error", err,
		)
	}
}
