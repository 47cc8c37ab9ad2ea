package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	return uuid.NewString()
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeIngestDocument extracts text from a document
	TaskTypeIngestDocument TaskType = "ingest_document"
	// TaskTypeGenerateEmbeddings chunks and embeds extracted text
	TaskTypeGenerateEmbeddings TaskType = "generate_embeddings"
	// TaskTypeRegenerateEmbeddings deletes and rebuilds all embeddings of a document
	TaskTypeRegenerateEmbeddings TaskType = "regenerate_embeddings"
	// TaskTypeSweepStaleDocuments fails documents stuck in PROCESSING
	TaskTypeSweepStaleDocuments TaskType = "sweep_stale_documents"
	// TaskTypePurgeTasks removes old completed and failed tasks
	TaskTypePurgeTasks TaskType = "purge_tasks"
)

// Payload keys shared by the task constructors and the worker.
const (
	PayloadDocumentID  = "document_id"
	PayloadWorkspaceID = "workspace_id"
	PayloadUserID      = "user_id"
	PayloadText        = "text"
	PayloadRetryCount  = "retry_count"
	PayloadStartChunk  = "start_chunk"
	PayloadGeneration  = "generation"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task represents a background job to be processed by workers
type Task struct {
	// ID is the unique identifier for this task
	ID string `json:"id"`

	// Type identifies what kind of task this is
	Type TaskType `json:"type"`

	// WorkspaceID is the workspace this task belongs to
	WorkspaceID string `json:"workspace_id"`

	// Payload contains task-specific data
	// For ingest_document: {"document_id", "workspace_id", "user_id"}
	// For generate_embeddings: the above plus "retry_count", "start_chunk" and optionally "text"
	Payload map[string]string `json:"payload"`

	// Status is the current state of the task
	Status TaskStatus `json:"status"`

	// Priority determines processing order (higher = more urgent)
	// Default is 0, range is -100 to 100
	Priority int `json:"priority"`

	// Attempts is how many times this task has been attempted
	Attempts int `json:"attempts"`

	// MaxAttempts is the maximum retry count before giving up
	MaxAttempts int `json:"max_attempts"`

	// Error contains the last error message if failed
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// StartedAt is when processing began (nil if not started)
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when processing finished (nil if not complete)
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ScheduledFor is when the task should be processed (for delayed tasks)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewTask creates a new task with default values
func NewTask(taskType TaskType, workspaceID string, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:           GenerateID(),
		Type:         taskType,
		WorkspaceID:  workspaceID,
		Payload:      payload,
		Status:       TaskStatusPending,
		Priority:     0,
		Attempts:     0,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// IngestionJob identifies a document whose text must be extracted.
type IngestionJob struct {
	DocumentID  string
	WorkspaceID string
	UserID      string
}

// EmbeddingJob identifies a document whose text must be embedded.
// RetryCount counts rate-limit requeue cycles; StartChunk is the first
// chunk index that still needs a vector. Generation must match the
// document's embedding generation for the job to run.
type EmbeddingJob struct {
	DocumentID  string
	WorkspaceID string
	UserID      string
	Text        string
	RetryCount  int
	StartChunk  int
	Generation  int
}

// NewIngestionTask creates a task to extract text from a document
func NewIngestionTask(job IngestionJob) *Task {
	return NewTask(TaskTypeIngestDocument, job.WorkspaceID, map[string]string{
		PayloadDocumentID:  job.DocumentID,
		PayloadWorkspaceID: job.WorkspaceID,
		PayloadUserID:      job.UserID,
	})
}

// NewEmbeddingTask creates a task to embed a document's extracted text
func NewEmbeddingTask(job EmbeddingJob) *Task {
	payload := map[string]string{
		PayloadDocumentID:  job.DocumentID,
		PayloadWorkspaceID: job.WorkspaceID,
		PayloadUserID:      job.UserID,
		PayloadRetryCount:  strconv.Itoa(job.RetryCount),
		PayloadStartChunk:  strconv.Itoa(job.StartChunk),
		PayloadGeneration:  strconv.Itoa(job.Generation),
	}
	if job.Text != "" {
		payload[PayloadText] = job.Text
	}
	return NewTask(TaskTypeGenerateEmbeddings, job.WorkspaceID, payload)
}

// NewRegenerateTask creates a task to rebuild all embeddings of a document
func NewRegenerateTask(workspaceID, documentID string) *Task {
	return NewTask(TaskTypeRegenerateEmbeddings, workspaceID, map[string]string{
		PayloadDocumentID:  documentID,
		PayloadWorkspaceID: workspaceID,
	})
}

// DocumentID extracts the document_id from the payload
func (t *Task) DocumentID() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[PayloadDocumentID]
}

// IngestionJob decodes the payload of an ingest_document task.
func (t *Task) IngestionJob() IngestionJob {
	return IngestionJob{
		DocumentID:  t.payload(PayloadDocumentID),
		WorkspaceID: t.workspace(),
		UserID:      t.payload(PayloadUserID),
	}
}

// EmbeddingJob decodes the payload of a generate_embeddings task.
// Malformed counters decode as zero.
func (t *Task) EmbeddingJob() EmbeddingJob {
	retries, _ := strconv.Atoi(t.payload(PayloadRetryCount))
	start, _ := strconv.Atoi(t.payload(PayloadStartChunk))
	generation, _ := strconv.Atoi(t.payload(PayloadGeneration))
	return EmbeddingJob{
		DocumentID:  t.payload(PayloadDocumentID),
		WorkspaceID: t.workspace(),
		UserID:      t.payload(PayloadUserID),
		Text:        t.payload(PayloadText),
		RetryCount:  max(retries, 0),
		StartChunk:  max(start, 0),
		Generation:  max(generation, 0),
	}
}

func (t *Task) payload(key string) string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload[key]
}

func (t *Task) workspace() string {
	if ws := t.payload(PayloadWorkspaceID); ws != "" {
		return ws
	}
	return t.WorkspaceID
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady returns true if the task is ready to be processed
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && time.Now().After(t.ScheduledFor)
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.StartedAt = &now
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.UpdatedAt = now
	t.Error = err
}

// Retry resets the task for retry with exponential backoff
func (t *Task) Retry(err string) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err

	// Exponential backoff: 1s, 2s, 4s, 8s, etc.
	backoff := time.Duration(1<<t.Attempts) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	t.ScheduledFor = now.Add(backoff)
}

// ScheduledTask represents a recurring task configuration
type ScheduledTask struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Type is the task type to create when triggered
	Type TaskType `json:"type"`

	// WorkspaceID scopes the schedule; empty for platform-wide maintenance
	WorkspaceID string `json:"workspace_id"`

	// Interval is how often to run the task
	Interval time.Duration `json:"interval"`

	Enabled   bool       `json:"enabled"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   time.Time  `json:"next_run"`
	LastError string     `json:"last_error,omitempty"`
}

// NewScheduledTask creates a new scheduled task
func NewScheduledTask(id, name string, taskType TaskType, workspaceID string, interval time.Duration) *ScheduledTask {
	return &ScheduledTask{
		ID:          id,
		Name:        name,
		Type:        taskType,
		WorkspaceID: workspaceID,
		Interval:    interval,
		Enabled:     true,
		NextRun:     time.Now().Add(interval),
	}
}

// IsDue returns true if the scheduled task should be triggered
func (s *ScheduledTask) IsDue() bool {
	return s.Enabled && time.Now().After(s.NextRun)
}

// UpdateNextRun calculates the next run time after execution
func (s *ScheduledTask) UpdateNextRun() {
	now := time.Now()
	s.LastRun = &now
	s.NextRun = now.Add(s.Interval)
}

// DefaultMaintenanceSchedule returns the platform maintenance schedules
func DefaultMaintenanceSchedule() []*ScheduledTask {
	return []*ScheduledTask{
		NewScheduledTask("sweep-stale-documents", "Sweep Stale Documents", TaskTypeSweepStaleDocuments, "", 10*time.Minute),
		NewScheduledTask("purge-tasks", "Purge Finished Tasks", TaskTypePurgeTasks, "", time.Hour),
	}
}
