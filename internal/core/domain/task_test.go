package domain

import (
	"testing"
	"time"
)

func TestGenerateID(t *testing.T) {
	id1 := GenerateID()
	id2 := GenerateID()

	if id1 == "" || id2 == "" {
		t.Error("expected non-empty ID")
	}
	if id1 == id2 {
		t.Error("expected unique IDs")
	}
	if len(id1) != 36 {
		t.Errorf("expected ID length 36, got %d", len(id1))
	}
}

func TestNewTask(t *testing.T) {
	task := NewTask(TaskTypeIngestDocument, "ws-123", map[string]string{"key": "value"})

	if task.ID == "" {
		t.Error("expected non-empty ID")
	}
	if task.Type != TaskTypeIngestDocument {
		t.Errorf("expected type %s, got %s", TaskTypeIngestDocument, task.Type)
	}
	if task.WorkspaceID != "ws-123" {
		t.Errorf("expected workspace ID ws-123, got %s", task.WorkspaceID)
	}
	if task.Status != TaskStatusPending {
		t.Errorf("expected status %s, got %s", TaskStatusPending, task.Status)
	}
	if task.MaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", task.MaxAttempts)
	}
	if task.ScheduledFor.IsZero() {
		t.Error("expected ScheduledFor to be set")
	}
}

func TestIngestionTask_RoundTrip(t *testing.T) {
	job := IngestionJob{DocumentID: "doc-1", WorkspaceID: "ws-1", UserID: "user-1"}

	task := NewIngestionTask(job)

	if task.Type != TaskTypeIngestDocument {
		t.Errorf("expected type %s, got %s", TaskTypeIngestDocument, task.Type)
	}
	if got := task.IngestionJob(); got != job {
		t.Errorf("expected %+v, got %+v", job, got)
	}
	if task.DocumentID() != "doc-1" {
		t.Errorf("expected document ID doc-1, got %s", task.DocumentID())
	}
}

func TestEmbeddingTask_RoundTrip(t *testing.T) {
	job := EmbeddingJob{
		DocumentID:  "doc-1",
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Text:        "hello",
		RetryCount:  2,
		StartChunk:  5,
		Generation:  3,
	}

	got := NewEmbeddingTask(job).EmbeddingJob()

	if got != job {
		t.Errorf("expected %+v, got %+v", job, got)
	}
}

func TestEmbeddingTask_OmitsEmptyText(t *testing.T) {
	task := NewEmbeddingTask(EmbeddingJob{DocumentID: "doc-1", WorkspaceID: "ws-1"})

	if _, ok := task.Payload[PayloadText]; ok {
		t.Error("expected no text key in payload")
	}
}

func TestTask_EmbeddingJobMalformedCounters(t *testing.T) {
	task := &Task{
		WorkspaceID: "ws-fallback",
		Payload: map[string]string{
			PayloadDocumentID: "doc-1",
			PayloadRetryCount: "abc",
			PayloadStartChunk: "-4",
		},
	}

	job := task.EmbeddingJob()

	if job.RetryCount != 0 || job.StartChunk != 0 {
		t.Errorf("expected zero counters, got retry=%d start=%d", job.RetryCount, job.StartChunk)
	}
	if job.WorkspaceID != "ws-fallback" {
		t.Errorf("expected workspace fallback, got %s", job.WorkspaceID)
	}
}

func TestTask_DocumentIDNilPayload(t *testing.T) {
	task := &Task{}
	if task.DocumentID() != "" {
		t.Errorf("expected empty document ID, got %s", task.DocumentID())
	}
}

func TestTask_CanRetry(t *testing.T) {
	tests := []struct {
		name        string
		attempts    int
		maxAttempts int
		expected    bool
	}{
		{"no attempts yet", 0, 3, true},
		{"one attempt", 1, 3, true},
		{"at max", 3, 3, false},
		{"over max", 4, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Attempts: tt.attempts, MaxAttempts: tt.maxAttempts}
			if got := task.CanRetry(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestTask_Lifecycle(t *testing.T) {
	task := NewTask(TaskTypeGenerateEmbeddings, "ws-1", nil)

	task.MarkProcessing()
	if task.Status != TaskStatusProcessing {
		t.Errorf("expected processing, got %s", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", task.Attempts)
	}
	if task.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}

	task.Retry("boom")
	if task.Status != TaskStatusPending {
		t.Errorf("expected pending, got %s", task.Status)
	}
	if task.Error != "boom" {
		t.Errorf("expected error boom, got %s", task.Error)
	}
	if !task.ScheduledFor.After(time.Now()) {
		t.Error("expected retry to be scheduled in the future")
	}

	task.MarkCompleted()
	if task.Status != TaskStatusCompleted || task.Error != "" {
		t.Errorf("expected completed with no error, got %s %q", task.Status, task.Error)
	}
	if task.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}

	task.MarkFailed("fatal")
	if task.Status != TaskStatusFailed {
		t.Errorf("expected failed, got %s", task.Status)
	}
}

func TestTask_RetryBackoffCapped(t *testing.T) {
	task := &Task{Attempts: 20}
	before := time.Now()

	task.Retry("err")

	if task.ScheduledFor.After(before.Add(5*time.Minute + time.Second)) {
		t.Errorf("expected backoff capped at 5 minutes, got %v", task.ScheduledFor.Sub(before))
	}
}

func TestScheduledTask_IsDue(t *testing.T) {
	s := NewScheduledTask("id", "name", TaskTypePurgeTasks, "", time.Hour)
	if s.IsDue() {
		t.Error("expected new schedule not to be due")
	}

	s.NextRun = time.Now().Add(-time.Second)
	if !s.IsDue() {
		t.Error("expected past schedule to be due")
	}

	s.Enabled = false
	if s.IsDue() {
		t.Error("expected disabled schedule not to be due")
	}
}

func TestScheduledTask_UpdateNextRun(t *testing.T) {
	s := NewScheduledTask("id", "name", TaskTypePurgeTasks, "", time.Hour)

	s.UpdateNextRun()

	if s.LastRun == nil {
		t.Fatal("expected LastRun to be set")
	}
	if got := s.NextRun.Sub(*s.LastRun); got != time.Hour {
		t.Errorf("expected next run one interval after last run, got %v", got)
	}
}

func TestDefaultMaintenanceSchedule(t *testing.T) {
	schedules := DefaultMaintenanceSchedule()

	if len(schedules) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(schedules))
	}
	types := map[TaskType]bool{}
	for _, s := range schedules {
		types[s.Type] = true
	}
	if !types[TaskTypeSweepStaleDocuments] || !types[TaskTypePurgeTasks] {
		t.Errorf("unexpected schedule types: %v", types)
	}
}
