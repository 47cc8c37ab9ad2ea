package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven/mocks"
)

type fakeDocuments struct {
	docs      map[string]*domain.Document
	lastTTL   time.Duration
	lastSince time.Time
	err       error
}

func (f *fakeDocuments) Get(ctx context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

func (f *fakeDocuments) DownloadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return "", err
	}
	f.lastTTL = ttl
	return "https://objects.test/" + id, nil
}

func (f *fakeDocuments) RequestIngestion(ctx context.Context, id string) (*domain.Task, error) {
	doc, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.NewIngestionTask(domain.IngestionJob{DocumentID: doc.ID, WorkspaceID: doc.WorkspaceID}), nil
}

func (f *fakeDocuments) RequestRegeneration(ctx context.Context, id string) (*domain.Task, error) {
	doc, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.NewRegenerateTask(doc.WorkspaceID, doc.ID), nil
}

func (f *fakeDocuments) Costs(ctx context.Context, id string) ([]*domain.ProcessingCost, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeDocuments) CostSummary(ctx context.Context, workspaceID string, since time.Time) (*domain.CostSummary, error) {
	f.lastSince = since
	return &domain.CostSummary{WorkspaceID: workspaceID, Runs: 3}, nil
}

type fakeSearch struct {
	err error
}

func (f *fakeSearch) Search(ctx context.Context, workspaceID, query string, limit int) ([]*domain.SearchHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*domain.SearchHit{{DocumentID: "doc-1", ChunkIndex: limit, Text: query, Distance: 0.1}}, nil
}

type fakeSchedules struct {
	enabled map[string]bool
}

func (f *fakeSchedules) ListScheduledTasks(ctx context.Context, workspaceID string) ([]*domain.ScheduledTask, error) {
	return domain.DefaultMaintenanceSchedule(), nil
}

func (f *fakeSchedules) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if id == "missing" {
		return domain.ErrNotFound
	}
	f.enabled[id] = enabled
	return nil
}

func (f *fakeSchedules) TriggerNow(ctx context.Context, id string) (*domain.Task, error) {
	return domain.NewTask(domain.TaskTypePurgeTasks, "", nil), nil
}

type pingFunc func(ctx context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

type testEnv struct {
	server    *Server
	queue     *mocks.MockTaskQueue
	documents *fakeDocuments
	schedules *fakeSchedules
	search    *fakeSearch
}

func newTestEnv(t *testing.T, token string, checks map[string]Pinger) *testEnv {
	t.Helper()
	env := &testEnv{
		queue: mocks.NewMockTaskQueue(),
		documents: &fakeDocuments{docs: map[string]*domain.Document{
			"doc-1": {ID: "doc-1", WorkspaceID: "ws-1", Name: "report.pdf", Status: domain.DocumentStatusReady},
		}},
		schedules: &fakeSchedules{enabled: map[string]bool{}},
		search:    &fakeSearch{},
	}
	env.server = NewServer(Config{Version: "1.2.3", Token: token, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, Services{
		Documents: env.documents,
		Search:    env.search,
		Schedules: env.schedules,
		TaskQueue: env.queue,
		Checks:    checks,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestServer_HealthAndVersion(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/version", "")
	assert.Equal(t, "1.2.3", decode[map[string]string](t, rec)["version"])
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestServer_Ready(t *testing.T) {
	env := newTestEnv(t, "", map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec := env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decode[ReadyResponse](t, rec)
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.Equal(t, "connection refused", resp.Checks["redis"])

	healthy := newTestEnv(t, "", map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
	})
	assert.Equal(t, http.StatusOK, healthy.do(t, http.MethodGet, "/ready", "").Code)
}

func TestServer_TokenAuth(t *testing.T) {
	env := newTestEnv(t, "s3cret", nil)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code, "health is public")
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/queue/stats", "").Code)
	assert.Equal(t, http.StatusUnauthorized,
		env.do(t, http.MethodGet, "/api/v1/queue/stats", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized,
		env.do(t, http.MethodGet, "/api/v1/queue/stats", "", "Authorization", "Basic s3cret").Code)
	assert.Equal(t, http.StatusOK,
		env.do(t, http.MethodGet, "/api/v1/queue/stats", "", "Authorization", "Bearer s3cret").Code)
}

func TestServer_Tasks(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()

	ingest := domain.NewIngestionTask(domain.IngestionJob{DocumentID: "doc-1", WorkspaceID: "ws-1"})
	regen := domain.NewRegenerateTask("ws-1", "doc-2")
	require.NoError(t, env.queue.Enqueue(ctx, ingest))
	require.NoError(t, env.queue.Enqueue(ctx, regen))

	rec := env.do(t, http.MethodGet, "/api/v1/queue/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, rec)["pending_count"])

	rec = env.do(t, http.MethodGet, "/api/v1/tasks?type=regenerate_embeddings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decode[[]domain.Task](t, rec)
	require.Len(t, tasks, 1)
	assert.Equal(t, regen.ID, tasks[0].ID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/tasks?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/tasks?limit=abc", "").Code)

	rec = env.do(t, http.MethodGet, "/api/v1/tasks/"+ingest.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[domain.Task](t, rec)
	assert.Equal(t, "doc-1", got.DocumentID())

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/tasks/missing", "").Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/tasks/"+ingest.ID, "").Code)
	reason, ok := env.queue.NackReason(ingest.ID)
	assert.True(t, ok)
	assert.Equal(t, "cancelled", reason)
}

func TestServer_Documents(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec := env.do(t, http.MethodGet, "/api/v1/documents/doc-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report.pdf", decode[domain.Document](t, rec).Name)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/documents/nope", "").Code)

	rec = env.do(t, http.MethodGet, "/api/v1/documents/doc-1/download?ttl=10m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://objects.test/doc-1", decode[map[string]string](t, rec)["url"])
	assert.Equal(t, 10*time.Minute, env.documents.lastTTL)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/documents/doc-1/download?ttl=soon", "").Code)

	rec = env.do(t, http.MethodGet, "/api/v1/documents/doc-1/costs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/documents/doc-1/ingest", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.TaskTypeIngestDocument, decode[domain.Task](t, rec).Type)

	rec = env.do(t, http.MethodPost, "/api/v1/documents/doc-1/regenerate", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.TaskTypeRegenerateEmbeddings, decode[domain.Task](t, rec).Type)
}

func TestServer_WorkspaceCosts(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec := env.do(t, http.MethodGet, "/api/v1/workspaces/ws-1/costs?since=2026-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), decode[domain.CostSummary](t, rec).Runs)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), env.documents.lastSince.UTC())

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodGet, "/api/v1/workspaces/ws-1/costs?since=yesterday", "").Code)
}

func TestServer_Search(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec := env.do(t, http.MethodPost, "/api/v1/workspaces/ws-1/search", `{"query":"refund policy","limit":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Hits []domain.SearchHit `json:"hits"`
	}](t, rec)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "refund policy", resp.Hits[0].Text)
	assert.Equal(t, 4, resp.Hits[0].ChunkIndex)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/workspaces/ws-1/search", `{`).Code)

	env.search.err = fmt.Errorf("embed query: %w", domain.ErrNoProviderKey)
	assert.Equal(t, http.StatusUnprocessableEntity,
		env.do(t, http.MethodPost, "/api/v1/workspaces/ws-1/search", `{"query":"x"}`).Code)
}

func TestServer_Schedules(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec := env.do(t, http.MethodGet, "/api/v1/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]domain.ScheduledTask](t, rec))

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/api/v1/schedules/purge", `{"enabled":false}`).Code)
	enabled, ok := env.schedules.enabled["purge"]
	assert.True(t, ok)
	assert.False(t, enabled)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/v1/schedules/purge", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/v1/schedules/missing", `{"enabled":true}`).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/schedules/purge/trigger", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServer_UnmountedRoutes(t *testing.T) {
	server := NewServer(DefaultConfig(), Services{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteDomainError(t *testing.T) {
	s := NewServer(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, Services{})

	testCases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrUnsupportedSource, http.StatusBadRequest},
		{domain.ErrLockHeld, http.StatusConflict},
		{&domain.InsufficientCreditsError{WorkspaceID: "ws", Required: 10, Available: 1}, http.StatusPaymentRequired},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.NewProviderError("gemini", http.StatusBadGateway, "down"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		rec := httptest.NewRecorder()
		s.writeDomainError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := NewRecoveryMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil))).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestExtractBearerToken(t *testing.T) {
	testCases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer  abc ":     "abc",
		"Basic abc":        "",
		"BearerWithoutGap": "",
	}
	for header, want := range testCases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, extractBearerToken(req), header)
	}
}
