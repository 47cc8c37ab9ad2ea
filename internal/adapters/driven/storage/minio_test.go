package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

func newTestMinio(t *testing.T, handler http.HandlerFunc) *MinioStorage {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := NewMinioStorage(MinioConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "vectors",
		Region:    "us-east-1",
	})
	require.NoError(t, err)
	return store
}

func TestNewMinioStorage_Validation(t *testing.T) {
	_, err := NewMinioStorage(MinioConfig{Endpoint: "localhost:9000"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMinioStorage_Get_NotFound(t *testing.T) {
	store := newTestMinio(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(noSuchKeyXML))
	})

	_, err := store.Get(context.Background(), "embeddings/ws-1/doc-1/0.json")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMinioStorage_SignedURL(t *testing.T) {
	store := newTestMinio(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})

	url, err := store.SignedURL(context.Background(), "embeddings/ws-1/doc-1/0.json", 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "/vectors/embeddings/ws-1/doc-1/0.json")
	assert.Contains(t, url, "X-Amz-Expires=600")
}

func TestMinioStorage_Delete_Empty(t *testing.T) {
	store := newTestMinio(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	assert.NoError(t, store.Delete(context.Background(), nil))
}
