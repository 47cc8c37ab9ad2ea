package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

const noSuchKeyXML = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

func newTestS3(t *testing.T, handler http.HandlerFunc) *S3Storage {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	})
	return newS3Storage(client, "documents")
}

func TestNewS3Storage_Validation(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{Region: "us-east-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewS3Storage(context.Background(), S3Config{Bucket: "documents"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestS3Storage_Put(t *testing.T) {
	var path, contentType string
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	})

	err := store.Put(context.Background(), "documents/ws-1/doc-1/extracted.txt", []byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "/documents/documents/ws-1/doc-1/extracted.txt", path)
	assert.Equal(t, "text/plain", contentType)
}

func TestS3Storage_Get(t *testing.T) {
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(noSuchKeyXML))
			return
		}
		_, _ = w.Write([]byte("hello"))
	})

	data, err := store.Get(context.Background(), "present")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestS3Storage_Delete_Batches(t *testing.T) {
	var requests atomic.Int32
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !r.URL.Query().Has("delete") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
		}
		requests.Add(1)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></DeleteResult>`))
	})

	keys := make([]string, 2500)
	for i := range keys {
		keys[i] = domain.EmbeddingBackupKey("ws-1", "doc-1", i)
	}

	require.NoError(t, store.Delete(context.Background(), keys))
	assert.Equal(t, int32(3), requests.Load())

	require.NoError(t, store.Delete(context.Background(), nil))
	assert.Equal(t, int32(3), requests.Load())
}

func TestS3Storage_Delete_ObjectErrors(t *testing.T) {
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">` +
			`<Error><Key>a</Key><Code>AccessDenied</Code><Message>denied</Message></Error></DeleteResult>`))
	})

	err := store.Delete(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 objects failed")
}

func TestS3Storage_SignedURL(t *testing.T) {
	var called atomic.Bool
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) { called.Store(true) })

	url, err := store.SignedURL(context.Background(), "uploads/ws-1/report.pdf", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "/documents/uploads/ws-1/report.pdf")
	assert.Contains(t, url, "X-Amz-Expires=900")
	assert.False(t, called.Load(), "presigning must not call the service")
}

func TestS3Storage_Ping(t *testing.T) {
	status := http.StatusOK
	store := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	assert.NoError(t, store.Ping(context.Background()))

	status = http.StatusForbidden
	err := store.Ping(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}
