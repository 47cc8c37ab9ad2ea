package driven

import (
	"context"
	"time"
)

// ObjectStorage stores blobs by key in a single bucket.
// Get returns domain.ErrNotFound for missing keys; Delete ignores them.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys []string) error

	// SignedURL returns a time-limited download URL for key
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Ping checks the bucket is reachable
	Ping(ctx context.Context) error
}
