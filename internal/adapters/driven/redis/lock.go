package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

const defaultLockPrefix = "flopods:lock:"

// Lock is a DistributedLock held as a Redis key with a TTL. The value is
// the owner ID, so only the worker that took a lock can release or extend it.
type Lock struct {
	client  *redis.Client
	prefix  string
	ownerID string
}

// LockOption configures a Lock
type LockOption func(*Lock)

// WithLockPrefix sets the key prefix
func WithLockPrefix(prefix string) LockOption {
	return func(l *Lock) { l.prefix = prefix }
}

// WithOwnerID fixes the owner ID instead of generating one
func WithOwnerID(id string) LockOption {
	return func(l *Lock) { l.ownerID = id }
}

// NewLock creates a Redis-backed distributed lock.
func NewLock(client *redis.Client, opts ...LockOption) *Lock {
	l := &Lock{
		client: client,
		prefix: defaultLockPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ownerID == "" {
		l.ownerID = generateOwnerID()
	}
	return l
}

// hostname:pid:random
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(b))
}

// Acquire takes name for ttl. It returns false without error when another
// owner holds the lock.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: lock ttl must be positive", domain.ErrInvalidInput)
	}
	err := l.client.SetArgs(ctx, l.key(name), l.ownerID, redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return true, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Release deletes the lock if this instance owns it. Releasing a lock that
// expired or belongs to someone else is not an error.
func (l *Lock) Release(ctx context.Context, name string) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Extend resets the TTL of a lock this instance owns. A lock that expired
// or was taken over returns ErrLockHeld.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: %w", name, domain.ErrLockHeld)
	}
	return nil
}

// Holder returns the owner ID currently holding name, or "" when free.
func (l *Lock) Holder(ctx context.Context, name string) (string, error) {
	owner, err := l.client.Get(ctx, l.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lock %s: %w", name, err)
	}
	return owner, nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Lock) OwnerID() string {
	return l.ownerID
}

func (l *Lock) key(name string) string {
	return l.prefix + name
}
