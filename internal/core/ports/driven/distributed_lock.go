package driven

import (
	"context"
	"time"
)

// DistributedLock serialises work on one document across worker processes.
// Names are built by the caller, e.g. services.DocumentLockName.
type DistributedLock interface {
	// Acquire takes name for ttl. false with a nil error means another owner holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops name if this process owns it; a lock that already expired is not an error.
	Release(ctx context.Context, name string) error

	// Extend pushes the expiry of a lock this process owns. It wraps
	// domain.ErrLockHeld when ownership was lost. Session-scoped backends
	// (Postgres advisory locks) hold until Release and treat this as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
