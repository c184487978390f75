// Package kvstore abstracts the shared TTL-capable key-value store that
// holds the ephemeral admission state: lockout counters and credential
// denylist entries. Redis is the production backend; LevelDB serves
// single-node deployments and the memory backend serves tests.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or its TTL has
// elapsed. Absence of a key is meaningful to callers (a missing lockout
// counter is the clear state), so it is a sentinel rather than a zero value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the shared key-value surface required by the admission core.
//
// IncrWithTTL must be an atomic increment that arms the key's TTL only when
// the increment creates the key. A get-then-set emulation is unsafe under
// concurrent writers; backends either use a native primitive (Redis) or
// serialize writers internally (LevelDB, memory).
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

const defaultOpTimeout = 2 * time.Second

// opContext bounds a single store round-trip. Handlers pass request-scoped
// contexts; the store adds its own ceiling so a stalled backend cannot hold
// an admission decision open indefinitely.
func opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
