// Package lockout throttles brute-force authentication attempts with a
// per-address failure counter in the shared key-value store. The window is
// fixed from the first failure: the counter's TTL is armed when the key is
// created and is not refreshed by later failures, so absence of the key is
// the clear state and no reset event is ever needed.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"swarmgate/kvstore"
)

const counterPrefix = "lockout:"

// Config carries the lockout policy. Both values are deployment
// configuration, never hardcoded call-site constants.
type Config struct {
	// Limit is the number of failures at which the address locks.
	Limit int64
	// Window is how long failures accumulate and how long a lock holds.
	Window time.Duration
}

// Guard tracks failed authentication attempts per address.
type Guard struct {
	store kvstore.Store
	cfg   Config
}

// NewGuard builds a guard over the shared store.
func NewGuard(store kvstore.Store, cfg Config) (*Guard, error) {
	if cfg.Limit <= 0 {
		return nil, errors.New("lockout: limit must be positive")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("lockout: window must be positive")
	}
	return &Guard{store: store, cfg: cfg}, nil
}

// IsLocked reports whether the address has reached the failure limit inside
// the current window. Store errors are returned; the caller decides the
// failure posture (the login path fails closed).
func (g *Guard) IsLocked(ctx context.Context, address string) (bool, error) {
	value, err := g.store.Get(ctx, counterKey(address))
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lockout counter read: %w", err)
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, fmt.Errorf("lockout counter corrupt for %s: %w", address, err)
	}
	return count >= g.cfg.Limit, nil
}

// RecordFailure counts one failed attempt. The increment is atomic at the
// store and arms the window TTL only when this failure is the first.
func (g *Guard) RecordFailure(ctx context.Context, address string) error {
	if _, err := g.store.IncrWithTTL(ctx, counterKey(address), g.cfg.Window); err != nil {
		return fmt.Errorf("lockout counter increment: %w", err)
	}
	return nil
}

// Clear forgets the address entirely. Called after a successful
// authentication.
func (g *Guard) Clear(ctx context.Context, address string) error {
	if err := g.store.Delete(ctx, counterKey(address)); err != nil {
		return fmt.Errorf("lockout counter clear: %w", err)
	}
	return nil
}

func counterKey(address string) string {
	return counterPrefix + strings.TrimSpace(address)
}
