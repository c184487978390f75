// Package banning enforces the two ban kinds of the admission core:
// inclusive address-range bans and temporal account bans with cascading
// reactivation. Persistent records live in storage; the registry layers an
// in-memory interval snapshot and an optional short-TTL cache on top so the
// hot request path avoids a database round-trip per announce.
package banning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"swarmgate/ipmath"
	"swarmgate/kvstore"
	"swarmgate/storage"
)

// Reason length bounds, shared by both ban kinds.
const (
	minReasonLength = 5
	maxReasonLength = 500
)

// validReason bounds the reason in characters, not bytes, so multi-byte
// text is measured the way an operator reads it.
func validReason(reason string) bool {
	runes := utf8.RuneCountInString(reason)
	return runes >= minReasonLength && runes <= maxReasonLength
}

// ErrReasonLength rejects ban reasons outside the 5–500 character bounds.
var ErrReasonLength = fmt.Errorf("banning: reason must be %d to %d characters", minReasonLength, maxReasonLength)

// ErrRangeInverted rejects address ranges whose lower bound exceeds the
// upper bound.
var ErrRangeInverted = errors.New("banning: range start exceeds range end")

// Store is the persistent collaborator behind the registry, implemented by
// storage.Bans.
type Store interface {
	ListAddressBans(ctx context.Context) ([]storage.AddressBan, error)
	CreateAddressBan(ctx context.Context, from, to []byte, reason string) (*storage.AddressBan, error)
	DeleteAddressBan(ctx context.Context, id uuid.UUID) error
	CreateAccountBan(ctx context.Context, accountID uuid.UUID, reason string, issuedBy uuid.UUID, expiresAt *time.Time) (*storage.AccountBan, error)
	DeactivateAccountBan(ctx context.Context, banID, actor uuid.UUID) (*storage.AccountBan, error)
	HasQualifyingBan(ctx context.Context, accountID uuid.UUID) (bool, error)
	ListAccountBans(ctx context.Context, accountID uuid.UUID) ([]storage.AccountBan, error)
	DeactivateExpired(ctx context.Context) (int64, error)
}

// Config tunes the registry's caching behavior.
type Config struct {
	// AddressRefreshInterval bounds the staleness of the in-memory
	// address-range snapshot.
	AddressRefreshInterval time.Duration
	// AccountCacheTTL bounds the staleness of cached account-ban verdicts.
	// Zero disables the cache.
	AccountCacheTTL time.Duration
}

const (
	defaultAddressRefresh = 30 * time.Second
	accountCachePrefix    = "banned:"
)

type interval struct {
	from *uint256.Int
	to   *uint256.Int
}

// Registry answers "is this address or account currently banned" and owns
// every ban mutation.
type Registry struct {
	store  Store
	cache  kvstore.Store
	cfg    Config
	logger *slog.Logger
	nowFn  func() time.Time

	snapMu     sync.RWMutex
	snapshot   []interval
	snapshotAt time.Time
	snapLoaded bool
}

// NewRegistry builds a registry. The cache store may be nil to disable the
// account-ban cache.
func NewRegistry(store Store, cache kvstore.Store, cfg Config, logger *slog.Logger) *Registry {
	if cfg.AddressRefreshInterval <= 0 {
		cfg.AddressRefreshInterval = defaultAddressRefresh
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		nowFn:  time.Now,
	}
}

// IsAddressBanned reports whether the address falls inside any banned
// range. A malformed address is treated as not banned: parse failure is
// ambiguity, not evidence of hostility, and the policy here is fail-open.
// Store unavailability is a different matter; with no snapshot to fall back
// on the error is surfaced so the caller can fail closed.
func (r *Registry) IsAddressBanned(ctx context.Context, address string) (bool, error) {
	value, err := ipmath.ToInteger(address)
	if err != nil {
		return false, nil
	}
	snapshot, err := r.currentSnapshot(ctx)
	if err != nil {
		return false, err
	}
	for _, iv := range snapshot {
		if ipmath.Contains(iv.from, iv.to, value) {
			return true, nil
		}
	}
	return false, nil
}

// IsAccountBanned reports whether the account has a qualifying active,
// unexpired ban. Verdicts may be served from the short-TTL cache; a store
// failure is returned so security-relevant callers deny. The cache write
// below can race a concurrent ban's invalidation and re-cache the verdict
// it just read, so enforcement as well as reactivation may lag by up to
// one cache TTL.
func (r *Registry) IsAccountBanned(ctx context.Context, accountID uuid.UUID) (bool, error) {
	key := accountCachePrefix + accountID.String()
	if r.cacheEnabled() {
		cached, err := r.cache.Get(ctx, key)
		if err == nil {
			return cached == "1", nil
		}
		if !errors.Is(err, kvstore.ErrNotFound) {
			r.logger.Warn("account ban cache read failed", "account", accountID, "error", err)
		}
	}
	banned, err := r.store.HasQualifyingBan(ctx, accountID)
	if err != nil {
		return false, err
	}
	if r.cacheEnabled() {
		value := "0"
		if banned {
			value = "1"
		}
		if err := r.cache.SetWithTTL(ctx, key, value, r.cfg.AccountCacheTTL); err != nil {
			r.logger.Warn("account ban cache write failed", "account", accountID, "error", err)
		}
	}
	return banned, nil
}

// BanAccount records a new ban and marks the account banned in the same
// transaction. Returns storage.ErrAccountNotFound for unknown accounts.
func (r *Registry) BanAccount(ctx context.Context, accountID uuid.UUID, reason string, issuedBy uuid.UUID, expiresAt *time.Time) (*storage.AccountBan, error) {
	if !validReason(reason) {
		return nil, ErrReasonLength
	}
	ban, err := r.store.CreateAccountBan(ctx, accountID, reason, issuedBy, expiresAt)
	if err != nil {
		return nil, err
	}
	r.invalidateAccount(ctx, accountID)
	return ban, nil
}

// DeactivateBan lifts one ban. The account's banned flag is only cleared
// when no other qualifying ban remains; that re-evaluation happens inside
// the storage layer as a single conditional statement.
func (r *Registry) DeactivateBan(ctx context.Context, banID, actor uuid.UUID) (*storage.AccountBan, error) {
	ban, err := r.store.DeactivateAccountBan(ctx, banID, actor)
	if err != nil {
		return nil, err
	}
	r.logger.Info("account ban lifted", "ban", banID, "account", ban.AccountID, "actor", actor)
	r.invalidateAccount(ctx, ban.AccountID)
	return ban, nil
}

// AccountBans returns the account's full ban history.
func (r *Registry) AccountBans(ctx context.Context, accountID uuid.UUID) ([]storage.AccountBan, error) {
	return r.store.ListAccountBans(ctx, accountID)
}

// SweepExpired deactivates every ban whose expiry has passed, reconciling
// each affected account, and returns how many bans were cleaned. Cached
// account verdicts are not individually invalidated here; they age out
// within AccountCacheTTL. Staleness cuts both ways: a sweep-reactivated
// account may read as banned, and a reader that raced BanAccount's
// invalidation may have cached a stale "not banned", each for at most one
// cache TTL.
func (r *Registry) SweepExpired(ctx context.Context) (int64, error) {
	return r.store.DeactivateExpired(ctx)
}

// BanAddressRange creates an inclusive [from, to] range ban. Both bounds
// must parse; mapped v4-in-v6 forms normalize to v4 so the stored range
// matches dual-stack clients.
func (r *Registry) BanAddressRange(ctx context.Context, fromAddress, toAddress, reason string) (*storage.AddressBan, error) {
	if !validReason(reason) {
		return nil, ErrReasonLength
	}
	from, err := ipmath.ToInteger(fromAddress)
	if err != nil {
		return nil, err
	}
	to, err := ipmath.ToInteger(toAddress)
	if err != nil {
		return nil, err
	}
	if from.Cmp(to) > 0 {
		return nil, ErrRangeInverted
	}
	ban, err := r.store.CreateAddressBan(ctx, encodeBound(from), encodeBound(to), reason)
	if err != nil {
		return nil, err
	}
	r.invalidateSnapshot()
	return ban, nil
}

// UnbanAddressRange deletes a range ban by id.
func (r *Registry) UnbanAddressRange(ctx context.Context, banID uuid.UUID) error {
	if err := r.store.DeleteAddressBan(ctx, banID); err != nil {
		return err
	}
	r.invalidateSnapshot()
	return nil
}

// AddressBans lists every range ban.
func (r *Registry) AddressBans(ctx context.Context) ([]storage.AddressBan, error) {
	return r.store.ListAddressBans(ctx)
}

// SetClock overrides the registry clock for tests.
func (r *Registry) SetClock(nowFn func() time.Time) {
	if nowFn != nil {
		r.nowFn = nowFn
	}
}

func (r *Registry) cacheEnabled() bool {
	return r.cache != nil && r.cfg.AccountCacheTTL > 0
}

func (r *Registry) invalidateAccount(ctx context.Context, accountID uuid.UUID) {
	if !r.cacheEnabled() {
		return
	}
	if err := r.cache.Delete(ctx, accountCachePrefix+accountID.String()); err != nil {
		r.logger.Warn("account ban cache invalidation failed", "account", accountID, "error", err)
	}
}

func (r *Registry) invalidateSnapshot() {
	r.snapMu.Lock()
	r.snapshotAt = time.Time{}
	r.snapMu.Unlock()
}

// currentSnapshot returns the interval snapshot, refreshing it when stale.
// A refresh failure falls back to the previous snapshot; only a cold
// registry with no snapshot at all propagates the error.
func (r *Registry) currentSnapshot(ctx context.Context) ([]interval, error) {
	r.snapMu.RLock()
	if r.snapLoaded && r.nowFn().Sub(r.snapshotAt) < r.cfg.AddressRefreshInterval {
		snapshot := r.snapshot
		r.snapMu.RUnlock()
		return snapshot, nil
	}
	r.snapMu.RUnlock()

	r.snapMu.Lock()
	defer r.snapMu.Unlock()
	if r.snapLoaded && r.nowFn().Sub(r.snapshotAt) < r.cfg.AddressRefreshInterval {
		return r.snapshot, nil
	}
	bans, err := r.store.ListAddressBans(ctx)
	if err != nil {
		if r.snapLoaded {
			r.logger.Warn("address ban refresh failed, serving stale snapshot", "error", err)
			return r.snapshot, nil
		}
		return nil, fmt.Errorf("load address bans: %w", err)
	}
	snapshot := make([]interval, 0, len(bans))
	for _, ban := range bans {
		snapshot = append(snapshot, interval{
			from: new(uint256.Int).SetBytes(ban.FromAddress),
			to:   new(uint256.Int).SetBytes(ban.ToAddress),
		})
	}
	r.snapshot = snapshot
	r.snapshotAt = r.nowFn()
	r.snapLoaded = true
	return r.snapshot, nil
}

// encodeBound renders an address integer as the fixed 16-byte big-endian
// form stored in address_bans.
func encodeBound(value *uint256.Int) []byte {
	raw := value.Bytes32()
	bound := make([]byte, 16)
	copy(bound, raw[16:])
	return bound
}
