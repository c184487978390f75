package kvstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStore implements Store against an embedded LevelDB database for
// single-process deployments that do not run Redis. TTLs are emulated by
// prefixing each value with its expiry instant and treating stale entries
// as absent on read; a mutex serializes writers so IncrWithTTL keeps the
// atomic-increment contract.
type LevelDBStore struct {
	db        *leveldb.DB
	opTimeout time.Duration

	mu    sync.Mutex
	nowFn func() time.Time
}

// NewLevelDBStore opens (or creates) the database at path.
func NewLevelDBStore(path string, opTimeout time.Duration) (*LevelDBStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb store: %w", err)
	}
	return &LevelDBStore{db: db, opTimeout: opTimeout, nowFn: time.Now}, nil
}

// Get returns the live value at key, deleting and reporting ErrNotFound for
// entries whose emulated TTL has lapsed.
func (s *LevelDBStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, _, err := s.loadLocked(key)
	return value, err
}

// SetWithTTL writes key=value expiring after ttl. A non-positive ttl stores
// the value without expiry.
func (s *LevelDBStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.putLocked(key, value, s.expiry(ttl))
}

// IncrWithTTL increments the counter at key under the store mutex, arming
// the expiry only when the key springs into existence.
func (s *LevelDBStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	value, expiresAt, err := s.loadLocked(key)
	switch {
	case errors.Is(err, ErrNotFound):
		expiresAt = s.expiry(ttl)
		value = "0"
	case err != nil:
		return 0, err
	}
	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("leveldb counter %s corrupt: %w", key, err)
	}
	count++
	if err := s.putLocked(key, strconv.FormatInt(count, 10), expiresAt); err != nil {
		return 0, err
	}
	return count, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *LevelDBStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldb delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func (s *LevelDBStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.nowFn().Add(ttl).UnixNano()
}

func (s *LevelDBStore) loadLocked(key string) (string, int64, error) {
	raw, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("leveldb get %s: %w", key, err)
	}
	if len(raw) < 8 {
		return "", 0, fmt.Errorf("leveldb entry %s corrupt", key)
	}
	expiresAt := int64(binary.BigEndian.Uint64(raw[:8]))
	if expiresAt != 0 && !s.nowFn().Before(time.Unix(0, expiresAt)) {
		_ = s.db.Delete([]byte(key), nil)
		return "", 0, ErrNotFound
	}
	return string(raw[8:]), expiresAt, nil
}

func (s *LevelDBStore) putLocked(key, value string, expiresAt int64) error {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt))
	copy(buf[8:], value)
	if err := s.db.Put([]byte(key), buf, nil); err != nil {
		return fmt.Errorf("leveldb put %s: %w", key, err)
	}
	return nil
}
