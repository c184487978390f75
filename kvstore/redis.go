package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the connection to the shared Redis instance.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	OpTimeout time.Duration
}

// RedisStore implements Store on top of a shared Redis instance. This is the
// backend that gives multiple gateway processes a consistent view of lockout
// counters and denylist entries.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := opContext(ctx, cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, opTimeout: cfg.OpTimeout}, nil
}

// Get fetches the value at key, mapping redis.Nil to ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	opCtx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	value, err := s.client.Get(opCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// SetWithTTL writes key=value with the supplied expiry.
func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	opCtx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	if err := s.client.Set(opCtx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// IncrWithTTL atomically increments key and arms its TTL only when the
// increment created the key. INCR and EXPIRE NX travel in one pipeline so
// concurrent writers cannot observe a counter without an expiry.
func (s *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	opCtx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(opCtx, key)
	pipe.ExpireNX(opCtx, key, ttl)
	if _, err := pipe.Exec(opCtx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	opCtx, cancel := opContext(ctx, s.opTimeout)
	defer cancel()
	if err := s.client.Del(opCtx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
