package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds every round trip to the durable store
const DefaultTimeout = 500 * time.Millisecond

const lockKeyPrefix = "lock:"

// RedisStore is the durable, shared backend. Sliding windows are sorted sets
// scored by request time in milliseconds; lockout entries are JSON strings
// under lock:{identity}.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisStore connects to the store at url and verifies it with a ping
func NewRedisStore(ctx context.Context, url string, timeout time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout

	s := NewRedisStoreFromClient(redis.NewClient(opts), timeout)

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return s, nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client redis.UniversalClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisStore{client: client, timeout: timeout}
}

// SlidingWindowHit records one request at now for key and returns how many
// requests fall inside (now-window, now], including this one. Trim, insert,
// count and expiry refresh run in a single MULTI/EXEC so concurrent callers
// for the same key are linearized.
func (s *RedisStore) SlidingWindowHit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	windowStart := now.Add(-window).UnixMilli()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	ttl := time.Duration(math.Ceil(window.Seconds())) * time.Second

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(windowStart, 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sliding window %s: %w: %w", key, models.ErrStoreUnavailable, err)
	}

	return card.Val(), nil
}

// Get loads the lockout entry for identity; nil when absent
func (s *RedisStore) Get(ctx context.Context, identity string) (*models.LockoutEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, lockKeyPrefix+identity).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lockout entry: %w: %w", models.ErrStoreUnavailable, err)
	}

	var entry models.LockoutEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode lockout entry: %w: %w", models.ErrMalformedEntry, err)
	}
	return &entry, nil
}

// Put writes the lockout entry for identity with the given TTL
func (s *RedisStore) Put(ctx context.Context, identity string, entry models.LockoutEntry, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode lockout entry: %w", err)
	}

	if err := s.client.Set(ctx, lockKeyPrefix+identity, raw, ttl).Err(); err != nil {
		return fmt.Errorf("put lockout entry: %w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes the lockout entry for identity
func (s *RedisStore) Delete(ctx context.Context, identity string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, lockKeyPrefix+identity).Err(); err != nil {
		return fmt.Errorf("delete lockout entry: %w: %w", models.ErrStoreUnavailable, err)
	}
	return nil
}

// Ping checks connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the client's connections
func (s *RedisStore) Close() error {
	return s.client.Close()
}
