// Package idempotency provides best-effort deduplication of accounting
// effects keyed by a request's correlation id, so a client retry (or an
// at-least-once delivery from the Session Layer) never double-settles the
// same completion.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store records whether a correlation id has already been settled.
type Store interface {
	// PutIfAbsent reports true and records key if it was not already
	// present (or had expired); reports false if a live entry exists.
	PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryStore keeps idempotency keys in process memory. Suitable for a
// single-broker deployment, per SPEC_FULL.md's decision to specify the core
// as a single broker process.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemoryStore creates an in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]time.Time)}
}

// PutIfAbsent records key if missing or expired.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiresAt, ok := s.entries[key]; ok && expiresAt.After(now) {
		return false, nil
	}
	if ttl <= 0 {
		delete(s.entries, key)
		return true, nil
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

// RedisStore stores idempotency keys in Redis, for deployments that want
// dedup to survive a broker restart.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed idempotency store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// PutIfAbsent records the key in Redis if missing.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}
	if ttl <= 0 {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, "1", ttl).Result()
	return ok, err
}
