package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations records token ids invalidated by logout before they expire.
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRevocations keeps revoked token ids in process memory.
type MemoryRevocations struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocations constructs an empty in-process revocation list.
func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, id)
		}
	}
	if until.After(now) {
		m.entries[tokenID] = until
	}
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[tokenID]
	if !ok {
		return false, nil
	}
	return m.now().Before(exp), nil
}

// RedisRevocations stores revoked token ids as expiring keys (key: revoked:{jti}).
type RedisRevocations struct {
	client *redis.Client
	keyFmt string
}

// NewRedisRevocations wraps an existing client.
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client, keyFmt: "revoked:%s"}
}

func (r *RedisRevocations) key(tokenID string) string {
	return fmt.Sprintf(r.keyFmt, tokenID)
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := time.Until(until)
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(tokenID), 1, ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
