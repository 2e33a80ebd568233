package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kunal1000-star/contextcore/internal/contextengine"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	return json.Unmarshal([]byte(val), dest)
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *Cache) Increment(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal value: %w", err)
	}
	return c.client.SetNX(ctx, key, data, ttl).Result()
}

// SnapshotStore keeps built context snapshots in redis so they survive
// process restarts and are shared across api instances. It is best-effort:
// redis errors are logged and swallowed, never surfaced to the caller.
type SnapshotStore struct {
	cache *Cache
}

func NewSnapshotStore(cache *Cache) *SnapshotStore {
	return &SnapshotStore{cache: cache}
}

func snapshotKey(key uint64) string {
	return fmt.Sprintf("context:snapshot:%d", key)
}

func (s *SnapshotStore) GetSnapshot(ctx context.Context, key uint64) (contextengine.ContextSnapshot, bool) {
	var snap contextengine.ContextSnapshot
	err := s.cache.Get(ctx, snapshotKey(key), &snap)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("snapshot store get failed", "key", key, "error", err)
		}
		return contextengine.ContextSnapshot{}, false
	}
	return snap, true
}

func (s *SnapshotStore) PutSnapshot(ctx context.Context, key uint64, snap contextengine.ContextSnapshot, ttl time.Duration) {
	if err := s.cache.Set(ctx, snapshotKey(key), snap, ttl); err != nil {
		slog.Warn("snapshot store put failed", "key", key, "error", err)
	}
}
