package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, for deployments that need one
// logical limit shared across processes. Values are stored as JSON and TTL
// is delegated to Redis key expiry. Capacity bounding is delegated to the
// Redis instance's own eviction policy, so Set never evicts here.
type RedisStore[T any] struct {
	client *redis.Client
	prefix string
}

var _ Store[int] = (*RedisStore[int])(nil)

// NewRedisStore wraps the given client. All keys are namespaced under
// prefix to keep limiter state separate from other tenants of the instance.
func NewRedisStore[T any](client *redis.Client, prefix string) *RedisStore[T] {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore[T]{client: client, prefix: prefix}
}

func (s *RedisStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return zero, false, err
	}
	return value, true, nil
}

func (s *RedisStore[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.redisKey(key), data, ttl).Err()
}

func (s *RedisStore[T]) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (s *RedisStore[T]) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore[T]) Size(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisStore[T]) Keys(ctx context.Context) ([]string, error) {
	raw, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k[len(s.prefix)+1:])
	}
	return keys, nil
}

func (s *RedisStore[T]) Clear(ctx context.Context) error {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore[T]) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+":*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (s *RedisStore[T]) redisKey(key string) string {
	return s.prefix + ":" + key
}
