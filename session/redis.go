package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "sso"

// RedisCache stores JSON-encoded values in Redis under "<prefix>:<token>".
// Expiry is delegated to Redis key TTLs, so instances behind a load balancer
// share sessions.
type RedisCache[V any] struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache[V any](redisClient redis.UniversalClient, prefix string) *RedisCache[V] {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache[V]{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (c *RedisCache[V]) key(token string) string {
	return c.prefix + ":" + token
}

// Get implements Cache.
func (c *RedisCache[V]) Get(ctx context.Context, token string) (V, bool, error) {
	var value V
	data, err := c.redis.Get(ctx, c.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return value, false, nil
		}
		return value, false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, fmt.Errorf("decode session %s: %w", c.key(token), err)
	}
	return value, true, nil
}

// Set implements Cache.
func (c *RedisCache[V]) Set(ctx context.Context, token string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Invalidate implements Cache.
func (c *RedisCache[V]) Invalidate(ctx context.Context, token string) error {
	if err := c.redis.Del(ctx, c.key(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
