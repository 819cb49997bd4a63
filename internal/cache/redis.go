package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
)

// RedisCache implements Cache using Redis. Values are stored as JSON with
// the same key prefix the memcached backend uses, so the two are swappable.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache for the given address. password may be
// empty; db selects the logical database (0 is the default).
func NewRedisCache(addr, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client}
}

func (c *RedisCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *RedisCache) Get(ctx context.Context, key string) (models.CitySeries, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.CitySeries{}, false, nil
		}
		return models.CitySeries{}, false, err
	}
	var data models.CitySeries
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.CitySeries{}, false, err
	}
	return data, true, nil
}

// Set implements Cache.Set. Redis handles expiration natively via SET EX.
func (c *RedisCache) Set(ctx context.Context, key string, value models.CitySeries, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = time.Hour // fallback 1h if invalid
	}
	return c.client.Set(ctx, c.key(key), raw, ttl).Err()
}

// Delete implements Cache.Delete. DEL on a missing key is a no-op.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// Ping checks if Redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connections. Call during shutdown.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
