package cache

import (
	"context"
	"sync"
	"time"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
)

// Cache defines the interface for hourly-series caching implementations.
// Get returns cached data if present and not expired, Set stores data with
// TTL, Delete removes a key (missing keys are a no-op).
type Cache interface {
	Get(ctx context.Context, key string) (models.CitySeries, bool, error)
	Set(ctx context.Context, key string, value models.CitySeries, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// InMemoryCache implements Cache using a mutex-guarded map with TTL-based
// expiration. Expired entries are removed on access. Safe for concurrent use;
// the dashboard fans out one goroutine per city over a shared cache.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached series with its expiration timestamp.
type cacheEntry struct {
	value     models.CitySeries
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached series for the key if present and not expired.
// Returns (data, true, nil) on cache hit, (zero, false, nil) on miss or
// expiration. Expired entries are removed on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.CitySeries, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.CitySeries{}, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a Set may have raced the expiry.
		if cur, ok := c.data[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return models.CitySeries{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores a series in cache with the specified TTL duration.
// Entry expires after TTL elapses and will be removed on next Get access.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.CitySeries, ttl time.Duration) error {
	c.mu.Lock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
	return nil
}

// Delete removes the key from the cache. Missing keys are a no-op.
func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, including not-yet-collected
// expired ones. Used by tests and the testing-mode state dump.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
