//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/cache"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/client"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIURL        string
	CacheBackend  string // "in_memory", "memcached", "redis", or "sqlite"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless OPEN_METEO_INTEGRATION is set, so the tagged suite
// never hits the live API by accident.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	if os.Getenv("OPEN_METEO_INTEGRATION") == "" {
		t.Skip("OPEN_METEO_INTEGRATION not set, skipping integration test")
	}

	apiURL := os.Getenv("OPEN_METEO_URL")
	if apiURL == "" {
		apiURL = "https://api.open-meteo.com/v1/forecast"
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	return IntegrationTestConfig{
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
		RedisAddr:     redisAddr,
	}
}

// SetupIntegrationService creates a fully configured dashboard service for
// integration tests. Returns the service, the cache instance (for test
// setup), and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.DashboardService, cache.Cache, func()) {
	meteoClient, err := client.NewOpenMeteoClient(cfg.APIURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}

	cacheSvc, cacheType, cleanup := setupIntegrationCache(t, cfg)
	dashboard := service.NewDashboardService(meteoClient, cacheSvc, cacheType, 5*time.Minute, 3, false, 0)
	return dashboard, cacheSvc, cleanup
}

// setupIntegrationCache picks the cache backend from config, falling back to
// in-memory when the external backend is not reachable.
func setupIntegrationCache(t *testing.T, cfg IntegrationTestConfig) (cache.Cache, string, func()) {
	switch cfg.CacheBackend {
	case "memcached":
		memcachedCache, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && memcachedCache.Ping() == nil {
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return memcachedCache, "memcached", func() { memcachedCache.Close() }
		}
		t.Logf("Memcached not available, using in-memory cache")
	case "redis":
		redisCache := cache.NewRedisCache(cfg.RedisAddr, "", 0)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if redisCache.Ping(ctx) == nil {
			t.Logf("Using Redis cache at %s", cfg.RedisAddr)
			return redisCache, "redis", func() { redisCache.Close() }
		}
		t.Logf("Redis not available, using in-memory cache")
	case "sqlite":
		path := filepath.Join(t.TempDir(), "cache.db")
		sqliteCache, err := cache.NewSQLiteCache(path)
		if err == nil {
			t.Logf("Using SQLite cache at %s", path)
			return sqliteCache, "sqlite", func() { sqliteCache.Close() }
		}
		t.Logf("SQLite cache unavailable (%v), using in-memory cache", err)
	}
	return cache.NewInMemoryCache(), "in_memory", func() {}
}

// SetupIntegrationClient creates an Open-Meteo client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) client.MeteoClient {
	meteoClient, err := client.NewOpenMeteoClient(cfg.APIURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	return meteoClient
}
