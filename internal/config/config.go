package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/cities"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	TestingMode bool

	ServerPort string

	OpenMeteoURL     string
	OpenMeteoTimeout time.Duration

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	CacheBackend   string // "in_memory", "memcached", "redis" or "sqlite"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQLitePath string

	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration

	DefaultDays    int
	DefaultBins    int
	MaxDays        int
	RefreshEnabled bool
	RefreshEvery   time.Duration

	ShutdownTimeout         time.Duration
	ShutdownInFlightTimeout time.Duration

	ReadyDelay             time.Duration
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int

	Cities []cities.City
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	OpenMeteo struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"open_meteo"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts   int    `yaml:"retry_max_attempts"`
		RetryBaseDelay     string `yaml:"retry_base_delay"`
		RetryMaxDelay      string `yaml:"retry_max_delay"`
		RateLimitRPS       int    `yaml:"rate_limit_rps"`
		RateLimitBurst     int    `yaml:"rate_limit_burst"`
		CoalesceEnabled    *bool  `yaml:"coalesce_enabled"`
		CoalesceTimeout    string `yaml:"coalesce_timeout"`
		BreakerMaxRequests int    `yaml:"breaker_max_requests"`
		BreakerInterval    string `yaml:"breaker_interval"`
		BreakerTimeout     string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Dashboard struct {
		DefaultDays int `yaml:"default_days"`
		DefaultBins int `yaml:"default_bins"`
	} `yaml:"dashboard"`

	Refresh struct {
		Enabled  *bool  `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"refresh"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"in_flight_timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		ReadyDelay             string `yaml:"ready_delay"`
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Cities []cities.City `yaml:"cities"`
}

// MaxLookbackDays bounds the past_days selector, matching the upstream
// request the dashboard issues (0 to 3 days back plus today's forecast).
const MaxLookbackDays = 3

// Load reads configuration from .env (best effort), config/{ENV_NAME}.yaml
// (default dev; missing file means defaults), then env overrides. Open-Meteo
// needs no API key, so there is no secrets file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	var fc fileConfig
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{
		TestingMode: false,
	}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = strings.TrimSpace(os.Getenv("PORT"))
	if cfg.ServerPort == "" {
		cfg.ServerPort = fc.Server.Port
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.OpenMeteoURL = strings.TrimSpace(os.Getenv("OPEN_METEO_URL"))
	if cfg.OpenMeteoURL == "" {
		cfg.OpenMeteoURL = fc.OpenMeteo.URL
	}
	if cfg.OpenMeteoURL == "" {
		cfg.OpenMeteoURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.OpenMeteoTimeout = parseDurationOrZero(fc.OpenMeteo.Timeout, 10*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = strings.TrimSpace(fc.Cache.Redis.Addr)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = fc.Cache.Redis.Password
	}
	cfg.RedisDB = fc.Cache.Redis.DB

	cfg.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = strings.TrimSpace(fc.Cache.SQLite.Path)
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "weather-cache.db"
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.CoalesceEnabled = true
	if fc.Reliability.CoalesceEnabled != nil {
		cfg.CoalesceEnabled = *fc.Reliability.CoalesceEnabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 10*time.Second)

	cfg.BreakerMaxRequests = uint32(fc.Reliability.BreakerMaxRequests)
	if fc.Reliability.BreakerMaxRequests <= 0 {
		cfg.BreakerMaxRequests = 5
	}
	cfg.BreakerInterval = parseDuration(fc.Reliability.BreakerInterval, time.Minute)
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 2*time.Minute)

	cfg.DefaultDays = fc.Dashboard.DefaultDays
	if fc.Dashboard.DefaultDays == 0 {
		cfg.DefaultDays = 1
	}
	cfg.DefaultBins = fc.Dashboard.DefaultBins
	if cfg.DefaultBins <= 0 {
		cfg.DefaultBins = 15
	}
	cfg.MaxDays = MaxLookbackDays

	cfg.RefreshEnabled = true
	if fc.Refresh.Enabled != nil {
		cfg.RefreshEnabled = *fc.Refresh.Enabled
	}
	cfg.RefreshEvery = parseDuration(fc.Refresh.Interval, 5*time.Minute)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)

	cfg.ReadyDelay = parseDuration(fc.Lifecycle.ReadyDelay, 3*time.Second)
	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	if cfg.IdleThresholdReqPerMin <= 0 {
		cfg.IdleThresholdReqPerMin = 5
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.Cities = fc.Cities
	if len(cfg.Cities) == 0 {
		cfg.Cities = cities.Default().All()
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Ensures OpenMeteoTimeout is positive, RequestTimeout > OpenMeteoTimeout
// (auto-adjusted if needed), CacheBackend is known, and the dashboard
// defaults stay inside the ranges the handlers accept.
func validate(cfg *Config) error {
	if cfg.OpenMeteoTimeout <= 0 {
		return fmt.Errorf("open_meteo.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.OpenMeteoTimeout {
		cfg.RequestTimeout = cfg.OpenMeteoTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis", "sqlite":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached, redis or sqlite, got %q", cfg.CacheBackend)
	}
	if cfg.DefaultDays < 0 || cfg.DefaultDays > MaxLookbackDays {
		return fmt.Errorf("dashboard.default_days must be between 0 and %d, got %d", MaxLookbackDays, cfg.DefaultDays)
	}
	if cfg.DefaultBins < 1 || cfg.DefaultBins > 100 {
		return fmt.Errorf("dashboard.default_bins must be between 1 and 100, got %d", cfg.DefaultBins)
	}
	for _, c := range cfg.Cities {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("cities entries require a name")
		}
		if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return fmt.Errorf("city %q has out-of-range coordinates", c.Name)
		}
	}
	return nil
}
