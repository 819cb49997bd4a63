package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/cache"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/cities"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/client"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/config"
	httphandler "github.com/lama1426m1-ux/Weather-dashboard/internal/http"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/lifecycle"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/observability"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/scheduler"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/service"
)

// shutdownPollInterval is how often the drain loop re-checks the in-flight
// request count during graceful shutdown.
const shutdownPollInterval = 100 * time.Millisecond

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	meteoClient, err := client.NewOpenMeteoClientWithResilience(
		cfg.OpenMeteoURL,
		cfg.OpenMeteoTimeout,
		client.Resilience{
			RetryAttempts:      cfg.RetryAttempts,
			RetryBaseDelay:     cfg.RetryBaseDelay,
			RetryMaxDelay:      cfg.RetryMaxDelay,
			BreakerMaxRequests: cfg.BreakerMaxRequests,
			BreakerInterval:    cfg.BreakerInterval,
			BreakerTimeout:     cfg.BreakerTimeout,
		},
	)
	if err != nil {
		logger.Fatal("meteo client", zap.Error(err))
	}

	registry := cities.NewRegistry(cfg.Cities)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
	}

	var cacheSvc cache.Cache
	var cacheCloser interface{ Close() error }
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		cacheSvc, cacheCloser = mc, mc
		healthConfig.CachePing = mc.Ping
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cacheSvc, cacheCloser = rc, rc
		healthConfig.CachePing = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rc.Ping(ctx)
		}
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	case "sqlite":
		sc, err := cache.NewSQLiteCache(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite cache", zap.Error(err))
		}
		cacheSvc, cacheCloser = sc, sc
		healthConfig.CachePing = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return sc.Ping(ctx)
		}
		logger.Info("cache backend: sqlite", zap.String("path", cfg.SQLitePath))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	dashboard := service.NewDashboardService(meteoClient, cacheSvc, cfg.CacheBackend, cfg.CacheTTL, cfg.MaxDays, cfg.CoalesceEnabled, cfg.CoalesceTimeout)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(dashboard, meteoClient, registry, healthConfig, logger, limiter, cfg.DefaultDays, cfg.DefaultBins)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	cityNames := make([]string, 0, len(cfg.Cities))
	for _, c := range cfg.Cities {
		cityNames = append(cityNames, c.Name)
	}
	observability.SetTrackedCities(cityNames)

	refresher := cache.NewRefresher(dashboard, cfg.Cities, cfg.DefaultDays, logger)
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := refresher.Warm(warmCtx); err != nil {
		logger.Warn("cache warming failed", zap.Error(err))
	}
	warmCancel()

	var refreshScheduler *scheduler.Scheduler
	if cfg.RefreshEnabled {
		refreshScheduler = scheduler.New(refresher, cfg.RefreshEvery, logger)
		if err := refreshScheduler.Start(); err != nil {
			logger.Fatal("refresh scheduler", zap.Error(err))
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/", handler.GetDashboard).Methods("GET")
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(httphandler.RateLimitMiddleware(limiter))
	api.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/cities", handler.GetCities).Methods("GET")
	api.HandleFunc("/cities/nearest", handler.GetNearestCity).Methods("GET")
	api.HandleFunc("/observations", handler.GetObservations).Methods("GET")
	api.HandleFunc("/summary", handler.GetSummary).Methods("GET")
	api.HandleFunc("/kpis", handler.GetKPIs).Methods("GET")
	api.HandleFunc("/refresh", handler.PostRefresh).Methods("POST")

	charts := router.PathPrefix("/charts").Subrouter()
	charts.Use(httphandler.RateLimitMiddleware(limiter))
	charts.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	charts.HandleFunc("/temperature.svg", handler.GetTemperatureChart).Methods("GET")
	charts.HandleFunc("/summary.svg", handler.GetSummaryChart).Methods("GET")
	charts.HandleFunc("/city/{city}/trend.svg", handler.GetCityTrendChart).Methods("GET")
	charts.HandleFunc("/city/{city}/histogram.svg", handler.GetCityHistogramChart).Methods("GET")
	charts.HandleFunc("/city/{city}/scatter.svg", handler.GetCityScatterChart).Methods("GET")

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", handler.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", handler.PostTestAction).Methods("POST")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, shutdownPollInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if refreshScheduler != nil {
		refreshScheduler.Stop()
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if cacheCloser != nil {
		if err := cacheCloser.Close(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
