package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/cache"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/cities"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/client"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/observability"
)

// DashboardService orchestrates hourly-series retrieval using the cache-aside
// pattern: cached series are served directly, misses go upstream and populate
// the cache. One instance is shared by the page, API, and chart handlers.
type DashboardService struct {
	meteo           client.MeteoClient
	cache           cache.Cache
	cacheType       string // backend name, used as the cacheHitsTotal label
	ttl             time.Duration
	maxDays         int
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil when request coalescing is disabled
}

// NewDashboardService creates a DashboardService. ttl is the cache expiration
// for each (city, days) series and maxDays the largest lookback Invalidate
// must cover. coalesceTimeout of 0 disables request coalescing.
func NewDashboardService(meteo client.MeteoClient, c cache.Cache, cacheType string, ttl time.Duration, maxDays int, coalesceEnabled bool, coalesceTimeout time.Duration) *DashboardService {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &DashboardService{
		meteo:           meteo,
		cache:           c,
		cacheType:       cacheType,
		ttl:             ttl,
		maxDays:         maxDays,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetCitySeries retrieves the hourly series for one city and lookback using
// cache-aside: cache hit returns immediately, a miss fetches upstream and
// populates the cache. Cache write failures are logged, never fatal.
func (s *DashboardService) GetCitySeries(ctx context.Context, city cities.City, days int) (models.CitySeries, error) {
	key := seriesKey(city.Name, days)
	start := time.Now()
	logger := loggerFromContext(ctx)
	observability.RecordCityQuery(city.Name)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDuration.WithLabelValues("get", "error").Observe(getDuration)
	} else if ok {
		observability.CacheOperationDuration.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues(s.cacheType).Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("key", key))
			logger.Debug("series served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}

	concurrentMisses := s.stampedeTracker.RecordMiss(key)
	defer s.stampedeTracker.RecordHit(key)
	cityLabel := observability.MetricCityLabel(city.Name)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(cityLabel).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(cityLabel).Set(float64(concurrentMisses))
	}

	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("key", key))
	}

	// The coalescer folds concurrent misses for the same (city, days) into a
	// single upstream flight.
	var series models.CitySeries
	var upstreamErr error
	if s.coalescer != nil {
		coalesceStart := time.Now()
		series, upstreamErr = s.coalescer.GetOrDo(ctx, key, func() (models.CitySeries, error) {
			return s.meteo.FetchHourly(ctx, city, days)
		})
		coalesceWait := time.Since(coalesceStart)
		if upstreamErr == nil {
			// A wait noticeably longer than map bookkeeping means this caller
			// rode on another flight rather than starting one (approximate).
			if coalesceWait > 10*time.Millisecond {
				observability.RequestCoalescingHitsTotal.WithLabelValues(cityLabel).Inc()
			}
			observability.RequestCoalescingWaitSeconds.Observe(coalesceWait.Seconds())
		}
	} else {
		series, upstreamErr = s.meteo.FetchHourly(ctx, city, days)
	}
	if upstreamErr != nil {
		return models.CitySeries{}, fmt.Errorf("fetch series for %s: %w", city.Name, upstreamErr)
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, series, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDuration.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
		}
	} else {
		observability.CacheOperationDuration.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	if logger != nil {
		logger.Debug("series served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return series, nil
}

// GetDataset fetches the requested cities concurrently and merges the results.
// Partial success is success: failed cities are reported in the second return
// value while the remaining series render normally. The returned series keep
// the order of cityList, which handlers build in registry order.
func (s *DashboardService) GetDataset(ctx context.Context, cityList []cities.City, days int) (models.Dataset, []models.CityError) {
	type outcome struct {
		series models.CitySeries
		err    error
	}
	outcomes := make([]outcome, len(cityList))

	var wg sync.WaitGroup
	for i, city := range cityList {
		i, city := i, city
		wg.Add(1)
		go func() {
			defer wg.Done()
			series, err := s.GetCitySeries(ctx, city, days)
			outcomes[i] = outcome{series: series, err: err}
		}()
	}
	wg.Wait()

	var ds models.Dataset
	var failed []models.CityError
	for i, out := range outcomes {
		if out.err != nil {
			failed = append(failed, models.CityError{City: cityList[i].Name, Err: out.err.Error()})
			continue
		}
		ds.Series = append(ds.Series, out.series)
	}
	return ds, failed
}

// InvalidateCity drops every cached series for one city across all lookbacks
// (0 through maxDays). Deleting keys that are not cached is a no-op.
func (s *DashboardService) InvalidateCity(ctx context.Context, cityName string) error {
	var errs []error
	for days := 0; days <= s.maxDays; days++ {
		key := seriesKey(cityName, days)
		if err := s.cache.Delete(ctx, key); err != nil {
			observability.CacheErrorsTotal.WithLabelValues("delete", categorizeCacheError(err)).Inc()
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalidate %s: %v", cityName, errs)
	}
	return nil
}

// Invalidate drops the cached series for each given city across every
// lookback. Backs the dashboard Refresh control, so the next render observes
// fresh upstream data.
func (s *DashboardService) Invalidate(ctx context.Context, cityList []cities.City) error {
	var errs []error
	for _, c := range cityList {
		if err := s.InvalidateCity(ctx, c.Name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalidate: %v", errs)
	}
	return nil
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// seriesKey builds the cache key for one (city, days) fetch. City names are
// normalized so "Riyadh" and " riyadh " share an entry.
func seriesKey(city string, days int) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(city)), days)
}
