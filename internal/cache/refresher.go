package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/cities"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
	"github.com/lama1426m1-ux/Weather-dashboard/internal/observability"
)

// SeriesFetcher is implemented by the service layer to fetch and invalidate
// per-city series. Used by Refresher to avoid a circular dependency on the
// service package.
type SeriesFetcher interface {
	GetCitySeries(ctx context.Context, city cities.City, days int) (models.CitySeries, error)
	InvalidateCity(ctx context.Context, cityName string) error
}

// Refresher prefetches hourly series for a fixed set of cities so dashboard
// requests hit a warm cache. A forced Refresh also drops stale entries first.
type Refresher struct {
	fetcher SeriesFetcher
	cities  []cities.City
	days    int
	logger  *zap.Logger
}

// NewRefresher creates a Refresher over the given cities. days is the
// lookback window each prefetch uses, normally the configured default.
func NewRefresher(fetcher SeriesFetcher, cityList []cities.City, days int, logger *zap.Logger) *Refresher {
	return &Refresher{fetcher: fetcher, cities: cityList, days: days, logger: logger}
}

// Warm fetches each city concurrently and populates the cache via the
// fetcher. Existing entries are left alone. Returns an error if any city
// failed (aggregated).
func (r *Refresher) Warm(ctx context.Context) error {
	return r.run(ctx, false)
}

// Refresh invalidates each city's cached series and refetches it, so the
// next dashboard render sees current data regardless of TTL.
func (r *Refresher) Refresh(ctx context.Context) error {
	return r.run(ctx, true)
}

func (r *Refresher) run(ctx context.Context, invalidate bool) error {
	start := time.Now()
	observability.RefreshRunsTotal.Inc()
	if r.logger != nil {
		r.logger.Info("refreshing cities", zap.Int("cities", len(r.cities)), zap.Bool("invalidate", invalidate))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(r.cities))
	for _, city := range r.cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			if invalidate {
				if err := r.fetcher.InvalidateCity(ctx, city.Name); err != nil {
					errCh <- fmt.Errorf("invalidate %s: %w", city.Name, err)
					return
				}
			}
			if _, err := r.fetcher.GetCitySeries(ctx, city, r.days); err != nil {
				errCh <- fmt.Errorf("refresh %s: %w", city.Name, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.RefreshDuration.Observe(duration)
	if r.logger != nil {
		r.logger.Info("refresh complete", zap.Int("cities", len(r.cities)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.RefreshErrorsTotal.Inc()
		return fmt.Errorf("refresh: %v", errs)
	}
	return nil
}
