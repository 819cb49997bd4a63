// Package scheduler runs the cache refresher on a fixed interval so
// dashboard renders keep hitting a warm cache even when nobody is browsing.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// refreshTimeout caps one refresh run: four concurrent city fetches with
// retries comfortably fit, a hung upstream does not stall the job queue.
const refreshTimeout = 30 * time.Second

// Refresher is the slice of the cache warming layer the scheduler drives.
// *cache.Refresher satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler periodically invalidates and refetches the tracked cities.
type Scheduler struct {
	scheduler *gocron.Scheduler
	refresher Refresher
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler that refreshes every interval. Intervals of zero or
// less fall back to five minutes.
func New(refresher Refresher, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		refresher: refresher,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the periodic refresh and starts the underlying scheduler.
// Runs are singleton: a refresh still in flight suppresses the next tick
// rather than overlapping it.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		if err := s.refresher.Refresh(ctx); err != nil {
			s.logger.Warn("scheduled refresh failed", zap.Error(err))
			return
		}
		s.logger.Debug("scheduled refresh complete")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("refresh scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the scheduler and cancels any future runs. A run already in
// progress finishes.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
