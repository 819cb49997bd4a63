package service

import (
	"context"
	"sync"
	"time"

	"github.com/lama1426m1-ux/Weather-dashboard/internal/models"
)

// inFlightRequest tracks a single upstream fetch that multiple callers may wait for.
type inFlightRequest struct {
	mu      sync.Mutex
	result  models.CitySeries
	err     error
	done    bool
	waiters []chan struct{} // closed to notify waiters when the result is ready
}

// requestCoalescer folds concurrent misses for the same (city, days) key into
// one upstream flight. A dashboard render fans out every chart over the same
// series, so without coalescing a cold cache would hit Open-Meteo once per
// chart instead of once per city.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

// newRequestCoalescer creates a requestCoalescer. timeout bounds how long a
// waiter blocks on someone else's flight.
func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo checks if a fetch for key is already in flight. If yes, waits for
// its result. If no, executes fn and registers the flight. Respects context
// cancellation and the coalescer timeout to prevent indefinite blocking.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func() (models.CitySeries, error)) (models.CitySeries, error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if exists {
		// Fetch in flight - wait for it
		notify := make(chan struct{})
		req.mu.Lock()
		if req.done {
			// Already completed
			result := req.result
			err := req.err
			req.mu.Unlock()
			rc.mu.Unlock()
			if err != nil {
				return models.CitySeries{}, err
			}
			return result, nil
		}
		req.waiters = append(req.waiters, notify)
		req.mu.Unlock()
		rc.mu.Unlock()

		// Wait for notification or timeout
		waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
		defer cancel()
		select {
		case <-notify:
			req.mu.Lock()
			result := req.result
			err := req.err
			req.mu.Unlock()
			if err != nil {
				return models.CitySeries{}, err
			}
			return result, nil
		case <-waitCtx.Done():
			return models.CitySeries{}, waitCtx.Err()
		}
	}

	// No existing flight - create one
	req = &inFlightRequest{
		waiters: make([]chan struct{}, 0),
	}
	rc.inFlight[key] = req
	rc.mu.Unlock()

	// Execute the fetch in a goroutine so the initiator can still honor its
	// own context deadline while waiters share the result.
	go func() {
		result, err := fn()

		req.mu.Lock()
		req.result = result
		req.err = err
		req.done = true
		waiters := req.waiters
		req.waiters = nil
		req.mu.Unlock()

		// Notify all waiters
		for _, notify := range waiters {
			close(notify)
		}

		rc.cleanup(key)
	}()

	// Wait for the result with timeout
	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	notify := make(chan struct{})
	req.mu.Lock()
	if req.done {
		// Completed already
		result := req.result
		err := req.err
		req.mu.Unlock()
		cancel()
		if err != nil {
			return models.CitySeries{}, err
		}
		return result, nil
	}
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()

	select {
	case <-notify:
		req.mu.Lock()
		result := req.result
		err := req.err
		req.mu.Unlock()
		if err != nil {
			return models.CitySeries{}, err
		}
		return result, nil
	case <-waitCtx.Done():
		return models.CitySeries{}, waitCtx.Err()
	}
}

// cleanup removes the in-flight entry for key. Must be called after the fetch completes.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
