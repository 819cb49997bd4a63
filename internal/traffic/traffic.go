// Package traffic records request outcomes in sliding windows and answers the
// questions the health ladder asks: how busy the service is (overload, idle)
// and how often data requests fail (degraded).
package traffic

import (
	"sync"
	"time"
)

// Horizon is the longest window any caller may ask about. Outcomes older than
// this are pruned on every write, bounding memory under sustained traffic.
const Horizon = 30 * time.Minute

var defaultTracker Tracker

// RecordSuccess records a data request that was served successfully.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordError records a data request that failed (upstream error, timeout, etc.).
func RecordError() {
	defaultTracker.RecordError()
}

// RecordDenied records a denial by the rate limiter (429).
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// RecordSuccessN records n successful outcomes at once. Testing-mode load
// simulation uses it to avoid n lock round-trips.
func RecordSuccessN(n int) {
	defaultTracker.RecordSuccessN(n)
}

// RecordErrorN records n error outcomes at once. For synthetic error injection.
func RecordErrorN(n int) {
	defaultTracker.RecordErrorN(n)
}

// RequestCount returns every outcome (success + error + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of rate-limit denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount =
// successes + errors; denials are excluded.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

type kind uint8

const (
	kindSuccess kind = iota
	kindError
	kindDenied
)

type outcome struct {
	at   time.Time
	kind kind
}

// Tracker keeps a time-ordered log of request outcomes covering the last
// Horizon. One instance is the single source of truth for the overload check
// (RequestCount, DenialCount), the idle check (RequestCount), and the
// degraded check (ErrorRate).
type Tracker struct {
	mu       sync.Mutex
	outcomes []outcome
}

// RecordSuccess records one successful outcome.
func (t *Tracker) RecordSuccess() {
	t.record(kindSuccess, 1)
}

// RecordError records one failed outcome.
func (t *Tracker) RecordError() {
	t.record(kindError, 1)
}

// RecordDenied records one rate-limit denial.
func (t *Tracker) RecordDenied() {
	t.record(kindDenied, 1)
}

// RecordSuccessN records n successful outcomes with a single timestamp.
func (t *Tracker) RecordSuccessN(n int) {
	t.record(kindSuccess, n)
}

// RecordErrorN records n failed outcomes with a single timestamp.
func (t *Tracker) RecordErrorN(n int) {
	t.record(kindError, n)
}

func (t *Tracker) record(k kind, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for i := 0; i < n; i++ {
		t.outcomes = append(t.outcomes, outcome{at: now, kind: k})
	}
	t.pruneLocked(now)
}

// counts tallies each outcome kind within the window in one pass.
func (t *Tracker) counts(window time.Duration) (success, errs, denied int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	for _, o := range t.outcomes {
		if o.at.Before(cutoff) {
			continue
		}
		switch o.kind {
		case kindSuccess:
			success++
		case kindError:
			errs++
		case kindDenied:
			denied++
		}
	}
	return success, errs, denied
}

// RequestCount returns the total number of outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	success, errs, denied := t.counts(window)
	return success + errs + denied
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	_, _, denied := t.counts(window)
	return denied
}

// ErrorRate returns (errorCount, totalCount) within the window. Denials are
// load shedding, not failures, so they stay out of the rate.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	success, errs, _ := t.counts(window)
	return errs, errs + success
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = nil
}

// pruneLocked drops outcomes older than Horizon. Outcomes are appended in
// time order, so the scan stops at the first survivor. Must be called with
// the mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-Horizon)
	i := 0
	for ; i < len(t.outcomes) && t.outcomes[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.outcomes = append(t.outcomes[:0], t.outcomes[i:]...)
	}
}
