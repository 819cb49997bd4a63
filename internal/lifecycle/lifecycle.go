// Package lifecycle tracks process-level state the health endpoint reports:
// the shutdown flag and how long the dashboard has been up.
package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool

	startMu   sync.RWMutex
	startedAt = time.Now()
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// The health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not
// receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Uptime returns how long the process has been running. The health handler
// suppresses the idle state until uptime passes the configured minimum
// lifespan, so a freshly started dashboard is not reported idle.
func Uptime() time.Duration {
	startMu.RLock()
	defer startMu.RUnlock()
	return time.Since(startedAt)
}

// ResetStartTime rewinds the recorded start to now. For tests only.
func ResetStartTime() {
	startMu.Lock()
	defer startMu.Unlock()
	startedAt = time.Now()
}
