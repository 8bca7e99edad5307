package feed

import (
	"sync"
	"time"
)

// HealthStatus classifies a feed's recent failure history.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// Health tracks consecutive failures for a single source. The watcher
// goroutine records outcomes while the health endpoint reads snapshots,
// so fields are guarded by mu.
type Health struct {
	mu       sync.Mutex
	name     string
	failures int
	lastErr  string
	lastFail time.Time
}

func NewHealth(name string) *Health {
	return &Health{name: name}
}

// RecordSuccess resets the failure streak. It reports whether the source
// had been failing so the caller can log the recovery.
func (h *Health) RecordSuccess() (recovered bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	recovered = h.failures > 0
	h.failures = 0
	h.lastErr = ""
	return recovered
}

// RecordFailure increments the failure streak and returns the new count.
func (h *Health) RecordFailure(err error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastFail = time.Now()
	return h.failures
}

// HealthSnapshot is the wire form included in the health payload.
type HealthSnapshot struct {
	Source              string       `json:"source"`
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastError           string       `json:"lastError,omitempty"`
	LastFailureAt       *time.Time   `json:"lastFailureAt,omitempty"`
}

// Snapshot returns a consistent copy of all health fields under the lock.
func (h *Health) Snapshot(threshold int) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := HealthSnapshot{
		Source:              h.name,
		Status:              h.statusLocked(threshold),
		ConsecutiveFailures: h.failures,
		LastError:           h.lastErr,
	}
	if !h.lastFail.IsZero() {
		t := h.lastFail
		snap.LastFailureAt = &t
	}
	return snap
}

// Status computes the current health status for this source.
func (h *Health) Status(threshold int) HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(threshold)
}

// statusLocked computes health status. Caller must hold h.mu.
func (h *Health) statusLocked(threshold int) HealthStatus {
	switch {
	case threshold > 0 && h.failures >= threshold:
		return StatusFailed
	case h.failures > 0:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
