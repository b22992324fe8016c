package monitor

import (
	"sync"
	"time"
)

// Compaction is unhealthy once this many runs in a row have failed
const maxConsecutiveErrors = 3

// CompactionMonitor tracks whether digest compaction keeps up.
type CompactionMonitor struct {
	mu                sync.RWMutex
	staleAfter        time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastDuration      time.Duration
	consecutiveErrors int
	lastError         string
	now               func() time.Time
}

// NewCompactionMonitor creates a monitor that reports unhealthy when no run
// has succeeded within staleAfter.
func NewCompactionMonitor(staleAfter time.Duration) *CompactionMonitor {
	return &CompactionMonitor{
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// CompactionStatus is the compaction section of the health response.
type CompactionStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastDuration      string `json:"last_duration,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// RecordSuccess records a run that finished after took.
func (cm *CompactionMonitor) RecordSuccess(took time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := cm.now()
	cm.lastSuccess = now
	cm.lastAttempt = now
	cm.lastDuration = took
	cm.consecutiveErrors = 0
	cm.lastError = ""
}

// RecordFailure records a failed run.
func (cm *CompactionMonitor) RecordFailure(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastAttempt = cm.now()
	cm.consecutiveErrors++
	if err != nil {
		cm.lastError = err.Error()
	}
}

// ConsecutiveErrors returns the number of failures since the last success.
func (cm *CompactionMonitor) ConsecutiveErrors() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.consecutiveErrors
}

// IsHealthy reports false when compaction never succeeded, last succeeded
// longer than staleAfter ago, or failed more than three times in a row.
func (cm *CompactionMonitor) IsHealthy() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.healthyLocked()
}

func (cm *CompactionMonitor) healthyLocked() bool {
	if cm.lastSuccess.IsZero() {
		return false
	}
	if cm.staleAfter > 0 && cm.now().Sub(cm.lastSuccess) > cm.staleAfter {
		return false
	}
	return cm.consecutiveErrors <= maxConsecutiveErrors
}

// Status returns a snapshot for health checks.
func (cm *CompactionMonitor) Status() CompactionStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := CompactionStatus{
		Healthy: cm.healthyLocked(),
	}

	if !cm.lastSuccess.IsZero() {
		status.LastSuccess = cm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = cm.now().Sub(cm.lastSuccess).Round(time.Second).String()
		status.LastDuration = cm.lastDuration.Round(time.Millisecond).String()
	}

	if !cm.lastAttempt.IsZero() {
		status.LastAttempt = cm.lastAttempt.Format(time.RFC3339)
	}

	if cm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = cm.consecutiveErrors
		status.LastError = cm.lastError
	}

	return status
}
