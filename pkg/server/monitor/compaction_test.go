package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestMonitor(now *time.Time) *CompactionMonitor {
	cm := NewCompactionMonitor(2 * time.Hour)
	cm.now = func() time.Time { return *now }
	return cm
}

func TestCompactionMonitor_RecordSuccess(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	cm := newTestMonitor(&now)
	cm.RecordFailure(errors.New("disk full"))
	cm.RecordSuccess(1500 * time.Millisecond)

	status := cm.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}
	assert.Equal(t, "1.5s", status.LastDuration)
	assert.Equal(t, "2024-01-10T12:00:00Z", status.LastSuccess)
}

func TestCompactionMonitor_RecordFailure(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	cm := newTestMonitor(&now)
	cm.RecordFailure(errors.New("disk full"))

	status := cm.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "disk full" {
		t.Errorf("LastError = %q, want %q", status.LastError, "disk full")
	}
	assert.Empty(t, status.LastSuccess)
	assert.Equal(t, 1, cm.ConsecutiveErrors())
}

func TestCompactionMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(cm *CompactionMonitor, now *time.Time)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*CompactionMonitor, *time.Time) {},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(cm *CompactionMonitor, _ *time.Time) {
				cm.RecordSuccess(time.Second)
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(cm *CompactionMonitor, now *time.Time) {
				cm.RecordSuccess(time.Second)
				*now = now.Add(3 * time.Hour)
			},
			expected: false,
		},
		{
			name: "three failures tolerated",
			setup: func(cm *CompactionMonitor, _ *time.Time) {
				cm.RecordSuccess(time.Second)
				for i := 0; i < 3; i++ {
					cm.RecordFailure(errors.New("retry"))
				}
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(cm *CompactionMonitor, _ *time.Time) {
				cm.RecordSuccess(time.Second)
				for i := 0; i < 4; i++ {
					cm.RecordFailure(errors.New("retry"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
			cm := newTestMonitor(&now)
			tt.setup(cm, &now)
			if got := cm.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
			assert.Equal(t, tt.expected, cm.Status().Healthy)
		})
	}
}

func TestCompactionMonitor_NoStaleness(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	cm := NewCompactionMonitor(0)
	cm.now = func() time.Time { return now }
	cm.RecordSuccess(time.Second)
	now = now.Add(365 * 24 * time.Hour)
	assert.True(t, cm.IsHealthy())
}
