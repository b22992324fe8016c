package ingest

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
)

func TestValidateSeries(t *testing.T) {
	tests := []struct {
		name    string
		series  string
		labels  map[string]string
		errType error
	}{
		{name: "valid series", series: "request_duration", labels: map[string]string{"host": "server1"}},
		{name: "empty name", series: "", errType: ErrNameEmpty},
		{name: "name too long", series: string(make([]byte, MaxNameLength+1)), errType: ErrNameTooLong},
		{name: "too many labels", series: "test", labels: generateLabels(MaxLabelsPerSeries + 1), errType: ErrTooManyLabels},
		{
			name:    "label key too long",
			series:  "test",
			labels:  map[string]string{string(make([]byte, MaxLabelKeyLength+1)): "value"},
			errType: ErrLabelKeyTooLong,
		},
		{
			name:    "label value too long",
			series:  "test",
			labels:  map[string]string{"key": string(make([]byte, MaxLabelValueLength+1))},
			errType: ErrLabelValueTooLong,
		},
		{name: "max valid labels", series: "test", labels: generateLabels(MaxLabelsPerSeries)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSeries(tt.series, tt.labels)
			if tt.errType == nil {
				if err != nil {
					t.Errorf("ValidateSeries() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.errType) {
				t.Errorf("ValidateSeries() error = %v, want %v", err, tt.errType)
			}
		})
	}
}

func TestValidateObservation(t *testing.T) {
	tests := []struct {
		name    string
		obs     metrics.Observation
		errType error
	}{
		{name: "valid", obs: metrics.Observation{Name: "latency", Values: []float64{1, 2, 3}}},
		{name: "bad series", obs: metrics.Observation{Values: []float64{1}}, errType: ErrNameEmpty},
		{name: "no values", obs: metrics.Observation{Name: "latency"}, errType: ErrNoValues},
		{name: "too many values", obs: metrics.Observation{Name: "latency", Values: make([]float64, MaxValuesPerObservation+1)}, errType: ErrTooManyValues},
		{name: "nan", obs: metrics.Observation{Name: "latency", Values: []float64{1, math.NaN()}}, errType: ErrNonFiniteValue},
		{name: "inf", obs: metrics.Observation{Name: "latency", Values: []float64{math.Inf(-1)}}, errType: ErrNonFiniteValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateObservation(tt.obs)
			if tt.errType == nil {
				if err != nil {
					t.Errorf("ValidateObservation() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.errType) {
				t.Errorf("ValidateObservation() error = %v, want %v", err, tt.errType)
			}
		})
	}
}

func TestCardinalityTracker(t *testing.T) {
	tracker := NewCardinalityTracker()

	labels1 := map[string]string{"host": "server1"}
	if err := tracker.Check("request_duration", labels1); err != nil {
		t.Errorf("Check() failed for new series: %v", err)
	}
	tracker.Record("request_duration", labels1)

	// Same series is still accepted
	if err := tracker.Check("request_duration", labels1); err != nil {
		t.Errorf("Check() failed for existing series: %v", err)
	}

	// Different labels create a new series
	labels2 := map[string]string{"host": "server2"}
	if err := tracker.Check("request_duration", labels2); err != nil {
		t.Errorf("Check() failed for new series: %v", err)
	}
	tracker.Record("request_duration", labels2)
	tracker.Record("request_duration", labels2)

	stats := tracker.Stats()
	if stats.TotalSeries != 2 {
		t.Errorf("Expected 2 total series, got %d", stats.TotalSeries)
	}
	if stats.UniqueNames != 1 {
		t.Errorf("Expected 1 unique name, got %d", stats.UniqueNames)
	}
	if stats.MaxSeriesName != "request_duration" || stats.MaxSeriesCount != 2 {
		t.Errorf("Unexpected max series: %s=%d", stats.MaxSeriesName, stats.MaxSeriesCount)
	}
}

func TestCardinalityTracker_PerNameLimit(t *testing.T) {
	tracker := NewCardinalityTracker()

	for i := 0; i < MaxSeriesPerName; i++ {
		labels := map[string]string{"id": fmt.Sprint(i)}
		if err := tracker.Check("test_series", labels); err != nil {
			t.Fatalf("Check() failed at %d/%d: %v", i, MaxSeriesPerName, err)
		}
		tracker.Record("test_series", labels)
	}

	err := tracker.Check("test_series", map[string]string{"id": "new"})
	if err != ErrNameCardinalityLimit {
		t.Errorf("Expected ErrNameCardinalityLimit, got %v", err)
	}

	// Different name should still work
	if err := tracker.Check("other_series", map[string]string{"id": "1"}); err != nil {
		t.Errorf("Check() failed for different name: %v", err)
	}
}

func TestCardinalityTracker_ExpiresIdleSeries(t *testing.T) {
	tracker := NewCardinalityTracker()
	now := time.Now()
	tracker.now = func() time.Time { return now }

	tracker.Record("a", map[string]string{"x": "1"})
	tracker.Record("a,b", map[string]string{"x": "2"})

	// Two days later, one series is seen again
	now = now.Add(48 * time.Hour)
	tracker.Record("a", map[string]string{"x": "3"})

	// Cleanup runs on the next Check
	if err := tracker.Check("a", map[string]string{"x": "3"}); err != nil {
		t.Fatalf("Check() failed: %v", err)
	}

	stats := tracker.Stats()
	if stats.TotalSeries != 1 {
		t.Errorf("Expected idle series to expire, got %d series", stats.TotalSeries)
	}
	if stats.UniqueNames != 1 {
		t.Errorf("Expected 1 unique name after rebuild, got %d", stats.UniqueNames)
	}
}

// Helper function to generate N labels
func generateLabels(n int) map[string]string {
	labels := make(map[string]string, n)
	for i := 0; i < n; i++ {
		labels[string(rune('a'+i))] = "value"
	}
	return labels
}
