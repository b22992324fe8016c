package ingest

import (
	"sync"
	"time"

	"github.com/nicktill/tinydigest/pkg/storage"
)

// CardinalityTracker tracks unique time series to enforce cardinality limits
// SAFETY: Periodically clears old series to prevent unbounded memory growth
type CardinalityTracker struct {
	mu sync.RWMutex

	// seriesCount tracks unique series per name
	// name -> count
	seriesCount map[string]int

	// totalSeries tracks total unique series across all names
	totalSeries int

	// seriesSeen tracks which series we've already counted
	// storage.SeriesKey(name, labels) -> name and last seen time
	seriesSeen map[string]seenSeries

	// lastCleanup tracks when we last cleaned up old series
	lastCleanup time.Time

	now func() time.Time
}

type seenSeries struct {
	name     string
	lastSeen time.Time
}

// Constants for memory safety
const (
	// Clean up series not seen in last 24 hours
	seriesRetentionPeriod = 24 * time.Hour

	// Run cleanup every hour
	cleanupInterval = 1 * time.Hour
)

// NewCardinalityTracker creates a new cardinality tracker
func NewCardinalityTracker() *CardinalityTracker {
	return &CardinalityTracker{
		seriesCount: make(map[string]int),
		seriesSeen:  make(map[string]seenSeries),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Check validates that adding this series won't exceed cardinality limits
func (c *CardinalityTracker) Check(name string, labels map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Periodically clean up old series to prevent memory leak
	c.cleanupOldSeriesLocked()

	key := storage.SeriesKey(name, labels)

	// If we've seen this series recently, it's fine
	if _, exists := c.seriesSeen[key]; exists {
		return nil
	}

	if c.totalSeries >= MaxUniqueSeries {
		return ErrCardinalityLimit
	}

	if c.seriesCount[name] >= MaxSeriesPerName {
		return ErrNameCardinalityLimit
	}

	return nil
}

// Record marks a series as seen, updating cardinality counters.
// Should be called after Check() passes and the window is written.
func (c *CardinalityTracker) Record(name string, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := storage.SeriesKey(name, labels)

	_, existed := c.seriesSeen[key]
	c.seriesSeen[key] = seenSeries{name: name, lastSeen: c.now()}

	if !existed {
		c.seriesCount[name]++
		c.totalSeries++
	}
}

// cleanupOldSeriesLocked removes series not seen in seriesRetentionPeriod
// MUST be called with lock held
// This prevents unbounded memory growth in long-running servers
func (c *CardinalityTracker) cleanupOldSeriesLocked() {
	// Only run cleanup periodically
	now := c.now()
	if now.Sub(c.lastCleanup) < cleanupInterval {
		return
	}

	c.lastCleanup = now
	cutoff := now.Add(-seriesRetentionPeriod)

	// Find series to remove
	var toRemove []string
	for key, seen := range c.seriesSeen {
		if seen.lastSeen.Before(cutoff) {
			toRemove = append(toRemove, key)
		}
	}

	for _, key := range toRemove {
		delete(c.seriesSeen, key)
	}

	if len(toRemove) > 0 {
		c.rebuildCountsLocked()
	}
}

// rebuildCountsLocked recalculates series counts from seriesSeen
// MUST be called with lock held
func (c *CardinalityTracker) rebuildCountsLocked() {
	c.seriesCount = make(map[string]int)
	c.totalSeries = 0

	for _, seen := range c.seriesSeen {
		c.seriesCount[seen.name]++
		c.totalSeries++
	}
}

// Stats returns current cardinality statistics
func (c *CardinalityTracker) Stats() CardinalityStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Find name with highest cardinality
	var maxName string
	var maxCount int
	for name, count := range c.seriesCount {
		if count > maxCount || (count == maxCount && name < maxName) {
			maxCount = count
			maxName = name
		}
	}

	return CardinalityStats{
		TotalSeries:    c.totalSeries,
		UniqueNames:    len(c.seriesCount),
		MaxSeriesName:  maxName,
		MaxSeriesCount: maxCount,
		SeriesLimit:    MaxUniqueSeries,
		PerNameLimit:   MaxSeriesPerName,
		UtilizationPct: float64(c.totalSeries) / float64(MaxUniqueSeries) * 100,
	}
}

// CardinalityStats provides cardinality usage information
type CardinalityStats struct {
	TotalSeries    int     `json:"total_series"`
	UniqueNames    int     `json:"unique_names"`
	MaxSeriesName  string  `json:"max_series_name"`
	MaxSeriesCount int     `json:"max_series_count"`
	SeriesLimit    int     `json:"series_limit"`
	PerNameLimit   int     `json:"per_name_limit"`
	UtilizationPct float64 `json:"utilization_percent"`
}
