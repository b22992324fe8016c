package runtime

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
)

// DefaultInterval is how often the collector samples the runtime
const DefaultInterval = time.Second

// pauseHistory is the length of runtime.MemStats.PauseNs
const pauseHistory = 256

// Collector samples Go runtime statistics into summaries, so the server
// sees their distribution between flushes rather than a last value.
type Collector struct {
	interval time.Duration

	gcPause    *metrics.Summary
	heapAlloc  *metrics.Summary
	goroutines *metrics.Summary

	mu        sync.Mutex
	lastNumGC uint32
}

// NewCollector creates a runtime collector. interval <= 0 selects
// DefaultInterval.
func NewCollector(interval time.Duration, compression int) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c := &Collector{
		interval:   interval,
		gcPause:    metrics.NewSummary("go_gc_pause_seconds", compression),
		heapAlloc:  metrics.NewSummary("go_memstats_heap_alloc_bytes", compression),
		goroutines: metrics.NewSummary("go_goroutines", compression),
	}

	// Pauses before the collector existed are not reported
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	c.lastNumGC = m.NumGC
	return c
}

// Start samples every interval until ctx is done.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sample()
		}
	}
}

// Sample records heap size, goroutine count and every GC pause since the
// previous sample.
func (c *Collector) Sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.heapAlloc.Observe(float64(m.HeapAlloc))
	c.goroutines.Observe(float64(runtime.NumGoroutine()))

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ns := range newPauses(&m, c.lastNumGC) {
		c.gcPause.Observe(float64(ns) / 1e9)
	}
	c.lastNumGC = m.NumGC
}

// Collect implements metrics.DigestCollector.
func (c *Collector) Collect() []metrics.DigestPoint {
	var points []metrics.DigestPoint
	for _, s := range []*metrics.Summary{c.gcPause, c.heapAlloc, c.goroutines} {
		points = append(points, s.Collect()...)
	}
	return points
}

// newPauses returns the pause durations of GC cycles after lastNumGC that
// are still in the runtime's circular buffer, oldest first.
func newPauses(m *runtime.MemStats, lastNumGC uint32) []uint64 {
	if m.NumGC <= lastNumGC {
		return nil
	}
	first := lastNumGC + 1
	if m.NumGC-lastNumGC > pauseHistory {
		first = m.NumGC - pauseHistory + 1
	}
	pauses := make([]uint64, 0, m.NumGC-first+1)
	for n := first; n <= m.NumGC; n++ {
		// Cycle n's pause is at PauseNs[(n+255)%256]
		pauses = append(pauses, m.PauseNs[(n+pauseHistory-1)%pauseHistory])
	}
	return pauses
}
