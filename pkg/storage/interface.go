package storage

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// Resolution represents the time span a window's digest covers
type Resolution string

const (
	ResolutionRaw Resolution = "raw" // One digest per ingested batch
	Resolution5m  Resolution = "5m"  // Digests merged into 5-minute windows
	Resolution1h  Resolution = "1h"  // Digests merged into 1-hour windows
)

// Valid reports whether r is a known resolution
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionRaw, Resolution5m, Resolution1h:
		return true
	}
	return false
}

// Window is a digest summarizing one series over one time window
type Window struct {
	// Series identification
	Name   string
	Labels map[string]string

	// Start of the window
	Timestamp  time.Time
	Resolution Resolution

	Digest *tdigest.Digest
}

// SeriesKey returns the deterministic key of the window's series
func (w Window) SeriesKey() string {
	return SeriesKey(w.Name, w.Labels)
}

// Storage defines the interface for digest storage backends.
// Implementations: memory (testing), badger (production)
type Storage interface {
	// Write stores windows. A window with the same series, resolution and
	// timestamp as a stored one replaces it.
	Write(ctx context.Context, windows []Window) error

	// Query retrieves windows within a time range
	Query(ctx context.Context, req QueryRequest) ([]Window, error)

	// Delete removes windows matching the options
	Delete(ctx context.Context, opts DeleteOptions) error

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// QueryRequest specifies what windows to retrieve
type QueryRequest struct {
	// Time range (inclusive)
	Start time.Time
	End   time.Time

	// Filter by series name (optional)
	Names []string

	// Filter by labels (optional)
	Labels map[string]string

	// Filter by resolution (nil = all resolutions)
	Resolution *Resolution

	// Limit number of results (0 = no limit)
	Limit int
}

// DeleteOptions specifies which windows to remove
type DeleteOptions struct {
	// Remove windows that start before this time
	Before time.Time

	// Only remove windows at this resolution (nil = all resolutions)
	Resolution *Resolution
}

// Stats provides storage health and usage info
type Stats struct {
	// Total windows stored
	TotalWindows uint64 `json:"total_windows"`

	// Unique series (name + label combinations)
	TotalSeries uint64 `json:"total_series"`

	// Total weight across stored digests
	TotalCount float64 `json:"total_count"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	// Oldest window timestamp
	OldestWindow time.Time `json:"oldest_window"`

	// Newest window timestamp
	NewestWindow time.Time `json:"newest_window"`
}

// Matches reports whether w satisfies the request filters
func (req QueryRequest) Matches(w Window) bool {
	if w.Timestamp.Before(req.Start) || w.Timestamp.After(req.End) {
		return false
	}

	if req.Resolution != nil && w.Resolution != *req.Resolution {
		return false
	}

	if len(req.Names) > 0 {
		found := false
		for _, name := range req.Names {
			if w.Name == name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for k, v := range req.Labels {
		if w.Labels == nil || w.Labels[k] != v {
			return false
		}
	}

	return true
}

// Matches reports whether w should be removed
func (opts DeleteOptions) Matches(w Window) bool {
	if !w.Timestamp.Before(opts.Before) {
		return false
	}
	return opts.Resolution == nil || w.Resolution == *opts.Resolution
}

// SeriesKey creates a deterministic string key for a series
func SeriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	// Sort label keys for deterministic ordering
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(",")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// SeriesHash hashes a series key
func SeriesHash(name string, labels map[string]string) uint64 {
	return xxhash.Sum64String(SeriesKey(name, labels))
}

// ResolutionPtr returns a pointer to r, for filters
func ResolutionPtr(r Resolution) *Resolution {
	return &r
}
