package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nicktill/tinydigest/pkg/storage"
)

// windowID identifies one stored window: writing the same ID twice
// replaces the earlier digest.
type windowID struct {
	series     string
	resolution storage.Resolution
	ts         int64
}

// Storage stores digest windows in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	windows map[windowID]storage.Window
	mu      sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		windows: make(map[windowID]storage.Window, 1024),
	}
}

func idOf(w storage.Window) windowID {
	return windowID{
		series:     w.SeriesKey(),
		resolution: w.Resolution,
		ts:         w.Timestamp.UnixNano(),
	}
}

// Write stores windows in memory
func (s *Storage) Write(ctx context.Context, windows []storage.Window) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range windows {
		s.windows[idOf(w)] = w
	}
	return nil
}

// Query retrieves windows matching the request, oldest first
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var results []storage.Window
	for _, w := range s.windows {
		if req.Matches(w) {
			results = append(results, w)
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if !results[i].Timestamp.Equal(results[j].Timestamp) {
			return results[i].Timestamp.Before(results[j].Timestamp)
		}
		return results[i].SeriesKey() < results[j].SeriesKey()
	})

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Delete removes windows matching opts
func (s *Storage) Delete(ctx context.Context, opts storage.DeleteOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range s.windows {
		if opts.Matches(w) {
			delete(s.windows, id)
		}
	}
	return nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalWindows: uint64(len(s.windows)),
	}
	if len(s.windows) == 0 {
		return stats, nil
	}

	series := make(map[string]struct{})
	first := true
	for id, w := range s.windows {
		series[id.series] = struct{}{}
		stats.TotalCount += w.Digest.Count()

		if first || w.Timestamp.Before(stats.OldestWindow) {
			stats.OldestWindow = w.Timestamp
		}
		if first || w.Timestamp.After(stats.NewestWindow) {
			stats.NewestWindow = w.Timestamp
		}
		first = false

		// Rough size estimate: two float64s per centroid plus overhead
		stats.SizeBytes += uint64(w.Digest.Len())*16 + 64
	}
	stats.TotalSeries = uint64(len(series))

	return stats, nil
}
