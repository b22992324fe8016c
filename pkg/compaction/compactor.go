package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/parallel"
	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// Compactor merges digest windows into coarser resolutions
type Compactor struct {
	storage     storage.Storage
	concurrency int
	clock       func() time.Time
}

// New creates a new compactor
func New(store storage.Storage) *Compactor {
	return &Compactor{
		storage:     store,
		concurrency: config.CompactionConcurrency,
		clock:       time.Now,
	}
}

// Compact5m merges raw windows into 5-minute windows.
//
// Only buckets that lie entirely inside [start, end) are written, so a
// bucket is always built from every raw window it covers. Re-running over
// the same range rewrites the same windows.
func (c *Compactor) Compact5m(ctx context.Context, start, end time.Time) error {
	_, err := c.compact(ctx, start, end, storage.ResolutionRaw, storage.Resolution5m, roundTo5Minutes)
	if err != nil {
		return fmt.Errorf("5m compaction: %w", err)
	}
	return nil
}

// Compact1h merges 5-minute windows into 1-hour windows
func (c *Compactor) Compact1h(ctx context.Context, start, end time.Time) error {
	_, err := c.compact(ctx, start, end, storage.Resolution5m, storage.Resolution1h, roundTo1Hour)
	if err != nil {
		return fmt.Errorf("1h compaction: %w", err)
	}
	return nil
}

// compact returns the number of windows written
func (c *Compactor) compact(
	ctx context.Context,
	start, end time.Time,
	from, to storage.Resolution,
	round func(time.Time) time.Time,
) (int, error) {
	// Align to whole buckets; end is exclusive
	start = round(start)
	if !round(end).Equal(end) {
		end = round(end)
	}
	if !start.Before(end) {
		return 0, nil
	}

	windows, err := c.storage.Query(ctx, storage.QueryRequest{
		Start:      start,
		End:        end.Add(-time.Nanosecond),
		Resolution: storage.ResolutionPtr(from),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query %s windows: %w", from, err)
	}
	if len(windows) == 0 {
		return 0, nil
	}

	// Group windows by series + bucket
	groups := make(map[string][]*tdigest.Digest)
	targets := make(map[string]storage.Window)

	for _, w := range windows {
		bucketTime := round(w.Timestamp)
		key := aggregateKey(w.SeriesKey(), bucketTime)

		if _, exists := targets[key]; !exists {
			targets[key] = storage.Window{
				Name:       w.Name,
				Labels:     w.Labels,
				Timestamp:  bucketTime,
				Resolution: to,
			}
		}
		groups[key] = append(groups[key], w.Digest)
	}

	merged, err := parallel.MergeGroups(ctx, groups, c.concurrency)
	if err != nil {
		return 0, fmt.Errorf("failed to merge %s windows: %w", from, err)
	}

	out := make([]storage.Window, 0, len(merged))
	for key, d := range merged {
		w := targets[key]
		w.Digest = d
		out = append(out, w)
	}

	if err := c.storage.Write(ctx, out); err != nil {
		return 0, fmt.Errorf("failed to write %s windows: %w", to, err)
	}
	return len(out), nil
}

// CompactAndCleanup performs downsampling and removes windows that have
// been folded into a coarser resolution.
// This is the main compaction job that should run periodically.
func (c *Compactor) CompactAndCleanup(ctx context.Context) error {
	now := c.clock()

	// Step 1: merge raw windows from 6-12 hours ago into 5m windows
	// (Wait 6h to ensure all data has arrived)
	rawEnd := roundTo5Minutes(now.Add(-config.RawCompactionDelay))
	if err := c.Compact5m(ctx, rawEnd.Add(-config.RawCompactionLookback), rawEnd); err != nil {
		return err
	}

	// Step 2: delete raw windows in buckets that now have a 5m window
	if err := c.storage.Delete(ctx, storage.DeleteOptions{
		Before:     rawEnd,
		Resolution: storage.ResolutionPtr(storage.ResolutionRaw),
	}); err != nil {
		return fmt.Errorf("failed to delete old raw windows: %w", err)
	}

	// Step 3: merge 5m windows from 2-7 days ago into 1h windows
	fiveEnd := roundTo1Hour(now.Add(-config.FiveMinuteCompactionDelay))
	fiveStart := roundTo1Hour(now.Add(-config.FiveMinuteRetention))
	if err := c.Compact1h(ctx, fiveStart, fiveEnd); err != nil {
		return err
	}

	// Step 4: delete 5m windows in buckets that now have a 1h window.
	// Anything older than fiveStart was folded by an earlier run.
	if err := c.storage.Delete(ctx, storage.DeleteOptions{
		Before:     fiveEnd,
		Resolution: storage.ResolutionPtr(storage.Resolution5m),
	}); err != nil {
		return fmt.Errorf("failed to delete old 5m windows: %w", err)
	}

	// Step 5: expire 1h windows past retention
	if err := c.storage.Delete(ctx, storage.DeleteOptions{
		Before:     now.Add(-config.HourRetention),
		Resolution: storage.ResolutionPtr(storage.Resolution1h),
	}); err != nil {
		return fmt.Errorf("failed to delete expired 1h windows: %w", err)
	}

	return nil
}

// roundTo5Minutes rounds a timestamp down to the nearest 5-minute bucket
func roundTo5Minutes(t time.Time) time.Time {
	minutes := t.Minute()
	roundedMinutes := (minutes / 5) * 5

	return time.Date(
		t.Year(), t.Month(), t.Day(),
		t.Hour(), roundedMinutes, 0, 0,
		t.Location(),
	)
}

// roundTo1Hour rounds a timestamp down to the nearest hour
func roundTo1Hour(t time.Time) time.Time {
	return time.Date(
		t.Year(), t.Month(), t.Day(),
		t.Hour(), 0, 0, 0,
		t.Location(),
	)
}

// aggregateKey creates a unique key for a series bucket
func aggregateKey(seriesKey string, bucket time.Time) string {
	return seriesKey + "@" + bucket.UTC().Format(time.RFC3339)
}
