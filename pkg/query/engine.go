package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/compaction"
	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/parallel"
	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

var (
	// ErrTooManyWindows is returned when a query would load more windows than allowed
	ErrTooManyWindows = fmt.Errorf("query matches more than %d windows, narrow the time range or selector", config.QueryMaxWindows)

	// ErrTooManyPoints is returned when a range query would produce too many steps
	ErrTooManyPoints = fmt.Errorf("range query exceeds %d points per series, increase the step", config.QueryMaxPoints)
)

// Engine answers quantile queries by merging stored digests
type Engine struct {
	storage     storage.Storage
	concurrency int
	maxWindows  int
	logger      *zap.Logger
}

// NewEngine creates a new query engine
func NewEngine(store storage.Storage) *Engine {
	return &Engine{
		storage:     store,
		concurrency: config.CompactionConcurrency,
		maxWindows:  config.QueryMaxWindows,
		logger:      zap.NewNop(),
	}
}

// Request describes which windows to merge and what to report
type Request struct {
	Selector *Selector

	// Time range (inclusive)
	Start time.Time
	End   time.Time

	// Only read windows at this resolution (nil = all resolutions)
	Resolution *storage.Resolution

	Quantiles []float64
	Group     GroupMode
}

// RangeSeries is one group's summaries over consecutive steps
type RangeSeries struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Points []Point           `json:"points"`
}

// Point is a group's merged digest over one step
type Point struct {
	Timestamp time.Time                  `json:"timestamp"`
	Count     float64                    `json:"count"`
	Mean      float64                    `json:"mean"`
	Min       float64                    `json:"min"`
	Max       float64                    `json:"max"`
	Quantiles []compaction.QuantileValue `json:"quantiles,omitempty"`
}

// SeriesInfo describes one stored series
type SeriesInfo struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels,omitempty"`
	Windows   int               `json:"windows"`
	Count     float64           `json:"count"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
}

// group identifies the result a window is merged into
type group struct {
	key    string
	name   string
	labels map[string]string
}

// Quantiles merges the matching windows per group and summarizes each group
func (e *Engine) Quantiles(ctx context.Context, req Request) ([]compaction.Summary, error) {
	started := time.Now()

	windows, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*tdigest.Digest)
	meta := make(map[string]group)
	for _, w := range windows {
		g := groupOf(req, w)
		groups[g.key] = append(groups[g.key], w.Digest)
		meta[g.key] = g
	}

	merged, err := parallel.MergeGroups(ctx, groups, e.concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to merge digests: %w", err)
	}

	summaries := make([]compaction.Summary, 0, len(merged))
	for key, d := range merged {
		g := meta[key]
		summaries = append(summaries, compaction.Summarize(storage.Window{
			Name:       g.name,
			Labels:     g.labels,
			Timestamp:  req.Start,
			Resolution: resolutionOf(req),
			Digest:     d,
		}, req.Quantiles))
	}

	sort.Slice(summaries, func(i, j int) bool {
		return storage.SeriesKey(summaries[i].Name, summaries[i].Labels) <
			storage.SeriesKey(summaries[j].Name, summaries[j].Labels)
	})

	e.logger.Debug("quantile query executed",
		zap.Int("windows", len(windows)),
		zap.Int("groups", len(summaries)),
		zap.Duration("took", time.Since(started)))

	return summaries, nil
}

// Range merges the matching windows per group and per step. Steps start
// at req.Start; a window falls in the step containing its timestamp.
func (e *Engine) Range(ctx context.Context, req Request, step time.Duration) ([]RangeSeries, error) {
	if step <= 0 {
		return nil, errors.New("step must be positive")
	}
	if int64(req.End.Sub(req.Start)/step)+1 > config.QueryMaxPoints {
		return nil, ErrTooManyPoints
	}

	windows, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		group group
		index int64
	}
	groups := make(map[string][]*tdigest.Digest)
	buckets := make(map[string]bucket)
	for _, w := range windows {
		g := groupOf(req, w)
		idx := int64(w.Timestamp.Sub(req.Start) / step)
		key := g.key + "@" + strconv.FormatInt(idx, 10)
		groups[key] = append(groups[key], w.Digest)
		buckets[key] = bucket{group: g, index: idx}
	}

	merged, err := parallel.MergeGroups(ctx, groups, e.concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to merge digests: %w", err)
	}

	series := make(map[string]*RangeSeries)
	for key, d := range merged {
		b := buckets[key]
		rs, ok := series[b.group.key]
		if !ok {
			rs = &RangeSeries{Name: b.group.name, Labels: b.group.labels}
			series[b.group.key] = rs
		}

		s := compaction.Summarize(storage.Window{Digest: d}, req.Quantiles)
		rs.Points = append(rs.Points, Point{
			Timestamp: req.Start.Add(time.Duration(b.index) * step),
			Count:     s.Count,
			Mean:      s.Mean,
			Min:       s.Min,
			Max:       s.Max,
			Quantiles: s.Quantiles,
		})
	}

	keys := make([]string, 0, len(series))
	for key := range series {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]RangeSeries, 0, len(keys))
	for _, key := range keys {
		rs := series[key]
		sort.Slice(rs.Points, func(i, j int) bool {
			return rs.Points[i].Timestamp.Before(rs.Points[j].Timestamp)
		})
		out = append(out, *rs)
	}
	return out, nil
}

// Series lists the distinct series with windows in [start, end]. A nil
// selector matches every series.
func (e *Engine) Series(ctx context.Context, sel *Selector, start, end time.Time, limit int) ([]SeriesInfo, error) {
	windows, err := e.load(ctx, Request{Selector: sel, Start: start, End: end})
	if err != nil {
		return nil, err
	}

	infos := make(map[string]*SeriesInfo)
	for _, w := range windows {
		key := w.SeriesKey()
		info, ok := infos[key]
		if !ok {
			info = &SeriesInfo{Name: w.Name, Labels: w.Labels, FirstSeen: w.Timestamp, LastSeen: w.Timestamp}
			infos[key] = info
		}
		info.Windows++
		info.Count += w.Digest.Count()
		if w.Timestamp.Before(info.FirstSeen) {
			info.FirstSeen = w.Timestamp
		}
		if w.Timestamp.After(info.LastSeen) {
			info.LastSeen = w.Timestamp
		}
	}

	keys := make([]string, 0, len(infos))
	for key := range infos {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]SeriesInfo, len(keys))
	for i, key := range keys {
		out[i] = *infos[key]
	}
	return out, nil
}

// load reads the windows the request covers, pushing name and equality
// matchers down to storage and applying the remaining matchers here
func (e *Engine) load(ctx context.Context, req Request) ([]storage.Window, error) {
	sreq := storage.QueryRequest{
		Start:      req.Start,
		End:        req.End,
		Resolution: req.Resolution,
		Limit:      e.maxWindows + 1,
	}
	if req.Selector != nil {
		if req.Selector.Name != "" {
			sreq.Names = []string{req.Selector.Name}
		}
		sreq.Labels = req.Selector.equalLabels()
	}

	windows, err := e.storage.Query(ctx, sreq)
	if err != nil {
		return nil, fmt.Errorf("storage query failed: %w", err)
	}
	if len(windows) > e.maxWindows {
		return nil, ErrTooManyWindows
	}

	out := windows[:0]
	for _, w := range windows {
		if w.Digest == nil {
			continue
		}
		if req.Selector != nil && !req.Selector.Matches(w) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// groupOf returns the group w is merged into. Selector grouping wins over
// the request's group mode.
func groupOf(req Request, w storage.Window) group {
	if sel := req.Selector; sel != nil && sel.Grouped {
		labels := make(map[string]string)
		if sel.Without {
			for k, v := range w.Labels {
				if !contains(sel.Grouping, k) {
					labels[k] = v
				}
			}
		} else {
			for _, k := range sel.Grouping {
				if v, ok := w.Labels[k]; ok {
					labels[k] = v
				}
			}
		}
		if len(labels) == 0 {
			labels = nil
		}
		return group{key: storage.SeriesKey(w.Name, labels), name: w.Name, labels: labels}
	}

	if req.Group == GroupAll {
		var name string
		if req.Selector != nil {
			name = req.Selector.Name
		}
		return group{key: "", name: name}
	}

	return group{key: w.SeriesKey(), name: w.Name, labels: w.Labels}
}

func resolutionOf(req Request) storage.Resolution {
	if req.Resolution == nil {
		return ""
	}
	return *req.Resolution
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
