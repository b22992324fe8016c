package server

import (
	"context"
	"errors"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/compaction"
	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/ingest"
	"github.com/nicktill/tinydigest/pkg/query"
	"github.com/nicktill/tinydigest/pkg/server/monitor"
)

// Compactor runs one compaction pass
type Compactor interface {
	CompactAndCleanup(ctx context.Context) error
}

// GarbageCollector reclaims space in the value log
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

var _ Compactor = (*compaction.Compactor)(nil)

// schedule holds task intervals; tests shorten them
type schedule struct {
	compaction        time.Duration
	compactionRetry   time.Duration
	compactionRetries int
	broadcast         time.Duration
	gc                time.Duration
}

var defaultSchedule = schedule{
	compaction:        config.CompactionInterval,
	compactionRetry:   config.CompactionRetryDelay,
	compactionRetries: config.CompactionMaxRetries,
	broadcast:         config.BroadcastInterval,
	gc:                config.BadgerGCInterval,
}

// RunCompaction compacts once at startup and then every CompactionInterval
// until ctx is done. Failed passes are retried with exponential backoff.
func RunCompaction(ctx context.Context, compactor Compactor, mon *monitor.CompactionMonitor, logger *zap.Logger) {
	defaultSchedule.runCompaction(ctx, compactor, mon, logger)
}

func (s schedule) runCompaction(ctx context.Context, compactor Compactor, mon *monitor.CompactionMonitor, logger *zap.Logger) {
	ticker := time.NewTicker(s.compaction)
	defer ticker.Stop()

	logger.Info("running initial compaction")
	s.compactWithRetry(ctx, compactor, mon, logger)

	for {
		select {
		case <-ticker.C:
			logger.Info("scheduled compaction started")
			s.compactWithRetry(ctx, compactor, mon, logger)
		case <-ctx.Done():
			logger.Info("stopping compaction scheduler")
			return
		}
	}
}

func (s schedule) compactWithRetry(ctx context.Context, compactor Compactor, mon *monitor.CompactionMonitor, logger *zap.Logger) {
	for attempt := 0; attempt <= s.compactionRetries; attempt++ {
		if attempt > 0 {
			// 30s, 60s, 120s
			delay := s.compactionRetry * time.Duration(1<<(attempt-1))
			logger.Info("retrying compaction",
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt+1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		start := time.Now()
		err := compactor.CompactAndCleanup(ctx)
		if err == nil {
			took := time.Since(start)
			mon.RecordSuccess(took)
			logger.Info("compaction completed", zap.Duration("took", took.Round(time.Millisecond)))
			return
		}
		if ctx.Err() != nil {
			return
		}

		mon.RecordFailure(err)
		logger.Warn("compaction failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", s.compactionRetries+1),
			zap.Error(err))

		if n := mon.ConsecutiveErrors(); n > config.CompactionMaxRetries {
			logger.Error("compaction keeps failing", zap.Int("consecutive_errors", n))
		}
	}

	logger.Warn("compaction gave up until next schedule", zap.Int("attempts", s.compactionRetries+1))
}

// QuantilesUpdate is pushed to websocket clients
type QuantilesUpdate struct {
	Type      string               `json:"type"`
	Timestamp int64                `json:"timestamp"`
	Window    string               `json:"window"`
	Series    []compaction.Summary `json:"series"`
	Count     int                  `json:"count"`
	Truncated bool                 `json:"truncated,omitempty"`
}

// BroadcastQuantiles pushes per-series quantiles over the last
// BroadcastWindow to websocket clients every BroadcastInterval.
// Nothing is queried while no client is connected.
func BroadcastQuantiles(ctx context.Context, engine *query.Engine, hub *ingest.Hub, logger *zap.Logger) {
	defaultSchedule.broadcastQuantiles(ctx, engine, hub, logger)
}

func (s schedule) broadcastQuantiles(ctx context.Context, engine *query.Engine, hub *ingest.Hub, logger *zap.Logger) {
	ticker := time.NewTicker(s.broadcast)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}

			update, err := snapshot(ctx, engine, time.Now())
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				consecutiveErrors++
				now := time.Now()

				// Log at most once per backoff period: 1s, 2s, 4s ... 5m
				backoff := min(time.Duration(1<<uint(min(consecutiveErrors-1, 8)))*time.Second, maxBackoff)
				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					logger.Warn("quantile broadcast query failed",
						zap.Int("consecutive_errors", consecutiveErrors),
						zap.Duration("backoff", backoff),
						zap.Error(err))
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				logger.Info("quantile broadcast recovered", zap.Int("errors", consecutiveErrors))
				consecutiveErrors = 0
				lastErrorTime = time.Time{}
			}

			if update.Count == 0 {
				continue
			}
			if err := hub.Broadcast(update); err != nil {
				logger.Warn("quantile broadcast failed", zap.Error(err))
			}
		}
	}
}

// snapshot merges each series over the broadcast window ending at now
func snapshot(ctx context.Context, engine *query.Engine, now time.Time) (QuantilesUpdate, error) {
	ctx, cancel := context.WithTimeout(ctx, config.QueryTimeout)
	defer cancel()

	summaries, err := engine.Quantiles(ctx, query.Request{
		Start:     now.Add(-config.BroadcastWindow),
		End:       now,
		Quantiles: config.DefaultQuantiles,
		Group:     query.GroupSeries,
	})
	if err != nil {
		return QuantilesUpdate{}, err
	}

	update := QuantilesUpdate{
		Type:      "quantiles_update",
		Timestamp: now.Unix(),
		Window:    config.BroadcastWindow.String(),
	}
	if len(summaries) > config.BroadcastMaxSeries {
		summaries = summaries[:config.BroadcastMaxSeries]
		update.Truncated = true
	}
	update.Series = summaries
	update.Count = len(summaries)
	return update, nil
}

// RunBadgerGC runs value log garbage collection every BadgerGCInterval
// until ctx is done.
func RunBadgerGC(ctx context.Context, gc GarbageCollector, logger *zap.Logger) {
	defaultSchedule.runGC(ctx, gc, logger)
}

func (s schedule) runGC(ctx context.Context, gc GarbageCollector, logger *zap.Logger) {
	ticker := time.NewTicker(s.gc)
	defer ticker.Stop()

	logger.Info("badger gc scheduler started", zap.Duration("interval", s.gc))

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			err := gc.RunGC(config.BadgerGCDiscardRatio)
			switch {
			case err == nil:
				logger.Info("badger gc reclaimed space", zap.Duration("took", time.Since(start).Round(time.Millisecond)))
			case errors.Is(err, badgerdb.ErrNoRewrite):
				logger.Debug("badger gc found nothing to rewrite")
			default:
				logger.Warn("badger gc failed", zap.Error(err))
			}
		case <-ctx.Done():
			logger.Info("stopping badger gc scheduler")
			return
		}
	}
}
