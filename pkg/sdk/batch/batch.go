package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
	"github.com/nicktill/tinydigest/pkg/sdk/transport"
)

// Defaults applied by New for zero config fields
const (
	DefaultMaxBatchSize = 500
	DefaultFlushEvery   = 10 * time.Second
	DefaultSendTimeout  = 5 * time.Second

	// Points beyond this many unsent batches are dropped
	DefaultMaxPendingBatches = 20
)

// Config holds configuration for the batcher
type Config struct {
	MaxBatchSize      int
	FlushEvery        time.Duration
	SendTimeout       time.Duration
	MaxPendingBatches int
	Logger            *zap.Logger
}

// Stats counts digests by outcome
type Stats struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// Batcher buffers digest points and ships them in batches, either when a
// batch fills up or every FlushEvery
type Batcher struct {
	config    Config
	transport transport.Transport
	logger    *zap.Logger

	points []metrics.DigestPoint
	mu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// flushing keeps at most one background flush running
	flushing atomic.Bool
	inflight sync.WaitGroup

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// New creates a new batcher
func New(t transport.Transport, config Config) *Batcher {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DefaultMaxBatchSize
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = DefaultFlushEvery
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSendTimeout
	}
	if config.MaxPendingBatches <= 0 {
		config.MaxPendingBatches = DefaultMaxPendingBatches
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		config:    config,
		transport: t,
		logger:    logger,
		points:    make([]metrics.DigestPoint, 0, config.MaxBatchSize),
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}
}

// Start runs the periodic flush loop until ctx is done or Stop is called
func (b *Batcher) Start(ctx context.Context) error {
	if b.cancel != nil {
		return errors.New("batcher already started")
	}
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Add queues a point. A full batch triggers a background flush.
func (b *Batcher) Add(p metrics.DigestPoint) {
	b.mu.Lock()
	if len(b.points) >= b.config.MaxBatchSize*b.config.MaxPendingBatches {
		b.mu.Unlock()
		b.dropped.Add(1)
		return
	}
	b.points = append(b.points, p)
	shouldFlush := len(b.points) >= b.config.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			defer b.flushing.Store(false)
			_ = b.Flush()
		}()
	}
}

// Pending returns the number of queued points
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.points)
}

// Flush sends every queued point in batches of MaxBatchSize. It returns
// the first send error; failed batches are not requeued.
func (b *Batcher) Flush() error {
	b.mu.Lock()
	if len(b.points) == 0 {
		b.mu.Unlock()
		return nil
	}
	points := b.points
	b.points = make([]metrics.DigestPoint, 0, b.config.MaxBatchSize)
	b.mu.Unlock()

	var firstErr error
	for start := 0; start < len(points); start += b.config.MaxBatchSize {
		end := min(start+b.config.MaxBatchSize, len(points))
		if err := b.send(points[start:end]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop ends the flush loop, waits for background flushes, then flushes
// what is left
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.inflight.Wait()
	return b.Flush()
}

// Stats returns delivery counters
func (b *Batcher) Stats() Stats {
	return Stats{
		Sent:    b.sent.Load(),
		Failed:  b.failed.Load(),
		Dropped: b.dropped.Load(),
	}
}

func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if b.flushing.CompareAndSwap(false, true) {
				_ = b.Flush()
				b.flushing.Store(false)
			}
		}
	}
}

// send ships one batch. The final flush after Stop runs on a fresh
// context so a cancelled parent does not discard it.
func (b *Batcher) send(points []metrics.DigestPoint) error {
	parent := b.ctx
	if parent.Err() != nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, b.config.SendTimeout)
	defer cancel()

	if err := b.transport.Send(ctx, points); err != nil {
		b.failed.Add(int64(len(points)))
		b.logger.Warn("failed to send digests",
			zap.Int("points", len(points)),
			zap.Error(err))
		return err
	}
	b.sent.Add(int64(len(points)))
	return nil
}
