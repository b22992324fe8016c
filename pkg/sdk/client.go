package sdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/sdk/batch"
	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
	"github.com/nicktill/tinydigest/pkg/sdk/runtime"
	"github.com/nicktill/tinydigest/pkg/sdk/transport"
)

// ClientConfig holds configuration for the tinydigest client
type ClientConfig struct {
	Service  string `json:"service"`
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint"`

	// FlushEvery is how often summaries are collected and shipped
	FlushEvery time.Duration `json:"flush_every"`

	// Compression of client-side digests (0 = server default)
	Compression int `json:"compression"`

	// DisableRuntime turns off Go runtime summaries
	DisableRuntime bool `json:"disable_runtime"`

	Logger *zap.Logger `json:"-"`
}

var _ metrics.ClientInterface = (*Client)(nil)

// Client keeps summaries locally and ships their digests periodically
type Client struct {
	config    ClientConfig
	transport transport.Transport
	batcher   *batch.Batcher
	logger    *zap.Logger
	runtime   *runtime.Collector

	summaries  map[string]*metrics.Summary
	collectors []metrics.DigestCollector
	mu         sync.RWMutex

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a client posting to cfg.Endpoint
func New(cfg ClientConfig) (*Client, error) {
	trans, err := transport.NewHTTP(cfg.Endpoint, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return NewWithTransport(cfg, trans)
}

// NewWithTransport creates a client shipping through t
func NewWithTransport(cfg ClientConfig, t transport.Transport) (*Client, error) {
	if cfg.Service == "" {
		return nil, errors.New("service name is required")
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10 * time.Second
	}
	if cfg.Compression < 0 {
		return nil, fmt.Errorf("compression must not be negative, got %d", cfg.Compression)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		config:    cfg,
		transport: t,
		logger:    logger,
		batcher: batch.New(t, batch.Config{
			FlushEvery: cfg.FlushEvery,
			Logger:     logger,
		}),
		summaries: make(map[string]*metrics.Summary),
	}

	if !cfg.DisableRuntime {
		c.runtime = runtime.NewCollector(runtime.DefaultInterval, cfg.Compression)
		c.collectors = append(c.collectors, c.runtime)
	}

	return c, nil
}

// Summary returns the summary with the given name, creating it on first use
func (c *Client) Summary(name string) *metrics.Summary {
	c.mu.RLock()
	s, ok := c.summaries[name]
	c.mu.RUnlock()
	if ok {
		return s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.summaries[name]; ok {
		return s
	}
	s = metrics.NewSummary(name, c.config.Compression)
	c.summaries[name] = s
	c.collectors = append(c.collectors, s)
	return s
}

// Register adds a collector whose digests are shipped on every flush
func (c *Client) Register(collector metrics.DigestCollector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectors = append(c.collectors, collector)
}

// Start begins collecting and shipping digests
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("client already started")
	}

	ctx, c.cancel = context.WithCancel(ctx)
	if err := c.batcher.Start(ctx); err != nil {
		c.cancel()
		return fmt.Errorf("failed to start batcher: %w", err)
	}
	c.started = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.collectLoop(ctx)
	}()

	if c.runtime != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runtime.Start(ctx)
		}()
	}

	c.logger.Info("tinydigest client started",
		zap.String("service", c.config.Service),
		zap.Duration("flush_every", c.config.FlushEvery))
	return nil
}

// Stop collects one last time and flushes everything pending
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.Collect()

	if err := c.batcher.Stop(); err != nil {
		return fmt.Errorf("failed to flush digests: %w", err)
	}
	return nil
}

// Flush collects all summaries and sends them now
func (c *Client) Flush() error {
	c.Collect()
	return c.batcher.Flush()
}

// Collect moves the digests of every collector into the send queue
func (c *Client) Collect() {
	c.mu.RLock()
	collectors := make([]metrics.DigestCollector, len(c.collectors))
	copy(collectors, c.collectors)
	c.mu.RUnlock()

	for _, collector := range collectors {
		for _, p := range collector.Collect() {
			c.SendDigest(p)
		}
	}
}

// Stats returns delivery counters
func (c *Client) Stats() batch.Stats {
	return c.batcher.Stats()
}

// SendDigest queues a digest point, adding the service label
// (implements metrics.ClientInterface)
func (c *Client) SendDigest(p metrics.DigestPoint) {
	labels := make(map[string]string, len(p.Labels)+1)
	for k, v := range p.Labels {
		labels[k] = v
	}
	labels["service"] = c.config.Service
	p.Labels = labels

	c.batcher.Add(p)
}

func (c *Client) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Send errors are logged by the batcher
			_ = c.Flush()
		}
	}
}
