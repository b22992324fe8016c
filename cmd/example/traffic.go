package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var simulatedEndpoints = []string{"/api/users", "/api/orders", "/api/products"}

// simulateTraffic requests the demo endpoints in turn so the latency
// digests have something to summarize
func (a *app) simulateTraffic(ctx context.Context, base string, every time.Duration) {
	// Give the listener a moment to come up
	select {
	case <-ctx.Done():
		return
	case <-time.After(500 * time.Millisecond):
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	a.logger.Info("traffic simulator started", zap.Duration("every", every))

	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			a.logger.Info("traffic simulator stopped", zap.Int("requests", n))
			return
		case <-ticker.C:
			go a.hit(ctx, base+simulatedEndpoints[n%len(simulatedEndpoints)])
		}
	}
}

func (a *app) hit(ctx context.Context, target string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return
	}
	resp, err := a.http.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("simulated request failed", zap.String("target", target), zap.Error(err))
		}
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	a.logger.Debug("simulated request", zap.String("target", target), zap.Int("status", resp.StatusCode))
}
