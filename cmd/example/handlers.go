package main

import (
	"context"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/httpx"
	"github.com/nicktill/tinydigest/pkg/sdk/metrics"
)

// summaryProvider hands out named summaries; *sdk.Client satisfies it
type summaryProvider interface {
	Summary(name string) *metrics.Summary
}

type app struct {
	logger  *zap.Logger
	service string
	server  string
	http    *http.Client

	orderTotal  *metrics.Summary
	jobDuration *metrics.Summary

	active    atomic.Int64
	startTime time.Time

	// sleep simulates work; tests replace it
	sleep func(time.Duration)
}

func newApp(provider summaryProvider, server, service string, logger *zap.Logger) *app {
	return &app{
		logger:      logger,
		service:     service,
		server:      server,
		http:        &http.Client{Timeout: 5 * time.Second},
		orderTotal:  provider.Summary("order_total_dollars"),
		jobDuration: provider.Summary("background_job_seconds"),
		startTime:   time.Now(),
		sleep:       time.Sleep,
	}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users", a.handleUsers)
	mux.HandleFunc("GET /api/orders", a.handleOrders)
	mux.HandleFunc("GET /api/products", a.handleProducts)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /api/stats", a.handleStats)
	return mux
}

// work simulates a request taking between lo and hi
func (a *app) work(lo, hi time.Duration) time.Duration {
	a.active.Add(1)
	defer a.active.Add(-1)

	latency := lo + rand.N(hi-lo)
	a.sleep(latency)
	return latency
}

func (a *app) handleUsers(w http.ResponseWriter, r *http.Request) {
	latency := a.work(50*time.Millisecond, 100*time.Millisecond)

	// Rare failures show up as status="500" series
	if rand.Float64() < 0.02 {
		a.logger.Warn("users request failed", zap.Duration("latency", latency))
		httpx.RespondErrorString(w, http.StatusInternalServerError, "internal server error")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"users": []map[string]any{{"id": 1, "name": "Alice"}, {"id": 2, "name": "Bob"}},
	})
}

func (a *app) handleOrders(w http.ResponseWriter, r *http.Request) {
	a.work(80*time.Millisecond, 120*time.Millisecond)

	// Order totals are roughly log-normal around $60
	total := 60 * (0.5 + rand.ExpFloat64()/2)
	region := "us"
	if rand.IntN(3) == 0 {
		region = "eu"
	}
	a.orderTotal.Observe(total, "region", region)

	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"orders": []map[string]any{{"id": 1, "total": total, "region": region}},
	})
}

func (a *app) handleProducts(w http.ResponseWriter, r *http.Request) {
	a.work(30*time.Millisecond, 60*time.Millisecond)

	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"products": []map[string]any{{"id": 1, "name": "Widget"}, {"id": 2, "name": "Gadget"}},
	})
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(a.startTime).Round(time.Second).String(),
	})
}

// runBackgroundJobs records the duration of a simulated periodic job
func (a *app) runBackgroundJobs(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.jobDuration.Observe(rand.Float64() * 0.5)
		}
	}
}
