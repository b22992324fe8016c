package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/compaction"
	"github.com/nicktill/tinydigest/pkg/httpx"
	"github.com/nicktill/tinydigest/pkg/query"
)

// EndpointStats is the latency profile of one route as tinydigest sees it
type EndpointStats struct {
	Method string  `json:"method"`
	Path   string  `json:"path"`
	Status string  `json:"status"`
	Count  float64 `json:"count"`
	P50    float64 `json:"p50_ms"`
	P95    float64 `json:"p95_ms"`
	P99    float64 `json:"p99_ms"`
}

// StatsResponse is served on /api/stats
type StatsResponse struct {
	Uptime    string          `json:"uptime"`
	Active    int64           `json:"active"`
	Endpoints []EndpointStats `json:"endpoints"`
	Error     string          `json:"error,omitempty"`
}

// handleStats reports request latency quantiles read back from tinydigest
func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Uptime: time.Since(a.startTime).Round(time.Second).String(),
		Active: a.active.Load(),
	}

	series, err := a.queryQuantiles(r.Context(), "http_request_duration_seconds", 0.5, 0.95, 0.99)
	if err != nil {
		a.logger.Debug("tinydigest query failed", zap.Error(err))
		resp.Error = err.Error()
	}

	for _, s := range series {
		resp.Endpoints = append(resp.Endpoints, EndpointStats{
			Method: s.Labels["method"],
			Path:   s.Labels["path"],
			Status: s.Labels["status"],
			Count:  s.Count,
			P50:    quantileMillis(s, 0.5),
			P95:    quantileMillis(s, 0.95),
			P99:    quantileMillis(s, 0.99),
		})
	}
	sort.Slice(resp.Endpoints, func(i, j int) bool {
		ei, ej := resp.Endpoints[i], resp.Endpoints[j]
		if ei.Path != ej.Path {
			return ei.Path < ej.Path
		}
		if ei.Method != ej.Method {
			return ei.Method < ej.Method
		}
		return ei.Status < ej.Status
	})

	httpx.RespondJSON(w, http.StatusOK, resp)
}

// queryQuantiles asks tinydigest for per-series quantiles of this service's
// summary over the default window
func (a *app) queryQuantiles(ctx context.Context, name string, qs ...float64) ([]compaction.Summary, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Add("label", "service:"+a.service)
	for _, q := range qs {
		params.Add("q", fmt.Sprint(q))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.server+"/v1/quantiles?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query tinydigest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tinydigest returned %s", resp.Status)
	}

	var out query.QuantilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Series, nil
}

func quantileMillis(s compaction.Summary, q float64) float64 {
	for _, v := range s.Quantiles {
		if v.Q == q {
			return v.Value * 1000
		}
	}
	return 0
}
