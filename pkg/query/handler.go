package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/tinydigest/pkg/compaction"
	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/httpx"
	"github.com/nicktill/tinydigest/pkg/storage"
)

// Handler serves quantile queries over HTTP
type Handler struct {
	engine *Engine
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new query handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		engine: NewEngine(store),
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

// SetLogger sets the logger of the handler and its engine
func (h *Handler) SetLogger(logger *zap.Logger) {
	h.logger = logger
	h.engine.logger = logger
}

// Engine returns the handler's query engine
func (h *Handler) Engine() *Engine {
	return h.engine
}

// QuantilesResponse is returned by /v1/quantiles
type QuantilesResponse struct {
	Status    string               `json:"status"`
	Start     time.Time            `json:"start"`
	End       time.Time            `json:"end"`
	Quantiles []float64            `json:"quantiles"`
	Series    []compaction.Summary `json:"series"`
}

// RangeResponse is returned by /v1/quantiles/range
type RangeResponse struct {
	Status    string        `json:"status"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Step      string        `json:"step"`
	Quantiles []float64     `json:"quantiles"`
	Series    []RangeSeries `json:"series"`
}

// SeriesResponse is returned by /v1/series
type SeriesResponse struct {
	Status string       `json:"status"`
	Series []SeriesInfo `json:"series"`
}

// HandleQuantiles handles GET /v1/quantiles
//
// Parameters: name or query (selector), q (repeatable or comma separated),
// start, end (unix seconds or RFC3339), resolution, label=k:v, group.
func (h *Handler) HandleQuantiles(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r.URL.Query(), config.QueryDefaultWindow)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	summaries, err := h.engine.Quantiles(ctx, req)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, QuantilesResponse{
		Status:    "success",
		Start:     req.Start,
		End:       req.End,
		Quantiles: req.Quantiles,
		Series:    summaries,
	})
}

// HandleQuantilesRange handles GET /v1/quantiles/range, which takes the
// /v1/quantiles parameters plus step
func (h *Handler) HandleQuantilesRange(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	req, err := h.parseRequest(params, config.QueryDefaultWindow)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	step := config.QueryDefaultStep
	if s := params.Get("step"); s != "" {
		step, err = time.ParseDuration(s)
		if err != nil || step <= 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid step %q", s))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	series, err := h.engine.Range(ctx, req, step)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, RangeResponse{
		Status:    "success",
		Start:     req.Start,
		End:       req.End,
		Step:      step.String(),
		Quantiles: req.Quantiles,
		Series:    series,
	})
}

// HandleSeries handles GET /v1/series
//
// Parameters: name or query (optional), start, end, limit.
func (h *Handler) HandleSeries(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	sel, err := parseSelector(params, false)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	start, end, err := h.parseRange(params, config.SeriesListWindow)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	limit := config.SeriesListLimit
	if s := params.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", s))
			return
		}
		if n < limit {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	series, err := h.engine.Series(ctx, sel, start, end, limit)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, SeriesResponse{Status: "success", Series: series})
}

func (h *Handler) respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTooManyWindows), errors.Is(err, ErrTooManyPoints):
		httpx.RespondError(w, http.StatusBadRequest, err)
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("query timed out", zap.Error(err))
		httpx.RespondErrorString(w, http.StatusServiceUnavailable, "query timed out")
	default:
		h.logger.Error("query failed", zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query execution error: %w", err))
	}
}

// parseRequest parses the shared quantile query parameters
func (h *Handler) parseRequest(params url.Values, defaultWindow time.Duration) (Request, error) {
	sel, err := parseSelector(params, true)
	if err != nil {
		return Request{}, err
	}

	quantiles, err := parseQuantiles(params["q"])
	if err != nil {
		return Request{}, err
	}

	start, end, err := h.parseRange(params, defaultWindow)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		Selector:  sel,
		Start:     start,
		End:       end,
		Quantiles: quantiles,
		Group:     GroupSeries,
	}

	if s := params.Get("resolution"); s != "" {
		res := storage.Resolution(s)
		if !res.Valid() {
			return Request{}, fmt.Errorf("invalid resolution %q (want raw, 5m or 1h)", s)
		}
		req.Resolution = &res
	}

	switch g := GroupMode(params.Get("group")); g {
	case "", GroupSeries:
	case GroupAll:
		req.Group = GroupAll
	default:
		return Request{}, fmt.Errorf("invalid group %q (want series or all)", g)
	}

	return req, nil
}

// parseSelector builds a selector from either query or name plus label
// parameters
func parseSelector(params url.Values, required bool) (*Selector, error) {
	query := params.Get("query")
	name := params.Get("name")
	labels := params["label"]

	if query != "" {
		if name != "" || len(labels) > 0 {
			return nil, errors.New("query cannot be combined with name or label")
		}
		sel, err := ParseSelector(query)
		if err != nil {
			return nil, fmt.Errorf("query parse error: %w", err)
		}
		return sel, nil
	}

	if name == "" && len(labels) == 0 {
		if required {
			return nil, errors.New("name or query parameter is required")
		}
		return nil, nil
	}

	sel := &Selector{Name: name}
	for _, l := range labels {
		k, v, ok := strings.Cut(l, ":")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid label %q (want key:value)", l)
		}
		sel.Matchers = append(sel.Matchers, &LabelMatcher{Name: k, Op: TokenEqual, Value: v})
	}
	return sel, nil
}

// parseQuantiles parses q values, defaulting to config.DefaultQuantiles
func parseQuantiles(values []string) ([]float64, error) {
	var qs []float64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			q, err := strconv.ParseFloat(part, 64)
			if err != nil || math.IsNaN(q) || q < 0 || q > 1 {
				return nil, fmt.Errorf("invalid quantile %q (want a number in [0, 1])", part)
			}
			qs = append(qs, q)
		}
	}

	if len(qs) == 0 {
		return append([]float64(nil), config.DefaultQuantiles...), nil
	}
	if len(qs) > config.QueryMaxQuantiles {
		return nil, fmt.Errorf("too many quantiles (max %d)", config.QueryMaxQuantiles)
	}
	return qs, nil
}

// parseRange parses start and end, defaulting to the last defaultWindow
func (h *Handler) parseRange(params url.Values, defaultWindow time.Duration) (time.Time, time.Time, error) {
	end := h.now()
	if s := params.Get("end"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
		end = t
	}

	start := end.Add(-defaultWindow)
	if s := params.Get("start"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
		start = t
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, errors.New("start must be before end")
	}
	if end.Sub(start) > config.QueryMaxWindow {
		return time.Time{}, time.Time{}, fmt.Errorf("time range exceeds %s", config.QueryMaxWindow)
	}
	return start, end, nil
}

// parseTime parses a unix timestamp in (fractional) seconds or RFC3339
func parseTime(s string) (time.Time, error) {
	if unix, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(unix) && !math.IsInf(unix, 0) {
		sec, frac := math.Modf(unix)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither a unix timestamp nor RFC3339", s)
	}
	return t, nil
}
