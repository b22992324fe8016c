package query

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinydigest/pkg/config"
	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/storage/memory"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

func newTestHandler(store storage.Storage) *Handler {
	h := NewHandler(store)
	h.now = func() time.Time { return base.Add(time.Hour) }
	return h
}

func get(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp["message"]
}

func TestHandleQuantiles(t *testing.T) {
	store := seed(t,
		window("latency", map[string]string{"host": "a"}, time.Minute, storage.ResolutionRaw, rangeDigest(1, 100)),
		window("latency", map[string]string{"host": "b"}, time.Minute, storage.ResolutionRaw, rangeDigest(1, 10)),
	)
	h := newTestHandler(store)

	rr := get(h.HandleQuantiles, "/v1/quantiles?name=latency&q=0.5&q=0.99,0.999&label=host:a")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp QuantilesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, []float64{0.5, 0.99, 0.999}, resp.Quantiles)
	assert.True(t, resp.Start.Equal(base))
	require.Len(t, resp.Series, 1)
	assert.Equal(t, 100.0, resp.Series[0].Count)
	require.Len(t, resp.Series[0].Quantiles, 3)

	q, ok := resp.Series[0].Quantile(0.999)
	require.True(t, ok)
	assert.Equal(t, tdigest.Merge(rangeDigest(1, 100)).Quantile(0.999), q)
}

func TestHandleQuantiles_DefaultsAndGroupAll(t *testing.T) {
	store := seed(t,
		window("latency", map[string]string{"host": "a"}, time.Minute, storage.ResolutionRaw, rangeDigest(1, 100)),
		window("latency", map[string]string{"host": "b"}, time.Minute, storage.ResolutionRaw, rangeDigest(1, 10)),
	)
	h := newTestHandler(store)

	target := "/v1/quantiles?" + url.Values{"query": {`latency{host=~"a|b"}`}, "group": {"all"}}.Encode()
	rr := get(h.HandleQuantiles, target)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp QuantilesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, config.DefaultQuantiles, resp.Quantiles)
	require.Len(t, resp.Series, 1)
	assert.Equal(t, 110.0, resp.Series[0].Count)
}

func TestHandleQuantiles_Validation(t *testing.T) {
	h := newTestHandler(memory.New())

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"missing name", "", "name or query parameter is required"},
		{"quantile above one", "name=latency&q=1.5", "invalid quantile"},
		{"quantile not a number", "name=latency&q=abc", "invalid quantile"},
		{"bad label", "name=latency&label=host", "invalid label"},
		{"bad resolution", "name=latency&resolution=1d", "invalid resolution"},
		{"bad group", "name=latency&group=host", "invalid group"},
		{"bad start", "name=latency&start=yesterday", "invalid start"},
		{"inverted range", "name=latency&start=2000&end=1000", "start must be before end"},
		{"range too wide", "name=latency&start=0&end=100000000", "time range exceeds"},
		{"query and name", "name=latency&query=latency", "cannot be combined"},
		{"bad selector", "query=latency%7B", "query parse error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(h.HandleQuantiles, "/v1/quantiles?"+tt.query)
			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, errorMessage(t, rr), tt.want)
		})
	}
}

func TestHandleQuantiles_TooManyQuantiles(t *testing.T) {
	h := newTestHandler(memory.New())

	params := url.Values{"name": {"latency"}}
	for i := 0; i <= config.QueryMaxQuantiles; i++ {
		params.Add("q", "0.5")
	}
	rr := get(h.HandleQuantiles, "/v1/quantiles?"+params.Encode())
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "too many quantiles")
}

func TestHandleQuantilesRange(t *testing.T) {
	store := seed(t,
		window("latency", nil, 0, storage.ResolutionRaw, rangeDigest(1, 10)),
		window("latency", nil, 20*time.Minute, storage.ResolutionRaw, rangeDigest(11, 20)),
	)
	h := newTestHandler(store)

	rr := get(h.HandleQuantilesRange, "/v1/quantiles/range?name=latency&step=10m&q=0.5")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp RangeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "10m0s", resp.Step)
	require.Len(t, resp.Series, 1)
	require.Len(t, resp.Series[0].Points, 2)
	assert.True(t, resp.Series[0].Points[1].Timestamp.Equal(base.Add(20*time.Minute)))

	rr = get(h.HandleQuantilesRange, "/v1/quantiles/range?name=latency&step=-1s")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "invalid step")

	rr = get(h.HandleQuantilesRange, "/v1/quantiles/range?name=latency&step=1ms")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, errorMessage(t, rr), "points per series")
}

func TestHandleSeries(t *testing.T) {
	store := seed(t,
		window("latency", map[string]string{"host": "a"}, time.Minute, storage.ResolutionRaw, rangeDigest(1, 10)),
		window("size", nil, time.Minute, storage.ResolutionRaw, rangeDigest(1, 10)),
	)
	h := newTestHandler(store)

	rr := get(h.HandleSeries, "/v1/series")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp SeriesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Series, 2)
	assert.Equal(t, "latency", resp.Series[0].Name)
	assert.Equal(t, "size", resp.Series[1].Name)

	rr = get(h.HandleSeries, "/v1/series?name=size")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Series, 1)

	rr = get(h.HandleSeries, "/v1/series?limit=0")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("1704888000.5")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Unix(1704888000, 500000000)))

	got, err = parseTime("2024-01-10T12:00:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(base))

	_, err = parseTime("NaN")
	require.Error(t, err)
}
