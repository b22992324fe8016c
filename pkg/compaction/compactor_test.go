package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/storage/memory"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

func digest(values ...float64) *tdigest.Digest {
	d := tdigest.New(100)
	d.Add(values...)
	return d
}

func rangeDigest(lo, hi int) *tdigest.Digest {
	values := make([]float64, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		values = append(values, float64(i))
	}
	return digest(values...)
}

func raw(name string, labels map[string]string, ts time.Time, d *tdigest.Digest) storage.Window {
	return storage.Window{Name: name, Labels: labels, Timestamp: ts, Resolution: storage.ResolutionRaw, Digest: d}
}

func queryResolution(t *testing.T, store storage.Storage, res storage.Resolution, start, end time.Time) []storage.Window {
	t.Helper()
	results, err := store.Query(context.Background(), storage.QueryRequest{
		Start:      start,
		End:        end,
		Resolution: storage.ResolutionPtr(res),
	})
	require.NoError(t, err)
	return results
}

func TestCompact5m_MergesDigests(t *testing.T) {
	store := memory.New()
	defer store.Close()

	compactor := New(store)
	ctx := context.Background()
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	a := rangeDigest(1, 50)
	b := rangeDigest(51, 100)
	require.NoError(t, store.Write(ctx, []storage.Window{
		raw("latency", nil, baseTime, a),
		raw("latency", nil, baseTime.Add(2*time.Minute), b),
	}))

	err := compactor.Compact5m(ctx, baseTime.Add(-1*time.Hour), baseTime.Add(1*time.Hour))
	require.NoError(t, err)

	results := queryResolution(t, store, storage.Resolution5m, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.Len(t, results, 1)

	w := results[0]
	want := tdigest.Merge(a, b)
	assert.True(t, w.Timestamp.Equal(baseTime))
	assert.Equal(t, float64(100), w.Digest.Count())
	assert.Equal(t, float64(1), w.Digest.Min())
	assert.Equal(t, float64(100), w.Digest.Max())
	assert.Equal(t, want.Centroids(), w.Digest.Centroids())
	assert.Equal(t, want.Quantile(0.5), w.Digest.Quantile(0.5))

	// Raw windows are still there until cleanup
	assert.Len(t, queryResolution(t, store, storage.ResolutionRaw, baseTime.Add(-time.Hour), baseTime.Add(time.Hour)), 2)
}

func TestCompact5m_MultipleSeries(t *testing.T) {
	store := memory.New()
	compactor := New(store)
	ctx := context.Background()
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	store.Write(ctx, []storage.Window{
		raw("requests", map[string]string{"endpoint": "/api"}, baseTime, digest(100)),
		raw("requests", map[string]string{"endpoint": "/api"}, baseTime.Add(time.Minute), digest(200)),
		raw("requests", map[string]string{"endpoint": "/health"}, baseTime, digest(50)),
	})

	require.NoError(t, compactor.Compact5m(ctx, baseTime.Add(-1*time.Hour), baseTime.Add(1*time.Hour)))

	results := queryResolution(t, store, storage.Resolution5m, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.Len(t, results, 2)
	for _, w := range results {
		switch w.Labels["endpoint"] {
		case "/api":
			assert.Equal(t, float64(2), w.Digest.Count())
			assert.Equal(t, float64(300), w.Digest.Sum())
		case "/health":
			assert.Equal(t, float64(1), w.Digest.Count())
		default:
			t.Errorf("unexpected series %v", w.Labels)
		}
	}
}

func TestCompact5m_AcrossBuckets(t *testing.T) {
	store := memory.New()
	compactor := New(store)
	ctx := context.Background()
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	store.Write(ctx, []storage.Window{
		raw("metric", nil, baseTime, digest(10)),                      // 12:00-12:05 bucket
		raw("metric", nil, baseTime.Add(3*time.Minute), digest(20)),   // 12:00-12:05 bucket
		raw("metric", nil, baseTime.Add(6*time.Minute), digest(30)),   // 12:05-12:10 bucket
		raw("metric", nil, baseTime.Add(8*time.Minute), digest(40)),   // 12:05-12:10 bucket
	})

	require.NoError(t, compactor.Compact5m(ctx, baseTime.Add(-1*time.Hour), baseTime.Add(1*time.Hour)))

	results := queryResolution(t, store, storage.Resolution5m, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.Len(t, results, 2)
	assert.True(t, results[0].Timestamp.Equal(baseTime))
	assert.Equal(t, float64(30), results[0].Digest.Sum())
	assert.True(t, results[1].Timestamp.Equal(baseTime.Add(5*time.Minute)))
	assert.Equal(t, float64(70), results[1].Digest.Sum())
}

func TestCompact5m_OnlyWholeBuckets(t *testing.T) {
	store := memory.New()
	compactor := New(store)
	ctx := context.Background()
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	store.Write(ctx, []storage.Window{
		raw("metric", nil, baseTime, digest(1)),
		raw("metric", nil, baseTime.Add(3*time.Minute), digest(2)),
		raw("metric", nil, baseTime.Add(6*time.Minute), digest(3)),
	})

	// Start is widened to 12:00, end is cut back to 12:05
	require.NoError(t, compactor.Compact5m(ctx, baseTime.Add(2*time.Minute), baseTime.Add(7*time.Minute)))

	results := queryResolution(t, store, storage.Resolution5m, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.Len(t, results, 1)
	assert.True(t, results[0].Timestamp.Equal(baseTime))
	assert.Equal(t, float64(2), results[0].Digest.Count())
}

func TestCompact5m_Idempotent(t *testing.T) {
	store := memory.New()
	compactor := New(store)
	ctx := context.Background()
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	store.Write(ctx, []storage.Window{
		raw("metric", nil, baseTime, rangeDigest(1, 10)),
		raw("metric", nil, baseTime.Add(time.Minute), rangeDigest(11, 20)),
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, compactor.Compact5m(ctx, baseTime, baseTime.Add(time.Hour)))
	}

	results := queryResolution(t, store, storage.Resolution5m, baseTime, baseTime.Add(time.Hour))
	require.Len(t, results, 1)
	assert.Equal(t, float64(20), results[0].Digest.Count())
}

func TestCompact1h(t *testing.T) {
	store := memory.New()
	compactor := New(store)
	ctx := context.Background()
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	five := func(ts time.Time, v float64) storage.Window {
		return storage.Window{Name: "metric", Timestamp: ts, Resolution: storage.Resolution5m, Digest: digest(v)}
	}
	store.Write(ctx, []storage.Window{
		five(baseTime, 10),
		five(baseTime.Add(5*time.Minute), 15),
		five(baseTime.Add(10*time.Minute), 20),
		five(baseTime.Add(15*time.Minute), 25),
		five(baseTime.Add(60*time.Minute), 30), // next hour
	})
	// Raw windows are not an input to 1h compaction
	store.Write(ctx, []storage.Window{raw("metric", nil, baseTime, digest(1000))})

	require.NoError(t, compactor.Compact1h(ctx, baseTime.Add(-1*time.Hour), baseTime.Add(2*time.Hour)))

	results := queryResolution(t, store, storage.Resolution1h, baseTime.Add(-time.Hour), baseTime.Add(2*time.Hour))
	require.Len(t, results, 2)
	assert.Equal(t, float64(4), results[0].Digest.Count())
	assert.Equal(t, float64(10), results[0].Digest.Min())
	assert.Equal(t, float64(25), results[0].Digest.Max())
	assert.Equal(t, float64(1), results[1].Digest.Count())
}

func TestCompactEmptyRange(t *testing.T) {
	store := memory.New()
	compactor := New(store)
	baseTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, compactor.Compact5m(context.Background(), baseTime, baseTime.Add(time.Hour)))
	// Range shorter than one bucket
	require.NoError(t, compactor.Compact1h(context.Background(), baseTime.Add(time.Minute), baseTime.Add(2*time.Minute)))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalWindows)
}

func TestCompactAndCleanup(t *testing.T) {
	store := memory.New()
	defer store.Close()

	compactor := New(store)
	now := time.Date(2024, 1, 10, 12, 2, 0, 0, time.UTC)
	compactor.clock = func() time.Time { return now }
	ctx := context.Background()

	store.Write(ctx, []storage.Window{
		// Old raw windows: compacted then deleted
		raw("old", nil, now.Add(-10*time.Hour), digest(1)),
		raw("old", nil, now.Add(-8*time.Hour), digest(2)),
		// Recent raw windows: kept
		raw("recent", nil, now.Add(-1*time.Hour), digest(10)),
		raw("recent", nil, now, digest(20)),
		// 5m window 3 days old: compacted into 1h then deleted
		{Name: "week", Timestamp: now.Add(-72 * time.Hour), Resolution: storage.Resolution5m, Digest: digest(5)},
		// 5m window 8 days old: deleted
		{Name: "stale", Timestamp: now.Add(-8 * 24 * time.Hour), Resolution: storage.Resolution5m, Digest: digest(6)},
		// 1h window past retention: deleted
		{Name: "ancient", Timestamp: now.Add(-400 * 24 * time.Hour), Resolution: storage.Resolution1h, Digest: digest(7)},
	})

	require.NoError(t, compactor.CompactAndCleanup(ctx))

	all, err := store.Query(ctx, storage.QueryRequest{
		Start: now.Add(-500 * 24 * time.Hour),
		End:   now.Add(time.Hour),
	})
	require.NoError(t, err)

	byKey := make(map[string]int)
	for _, w := range all {
		byKey[w.Name+"/"+string(w.Resolution)]++
	}

	assert.Equal(t, 0, byKey["old/raw"], "old raw windows should have been deleted")
	assert.Equal(t, 2, byKey["old/5m"], "old raw windows should have been compacted")
	assert.Equal(t, 2, byKey["recent/raw"])
	assert.Equal(t, 0, byKey["recent/5m"])
	assert.Equal(t, 0, byKey["week/5m"], "compacted 5m windows should have been deleted")
	assert.Equal(t, 1, byKey["week/1h"])
	assert.Equal(t, 0, byKey["stale/5m"])
	assert.Equal(t, 0, byKey["ancient/1h"])
}

func TestCompactAndCleanup_NoDoubleCount(t *testing.T) {
	store := memory.New()
	defer store.Close()

	compactor := New(store)
	now := time.Date(2024, 1, 10, 12, 2, 0, 0, time.UTC)
	compactor.clock = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, []storage.Window{
		raw("lat", nil, now.Add(-9*time.Hour), rangeDigest(1, 4)),
		{Name: "lat", Timestamp: now.Add(-72 * time.Hour), Resolution: storage.Resolution5m, Digest: rangeDigest(1, 10)},
	}))

	require.NoError(t, compactor.CompactAndCleanup(ctx))
	// A second run over the same state must not change totals either
	require.NoError(t, compactor.CompactAndCleanup(ctx))

	// Every resolution at once, the way an unscoped query reads storage
	all, err := store.Query(ctx, storage.QueryRequest{
		Start: now.Add(-30 * 24 * time.Hour),
		End:   now.Add(time.Hour),
	})
	require.NoError(t, err)

	var total float64
	for _, w := range all {
		total += w.Digest.Count()
	}
	assert.Equal(t, float64(14), total)
}

func TestSummarize(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	w := storage.Window{
		Name:       "latency",
		Labels:     map[string]string{"route": "/"},
		Timestamp:  ts,
		Resolution: storage.Resolution5m,
		Digest:     rangeDigest(1, 100),
	}

	s := Summarize(w, []float64{0.001, 0.5, 0.999})
	assert.Equal(t, "latency", s.Name)
	assert.Equal(t, float64(100), s.Count)
	assert.Equal(t, float64(5050), s.Sum)
	assert.Equal(t, 50.5, s.Mean)
	assert.Equal(t, float64(1), s.Min)
	assert.Equal(t, float64(100), s.Max)
	assert.Equal(t, 88, s.Centroids)
	require.Len(t, s.Quantiles, 3)

	v, ok := s.Quantile(0.001)
	require.True(t, ok)
	assert.Equal(t, float64(1), v)
	v, ok = s.Quantile(0.999)
	require.True(t, ok)
	assert.Equal(t, float64(100), v)

	_, ok = s.Quantile(0.25)
	assert.False(t, ok)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(storage.Window{Name: "x", Digest: tdigest.New(100)}, []float64{0.5})
	assert.Zero(t, s.Count)
	assert.Zero(t, s.Mean)
	require.Len(t, s.Quantiles, 1)
	assert.Zero(t, s.Quantiles[0].Value)

	s = Summarize(storage.Window{Name: "nil"}, []float64{0.5})
	assert.Empty(t, s.Quantiles)
}

func TestRoundTo5Minutes(t *testing.T) {
	tests := []struct {
		input    time.Time
		expected time.Time
	}{
		{
			input:    time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC),
			expected: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			input:    time.Date(2024, 1, 1, 12, 3, 45, 0, time.UTC),
			expected: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			input:    time.Date(2024, 1, 1, 12, 7, 15, 0, time.UTC),
			expected: time.Date(2024, 1, 1, 12, 5, 0, 0, time.UTC),
		},
		{
			input:    time.Date(2024, 1, 1, 12, 14, 59, 0, time.UTC),
			expected: time.Date(2024, 1, 1, 12, 10, 0, 0, time.UTC),
		},
	}

	for _, test := range tests {
		result := roundTo5Minutes(test.input)
		if !result.Equal(test.expected) {
			t.Errorf("roundTo5Minutes(%v) = %v, expected %v",
				test.input, result, test.expected)
		}
	}
}

func TestRoundTo1Hour(t *testing.T) {
	tests := []struct {
		input    time.Time
		expected time.Time
	}{
		{
			input:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			input:    time.Date(2024, 1, 1, 12, 59, 59, 0, time.UTC),
			expected: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, test := range tests {
		result := roundTo1Hour(test.input)
		if !result.Equal(test.expected) {
			t.Errorf("roundTo1Hour(%v) = %v, expected %v",
				test.input, result, test.expected)
		}
	}
}
