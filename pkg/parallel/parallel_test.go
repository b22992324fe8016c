package parallel

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nicktill/tinydigest/pkg/tdigest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shuffled(n int, seed int64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i + 1)
	}
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
	return values
}

func TestBuildMatchesSequentialExtremes(t *testing.T) {
	values := shuffled(1000, 7)

	d, err := Build(context.Background(), values, 4, 100)
	require.NoError(t, err)

	assert.Equal(t, float64(1000), d.Count())
	assert.InDelta(t, 500500, d.Sum(), 1e-6)
	assert.Equal(t, float64(1), d.Min())
	assert.Equal(t, float64(1000), d.Max())
	assert.Equal(t, 100, d.Compression())
	assert.LessOrEqual(t, d.Len(), 101)

	assert.InDelta(t, 1.5, d.Quantile(0.001), 1e-9)
	assert.InDelta(t, 999.5, d.Quantile(0.999), 1e-9)
	assert.InDelta(t, 500, d.Quantile(0.5), 10)
}

func TestBuildLeavesInputUntouched(t *testing.T) {
	values := []float64{5, 3, 9, 1}
	_, err := Build(context.Background(), values, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 3, 9, 1}, values)
}

func TestBuildMoreShardsThanValues(t *testing.T) {
	d, err := Build(context.Background(), []float64{4, 2}, 16, 100)
	require.NoError(t, err)
	assert.Equal(t, float64(2), d.Count())
	assert.Equal(t, float64(6), d.Sum())
}

func TestBuildEmpty(t *testing.T) {
	d, err := Build(context.Background(), nil, 4, 30)
	require.NoError(t, err)
	assert.True(t, d.Empty())
	assert.Equal(t, 30, d.Compression())
}

func TestBuildDefaultShards(t *testing.T) {
	d, err := Build(context.Background(), shuffled(200, 1), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(200), d.Count())
	assert.Equal(t, tdigest.DefaultCompression, d.Compression())
}

func TestBuildCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, shuffled(100, 2), 4, 100)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMergeGroups(t *testing.T) {
	groups := map[string][]*tdigest.Digest{}
	for g, name := range []string{"a", "b", "c"} {
		for i := 0; i < 5; i++ {
			d := tdigest.New(100)
			d.Add(float64(g*100 + i))
			groups[name] = append(groups[name], d)
		}
	}
	groups["empty"] = nil

	merged, err := MergeGroups(context.Background(), groups, 2)
	require.NoError(t, err)
	require.Len(t, merged, 3)

	assert.Equal(t, float64(5), merged["a"].Count())
	assert.Equal(t, float64(0), merged["a"].Min())
	assert.Equal(t, float64(4), merged["a"].Max())
	assert.Equal(t, float64(200), merged["c"].Min())
	assert.NotContains(t, merged, "empty")

	// Inputs are unchanged
	assert.Equal(t, float64(1), groups["a"][0].Count())
}

func TestMergeGroupsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := tdigest.New(100)
	d.Add(1)
	_, err := MergeGroups(ctx, map[string][]*tdigest.Digest{"a": {d}}, 0)
	require.ErrorIs(t, err, context.Canceled)
}
