package tdigest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile_EmptyDigestIsZero(t *testing.T) {
	d := New(100)

	// Defined degenerate value, not an error.
	for _, q := range []float64{-1, 0, 0.5, 1, 2} {
		assert.Equal(t, 0.0, d.Quantile(q), "q=%v", q)
	}
}

func TestQuantile_OutOfRangeClampsToBounds(t *testing.T) {
	d := New(100)
	d.AddSorted(seq(10, 20))

	assert.Equal(t, 10.0, d.Quantile(-0.5))
	assert.Equal(t, 10.0, d.Quantile(0))
	assert.Equal(t, 20.0, d.Quantile(1))
	assert.Equal(t, 20.0, d.Quantile(1.5))
}

func TestQuantile_SingleCentroidUsesBounds(t *testing.T) {
	d := FromCentroids([]Centroid{{Mean: 5, Weight: 4}}, 20, 4, 8, 2, 100)

	// delta is zero so every interior quantile is the centroid mean.
	assert.Equal(t, 5.0, d.Quantile(0.25))
	assert.Equal(t, 5.0, d.Quantile(0.75))
	assert.Equal(t, 2.0, d.Quantile(0))
	assert.Equal(t, 8.0, d.Quantile(1))
}

func TestQuantile_InterpolatesInsideNeighbours(t *testing.T) {
	cs := []Centroid{
		{Mean: 0, Weight: 1},
		{Mean: 10, Weight: 2},
		{Mean: 20, Weight: 1},
	}
	d := FromCentroids(cs, 40, 4, 20, 0, 100)

	// rank 2 lands in the middle centroid half-way through its weight.
	assert.Equal(t, 10.0, d.Quantile(0.5))
	// Never leaves the neighbouring means.
	for _, q := range []float64{0.3, 0.4, 0.6, 0.7} {
		v := d.Quantile(q)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 20.0)
	}
}

func TestQuantiles(t *testing.T) {
	d := New(100)
	d.AddSorted(seq(1, 100))

	assert.Equal(t, []float64{1, 50.375, 100}, d.Quantiles(0, 0.5, 1))
}
