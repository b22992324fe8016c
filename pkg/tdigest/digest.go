// Package tdigest implements a mergeable t-digest: a compact summary of a
// numeric distribution that answers approximate quantile queries.
//
// A Digest is not safe for concurrent mutation. Build one digest per
// goroutine, shard or time window and combine them with Merge.
package tdigest

import "sort"

// DefaultCompression is the compression factor used when none is given.
const DefaultCompression = 100

// bounds tracks the extreme values a digest has observed. set is false
// until the first value arrives.
type bounds struct {
	min, max float64
	set      bool
}

func (b *bounds) widen(lo, hi float64) {
	if !b.set {
		b.min, b.max, b.set = lo, hi, true
		return
	}
	if lo < b.min {
		b.min = lo
	}
	if hi > b.max {
		b.max = hi
	}
}

// Digest is a t-digest: centroids sorted by mean plus running totals.
type Digest struct {
	centroids   []Centroid
	compression int
	count       float64
	sum         float64
	bounds      bounds
}

// New creates an empty digest. A compression of zero or less selects
// DefaultCompression.
func New(compression int) *Digest {
	if compression <= 0 {
		compression = DefaultCompression
	}
	return &Digest{compression: compression}
}

// Add ingests values in any order.
func (d *Digest) Add(values ...float64) {
	if len(values) == 0 {
		return
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	d.AddSorted(sorted)
}

// AddSorted ingests values that are already sorted ascending. The existing
// centroids and the new values are merged and recompressed in one pass.
func (d *Digest) AddSorted(values []float64) {
	if len(values) == 0 {
		return
	}

	d.bounds.widen(values[0], values[len(values)-1])
	d.count += float64(len(values))

	items := make([]Centroid, 0, len(d.centroids)+len(values))
	ci, vi := 0, 0
	for ci < len(d.centroids) || vi < len(values) {
		// Existing centroids win only when strictly smaller.
		if ci < len(d.centroids) && (vi == len(values) || d.centroids[ci].Mean < values[vi]) {
			items = append(items, d.centroids[ci])
			ci++
			continue
		}
		items = append(items, Centroid{Mean: values[vi], Weight: 1})
		vi++
	}

	d.centroids, d.sum = compress(items, d.count, d.compression)
}

// Count returns the total weight absorbed by the digest.
func (d *Digest) Count() float64 { return d.count }

// Sum returns the weighted sum of the retained centroids.
func (d *Digest) Sum() float64 { return d.sum }

// Mean returns Sum/Count, or 0 for an empty digest.
func (d *Digest) Mean() float64 {
	if d.count > 0 {
		return d.sum / d.count
	}
	return 0
}

// Min returns the smallest value observed, or 0 when nothing was observed.
func (d *Digest) Min() float64 { return d.bounds.min }

// Max returns the largest value observed, or 0 when nothing was observed.
func (d *Digest) Max() float64 { return d.bounds.max }

// Bounds returns the observed extremes and whether any value was observed.
func (d *Digest) Bounds() (min, max float64, ok bool) {
	return d.bounds.min, d.bounds.max, d.bounds.set
}

// Empty reports whether the digest holds no centroids.
func (d *Digest) Empty() bool { return len(d.centroids) == 0 }

// Len returns the number of centroids.
func (d *Digest) Len() int { return len(d.centroids) }

// Compression returns the compression factor.
func (d *Digest) Compression() int { return d.compression }

// Centroids returns a copy of the centroids in ascending mean order.
func (d *Digest) Centroids() []Centroid {
	out := make([]Centroid, len(d.centroids))
	copy(out, d.centroids)
	return out
}
