package tdigest

// Merge combines digests into a new one without touching the inputs. The
// result takes the compression of the first argument, so argument order
// affects fidelity. Digests without centroids contribute nothing.
func Merge(digests ...*Digest) *Digest {
	var n int
	for _, d := range digests {
		if d != nil {
			n += len(d.centroids)
		}
	}
	if n == 0 {
		return New(DefaultCompression)
	}

	result := New(digests[0].compressionOrDefault())
	items := make([]Centroid, 0, n)

	for _, d := range digests {
		if d == nil || len(d.centroids) == 0 {
			continue
		}
		result.count += d.count
		result.bounds.widen(d.bounds.min, d.bounds.max)
		items = append(items, d.centroids...)
	}

	sortCentroids(items)
	result.centroids, result.sum = compress(items, result.count, result.compression)

	return result
}

// FromCentroids rebuilds a digest from previously exported state. When
// there are no more centroids than compression they are kept as given
// (sorted); otherwise they are recompressed down to compression, and the
// sum is recomputed by that pass.
func FromCentroids(centroids []Centroid, sum, count, max, min float64, compression int) *Digest {
	d := New(compression)
	d.count = count
	if len(centroids) > 0 {
		d.bounds = bounds{min: min, max: max, set: true}
	}

	items := make([]Centroid, len(centroids))
	copy(items, centroids)
	sortCentroids(items)

	if len(items) <= d.compression {
		d.sum = sum
		d.centroids = items
		return d
	}

	d.centroids, d.sum = compress(items, count, d.compression)
	return d
}

func (d *Digest) compressionOrDefault() int {
	if d == nil || d.compression <= 0 {
		return DefaultCompression
	}
	return d.compression
}
