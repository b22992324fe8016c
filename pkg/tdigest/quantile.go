package tdigest

// Quantile estimates the value at quantile q. q <= 0 returns the observed
// minimum and q >= 1 the observed maximum. An empty digest returns 0.
func (d *Digest) Quantile(q float64) float64 {
	if d.Empty() {
		return 0
	}

	n := len(d.centroids)
	rank := q * d.count
	position := 0
	t := 0.0

	if q > 0.5 {
		if q >= 1.0 {
			return d.bounds.max
		}

		t = d.count
		for i := n - 1; i > 0; i-- {
			t -= d.centroids[i].Weight
			if rank >= t {
				position = i
				break
			}
		}
	} else {
		if q <= 0.0 {
			return d.bounds.min
		}

		position = n - 1
		for i, c := range d.centroids {
			if rank < t+c.Weight {
				position = i
				break
			}
			t += c.Weight
		}
	}

	var delta float64
	lo, hi := d.bounds.min, d.bounds.max

	if n > 1 {
		switch position {
		case 0:
			delta = d.centroids[1].Mean - d.centroids[0].Mean
			hi = d.centroids[1].Mean
		case n - 1:
			delta = d.centroids[n-1].Mean - d.centroids[n-2].Mean
			lo = d.centroids[n-2].Mean
		default:
			delta = (d.centroids[position+1].Mean - d.centroids[position-1].Mean) / 2.0
			lo = d.centroids[position-1].Mean
			hi = d.centroids[position+1].Mean
		}
	}

	c := d.centroids[position]
	value := c.Mean + ((rank-t)/c.Weight-0.5)*delta
	return clamp(value, lo, hi)
}

// Quantiles evaluates Quantile for each q.
func (d *Digest) Quantiles(qs ...float64) []float64 {
	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = d.Quantile(q)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}
