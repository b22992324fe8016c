package tdigest

import "sort"

// Centroid is a point mass summarizing one or more values by their mean.
type Centroid struct {
	Mean   float64
	Weight float64
}

// NewCentroid creates a centroid with the given mean and weight.
func NewCentroid(mean, weight float64) Centroid {
	return Centroid{Mean: mean, Weight: weight}
}

// Combine folds a sum of raw values carrying the given weight into the
// centroid and returns the total sum the centroid now represents.
func (c *Centroid) Combine(sum, weight float64) float64 {
	sum += c.Mean * c.Weight

	c.Weight += weight
	c.Mean = sum / c.Weight

	return sum
}

// sortCentroids orders centroids by mean; equal means keep input order.
func sortCentroids(cs []Centroid) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Mean < cs[j].Mean
	})
}
