package tdigest

// compress folds a mean-sorted run of centroids into a smaller sorted run
// whose weights still add up to total. It returns the new centroids and the
// sum of every value folded in along the way.
//
// items must be sorted by mean and is owned by compress: the first item of
// each output centroid is mutated in place.
func compress(items []Centroid, total float64, compression int) ([]Centroid, float64) {
	if len(items) == 0 {
		return nil, 0
	}

	compressed := make([]Centroid, 0, min(len(items), compression+1))

	var sum float64
	step := 1.0
	threshold := scaleToQuantile(step, compression) * total

	current := items[0]
	weightSoFar := current.Weight
	var sumsToMerge, weightsToMerge float64

	for _, next := range items[1:] {
		weightSoFar += next.Weight

		if weightSoFar <= threshold {
			sumsToMerge += next.Mean * next.Weight
			weightsToMerge += next.Weight
			continue
		}

		sum += current.Combine(sumsToMerge, weightsToMerge)
		sumsToMerge, weightsToMerge = 0, 0
		compressed = append(compressed, current)

		step++
		threshold = scaleToQuantile(step, compression) * total
		current = next
	}

	sum += current.Combine(sumsToMerge, weightsToMerge)
	compressed = append(compressed, current)

	// Recomputed means can drift past a neighbour by an ulp.
	sortCentroids(compressed)

	return compressed, sum
}
