package tdigest

// scaleToQuantile maps compression step k to the cumulative quantile
// boundary it may fill up to. The quadratic shape keeps the budget small
// near both tails and large around the median.
func scaleToQuantile(k float64, compression int) float64 {
	kDivSize := k / float64(compression)

	if kDivSize >= 0.5 {
		base := 1.0 - kDivSize
		return 1.0 - 2.0*base*base
	}
	return 2.0 * kDivSize * kDivSize
}
