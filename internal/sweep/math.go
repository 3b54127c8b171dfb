package sweep

import "math"

// MeanStddev calculates the mean and sample standard deviation of a
// slice. Returns (0, 0) for empty slices.
func MeanStddev(xs []float64) (mean float64, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean = sum / float64(len(xs))

	var sdSum float64
	for _, v := range xs {
		d := v - mean
		sdSum += d * d
	}
	if len(xs) > 1 {
		stddev = math.Sqrt(sdSum / float64(len(xs)-1))
	}
	return mean, stddev
}
