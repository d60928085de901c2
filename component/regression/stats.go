package regression

import (
	"math"
	"sort"
)

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total float64
	for _, s := range samples {
		total += s
	}
	return total / float64(len(samples))
}

func median(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func minMax(samples []float64) (min, max float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	min, max = samples[0], samples[0]
	for _, s := range samples[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

// populationStdev treats the samples as the whole population, not a
// sample of one, so the divisor is n rather than n-1.
func populationStdev(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	m := mean(samples)
	var sumSquares float64
	for _, s := range samples {
		d := s - m
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}
