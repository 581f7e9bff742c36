package signal

import (
	"math"
	"sort"
)

// percentile computes a linear-interpolated percentile over values.
// Empty input returns 0 rather than an error; the caller treats all-zero
// quantiles as a degenerate sample.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// zScore measures how many standard deviations current sits from the
// history mean. With fewer than two historical points the z-score is
// defined as 0 - not an error.
func zScore(current float64, history []float64) float64 {
	if len(history) < 2 {
		return 0
	}
	sd := stdDev(history)
	if sd == 0 {
		return 0
	}
	return (current - mean(history)) / sd
}

// percentChange returns the percent change from reference to current.
// A zero reference yields 0 rather than a division error.
func percentChange(current, reference float64) float64 {
	if reference == 0 {
		return 0
	}
	return (current - reference) / math.Abs(reference) * 100.0
}
