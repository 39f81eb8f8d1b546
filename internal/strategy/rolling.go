package strategy

import (
	"math"
	"sort"
)

// Rolling helpers over float64 series. All windows are strictly trailing and
// full: positions with fewer than window observations, or any undefined value
// inside the window, yield NaN. Callers trim NaN rows before the next stage.

func diff(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(out) > 0 {
		out[0] = math.NaN()
	}
	for i := 1; i < len(x); i++ {
		out[i] = x[i] - x[i-1]
	}
	return out
}

func windowDefined(x []float64, i, window int) bool {
	if i < window-1 {
		return false
	}
	for j := i - window + 1; j <= i; j++ {
		if math.IsNaN(x[j]) {
			return false
		}
	}
	return true
}

func rollingMean(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if !windowDefined(x, i, window) {
			out[i] = math.NaN()
			continue
		}
		sum := 0.0
		for j := i - window + 1; j <= i; j++ {
			sum += x[j]
		}
		out[i] = sum / float64(window)
	}
	return out
}

// rollingStd is the sample standard deviation (n-1 denominator).
func rollingStd(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if window < 2 || !windowDefined(x, i, window) {
			out[i] = math.NaN()
			continue
		}
		sum := 0.0
		for j := i - window + 1; j <= i; j++ {
			sum += x[j]
		}
		mean := sum / float64(window)
		ss := 0.0
		for j := i - window + 1; j <= i; j++ {
			d := x[j] - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(window-1))
	}
	return out
}

func rollingMax(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if !windowDefined(x, i, window) {
			out[i] = math.NaN()
			continue
		}
		m := x[i-window+1]
		for j := i - window + 2; j <= i; j++ {
			if x[j] > m {
				m = x[j]
			}
		}
		out[i] = m
	}
	return out
}

func rollingMin(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if !windowDefined(x, i, window) {
			out[i] = math.NaN()
			continue
		}
		m := x[i-window+1]
		for j := i - window + 2; j <= i; j++ {
			if x[j] < m {
				m = x[j]
			}
		}
		out[i] = m
	}
	return out
}

// rollingQuantile interpolates linearly between order statistics,
// matching the conventional dataframe default.
func rollingQuantile(x []float64, window int, q float64) []float64 {
	out := make([]float64, len(x))
	buf := make([]float64, window)
	for i := range x {
		if !windowDefined(x, i, window) {
			out[i] = math.NaN()
			continue
		}
		copy(buf, x[i-window+1:i+1])
		sort.Float64s(buf)
		out[i] = quantileSorted(buf, q)
	}
	return out
}

// rollingRankPct ranks the newest value within its trailing window using
// average ranks for ties, scaled to (0, 1] by the window size.
func rollingRankPct(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if !windowDefined(x, i, window) {
			out[i] = math.NaN()
			continue
		}
		v := x[i]
		below, equal := 0, 0
		for j := i - window + 1; j <= i; j++ {
			switch {
			case x[j] < v:
				below++
			case x[j] == v:
				equal++
			}
		}
		rank := float64(below) + (float64(equal)+1)/2
		out[i] = rank / float64(window)
	}
	return out
}

// ewm is the recursive exponential moving average with alpha = 2/(span+1),
// seeded from the first value.
func ewm(x []float64, span int) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = alpha*x[i] + (1-alpha)*out[i-1]
	}
	return out
}

// quantile computes the q-quantile over all defined values in x.
func quantile(x []float64, q float64) float64 {
	vals := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	return quantileSorted(vals, q)
}

func quantileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}
