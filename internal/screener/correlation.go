package screener

import (
	"math"
	"sort"
)

// Pearson returns the sample correlation of two equal-length series.
// ok is false when the lengths differ, fewer than two points exist or either series is constant.
func Pearson(x, y []float64) (float64, bool) {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0, false
	}
	var meanX, meanY float64
	for i := 0; i < n; i++ {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(n)
	meanY /= float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	r := cov / math.Sqrt(varX*varY)
	// Clamp rounding drift.
	return math.Max(-1, math.Min(1, r)), true
}

// PairCorrelation is the correlation between the close series of two instruments.
type PairCorrelation struct {
	InstA       string
	InstB       string
	Correlation float64
}

// Correlate scores every unordered pair of series. Constant series are skipped.
func Correlate(series map[string][]float64) []PairCorrelation {
	ids := make([]string, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []PairCorrelation
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			r, ok := Pearson(series[ids[i]], series[ids[j]])
			if !ok {
				continue
			}
			out = append(out, PairCorrelation{InstA: ids[i], InstB: ids[j], Correlation: r})
		}
	}
	return out
}

// Top returns the n most positively and the n most negatively correlated pairs.
// Ties break on instrument ids so output is stable.
func Top(pairs []PairCorrelation, n int) (positive, negative []PairCorrelation) {
	sorted := make([]PairCorrelation, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Correlation != sorted[j].Correlation {
			return sorted[i].Correlation > sorted[j].Correlation
		}
		if sorted[i].InstA != sorted[j].InstA {
			return sorted[i].InstA < sorted[j].InstA
		}
		return sorted[i].InstB < sorted[j].InstB
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	positive = append(positive, sorted[:n]...)
	for i := len(sorted) - 1; i >= len(sorted)-n; i-- {
		negative = append(negative, sorted[i])
	}
	return positive, negative
}
