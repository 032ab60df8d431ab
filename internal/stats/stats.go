// Package stats provides the descriptive statistics shared by the quality
// checker and the drift monitor.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a sample of finite values.
type Summary struct {
	N        int
	Mean     float64
	Std      float64 // sample std (n-1), exactly 0 for a constant sample
	Min      float64
	Max      float64
	Median   float64
	P5       float64
	P25      float64
	P75      float64
	P95      float64
	Skewness float64 // third standardized moment
	Kurtosis float64 // fourth standardized moment minus 3
}

// Finite returns the finite values of xs in order.
func Finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

// Describe summarizes xs, which must be finite. An empty sample yields a zero Summary.
func Describe(xs []float64) Summary {
	n := len(xs)
	if n == 0 {
		return Summary{}
	}

	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)

	s := Summary{
		N:      n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: Percentile(sorted, 0.50),
		P5:     Percentile(sorted, 0.05),
		P25:    Percentile(sorted, 0.25),
		P75:    Percentile(sorted, 0.75),
		P95:    Percentile(sorted, 0.95),
	}

	if s.Min == s.Max {
		s.Mean = s.Min
		return s
	}

	s.Mean = stat.Mean(xs, nil)
	if n > 1 {
		s.Std = stat.StdDev(xs, nil)
	}

	// Standardized moments use the population variance.
	m2 := stat.Moment(2, xs, nil)
	if m2 > 0 {
		s.Skewness = stat.Moment(3, xs, nil) / math.Pow(m2, 1.5)
		s.Kurtosis = stat.Moment(4, xs, nil)/(m2*m2) - 3
	}
	return s
}

// Percentile uses linear interpolation. sorted must be ascending.
// p is a fraction (0.10 = 10th percentile).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// OutlierRate is the fraction of xs with |z| > threshold. Zero std yields 0.
func OutlierRate(xs []float64, mean, std, threshold float64) float64 {
	if len(xs) == 0 || std == 0 {
		return 0
	}
	n := 0
	for _, x := range xs {
		if math.Abs((x-mean)/std) > threshold {
			n++
		}
	}
	return float64(n) / float64(len(xs))
}

// BinEdges returns bins+1 equally spaced edges over [lo, hi]. A degenerate
// range is widened to unit-width bins starting at lo.
func BinEdges(lo, hi float64, bins int) []float64 {
	if hi <= lo {
		hi = lo + float64(bins)
	}
	edges := make([]float64, bins+1)
	floats.Span(edges, lo, hi)
	return edges
}

// Histogram counts xs into the bins defined by edges. Values outside the
// range are clamped into the first or last bin.
func Histogram(xs, edges []float64) []int {
	bins := len(edges) - 1
	if bins <= 0 {
		return nil
	}
	counts := make([]int, bins)
	for _, x := range xs {
		// First edge >= x. Bins are left-closed, so x sitting on edge i is in bin i.
		i := sort.SearchFloat64s(edges, x)
		if i == len(edges) || (i > 0 && edges[i] != x) {
			i--
		}
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	return counts
}

// Probabilities converts counts to Laplace-smoothed probabilities (c+1)/(N+k).
func Probabilities(counts []int) []float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	k := float64(len(counts))
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = (float64(c) + 1) / (float64(total) + k)
	}
	return out
}

// SymmetricKL is KL(p||q) + KL(q||p). p and q must be strictly positive.
func SymmetricKL(p, q []float64) float64 {
	if len(p) != len(q) || len(p) == 0 {
		return 0
	}
	return stat.KullbackLeibler(p, q) + stat.KullbackLeibler(q, p)
}
