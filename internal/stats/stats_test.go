package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	s := Describe([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, 5, s.N)
	assert.InDelta(t, 3, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), s.Std, 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
	assert.Equal(t, 3.0, s.Median)
	assert.InDelta(t, 0, s.Skewness, 1e-12)
	assert.InDelta(t, -1.3, s.Kurtosis, 1e-12) // uniform-ish: (34/5)/(2*2) - 3
}

func TestDescribe_Constant(t *testing.T) {
	s := Describe([]float64{0.1, 0.1, 0.1, 0.1})
	assert.Equal(t, 0.0, s.Std)
	assert.Equal(t, 0.1, s.Mean)
	assert.Equal(t, 0.0, s.Skewness)
}

func TestDescribe_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Describe(nil))
}

func TestDescribe_Skewed(t *testing.T) {
	s := Describe([]float64{1, 1, 1, 1, 10})
	assert.Greater(t, s.Skewness, 0.0)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	assert.Equal(t, 10.0, Percentile(sorted, 0))
	assert.Equal(t, 40.0, Percentile(sorted, 1))
	assert.InDelta(t, 25, Percentile(sorted, 0.5), 1e-12)
	assert.Equal(t, 0.0, Percentile(nil, 0.5))
	assert.Equal(t, 7.0, Percentile([]float64{7}, 0.9))
}

func TestFinite(t *testing.T) {
	assert.Equal(t, []float64{1, 2}, Finite([]float64{1, math.NaN(), math.Inf(1), 2, math.Inf(-1)}))
}

func TestOutlierRate(t *testing.T) {
	xs := make([]float64, 0, 100)
	for i := 0; i < 99; i++ {
		xs = append(xs, 0)
	}
	xs = append(xs, 100)
	d := Describe(xs)
	assert.InDelta(t, 0.01, OutlierRate(xs, d.Mean, d.Std, 3), 1e-12)
	assert.Equal(t, 0.0, OutlierRate(xs, 0, 0, 3))
}

func TestHistogram_Clamps(t *testing.T) {
	edges := BinEdges(0, 10, 10)
	require.Len(t, edges, 11)
	assert.Equal(t, 0.0, edges[0])
	assert.Equal(t, 10.0, edges[10])

	counts := Histogram([]float64{-5, 0, 0.5, 1, 9.99, 10, 50}, edges)
	require.Len(t, counts, 10)
	assert.Equal(t, 3, counts[0]) // -5 clamped, 0, 0.5
	assert.Equal(t, 1, counts[1]) // 1 on the edge
	assert.Equal(t, 3, counts[9]) // 9.99, 10, 50 clamped
}

func TestBinEdges_Degenerate(t *testing.T) {
	edges := BinEdges(5, 5, 10)
	assert.Equal(t, 5.0, edges[0])
	assert.Equal(t, 15.0, edges[10])
}

func TestSymmetricKL(t *testing.T) {
	p := Probabilities([]int{10, 20, 30})
	assert.InDelta(t, 1.0, p[0]+p[1]+p[2], 1e-12)
	assert.Equal(t, 0.0, SymmetricKL(p, p))

	q := Probabilities([]int{30, 20, 10})
	assert.Greater(t, SymmetricKL(p, q), 0.0)
	assert.InDelta(t, SymmetricKL(p, q), SymmetricKL(q, p), 1e-12)
}
