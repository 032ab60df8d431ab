package drift

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"token-harvester/internal/domain"
	"token-harvester/internal/stats"
)

// maxStdRatio caps StdRatio when the baseline has no spread.
const maxStdRatio = 1000

// Describe builds the distribution snapshot of the finite values, binned
// over their own range.
func Describe(feature string, values []float64, at time.Time) *domain.DistributionSnapshot {
	finite := stats.Finite(values)
	s := stats.Describe(finite)
	return snapshot(feature, finite, s, stats.BinEdges(s.Min, s.Max, domain.HistogramBins), at)
}

// DescribeOn is Describe with the histogram binned on ref's edges, which
// makes the two histograms comparable.
func DescribeOn(feature string, values []float64, ref *domain.DistributionSnapshot, at time.Time) *domain.DistributionSnapshot {
	finite := stats.Finite(values)
	return snapshot(feature, finite, stats.Describe(finite), edgesOf(ref), at)
}

func snapshot(feature string, finite []float64, s stats.Summary, edges []float64, at time.Time) *domain.DistributionSnapshot {
	counts := stats.Histogram(finite, edges)
	hist := make([]domain.HistogramBin, len(counts))
	for i, n := range counts {
		hist[i] = domain.HistogramBin{Start: edges[i], Count: n}
	}
	return &domain.DistributionSnapshot{
		Feature:     feature,
		Mean:        s.Mean,
		Std:         s.Std,
		Min:         s.Min,
		Max:         s.Max,
		P5:          s.P5,
		P25:         s.P25,
		P50:         s.Median,
		P75:         s.P75,
		P95:         s.P95,
		BinWidth:    edges[1] - edges[0],
		Histogram:   hist,
		SampleCount: s.N,
		ComputedAt:  at.UTC(),
	}
}

// edgesOf recovers the bin edges of s.
func edgesOf(s *domain.DistributionSnapshot) []float64 {
	if len(s.Histogram) == 0 || s.BinWidth <= 0 {
		return stats.BinEdges(s.Min, s.Max, domain.HistogramBins)
	}
	edges := make([]float64, len(s.Histogram)+1)
	for i, b := range s.Histogram {
		edges[i] = b.Start
	}
	edges[len(s.Histogram)] = s.Histogram[len(s.Histogram)-1].Start + s.BinWidth
	return edges
}

// CompareDistributions scores how far current moved from baseline. current
// must be binned on the baseline's edges (see DescribeOn) for the histogram
// term to be meaningful.
func (m *Monitor) CompareDistributions(baseline, current *domain.DistributionSnapshot) domain.FeatureDrift {
	return compare(m.cfg, baseline, current)
}

func compare(cfg Config, baseline, current *domain.DistributionSnapshot) domain.FeatureDrift {
	delta := current.Mean - baseline.Mean
	fd := domain.FeatureDrift{
		Feature:       baseline.Feature,
		BaselineMean:  baseline.Mean,
		CurrentMean:   current.Mean,
		BaselineStd:   baseline.Std,
		CurrentStd:    current.Std,
		MeanShift:     relativeShift(delta, baseline.Mean, baseline.Std),
		MeanShiftStd:  delta / stdUnit(baseline),
		StdChange:     relativeStdChange(baseline.Std, current.Std),
		StdRatio:      stdRatio(baseline.Std, current.Std),
		KLDivergence:  histogramKL(baseline, current),
		PValue:        welchPValue(baseline, current),
		CurrentSample: current.SampleCount,
	}

	total := cfg.MeanWeight + cfg.StdWeight + cfg.KLWeight
	fd.DriftScore = (cfg.MeanWeight*math.Min(1, fd.MeanShift) +
		cfg.StdWeight*math.Min(1, fd.StdChange) +
		cfg.KLWeight*math.Min(1, fd.KLDivergence)) / total

	fd.Type = classify(cfg, fd)
	fd.Significance = significance(cfg.Thresholds, fd.DriftScore)
	fd.IsDrifted = fd.DriftScore >= cfg.Thresholds.Low
	return fd
}

// relativeShift is |delta| relative to the baseline mean. Near-zero means
// fall back to the baseline std.
func relativeShift(delta, mean, std float64) float64 {
	switch {
	case delta == 0:
		return 0
	case math.Abs(mean) > 1e-9:
		return math.Abs(delta) / math.Abs(mean)
	case std > 0:
		return math.Abs(delta) / std
	default:
		return 1
	}
}

// stdUnit is the baseline spread used for std-unit shifts.
func stdUnit(b *domain.DistributionSnapshot) float64 {
	if b.Std > 0 {
		return b.Std
	}
	return math.Max(math.Abs(b.Mean), 1)
}

func relativeStdChange(base, cur float64) float64 {
	switch {
	case base > 0:
		return math.Abs(cur-base) / base
	case cur == 0:
		return 0
	default:
		return 1
	}
}

func stdRatio(base, cur float64) float64 {
	switch {
	case base > 0:
		return math.Min(cur/base, maxStdRatio)
	case cur == 0:
		return 1
	default:
		return maxStdRatio
	}
}

func histogramKL(baseline, current *domain.DistributionSnapshot) float64 {
	if len(baseline.Histogram) == 0 || len(baseline.Histogram) != len(current.Histogram) {
		return 0
	}
	p := stats.Probabilities(binCounts(baseline.Histogram))
	q := stats.Probabilities(binCounts(current.Histogram))
	return math.Max(0, stats.SymmetricKL(p, q))
}

func binCounts(h []domain.HistogramBin) []int {
	out := make([]int, len(h))
	for i, b := range h {
		out[i] = b.Count
	}
	return out
}

// welchPValue is a two-sided p-value of Welch's t statistic under a normal
// approximation. It is a confidence hint, not a test.
func welchPValue(b, c *domain.DistributionSnapshot) float64 {
	if b.SampleCount < 2 || c.SampleCount < 2 {
		return 1
	}
	delta := c.Mean - b.Mean
	se := math.Sqrt(b.Std*b.Std/float64(b.SampleCount) + c.Std*c.Std/float64(c.SampleCount))
	if se == 0 {
		if delta == 0 {
			return 1
		}
		return 0
	}
	t := math.Abs(delta) / se
	return 2 * (1 - distuv.UnitNormal.CDF(t))
}

func classify(cfg Config, fd domain.FeatureDrift) domain.DriftType {
	shift := math.Abs(fd.MeanShiftStd)
	stable := fd.StdRatio >= cfg.StableStdLow && fd.StdRatio <= cfg.StableStdHigh
	switch {
	case shift > cfg.SuddenShiftStd:
		return domain.DriftSudden
	case shift >= cfg.GradualShiftStd && stable:
		return domain.DriftGradual
	case !stable:
		return domain.DriftSeasonal
	default:
		return domain.DriftNone
	}
}

func significance(t Thresholds, score float64) domain.Severity {
	switch {
	case score >= t.Critical:
		return domain.SeverityCritical
	case score >= t.High:
		return domain.SeverityHigh
	case score >= t.Medium:
		return domain.SeverityMedium
	case score >= t.Low:
		return domain.SeverityLow
	default:
		return domain.SeverityNone
	}
}
