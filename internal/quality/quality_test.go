package quality

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"token-harvester/internal/clock"
	"token-harvester/internal/domain"
	"token-harvester/internal/events"
	"token-harvester/internal/features"
	"token-harvester/internal/observability"
	"token-harvester/internal/storage"
	"token-harvester/internal/storage/memory"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// uniformRows returns n rows of U[0,1) features. A uniform sample never has
// a value beyond 3 standard deviations, so it carries no outliers.
func uniformRows(n int, outcome func(i int) string) []*domain.FeatureRow {
	rng := rand.New(rand.NewSource(7))
	rows := make([]*domain.FeatureRow, n)
	for i := range rows {
		fs := make([]float64, domain.FeatureCount)
		for j := range fs {
			fs[j] = rng.Float64()
		}
		rows[i] = &domain.FeatureRow{
			Mint:           fmt.Sprintf("mint-%03d", i),
			RecordedAt:     t0.Add(time.Duration(i) * time.Minute),
			FeatureVersion: domain.FeatureVersion,
			Features:       fs,
			Normalized:     make([]float64, domain.FeatureCount),
			Outcome:        outcome(i),
		}
	}
	return rows
}

func alternating(i int) string {
	if i%2 == 0 {
		return "pump"
	}
	return "rug"
}

// blankRows replaces every feature of the first k rows with NaN.
func blankRows(rows []*domain.FeatureRow, k int) {
	for _, r := range rows[:k] {
		for j := range r.Features {
			r.Features[j] = math.NaN()
		}
	}
}

type harness struct {
	checker *Checker
	rows    *memory.TrainingRowStore
	reports *memory.ReportStore
	events  *events.Recorder
	metrics *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		rows:    memory.NewTrainingRowStore(),
		reports: memory.NewReportStore(),
		events:  &events.Recorder{},
		metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	h.checker = New(Options{
		Rows:    h.rows,
		Reports: h.reports,
		Events:  h.events,
		Metrics: h.metrics,
		Clock:   clock.NewFake(t0),
		Logger:  zaptest.NewLogger(t),
	})
	return h
}

func (h *harness) load(t *testing.T, rows []*domain.FeatureRow) {
	t.Helper()
	for _, r := range rows {
		require.NoError(t, h.rows.SaveTrainingRow(context.Background(), r))
	}
}

func TestAnalyze_HealthyDataset(t *testing.T) {
	h := newHarness(t)
	r := h.checker.Analyze(uniformRows(100, alternating))

	assert.Equal(t, domain.ReportOK, r.Status)
	assert.Equal(t, 100, r.SampleCount)
	assert.Len(t, r.Features, domain.FeatureCount)
	assert.Empty(t, r.LowQualityFeatures)
	assert.Zero(t, r.MissingPct)
	assert.Zero(t, r.OutlierPct)
	assert.Equal(t, map[string]int{"pump": 50, "rug": 50}, r.ClassBalance.Counts)
	assert.InDelta(t, 1.0, r.ClassBalance.Ratio, 1e-9)
	assert.InDelta(t, 100, r.OverallScore, 0.01)
	assert.Equal(t, []string{"Dataset is healthy"}, r.Recommendations)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, t0, r.GeneratedAt)
}

func TestAnalyze_ScoreNeverRisesWithMissingRate(t *testing.T) {
	h := newHarness(t)

	prev := math.Inf(1)
	var first, last float64
	for i, k := range []int{0, 5, 10, 20, 30, 50, 80, 100} {
		rows := uniformRows(100, alternating)
		blankRows(rows, k)
		r := h.checker.Analyze(rows)
		require.Equal(t, domain.ReportOK, r.Status)
		assert.InDelta(t, float64(k), r.MissingPct, 1e-9)
		assert.LessOrEqual(t, r.OverallScore, prev, "missing rows %d", k)
		prev = r.OverallScore
		if i == 0 {
			first = r.OverallScore
		}
		last = r.OverallScore
	}
	assert.Less(t, last, first)
}

func TestAnalyze_ConstantFeatureIsLowQuality(t *testing.T) {
	h := newHarness(t)
	healthy := h.checker.Analyze(uniformRows(100, alternating))

	rows := uniformRows(100, alternating)
	idx := features.Index(features.HolderCount)
	for _, r := range rows {
		r.Features[idx] = 42
	}
	r := h.checker.Analyze(rows)

	assert.Equal(t, []string{features.HolderCount}, r.LowQualityFeatures)
	fq := r.Features[idx]
	assert.True(t, fq.LowQuality)
	assert.Contains(t, fq.Reasons, "constant value")
	assert.Zero(t, fq.Std)
	assert.InDelta(t, 42, fq.Mean, 1e-9)
	assert.Less(t, r.SubScores.FeatureQuality, healthy.SubScores.FeatureQuality)
	assert.InDelta(t, 100*(1-1.0/domain.FeatureCount), r.SubScores.FeatureQuality, 1e-9)
	assert.Less(t, r.OverallScore, healthy.OverallScore)
}

func TestAnalyze_OutliersAndSparseFeatures(t *testing.T) {
	h := newHarness(t)
	rows := uniformRows(200, alternating)
	liq := features.Index(features.LiquidityUsd)
	sent := features.Index(features.SentimentScore)
	for i, r := range rows {
		if i < 10 {
			r.Features[liq] = 1e9
		}
		if i%2 == 0 {
			r.Features[sent] = math.NaN()
		}
	}
	r := h.checker.Analyze(rows)

	assert.Equal(t, []string{features.SentimentScore}, r.LowQualityFeatures)
	assert.InDelta(t, 50, r.Features[sent].MissingPct, 1e-9)
	assert.InDelta(t, 5, r.Features[liq].OutlierPct, 1e-9)
	assert.False(t, r.Features[liq].LowQuality)
	assert.InDelta(t, 5.0/domain.FeatureCount, r.OutlierPct, 1e-9)
	assert.Less(t, r.SubScores.Outliers, 100.0)
	assert.Less(t, r.SubScores.Missing, 100.0)
}

func TestAnalyze_ClassBalance(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name       string
		outcome    func(i int) string
		ratio      float64
		imbalanced bool
		score      float64
	}{
		{"balanced", alternating, 1, false, 100},
		{"imbalanced", func(i int) string {
			if i%11 == 0 {
				return "rug"
			}
			return "pump"
		}, 10, true, 10},
		{"single class", func(int) string { return "pump" }, 0, false, 50},
		{"unlabeled", func(int) string { return "" }, 0, false, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := h.checker.Analyze(uniformRows(66, tt.outcome))
			assert.InDelta(t, tt.ratio, r.ClassBalance.Ratio, 1e-9)
			assert.Equal(t, tt.imbalanced, r.ClassBalance.Imbalanced)
			assert.InDelta(t, tt.score, r.SubScores.ClassBalance, 1e-9)
		})
	}
}

func TestAnalyze_InsufficientData(t *testing.T) {
	h := newHarness(t)
	r := h.checker.Analyze(uniformRows(10, alternating))

	assert.Equal(t, domain.ReportInsufficientData, r.Status)
	assert.Equal(t, 10, r.SampleCount)
	assert.Zero(t, r.OverallScore)
	assert.Empty(t, r.Features)
	assert.NotNil(t, r.LowQualityFeatures)
	assert.NotEmpty(t, r.Issues)
}

func TestCheck_PersistsAndPublishes(t *testing.T) {
	tests := []struct {
		name   string
		rows   func() []*domain.FeatureRow
		events []events.Type
	}{
		{
			name:   "healthy",
			rows:   func() []*domain.FeatureRow { return uniformRows(100, alternating) },
			events: []events.Type{},
		},
		{
			name: "critical",
			rows: func() []*domain.FeatureRow {
				rows := uniformRows(100, func(int) string { return "pump" })
				blankRows(rows, 100)
				return rows
			},
			events: []events.Type{events.QualityCritical},
		},
		{
			name: "warning",
			rows: func() []*domain.FeatureRow {
				rows := uniformRows(100, alternating)
				blankRows(rows, 35)
				return rows
			},
			events: []events.Type{events.QualityWarning},
		},
		{
			name: "imbalanced",
			rows: func() []*domain.FeatureRow {
				return uniformRows(66, func(i int) string {
					if i%11 == 0 {
						return "rug"
					}
					return "pump"
				})
			},
			events: []events.Type{events.ClassImbalance},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.load(t, tt.rows())

			r, err := h.checker.Check(context.Background())
			require.NoError(t, err)
			require.Equal(t, domain.ReportOK, r.Status)

			assert.Equal(t, tt.events, h.events.Types())
			assert.InDelta(t, r.OverallScore, testutil.ToFloat64(h.metrics.QualityScore), 1e-9)

			latest, err := h.checker.Latest(context.Background())
			require.NoError(t, err)
			assert.Equal(t, r.ID, latest.ID)
		})
	}
}

func TestCheck_InsufficientDataIsNotAnAlert(t *testing.T) {
	h := newHarness(t)
	h.load(t, uniformRows(5, alternating))

	r, err := h.checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ReportInsufficientData, r.Status)
	assert.Empty(t, h.events.Types())

	history, err := h.checker.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, r.ID, history[0].ID)
}

func TestLatest_BeforeFirstCheck(t *testing.T) {
	h := newHarness(t)
	_, err := h.checker.Latest(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConfig_Defaults(t *testing.T) {
	h := newHarness(t)
	cfg := h.checker.Config()
	assert.Equal(t, 50, cfg.MinSamples)
	assert.Equal(t, 10_000, cfg.SampleLimit)
	assert.InDelta(t, 1.0, cfg.Weights.Sum(), 1e-9)
}

func TestConfig_ExplicitZeroCutoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CriticalMissingPct = 0
	checker := New(Options{
		Config: cfg,
		Rows:   memory.NewTrainingRowStore(),
		Clock:  clock.NewFake(t0),
		Logger: zaptest.NewLogger(t),
	})
	require.Zero(t, checker.Config().CriticalMissingPct)

	rows := uniformRows(100, alternating)
	blankRows(rows, 5)
	r := checker.Analyze(rows)
	assert.Len(t, r.LowQualityFeatures, domain.FeatureCount, "any missing value is critical")

	// The default 30% cutoff tolerates 5% missing.
	r = newHarness(t).checker.Analyze(rows)
	assert.Empty(t, r.LowQualityFeatures)
}
