// Package quality audits the training dataset: missing values, outliers,
// class balance and per-feature health, blended into a 0-100 score.
package quality

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"token-harvester/internal/clock"
	"token-harvester/internal/domain"
	"token-harvester/internal/events"
	"token-harvester/internal/features"
	"token-harvester/internal/observability"
	"token-harvester/internal/stats"
	"token-harvester/internal/storage"
)

// Options configures a Checker.
type Options struct {
	Config  Config
	Rows    storage.TrainingRowStore // required
	Reports storage.ReportStore      // optional; reports are not persisted without it
	Events  events.Publisher
	Metrics *observability.Metrics
	Clock   clock.Clock
	Logger  *zap.Logger
}

// Checker computes DataQualityReports.
type Checker struct {
	cfg     Config
	rows    storage.TrainingRowStore
	reports storage.ReportStore
	events  events.Publisher
	metrics *observability.Metrics
	clock   clock.Clock
	logger  *zap.Logger
}

// New creates a Checker. It panics if opts.Rows is nil.
func New(opts Options) *Checker {
	if opts.Rows == nil {
		panic("quality: training row store is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		cfg:     opts.Config.withDefaults(),
		rows:    opts.Rows,
		reports: opts.Reports,
		events:  opts.Events,
		metrics: opts.Metrics,
		clock:   clk,
		logger:  logger.Named("quality"),
	}
}

// Config returns the effective configuration.
func (c *Checker) Config() Config { return c.cfg }

// Check loads the most recent rows, analyzes them, persists the report and
// publishes threshold events. Report persistence failures are returned with
// the report.
func (c *Checker) Check(ctx context.Context) (report *domain.DataQualityReport, err error) {
	ctx, span := observability.Tracer().Start(ctx, "quality.check")
	defer func() { observability.EndSpan(span, err) }()

	rows, err := c.rows.LoadRecentFeatureRows(ctx, c.cfg.SampleLimit, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load training rows: %w", err)
	}

	report = c.Analyze(rows)
	span.SetAttributes(
		attribute.Int("rows", report.SampleCount),
		attribute.Float64("score", report.OverallScore),
		attribute.String("status", string(report.Status)),
	)

	if report.Status == domain.ReportOK {
		c.metrics.RecordQuality(report.OverallScore)
		c.notify(report)
	}

	c.logger.Info("quality check complete",
		zap.String("id", report.ID),
		zap.String("status", string(report.Status)),
		zap.Int("samples", report.SampleCount),
		zap.Float64("score", report.OverallScore),
		zap.Strings("low_quality", report.LowQualityFeatures))

	if c.reports != nil {
		if err := c.reports.SaveQualityReport(ctx, report); err != nil {
			return report, fmt.Errorf("save quality report: %w", err)
		}
	}
	return report, nil
}

// Run is Check shaped as a periodic job body.
func (c *Checker) Run(ctx context.Context) error {
	_, err := c.Check(ctx)
	return err
}

// Latest returns the last persisted report, or storage.ErrNotFound.
func (c *Checker) Latest(ctx context.Context) (*domain.DataQualityReport, error) {
	if c.reports == nil {
		return nil, storage.ErrNotFound
	}
	return c.reports.LatestQualityReport(ctx)
}

// History returns at most limit persisted reports, newest first.
func (c *Checker) History(ctx context.Context, limit int) ([]*domain.DataQualityReport, error) {
	if c.reports == nil {
		return nil, nil
	}
	return c.reports.QualityReportHistory(ctx, limit)
}

func (c *Checker) notify(r *domain.DataQualityReport) {
	if c.events == nil {
		return
	}
	now := c.clock.Now()
	switch {
	case r.OverallScore < c.cfg.CriticalScore:
		c.events.Publish(events.Event{Type: events.QualityCritical, Time: now, Data: r})
	case r.OverallScore < c.cfg.WarningScore:
		c.events.Publish(events.Event{Type: events.QualityWarning, Time: now, Data: r})
	}
	if r.ClassBalance.Imbalanced {
		c.events.Publish(events.Event{Type: events.ClassImbalance, Time: now, Data: r.ClassBalance})
	}
}

// Analyze scores rows. It has no side effects beyond reading the clock for
// the report timestamp.
func (c *Checker) Analyze(rows []*domain.FeatureRow) *domain.DataQualityReport {
	report := &domain.DataQualityReport{
		ID:                 uuid.NewString(),
		Status:             domain.ReportOK,
		GeneratedAt:        c.clock.Now().UTC(),
		SampleCount:        len(rows),
		ClassBalance:       domain.ClassBalance{Counts: map[string]int{}},
		Features:           []domain.FeatureQuality{},
		LowQualityFeatures: []string{},
		Issues:             []string{},
		Recommendations:    []string{},
	}
	if len(rows) < c.cfg.MinSamples {
		report.Status = domain.ReportInsufficientData
		report.Issues = append(report.Issues,
			fmt.Sprintf("insufficient data: %d rows, need %d", len(rows), c.cfg.MinSamples))
		report.Recommendations = append(report.Recommendations,
			"Keep the collector running until enough snapshots accumulate")
		return report
	}

	names := features.Names()
	n := float64(len(rows))
	var missingTotal, outlierSum float64

	column := make([]float64, 0, len(rows))
	for j, name := range names {
		column = column[:0]
		missing := 0
		for _, r := range rows {
			if j >= len(r.Features) {
				missing++
				continue
			}
			v := r.Features[j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				missing++
				continue
			}
			column = append(column, v)
		}

		fq := c.featureQuality(name, column, float64(missing)/n*100)
		missingTotal += float64(missing)
		outlierSum += fq.OutlierPct
		if fq.LowQuality {
			report.LowQualityFeatures = append(report.LowQualityFeatures, name)
		}
		report.Features = append(report.Features, fq)
	}

	report.MissingPct = missingTotal / (n * float64(len(names))) * 100
	report.OutlierPct = outlierSum / float64(len(names))
	report.ClassBalance = c.classBalance(rows)

	sub := domain.QualitySubScores{
		Missing:        clamp100(100 - c.cfg.MissingPenalty*report.MissingPct),
		Outliers:       clamp100(100 - c.cfg.OutlierPenalty*report.OutlierPct),
		ClassBalance:   c.balanceScore(report.ClassBalance),
		FeatureQuality: clamp100(100 * (1 - float64(len(report.LowQualityFeatures))/float64(len(names)))),
	}
	report.SubScores = sub

	w := c.cfg.Weights
	score := (w.Missing*sub.Missing + w.Outliers*sub.Outliers +
		w.ClassBalance*sub.ClassBalance + w.FeatureQuality*sub.FeatureQuality) / w.Sum()
	report.OverallScore = round2(clamp100(score))

	c.describeIssues(report)
	return report
}

func (c *Checker) featureQuality(name string, values []float64, missingPct float64) domain.FeatureQuality {
	s := stats.Describe(values)
	fq := domain.FeatureQuality{
		Feature:    name,
		MissingPct: missingPct,
		OutlierPct: stats.OutlierRate(values, s.Mean, s.Std, c.cfg.OutlierZ) * 100,
		Mean:       s.Mean,
		Std:        s.Std,
		Min:        s.Min,
		Max:        s.Max,
		Median:     s.Median,
		Skewness:   s.Skewness,
		Kurtosis:   s.Kurtosis,
	}
	if fq.MissingPct > c.cfg.CriticalMissingPct {
		fq.Reasons = append(fq.Reasons, fmt.Sprintf("%.1f%% missing", fq.MissingPct))
	}
	if fq.OutlierPct > c.cfg.CriticalOutlierPct {
		fq.Reasons = append(fq.Reasons, fmt.Sprintf("%.1f%% outliers", fq.OutlierPct))
	}
	if len(values) > 0 && s.Std == 0 {
		fq.Reasons = append(fq.Reasons, "constant value")
	}
	fq.LowQuality = len(fq.Reasons) > 0
	return fq
}

func (c *Checker) classBalance(rows []*domain.FeatureRow) domain.ClassBalance {
	cb := domain.ClassBalance{Counts: map[string]int{}}
	for _, r := range rows {
		if r.Outcome == "" {
			continue
		}
		cb.Counts[r.Outcome]++
		cb.Labeled++
	}
	if len(cb.Counts) < 2 {
		return cb
	}
	lo, hi := math.MaxInt, 0
	for _, n := range cb.Counts {
		lo = min(lo, n)
		hi = max(hi, n)
	}
	cb.Ratio = float64(hi) / float64(lo)
	cb.Imbalanced = cb.Ratio > c.cfg.ImbalanceRatio
	return cb
}

func (c *Checker) balanceScore(cb domain.ClassBalance) float64 {
	if len(cb.Counts) < 2 {
		return c.cfg.UnknownBalance
	}
	return clamp100(100 - c.cfg.ImbalancePenalty*(cb.Ratio-1))
}

func (c *Checker) describeIssues(r *domain.DataQualityReport) {
	if r.MissingPct > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%.1f%% of feature values are missing", r.MissingPct))
	}
	if r.OutlierPct > 0 {
		r.Issues = append(r.Issues, fmt.Sprintf("%.1f%% of feature values are outliers", r.OutlierPct))
	}

	low := make([]domain.FeatureQuality, 0, len(r.LowQualityFeatures))
	for _, fq := range r.Features {
		if fq.LowQuality {
			low = append(low, fq)
		}
	}
	sort.SliceStable(low, func(i, j int) bool { return low[i].MissingPct > low[j].MissingPct })
	for _, fq := range low {
		r.Issues = append(r.Issues, fmt.Sprintf("feature %s is low quality: %v", fq.Feature, fq.Reasons))
	}

	cb := r.ClassBalance
	switch {
	case len(cb.Counts) < 2:
		r.Issues = append(r.Issues, fmt.Sprintf("only %d outcome classes labeled", len(cb.Counts)))
		r.Recommendations = append(r.Recommendations, "Label more outcomes before training")
	case cb.Imbalanced:
		r.Issues = append(r.Issues, fmt.Sprintf("outcome classes are imbalanced (ratio %.1f)", cb.Ratio))
		r.Recommendations = append(r.Recommendations,
			"Reweight or resample the minority classes, or raise sampling of rare outcomes")
	}

	if r.MissingPct > c.cfg.CriticalMissingPct/3 {
		r.Recommendations = append(r.Recommendations,
			"Check provider coverage; enable the secondary market data source")
	}
	if r.OutlierPct > c.cfg.CriticalOutlierPct/2 {
		r.Recommendations = append(r.Recommendations,
			"Clip or log-transform heavy-tailed features before training")
	}
	if len(r.LowQualityFeatures) > 0 {
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("Review or drop %d low quality features", len(r.LowQualityFeatures)))
	}
	if len(r.Recommendations) == 0 {
		r.Recommendations = append(r.Recommendations, "Dataset is healthy")
	}
}

func clamp100(x float64) float64 {
	return math.Max(0, math.Min(100, x))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
