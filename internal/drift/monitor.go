// Package drift compares recent feature distributions against a stored
// baseline and decides whether the model needs retraining.
package drift

import (
	"context"
	"errors"
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
	"token-harvester/internal/storage"
)

// ErrInsufficientData is returned by ResetBaseline when too few rows exist.
var ErrInsufficientData = errors.New("drift: insufficient data")

// Options configures a Monitor.
type Options struct {
	Config    Config
	Rows      storage.TrainingRowStore // required
	Baselines storage.BaselineStore    // required
	Reports   storage.ReportStore
	Events    events.Publisher
	Metrics   *observability.Metrics
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Monitor owns the per-feature baselines and their rolling history.
type Monitor struct {
	cfg       Config
	rows      storage.TrainingRowStore
	baselines storage.BaselineStore
	reports   storage.ReportStore
	events    events.Publisher
	metrics   *observability.Metrics
	clock     clock.Clock
	logger    *zap.Logger
}

// New creates a Monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Rows == nil || opts.Baselines == nil {
		return nil, errors.New("drift: training row and baseline stores are required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:       opts.Config.withDefaults(),
		rows:      opts.Rows,
		baselines: opts.Baselines,
		reports:   opts.Reports,
		events:    opts.Events,
		metrics:   opts.Metrics,
		clock:     clk,
		logger:    logger.Named("drift"),
	}, nil
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// EnsureBaseline returns the stored baselines, computing and persisting them
// from the most recent rows when none exist. It returns an empty map while
// fewer than MinSamples rows are available.
func (m *Monitor) EnsureBaseline(ctx context.Context) (map[string]*domain.DistributionSnapshot, error) {
	stored, err := m.baselines.LoadBaselines(ctx)
	if err != nil {
		return nil, fmt.Errorf("load baselines: %w", err)
	}
	if len(stored) > 0 {
		return stored, nil
	}

	built, err := m.buildBaseline(ctx)
	if errors.Is(err, ErrInsufficientData) {
		m.logger.Info("not enough rows for a baseline yet", zap.Error(err))
		return map[string]*domain.DistributionSnapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	return built, nil
}

// ResetBaseline replaces the baselines with the current population, for use
// after the model is retrained on it.
func (m *Monitor) ResetBaseline(ctx context.Context) (map[string]*domain.DistributionSnapshot, error) {
	return m.buildBaseline(ctx)
}

func (m *Monitor) buildBaseline(ctx context.Context) (map[string]*domain.DistributionSnapshot, error) {
	rows, err := m.rows.LoadRecentFeatureRows(ctx, m.cfg.BaselineSampleSize, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("load baseline rows: %w", err)
	}
	if len(rows) < m.cfg.MinSamples {
		return nil, fmt.Errorf("%w: %d rows, need %d", ErrInsufficientData, len(rows), m.cfg.MinSamples)
	}

	now := m.clock.Now()
	out := make(map[string]*domain.DistributionSnapshot, domain.FeatureCount)
	for j, name := range features.Names() {
		snap := Describe(name, column(rows, j), now)
		if snap.SampleCount == 0 {
			continue
		}
		out[name] = snap
	}
	if err := m.baselines.SaveBaselines(ctx, out); err != nil {
		return nil, fmt.Errorf("save baselines: %w", err)
	}
	m.logger.Info("baseline computed", zap.Int("rows", len(rows)), zap.Int("features", len(out)))
	return out, nil
}

// CheckDrift compares the rows of the last periodDays days with the
// baseline. A non-positive periodDays uses the configured default.
func (m *Monitor) CheckDrift(ctx context.Context, periodDays int) (report *domain.DriftReport, err error) {
	ctx, span := observability.Tracer().Start(ctx, "drift.check")
	defer func() { observability.EndSpan(span, err) }()

	if periodDays <= 0 {
		periodDays = m.cfg.DefaultPeriodDays
	}
	now := m.clock.Now()
	report = &domain.DriftReport{
		ID:               uuid.NewString(),
		Status:           domain.ReportOK,
		GeneratedAt:      now.UTC(),
		PeriodDays:       periodDays,
		Features:         []domain.FeatureDrift{},
		DriftedFeatures:  []string{},
		Urgency:          domain.SeverityNone,
		SuggestedActions: []string{},
	}

	baselines, err := m.EnsureBaseline(ctx)
	if err != nil {
		return nil, err
	}
	if len(baselines) == 0 {
		m.insufficient(report, "no baseline yet")
		return report, m.save(ctx, report)
	}

	since := now.Add(-time.Duration(periodDays) * 24 * time.Hour)
	rows, err := m.rows.LoadRecentFeatureRows(ctx, m.cfg.CurrentSampleLimit, since)
	if err != nil {
		return nil, fmt.Errorf("load current rows: %w", err)
	}
	report.SampleCount = len(rows)
	if len(rows) < m.cfg.MinSamples {
		m.insufficient(report, fmt.Sprintf("%d rows in the last %d days, need %d",
			len(rows), periodDays, m.cfg.MinSamples))
		return report, m.save(ctx, report)
	}

	for j, name := range features.Names() {
		base, ok := baselines[name]
		if !ok {
			continue
		}
		values := column(rows, j)
		cur := DescribeOn(name, values, base, now)
		if cur.SampleCount == 0 {
			continue
		}
		report.Features = append(report.Features, compare(m.cfg, base, cur))

		// History keeps each snapshot binned over its own range.
		if err := m.baselines.AppendHistory(ctx, Describe(name, values, now), m.cfg.HistorySize); err != nil {
			m.logger.Warn("append distribution history failed", zap.String("feature", name), zap.Error(err))
		}
	}

	m.summarize(report)

	span.SetAttributes(
		attribute.Int("rows", report.SampleCount),
		attribute.Float64("score", report.OverallScore),
		attribute.String("urgency", string(report.Urgency)),
		attribute.Int("drifted", len(report.DriftedFeatures)),
	)
	m.metrics.RecordDrift(report.OverallScore, report.Urgency.Rank(), len(report.DriftedFeatures))
	m.notify(report)

	m.logger.Info("drift check complete",
		zap.String("id", report.ID),
		zap.Int("samples", report.SampleCount),
		zap.Float64("score", report.OverallScore),
		zap.String("urgency", string(report.Urgency)),
		zap.Strings("drifted", report.DriftedFeatures))

	return report, m.save(ctx, report)
}

// Run is CheckDrift over the default period, shaped as a periodic job body.
func (m *Monitor) Run(ctx context.Context) error {
	_, err := m.CheckDrift(ctx, 0)
	return err
}

// Latest returns the last persisted report, or storage.ErrNotFound.
func (m *Monitor) Latest(ctx context.Context) (*domain.DriftReport, error) {
	if m.reports == nil {
		return nil, storage.ErrNotFound
	}
	return m.reports.LatestDriftReport(ctx)
}

// History returns at most limit persisted reports, newest first.
func (m *Monitor) History(ctx context.Context, limit int) ([]*domain.DriftReport, error) {
	if m.reports == nil {
		return nil, nil
	}
	return m.reports.DriftReportHistory(ctx, limit)
}

// FeatureHistory returns the rolling distribution history of feature, oldest first.
func (m *Monitor) FeatureHistory(ctx context.Context, feature string) ([]*domain.DistributionSnapshot, error) {
	return m.baselines.LoadHistory(ctx, feature)
}

func (m *Monitor) save(ctx context.Context, r *domain.DriftReport) error {
	if m.reports == nil {
		return nil
	}
	if err := m.reports.SaveDriftReport(ctx, r); err != nil {
		return fmt.Errorf("save drift report: %w", err)
	}
	return nil
}

func (m *Monitor) insufficient(r *domain.DriftReport, why string) {
	r.Status = domain.ReportInsufficientData
	r.SuggestedActions = append(r.SuggestedActions, "Collect more data before checking drift: "+why)
	m.logger.Info("drift check skipped", zap.String("reason", why))
}

// summarize fills the aggregate fields of r from its per-feature verdicts.
func (m *Monitor) summarize(r *domain.DriftReport) {
	var critical, high int
	var sum float64
	for _, fd := range r.Features {
		sum += fd.DriftScore
		switch fd.Significance {
		case domain.SeverityCritical:
			critical++
		case domain.SeverityHigh:
			high++
		}
		if fd.IsDrifted {
			r.DriftedFeatures = append(r.DriftedFeatures, fd.Feature)
		}
	}
	if len(r.Features) > 0 {
		r.OverallScore = sum / float64(len(r.Features))
	}

	r.Urgency = m.urgency(critical, high, len(r.DriftedFeatures), r.OverallScore)
	r.RetrainingRecommended = r.Urgency == domain.SeverityHigh || r.Urgency == domain.SeverityCritical
	r.SuggestedActions = m.actions(r, critical)
}

func (m *Monitor) urgency(critical, high, drifted int, overall float64) domain.Severity {
	switch {
	case critical >= m.cfg.CriticalFeatures || overall > m.cfg.CriticalOverall:
		return domain.SeverityCritical
	case critical >= 1 || high >= m.cfg.HighFeatures || overall > m.cfg.HighOverall:
		return domain.SeverityHigh
	case high >= 1 || drifted >= m.cfg.DriftedFeatures:
		return domain.SeverityMedium
	case drifted > 0:
		return domain.SeverityLow
	default:
		return domain.SeverityNone
	}
}

func (m *Monitor) actions(r *domain.DriftReport, critical int) []string {
	var out []string
	switch r.Urgency {
	case domain.SeverityCritical:
		out = append(out, fmt.Sprintf("Retrain the model now: %d features drifted, %d critical",
			len(r.DriftedFeatures), critical))
	case domain.SeverityHigh:
		out = append(out, fmt.Sprintf("Schedule retraining: %d features drifted", len(r.DriftedFeatures)))
	case domain.SeverityMedium:
		out = append(out, "Watch the drifted features closely over the next checks")
	}

	drifted := make([]domain.FeatureDrift, 0, len(r.DriftedFeatures))
	for _, fd := range r.Features {
		if fd.IsDrifted {
			drifted = append(drifted, fd)
		}
	}
	sort.SliceStable(drifted, func(i, j int) bool { return drifted[i].DriftScore > drifted[j].DriftScore })
	for _, fd := range drifted {
		switch fd.Type {
		case domain.DriftSudden:
			out = append(out, fmt.Sprintf("Investigate sudden shift in %s (%+.1f std)", fd.Feature, fd.MeanShiftStd))
		case domain.DriftGradual:
			out = append(out, fmt.Sprintf("%s is drifting gradually (%+.1f std)", fd.Feature, fd.MeanShiftStd))
		case domain.DriftSeasonal:
			out = append(out, fmt.Sprintf("Variance of %s changed (ratio %.2f); consider time-aware features",
				fd.Feature, fd.StdRatio))
		}
	}

	if dir := m.systematicShift(r.Features); dir != 0 {
		word := "up"
		if dir < 0 {
			word = "down"
		}
		out = append(out, fmt.Sprintf(
			"Most features shifted %s together; check upstream data sources for a format or provider change", word))
	}

	if len(out) == 0 {
		out = append(out, "No action needed")
	}
	return out
}

// systematicShift returns +1 or -1 when at least SystematicFraction of the
// features moved more than SystematicShiftStd in the same direction, else 0.
func (m *Monitor) systematicShift(fds []domain.FeatureDrift) int {
	if len(fds) == 0 {
		return 0
	}
	var up, down int
	for _, fd := range fds {
		switch {
		case fd.MeanShiftStd > m.cfg.SystematicShiftStd:
			up++
		case fd.MeanShiftStd < -m.cfg.SystematicShiftStd:
			down++
		}
	}
	need := int(math.Ceil(m.cfg.SystematicFraction * float64(len(fds))))
	switch {
	case up >= need && up > down:
		return 1
	case down >= need && down > up:
		return -1
	default:
		return 0
	}
}

func (m *Monitor) notify(r *domain.DriftReport) {
	if m.events == nil {
		return
	}
	now := m.clock.Now()
	switch r.Urgency {
	case domain.SeverityCritical:
		m.events.Publish(events.Event{Type: events.DriftCritical, Time: now, Data: r})
	case domain.SeverityHigh:
		m.events.Publish(events.Event{Type: events.DriftHigh, Time: now, Data: r})
	}
	if r.RetrainingRecommended {
		m.events.Publish(events.Event{Type: events.RetrainingRecommended, Time: now, Data: r.SuggestedActions})
	}
}

// column extracts feature j from rows. Short rows contribute NaN.
func column(rows []*domain.FeatureRow, j int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		if j < len(r.Features) {
			out[i] = r.Features[j]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}
