package domain

import "time"

// HistogramBins is the fixed bin count of a DistributionSnapshot histogram.
const HistogramBins = 10

// HistogramBin is one equal-width bin.
type HistogramBin struct {
	Start float64 `json:"start"`
	Count int     `json:"count"`
}

// DistributionSnapshot is a per-feature statistical fingerprint.
// Corresponds to feature_baselines / feature_distribution_history tables.
type DistributionSnapshot struct {
	Feature     string         `json:"feature"`
	Mean        float64        `json:"mean"`
	Std         float64        `json:"std"`
	Min         float64        `json:"min"`
	Max         float64        `json:"max"`
	P5          float64        `json:"p5"`
	P25         float64        `json:"p25"`
	P50         float64        `json:"p50"`
	P75         float64        `json:"p75"`
	P95         float64        `json:"p95"`
	BinWidth    float64        `json:"bin_width"`
	Histogram   []HistogramBin `json:"histogram"`
	SampleCount int            `json:"sample_count"`
	ComputedAt  time.Time      `json:"computed_at"`
}

// ReportStatus distinguishes a computed report from one lacking data.
type ReportStatus string

// Report statuses.
const (
	ReportOK               ReportStatus = "ok"
	ReportInsufficientData ReportStatus = "insufficient_data"
)

// DriftType classifies how a feature's distribution moved.
type DriftType string

// Drift types.
const (
	DriftNone     DriftType = "none"
	DriftSudden   DriftType = "sudden"
	DriftGradual  DriftType = "gradual"
	DriftSeasonal DriftType = "seasonal"
)

// Severity buckets drift significance and aggregate urgency.
type Severity string

// Severities, least to most severe.
const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: none=0 ... critical=4.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// FeatureDrift is the drift verdict for one feature.
type FeatureDrift struct {
	Feature       string    `json:"feature"`
	BaselineMean  float64   `json:"baseline_mean"`
	CurrentMean   float64   `json:"current_mean"`
	BaselineStd   float64   `json:"baseline_std"`
	CurrentStd    float64   `json:"current_std"`
	MeanShift     float64   `json:"mean_shift"`     // relative to baseline mean
	MeanShiftStd  float64   `json:"mean_shift_std"` // signed, in baseline std units
	StdChange     float64   `json:"std_change"`     // relative to baseline std
	StdRatio      float64   `json:"std_ratio"`
	KLDivergence  float64   `json:"kl_divergence"`
	PValue        float64   `json:"p_value"` // confidence hint only
	DriftScore    float64   `json:"drift_score"`
	Type          DriftType `json:"type"`
	Significance  Severity  `json:"significance"`
	IsDrifted     bool      `json:"is_drifted"`
	CurrentSample int       `json:"current_sample"`
}

// DriftReport is a derived, timestamped drift check result.
type DriftReport struct {
	ID                    string         `json:"id"`
	Status                ReportStatus   `json:"status"`
	GeneratedAt           time.Time      `json:"generated_at"`
	PeriodDays            int            `json:"period_days"`
	SampleCount           int            `json:"sample_count"`
	Features              []FeatureDrift `json:"features"`
	DriftedFeatures       []string       `json:"drifted_features"`
	OverallScore          float64        `json:"overall_score"`
	Urgency               Severity       `json:"urgency"`
	RetrainingRecommended bool           `json:"retraining_recommended"`
	SuggestedActions      []string       `json:"suggested_actions"`
}

// FeatureQuality holds per-feature quality metrics.
type FeatureQuality struct {
	Feature    string   `json:"feature"`
	MissingPct float64  `json:"missing_pct"`
	OutlierPct float64  `json:"outlier_pct"`
	Mean       float64  `json:"mean"`
	Std        float64  `json:"std"`
	Min        float64  `json:"min"`
	Max        float64  `json:"max"`
	Median     float64  `json:"median"`
	Skewness   float64  `json:"skewness"`
	Kurtosis   float64  `json:"kurtosis"` // excess
	LowQuality bool     `json:"low_quality"`
	Reasons    []string `json:"reasons,omitempty"`
}

// ClassBalance is the outcome label histogram of the sample.
type ClassBalance struct {
	Counts     map[string]int `json:"counts"`
	Labeled    int            `json:"labeled"`
	Ratio      float64        `json:"ratio"` // max/min over non-zero counts
	Imbalanced bool           `json:"imbalanced"`
}

// QualitySubScores are the four 0-100 components of the overall score.
type QualitySubScores struct {
	Missing        float64 `json:"missing"`
	Outliers       float64 `json:"outliers"`
	ClassBalance   float64 `json:"class_balance"`
	FeatureQuality float64 `json:"feature_quality"`
}

// DataQualityReport is a derived, timestamped dataset audit.
type DataQualityReport struct {
	ID                 string           `json:"id"`
	Status             ReportStatus     `json:"status"`
	GeneratedAt        time.Time        `json:"generated_at"`
	SampleCount        int              `json:"sample_count"`
	OverallScore       float64          `json:"overall_score"`
	SubScores          QualitySubScores `json:"sub_scores"`
	MissingPct         float64          `json:"missing_pct"`
	OutlierPct         float64          `json:"outlier_pct"`
	ClassBalance       ClassBalance     `json:"class_balance"`
	Features           []FeatureQuality `json:"features"`
	LowQualityFeatures []string         `json:"low_quality_features"`
	Issues             []string         `json:"issues"`
	Recommendations    []string         `json:"recommendations"`
}
