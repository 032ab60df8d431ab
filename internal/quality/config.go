package quality

import "time"

// Weights blends the four sub-scores into the overall score. They sum to 1.
type Weights struct {
	Missing        float64 `koanf:"missing"`
	Outliers       float64 `koanf:"outliers"`
	ClassBalance   float64 `koanf:"class_balance"`
	FeatureQuality float64 `koanf:"feature_quality"`
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Missing + w.Outliers + w.ClassBalance + w.FeatureQuality
}

// Config holds the quality thresholds.
type Config struct {
	SampleLimit int           `koanf:"sample_limit"` // most recent rows analyzed
	MinSamples  int           `koanf:"min_samples"`
	Interval    time.Duration `koanf:"interval"` // periodic check cadence

	OutlierZ           float64 `koanf:"outlier_z"`
	CriticalMissingPct float64 `koanf:"critical_missing_pct"`
	CriticalOutlierPct float64 `koanf:"critical_outlier_pct"`
	ImbalanceRatio     float64 `koanf:"imbalance_ratio"`

	// Sub-score penalties per point of the measured rate.
	MissingPenalty   float64 `koanf:"missing_penalty"`
	OutlierPenalty   float64 `koanf:"outlier_penalty"`
	ImbalancePenalty float64 `koanf:"imbalance_penalty"`
	UnknownBalance   float64 `koanf:"unknown_balance"` // class balance score with < 2 labeled classes

	CriticalScore float64 `koanf:"critical_score"`
	WarningScore  float64 `koanf:"warning_score"`

	Weights Weights `koanf:"weights"`
}

// DefaultWeights are the production sub-score weights.
func DefaultWeights() Weights {
	return Weights{Missing: 0.25, Outliers: 0.20, ClassBalance: 0.25, FeatureQuality: 0.30}
}

// DefaultConfig returns the production quality policy.
func DefaultConfig() Config {
	return Config{
		SampleLimit:        10_000,
		MinSamples:         50,
		Interval:           time.Hour,
		OutlierZ:           3,
		CriticalMissingPct: 30,
		CriticalOutlierPct: 10,
		ImbalanceRatio:     5,
		MissingPenalty:     2,
		OutlierPenalty:     5,
		ImbalancePenalty:   10,
		UnknownBalance:     50,
		CriticalScore:      50,
		WarningScore:       70,
		Weights:            DefaultWeights(),
	}
}

// withDefaults resolves c against DefaultConfig. The zero Config takes every
// default. Otherwise only fields where zero has no usable meaning are filled:
// the critical cutoffs, penalties, score bands and UnknownBalance keep an
// explicit 0.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c == (Config{}) {
		return d
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = d.SampleLimit
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.OutlierZ <= 0 {
		c.OutlierZ = d.OutlierZ
	}
	if c.ImbalanceRatio <= 0 {
		c.ImbalanceRatio = d.ImbalanceRatio
	}
	if c.Weights.Sum() == 0 {
		c.Weights = d.Weights
	}
	return c
}
