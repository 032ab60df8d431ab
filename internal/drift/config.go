package drift

import "time"

// Thresholds bucket a drift score into a significance.
type Thresholds struct {
	Low      float64 `koanf:"low"`
	Medium   float64 `koanf:"medium"`
	High     float64 `koanf:"high"`
	Critical float64 `koanf:"critical"`
}

// Config holds the drift policy.
type Config struct {
	BaselineSampleSize int           `koanf:"baseline_sample_size"`
	MinSamples         int           `koanf:"min_samples"`
	CurrentSampleLimit int           `koanf:"current_sample_limit"`
	DefaultPeriodDays  int           `koanf:"default_period_days"`
	HistorySize        int           `koanf:"history_size"` // per feature
	Interval           time.Duration `koanf:"interval"`

	// Score blend.
	MeanWeight float64 `koanf:"mean_weight"`
	StdWeight  float64 `koanf:"std_weight"`
	KLWeight   float64 `koanf:"kl_weight"`

	Thresholds Thresholds `koanf:"thresholds"`

	// Classification, in baseline std units and std ratios.
	SuddenShiftStd  float64 `koanf:"sudden_shift_std"`
	GradualShiftStd float64 `koanf:"gradual_shift_std"`
	StableStdLow    float64 `koanf:"stable_std_low"`
	StableStdHigh   float64 `koanf:"stable_std_high"`

	// Urgency.
	CriticalFeatures   int     `koanf:"critical_features"` // this many critical features make urgency critical
	HighFeatures       int     `koanf:"high_features"`
	DriftedFeatures    int     `koanf:"drifted_features"`
	CriticalOverall    float64 `koanf:"critical_overall"`
	HighOverall        float64 `koanf:"high_overall"`
	SystematicFraction float64 `koanf:"systematic_fraction"`
	SystematicShiftStd float64 `koanf:"systematic_shift_std"`
}

// DefaultConfig returns the production drift policy.
func DefaultConfig() Config {
	return Config{
		BaselineSampleSize: 5000,
		MinSamples:         100,
		CurrentSampleLimit: 10_000,
		DefaultPeriodDays:  7,
		HistorySize:        30,
		Interval:           6 * time.Hour,
		MeanWeight:         0.4,
		StdWeight:          0.3,
		KLWeight:           0.3,
		Thresholds:         Thresholds{Low: 0.1, Medium: 0.25, High: 0.4, Critical: 0.6},
		SuddenShiftStd:     2,
		GradualShiftStd:    0.5,
		StableStdLow:       0.67,
		StableStdHigh:      1.5,
		CriticalFeatures:   3,
		HighFeatures:       3,
		DriftedFeatures:    3,
		CriticalOverall:    0.6,
		HighOverall:        0.4,
		SystematicFraction: 0.5,
		SystematicShiftStd: 0.5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	for _, f := range []struct {
		v   *int
		def int
	}{
		{&c.BaselineSampleSize, d.BaselineSampleSize},
		{&c.MinSamples, d.MinSamples},
		{&c.CurrentSampleLimit, d.CurrentSampleLimit},
		{&c.DefaultPeriodDays, d.DefaultPeriodDays},
		{&c.HistorySize, d.HistorySize},
		{&c.CriticalFeatures, d.CriticalFeatures},
		{&c.HighFeatures, d.HighFeatures},
		{&c.DriftedFeatures, d.DriftedFeatures},
	} {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	for _, f := range []struct {
		v   *float64
		def float64
	}{
		{&c.SuddenShiftStd, d.SuddenShiftStd},
		{&c.GradualShiftStd, d.GradualShiftStd},
		{&c.StableStdLow, d.StableStdLow},
		{&c.StableStdHigh, d.StableStdHigh},
		{&c.CriticalOverall, d.CriticalOverall},
		{&c.HighOverall, d.HighOverall},
		{&c.SystematicFraction, d.SystematicFraction},
		{&c.SystematicShiftStd, d.SystematicShiftStd},
	} {
		if *f.v <= 0 {
			*f.v = f.def
		}
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MeanWeight+c.StdWeight+c.KLWeight == 0 {
		c.MeanWeight, c.StdWeight, c.KLWeight = d.MeanWeight, d.StdWeight, d.KLWeight
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = d.Thresholds
	}
	return c
}
