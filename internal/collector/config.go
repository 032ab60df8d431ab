package collector

import "time"

// Config holds the collector's scheduling, gating and buffering policy.
type Config struct {
	// Watch list.
	MaxTrackedTokens     int           `koanf:"max_tracked_tokens"`
	DefaultWatchDuration time.Duration `koanf:"default_watch_duration"`
	PredictionExtension  time.Duration `koanf:"prediction_extension"`
	EventExtension       time.Duration `koanf:"event_extension"`
	MaxWatchDuration     time.Duration `koanf:"max_watch_duration"` // measured from AddedAt

	// Collection cycle.
	CollectionInterval  time.Duration `koanf:"collection_interval"`
	CycleTimeout        time.Duration `koanf:"cycle_timeout"`
	MaxTokensPerCycle   int           `koanf:"max_tokens_per_cycle"`
	BatchSize           int           `koanf:"batch_size"`
	MaxConcurrency      int           `koanf:"max_concurrency"`
	RateLimitRequests   int           `koanf:"rate_limit_requests"`
	RateLimitWindow     time.Duration `koanf:"rate_limit_window"`
	FetchTimeout        time.Duration `koanf:"fetch_timeout"`
	MinSnapshotInterval time.Duration `koanf:"min_snapshot_interval"`

	// Quality gate.
	MinPriceUsd        float64 `koanf:"min_price_usd"` // price must be strictly above
	MinLiquidityUsd    float64 `koanf:"min_liquidity_usd"`
	MaxInvalidFraction float64 `koanf:"max_invalid_fraction"`

	// Buffer.
	FlushSize     int           `koanf:"flush_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
	MaxBufferSize int           `koanf:"max_buffer_size"`

	// Maintenance.
	CleanupInterval   time.Duration `koanf:"cleanup_interval"`
	SnapshotRetention time.Duration `koanf:"snapshot_retention"`
	FailureWindow     int           `koanf:"failure_window"` // cycles in the liveness failure rate
}

// DefaultConfig returns the production collector policy.
func DefaultConfig() Config {
	return Config{
		MaxTrackedTokens:     5000,
		DefaultWatchDuration: 24 * time.Hour,
		PredictionExtension:  48 * time.Hour,
		EventExtension:       24 * time.Hour,
		MaxWatchDuration:     7 * 24 * time.Hour,

		CollectionInterval:  time.Minute,
		CycleTimeout:        4 * time.Minute,
		MaxTokensPerCycle:   200,
		BatchSize:           10,
		MaxConcurrency:      5,
		RateLimitRequests:   60,
		RateLimitWindow:     time.Minute,
		FetchTimeout:        15 * time.Second,
		MinSnapshotInterval: time.Minute,

		MinPriceUsd:        0,
		MinLiquidityUsd:    100,
		MaxInvalidFraction: 0.2,

		FlushSize:     100,
		FlushInterval: 30 * time.Second,
		MaxBufferSize: 1000,

		CleanupInterval:   10 * time.Minute,
		SnapshotRetention: 30 * 24 * time.Hour,
		FailureWindow:     20,
	}
}

// withDefaults fills zero fields from DefaultConfig. MinPriceUsd is left
// alone since zero is its default.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	setI := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setD := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setI(&c.MaxTrackedTokens, d.MaxTrackedTokens)
	setD(&c.DefaultWatchDuration, d.DefaultWatchDuration)
	setD(&c.PredictionExtension, d.PredictionExtension)
	setD(&c.EventExtension, d.EventExtension)
	setD(&c.MaxWatchDuration, d.MaxWatchDuration)
	setD(&c.CollectionInterval, d.CollectionInterval)
	setD(&c.CycleTimeout, d.CycleTimeout)
	setI(&c.MaxTokensPerCycle, d.MaxTokensPerCycle)
	setI(&c.BatchSize, d.BatchSize)
	setI(&c.MaxConcurrency, d.MaxConcurrency)
	setI(&c.RateLimitRequests, d.RateLimitRequests)
	setD(&c.RateLimitWindow, d.RateLimitWindow)
	setD(&c.FetchTimeout, d.FetchTimeout)
	setD(&c.MinSnapshotInterval, d.MinSnapshotInterval)
	if c.MinLiquidityUsd <= 0 {
		c.MinLiquidityUsd = d.MinLiquidityUsd
	}
	if c.MaxInvalidFraction <= 0 {
		c.MaxInvalidFraction = d.MaxInvalidFraction
	}
	setI(&c.FlushSize, d.FlushSize)
	setD(&c.FlushInterval, d.FlushInterval)
	setI(&c.MaxBufferSize, d.MaxBufferSize)
	setD(&c.CleanupInterval, d.CleanupInterval)
	setD(&c.SnapshotRetention, d.SnapshotRetention)
	setI(&c.FailureWindow, d.FailureWindow)
	if c.MaxBufferSize < c.FlushSize {
		c.MaxBufferSize = c.FlushSize
	}
	return c
}
