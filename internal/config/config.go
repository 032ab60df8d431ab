// Package config defines the harvester configuration and its loading.
//
// Every threshold of the sampler, collector, quality checker and drift
// monitor is policy and lives here, so it can change without a rebuild.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"token-harvester/internal/collector"
	"token-harvester/internal/discovery"
	"token-harvester/internal/drift"
	"token-harvester/internal/events"
	"token-harvester/internal/logging"
	"token-harvester/internal/provider"
	"token-harvester/internal/quality"
	"token-harvester/internal/sampler"
)

// Config is the full process configuration.
type Config struct {
	Log       logging.Config     `koanf:"log"`
	HTTP      HTTPConfig         `koanf:"http"`
	Storage   StorageConfig      `koanf:"storage"`
	Tracing   TracingConfig      `koanf:"tracing"`
	Kafka     events.KafkaConfig `koanf:"kafka"`
	Providers ProvidersConfig    `koanf:"providers"`
	Discovery discovery.Config   `koanf:"discovery"`
	Sampler   sampler.Config     `koanf:"sampler"`
	Collector collector.Config   `koanf:"collector"`
	Quality   quality.Config     `koanf:"quality"`
	Drift     drift.Config       `koanf:"drift"`
}

// HTTPConfig configures the status and metrics server.
type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects the stores. UseMemory skips both databases.
type StorageConfig struct {
	UseMemory     bool   `koanf:"use_memory"`
	PostgresDSN   string `koanf:"postgres_dsn"`
	ClickhouseDSN string `koanf:"clickhouse_dsn"`
	RunMigrations bool   `koanf:"run_migrations"`
}

// TracingConfig configures the OTLP exporter. An empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

// ProvidersConfig configures the upstream data sources.
type ProvidersConfig struct {
	DexScreener provider.HTTPConfig `koanf:"dexscreener"`
	GMGN        provider.HTTPConfig `koanf:"gmgn"`
	// DisableGMGN drops the secondary market source and smart-money enrichment.
	DisableGMGN bool `koanf:"disable_gmgn"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Log: logging.Config{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{RunMigrations: true},
		Tracing: TracingConfig{ServiceName: "token-harvester"},
		Kafka: events.KafkaConfig{
			Topic:    "harvester-events",
			ClientID: "token-harvester",
			Timeout:  10 * time.Second,
		},
		Providers: ProvidersConfig{
			DexScreener: provider.HTTPConfig{
				BaseURL:           provider.DexScreenerBaseURL,
				Timeout:           10 * time.Second,
				RequestsPerSecond: 5,
				Burst:             2,
			},
			GMGN: provider.HTTPConfig{
				BaseURL:           provider.GMGNBaseURL,
				Timeout:           10 * time.Second,
				RequestsPerSecond: 2,
				Burst:             1,
			},
		},
		Discovery: discovery.DefaultConfig(),
		Sampler:   sampler.DefaultConfig(),
		Collector: collector.DefaultConfig(),
		Quality:   quality.DefaultConfig(),
		Drift:     drift.DefaultConfig(),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		add("log.format: unknown format %q", c.Log.Format)
	}
	if c.HTTP.Addr == "" {
		add("http.addr must not be empty")
	}

	if !c.Storage.UseMemory {
		if c.Storage.PostgresDSN == "" {
			add("storage.postgres_dsn is required unless storage.use_memory is set")
		}
		if c.Storage.ClickhouseDSN == "" {
			add("storage.clickhouse_dsn is required unless storage.use_memory is set")
		}
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		add("kafka.topic is required when kafka.brokers is set")
	}

	for tier, tc := range c.Sampler.Tiers {
		if !tier.Valid() {
			add("sampler.tiers: unknown tier %q", tier)
			continue
		}
		if tc.IntervalSeconds <= 0 {
			add("sampler.tiers.%s.interval_seconds must be positive", tier)
		}
	}

	col := c.Collector
	if col.MaxTrackedTokens < 0 || col.BatchSize < 0 || col.MaxConcurrency < 0 || col.RateLimitRequests < 0 {
		add("collector: counts must not be negative")
	}
	if col.MaxInvalidFraction < 0 || col.MaxInvalidFraction > 1 {
		add("collector.max_invalid_fraction must be within [0,1], got %v", col.MaxInvalidFraction)
	}
	if col.FlushSize > 0 && col.MaxBufferSize > 0 && col.MaxBufferSize < col.FlushSize {
		add("collector.max_buffer_size (%d) must be at least flush_size (%d)", col.MaxBufferSize, col.FlushSize)
	}

	if w := c.Quality.Weights; w.Missing < 0 || w.Outliers < 0 || w.ClassBalance < 0 || w.FeatureQuality < 0 {
		add("quality.weights must not be negative")
	}
	if c.Quality.CriticalScore > c.Quality.WarningScore {
		add("quality.critical_score (%v) must not exceed warning_score (%v)",
			c.Quality.CriticalScore, c.Quality.WarningScore)
	}

	t := c.Drift.Thresholds
	if t != (drift.Thresholds{}) && !(t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical) {
		add("drift.thresholds must be strictly increasing: %+v", t)
	}
	if c.Drift.StableStdLow > 0 && c.Drift.StableStdHigh > 0 && c.Drift.StableStdLow >= c.Drift.StableStdHigh {
		add("drift.stable_std_low must be below stable_std_high")
	}

	if err := errs.ErrorOrNil(); err != nil {
		return errors.Join(ErrInvalid, err)
	}
	return nil
}

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("invalid configuration")
