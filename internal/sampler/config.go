package sampler

import (
	"reflect"
	"time"

	"token-harvester/internal/domain"
)

// Config holds every threshold of the sampling policy.
type Config struct {
	Tiers map[domain.SamplingTier]domain.SamplingConfig `koanf:"tiers"`

	// Liquidity buckets (USD), checked after the override flags.
	HighLiquidityUsd   float64 `koanf:"high_liquidity_usd"`
	MediumLiquidityUsd float64 `koanf:"medium_liquidity_usd"`
	LowLiquidityUsd    float64 `koanf:"low_liquidity_usd"`

	// Dynamic interval multipliers. They compose.
	ExtremeMovePct        float64 `koanf:"extreme_move_pct"`
	ExtremeMoveMultiplier float64 `koanf:"extreme_move_multiplier"`
	StrongMovePct         float64 `koanf:"strong_move_pct"`
	StrongMoveMultiplier  float64 `koanf:"strong_move_multiplier"`
	VolumeSpikeMultiplier float64 `koanf:"volume_spike_multiplier"`
	SmartMoneyMultiplier  float64 `koanf:"smart_money_multiplier"`
	MinIntervalSeconds    int     `koanf:"min_interval_seconds"`

	// Immediate sampling.
	ImmediateCooldown     time.Duration `koanf:"immediate_cooldown"`
	MagnitudeThresholdPct float64       `koanf:"magnitude_threshold_pct"`

	// Priority scoring.
	PredictionBonus float64       `koanf:"prediction_bonus"`
	EventBonus      float64       `koanf:"event_bonus"`
	EventBonusDecay time.Duration `koanf:"event_bonus_decay"`
	OverdueBonus    float64       `koanf:"overdue_bonus"`

	// Dataset balance.
	NeededFraction float64 `koanf:"needed_fraction"`
	BalanceBoost   float64 `koanf:"balance_boost"`
}

// DefaultTiers is the built-in tier table.
func DefaultTiers() map[domain.SamplingTier]domain.SamplingConfig {
	return map[domain.SamplingTier]domain.SamplingConfig{
		domain.TierHigh:    {IntervalSeconds: 300, MaxSnapshotsPerToken: 500, Priority: 100},
		domain.TierMedium:  {IntervalSeconds: 900, MaxSnapshotsPerToken: 300, Priority: 75},
		domain.TierLow:     {IntervalSeconds: 1800, MaxSnapshotsPerToken: 150, Priority: 50},
		domain.TierMinimal: {IntervalSeconds: 3600, MaxSnapshotsPerToken: 50, Priority: 25},
	}
}

// DefaultConfig returns the production sampling policy.
func DefaultConfig() Config {
	return Config{
		Tiers:                 DefaultTiers(),
		HighLiquidityUsd:      100_000,
		MediumLiquidityUsd:    10_000,
		LowLiquidityUsd:       1_000,
		ExtremeMovePct:        50,
		ExtremeMoveMultiplier: 0.25,
		StrongMovePct:         20,
		StrongMoveMultiplier:  0.5,
		VolumeSpikeMultiplier: 0.5,
		SmartMoneyMultiplier:  0.5,
		MinIntervalSeconds:    60,
		ImmediateCooldown:     30 * time.Second,
		MagnitudeThresholdPct: 20,
		PredictionBonus:       50,
		EventBonus:            50,
		EventBonusDecay:       time.Hour,
		OverdueBonus:          30,
		NeededFraction:        0.25,
		BalanceBoost:          2.0,
	}
}

// withDefaults resolves c against DefaultConfig. A config with no scalar
// field set (at most a partial tier table) takes every default. Otherwise
// only fields where zero has no usable meaning are filled: bonuses, the
// magnitude cutoff, the needed fraction and the low liquidity floor keep an
// explicit 0.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	merged := DefaultTiers()
	for tier, tc := range c.Tiers {
		merged[tier] = tc
	}
	if c.unset() {
		d.Tiers = merged
		return d
	}
	c.Tiers = merged

	setF := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setF(&c.HighLiquidityUsd, d.HighLiquidityUsd)
	setF(&c.MediumLiquidityUsd, d.MediumLiquidityUsd)
	setF(&c.ExtremeMovePct, d.ExtremeMovePct)
	setF(&c.ExtremeMoveMultiplier, d.ExtremeMoveMultiplier)
	setF(&c.StrongMovePct, d.StrongMovePct)
	setF(&c.StrongMoveMultiplier, d.StrongMoveMultiplier)
	setF(&c.VolumeSpikeMultiplier, d.VolumeSpikeMultiplier)
	setF(&c.SmartMoneyMultiplier, d.SmartMoneyMultiplier)
	setF(&c.BalanceBoost, d.BalanceBoost)
	if c.MinIntervalSeconds == 0 {
		c.MinIntervalSeconds = d.MinIntervalSeconds
	}
	if c.ImmediateCooldown == 0 {
		c.ImmediateCooldown = d.ImmediateCooldown
	}
	if c.EventBonusDecay == 0 {
		c.EventBonusDecay = d.EventBonusDecay
	}
	return c
}

// unset reports whether every field other than Tiers is zero.
func (c Config) unset() bool {
	c.Tiers = nil
	return reflect.ValueOf(c).IsZero()
}
