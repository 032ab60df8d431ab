package domain

// SamplingTier is a discrete sampling-frequency class assigned to a tracked token.
type SamplingTier string

// Sampling tiers, most urgent first.
const (
	TierHigh    SamplingTier = "high"
	TierMedium  SamplingTier = "medium"
	TierLow     SamplingTier = "low"
	TierMinimal SamplingTier = "minimal"
)

// Tiers lists every tier ordered from most to least urgent.
var Tiers = []SamplingTier{TierHigh, TierMedium, TierLow, TierMinimal}

// Rank orders tiers by urgency: high=3 ... minimal=0, unknown=-1.
func (t SamplingTier) Rank() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	case TierMinimal:
		return 0
	default:
		return -1
	}
}

// Valid reports whether t is a known tier.
func (t SamplingTier) Valid() bool {
	return t.Rank() >= 0
}

// SamplingConfig is the resolved sampling policy of a tier.
type SamplingConfig struct {
	IntervalSeconds      int     `koanf:"interval_seconds" json:"interval_seconds"`             // base resample interval
	MaxSnapshotsPerToken int     `koanf:"max_snapshots_per_token" json:"max_snapshots_per_token"` // lifetime budget per token
	Priority             float64 `koanf:"priority" json:"priority"`                             // base scheduling priority
}
