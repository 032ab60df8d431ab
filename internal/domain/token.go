package domain

import "time"

// EventType classifies an externally reported interesting event.
type EventType string

// Interesting event types.
const (
	EventPumpDetected    EventType = "pump_detected"
	EventDumpDetected    EventType = "dump_detected"
	EventSmartMoneyEntry EventType = "smart_money_entry"
	EventPriceSpike      EventType = "price_spike"
	EventVolumeSpike     EventType = "volume_spike"
)

// Valid reports whether e is a known event type.
func (e EventType) Valid() bool {
	switch e {
	case EventPumpDetected, EventDumpDetected, EventSmartMoneyEntry, EventPriceSpike, EventVolumeSpike:
		return true
	}
	return false
}

// InterestingEvent is a manual or detected signal that a token deserves attention.
type InterestingEvent struct {
	Type      EventType `json:"type"`
	Magnitude float64   `json:"magnitude"` // percent move for spike events, 0 otherwise
	Details   string    `json:"details,omitempty"`
}

// Signals are the value signals that shrink a token's resample interval.
type Signals struct {
	PriceChange1h    float64 `json:"price_change_1h"`
	VolumeSpike      bool    `json:"volume_spike"`
	SmartMoneyActive bool    `json:"smart_money_active"`
}

// TierFlags are the overrides consulted before the liquidity bucket.
type TierFlags struct {
	HasPrediction       bool
	HasInterestingEvent bool
	IsHighPotential     bool
}

// TrackedTokenState is the in-memory sampling state of one watched token.
// Owned by the collector; everything else sees copies.
type TrackedTokenState struct {
	Mint   string
	Symbol string
	Source string // discovery, manual, prediction

	Tier   SamplingTier
	Config SamplingConfig

	SnapshotCount          int
	CurrentIntervalSeconds int // dynamic interval, 0 means tier base interval

	HasPrediction       bool
	PredictedOutcome    string
	HasInterestingEvent bool
	IsHighPotential     bool

	LastEventType      EventType
	LastEventAt        time.Time
	LastEventMagnitude float64

	LiquidityUsd float64
	Signals      Signals

	AddedAt        time.Time
	ExpiresAt      time.Time
	LastSnapshotAt time.Time // zero until the first accepted snapshot
	IsActive       bool
}

// Flags returns the tier override flags of the state.
func (s *TrackedTokenState) Flags() TierFlags {
	return TierFlags{
		HasPrediction:       s.HasPrediction,
		HasInterestingEvent: s.HasInterestingEvent,
		IsHighPotential:     s.IsHighPotential,
	}
}

// Interval returns the effective resample interval.
func (s *TrackedTokenState) Interval() time.Duration {
	if s.CurrentIntervalSeconds > 0 {
		return time.Duration(s.CurrentIntervalSeconds) * time.Second
	}
	return time.Duration(s.Config.IntervalSeconds) * time.Second
}

// WatchEntry mirrors a tracked token in the persistent watch list.
// Corresponds to watch_list table in PostgreSQL.
type WatchEntry struct {
	Mint             string
	Symbol           string
	Source           string
	Tier             SamplingTier
	SnapshotCount    int
	HasPrediction    bool
	PredictedOutcome string
	IsHighPotential  bool
	LiquidityUsd     float64
	AddedAt          time.Time
	ExpiresAt        time.Time
	LastSnapshotAt   *time.Time // NULL until first snapshot
	IsActive         bool

	HasInterestingEvent bool
	LastEventType       EventType
	LastEventAt         *time.Time // NULL until the first event
	LastEventMagnitude  float64
}
