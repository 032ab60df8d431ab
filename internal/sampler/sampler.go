// Package sampler decides which sampling tier a token belongs to and how
// urgently it should be re-sampled. Apart from the dataset balance counters
// it is pure.
package sampler

import (
	"math"
	"sort"
	"sync"
	"time"

	"token-harvester/internal/domain"
)

// Balance is the observed outcome distribution of the training set.
type Balance struct {
	Counts         map[string]int
	ImbalanceRatio float64 // max/min over non-zero counts, 0 when unknown
	Needed         []string
}

// Sampler implements the adaptive sampling policy.
type Sampler struct {
	cfg Config

	mu      sync.RWMutex
	balance Balance
	needed  map[string]struct{}
}

// New creates a Sampler. An empty Config takes the production policy.
func New(cfg Config) *Sampler {
	return &Sampler{
		cfg:     cfg.withDefaults(),
		balance: Balance{Counts: map[string]int{}},
		needed:  map[string]struct{}{},
	}
}

// Config returns the resolved policy.
func (s *Sampler) Config() Config { return s.cfg }

// TierConfig returns the sampling config of tier.
func (s *Sampler) TierConfig(tier domain.SamplingTier) domain.SamplingConfig {
	if tc, ok := s.cfg.Tiers[tier]; ok {
		return tc
	}
	return s.cfg.Tiers[domain.TierMinimal]
}

// DetermineTier resolves the tier of a token. Prediction and interesting-event
// overrides win over liquidity so tokens under model scrutiny are never starved.
func (s *Sampler) DetermineTier(liquidityUsd float64, flags domain.TierFlags) domain.SamplingTier {
	if flags.HasPrediction || flags.HasInterestingEvent {
		return domain.TierHigh
	}

	tier := domain.TierMinimal
	switch {
	case liquidityUsd >= s.cfg.HighLiquidityUsd:
		tier = domain.TierHigh
	case liquidityUsd >= s.cfg.MediumLiquidityUsd:
		tier = domain.TierMedium
	case liquidityUsd >= s.cfg.LowLiquidityUsd:
		tier = domain.TierLow
	}

	if flags.IsHighPotential && tier.Rank() < domain.TierMedium.Rank() {
		tier = domain.TierMedium
	}
	return tier
}

// CalculateDynamicInterval shrinks the tier base interval by the composed
// signal multipliers, floored at MinIntervalSeconds.
func (s *Sampler) CalculateDynamicInterval(state *domain.TrackedTokenState, signals domain.Signals) int {
	base := state.Config.IntervalSeconds
	if base <= 0 {
		base = s.TierConfig(state.Tier).IntervalSeconds
	}

	mult := 1.0
	move := math.Abs(signals.PriceChange1h)
	switch {
	case move > s.cfg.ExtremeMovePct:
		mult *= s.cfg.ExtremeMoveMultiplier
	case move > s.cfg.StrongMovePct:
		mult *= s.cfg.StrongMoveMultiplier
	}
	if signals.VolumeSpike {
		mult *= s.cfg.VolumeSpikeMultiplier
	}
	if signals.SmartMoneyActive {
		mult *= s.cfg.SmartMoneyMultiplier
	}

	interval := int(math.Round(float64(base) * mult))
	if interval < s.cfg.MinIntervalSeconds {
		interval = s.cfg.MinIntervalSeconds
	}
	return interval
}

// ShouldSampleImmediately reports whether ev warrants an out-of-cycle snapshot.
func (s *Sampler) ShouldSampleImmediately(state *domain.TrackedTokenState, ev domain.InterestingEvent, now time.Time) bool {
	if !state.LastSnapshotAt.IsZero() && now.Sub(state.LastSnapshotAt) < s.cfg.ImmediateCooldown {
		return false
	}

	switch ev.Type {
	case domain.EventPumpDetected, domain.EventDumpDetected, domain.EventSmartMoneyEntry:
		return true
	case domain.EventPriceSpike, domain.EventVolumeSpike:
		return math.Abs(ev.Magnitude) > s.cfg.MagnitudeThresholdPct
	default:
		return false
	}
}

// UpdateDatasetBalance replaces the observed outcome counts.
func (s *Sampler) UpdateDatasetBalance(counts map[string]int) {
	cp := make(map[string]int, len(counts))
	maxCount, minCount := 0, 0
	for outcome, n := range counts {
		cp[outcome] = n
		if n > maxCount {
			maxCount = n
		}
		if n > 0 && (minCount == 0 || n < minCount) {
			minCount = n
		}
	}

	ratio := 0.0
	if minCount > 0 {
		ratio = float64(maxCount) / float64(minCount)
	}

	needed := make(map[string]struct{})
	var neededList []string
	threshold := float64(maxCount) * s.cfg.NeededFraction
	for outcome, n := range cp {
		if maxCount > 0 && float64(n) < threshold {
			needed[outcome] = struct{}{}
			neededList = append(neededList, outcome)
		}
	}
	sort.Strings(neededList)

	s.mu.Lock()
	s.balance = Balance{Counts: cp, ImbalanceRatio: ratio, Needed: neededList}
	s.needed = needed
	s.mu.Unlock()
}

// BalanceStatus returns a copy of the current dataset balance.
func (s *Sampler) BalanceStatus() Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.balance.Counts))
	for k, v := range s.balance.Counts {
		counts[k] = v
	}
	return Balance{
		Counts:         counts,
		ImbalanceRatio: s.balance.ImbalanceRatio,
		Needed:         append([]string(nil), s.balance.Needed...),
	}
}

// BalancePriorityBoost returns BalanceBoost for an under-represented outcome, 1 otherwise.
func (s *Sampler) BalancePriorityBoost(outcome string) float64 {
	if outcome == "" {
		return 1
	}
	s.mu.RLock()
	_, ok := s.needed[outcome]
	s.mu.RUnlock()
	if ok {
		return s.cfg.BalanceBoost
	}
	return 1
}

// PriorityScore scores a token for scheduling at now.
func (s *Sampler) PriorityScore(state *domain.TrackedTokenState, now time.Time) float64 {
	score := state.Config.Priority
	if score == 0 {
		score = s.TierConfig(state.Tier).Priority
	}

	if state.HasPrediction {
		score += s.cfg.PredictionBonus
	}

	if state.HasInterestingEvent && !state.LastEventAt.IsZero() {
		age := now.Sub(state.LastEventAt)
		decay := 1 - float64(age)/float64(s.cfg.EventBonusDecay)
		if decay > 0 {
			score += s.cfg.EventBonus * math.Min(decay, 1)
		}
	}

	score += s.cfg.OverdueBonus * overdueFraction(state, now)

	if state.HasPrediction {
		score *= s.BalancePriorityBoost(state.PredictedOutcome)
	}
	return score
}

// overdueFraction is how far past its interval the token is, in intervals, capped at 1.
// A token never sampled is fully overdue.
func overdueFraction(state *domain.TrackedTokenState, now time.Time) float64 {
	if state.LastSnapshotAt.IsZero() {
		return 1
	}
	interval := state.Interval()
	if interval <= 0 {
		return 0
	}
	over := now.Sub(state.LastSnapshotAt) - interval
	if over <= 0 {
		return 0
	}
	return math.Min(1, float64(over)/float64(interval))
}

// PrioritizeTokens returns the batchSize highest-scoring tokens, best first.
// Ties break by tier rank then mint so ordering is deterministic.
func (s *Sampler) PrioritizeTokens(tokens []domain.TrackedTokenState, batchSize int, now time.Time) []domain.TrackedTokenState {
	type scored struct {
		state domain.TrackedTokenState
		score float64
	}
	list := make([]scored, len(tokens))
	for i := range tokens {
		list[i] = scored{state: tokens[i], score: s.PriorityScore(&tokens[i], now)}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		if ri, rj := list[i].state.Tier.Rank(), list[j].state.Tier.Rank(); ri != rj {
			return ri > rj
		}
		return list[i].state.Mint < list[j].state.Mint
	})

	if batchSize <= 0 || batchSize > len(list) {
		batchSize = len(list)
	}
	out := make([]domain.TrackedTokenState, batchSize)
	for i := 0; i < batchSize; i++ {
		out[i] = list[i].state
	}
	return out
}
