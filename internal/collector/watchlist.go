package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"token-harvester/internal/domain"
	"token-harvester/internal/solana"
	"token-harvester/internal/storage"
)

// TokenRequest asks the collector to watch a token.
type TokenRequest struct {
	Mint             string
	Symbol           string
	Source           string // discovery, manual, prediction
	LiquidityUsd     float64
	IsHighPotential  bool
	HasPrediction    bool
	PredictedOutcome string
}

// AddResult reports what AddToken changed.
type AddResult struct {
	State   domain.TrackedTokenState
	Added   bool     // false when the token was already tracked
	Evicted []string // mints removed to stay under the cap, may include Mint itself
}

// AddToken starts tracking a token or merges req into its existing state.
func (c *Collector) AddToken(ctx context.Context, req TokenRequest) (AddResult, error) {
	if err := solana.ValidateAddress(req.Mint); err != nil {
		return AddResult{}, fmt.Errorf("%w: %v", ErrInvalidMint, err)
	}
	now := c.clock.Now()

	c.mu.Lock()
	st, exists := c.tracked[req.Mint]
	if exists {
		if st.Symbol == "" {
			st.Symbol = req.Symbol
		}
		if req.LiquidityUsd > 0 {
			st.LiquidityUsd = req.LiquidityUsd
		}
		st.IsHighPotential = st.IsHighPotential || req.IsHighPotential
		if req.HasPrediction {
			c.applyPredictionLocked(st, req.PredictedOutcome)
		}
		c.retierLocked(st)
	} else {
		st = &domain.TrackedTokenState{
			Mint:            req.Mint,
			Symbol:          req.Symbol,
			Source:          req.Source,
			IsHighPotential: req.IsHighPotential,
			LiquidityUsd:    req.LiquidityUsd,
			AddedAt:         now,
			ExpiresAt:       now.Add(c.cfg.DefaultWatchDuration),
			IsActive:        true,
		}
		if req.HasPrediction {
			c.applyPredictionLocked(st, req.PredictedOutcome)
		}
		st.Tier = c.sampler.DetermineTier(st.LiquidityUsd, st.Flags())
		st.Config = c.sampler.TierConfig(st.Tier)
		c.tracked[req.Mint] = st
	}
	evicted := c.evictLocked()
	res := AddResult{Added: !exists, Evicted: evicted}
	_, stillTracked := c.tracked[req.Mint]
	res.State = *st
	entry := toEntry(st)
	tracked := len(c.tracked)
	c.mu.Unlock()

	c.metrics.SetTracked(tracked)
	if len(evicted) > 0 {
		c.metrics.RecordEvicted(len(evicted))
		c.logger.Info("tracked token cap reached, evicted lowest priority",
			zap.Int("evicted", len(evicted)), zap.Int("cap", c.cfg.MaxTrackedTokens))
	}

	if stillTracked {
		c.mirror(ctx, entry)
	}
	for _, mint := range evicted {
		c.unmirror(ctx, mint)
	}

	if res.Added {
		c.logger.Debug("token added",
			zap.String("mint", req.Mint),
			zap.String("tier", string(res.State.Tier)),
			zap.String("source", req.Source))
	}
	return res, nil
}

// RemoveToken stops tracking mint.
func (c *Collector) RemoveToken(ctx context.Context, mint string) error {
	c.mu.Lock()
	_, ok := c.tracked[mint]
	if ok {
		c.dropLocked(mint)
	}
	tracked := len(c.tracked)
	c.mu.Unlock()

	c.unmirror(ctx, mint)
	if !ok {
		return ErrNotTracked
	}
	c.metrics.SetTracked(tracked)
	return nil
}

// MarkHasPrediction flags a token as under model scrutiny: it moves to the
// high tier and its expiry is pushed out by PredictionExtension.
func (c *Collector) MarkHasPrediction(ctx context.Context, mint, predictedOutcome string) (domain.TrackedTokenState, error) {
	c.mu.Lock()
	st, ok := c.tracked[mint]
	if !ok {
		c.mu.Unlock()
		return domain.TrackedTokenState{}, ErrNotTracked
	}
	c.applyPredictionLocked(st, predictedOutcome)
	c.retierLocked(st)
	out := *st
	entry := toEntry(st)
	c.mu.Unlock()

	c.mirror(ctx, entry)
	return out, nil
}

// MarkInterestingEvent flags a token after an external signal. The token
// moves to the high tier, its expiry is extended by EventExtension and, if
// the sampler allows it, a snapshot is taken right away. The returned
// outcome is nil when no immediate snapshot was attempted.
func (c *Collector) MarkInterestingEvent(ctx context.Context, mint string, ev domain.InterestingEvent) (*Outcome, error) {
	now := c.clock.Now()

	c.mu.Lock()
	st, ok := c.tracked[mint]
	if !ok {
		c.mu.Unlock()
		return nil, ErrNotTracked
	}
	immediate := c.sampler.ShouldSampleImmediately(st, ev, now)
	st.HasInterestingEvent = true
	st.LastEventType = ev.Type
	st.LastEventAt = now
	st.LastEventMagnitude = ev.Magnitude
	st.ExpiresAt = c.extendLocked(st, c.cfg.EventExtension)
	c.retierLocked(st)
	entry := toEntry(st)
	c.mu.Unlock()

	c.mirror(ctx, entry)
	c.logger.Info("interesting event",
		zap.String("mint", mint),
		zap.String("event", string(ev.Type)),
		zap.Float64("magnitude", ev.Magnitude),
		zap.Bool("immediate", immediate))

	if !immediate {
		return nil, nil
	}
	c.metrics.RecordImmediateSample()
	out, err := c.CollectSnapshot(ctx, mint)
	return &out, err
}

// Tracked returns a copy of the state of mint.
func (c *Collector) Tracked(mint string) (domain.TrackedTokenState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tracked[mint]
	if !ok {
		return domain.TrackedTokenState{}, false
	}
	return *st, true
}

// TrackedTokens returns copies of every tracked state ordered by mint.
func (c *Collector) TrackedTokens() []domain.TrackedTokenState {
	c.mu.Lock()
	out := make([]domain.TrackedTokenState, 0, len(c.tracked))
	for _, st := range c.tracked {
		out = append(out, *st)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// Restore reloads the watch list from storage. Expired entries are skipped
// and left for the cleanup job.
func (c *Collector) Restore(ctx context.Context) (int, error) {
	entries, err := c.watchList.ListWatchEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("list watch entries: %w", err)
	}
	now := c.clock.Now()

	c.mu.Lock()
	restored := 0
	for _, e := range entries {
		if !e.ExpiresAt.After(now) {
			continue
		}
		if _, ok := c.tracked[e.Mint]; ok {
			continue
		}
		st := fromEntry(e)
		if !st.Tier.Valid() {
			st.Tier = c.sampler.DetermineTier(st.LiquidityUsd, st.Flags())
		}
		st.Config = c.sampler.TierConfig(st.Tier)
		c.tracked[e.Mint] = st
		restored++
	}
	evicted := c.evictLocked()
	tracked := len(c.tracked)
	c.mu.Unlock()

	for _, mint := range evicted {
		c.unmirror(ctx, mint)
	}
	c.metrics.SetTracked(tracked)
	c.logger.Info("watch list restored",
		zap.Int("entries", len(entries)),
		zap.Int("restored", restored-len(evicted)))
	return restored - len(evicted), nil
}

// applyPredictionLocked marks st as predicted and extends its expiry.
func (c *Collector) applyPredictionLocked(st *domain.TrackedTokenState, outcome string) {
	st.HasPrediction = true
	if outcome != "" {
		st.PredictedOutcome = outcome
	}
	st.ExpiresAt = c.extendLocked(st, c.cfg.PredictionExtension)
}

// extendLocked returns st.ExpiresAt pushed out by d, bounded by the maximum
// watch duration.
func (c *Collector) extendLocked(st *domain.TrackedTokenState, d time.Duration) time.Time {
	limit := st.AddedAt.Add(c.cfg.MaxWatchDuration)
	next := st.ExpiresAt.Add(d)
	if next.After(limit) {
		next = limit
	}
	if next.Before(st.ExpiresAt) {
		return st.ExpiresAt
	}
	return next
}

// retierLocked re-resolves the tier of st. A token with an interesting
// event is never downgraded, and a token never moves into a tier whose
// snapshot budget it has already used up.
func (c *Collector) retierLocked(st *domain.TrackedTokenState) {
	next := c.sampler.DetermineTier(st.LiquidityUsd, st.Flags())
	if next == st.Tier {
		return
	}
	if st.HasInterestingEvent && next.Rank() < st.Tier.Rank() {
		return
	}
	cfg := c.sampler.TierConfig(next)
	if st.Tier.Valid() && st.SnapshotCount >= cfg.MaxSnapshotsPerToken {
		return
	}
	st.Tier = next
	st.Config = cfg
	st.CurrentIntervalSeconds = c.sampler.CalculateDynamicInterval(st, st.Signals)
}

// evictLocked removes exactly len-cap of the lowest priority tokens:
// lowest tier priority first, then oldest, then by mint.
func (c *Collector) evictLocked() []string {
	excess := len(c.tracked) - c.cfg.MaxTrackedTokens
	if excess <= 0 {
		return nil
	}
	all := make([]*domain.TrackedTokenState, 0, len(c.tracked))
	for _, st := range c.tracked {
		all = append(all, st)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Config.Priority != b.Config.Priority {
			return a.Config.Priority < b.Config.Priority
		}
		if !a.AddedAt.Equal(b.AddedAt) {
			return a.AddedAt.Before(b.AddedAt)
		}
		return a.Mint < b.Mint
	})
	evicted := make([]string, 0, excess)
	for _, st := range all[:excess] {
		c.dropLocked(st.Mint)
		evicted = append(evicted, st.Mint)
	}
	return evicted
}

// expireLocked removes every token whose expiry has passed.
func (c *Collector) expireLocked(now time.Time) []string {
	var expired []string
	for mint, st := range c.tracked {
		if !now.Before(st.ExpiresAt) {
			expired = append(expired, mint)
		}
	}
	sort.Strings(expired)
	for _, mint := range expired {
		c.dropLocked(mint)
	}
	return expired
}

func (c *Collector) dropLocked(mint string) {
	delete(c.tracked, mint)
	delete(c.previous, mint)
}

// mirror upserts entry into the persistent watch list. The in-memory map is
// authoritative, so store failures are only logged.
func (c *Collector) mirror(ctx context.Context, entry *domain.WatchEntry) {
	if err := c.watchList.UpsertWatchEntry(ctx, entry); err != nil {
		c.logger.Warn("watch list upsert failed", zap.String("mint", entry.Mint), zap.Error(err))
	}
}

func (c *Collector) unmirror(ctx context.Context, mint string) {
	if err := c.watchList.RemoveWatchEntry(ctx, mint); err != nil {
		c.logger.Warn("watch list remove failed", zap.String("mint", mint), zap.Error(err))
	}
}

// markSnapshot records a snapshot in the watch list, re-creating the entry
// if the store lost it.
func (c *Collector) markSnapshot(ctx context.Context, entry *domain.WatchEntry) {
	err := c.watchList.MarkSnapshot(ctx, entry.Mint, *entry.LastSnapshotAt, entry.SnapshotCount)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		c.mirror(ctx, entry)
	default:
		c.logger.Warn("watch list mark failed", zap.String("mint", entry.Mint), zap.Error(err))
	}
}

func toEntry(st *domain.TrackedTokenState) *domain.WatchEntry {
	e := &domain.WatchEntry{
		Mint:             st.Mint,
		Symbol:           st.Symbol,
		Source:           st.Source,
		Tier:             st.Tier,
		SnapshotCount:    st.SnapshotCount,
		HasPrediction:    st.HasPrediction,
		PredictedOutcome: st.PredictedOutcome,
		IsHighPotential:  st.IsHighPotential,
		LiquidityUsd:     st.LiquidityUsd,
		AddedAt:          st.AddedAt,
		ExpiresAt:        st.ExpiresAt,
		IsActive:         st.IsActive,

		HasInterestingEvent: st.HasInterestingEvent,
		LastEventType:       st.LastEventType,
		LastEventMagnitude:  st.LastEventMagnitude,
	}
	if !st.LastSnapshotAt.IsZero() {
		ts := st.LastSnapshotAt
		e.LastSnapshotAt = &ts
	}
	if !st.LastEventAt.IsZero() {
		ts := st.LastEventAt
		e.LastEventAt = &ts
	}
	return e
}

func fromEntry(e *domain.WatchEntry) *domain.TrackedTokenState {
	st := &domain.TrackedTokenState{
		Mint:             e.Mint,
		Symbol:           e.Symbol,
		Source:           e.Source,
		Tier:             e.Tier,
		SnapshotCount:    e.SnapshotCount,
		HasPrediction:    e.HasPrediction,
		PredictedOutcome: e.PredictedOutcome,
		IsHighPotential:  e.IsHighPotential,
		LiquidityUsd:     e.LiquidityUsd,
		AddedAt:          e.AddedAt,
		ExpiresAt:        e.ExpiresAt,
		IsActive:         true,

		HasInterestingEvent: e.HasInterestingEvent,
		LastEventType:       e.LastEventType,
		LastEventMagnitude:  e.LastEventMagnitude,
	}
	if e.LastSnapshotAt != nil {
		st.LastSnapshotAt = *e.LastSnapshotAt
	}
	if e.LastEventAt != nil {
		st.LastEventAt = *e.LastEventAt
	}
	return st
}
