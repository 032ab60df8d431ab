package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"token-harvester/internal/domain"
	"token-harvester/internal/events"
	"token-harvester/internal/features"
	"token-harvester/internal/observability"
	"token-harvester/internal/provider"
	"token-harvester/internal/storage"
)

// Status is the outcome of one per-token collection attempt.
type Status string

const (
	StatusCollected Status = "collected"
	StatusDeduped   Status = "deduped"   // last snapshot is too recent
	StatusInFlight  Status = "in_flight" // another fetch of the token is running
	StatusExhausted Status = "budget_exhausted"
	StatusNoData    Status = "no_data"
	StatusRejected  Status = "rejected" // failed the quality gate
	StatusError     Status = "error"
)

// Skip reasons reported to metrics.
const (
	reasonDeduped         = "deduped"
	reasonInFlight        = "in_flight"
	reasonExhausted       = "budget_exhausted"
	reasonNoData          = "no_data"
	reasonInvalidPrice    = "invalid_price"
	reasonLowLiquidity    = "low_liquidity"
	reasonInvalidFeatures = "invalid_features"
	reasonBufferOverflow  = "buffer_overflow"
)

// Outcome describes one CollectSnapshot call.
type Outcome struct {
	Mint     string                `json:"mint"`
	Status   Status                `json:"status"`
	Reason   string                `json:"reason,omitempty"`
	Snapshot *domain.TokenSnapshot `json:"-"`
}

// CycleResult summarizes one collection cycle.
type CycleResult struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Expired   int           `json:"expired"`
	Due       int           `json:"due"`
	Selected  int           `json:"selected"`
	Attempted int           `json:"attempted"`
	Collected int           `json:"collected"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Batches   int           `json:"batches"`
	RateWait  time.Duration `json:"rate_wait"`
	TimedOut  bool          `json:"timed_out"`
}

// Failed reports whether the cycle counts against liveness: it ran out of
// time, or every attempted fetch errored.
func (r CycleResult) Failed() bool {
	return r.TimedOut || (r.Attempted > 0 && r.Errors == r.Attempted)
}

// CollectAllSnapshots runs one collection cycle: expire stale tokens, pick
// the due ones in priority order and fetch them in rate limited batches.
// A cancelled or expired ctx abandons the remaining batches.
func (c *Collector) CollectAllSnapshots(ctx context.Context) CycleResult {
	ctx, span := observability.Tracer().Start(ctx, "collector.cycle")
	started := c.clock.Now()
	res := CycleResult{StartedAt: started}

	c.mu.Lock()
	expired := c.expireLocked(started)
	due := c.dueLocked(started)
	tracked := len(c.tracked)
	c.mu.Unlock()

	res.Expired = len(expired)
	res.Due = len(due)
	for _, mint := range expired {
		c.unmirror(ctx, mint)
	}
	c.metrics.RecordExpired(len(expired))
	c.metrics.SetTracked(tracked)

	selected := c.sampler.PrioritizeTokens(due, c.cfg.MaxTokensPerCycle, started)
	res.Selected = len(selected)

	var mu sync.Mutex
	sem := semaphore.NewWeighted(int64(c.cfg.MaxConcurrency))

batches:
	for start := 0; start < len(selected); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(selected) {
			end = len(selected)
		}
		batch := selected[start:end]

		waited, err := c.limiter.Acquire(ctx, len(batch))
		res.RateWait += waited
		if err != nil {
			break
		}
		if waited > 0 {
			c.logger.Debug("rate limit reached, waited", zap.Duration("wait", waited))
		}
		res.Batches++
		pre := c.prefetch(ctx, batch)

		var wg sync.WaitGroup
		for _, st := range batch {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				break batches
			}
			wg.Add(1)
			go func(mint string) {
				defer wg.Done()
				defer sem.Release(1)
				out, err := c.collect(ctx, mint, pre)

				mu.Lock()
				defer mu.Unlock()
				res.Attempted++
				switch {
				case err != nil && !errors.Is(err, ErrNotTracked):
					res.Errors++
				case out.Status == StatusCollected:
					res.Collected++
				default:
					res.Skipped++
				}
			}(st.Mint)
		}
		wg.Wait()
	}

	finished := c.clock.Now()
	res.Duration = finished.Sub(started)
	res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)

	c.mu.Lock()
	tracked = len(c.tracked)
	c.mu.Unlock()

	failed := res.Failed()
	status := "ok"
	switch {
	case res.TimedOut:
		status = "timeout"
	case failed:
		status = "failed"
	}
	c.recordCycle(res, failed)
	c.metrics.RecordCycle(status, res.Duration, finished)

	span.SetAttributes(
		attribute.Int("tokens.due", res.Due),
		attribute.Int("tokens.collected", res.Collected),
		attribute.Int("tokens.errors", res.Errors),
		attribute.Bool("cycle.timed_out", res.TimedOut),
	)
	var spanErr error
	if res.TimedOut {
		spanErr = context.DeadlineExceeded
	}
	observability.EndSpan(span, spanErr)

	c.logger.Info("collection cycle complete",
		zap.Int("due", res.Due),
		zap.Int("selected", res.Selected),
		zap.Int("collected", res.Collected),
		zap.Int("skipped", res.Skipped),
		zap.Int("errors", res.Errors),
		zap.Int("expired", res.Expired),
		zap.Duration("duration", res.Duration),
		zap.Bool("timed_out", res.TimedOut))

	c.publish(events.CollectionComplete, events.CollectionSummary{
		Attempted: res.Attempted,
		Collected: res.Collected,
		Skipped:   res.Skipped,
		Errors:    res.Errors,
		Tracked:   tracked,
		Duration:  res.Duration,
		TimedOut:  res.TimedOut,
	})
	return res
}

// dueLocked returns copies of the tokens whose interval has elapsed and
// whose snapshot budget is not used up.
func (c *Collector) dueLocked(now time.Time) []domain.TrackedTokenState {
	due := make([]domain.TrackedTokenState, 0, len(c.tracked))
	for mint, st := range c.tracked {
		if _, busy := c.inFlight[mint]; busy {
			continue
		}
		if st.SnapshotCount >= st.Config.MaxSnapshotsPerToken {
			continue
		}
		if !st.LastSnapshotAt.IsZero() && now.Sub(st.LastSnapshotAt) < st.Interval() {
			continue
		}
		due = append(due, *st)
	}
	return due
}

// CollectSnapshot fetches, extracts, gates and buffers one snapshot of mint.
// Skips are reported through the outcome; the error is set only when every
// provider failed.
func (c *Collector) CollectSnapshot(ctx context.Context, mint string) (Outcome, error) {
	return c.collect(ctx, mint, nil)
}

// primaryBatch is the primary provider's answer for a whole batch. A mint
// missing from data is unknown upstream; err fails every mint of the batch.
type primaryBatch struct {
	data map[string]*domain.RawPairData
	err  error
}

// prefetch asks the primary provider for every mint of the batch at once.
func (c *Collector) prefetch(ctx context.Context, batch []domain.TrackedTokenState) *primaryBatch {
	mints := make([]string, len(batch))
	for i, st := range batch {
		mints[i] = st.Mint
	}
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	data, err := c.primary.GetMultiple(fetchCtx, mints)
	if err != nil {
		c.metrics.RecordProviderError(c.primary.Name())
		c.logger.Debug("primary batch fetch failed",
			zap.String("provider", c.primary.Name()),
			zap.Int("mints", len(mints)),
			zap.Error(err))
	}
	return &primaryBatch{data: data, err: err}
}

func (c *Collector) collect(ctx context.Context, mint string, pre *primaryBatch) (Outcome, error) {
	out := Outcome{Mint: mint}
	now := c.clock.Now()

	c.mu.Lock()
	st, ok := c.tracked[mint]
	if !ok {
		c.mu.Unlock()
		return out, ErrNotTracked
	}
	switch {
	case hasKey(c.inFlight, mint):
		c.mu.Unlock()
		return c.skip(out, StatusInFlight, reasonInFlight), nil
	case !st.LastSnapshotAt.IsZero() && now.Sub(st.LastSnapshotAt) < c.cfg.MinSnapshotInterval:
		c.mu.Unlock()
		return c.skip(out, StatusDeduped, reasonDeduped), nil
	case st.SnapshotCount >= st.Config.MaxSnapshotsPerToken:
		c.mu.Unlock()
		return c.skip(out, StatusExhausted, reasonExhausted), nil
	}
	c.inFlight[mint] = struct{}{}
	previous := c.previous[mint]
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, mint)
		c.mu.Unlock()
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	primary, secondary, err := c.fetch(fetchCtx, mint, pre)
	if primary.Empty() && secondary.Empty() {
		if err != nil {
			out.Status = StatusError
			out.Reason = err.Error()
			c.recordOutcome(StatusError)
			return out, err
		}
		return c.skip(out, StatusNoData, reasonNoData), nil
	}

	if previous == nil {
		previous = c.loadPrevious(ctx, mint)
	}
	smart, sentiment := c.enrich(fetchCtx, mint)

	merged := features.MergeDataSources(primary, secondary)
	recordedAt := c.clock.Now().Truncate(time.Millisecond)
	snap := features.BuildSnapshot(mint, merged, previous, smart, sentiment, recordedAt)

	if reason := c.gate(snap, merged); reason != "" {
		return c.skip(out, StatusRejected, reason), nil
	}

	size, dropped := c.buf.add(pending{snapshot: snap, row: features.TrainingRow(snap, merged)})
	c.metrics.SetBufferSize(size)
	if dropped {
		c.metrics.RecordSkip(reasonBufferOverflow)
		c.logger.Warn("snapshot buffer full, dropped oldest", zap.Int("size", size))
	}

	c.mu.Lock()
	st, ok = c.tracked[mint]
	var entry *domain.WatchEntry
	if ok {
		st.LastSnapshotAt = recordedAt
		st.SnapshotCount++
		if snap.LiquidityUsd > 0 {
			st.LiquidityUsd = snap.LiquidityUsd
		}
		if st.Symbol == "" {
			st.Symbol = snap.Symbol
		}
		st.Signals = features.SignalsFromFeatures(snap)
		c.retierLocked(st)
		st.CurrentIntervalSeconds = c.sampler.CalculateDynamicInterval(st, st.Signals)
		c.previous[mint] = snap
		entry = toEntry(st)
	}
	c.mu.Unlock()

	if entry != nil {
		c.markSnapshot(ctx, entry)
	}
	c.metrics.RecordSnapshot()
	c.recordOutcome(StatusCollected)
	if size >= c.cfg.FlushSize {
		c.requestFlush()
	}

	out.Status = StatusCollected
	out.Snapshot = snap
	return out, nil
}

// fetch queries both market data providers concurrently. err is non-nil
// only when every configured provider failed.
// fetch gets both providers' view of mint. The primary answer comes from pre
// when the batch was prefetched.
func (c *Collector) fetch(ctx context.Context, mint string, pre *primaryBatch) (primary, secondary *domain.RawPairData, err error) {
	var wg sync.WaitGroup
	var primErr, secondErr error
	secondaryConfigured := c.secondary != nil
	if pre != nil {
		primary, primErr = pre.data[mint], pre.err
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			primary, primErr = c.fetchOne(ctx, c.primary, mint)
		}()
	}
	if secondaryConfigured {
		wg.Add(1)
		go func() {
			defer wg.Done()
			secondary, secondErr = c.fetchOne(ctx, c.secondary, mint)
		}()
	}
	wg.Wait()

	switch {
	case primErr != nil && (!secondaryConfigured || secondErr != nil):
		return primary, secondary, errors.Join(primErr, secondErr)
	default:
		return primary, secondary, nil
	}
}

func (c *Collector) fetchOne(ctx context.Context, p provider.MarketDataProvider, mint string) (*domain.RawPairData, error) {
	raw, err := p.GetPairData(ctx, mint)
	if err != nil {
		c.metrics.RecordProviderError(p.Name())
		c.logger.Debug("provider fetch failed",
			zap.String("provider", p.Name()),
			zap.String("mint", mint),
			zap.Error(err))
		return nil, err
	}
	return raw, nil
}

// enrich fetches the optional smart-money and sentiment signals. Failures
// leave the signal nil.
func (c *Collector) enrich(ctx context.Context, mint string) (*domain.SmartMoneySignal, *domain.SentimentSignal) {
	var (
		wg        sync.WaitGroup
		smart     *domain.SmartMoneySignal
		sentiment *domain.SentimentSignal
	)
	if c.smartMoney != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.smartMoney.GetSmartMoney(ctx, mint)
			if err != nil {
				c.logger.Debug("smart money fetch failed", zap.String("mint", mint), zap.Error(err))
				return
			}
			smart = s
		}()
	}
	if c.sentiment != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.sentiment.GetSentiment(ctx, mint)
			if err != nil {
				c.logger.Debug("sentiment fetch failed", zap.String("mint", mint), zap.Error(err))
				return
			}
			sentiment = s
		}()
	}
	wg.Wait()
	return smart, sentiment
}

// loadPrevious falls back to the store for the previous snapshot, e.g.
// after a restart.
func (c *Collector) loadPrevious(ctx context.Context, mint string) *domain.TokenSnapshot {
	prev, err := c.snapshots.GetLatestSnapshot(ctx, mint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Debug("load previous snapshot failed", zap.String("mint", mint), zap.Error(err))
		}
		return nil
	}
	return prev
}

// gate returns the rejection reason of snap, or "" if it is acceptable.
func (c *Collector) gate(snap *domain.TokenSnapshot, merged *domain.RawPairData) string {
	switch {
	case snap.PriceUsd <= c.cfg.MinPriceUsd:
		return reasonInvalidPrice
	case snap.LiquidityUsd < c.cfg.MinLiquidityUsd:
		return reasonLowLiquidity
	}
	v := features.ValidateFeatures(features.GateMap(snap.Features, merged))
	if v.ProblemFraction() > c.cfg.MaxInvalidFraction {
		return reasonInvalidFeatures
	}
	return ""
}

func (c *Collector) skip(out Outcome, st Status, reason string) Outcome {
	out.Status = st
	out.Reason = reason
	c.metrics.RecordSkip(reason)
	c.recordOutcome(st)
	return out
}

// requestFlush starts a background flush while the collector is running.
// Outside Start and Stop, callers flush explicitly.
func (c *Collector) requestFlush() {
	ctx := c.runContext()
	if ctx == nil {
		return
	}
	c.flushJob.Trigger(ctx)
}

func hasKey[V any](m map[string]V, k string) bool {
	_, ok := m[k]
	return ok
}
