// Package collector owns the set of tracked tokens and turns the sampling
// policy into scheduled, rate limited, deduplicated and buffered snapshot
// collection.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"token-harvester/internal/clock"
	"token-harvester/internal/domain"
	"token-harvester/internal/events"
	"token-harvester/internal/observability"
	"token-harvester/internal/provider"
	"token-harvester/internal/sampler"
	"token-harvester/internal/schedule"
	"token-harvester/internal/storage"
)

var (
	// ErrNotTracked is returned for operations on a mint the collector does not watch.
	ErrNotTracked = errors.New("token not tracked")

	// ErrInvalidMint is returned when a mint is not a valid base58 address.
	ErrInvalidMint = errors.New("invalid mint address")
)

// Options contains the dependencies of a Collector.
type Options struct {
	Config  Config
	Sampler *sampler.Sampler // Default: sampler.New with default policy

	Primary    provider.MarketDataProvider // Required; real-time source, wins the merge
	Secondary  provider.MarketDataProvider // Optional; fills gaps
	SmartMoney provider.SmartMoneyProvider // Optional
	Sentiment  provider.SentimentProvider  // Optional

	Snapshots   storage.SnapshotStore    // Required
	TrainingRow storage.TrainingRowStore // Required
	WatchList   storage.WatchListStore   // Required

	Events  events.Publisher       // Optional
	Metrics *observability.Metrics // Optional
	Clock   clock.Clock            // Default: clock.Real
	Logger  *zap.Logger            // Default: no-op
}

// Collector is the snapshot collector. All tracked-token state and the
// snapshot buffer are owned by it and only reachable through its methods.
type Collector struct {
	cfg        Config
	sampler    *sampler.Sampler
	primary    provider.MarketDataProvider
	secondary  provider.MarketDataProvider
	smartMoney provider.SmartMoneyProvider
	sentiment  provider.SentimentProvider
	snapshots  storage.SnapshotStore
	rows       storage.TrainingRowStore
	watchList  storage.WatchListStore
	events     events.Publisher
	metrics    *observability.Metrics
	clock      clock.Clock
	logger     *zap.Logger

	mu       sync.Mutex
	tracked  map[string]*domain.TrackedTokenState
	previous map[string]*domain.TokenSnapshot // last accepted snapshot per mint
	inFlight map[string]struct{}

	buf     *buffer
	flushMu sync.Mutex
	limiter *slidingWindow

	collectJob *schedule.Periodic
	flushJob   *schedule.Periodic
	cleanupJob *schedule.Periodic
	started    atomic.Bool
	runCtx     context.Context // set by Start, guarded by mu

	statsMu sync.Mutex
	stats   liveness
}

// New creates a Collector.
func New(opts Options) (*Collector, error) {
	if opts.Primary == nil {
		return nil, errors.New("collector: primary provider is required")
	}
	if opts.Snapshots == nil || opts.TrainingRow == nil || opts.WatchList == nil {
		return nil, errors.New("collector: snapshot, training row and watch list stores are required")
	}

	cfg := opts.Config.withDefaults()
	smp := opts.Sampler
	if smp == nil {
		smp = sampler.New(sampler.DefaultConfig())
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("collector")

	c := &Collector{
		cfg:        cfg,
		sampler:    smp,
		primary:    opts.Primary,
		secondary:  opts.Secondary,
		smartMoney: opts.SmartMoney,
		sentiment:  opts.Sentiment,
		snapshots:  opts.Snapshots,
		rows:       opts.TrainingRow,
		watchList:  opts.WatchList,
		events:     opts.Events,
		metrics:    opts.Metrics,
		clock:      clk,
		logger:     logger,
		tracked:    make(map[string]*domain.TrackedTokenState),
		previous:   make(map[string]*domain.TokenSnapshot),
		inFlight:   make(map[string]struct{}),
		buf:        newBuffer(cfg.MaxBufferSize),
		limiter:    newSlidingWindow(cfg.RateLimitRequests, cfg.RateLimitWindow, clk),
		stats:      liveness{window: cfg.FailureWindow},
	}

	c.collectJob = schedule.New(schedule.Options{
		Name:     "collect",
		Interval: cfg.CollectionInterval,
		Timeout:  cfg.CycleTimeout,
		Clock:    clk,
		Logger:   logger,
	}, c.collectJobRun)
	c.flushJob = schedule.New(schedule.Options{
		Name:     "flush",
		Interval: cfg.FlushInterval,
		Clock:    clk,
		Logger:   logger,
	}, c.runFlush)
	c.cleanupJob = schedule.New(schedule.Options{
		Name:     "cleanup",
		Interval: cfg.CleanupInterval,
		Clock:    clk,
		Logger:   logger,
	}, func(ctx context.Context) error {
		_, err := c.Cleanup(ctx)
		return err
	})
	return c, nil
}

// Config returns the resolved collector policy.
func (c *Collector) Config() Config { return c.cfg }

// Start restores the watch list and launches the collection, flush and
// cleanup jobs. The jobs stop when ctx is cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return schedule.ErrAlreadyStarted
	}
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	if _, err := c.Restore(ctx); err != nil {
		c.logger.Warn("watch list restore failed, starting empty", zap.Error(err))
	}

	for _, job := range []*schedule.Periodic{c.collectJob, c.flushJob, c.cleanupJob} {
		if err := job.Start(ctx); err != nil {
			return fmt.Errorf("start %s job: %w", job.Name(), err)
		}
	}
	c.logger.Info("collector started",
		zap.Duration("interval", c.cfg.CollectionInterval),
		zap.Int("max_tracked", c.cfg.MaxTrackedTokens))
	return nil
}

// Stop stops the jobs, waits for in-flight runs and flushes the buffer.
// Returns an error if snapshots are still buffered afterwards.
func (c *Collector) Stop(ctx context.Context) error {
	// Later writes flush explicitly instead of triggering the stopped job.
	c.mu.Lock()
	c.runCtx = nil
	c.mu.Unlock()

	c.collectJob.Stop()
	c.cleanupJob.Stop()
	c.flushJob.Stop()

	res := c.Flush(ctx)
	c.logger.Info("collector stopped",
		zap.Int("flushed", res.SnapshotsWritten),
		zap.Int("requeued", res.Requeued))
	if n := c.buf.len(); n > 0 {
		return fmt.Errorf("collector stopped with %d unflushed snapshots", n)
	}
	return nil
}

func (c *Collector) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCtx
}

// Trigger starts a collection cycle now unless one is running.
func (c *Collector) Trigger(ctx context.Context) bool {
	return c.collectJob.Trigger(ctx)
}

// RunCycle runs one collection cycle synchronously under the same
// re-entrancy guard and timeout as the scheduled job. ran is false when a
// cycle was already in progress.
func (c *Collector) RunCycle(ctx context.Context) (ran bool, err error) {
	return c.collectJob.RunOnce(ctx)
}

func (c *Collector) collectJobRun(ctx context.Context) error {
	res := c.CollectAllSnapshots(ctx)
	if res.TimedOut {
		return fmt.Errorf("collection cycle abandoned after %s: %w", res.Duration, context.DeadlineExceeded)
	}
	return nil
}

// CleanupResult describes one maintenance run.
type CleanupResult struct {
	ExpiredInMemory  int
	ExpiredInStore   int64
	SnapshotsDeleted int64
	Outcomes         map[string]int
}

// Cleanup removes expired tokens from memory and the store, applies
// snapshot retention and refreshes the sampler's dataset balance. Each step
// runs even if an earlier one failed.
func (c *Collector) Cleanup(ctx context.Context) (CleanupResult, error) {
	now := c.clock.Now()
	var res CleanupResult
	var errs *multierror.Error

	c.mu.Lock()
	expired := c.expireLocked(now)
	tracked := len(c.tracked)
	c.mu.Unlock()
	res.ExpiredInMemory = len(expired)
	c.metrics.RecordExpired(len(expired))
	c.metrics.SetTracked(tracked)

	n, err := c.watchList.CleanupExpired(ctx, now)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("cleanup watch list: %w", err))
	}
	res.ExpiredInStore = n

	deleted, err := c.snapshots.DeleteSnapshotsOlderThan(ctx, now.Add(-c.cfg.SnapshotRetention))
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("apply snapshot retention: %w", err))
	}
	res.SnapshotsDeleted = deleted

	counts, err := c.rows.CountOutcomes(ctx)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("count outcomes: %w", err))
	} else {
		c.sampler.UpdateDatasetBalance(counts)
		res.Outcomes = counts
	}

	c.logger.Info("cleanup complete",
		zap.Int("expired", res.ExpiredInMemory),
		zap.Int64("expired_in_store", res.ExpiredInStore),
		zap.Int64("snapshots_deleted", res.SnapshotsDeleted))
	return res, errs.ErrorOrNil()
}

func (c *Collector) publish(typ events.Type, data any) {
	if c.events == nil {
		return
	}
	c.events.Publish(events.Event{Type: typ, Time: c.clock.Now(), Data: data})
}

// Stats is a liveness summary of the collector.
type Stats struct {
	Tracked    int `json:"tracked"`
	BufferSize int `json:"buffer_size"`

	CyclesRun      int64 `json:"cycles_run"`
	CyclesSkipped  int64 `json:"cycles_skipped"`
	CyclesTimedOut int64 `json:"cycles_timed_out"`

	LastCycleAt           time.Time   `json:"last_cycle_at"`
	LastSuccessfulCycleAt time.Time   `json:"last_successful_cycle_at"`
	SinceLastSuccess      float64     `json:"since_last_success_seconds"` // 0 before the first success
	RecentFailureRate     float64     `json:"recent_failure_rate"`
	LastCycle             CycleResult `json:"last_cycle"`

	TotalCollected int64 `json:"total_collected"`
	TotalSkipped   int64 `json:"total_skipped"`
	TotalErrors    int64 `json:"total_errors"`

	Flushes   int64       `json:"flushes"`
	LastFlush FlushResult `json:"last_flush"`
}

// liveness accumulates Stats between calls.
type liveness struct {
	window int
	recent []bool // true = failed, oldest first

	cyclesRun      int64
	cyclesTimedOut int64
	lastCycleAt    time.Time
	lastSuccessAt  time.Time
	lastCycle      CycleResult
	collected      int64
	skipped        int64
	errors         int64
	flushes        int64
	lastFlush      FlushResult
}

func (c *Collector) recordCycle(res CycleResult, failed bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s := &c.stats
	s.cyclesRun++
	if res.TimedOut {
		s.cyclesTimedOut++
	}
	s.lastCycleAt = res.StartedAt
	if !failed {
		s.lastSuccessAt = res.StartedAt.Add(res.Duration)
	}
	s.lastCycle = res
	s.recent = append(s.recent, failed)
	if len(s.recent) > s.window {
		s.recent = s.recent[len(s.recent)-s.window:]
	}
}

func (c *Collector) recordOutcome(st Status) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	switch st {
	case StatusCollected:
		c.stats.collected++
	case StatusError:
		c.stats.errors++
	default:
		c.stats.skipped++
	}
}

func (c *Collector) recordFlush(res FlushResult) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.flushes++
	c.stats.lastFlush = res
}

// Stats returns the current liveness summary.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	tracked := len(c.tracked)
	c.mu.Unlock()

	c.statsMu.Lock()
	s := c.stats
	failures := 0
	for _, f := range s.recent {
		if f {
			failures++
		}
	}
	out := Stats{
		Tracked:               tracked,
		BufferSize:            c.buf.len(),
		CyclesRun:             s.cyclesRun,
		CyclesSkipped:         c.collectJob.Stats().Skipped,
		CyclesTimedOut:        s.cyclesTimedOut,
		LastCycleAt:           s.lastCycleAt,
		LastSuccessfulCycleAt: s.lastSuccessAt,
		LastCycle:             s.lastCycle,
		TotalCollected:        s.collected,
		TotalSkipped:          s.skipped,
		TotalErrors:           s.errors,
		Flushes:               s.flushes,
		LastFlush:             s.lastFlush,
	}
	if len(s.recent) > 0 {
		out.RecentFailureRate = float64(failures) / float64(len(s.recent))
	}
	c.statsMu.Unlock()

	if !out.LastSuccessfulCycleAt.IsZero() {
		out.SinceLastSuccess = c.clock.Now().Sub(out.LastSuccessfulCycleAt).Seconds()
	}
	return out
}
