// Package schedule runs named jobs on a fixed cadence with a per-run
// timeout and a re-entrancy guard.
package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"token-harvester/internal/clock"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("schedule: job already started")

// Job is one run of a periodic task. It must honour ctx.
type Job func(ctx context.Context) error

// Options configures a Periodic job.
type Options struct {
	Name       string
	Interval   time.Duration // Required
	Timeout    time.Duration // Default: no per-run timeout
	RunOnStart bool          // Run once immediately after Start
	Clock      clock.Clock   // Default: clock.Real
	Logger     *zap.Logger   // Default: no-op

	// OnRun is called after every completed run with its outcome.
	OnRun func(result RunResult)
}

// RunResult describes one finished run.
type RunResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Err       error
	TimedOut  bool
}

// Stats are cumulative counters for a job.
type Stats struct {
	Runs        int64
	Skipped     int64
	Failed      int64
	TimedOut    int64
	LastRunAt   time.Time
	LastSuccess time.Time
	LastError   string
}

// Periodic runs a Job every Interval. A tick that fires while the previous
// run is still in progress is skipped, not queued.
type Periodic struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	onStart  bool
	clock    clock.Clock
	logger   *zap.Logger
	onRun    func(RunResult)
	job      Job

	running atomic.Bool
	started atomic.Bool

	mu     sync.Mutex
	stats  Stats
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Periodic job.
func New(opts Options, job Job) *Periodic {
	c := opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Periodic{
		name:     opts.Name,
		interval: interval,
		timeout:  opts.Timeout,
		onStart:  opts.RunOnStart,
		clock:    c,
		logger:   logger.With(zap.String("job", opts.Name)),
		onRun:    opts.OnRun,
		job:      job,
	}
}

// Name returns the job name.
func (p *Periodic) Name() string { return p.name }

// Start launches the ticker loop. The ticker is created before Start
// returns so a fake clock can be advanced right after.
func (p *Periodic) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	ticker := p.clock.NewTicker(p.interval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()

		if p.onStart {
			p.Trigger(loopCtx)
		}
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C():
				p.Trigger(loopCtx)
			}
		}
	}()

	p.logger.Info("job started", zap.Duration("interval", p.interval), zap.Duration("timeout", p.timeout))
	return nil
}

// Stop cancels the loop and waits for any in-flight run to return.
func (p *Periodic) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Trigger starts a run in the background unless one is already running.
// Reports whether a run was started.
func (p *Periodic) Trigger(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.markSkipped()
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.running.Store(false)
		p.execute(ctx)
	}()
	return true
}

// RunOnce runs the job synchronously under the same guard as Trigger.
// Returns ran=false when another run is in progress.
func (p *Periodic) RunOnce(ctx context.Context) (bool, error) {
	if !p.running.CompareAndSwap(false, true) {
		p.markSkipped()
		return false, nil
	}
	defer p.running.Store(false)
	res := p.execute(ctx)
	return true, res.Err
}

// Running reports whether a run is in progress.
func (p *Periodic) Running() bool { return p.running.Load() }

// Stats returns a copy of the job counters.
func (p *Periodic) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Periodic) markSkipped() {
	p.mu.Lock()
	p.stats.Skipped++
	p.mu.Unlock()
	p.logger.Debug("previous run still in progress, skipping tick")
}

func (p *Periodic) execute(ctx context.Context) RunResult {
	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	started := p.clock.Now()
	err := p.job(runCtx)
	res := RunResult{
		StartedAt: started,
		Duration:  p.clock.Now().Sub(started),
		Err:       err,
		TimedOut:  errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}

	p.mu.Lock()
	p.stats.Runs++
	p.stats.LastRunAt = started
	switch {
	case res.TimedOut:
		p.stats.TimedOut++
		p.stats.LastError = context.DeadlineExceeded.Error()
	case err != nil:
		p.stats.Failed++
		p.stats.LastError = err.Error()
	default:
		p.stats.LastSuccess = started
		p.stats.LastError = ""
	}
	p.mu.Unlock()

	switch {
	case res.TimedOut:
		p.logger.Warn("run exceeded timeout", zap.Duration("timeout", p.timeout))
	case err != nil && !errors.Is(err, context.Canceled):
		p.logger.Error("run failed", zap.Error(err))
	}

	if p.onRun != nil {
		p.onRun(res)
	}
	return res
}
