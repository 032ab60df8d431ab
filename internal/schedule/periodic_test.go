package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-harvester/internal/clock"
)

func TestPeriodic_TickRunsJob(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	ran := make(chan struct{}, 4)

	p := New(Options{Name: "test", Interval: time.Minute, Clock: fc}, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	fc.Advance(time.Minute)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on tick")
	}
	require.Eventually(t, func() bool { return p.Stats().Runs == 1 }, time.Second, 5*time.Millisecond)
}

func TestPeriodic_StartTwice(t *testing.T) {
	p := New(Options{Interval: time.Hour, Clock: clock.NewFake(time.Unix(0, 0))}, func(context.Context) error { return nil })
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)
}

func TestPeriodic_SkipsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32

	p := New(Options{Interval: time.Hour}, func(ctx context.Context) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	})

	require.True(t, p.Trigger(context.Background()))
	<-entered

	assert.False(t, p.Trigger(context.Background()), "second trigger must be skipped")
	ran, err := p.RunOnce(context.Background())
	assert.False(t, ran)
	assert.NoError(t, err)

	close(release)
	p.Stop()

	stats := p.Stats()
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, int64(2), stats.Skipped)
}

func TestPeriodic_TimeoutRecorded(t *testing.T) {
	var got RunResult
	p := New(Options{Interval: time.Hour, Timeout: 10 * time.Millisecond, OnRun: func(r RunResult) { got = r }},
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

	ran, err := p.RunOnce(context.Background())
	require.True(t, ran)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, got.TimedOut)
	assert.Equal(t, int64(1), p.Stats().TimedOut)
}

func TestPeriodic_FailureCounted(t *testing.T) {
	p := New(Options{Interval: time.Hour}, func(context.Context) error { return errors.New("boom") })

	_, err := p.RunOnce(context.Background())
	require.Error(t, err)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, "boom", stats.LastError)
	assert.True(t, stats.LastSuccess.IsZero())
}

func TestPeriodic_StopCancelsRun(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	entered := make(chan struct{})
	p := New(Options{Interval: time.Second, Clock: fc, RunOnStart: true}, func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, p.Start(context.Background()))
	<-entered

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not drain the running job")
	}
	assert.False(t, p.Running())
}
