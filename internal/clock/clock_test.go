package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)
	tk := c.NewTicker(10 * time.Second)

	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case got := <-tk.C():
		assert.Equal(t, start.Add(10*time.Second), got)
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestFake_StoppedTickerDoesNotFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(time.Minute)

	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	assert.Equal(t, 0, c.TickerCount())
}

func TestFake_SleepAdvances(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewFake(start)

	require.NoError(t, c.Sleep(context.Background(), 30*time.Second))
	assert.Equal(t, start.Add(30*time.Second), c.Now())
	assert.Equal(t, []time.Duration{30 * time.Second}, c.Sleeps())
}

func TestFake_SleepCancelled(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, time.Unix(0, 0), c.Now())
}

func TestReal_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Real{}.Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
