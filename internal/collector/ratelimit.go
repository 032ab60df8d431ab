package collector

import (
	"context"
	"sync"
	"time"

	"token-harvester/internal/clock"
)

// slidingWindow allows at most limit requests in any window-long span.
type slidingWindow struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu   sync.Mutex
	hits []time.Time // oldest first
}

func newSlidingWindow(limit int, window time.Duration, c clock.Clock) *slidingWindow {
	return &slidingWindow{limit: limit, window: window, clock: c}
}

// Acquire records n requests, first sleeping out the rest of the window
// while they would exceed the limit. A batch larger than the limit is let
// through once the window is empty.
func (w *slidingWindow) Acquire(ctx context.Context, n int) (time.Duration, error) {
	var waited time.Duration
	for {
		w.mu.Lock()
		now := w.clock.Now()
		w.prune(now)
		if len(w.hits) == 0 || len(w.hits)+n <= w.limit {
			for i := 0; i < n; i++ {
				w.hits = append(w.hits, now)
			}
			w.mu.Unlock()
			return waited, nil
		}
		wait := w.hits[0].Add(w.window).Sub(now)
		w.mu.Unlock()

		if err := w.clock.Sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// InWindow returns the number of requests recorded in the current window.
func (w *slidingWindow) InWindow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.clock.Now())
	return len(w.hits)
}

func (w *slidingWindow) prune(now time.Time) {
	i := 0
	for i < len(w.hits) && now.Sub(w.hits[i]) >= w.window {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}
