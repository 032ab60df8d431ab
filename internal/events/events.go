// Package events fans out harvester notifications to in-process subscribers.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type identifies an event kind.
type Type string

const (
	CollectionComplete    Type = "collection_complete"
	QualityCritical       Type = "quality_critical"
	QualityWarning        Type = "quality_warning"
	ClassImbalance        Type = "class_imbalance"
	DriftCritical         Type = "drift_critical"
	DriftHigh             Type = "drift_high"
	RetrainingRecommended Type = "retraining_recommended"
)

// Event is a single notification. Data is JSON-encodable.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// CollectionSummary is the Data of a CollectionComplete event.
type CollectionSummary struct {
	Attempted int           `json:"attempted"`
	Collected int           `json:"collected"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Tracked   int           `json:"tracked"`
	Duration  time.Duration `json:"duration"`
	TimedOut  bool          `json:"timed_out"`
}

// Handler receives published events. It must not block for long.
type Handler func(Event)

// Publisher is implemented by Bus. Components depend on it so tests can
// capture events.
type Publisher interface {
	Publish(Event)
}

// Bus delivers each event synchronously to every subscriber in
// registration order.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers []subscription
	logger   *zap.Logger
}

type subscription struct {
	id int
	fn Handler
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger.Named("events")}
}

// Compile-time interface check.
var _ Publisher = (*Bus)(nil)

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, fn: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.handlers {
			if s.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to all current subscribers. A panicking handler is
// logged and does not stop delivery to the others.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]subscription, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, s := range handlers {
		b.deliver(s.fn, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", zap.String("type", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	h(ev)
}

// Recorder is a Publisher that keeps every event; useful in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish stores ev.
func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
