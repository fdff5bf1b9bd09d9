package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/compatscan/internal/model"
)

// subscriberBufferSize is the channel buffer for each Stream subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// EventKind identifies a lifecycle event.
type EventKind string

// Event kinds.
const (
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
	EventFailed   EventKind = "failed"
	EventRemoved  EventKind = "removed"
)

// Event is a job lifecycle event. Which fields are set depends on Kind:
// progress carries Progress, Step and ETAMS; done carries Result (with
// Result.Cancelled set for cancelled jobs); failed carries Error.
type Event struct {
	Kind     EventKind     `json:"kind"`
	JobID    string        `json:"jobId"`
	Progress int           `json:"progress,omitempty"`
	Step     string        `json:"step,omitempty"`
	ETAMS    int64         `json:"etaMs,omitempty"`
	Result   *model.Result `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// Handler receives events.
type Handler func(Event)

// EventBus fans lifecycle events out to in-process subscribers. It is safe
// for concurrent use.
//
// Publish calls are serialized, so every subscriber observes events in the
// same order they were published. Handlers run synchronously on the
// publishing goroutine in registration order and must not block or call
// Publish themselves. Delivery is at most once: an event published with no
// subscribers is gone.
type EventBus struct {
	mu     sync.Mutex
	subs   []*subscription
	nextID int

	emitMu sync.Mutex
	logger *slog.Logger
}

type subscription struct {
	id     int
	jobID  string
	fn     Handler
	active atomic.Bool
}

// NewEventBus creates an empty event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger}
}

// Subscribe registers fn for events of every job and returns a function
// that removes it.
func (b *EventBus) Subscribe(fn Handler) func() {
	return b.subscribe("", fn)
}

// SubscribeJob registers fn for events of one job and returns a function
// that removes it.
func (b *EventBus) SubscribeJob(jobID string, fn Handler) func() {
	return b.subscribe(jobID, fn)
}

func (b *EventBus) subscribe(jobID string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &subscription{id: b.nextID, jobID: jobID, fn: fn}
	s.active.Store(true)
	b.nextID++
	b.subs = append(b.subs, s)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, cur := range b.subs {
				if cur.id == s.id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers returns the number of registered handlers.
func (b *EventBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers ev to every matching subscriber. A panicking handler is
// logged and skipped; the remaining handlers still run.
func (b *EventBus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	subs := append([]*subscription(nil), b.subs...)
	b.mu.Unlock()

	eventsPublished.WithLabelValues(string(ev.Kind)).Inc()
	for _, s := range subs {
		if s.jobID != "" && s.jobID != ev.JobID {
			continue
		}
		if !s.active.Load() {
			continue
		}
		b.deliver(s, ev)
	}
}

func (b *EventBus) deliver(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"job_id", ev.JobID, "event", ev.Kind, "subscriber", s.id, "panic", fmt.Sprint(r))
		}
	}()
	s.fn(ev)
}

// Stream subscribes to one job's events through a buffered channel, for
// consumers that cannot run inside the publisher, such as SSE handlers.
// Events are dropped when the buffer is full. The channel is never closed;
// callers stop reading after calling the returned unsubscribe function.
func (b *EventBus) Stream(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBufferSize)
	unsub := b.SubscribeJob(jobID, func(ev Event) {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking the pipeline.
		}
	})
	return ch, unsub
}
