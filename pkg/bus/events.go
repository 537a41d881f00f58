package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventSessionOpened    EventType = "session_opened"
	EventSessionClosed    EventType = "session_closed"
	EventCommandQueued    EventType = "command_queued"
	EventCommandStarted   EventType = "command_started"
	EventCommandFinished  EventType = "command_finished"
	EventCommandAbandoned EventType = "command_abandoned"
	EventUnitDropped      EventType = "unit_dropped"
)

type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Session   string            `json:"session,omitempty"`
	Command   string            `json:"command,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Events fans lifecycle events out to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the event.
//
// Delivery and channel closing both happen under mu, so a subscriber channel
// is never closed while a publish is sending on it.
type Events struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool

	dropped atomic.Uint64
}

type subscriber struct {
	ch   chan Event
	stop func() bool
}

func NewEvents() *Events {
	return &Events{subs: make(map[*subscriber]struct{})}
}

// Publish delivers event to every current subscriber. It reports false when
// ctx is already done or the bus is closed.
func (e *Events) Publish(ctx context.Context, event Event) bool {
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	for sub := range e.subs {
		select {
		case sub.ch <- event:
		default:
			e.dropped.Add(1)
		}
	}
	return true
}

// Dropped reports how many deliveries were skipped because a subscriber was
// not keeping up.
func (e *Events) Dropped() uint64 {
	return e.dropped.Load()
}

// Subscribe registers a buffered subscriber. The channel is closed when ctx
// ends, when the returned func is called, or when the bus closes.
func (e *Events) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = DefaultCapacity
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	unsubscribe := func() { e.remove(sub) }
	// AfterFunc runs unsubscribe on its own goroutine, which waits for mu.
	sub.stop = context.AfterFunc(ctx, unsubscribe)
	e.subs[sub] = struct{}{}
	e.mu.Unlock()

	return sub.ch, unsubscribe
}

func (e *Events) remove(sub *subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[sub]; !ok {
		return
	}
	delete(e.subs, sub)
	close(sub.ch)
	sub.stop()
}

// Close closes every subscriber channel. Later publishes are refused.
func (e *Events) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for sub := range e.subs {
		delete(e.subs, sub)
		close(sub.ch)
		sub.stop()
	}
}
