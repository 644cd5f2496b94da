package nodegraph

import (
	"context"
	"sync"
	"time"
)

// EventKind is the kind of a graph notification.
type EventKind uint8

const (
	EventDestroyed EventKind = iota + 1
	EventChanged
	EventChildAdded
	EventChildChanged
	EventChildDestroyed
)

func (k EventKind) String() string {
	switch k {
	case EventDestroyed:
		return "destroyed"
	case EventChanged:
		return "changed"
	case EventChildAdded:
		return "child-added"
	case EventChildChanged:
		return "child-changed"
	case EventChildDestroyed:
		return "child-destroyed"
	}
	return "unknown"
}

// Event is one notification. Node is the node the event is raised on; for
// the child-* kinds Child is the child that caused it.
type Event struct {
	Kind  EventKind
	Node  ID
	Child ID
}

// Handler receives events on the dispatcher's goroutine.
type Handler func(Event)

// Default dispatcher settings.
const (
	DefaultEventBuffer   = 4096
	DefaultEventInterval = 50 * time.Millisecond
)

// Dispatcher moves events from mutating goroutines to a single consumer.
// Mutators push onto a bounded channel after releasing the store lock; the
// consumer drains it on a fixed tick and calls every subscribed handler, so
// observers only ever see events on one goroutine.
//
// Handlers must not mutate the store: a full queue blocks the publisher, and
// the publisher would be the consumer itself.
type Dispatcher struct {
	queue    chan Event
	interval time.Duration

	mu       sync.RWMutex
	handlers []Handler
}

// NewDispatcher creates a dispatcher with the given queue capacity and tick
// interval. Non-positive values select the defaults.
func NewDispatcher(buffer int, interval time.Duration) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	if interval <= 0 {
		interval = DefaultEventInterval
	}
	return &Dispatcher{
		queue:    make(chan Event, buffer),
		interval: interval,
	}
}

// Subscribe registers h for all future deliveries.
func (d *Dispatcher) Subscribe(h Handler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

func (d *Dispatcher) publish(events []Event) {
	for _, e := range events {
		d.queue <- e
	}
}

// Pending returns the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Drain delivers the events queued at the time of the call and returns how
// many were delivered. Run calls it on every tick; tests may call it directly
// when Run is not running.
func (d *Dispatcher) Drain() int {
	n := len(d.queue)
	if n == 0 {
		return 0
	}
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()
	for i := 0; i < n; i++ {
		e := <-d.queue
		for _, h := range handlers {
			h(e)
		}
	}
	return n
}

// Run drains the queue every interval until ctx is done, then performs a
// final drain and returns ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.Drain()
			return ctx.Err()
		case <-ticker.C:
			d.Drain()
		}
	}
}
