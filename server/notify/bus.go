// Package notify carries rule mutation notices from the repository to
// anything holding derived state, such as the event cache.
package notify

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kind names the write that changed a rule.
type Kind string

const (
	KindCreated        Kind = "created"
	KindUpdated        Kind = "updated"
	KindDeleted        Kind = "deleted"
	KindRegenerated    Kind = "regenerated"
	KindExceptionAdded Kind = "exception_added"
)

// RuleMutation tells subscribers that a rule or its events changed.
type RuleMutation struct {
	RuleID string
	Kind   Kind
	At     time.Time
}

// Publisher is the sending side of a Bus.
type Publisher interface {
	Publish(m RuleMutation)
}

var droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "recurra_bus_dropped_total",
	Help: "Rule mutations dropped because a subscriber buffer was full",
})

// Bus fans rule mutations out to handlers and subscribers. Handlers run
// synchronously inside Publish, so state they invalidate is consistent by
// the time Publish returns. Channel subscribers are best effort: a
// subscriber whose buffer is full misses the message.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	handlers map[int]func(RuleMutation)
	nextID   int
	closed   bool
}

// Subscription receives mutations on C until it or the bus is closed.
type Subscription struct {
	C <-chan RuleMutation

	ch  chan RuleMutation
	bus *Bus
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:     make(map[*Subscription]struct{}),
		handlers: make(map[int]func(RuleMutation)),
	}
}

// Handle registers fn to run inside every Publish. fn must not call back
// into the bus. The returned func unregisters it.
func (b *Bus) Handle(fn func(RuleMutation)) (remove func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Subscribe registers a subscriber with the given channel buffer. On a
// closed bus the returned subscription's channel is already closed.
func (b *Bus) Subscribe(buffer int) *Subscription {
	ch := make(chan RuleMutation, max(buffer, 0))
	s := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish runs every handler with m, then offers m to each subscriber.
// Handlers may run concurrently when Publish is called concurrently.
func (b *Bus) Publish(m RuleMutation) {
	if m.At.IsZero() {
		m.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, fn := range b.handlers {
		fn(m)
	}
	for s := range b.subs {
		select {
		case s.ch <- m:
		default:
			droppedTotal.Inc()
		}
	}
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Close closes every subscription. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	clear(b.subs)
	clear(b.handlers)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
