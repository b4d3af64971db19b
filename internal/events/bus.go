// Package events carries routing lifecycle notifications to optional
// observers. Components publish fire-and-forget; with zero subscribers every
// publish is a no-op, so the hot path never blocks on observability.
package events

import (
	"sync"
	"time"

	"github.com/samber/ro"
)

// Kind identifies an event type.
type Kind string

// Event kinds.
const (
	KindRequestRouted        Kind = "request.routed"
	KindOutcomeRecorded      Kind = "outcome.recorded"
	KindPipelineBlacklisted  Kind = "pipeline.blacklisted"
	KindPipelineRecovered    Kind = "pipeline.recovered"
	KindKeyCooldown          Kind = "key.cooldown"
	KindCircuitStateChanged  Kind = "circuit.state_changed"
	KindAssemblySwapped      Kind = "assembly.swapped"
	KindAssemblyLoadRejected Kind = "assembly.load_rejected"
)

// Event is one routing lifecycle notification.
type Event struct {
	Kind       Kind      `json:"kind"`
	Time       time.Time `json:"time"`
	Provider   string    `json:"provider,omitempty"`
	PipelineID string    `json:"pipelineId,omitempty"`
	Category   string    `json:"category,omitempty"`
	KeyID      string    `json:"keyId,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Until      time.Time `json:"until,omitzero"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber with
// a full buffer misses the event rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers e to every current subscriber. Safe on a nil bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// function unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Observe exposes a subscription as an Observable for pipeline-style
// consumers. The stream is hot: events published before an observer attaches
// may be dropped, so attach the observer before traffic starts. Cancel the
// subscription to complete the stream.
func (b *Bus) Observe(buffer int) (ro.Observable[Event], func()) {
	ch, cancel := b.Subscribe(buffer)
	return ro.FromChannel(ch), cancel
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
