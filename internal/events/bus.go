// Package events fans out observable session changes to subscribers such
// as websocket clients.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an event
type Type string

const (
	TypeState  Type = "state"
	TypeVolume Type = "volume"
	TypeTurn   Type = "turn"
	TypeLeads  Type = "leads"
	TypeOffers Type = "offers"
)

// Event is one published change
type Event struct {
	Type Type      `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// DefaultSubscriberBuffer is the channel capacity for each subscriber
const DefaultSubscriberBuffer = 64

// Subscriber receives events on C until it is unsubscribed
type Subscriber struct {
	C <-chan Event

	ch      chan Event
	types   map[Type]struct{}
	dropped atomic.Uint64
}

// Dropped returns how many events were discarded because C was full
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscriber) wants(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus delivers events to every interested subscriber. Publish never blocks;
// a subscriber that falls behind loses events rather than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool
	now    func() time.Time
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscriber]struct{}),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber for the given types, or all types when
// none are given. The returned function unsubscribes and closes C.
func (b *Bus) Subscribe(buffer int, types ...Type) (*Subscriber, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscriber{C: ch, ch: ch, types: make(map[Type]struct{}, len(types))}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub, unsubscribe
}

// Publish delivers an event of type t with data to all matching subscribers
func (b *Bus) Publish(t Type, data any) {
	e := Event{Type: t, Data: data, Time: b.now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for sub := range b.subs {
		if !sub.wants(t) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
