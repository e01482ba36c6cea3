package events

import (
	"sync"
	"time"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan Message
	all  []chan Message
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Message)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	b.subs[e] = append(b.subs[e], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs[e] = remove(b.subs[e], ch)
	}
	return ch, unsub
}

// SubscribeAll registers a listener for every event.
func (b *Bus) SubscribeAll(buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	b.all = append(b.all, ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, ch)
	}
	return ch, unsub
}

func remove(subs []chan Message, ch chan Message) []chan Message {
	for i, c := range subs {
		if c == ch {
			close(c)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish fan-outs the payload to subscribers without blocking. A nil bus
// drops everything.
func (b *Bus) Publish(e Event, cycleID string, payload any) {
	if b == nil {
		return
	}
	msg := Message{Type: e, Time: time.Now().UTC(), CycleID: cycleID, Data: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		send(ch, msg)
	}
	for _, ch := range b.all {
		send(ch, msg)
	}
}

func send(ch chan Message, msg Message) {
	select {
	case ch <- msg:
	default:
		// drop if subscriber is slow; keep broker non-blocking
	}
}
