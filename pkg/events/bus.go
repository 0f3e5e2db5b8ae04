package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives every event published on a bus.
type Handler func(Event)

type subscriber struct {
	id      int64
	handler Handler
}

// Bus is a synchronous in-process pub/sub for workflow events.
//
// Dispatch is single-threaded: Publish invokes handlers inline, in
// registration order, before returning. A handler panic is recovered and
// logged but does not abort dispatch to later handlers. If no subscriber is
// attached, published events are discarded.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	subs   []subscriber
	logger *slog.Logger
}

// NewBus creates an empty bus. logger may be nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{logger: logger}
}

// Subscribe registers a handler and returns a function that removes it.
// Handlers are invoked in registration order.
func (b *Bus) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish dispatches ev to every subscriber in registration order.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}

	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		b.dispatch(s, ev)
	}
}

// dispatch invokes one handler, containing panics.
func (b *Bus) dispatch(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(ev.EventType()),
				"error", fmt.Sprint(r),
			)
		}
	}()
	s.handler(ev)
}

// HasSubscribers reports whether any handler is attached.
func (b *Bus) HasSubscribers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) > 0
}
