// Package bus is the in-process publish/subscribe bus that feeds the stores.
//
// Handlers run on the publisher's goroutine. Several publishers may publish
// on the same topic at once, so a handler must be safe for concurrent use.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/xtxerr/tlmarchive/internal/logging"
)

var log = logging.Component("bus")

// Handler consumes one message.
type Handler func(topic string, msg any)

// Subscription identifies a registered handler.
type Subscription struct {
	id    uint64
	topic string
}

// Topic returns the subscribed topic.
func (s Subscription) Topic() string { return s.topic }

type entry struct {
	id      uint64
	handler Handler
}

// Bus routes messages by topic.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]entry
	nextID atomic.Uint64

	published   atomic.Int64
	undelivered atomic.Int64
	panics      atomic.Int64
}

// Stats holds bus counters.
type Stats struct {
	Published   int64
	Undelivered int64
	Panics      int64
	Handlers    int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]entry)}
}

// Subscribe registers h for topic.
func (b *Bus) Subscribe(topic string, h Handler) Subscription {
	sub := Subscription{id: b.nextID.Add(1), topic: topic}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Copy on write so Publish can iterate without holding the lock.
	cur := b.topics[topic]
	next := make([]entry, len(cur), len(cur)+1)
	copy(next, cur)
	b.topics[topic] = append(next, entry{id: sub.id, handler: h})
	return sub
}

// Unsubscribe removes a handler. Unknown subscriptions are ignored.
// A publish already in progress may still call the handler once.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.topics[sub.topic]
	next := make([]entry, 0, len(cur))
	for _, e := range cur {
		if e.id != sub.id {
			next = append(next, e)
		}
	}
	if len(next) == 0 {
		delete(b.topics, sub.topic)
		return
	}
	b.topics[sub.topic] = next
}

// Publish delivers msg to every handler of topic and returns how many
// handlers received it. A panicking handler is logged and skipped.
func (b *Bus) Publish(topic string, msg any) int {
	b.published.Add(1)

	b.mu.RLock()
	handlers := b.topics[topic]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.undelivered.Add(1)
		return 0
	}
	for _, e := range handlers {
		b.deliver(e.handler, topic, msg)
	}
	return len(handlers)
}

func (b *Bus) deliver(h Handler, topic string, msg any) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			log.Error("bus handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(topic, msg)
}

// Stats returns bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := 0
	for _, hs := range b.topics {
		n += len(hs)
	}
	b.mu.RUnlock()

	return Stats{
		Published:   b.published.Load(),
		Undelivered: b.undelivered.Load(),
		Panics:      b.panics.Load(),
		Handlers:    n,
	}
}
