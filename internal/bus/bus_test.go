package bus

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()

	var got []any
	b.Subscribe("evr", func(topic string, msg any) {
		if topic != "evr" {
			t.Errorf("handler got topic %q", topic)
		}
		got = append(got, msg)
	})

	if n := b.Publish("evr", 1); n != 1 {
		t.Errorf("Publish delivered to %d handlers, want 1", n)
	}
	if n := b.Publish("packet", 2); n != 0 {
		t.Errorf("Publish on empty topic delivered to %d handlers", n)
	}

	if len(got) != 1 || got[0] != 1 {
		t.Errorf("got %v", got)
	}

	s := b.Stats()
	if s.Published != 2 || s.Undelivered != 1 || s.Handlers != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()

	var a, c int
	subA := b.Subscribe("log", func(string, any) { a++ })
	b.Subscribe("log", func(string, any) { c++ })

	b.Publish("log", nil)
	b.Unsubscribe(subA)
	b.Publish("log", nil)

	if a != 1 || c != 2 {
		t.Errorf("a=%d c=%d, want 1 and 2", a, c)
	}

	// Unknown subscriptions are ignored.
	b.Unsubscribe(Subscription{id: 999, topic: "log"})
	b.Unsubscribe(subA)

	if s := b.Stats(); s.Handlers != 1 {
		t.Errorf("expected 1 handler, got %d", s.Handlers)
	}
}

func TestBus_PanicIsolated(t *testing.T) {
	b := New()

	var after int
	b.Subscribe("frame", func(string, any) { panic("boom") })
	b.Subscribe("frame", func(string, any) { after++ })

	b.Publish("frame", nil)

	if after != 1 {
		t.Error("handler after a panicking handler should still run")
	}
	if s := b.Stats(); s.Panics != 1 {
		t.Errorf("expected 1 panic, got %d", s.Panics)
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := New()

	var count atomic.Int64
	b.Subscribe("tlm", func(string, any) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				b.Publish("tlm", j)
			}
		}()
	}

	// Subscribing during publishing must not race.
	sub := b.Subscribe("tlm", func(string, any) {})
	b.Unsubscribe(sub)

	wg.Wait()

	if got := count.Load(); got != 8000 {
		t.Errorf("expected 8000 deliveries, got %d", got)
	}
}
