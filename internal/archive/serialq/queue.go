// Package serialq decouples message delivery from file writes.
//
// A Queue is a bounded buffer with a single worker goroutine. Publishers
// hand items to Offer, which blocks while the queue is full so that a slow
// disk slows the producers down instead of growing memory. The worker
// takes items in FIFO order and passes each to the handler, so the write
// order of one store equals its offer order.
//
// Lifecycle:
//
//	Stopped --Start--> Running --IdleDown--> Draining --> Stopped
//
// IdleDown refuses new offers, waits for in-flight offers to settle, lets
// the worker empty the queue and then joins it with a bounded timeout.
// Items offered while the queue drains are dropped with a warning.
package serialq

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/logging"
)

var log = logging.Component("serialq")

// State is the lifecycle state of a queue.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

// String returns a human-readable representation of the State.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Config configures a queue.
type Config struct {
	// Name labels log lines and stats, usually the store identifier.
	Name string

	// Capacity is the queue bound. Must be positive.
	Capacity int

	// OfferTimeout is how long a blocked Offer waits before checking
	// whether the queue started draining. Default: 100ms
	OfferTimeout time.Duration

	// JoinTimeout bounds how long IdleDown waits for the worker.
	// Default: 10s
	JoinTimeout time.Duration
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Name      string
	State     State
	Depth     int
	HighWater int64
	Capacity  int
	Offered   int64
	Processed int64
	Dropped   int64
	Panics    int64
}

// Queue is a bounded FIFO with one worker.
type Queue[T any] struct {
	cfg    Config
	handle func(T)
	items  chan T

	// mu serializes Start and IdleDown.
	mu    sync.Mutex
	state atomic.Int32

	// Offers hold gate for reading; IdleDown takes it for writing to wait
	// until every in-flight offer returned.
	gate     sync.RWMutex
	stopping atomic.Bool

	flush  chan struct{}
	exited chan struct{}

	highWater atomic.Int64
	offered   atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// New creates a stopped queue that passes items to handle.
func New[T any](cfg Config, handle func(T)) (*Queue[T], error) {
	if cfg.Capacity <= 0 {
		return nil, errors.NewInvalidConfig("capacity", fmt.Sprintf("must be positive, got %d", cfg.Capacity))
	}
	if handle == nil {
		return nil, errors.NewInvalidConfig("handle", "must not be nil")
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = 100 * time.Millisecond
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	return &Queue[T]{
		cfg:    cfg,
		handle: handle,
		items:  make(chan T, cfg.Capacity),
	}, nil
}

// State returns the current lifecycle state.
func (q *Queue[T]) State() State {
	return State(q.state.Load())
}

// Start launches the worker.
func (q *Queue[T]) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.State() != StateStopped {
		return errors.ErrAlreadyStarted
	}
	if q.exited != nil {
		select {
		case <-q.exited:
		default:
			return fmt.Errorf("%s: abandoned worker still draining: %w", q.cfg.Name, errors.ErrLifecycle)
		}
	}

	q.flush = make(chan struct{})
	q.exited = make(chan struct{})
	q.stopping.Store(false)
	q.state.Store(int32(StateRunning))

	go q.run(q.flush, q.exited)

	log.Debug("serialization worker started", "queue", q.cfg.Name, "capacity", q.cfg.Capacity)
	return nil
}

// Offer enqueues item, blocking while the queue is full. It returns
// ErrQueueDraining without enqueueing if the queue is draining or starts
// draining while the call waits, and ErrStoreStopped if the queue is not
// running.
func (q *Queue[T]) Offer(item T) error {
	if q.stopping.Load() {
		return q.drop()
	}

	q.gate.RLock()
	defer q.gate.RUnlock()

	if q.stopping.Load() {
		return q.drop()
	}
	if q.State() != StateRunning {
		return errors.ErrStoreStopped
	}

	select {
	case q.items <- item:
		q.accepted()
		return nil
	default:
	}

	timer := time.NewTimer(q.cfg.OfferTimeout)
	defer timer.Stop()

	for {
		select {
		case q.items <- item:
			q.accepted()
			return nil
		case <-timer.C:
			if q.stopping.Load() {
				return q.drop()
			}
			timer.Reset(q.cfg.OfferTimeout)
		}
	}
}

func (q *Queue[T]) accepted() {
	q.offered.Add(1)
	depth := int64(len(q.items))
	for {
		hw := q.highWater.Load()
		if depth <= hw || q.highWater.CompareAndSwap(hw, depth) {
			return
		}
	}
}

func (q *Queue[T]) drop() error {
	n := q.dropped.Add(1)
	log.Warn("queue draining, item dropped", "queue", q.cfg.Name, "dropped_total", n)
	return errors.ErrQueueDraining
}

// run is the worker loop. It exits only after a flush request, once the
// queue is empty.
func (q *Queue[T]) run(flush <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)

	for {
		select {
		case item := <-q.items:
			q.process(item)
			q.drainBacklog()
		case <-flush:
			q.drainBacklog()
			return
		}
	}
}

// drainBacklog processes every item currently in the queue.
func (q *Queue[T]) drainBacklog() {
	for {
		select {
		case item := <-q.items:
			q.process(item)
		default:
			return
		}
	}
}

func (q *Queue[T]) process(item T) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			log.Error("serialization handler panicked", "queue", q.cfg.Name, "panic", r)
		}
	}()
	q.handle(item)
	q.processed.Add(1)
}

// IdleDown drains the queue and stops the worker. Calling it on a queue
// that is not running does nothing. If the worker has not finished within
// JoinTimeout it is abandoned and an error is returned; it keeps draining
// in the background.
func (q *Queue[T]) IdleDown() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.State() != StateRunning {
		return nil
	}
	q.state.Store(int32(StateDraining))

	// Refuse new offers, then wait out the ones already blocked.
	q.stopping.Store(true)
	q.gate.Lock()
	q.gate.Unlock()

	depth := len(q.items)
	close(q.flush)

	timer := time.NewTimer(q.cfg.JoinTimeout)
	defer timer.Stop()

	select {
	case <-q.exited:
		q.state.Store(int32(StateStopped))
		log.Debug("serialization worker idled down", "queue", q.cfg.Name, "drained", depth)
		return nil
	case <-timer.C:
		q.state.Store(int32(StateStopped))
		log.Warn("serialization worker did not finish, abandoning",
			"queue", q.cfg.Name, "timeout", q.cfg.JoinTimeout, "remaining", len(q.items))
		return fmt.Errorf("%s: worker still running after %v: %w", q.cfg.Name, q.cfg.JoinTimeout, errors.ErrLifecycle)
	}
}

// Depth returns the number of queued items.
func (q *Queue[T]) Depth() int {
	return len(q.items)
}

// HighWater returns the largest depth observed.
func (q *Queue[T]) HighWater() int64 {
	return q.highWater.Load()
}

// Capacity returns the queue bound.
func (q *Queue[T]) Capacity() int {
	return q.cfg.Capacity
}

// UsageRatio returns depth divided by capacity.
func (q *Queue[T]) UsageRatio() float64 {
	return float64(q.Depth()) / float64(q.cfg.Capacity)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Name:      q.cfg.Name,
		State:     q.State(),
		Depth:     q.Depth(),
		HighWater: q.HighWater(),
		Capacity:  q.cfg.Capacity,
		Offered:   q.offered.Load(),
		Processed: q.processed.Load(),
		Dropped:   q.dropped.Load(),
		Panics:    q.panics.Load(),
	}
}
