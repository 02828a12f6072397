// Package store turns bus messages into the rows of load files.
//
// A store is built from a Base, which owns the lifecycle, the monitor
// writes and the optional serialization queue, and a Formatter, which
// knows one message type and the tables it is archived into. Records are
// validated and formatted on the publisher's goroutine. The formatted
// bytes are written to the monitor directly, or handed to the store's
// serialization queue when asynchronous serialization is enabled.
package store

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tlmarchive/internal/archive/monitor"
	"github.com/xtxerr/tlmarchive/internal/archive/record"
	"github.com/xtxerr/tlmarchive/internal/archive/schema"
	"github.com/xtxerr/tlmarchive/internal/archive/serialq"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/bus"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/logging"
)

// Archive is what a store needs from the archive controller.
type Archive interface {
	Monitor(id types.Identifier) *monitor.Monitor
	RowLimit() int64
	RequestGather()
	Session() *types.Session
}

// Subscriber is the bus surface a store uses.
type Subscriber interface {
	Subscribe(topic string, h bus.Handler) bus.Subscription
	Unsubscribe(sub bus.Subscription)
}

// Formatter formats one message type into rows.
type Formatter[T any] interface {
	// Topics returns the bus topics the store subscribes to.
	Topics() []string

	// Key identifies the record in log output.
	Key(msg T) string

	// Format validates msg and appends its rows to the context writers.
	// A returned error discards every row of the record.
	Format(ctx *Context, msg T) error
}

// Forgetter is implemented by formatters that write some rows only the
// first time they see a key. Forget is called when the rows of kind for
// key were not written, so a later record carries them again.
type Forgetter interface {
	Forget(key string, kind types.StreamKind)
}

// Finisher is implemented by formatters that hold rows back until the
// store stops.
type Finisher interface {
	Finish(ctx *Context) error
}

// Config configures one store.
type Config struct {
	ID types.Identifier

	// QueueSize is the serialization queue capacity. <= 0 writes
	// synchronously on the publisher's goroutine.
	QueueSize int

	OfferTimeout time.Duration
	JoinTimeout  time.Duration
}

// Stats holds store counters.
type Stats struct {
	Store        types.Identifier
	Started      bool
	Received     int64
	Written      int64
	Rejected     int64
	Truncated    int64
	Dropped      int64
	StreamErrors int64
}

// Store is the type-erased store surface used by the controller.
type Store interface {
	ID() types.Identifier
	Topics() []string
	Start() error
	Stop() error
	Started() bool
	Stats() Stats

	// QueueStats reports the serialization queue, ok=false for
	// synchronous stores.
	QueueStats() (stats serialq.Stats, ok bool)
}

// Base implements the store lifecycle for a Formatter.
type Base[T any] struct {
	cfg     Config
	fmt     Formatter[T]
	archive Archive
	bus     Subscriber
	mon     *monitor.Monitor
	tables  schema.Pair
	log     *slog.Logger

	started atomic.Bool

	mu    sync.Mutex // guards subs and lifecycle transitions
	subs  []bus.Subscription
	queue *serialq.Queue[pending]

	contexts sync.Pool

	received     atomic.Int64
	written      atomic.Int64
	rejected     atomic.Int64
	truncated    atomic.Int64
	dropped      atomic.Int64
	streamErrors atomic.Int64
}

// NewBase creates a store around f.
func NewBase[T any](cfg Config, f Formatter[T], archive Archive, sub Subscriber) (*Base[T], error) {
	if archive == nil {
		return nil, errors.NewInvalidConfig("store", "archive is required")
	}
	// A nil *bus.Bus in the interface means no bus.
	if bb, ok := sub.(*bus.Bus); ok && bb == nil {
		sub = nil
	}
	mon := archive.Monitor(cfg.ID)
	if mon == nil {
		return nil, errors.Wrapf(errors.ErrUnknownIdentifier, "no monitor for %s", cfg.ID)
	}

	b := &Base[T]{
		cfg:     cfg,
		fmt:     f,
		archive: archive,
		bus:     sub,
		mon:     mon,
		tables:  mon.Tables(),
		log:     logging.Store("store", cfg.ID.String()),
	}
	b.contexts.New = func() any { return b.newContext() }

	if cfg.QueueSize > 0 {
		q, err := serialq.New(serialq.Config{
			Name:         cfg.ID.String(),
			Capacity:     cfg.QueueSize,
			OfferTimeout: cfg.OfferTimeout,
			JoinTimeout:  cfg.JoinTimeout,
		}, b.write)
		if err != nil {
			return nil, err
		}
		b.queue = q
	}
	return b, nil
}

// ID returns the store identifier.
func (b *Base[T]) ID() types.Identifier { return b.cfg.ID }

// Topics returns the bus topics the store subscribes to.
func (b *Base[T]) Topics() []string { return b.fmt.Topics() }

// Started reports whether the store accepts records.
func (b *Base[T]) Started() bool { return b.started.Load() }

// Start activates the monitor, starts the serialization worker and
// subscribes to the bus. Starting a started store does nothing.
func (b *Base[T]) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started.Load() {
		return nil
	}

	if b.queue != nil {
		if err := b.queue.Start(); err != nil {
			return errors.Wrapf(err, "start %s", b.cfg.ID)
		}
	}

	b.mon.SetActive(true)
	b.started.Store(true)

	if b.bus != nil {
		for _, topic := range b.fmt.Topics() {
			b.subs = append(b.subs, b.bus.Subscribe(topic, b.handle))
		}
	}

	b.log.Info("store started", "async", b.queue != nil, "queue_size", b.cfg.QueueSize, "topics", b.fmt.Topics())
	return nil
}

// Stop drains the serialization queue, unsubscribes, emits rows held by a
// Finisher and deactivates the monitor. Stopping a stopped store does
// nothing.
func (b *Base[T]) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started.Load() {
		return nil
	}
	b.started.Store(false)

	var errs []error
	if b.queue != nil {
		if err := b.queue.IdleDown(); err != nil {
			b.log.Warn("serialization worker did not finish", "error", err)
			errs = append(errs, err)
		}
	}

	for _, sub := range b.subs {
		b.bus.Unsubscribe(sub)
	}
	b.subs = nil

	if fin, ok := b.fmt.(Finisher); ok {
		if err := b.finish(fin); err != nil {
			errs = append(errs, err)
		}
	}

	b.mon.SetActive(false)

	s := b.Stats()
	b.log.Info("store stopped", "received", s.Received, "written", s.Written, "rejected", s.Rejected, "dropped", s.Dropped)
	return errors.Join(errs...)
}

func (b *Base[T]) finish(fin Finisher) error {
	ctx := b.acquire("")
	defer b.release(ctx)

	if err := fin.Finish(ctx); err != nil {
		b.log.Error("finishing store failed", "error", err)
		return err
	}
	rec := ctx.record()
	if rec.Empty() {
		return nil
	}
	b.write(pending{rec: rec})
	return nil
}

func (b *Base[T]) handle(topic string, msg any) {
	v, ok := msg.(T)
	if !ok {
		b.rejected.Add(1)
		b.log.Warn("unexpected message type", "topic", topic, "type", fmt.Sprintf("%T", msg))
		return
	}
	// Errors are logged and counted inside Insert.
	_ = b.Insert(v)
}

// Insert validates and formats msg, then writes it directly or queues it.
func (b *Base[T]) Insert(msg T) error {
	if !b.started.Load() {
		b.dropped.Add(1)
		return errors.ErrStoreStopped
	}
	b.received.Add(1)

	key := b.fmt.Key(msg)
	ctx := b.acquire(key)
	defer b.release(ctx)

	if err := b.fmt.Format(ctx, msg); err != nil {
		b.rejected.Add(1)
		b.log.Warn("record discarded", "key", key, "error", err)
		return errors.NewDataError(b.cfg.ID.String(), key, err)
	}

	for _, w := range ctx.writers() {
		for _, col := range w.Truncated() {
			b.truncated.Add(1)
			b.log.Warn("value truncated to column width", "key", key, "table", w.Table().Name, "column", col)
		}
	}

	rec := ctx.record()
	if rec.Empty() {
		return nil
	}

	p := pending{key: key, rec: rec}
	if b.queue == nil {
		return b.writeErr(p)
	}
	if err := b.queue.Offer(p); err != nil {
		b.dropped.Add(1)
		b.forget(p, func(types.StreamKind) bool { return true })
		return err
	}
	return nil
}

// pending is a formatted record on its way to the monitor.
type pending struct {
	key string
	rec monitor.Record
}

// write is the serialization step shared by the direct path and the
// queue worker.
func (b *Base[T]) write(p pending) {
	_ = b.writeErr(p)
}

func (b *Base[T]) writeErr(p pending) error {
	n, err := b.mon.Write(p.rec)
	if err != nil {
		b.streamErrors.Add(1)
		b.forget(p, func(kind types.StreamKind) bool { return monitor.Lost(err, kind) })
		if errors.Is(err, errors.ErrStoreInactive) {
			b.log.Warn("record written to inactive store", "error", err)
		} else {
			b.log.Error("stream write failed", "error", err)
		}
	} else {
		b.written.Add(1)
	}

	if limit := b.archive.RowLimit(); limit > 0 && n >= limit {
		b.archive.RequestGather()
	}
	return err
}

// forget tells a Forgetter formatter about every stream of p with rows
// that lost reports.
func (b *Base[T]) forget(p pending, lost func(types.StreamKind) bool) {
	f, ok := b.fmt.(Forgetter)
	if !ok {
		return
	}
	if p.rec.ValueRows > 0 && lost(types.StreamValue) {
		f.Forget(p.key, types.StreamValue)
	}
	if p.rec.MetadataRows > 0 && lost(types.StreamMetadata) {
		f.Forget(p.key, types.StreamMetadata)
	}
}

func (b *Base[T]) acquire(key string) *Context {
	ctx := b.contexts.Get().(*Context)
	ctx.key = key
	return ctx
}

func (b *Base[T]) release(ctx *Context) {
	ctx.reset()
	b.contexts.Put(ctx)
}

func (b *Base[T]) newContext() *Context {
	ctx := &Context{
		Store:   b.cfg.ID,
		Session: b.archive.Session(),
		Value:   record.NewWriter(b.tables.Value),
		log:     b.log,
	}
	if b.tables.Metadata != nil {
		ctx.Metadata = record.NewWriter(b.tables.Metadata)
	}
	return ctx
}

// Stats returns store counters.
func (b *Base[T]) Stats() Stats {
	return Stats{
		Store:        b.cfg.ID,
		Started:      b.started.Load(),
		Received:     b.received.Load(),
		Written:      b.written.Load(),
		Rejected:     b.rejected.Load(),
		Truncated:    b.truncated.Load(),
		Dropped:      b.dropped.Load(),
		StreamErrors: b.streamErrors.Load(),
	}
}

// QueueStats implements Store.
func (b *Base[T]) QueueStats() (serialq.Stats, bool) {
	if b.queue == nil {
		return serialq.Stats{}, false
	}
	return b.queue.Stats(), true
}
