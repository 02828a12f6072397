// Package gatherer hands filled load files to the inserters.
//
// The gatherer runs on one goroutine. It wakes every FlushInterval, or
// earlier when a store interrupts it after reaching the row limit, and
// harvests every store monitor that holds enough rows:
//
//	timer wake      harvest every non-empty stream
//	interrupt wake  harvest only streams with at least RowLimit rows
//	full flush      harvest everything, then exit
//
// An interrupt does not move the regular deadline, so small streams are
// still swept on schedule during an interrupt storm.
//
// Each harvested stream is closed, optionally exported, and queued on the
// owning store's inserter. The loop ends only through the full flush
// requested by Flush, or when its context ends, which also harvests
// everything first.
package gatherer

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/xtxerr/tlmarchive/internal/archive/monitor"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/logging"
)

var log = logging.Component("gatherer")

// Sink receives insert items. Implemented by the store's inserter.
type Sink interface {
	Enqueue(item types.InsertItem) error
}

// Exporter copies a closed load file before it is queued.
type Exporter interface {
	Export(item types.InsertItem) error
}

// Target is one store the gatherer sweeps.
type Target struct {
	Monitor *monitor.Monitor
	Sink    Sink

	// SetClause is attached to value stream items.
	SetClause string

	// Export marks the store's files for the exporter.
	Export bool
}

// Source lists the stores to sweep. It is consulted on every wake so
// stores started later are picked up.
type Source interface {
	GatherTargets() []Target
}

// Trigger is the reason for a wake.
type Trigger int

const (
	TriggerTimer Trigger = iota
	TriggerInterrupt
	TriggerFlush
)

// String returns a human-readable representation of the Trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerTimer:
		return "timer"
	case TriggerInterrupt:
		return "interrupt"
	case TriggerFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// Config configures the gatherer.
type Config struct {
	// FlushInterval is the regular wake interval. Default: 5s
	FlushInterval time.Duration

	// RowLimit is the minimum stream size harvested on an interrupt wake.
	// Default: 5000
	RowLimit int64
}

// Stats holds gatherer counters.
type Stats struct {
	TimerWakes     int64
	InterruptWakes int64
	Files          int64
	Rows           int64
	CloseErrors    int64
	EnqueueErrors  int64
	ExportErrors   int64
}

// Gatherer sweeps store monitors and queues closed files.
type Gatherer struct {
	cfg      Config
	src      Source
	exporter Exporter

	interrupt chan struct{}
	flushing  atomic.Bool
	running   atomic.Bool
	done      chan struct{}

	timerWakes     atomic.Int64
	interruptWakes atomic.Int64
	files          atomic.Int64
	rows           atomic.Int64
	closeErrors    atomic.Int64
	enqueueErrors  atomic.Int64
	exportErrors   atomic.Int64
}

// New creates a gatherer over src. exporter may be nil.
func New(cfg Config, src Source, exporter Exporter) (*Gatherer, error) {
	if src == nil {
		return nil, errors.NewInvalidConfig("source", "must not be nil")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = 5000
	}
	return &Gatherer{
		cfg:       cfg,
		src:       src,
		exporter:  exporter,
		interrupt: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// RowLimit returns the interrupt harvest threshold.
func (g *Gatherer) RowLimit() int64 {
	return g.cfg.RowLimit
}

// FlushInterval returns the regular wake interval.
func (g *Gatherer) FlushInterval() time.Duration {
	return g.cfg.FlushInterval
}

// Start launches the loop.
func (g *Gatherer) Start(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}
	go g.run(ctx)
	log.Info("gatherer started", "interval", g.cfg.FlushInterval, "row_limit", g.cfg.RowLimit)
	return nil
}

// Interrupt wakes the gatherer early. Pending interrupts coalesce.
func (g *Gatherer) Interrupt() {
	select {
	case g.interrupt <- struct{}{}:
	default:
	}
}

// Flushing reports whether a full flush is pending.
func (g *Gatherer) Flushing() bool {
	return g.flushing.Load()
}

// Flush requests a full flush and waits until the loop has cleared the
// flag and exited.
func (g *Gatherer) Flush(ctx context.Context) error {
	if !g.running.Load() {
		return nil
	}
	g.flushing.Store(true)
	g.Interrupt()

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gatherer flush: %w", ctx.Err())
	}
}

// Done is closed when the loop has exited.
func (g *Gatherer) Done() <-chan struct{} {
	return g.done
}

func (g *Gatherer) run(ctx context.Context) {
	defer close(g.done)

	timer := time.NewTimer(g.cfg.FlushInterval)
	defer timer.Stop()

	for {
		trigger := TriggerTimer
		select {
		case <-timer.C:
			g.timerWakes.Add(1)
			timer.Reset(g.cfg.FlushInterval)
		case <-g.interrupt:
			trigger = TriggerInterrupt
			g.interruptWakes.Add(1)
		case <-ctx.Done():
			log.Warn("gatherer cancelled, harvesting all stores")
			g.harvest(0, TriggerFlush)
			g.flushing.Store(false)
			return
		}

		if g.flushing.Load() {
			g.harvest(0, TriggerFlush)
			g.flushing.Store(false)
			log.Info("gatherer flush complete")
			return
		}

		minimum := int64(0)
		if trigger == TriggerInterrupt {
			minimum = g.cfg.RowLimit
		}
		g.harvest(minimum, trigger)
	}
}

func (g *Gatherer) harvest(minimum int64, trigger Trigger) {
	for _, t := range g.src.GatherTargets() {
		if t.Monitor == nil {
			continue
		}
		for _, h := range t.Monitor.Harvest(minimum) {
			g.handOff(t, h, trigger)
		}
	}
}

func (g *Gatherer) handOff(t Target, h monitor.Handoff, trigger Trigger) {
	path := h.Stream.Path()

	if err := h.Stream.Close(); err != nil {
		g.closeErrors.Add(1)
		log.Error("close load file failed, file left in place",
			"store", h.Store, "file", path, "rows", h.Rows, "error", err)
		return
	}

	if h.Rows == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("remove empty load file failed", "store", h.Store, "file", path, "error", err)
		}
		return
	}

	setClause := ""
	if h.Kind == types.StreamValue {
		setClause = t.SetClause
	}
	item := h.Item(setClause)
	item.Created = time.Now()

	if t.Export && g.exporter != nil {
		if err := g.exporter.Export(item); err != nil {
			g.exportErrors.Add(1)
			log.Warn("export load file failed", "store", h.Store, "file", path, "error", err)
		}
	}

	if t.Sink == nil {
		g.enqueueErrors.Add(1)
		log.Error("store has no inserter, file left in place", "store", h.Store, "file", path)
		return
	}
	if err := t.Sink.Enqueue(item); err != nil {
		g.enqueueErrors.Add(1)
		log.Error("queue load file failed, file left in place", "store", h.Store, "file", path, "error", err)
		return
	}

	g.files.Add(1)
	g.rows.Add(h.Rows)
	log.Debug("load file gathered",
		"store", h.Store, "table", item.Table, "rows", h.Rows, "trigger", trigger)
}

// Stats returns a snapshot of gatherer counters.
func (g *Gatherer) Stats() Stats {
	return Stats{
		TimerWakes:     g.timerWakes.Load(),
		InterruptWakes: g.interruptWakes.Load(),
		Files:          g.files.Load(),
		Rows:           g.rows.Load(),
		CloseErrors:    g.closeErrors.Load(),
		EnqueueErrors:  g.enqueueErrors.Load(),
		ExportErrors:   g.exportErrors.Load(),
	}
}
