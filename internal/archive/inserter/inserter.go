// Package inserter bulk-loads closed load files into the database.
//
// There is one Inserter per started store. It owns an unbounded FIFO of
// insert items filled by the gatherer and works through it on a single
// goroutine:
//
//  1. wait for the file to become visible (bounded retries)
//  2. execute the bulk-load statement
//  3. on success, delete the file or hand it to the retainer
//  4. on failure, log the statement and keep the file for inspection
//
// A failed item is not retried and never stops the loop. The only fatal
// condition is a database that stays unreachable past the reconnect
// budget, reported through Config.OnFatal.
package inserter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/tlmarchive/internal/archive/loader"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/logging"
)

var log = logging.Component("inserter")

// Retainer keeps loaded files instead of deleting them.
type Retainer interface {
	Retain(item types.InsertItem) error
}

// Config configures an inserter.
type Config struct {
	Store types.Identifier

	// PollInterval is how long an idle inserter waits before re-checking
	// the shutdown flag. Default: 250ms
	PollInterval time.Duration

	// FileCheckRetries and FileCheckDelay bound the wait for a file to
	// become visible. Defaults: 5, 50ms
	FileCheckRetries int
	FileCheckDelay   time.Duration

	// DeleteRetries and DeleteDelay bound the delete of a loaded file.
	// Defaults: 5, 20ms
	DeleteRetries int
	DeleteDelay   time.Duration

	// LoadTimeout bounds one bulk-load statement. Zero means no limit.
	LoadTimeout time.Duration

	// Retainer, if set, receives loaded files instead of deleting them.
	Retainer Retainer

	// OnFatal is called when the database connection is lost for good.
	OnFatal func(types.Identifier, error)

	// PercentileAccuracy is the relative accuracy of load latency
	// percentiles. Default: 0.01
	PercentileAccuracy float64
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.FileCheckRetries <= 0 {
		c.FileCheckRetries = 5
	}
	if c.FileCheckDelay <= 0 {
		c.FileCheckDelay = 50 * time.Millisecond
	}
	if c.DeleteRetries <= 0 {
		c.DeleteRetries = 5
	}
	if c.DeleteDelay <= 0 {
		c.DeleteDelay = 20 * time.Millisecond
	}
	if c.PercentileAccuracy <= 0 || c.PercentileAccuracy >= 1 {
		c.PercentileAccuracy = 0.01
	}
}

// Stats is a snapshot of inserter counters.
type Stats struct {
	Store     types.Identifier
	Depth     int
	HighWater int64
	Files     int64
	Rows      int64
	Failures  int64
	Missing   int64
	Retained  int64
	LoadP50   time.Duration
	LoadP99   time.Duration
}

// Inserter drains the insert queue of one store.
type Inserter struct {
	cfg    Config
	loader loader.Loader

	mu     sync.Mutex
	queue  []types.InsertItem
	exited bool // set under mu when the loop stops taking items
	wake   chan struct{}

	running  atomic.Bool
	shutdown atomic.Bool
	done     chan struct{}

	highWater atomic.Int64
	files     atomic.Int64
	rows      atomic.Int64
	failures  atomic.Int64
	missing   atomic.Int64
	retained  atomic.Int64

	sketchMu sync.Mutex
	sketch   *ddsketch.DDSketch
}

// New creates an inserter that loads through l.
func New(l loader.Loader, cfg Config) (*Inserter, error) {
	if l == nil {
		return nil, errors.NewInvalidConfig("loader", "must not be nil")
	}
	cfg.setDefaults()

	sketch, err := ddsketch.NewDefaultDDSketch(cfg.PercentileAccuracy)
	if err != nil {
		return nil, fmt.Errorf("create latency sketch: %w", err)
	}

	return &Inserter{
		cfg:    cfg,
		loader: l,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		sketch: sketch,
	}, nil
}

// Store returns the store identifier the inserter serves.
func (in *Inserter) Store() types.Identifier {
	return in.cfg.Store
}

// Start launches the insert loop. It runs until the queue is empty after
// InformShutdown, or until ctx ends.
func (in *Inserter) Start(ctx context.Context) error {
	if !in.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}
	go in.run(ctx)
	log.Debug("inserter started", "store", in.cfg.Store)
	return nil
}

// Enqueue appends item to the queue. Once the loop has exited items are
// refused with ErrStoreStopped; their files stay on disk.
func (in *Inserter) Enqueue(item types.InsertItem) error {
	in.mu.Lock()
	if in.exited {
		in.mu.Unlock()
		log.Warn("inserter stopped, file left on disk", "store", in.cfg.Store, "file", item.File)
		return errors.ErrStoreStopped
	}
	in.queue = append(in.queue, item)
	depth := int64(len(in.queue))
	in.mu.Unlock()

	if depth > in.highWater.Load() {
		in.highWater.Store(depth)
	}
	in.signal()
	return nil
}

// InformShutdown asks the loop to exit once the queue is empty.
func (in *Inserter) InformShutdown() {
	in.shutdown.Store(true)
	in.signal()
}

// Done is closed when the loop has exited.
func (in *Inserter) Done() <-chan struct{} {
	return in.done
}

// Wait blocks until the loop exited or ctx ends.
func (in *Inserter) Wait(ctx context.Context) error {
	select {
	case <-in.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("inserter %s: %d files still queued: %w", in.cfg.Store, in.Depth(), ctx.Err())
	}
}

func (in *Inserter) signal() {
	select {
	case in.wake <- struct{}{}:
	default:
	}
}

func (in *Inserter) pop() (types.InsertItem, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.queue) == 0 {
		return types.InsertItem{}, false
	}
	item := in.queue[0]
	in.queue[0] = types.InsertItem{}
	in.queue = in.queue[1:]
	return item, true
}

// poll returns the next item, waiting up to PollInterval for one.
func (in *Inserter) poll(ctx context.Context, timer *time.Timer) (types.InsertItem, bool) {
	if item, ok := in.pop(); ok {
		return item, true
	}
	timer.Reset(in.cfg.PollInterval)
	select {
	case <-in.wake:
	case <-timer.C:
	case <-ctx.Done():
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	return in.pop()
}

// exit marks the loop exited and returns 0, or returns the queue depth
// without marking when onlyIfEmpty is set and items are queued.
func (in *Inserter) exit(onlyIfEmpty bool) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	d := len(in.queue)
	if onlyIfEmpty && d > 0 {
		return d
	}
	in.exited = true
	return d
}

func (in *Inserter) run(ctx context.Context) {
	defer close(in.done)

	timer := time.NewTimer(in.cfg.PollInterval)
	timer.Stop()

	warned := false
	for {
		if ctx.Err() != nil {
			if d := in.exit(false); d > 0 {
				log.Error("inserter cancelled with files queued", "store", in.cfg.Store, "queued", d)
			}
			return
		}

		if in.shutdown.Load() {
			d := in.exit(true)
			if d == 0 {
				log.Debug("inserter exiting", "store", in.cfg.Store)
				return
			}
			if !warned {
				log.Warn("shutdown requested with files queued, draining", "store", in.cfg.Store, "queued", d)
				warned = true
			}
		}

		item, ok := in.poll(ctx, timer)
		if !ok {
			continue
		}
		in.process(ctx, item)
	}
}

// process loads one item. It never returns an error; every outcome is
// logged and counted.
func (in *Inserter) process(ctx context.Context, item types.InsertItem) {
	if !in.fileReady(item.File) {
		in.missing.Add(1)
		in.failures.Add(1)
		log.Error("load file missing or unreadable, skipping",
			"store", in.cfg.Store, "file", item.File, "rows", item.Rows)
		return
	}

	stmt, err := in.loader.Statement(item)
	if err != nil {
		in.failures.Add(1)
		log.Error("cannot build bulk load statement, file kept",
			"store", in.cfg.Store, "file", item.File, "error", err)
		return
	}

	loadCtx := ctx
	if in.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, in.cfg.LoadTimeout)
		defer cancel()
	}

	start := time.Now()
	n, err := in.loader.Load(loadCtx, item)
	elapsed := time.Since(start)

	if err != nil {
		in.failures.Add(1)
		log.Error("bulk load failed, file kept",
			"store", in.cfg.Store, "file", item.File, "statement", stmt, "error", err)
		if errors.IsConnectionLost(err) && in.cfg.OnFatal != nil {
			in.cfg.OnFatal(in.cfg.Store, err)
		}
		return
	}

	in.files.Add(1)
	in.rows.Add(n)
	in.observe(elapsed)

	if n != item.Rows {
		log.Warn("database row count differs from file",
			"store", in.cfg.Store, "table", item.Table, "file_rows", item.Rows, "loaded", n)
	}
	log.Debug("bulk load complete",
		"store", in.cfg.Store,
		"table", item.Table,
		"rows", n,
		"duration", elapsed,
		"rows_per_sec", rowsPerSec(n, elapsed))

	if in.cfg.Retainer != nil {
		if err := in.cfg.Retainer.Retain(item); err != nil {
			log.Warn("retain loaded file failed", "store", in.cfg.Store, "file", item.File, "error", err)
			return
		}
		in.retained.Add(1)
		return
	}
	in.remove(item.File)
}

// fileReady waits for path to exist and be readable.
func (in *Inserter) fileReady(path string) bool {
	for attempt := 0; attempt <= in.cfg.FileCheckRetries; attempt++ {
		if f, err := os.Open(path); err == nil {
			info, statErr := f.Stat()
			f.Close()
			if statErr == nil && info.Mode().IsRegular() {
				return true
			}
		}
		if attempt < in.cfg.FileCheckRetries {
			time.Sleep(in.cfg.FileCheckDelay)
		}
	}
	return false
}

func (in *Inserter) remove(path string) {
	var err error
	for attempt := 0; attempt < in.cfg.DeleteRetries; attempt++ {
		err = os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return
		}
		time.Sleep(in.cfg.DeleteDelay)
	}
	log.Warn("could not delete loaded file", "store", in.cfg.Store, "file", path, "error", err)
}

func (in *Inserter) observe(d time.Duration) {
	in.sketchMu.Lock()
	_ = in.sketch.Add(float64(d) / float64(time.Millisecond))
	in.sketchMu.Unlock()
}

func rowsPerSec(rows int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(rows) / d.Seconds()
}

// Depth returns the number of queued items.
func (in *Inserter) Depth() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// HighWater returns the largest queue depth observed.
func (in *Inserter) HighWater() int64 {
	return in.highWater.Load()
}

// Stats returns a snapshot of inserter counters.
func (in *Inserter) Stats() Stats {
	st := Stats{
		Store:     in.cfg.Store,
		Depth:     in.Depth(),
		HighWater: in.HighWater(),
		Files:     in.files.Load(),
		Rows:      in.rows.Load(),
		Failures:  in.failures.Load(),
		Missing:   in.missing.Load(),
		Retained:  in.retained.Load(),
	}

	in.sketchMu.Lock()
	defer in.sketchMu.Unlock()
	if !in.sketch.IsEmpty() {
		p50, _ := in.sketch.GetValueAtQuantile(0.50)
		p99, _ := in.sketch.GetValueAtQuantile(0.99)
		st.LoadP50 = time.Duration(p50 * float64(time.Millisecond))
		st.LoadP99 = time.Duration(p99 * float64(time.Millisecond))
	}
	return st
}
