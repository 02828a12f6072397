package archive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/tlmarchive/internal/archive/backpressure"
	"github.com/xtxerr/tlmarchive/internal/archive/config"
	"github.com/xtxerr/tlmarchive/internal/archive/export"
	"github.com/xtxerr/tlmarchive/internal/archive/gatherer"
	"github.com/xtxerr/tlmarchive/internal/archive/inserter"
	"github.com/xtxerr/tlmarchive/internal/archive/loader"
	"github.com/xtxerr/tlmarchive/internal/archive/metrics"
	"github.com/xtxerr/tlmarchive/internal/archive/monitor"
	"github.com/xtxerr/tlmarchive/internal/archive/retention"
	"github.com/xtxerr/tlmarchive/internal/archive/store"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/logging"
)

var log = logging.Component("archive")

// Options configures a Controller.
type Options struct {
	Config *config.Config

	// Bus delivers the messages stores subscribe to.
	Bus store.Subscriber

	// Loader is the bulk-load connection shared by every inserter. When
	// nil, Start opens one from Config.Database. The controller closes it
	// at Stop either way.
	Loader loader.Loader

	// Streams creates load files. Defaults to a FileFactory over
	// Config.LoadDir().
	Streams monitor.StreamFactory
}

// Controller is the archive context of one session.
type Controller struct {
	cfg     *config.Config
	session *types.Session

	// Fixed after New
	monitors  map[types.Identifier]*monitor.Monitor
	stores    map[types.Identifier]store.Store
	gatherer  *gatherer.Gatherer
	exporter  *export.Exporter
	retention *retention.Manager
	pressure  *backpressure.Controller

	mu        sync.RWMutex
	loader    loader.Loader
	inserters map[types.Identifier]*inserter.Inserter

	running  atomic.Bool
	stopping atomic.Bool
	started  atomic.Bool // some store was started this session
	runCtx   context.Context
	cancel   context.CancelFunc
	stopHK   chan struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error

	errs chan error

	lastSweep time.Time
	startTime time.Time
}

// New creates a controller. The configuration is validated and its
// directories are created; nothing runs until Start.
func New(opts Options) (*Controller, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	streams := opts.Streams
	if streams == nil {
		ff, err := monitor.NewFileFactory(cfg.LoadDir())
		if err != nil {
			return nil, err
		}
		streams = ff
	}

	c := &Controller{
		cfg:       cfg,
		session:   cfg.SessionInfo(),
		monitors:  make(map[types.Identifier]*monitor.Monitor),
		stores:    make(map[types.Identifier]store.Store),
		loader:    opts.Loader,
		inserters: make(map[types.Identifier]*inserter.Inserter),
		stopHK:    make(chan struct{}),
		done:      make(chan struct{}),
		errs:      make(chan error, 16),
	}
	for _, id := range types.AllIdentifiers() {
		c.monitors[id] = monitor.New(id, streams)
	}

	var exp gatherer.Exporter
	if cfg.ExportEnabled() {
		format, _ := export.ParseFormat(cfg.Export.Format)
		e, err := export.New(cfg.ExportDir(), format)
		if err != nil {
			return nil, fmt.Errorf("create exporter: %w", err)
		}
		c.exporter = e
		exp = e
	}

	if cfg.Retention.KeepFiles {
		r, err := retention.New(cfg.RetentionSettings())
		if err != nil {
			return nil, fmt.Errorf("create retention: %w", err)
		}
		c.retention = r
	}

	g, err := gatherer.New(cfg.GathererSettings(), c, exp)
	if err != nil {
		return nil, fmt.Errorf("create gatherer: %w", err)
	}
	c.gatherer = g

	c.pressure = backpressure.New(cfg.BackpressureSettings(), c.fullestQueue)
	c.pressure.SetOnLevelChange(c.onPressureChange)

	deps := store.Deps{
		Archive:            c,
		Bus:                opts.Bus,
		AggregateWindow:    cfg.Aggregate.Window,
		PercentileAccuracy: cfg.Aggregate.PercentileAccuracy,
	}
	for _, id := range types.AllIdentifiers() {
		s, err := store.New(store.Config{
			ID:           id,
			QueueSize:    cfg.QueueSize(id),
			OfferTimeout: cfg.Serialization.OfferTimeout,
			JoinTimeout:  cfg.Serialization.JoinTimeout,
		}, deps)
		if err != nil {
			return nil, fmt.Errorf("create store %s: %w", id, err)
		}
		c.stores[id] = s
	}

	return c, nil
}

// Start opens the bulk-load connection, starts the gatherer and every
// enabled store, and launches housekeeping.
func (c *Controller) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyStarted
	}
	c.startTime = time.Now()
	c.lastSweep = c.startTime

	if c.loader == nil {
		l, err := loader.Open(ctx, c.cfg.LoaderSettings())
		if err != nil {
			c.running.Store(false)
			return fmt.Errorf("open loader: %w", err)
		}
		c.loader = l
	}

	// Workers outlive the caller's context; Stop ends them.
	c.runCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := c.gatherer.Start(c.runCtx); err != nil {
		c.cancel()
		c.running.Store(false)
		return fmt.Errorf("start gatherer: %w", err)
	}

	var errs []error
	for _, id := range types.AllIdentifiers() {
		if !c.cfg.Store(id).IsEnabled() {
			continue
		}
		if err := c.StartStore(id); err != nil {
			errs = append(errs, err)
		}
	}

	c.wg.Add(1)
	go c.housekeeping()

	log.Info("archive started",
		"session", c.session.ID,
		"host", c.session.Host,
		"dialect", c.loader.Dialect(),
		"stores", len(c.startedStores()))
	return errors.Join(errs...)
}

// StartStore starts one store and, on first use, its inserter.
func (c *Controller) StartStore(id types.Identifier) error {
	if !c.running.Load() || c.stopping.Load() {
		return fmt.Errorf("start %s: %w", id, errors.ErrStoreStopped)
	}
	s, ok := c.stores[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, errors.ErrUnknownIdentifier)
	}

	if err := c.ensureInserter(id); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}
	c.started.Store(true)
	return nil
}

func (c *Controller) ensureInserter(id types.Identifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inserters[id]; ok {
		return nil
	}

	icfg := c.cfg.InserterSettings(id)
	if c.retention != nil {
		icfg.Retainer = c.retention
	}
	icfg.OnFatal = c.reportFatal

	in, err := inserter.New(c.loader, icfg)
	if err != nil {
		return fmt.Errorf("create inserter %s: %w", id, err)
	}
	if err := in.Start(c.runCtx); err != nil {
		return fmt.Errorf("start inserter %s: %w", id, err)
	}
	c.inserters[id] = in
	return nil
}

// StopStore idles one store down. Its inserter keeps loading the files the
// gatherer hands it until the archive stops.
func (c *Controller) StopStore(id types.Identifier) error {
	s, ok := c.stores[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, errors.ErrUnknownIdentifier)
	}
	return s.Stop()
}

// Stop shuts the archive down: stores idle down in parallel, the gatherer
// runs its full flush and the inserters drain, bounded by the configured
// shutdown timeout and ctx. Stop is idempotent; later calls return the
// first call's result.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.running.Load() {
		return nil
	}
	c.stopOnce.Do(func() {
		c.stopErr = c.shutdown(ctx)
		close(c.done)
	})
	<-c.done
	return c.stopErr
}

func (c *Controller) shutdown(ctx context.Context) error {
	c.stopping.Store(true)
	start := time.Now()
	log.Info("archive stopping")

	close(c.stopHK)
	c.wg.Wait()

	var errs []error

	// Phase 1: idle down every store.
	started := c.startedStores()
	storeErrs := make([]error, len(started))
	var g errgroup.Group
	for i, s := range started {
		g.Go(func() error {
			storeErrs[i] = s.Stop()
			return storeErrs[i]
		})
	}
	_ = g.Wait()
	errs = append(errs, storeErrs...)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Inserter.ShutdownTimeout)
	defer cancel()

	// Phase 2: full flush.
	if err := c.gatherer.Flush(ctx); err != nil {
		errs = append(errs, err)
	}

	// Phase 3: drain the inserters.
	c.mu.RLock()
	inserters := make([]*inserter.Inserter, 0, len(c.inserters))
	for _, in := range c.inserters {
		inserters = append(inserters, in)
	}
	c.mu.RUnlock()

	for _, in := range inserters {
		if d := in.Depth(); d > 0 {
			log.Warn("inserter queue not empty at shutdown", "store", in.Store(), "depth", d)
		}
		in.InformShutdown()
	}
	for _, in := range inserters {
		if err := in.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	c.cancel()

	if c.loader != nil {
		if err := c.loader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close loader: %w", err))
		}
	}

	gs := c.gatherer.Stats()
	log.Info("archive stopped",
		"duration", time.Since(start),
		"files", gs.Files,
		"rows", gs.Rows)
	return errors.Join(errs...)
}

// Done is closed once Stop has finished, including a stop started by the
// all-inactive watchdog.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Errors reports fatal conditions, such as the database connection being
// lost past the reconnect budget. The archive keeps running; the owner
// decides whether to stop.
func (c *Controller) Errors() <-chan error {
	return c.errs
}

func (c *Controller) reportFatal(id types.Identifier, err error) {
	err = fmt.Errorf("%s: %w", id, err)
	log.Error("fatal archive condition", "store", id, "error", err)
	select {
	case c.errs <- err:
	default:
	}
}

// housekeeping runs the periodic checks until Stop.
func (c *Controller) housekeeping() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Backpressure.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHK:
			return
		case <-ticker.C:
		}

		c.pressure.Check()

		if c.started.Load() && len(c.startedStores()) == 0 {
			log.Warn("all stores inactive, shutting down archive")
			go c.Stop(context.Background())
			return
		}

		c.sweepRetained()
	}
}

func (c *Controller) sweepRetained() {
	if c.retention == nil || c.cfg.Retention.MaxAge <= 0 {
		return
	}
	if time.Since(c.lastSweep) < c.cfg.Retention.SweepInterval {
		return
	}
	c.lastSweep = time.Now()

	var files, bytes int64
	for _, r := range c.retention.RunCleanup() {
		files += int64(r.FilesDeleted)
		bytes += r.BytesFreed
	}
	if files > 0 {
		log.Info("retained files swept", "files", files, "bytes", bytes)
	}
}

func (c *Controller) onPressureChange(from, to backpressure.Level, queue string, usage float64) {
	if to > from {
		log.Warn("serialization queue pressure rising", "from", from, "to", to, "queue", queue, "usage", usage)
		return
	}
	log.Info("serialization queue pressure easing", "from", from, "to", to, "queue", queue, "usage", usage)
}

// fullestQueue samples the serialization queue with the highest usage.
func (c *Controller) fullestQueue() (string, float64) {
	var name string
	var usage float64
	for _, s := range c.startedStores() {
		qs, ok := s.QueueStats()
		if !ok || qs.Capacity == 0 {
			continue
		}
		if u := float64(qs.Depth) / float64(qs.Capacity); u >= usage {
			name, usage = qs.Name, u
		}
	}
	return name, usage
}

func (c *Controller) startedStores() []store.Store {
	var out []store.Store
	for _, id := range types.AllIdentifiers() {
		if s := c.stores[id]; s.Started() {
			out = append(out, s)
		}
	}
	return out
}

// Monitor implements store.Archive.
func (c *Controller) Monitor(id types.Identifier) *monitor.Monitor {
	return c.monitors[id]
}

// RowLimit implements store.Archive.
func (c *Controller) RowLimit() int64 {
	return c.gatherer.RowLimit()
}

// RequestGather implements store.Archive.
func (c *Controller) RequestGather() {
	c.gatherer.Interrupt()
}

// Session implements store.Archive.
func (c *Controller) Session() *types.Session {
	return c.session
}

// GatherTargets implements gatherer.Source.
func (c *Controller) GatherTargets() []gatherer.Target {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targets := make([]gatherer.Target, 0, len(c.monitors))
	for _, id := range types.AllIdentifiers() {
		sc := c.cfg.Store(id)
		t := gatherer.Target{
			Monitor:   c.monitors[id],
			SetClause: sc.SetClause,
			Export:    sc.Export,
		}
		if in, ok := c.inserters[id]; ok {
			t.Sink = in
		}
		targets = append(targets, t)
	}
	return targets
}

// Store returns the store with the given identifier.
func (c *Controller) Store(id types.Identifier) (store.Store, bool) {
	s, ok := c.stores[id]
	return s, ok
}

// Gatherer returns the gatherer.
func (c *Controller) Gatherer() *gatherer.Gatherer {
	return c.gatherer
}

// QueueStat holds the depth and high-water mark of one store's queues.
type QueueStat struct {
	Store types.Identifier

	// Async is false for stores that serialize synchronously; the
	// serialization fields are zero then.
	Async              bool
	SerializationDepth int
	SerializationHWM   int64
	InsertDepth        int
	InsertHWM          int64
}

// QueueStats returns the queue gauges of every started or drained store.
func (c *Controller) QueueStats() []QueueStat {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []QueueStat
	for _, id := range types.AllIdentifiers() {
		in, ok := c.inserters[id]
		if !ok {
			continue
		}
		qs := QueueStat{Store: id, InsertDepth: in.Depth(), InsertHWM: in.HighWater()}
		if ss, ok := c.stores[id].QueueStats(); ok {
			qs.Async = true
			qs.SerializationDepth = ss.Depth
			qs.SerializationHWM = ss.HighWater
		}
		out = append(out, qs)
	}
	return out
}

// MetricsSnapshot implements metrics.Source.
func (c *Controller) MetricsSnapshot() metrics.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := metrics.Snapshot{
		Gatherer:          c.gatherer.Stats(),
		BackpressureLevel: int(c.pressure.CurrentLevel()),
	}
	for _, id := range types.AllIdentifiers() {
		s := c.stores[id]
		m := c.monitors[id]
		vs, ms := m.Counts()
		vt, mt := m.Totals()
		st := s.Stats()

		ss := metrics.StoreSnapshot{
			Store:            id.String(),
			Active:           st.Started,
			ValuesInStream:   vs,
			MetadataInStream: ms,
			ValuesTotal:      vt,
			MetadataTotal:    mt,
			Rejected:         st.Rejected,
		}
		if qs, ok := s.QueueStats(); ok {
			ss.Queue = &qs
		}
		if in, ok := c.inserters[id]; ok {
			is := in.Stats()
			ss.Inserter = &is
		}
		snap.Stores = append(snap.Stores, ss)
	}
	return snap
}

// Uptime returns the time since Start.
func (c *Controller) Uptime() time.Duration {
	if c.startTime.IsZero() {
		return 0
	}
	return time.Since(c.startTime)
}

// DiskUsage returns the retained file usage per store, nil when files are
// not kept.
func (c *Controller) DiskUsage() map[types.Identifier]retention.DiskUsage {
	if c.retention == nil {
		return nil
	}
	return c.retention.GetDiskUsage()
}
