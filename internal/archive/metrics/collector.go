// Package metrics exposes pipeline state to Prometheus.
//
// The collector pulls a Snapshot from its Source on every scrape, so no
// pipeline component keeps Prometheus state of its own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xtxerr/tlmarchive/internal/archive/gatherer"
	"github.com/xtxerr/tlmarchive/internal/archive/inserter"
	"github.com/xtxerr/tlmarchive/internal/archive/serialq"
)

const namespace = "tlmarchive"

// StoreSnapshot is the state of one store at scrape time.
type StoreSnapshot struct {
	Store  string
	Active bool

	ValuesInStream   int64
	MetadataInStream int64
	ValuesTotal      int64
	MetadataTotal    int64
	Rejected         int64

	// Queue is nil for stores that serialize synchronously.
	Queue *serialq.Stats

	// Inserter is nil for stores that were never started.
	Inserter *inserter.Stats
}

// Snapshot is the pipeline state at scrape time.
type Snapshot struct {
	Stores            []StoreSnapshot
	Gatherer          gatherer.Stats
	BackpressureLevel int
}

// Source produces snapshots.
type Source interface {
	MetricsSnapshot() Snapshot
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	src Source

	storeActive   *prometheus.Desc
	streamRows    *prometheus.Desc
	rowsTotal     *prometheus.Desc
	rejected      *prometheus.Desc
	queueDepth    *prometheus.Desc
	queueHWM      *prometheus.Desc
	queueCapacity *prometheus.Desc
	queueDropped  *prometheus.Desc
	insertDepth   *prometheus.Desc
	insertHWM     *prometheus.Desc
	insertFiles   *prometheus.Desc
	insertRows    *prometheus.Desc
	insertFailed  *prometheus.Desc
	loadLatency   *prometheus.Desc
	gatherWakes   *prometheus.Desc
	gatherFiles   *prometheus.Desc
	gatherRows    *prometheus.Desc
	pressure      *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	store := []string{"store"}
	storeKind := []string{"store", "kind"}

	return &Collector{
		src: src,

		storeActive: prometheus.NewDesc(namespace+"_store_active",
			"Whether the store is accepting records.", store, nil),
		streamRows: prometheus.NewDesc(namespace+"_stream_rows",
			"Rows written to the currently open stream.", storeKind, nil),
		rowsTotal: prometheus.NewDesc(namespace+"_rows_serialized_total",
			"Rows serialized since start.", storeKind, nil),
		rejected: prometheus.NewDesc(namespace+"_records_rejected_total",
			"Records discarded by validation or formatting.", store, nil),
		queueDepth: prometheus.NewDesc(namespace+"_serialization_queue_depth",
			"Records waiting in the serialization queue.", store, nil),
		queueHWM: prometheus.NewDesc(namespace+"_serialization_queue_high_water",
			"Highest serialization queue depth observed.", store, nil),
		queueCapacity: prometheus.NewDesc(namespace+"_serialization_queue_capacity",
			"Serialization queue capacity.", store, nil),
		queueDropped: prometheus.NewDesc(namespace+"_serialization_queue_dropped_total",
			"Records dropped because the queue was draining.", store, nil),
		insertDepth: prometheus.NewDesc(namespace+"_insert_queue_depth",
			"Files waiting to be bulk loaded.", store, nil),
		insertHWM: prometheus.NewDesc(namespace+"_insert_queue_high_water",
			"Highest insert queue depth observed.", store, nil),
		insertFiles: prometheus.NewDesc(namespace+"_insert_files_total",
			"Files bulk loaded.", store, nil),
		insertRows: prometheus.NewDesc(namespace+"_insert_rows_total",
			"Rows reported by the database for loaded files.", store, nil),
		insertFailed: prometheus.NewDesc(namespace+"_insert_failures_total",
			"Files that failed to load and were kept.", store, nil),
		loadLatency: prometheus.NewDesc(namespace+"_load_latency_seconds",
			"Bulk load latency percentiles.", []string{"store", "percentile"}, nil),
		gatherWakes: prometheus.NewDesc(namespace+"_gatherer_wakes_total",
			"Gatherer wakeups by trigger.", []string{"trigger"}, nil),
		gatherFiles: prometheus.NewDesc(namespace+"_gatherer_files_total",
			"Files handed to inserters.", nil, nil),
		gatherRows: prometheus.NewDesc(namespace+"_gatherer_rows_total",
			"Rows handed to inserters.", nil, nil),
		pressure: prometheus.NewDesc(namespace+"_backpressure_level",
			"Current backpressure level (0 normal .. 3 emergency).", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.storeActive, c.streamRows, c.rowsTotal, c.rejected,
		c.queueDepth, c.queueHWM, c.queueCapacity, c.queueDropped,
		c.insertDepth, c.insertHWM, c.insertFiles, c.insertRows, c.insertFailed, c.loadLatency,
		c.gatherWakes, c.gatherFiles, c.gatherRows, c.pressure,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.MetricsSnapshot()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	for _, s := range snap.Stores {
		active := 0.0
		if s.Active {
			active = 1
		}
		gauge(c.storeActive, active, s.Store)
		gauge(c.streamRows, float64(s.ValuesInStream), s.Store, "value")
		gauge(c.streamRows, float64(s.MetadataInStream), s.Store, "metadata")
		counter(c.rowsTotal, float64(s.ValuesTotal), s.Store, "value")
		counter(c.rowsTotal, float64(s.MetadataTotal), s.Store, "metadata")
		counter(c.rejected, float64(s.Rejected), s.Store)

		if q := s.Queue; q != nil {
			gauge(c.queueDepth, float64(q.Depth), s.Store)
			gauge(c.queueHWM, float64(q.HighWater), s.Store)
			gauge(c.queueCapacity, float64(q.Capacity), s.Store)
			counter(c.queueDropped, float64(q.Dropped), s.Store)
		}

		if in := s.Inserter; in != nil {
			gauge(c.insertDepth, float64(in.Depth), s.Store)
			gauge(c.insertHWM, float64(in.HighWater), s.Store)
			counter(c.insertFiles, float64(in.Files), s.Store)
			counter(c.insertRows, float64(in.Rows), s.Store)
			counter(c.insertFailed, float64(in.Failures), s.Store)
			gauge(c.loadLatency, in.LoadP50.Seconds(), s.Store, "p50")
			gauge(c.loadLatency, in.LoadP99.Seconds(), s.Store, "p99")
		}
	}

	g := snap.Gatherer
	counter(c.gatherWakes, float64(g.TimerWakes), gatherer.TriggerTimer.String())
	counter(c.gatherWakes, float64(g.InterruptWakes), gatherer.TriggerInterrupt.String())
	counter(c.gatherFiles, float64(g.Files))
	counter(c.gatherRows, float64(g.Rows))
	gauge(c.pressure, float64(snap.BackpressureLevel))
}

// NewRegistry returns a registry with the pipeline collector and the Go
// runtime collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
