// Package config provides configuration defaults for the tlmarchive daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Gatherer Defaults
// =============================================================================

const (
	// DefaultFlushInterval is how often the gatherer sweeps every store
	// and hands any non-empty file to its inserter.
	// Override via config: gatherer.flush_interval
	DefaultFlushInterval = 5 * time.Second

	// DefaultRowLimit is the row count at which a store interrupts the
	// gatherer early. Early wakes only harvest streams at least this large.
	// Override via config: gatherer.row_limit
	DefaultRowLimit = 5000
)

// =============================================================================
// Serialization Queue Defaults
// =============================================================================

const (
	// DefaultQueueSize is the per-store serialization queue capacity.
	// A value <= 0 disables asynchronous serialization for the store.
	// Override via config: stores.<id>.queue_size
	DefaultQueueSize = 0

	// DefaultOfferTimeout is the slice a blocked publisher waits before
	// re-checking whether the queue began draining.
	// Override via config: serialization.offer_timeout
	DefaultOfferTimeout = 100 * time.Millisecond

	// DefaultJoinTimeout bounds how long idle-down waits for the worker.
	// After this timeout the worker is abandoned, not killed.
	// Override via config: serialization.join_timeout
	DefaultJoinTimeout = 10 * time.Second
)

// =============================================================================
// Inserter Defaults
// =============================================================================

const (
	// DefaultInserterPollInterval is the inserter queue poll timeout.
	// Override via config: inserter.poll_interval
	DefaultInserterPollInterval = 250 * time.Millisecond

	// DefaultFileCheckRetries is how many times the inserter re-checks a
	// missing file before giving up on it.
	// Override via config: inserter.file_check_retries
	DefaultFileCheckRetries = 5

	// DefaultFileCheckDelay is the pause between file visibility checks.
	// Override via config: inserter.file_check_delay
	DefaultFileCheckDelay = 50 * time.Millisecond

	// DefaultDeleteRetries is how many times a loaded file delete is retried.
	// Override via config: inserter.delete_retries
	DefaultDeleteRetries = 5

	// DefaultDeleteDelay is the pause between delete attempts.
	// Override via config: inserter.delete_delay
	DefaultDeleteDelay = 20 * time.Millisecond

	// DefaultLoadTimeout bounds a single bulk-load statement.
	// Override via config: inserter.load_timeout
	DefaultLoadTimeout = 5 * time.Minute

	// DefaultShutdownTimeout bounds how long Stop waits for the inserters
	// to drain their queues.
	// Override via config: inserter.shutdown_timeout
	DefaultShutdownTimeout = 2 * time.Minute
)

// =============================================================================
// Database Defaults
// =============================================================================

const (
	// DefaultDialect is the bulk-load dialect.
	// Override via config: database.dialect
	DefaultDialect = "mysql"

	// DefaultReconnectAttempts is the reconnect budget for a load statement.
	// Override via config: database.reconnect.max_attempts
	DefaultReconnectAttempts = 5

	// DefaultReconnectInitialDelay is the first reconnect backoff.
	// Override via config: database.reconnect.initial_delay
	DefaultReconnectInitialDelay = 200 * time.Millisecond

	// DefaultReconnectMaxDelay caps the reconnect backoff.
	// Override via config: database.reconnect.max_delay
	DefaultReconnectMaxDelay = 10 * time.Second
)

// =============================================================================
// Retention and Export Defaults
// =============================================================================

const (
	// DefaultRetainedMaxAge is how long kept files survive the sweep.
	// Override via config: retention.max_age
	DefaultRetainedMaxAge = 72 * time.Hour

	// DefaultSweepInterval is how often retained files are swept.
	// Override via config: retention.sweep_interval
	DefaultSweepInterval = time.Hour

	// DefaultExportFormat is how gathered files are exported.
	// Override via config: export.format
	DefaultExportFormat = "link"
)

// =============================================================================
// Aggregate Defaults
// =============================================================================

const (
	// DefaultAggregateWindow is the ERT bucket size for channel aggregates.
	// Override via config: aggregate.window
	DefaultAggregateWindow = time.Minute

	// DefaultPercentileAccuracy is the DDSketch relative accuracy.
	// Override via config: aggregate.percentile_accuracy
	DefaultPercentileAccuracy = 0.01
)

// =============================================================================
// Housekeeping Defaults
// =============================================================================

const (
	// DefaultHousekeepingInterval is how often the controller checks the
	// all-stores-inactive condition and queue pressure.
	DefaultHousekeepingInterval = time.Second

	// DefaultMetricsListen is the default /metrics listen address.
	// Override via config: metrics.listen
	DefaultMetricsListen = "127.0.0.1:9464"
)
