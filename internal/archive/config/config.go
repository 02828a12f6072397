// Package config loads the archive daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/tlmarchive/config"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
)

// Config represents the complete archive configuration.
type Config struct {
	// DataDir is the root directory for load files and retained files.
	DataDir string `yaml:"data_dir"`

	// Session identifies the ground session records are archived under.
	Session SessionConfig `yaml:"session"`

	// Gatherer configures the file harvest loop.
	Gatherer GathererConfig `yaml:"gatherer"`

	// Serialization configures the per-store serialization queues.
	Serialization SerializationConfig `yaml:"serialization"`

	// Inserter configures the bulk-load workers.
	Inserter InserterConfig `yaml:"inserter"`

	// Database configures the bulk-load target.
	Database DatabaseConfig `yaml:"database"`

	// Retention configures what happens to loaded files.
	Retention RetentionConfig `yaml:"retention"`

	// Export configures copies of gathered files.
	Export ExportConfig `yaml:"export"`

	// Backpressure configures queue pressure reporting.
	Backpressure BackpressureConfig `yaml:"backpressure"`

	// Aggregate configures the channel aggregate stores.
	Aggregate AggregateConfig `yaml:"aggregate"`

	// Metrics configures the prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Kafka configures the broker bridge.
	Kafka KafkaConfig `yaml:"kafka"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Stores holds per-store settings keyed by store identifier.
	// Stores not listed run with the defaults.
	Stores map[string]StoreConfig `yaml:"stores"`
}

// SessionConfig identifies the ground session.
type SessionConfig struct {
	ID       int64  `yaml:"id"`
	Host     string `yaml:"host"`
	HostID   int32  `yaml:"host_id"`
	Fragment int32  `yaml:"fragment"`

	// Stations lists allowed DSS ids. Empty allows any.
	Stations []int32 `yaml:"stations"`

	// VCIDs lists allowed virtual channel ids. Empty allows any.
	VCIDs []int32 `yaml:"vcids"`
}

// GathererConfig configures the gatherer.
type GathererConfig struct {
	// FlushInterval is the regular sweep interval.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// RowLimit is the stream size that triggers an early harvest.
	RowLimit int64 `yaml:"row_limit"`
}

// SerializationConfig configures the serialization queues.
type SerializationConfig struct {
	// QueueSize is the default queue capacity. <= 0 serializes
	// synchronously.
	QueueSize int `yaml:"queue_size"`

	// OfferTimeout is the wait slice of a blocked offer.
	OfferTimeout time.Duration `yaml:"offer_timeout"`

	// JoinTimeout bounds the worker join at idle-down.
	JoinTimeout time.Duration `yaml:"join_timeout"`
}

// InserterConfig configures the inserters.
type InserterConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	FileCheckRetries int           `yaml:"file_check_retries"`
	FileCheckDelay   time.Duration `yaml:"file_check_delay"`
	DeleteRetries    int           `yaml:"delete_retries"`
	DeleteDelay      time.Duration `yaml:"delete_delay"`
	LoadTimeout      time.Duration `yaml:"load_timeout"`

	// ShutdownTimeout bounds the inserter drain at stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the bulk-load connection.
type DatabaseConfig struct {
	// Dialect is one of: mysql, postgres, duckdb.
	Dialect string `yaml:"dialect"`

	// DSN is the driver connection string.
	DSN string `yaml:"dsn"`

	// Concurrent adds CONCURRENT to mysql load statements.
	Concurrent bool `yaml:"concurrent"`

	// Reconnect is the backoff for connection-class failures.
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig configures reconnect backoff.
type ReconnectConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// RetentionConfig configures retained load files.
type RetentionConfig struct {
	// KeepFiles keeps loaded files instead of deleting them.
	KeepFiles bool `yaml:"keep_files"`

	// Dir is the retained file directory. Defaults to {DataDir}/retained.
	Dir string `yaml:"dir"`

	// Compression is one of: none, zstd, lz4.
	Compression string `yaml:"compression"`

	// MaxAge is how long retained files are kept. Zero keeps them forever.
	MaxAge time.Duration `yaml:"max_age"`

	// SweepInterval is how often retained files are swept.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ExportConfig configures file export.
type ExportConfig struct {
	// Dir is the export directory. Defaults to {DataDir}/export.
	Dir string `yaml:"dir"`

	// Format is one of: link, parquet.
	Format string `yaml:"format"`
}

// BackpressureConfig configures the pressure controller.
type BackpressureConfig struct {
	Enabled bool `yaml:"enabled"`

	Thresholds BackpressureThresholds `yaml:"thresholds"`

	Recovery BackpressureRecovery `yaml:"recovery"`

	// CheckInterval is how often queue usage is sampled.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// BackpressureThresholds defines queue usage thresholds.
type BackpressureThresholds struct {
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Emergency float64 `yaml:"emergency"`
}

// BackpressureRecovery configures recovery behavior.
type BackpressureRecovery struct {
	// Hysteresis to prevent flapping (0.0-0.5).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between evaluations.
	Cooldown time.Duration `yaml:"cooldown"`
}

// AggregateConfig configures channel aggregates.
type AggregateConfig struct {
	Window             time.Duration `yaml:"window"`
	PercentileAccuracy float64       `yaml:"percentile_accuracy"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Listen is the HTTP listen address. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// KafkaConfig configures the broker bridge.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Group   string   `yaml:"group"`

	// Topics maps broker topics to bus topics.
	Topics map[string]string `yaml:"topics"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`

	// Format is one of: auto, json, text. Auto picks json when stdout is
	// not a terminal.
	Format string `yaml:"format"`
}

// StoreConfig holds the settings of one store.
type StoreConfig struct {
	// Enabled starts the store with the archive. Default: true
	Enabled *bool `yaml:"enabled"`

	// QueueSize overrides serialization.queue_size when set.
	QueueSize *int `yaml:"queue_size"`

	// Export copies the store's gathered files to the export directory.
	Export bool `yaml:"export"`

	// SetClause is appended to value file load statements.
	SetClause string `yaml:"set_clause"`
}

// IsEnabled reports whether the store starts with the archive.
func (s StoreConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/tlmarchive",
		Session: SessionConfig{
			Host: "localhost",
		},
		Gatherer: GathererConfig{
			FlushInterval: defaults.DefaultFlushInterval,
			RowLimit:      defaults.DefaultRowLimit,
		},
		Serialization: SerializationConfig{
			QueueSize:    defaults.DefaultQueueSize,
			OfferTimeout: defaults.DefaultOfferTimeout,
			JoinTimeout:  defaults.DefaultJoinTimeout,
		},
		Inserter: InserterConfig{
			PollInterval:     defaults.DefaultInserterPollInterval,
			FileCheckRetries: defaults.DefaultFileCheckRetries,
			FileCheckDelay:   defaults.DefaultFileCheckDelay,
			DeleteRetries:    defaults.DefaultDeleteRetries,
			DeleteDelay:      defaults.DefaultDeleteDelay,
			LoadTimeout:      defaults.DefaultLoadTimeout,
			ShutdownTimeout:  defaults.DefaultShutdownTimeout,
		},
		Database: DatabaseConfig{
			Dialect: defaults.DefaultDialect,
			DSN:     "tlmarchive@tcp(127.0.0.1:3306)/tlm",
			Reconnect: ReconnectConfig{
				MaxAttempts:  defaults.DefaultReconnectAttempts,
				InitialDelay: defaults.DefaultReconnectInitialDelay,
				MaxDelay:     defaults.DefaultReconnectMaxDelay,
				Multiplier:   2.0,
			},
		},
		Retention: RetentionConfig{
			Compression:   "zstd",
			MaxAge:        defaults.DefaultRetainedMaxAge,
			SweepInterval: defaults.DefaultSweepInterval,
		},
		Export: ExportConfig{
			Format: defaults.DefaultExportFormat,
		},
		Backpressure: BackpressureConfig{
			Enabled: true,
			Thresholds: BackpressureThresholds{
				Warning:   0.50,
				Critical:  0.80,
				Emergency: 0.95,
			},
			Recovery: BackpressureRecovery{
				Hysteresis: 0.05,
				Cooldown:   time.Second,
			},
			CheckInterval: defaults.DefaultHousekeepingInterval,
		},
		Aggregate: AggregateConfig{
			Window:             defaults.DefaultAggregateWindow,
			PercentileAccuracy: defaults.DefaultPercentileAccuracy,
		},
		Metrics: MetricsConfig{
			Listen: defaults.DefaultMetricsListen,
		},
		Kafka: KafkaConfig{
			Group: "tlmarchive",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Stores: map[string]StoreConfig{},
	}
}

// Store returns the settings of the store with the given identifier.
// Keys match the way ParseIdentifier does.
func (c *Config) Store(id types.Identifier) StoreConfig {
	if s, ok := c.Stores[id.String()]; ok {
		return s
	}
	for name, s := range c.Stores {
		if parsed, err := types.ParseIdentifier(name); err == nil && parsed == id {
			return s
		}
	}
	return StoreConfig{}
}

// QueueSize returns the serialization queue size of a store.
func (c *Config) QueueSize(id types.Identifier) int {
	if s := c.Store(id); s.QueueSize != nil {
		return *s.QueueSize
	}
	return c.Serialization.QueueSize
}

// LoadDir returns the directory open load files are written to.
func (c *Config) LoadDir() string {
	return filepath.Join(c.DataDir, "load")
}

// RetentionDir returns the retained file directory.
func (c *Config) RetentionDir() string {
	if c.Retention.Dir != "" {
		return c.Retention.Dir
	}
	return filepath.Join(c.DataDir, "retained")
}

// ExportDir returns the export directory.
func (c *Config) ExportDir() string {
	if c.Export.Dir != "" {
		return c.Export.Dir
	}
	return filepath.Join(c.DataDir, "export")
}

// ExportEnabled reports whether any store exports its files.
func (c *Config) ExportEnabled() bool {
	for _, s := range c.Stores {
		if s.Export {
			return true
		}
	}
	return false
}
