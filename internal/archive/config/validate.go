package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/xtxerr/tlmarchive/internal/archive/export"
	"github.com/xtxerr/tlmarchive/internal/archive/retention"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/logging"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" {
		errs = append(errs, errors.NewInvalidConfig("data_dir", "is required"))
	}

	sections := []struct {
		name string
		err  error
	}{
		{"session", c.Session.Validate()},
		{"gatherer", c.Gatherer.Validate()},
		{"serialization", c.Serialization.Validate()},
		{"inserter", c.Inserter.Validate()},
		{"database", c.Database.Validate()},
		{"retention", c.Retention.Validate()},
		{"export", c.Export.Validate()},
		{"backpressure", c.Backpressure.Validate()},
		{"aggregate", c.Aggregate.Validate()},
		{"kafka", c.Kafka.Validate()},
		{"logging", c.Logging.Validate()},
		{"stores", c.validateStores()},
	}
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, s.err))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the session configuration.
func (c *SessionConfig) Validate() error {
	var errs []error

	if c.ID < 0 {
		errs = append(errs, errors.NewInvalidConfig("id", "must be non-negative"))
	}
	if c.Host == "" {
		errs = append(errs, errors.NewInvalidConfig("host", "is required"))
	}
	for _, v := range c.VCIDs {
		if v < 0 || v > 63 {
			errs = append(errs, errors.NewInvalidConfig("vcids", fmt.Sprintf("%d outside 0..63", v)))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the gatherer configuration.
func (c *GathererConfig) Validate() error {
	var errs []error

	if c.FlushInterval <= 0 {
		errs = append(errs, errors.NewInvalidConfig("flush_interval", "must be positive"))
	}
	if c.RowLimit <= 0 {
		errs = append(errs, errors.NewInvalidConfig("row_limit", "must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the serialization configuration.
func (c *SerializationConfig) Validate() error {
	var errs []error

	if c.OfferTimeout <= 0 {
		errs = append(errs, errors.NewInvalidConfig("offer_timeout", "must be positive"))
	}
	if c.JoinTimeout <= 0 {
		errs = append(errs, errors.NewInvalidConfig("join_timeout", "must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the inserter configuration.
func (c *InserterConfig) Validate() error {
	var errs []error

	if c.PollInterval <= 0 {
		errs = append(errs, errors.NewInvalidConfig("poll_interval", "must be positive"))
	}
	if c.FileCheckRetries < 0 {
		errs = append(errs, errors.NewInvalidConfig("file_check_retries", "must be non-negative"))
	}
	if c.DeleteRetries < 0 {
		errs = append(errs, errors.NewInvalidConfig("delete_retries", "must be non-negative"))
	}
	if c.LoadTimeout < 0 {
		errs = append(errs, errors.NewInvalidConfig("load_timeout", "must be non-negative"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.NewInvalidConfig("shutdown_timeout", "must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	var errs []error

	switch strings.ToLower(c.Dialect) {
	case "mysql", "postgres", "duckdb":
	default:
		errs = append(errs, errors.NewInvalidConfig("dialect", "must be one of: mysql, postgres, duckdb"))
	}
	if c.DSN == "" && !strings.EqualFold(c.Dialect, "duckdb") {
		errs = append(errs, errors.NewInvalidConfig("dsn", "is required"))
	}
	if c.Concurrent && !strings.EqualFold(c.Dialect, "mysql") {
		errs = append(errs, errors.NewInvalidConfig("concurrent", "only supported by mysql"))
	}

	r := c.Reconnect
	if r.MaxAttempts <= 0 {
		errs = append(errs, errors.NewInvalidConfig("reconnect.max_attempts", "must be positive"))
	}
	if r.InitialDelay < 0 || r.MaxDelay < r.InitialDelay {
		errs = append(errs, errors.NewInvalidConfig("reconnect.max_delay", "must be >= reconnect.initial_delay"))
	}
	if r.Multiplier < 1 {
		errs = append(errs, errors.NewInvalidConfig("reconnect.multiplier", "must be >= 1"))
	}

	return errors.Join(errs...)
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if _, err := retention.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.MaxAge < 0 {
		errs = append(errs, errors.NewInvalidConfig("max_age", "must be non-negative"))
	}
	if c.KeepFiles && c.MaxAge > 0 && c.SweepInterval <= 0 {
		errs = append(errs, errors.NewInvalidConfig("sweep_interval", "must be positive when max_age is set"))
	}

	return errors.Join(errs...)
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	_, err := export.ParseFormat(c.Format)
	return err
}

// Validate checks the backpressure configuration.
func (c *BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	// Thresholds must be in order
	th := c.Thresholds
	for _, v := range []struct {
		key string
		val float64
	}{{"warning", th.Warning}, {"critical", th.Critical}, {"emergency", th.Emergency}} {
		if v.val <= 0 || v.val > 1 {
			errs = append(errs, errors.NewInvalidConfig("thresholds."+v.key, "must be between 0 and 1"))
		}
	}
	if th.Warning >= th.Critical {
		errs = append(errs, errors.NewInvalidConfig("thresholds.warning", "must be < thresholds.critical"))
	}
	if th.Critical >= th.Emergency {
		errs = append(errs, errors.NewInvalidConfig("thresholds.critical", "must be < thresholds.emergency"))
	}

	// Recovery
	if c.Recovery.Hysteresis < 0 || c.Recovery.Hysteresis >= 0.5 {
		errs = append(errs, errors.NewInvalidConfig("recovery.hysteresis", "must be between 0 and 0.5"))
	}
	if c.Recovery.Cooldown < 0 {
		errs = append(errs, errors.NewInvalidConfig("recovery.cooldown", "must be non-negative"))
	}
	if c.CheckInterval <= 0 {
		errs = append(errs, errors.NewInvalidConfig("check_interval", "must be positive"))
	}

	return errors.Join(errs...)
}

// Validate checks the aggregate configuration.
func (c *AggregateConfig) Validate() error {
	var errs []error

	if c.Window <= 0 {
		errs = append(errs, errors.NewInvalidConfig("window", "must be positive"))
	}
	if c.PercentileAccuracy <= 0 || c.PercentileAccuracy >= 1 {
		errs = append(errs, errors.NewInvalidConfig("percentile_accuracy", "must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

// Validate checks the kafka configuration.
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return c.Bridge().Validate()
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Level); err != nil {
		errs = append(errs, errors.NewInvalidConfig("level", err.Error()))
	}
	switch c.Format {
	case "", "auto", "json", "text":
	default:
		errs = append(errs, errors.NewInvalidConfig("format", "must be one of: auto, json, text"))
	}

	return errors.Join(errs...)
}

func (c *Config) validateStores() error {
	var errs []error

	for name, s := range c.Stores {
		id, err := types.ParseIdentifier(name)
		if err != nil {
			errs = append(errs, errors.NewInvalidConfig(name, err.Error()))
			continue
		}
		if s.SetClause != "" && !strings.EqualFold(c.Database.Dialect, "mysql") {
			errs = append(errs, errors.NewInvalidConfig(name+".set_clause", "only supported by mysql"))
		}
		if s.QueueSize != nil && *s.QueueSize > 0 && c.Serialization.OfferTimeout <= 0 {
			errs = append(errs, errors.NewInvalidConfig(id.String()+".queue_size", "requires serialization.offer_timeout"))
		}
	}

	return errors.Join(errs...)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.LoadDir()}
	if c.Retention.KeepFiles {
		dirs = append(dirs, c.RetentionDir())
	}
	if c.ExportEnabled() {
		dirs = append(dirs, c.ExportDir())
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
