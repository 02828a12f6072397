package config

import (
	"strings"

	"github.com/xtxerr/tlmarchive/internal/archive/backpressure"
	"github.com/xtxerr/tlmarchive/internal/archive/gatherer"
	"github.com/xtxerr/tlmarchive/internal/archive/inserter"
	"github.com/xtxerr/tlmarchive/internal/archive/loader"
	"github.com/xtxerr/tlmarchive/internal/archive/retention"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/bus/kafka"
	"github.com/xtxerr/tlmarchive/internal/retry"
)

// The methods below translate configuration sections into component
// configurations. They assume Validate succeeded.

// SessionInfo returns the archive session.
func (c *Config) SessionInfo() *types.Session {
	s := c.Session
	return &types.Session{
		ID:       s.ID,
		HostID:   s.HostID,
		Host:     s.Host,
		Fragment: s.Fragment,
		Stations: append([]int32(nil), s.Stations...),
		VCIDs:    append([]int32(nil), s.VCIDs...),
	}
}

// GathererSettings returns the gatherer configuration.
func (c *Config) GathererSettings() gatherer.Config {
	return gatherer.Config{
		FlushInterval: c.Gatherer.FlushInterval,
		RowLimit:      c.Gatherer.RowLimit,
	}
}

// InserterSettings returns the inserter configuration for one store.
// Retainer and OnFatal are left to the caller.
func (c *Config) InserterSettings(id types.Identifier) inserter.Config {
	in := c.Inserter
	return inserter.Config{
		Store:              id,
		PollInterval:       in.PollInterval,
		FileCheckRetries:   in.FileCheckRetries,
		FileCheckDelay:     in.FileCheckDelay,
		DeleteRetries:      in.DeleteRetries,
		DeleteDelay:        in.DeleteDelay,
		LoadTimeout:        in.LoadTimeout,
		PercentileAccuracy: c.Aggregate.PercentileAccuracy,
	}
}

// LoaderSettings returns the bulk-load connection configuration.
func (c *Config) LoaderSettings() loader.Config {
	r := c.Database.Reconnect
	return loader.Config{
		Dialect:    strings.ToLower(c.Database.Dialect),
		DSN:        c.Database.DSN,
		Concurrent: c.Database.Concurrent,
		Reconnect: retry.Config{
			MaxAttempts:  r.MaxAttempts,
			InitialDelay: r.InitialDelay,
			MaxDelay:     r.MaxDelay,
			Multiplier:   r.Multiplier,
			Jitter:       true,
		},
	}
}

// RetentionSettings returns the retention manager configuration.
func (c *Config) RetentionSettings() retention.Config {
	comp, _ := retention.ParseCompression(c.Retention.Compression)
	return retention.Config{
		Dir:         c.RetentionDir(),
		Compression: comp,
		MaxAge:      c.Retention.MaxAge,
	}
}

// BackpressureSettings returns the pressure controller configuration.
func (c *Config) BackpressureSettings() backpressure.Config {
	b := c.Backpressure
	return backpressure.Config{
		Enabled: b.Enabled,
		Thresholds: backpressure.Thresholds{
			Warning:   b.Thresholds.Warning,
			Critical:  b.Thresholds.Critical,
			Emergency: b.Thresholds.Emergency,
		},
		Hysteresis: b.Recovery.Hysteresis,
		Cooldown:   b.Recovery.Cooldown,
	}
}

// Bridge returns the kafka bridge configuration.
func (c *KafkaConfig) Bridge() kafka.Config {
	return kafka.Config{
		Brokers: c.Brokers,
		Group:   c.Group,
		Topics:  c.Topics,
	}
}
