// Package backpressure tracks serialization queue pressure.
//
// Blocking offers are the only mechanism that slows publishers down; the
// controller classifies the fullest queue into levels so operators see
// pressure building before publishers start to stall.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - queues draining normally.
	LevelNormal Level = iota

	// LevelWarning - a queue is filling up.
	LevelWarning

	// LevelCritical - a queue is close to full.
	LevelCritical

	// LevelEmergency - a queue is full and publishers are blocking.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Thresholds defines queue usage ratios for level changes.
type Thresholds struct {
	Warning   float64
	Critical  float64
	Emergency float64
}

// Config configures a Controller.
type Config struct {
	Enabled    bool
	Thresholds Thresholds

	// Hysteresis keeps a level until usage falls this far below its threshold.
	Hysteresis float64

	// Cooldown is the minimum time between evaluations.
	Cooldown time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Thresholds: Thresholds{
			Warning:   0.50,
			Critical:  0.80,
			Emergency: 0.95,
		},
		Hysteresis: 0.05,
		Cooldown:   time.Second,
	}
}

// Sample reports the fullest queue and its usage ratio.
type Sample func() (queue string, usage float64)

// Controller classifies queue usage into levels.
type Controller struct {
	mu sync.RWMutex

	config Config
	sample Sample

	level     atomic.Int32
	lastCheck time.Time
	lastLevel Level
	lastQueue string
	lastUsage float64

	stats Stats

	onLevelChange func(old, new Level, queue string, usage float64)
}

// Stats holds backpressure statistics.
type Stats struct {
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	PeakUsage      float64
}

// New creates a controller over the given sample function.
func New(cfg Config, sample Sample) *Controller {
	return &Controller{
		config: cfg,
		sample: sample,
	}
}

// SetOnLevelChange sets the callback for level changes.
func (c *Controller) SetOnLevelChange(fn func(old, new Level, queue string, usage float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check samples the queues and updates the level.
// This should be called periodically.
func (c *Controller) Check() Level {
	if !c.config.Enabled || c.sample == nil {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.config.Cooldown {
		return Level(c.level.Load())
	}
	c.lastCheck = now

	queue, usage := c.sample()
	c.lastQueue = queue
	c.lastUsage = usage
	if usage > c.stats.PeakUsage {
		c.stats.PeakUsage = usage
	}

	newLevel := c.determineLevel(usage)
	if newLevel != c.lastLevel {
		c.setLevel(newLevel, queue, usage)
	}
	return newLevel
}

// determineLevel rises immediately and falls one level at a time once usage
// drops below the current level's threshold minus the hysteresis.
func (c *Controller) determineLevel(usage float64) Level {
	raw := c.rawLevel(usage)
	if raw >= c.lastLevel {
		return raw
	}

	if usage < c.threshold(c.lastLevel)-c.config.Hysteresis {
		// Fall to the raw level unless the level directly below still holds.
		next := c.lastLevel - 1
		for next > raw && usage < c.threshold(next)-c.config.Hysteresis {
			next--
		}
		return next
	}
	return c.lastLevel
}

func (c *Controller) rawLevel(usage float64) Level {
	t := c.config.Thresholds
	switch {
	case usage >= t.Emergency:
		return LevelEmergency
	case usage >= t.Critical:
		return LevelCritical
	case usage >= t.Warning:
		return LevelWarning
	default:
		return LevelNormal
	}
}

func (c *Controller) threshold(l Level) float64 {
	switch l {
	case LevelWarning:
		return c.config.Thresholds.Warning
	case LevelCritical:
		return c.config.Thresholds.Critical
	case LevelEmergency:
		return c.config.Thresholds.Emergency
	default:
		return 0
	}
}

func (c *Controller) setLevel(newLevel Level, queue string, usage float64) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.LevelChanges++

	switch newLevel {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel, queue, usage)
	}
}

// CurrentLevel returns the current backpressure level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel   Level
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	PeakUsage      float64
	LastQueue      string
	LastUsage      float64
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ControllerStats{
		CurrentLevel:   c.CurrentLevel(),
		LevelChanges:   c.stats.LevelChanges,
		WarningCount:   c.stats.WarningCount,
		CriticalCount:  c.stats.CriticalCount,
		EmergencyCount: c.stats.EmergencyCount,
		PeakUsage:      c.stats.PeakUsage,
		LastQueue:      c.lastQueue,
		LastUsage:      c.lastUsage,
	}
}

// IsEnabled returns whether backpressure tracking is enabled.
func (c *Controller) IsEnabled() bool {
	return c.config.Enabled
}
