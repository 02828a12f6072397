package backpressure

import (
	"testing"
	"time"
)

type fakeQueue struct {
	usage float64
}

func (q *fakeQueue) sample() (string, float64) { return "evr", q.usage }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Thresholds = Thresholds{Warning: 0.50, Critical: 0.80, Emergency: 0.95}
	cfg.Hysteresis = 0.10
	cfg.Cooldown = 0
	return cfg
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelNormal, "normal"},
		{LevelWarning, "warning"},
		{LevelCritical, "critical"},
		{LevelEmergency, "emergency"},
		{Level(9), "unknown"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("level %d: expected %s, got %s", tt.level, tt.expected, tt.level.String())
		}
	}
}

func TestController_Check(t *testing.T) {
	q := &fakeQueue{}
	c := New(testConfig(), q.sample)

	steps := []struct {
		usage float64
		want  Level
	}{
		{0.00, LevelNormal},
		{0.50, LevelWarning},
		{0.80, LevelCritical},
		{0.95, LevelEmergency},
		{1.00, LevelEmergency},
	}

	for _, s := range steps {
		q.usage = s.usage
		if got := c.Check(); got != s.want {
			t.Errorf("usage %.2f: expected %s, got %s", s.usage, s.want, got)
		}
	}
}

func TestController_Hysteresis(t *testing.T) {
	q := &fakeQueue{}
	c := New(testConfig(), q.sample)

	steps := []struct {
		usage float64
		want  Level
	}{
		{0.55, LevelWarning},
		{0.45, LevelWarning}, // above 0.50 - 0.10
		{0.35, LevelNormal},
		{0.85, LevelCritical},
		{0.75, LevelCritical}, // above 0.80 - 0.10
		{0.65, LevelWarning},
		{0.10, LevelNormal},
		{0.99, LevelEmergency},
		{0.20, LevelNormal}, // falls through every level at once
	}

	for _, s := range steps {
		q.usage = s.usage
		if got := c.Check(); got != s.want {
			t.Errorf("usage %.2f: expected %s, got %s", s.usage, s.want, got)
		}
	}
}

func TestController_Cooldown(t *testing.T) {
	q := &fakeQueue{}
	cfg := testConfig()
	cfg.Cooldown = time.Hour
	c := New(cfg, q.sample)

	c.Check()
	q.usage = 1.0
	if got := c.Check(); got != LevelNormal {
		t.Errorf("check inside cooldown should keep level, got %s", got)
	}
}

func TestController_OnLevelChange(t *testing.T) {
	q := &fakeQueue{}
	c := New(testConfig(), q.sample)

	var calls int
	var oldLevel, newLevel Level
	var queue string

	c.SetOnLevelChange(func(old, new Level, name string, usage float64) {
		calls++
		oldLevel, newLevel, queue = old, new, name
	})

	q.usage = 0.55
	c.Check()
	c.Check()

	if calls != 1 {
		t.Fatalf("expected 1 callback, got %d", calls)
	}
	if oldLevel != LevelNormal || newLevel != LevelWarning {
		t.Errorf("expected normal -> warning, got %s -> %s", oldLevel, newLevel)
	}
	if queue != "evr" {
		t.Errorf("expected queue evr, got %q", queue)
	}
}

func TestController_Stats(t *testing.T) {
	q := &fakeQueue{}
	c := New(testConfig(), q.sample)

	q.usage = 0.97
	c.Check()
	q.usage = 0.30
	c.Check()

	stats := c.Stats()
	if stats.CurrentLevel != LevelNormal {
		t.Errorf("expected normal level, got %s", stats.CurrentLevel)
	}
	if stats.LevelChanges != 2 {
		t.Errorf("expected 2 level changes, got %d", stats.LevelChanges)
	}
	if stats.EmergencyCount != 1 {
		t.Errorf("expected 1 emergency count, got %d", stats.EmergencyCount)
	}
	if stats.PeakUsage != 0.97 {
		t.Errorf("expected peak 0.97, got %.2f", stats.PeakUsage)
	}
	if stats.LastUsage != 0.30 || stats.LastQueue != "evr" {
		t.Errorf("last sample = %s %.2f", stats.LastQueue, stats.LastUsage)
	}
}

func TestController_Disabled(t *testing.T) {
	q := &fakeQueue{usage: 1.0}
	cfg := testConfig()
	cfg.Enabled = false
	c := New(cfg, q.sample)

	if level := c.Check(); level != LevelNormal {
		t.Errorf("expected normal when disabled, got %s", level)
	}
	if c.IsEnabled() {
		t.Error("IsEnabled should be false")
	}
}
