package aggregate

import (
	"sort"
	"sync"
	"time"
)

// Manager manages open windows for many channels.
type Manager struct {
	mu sync.Mutex

	window   time.Duration
	accuracy float64

	windows   map[string]*Window
	completed []Result

	stats Stats
}

// Stats holds statistics for the manager.
type Stats struct {
	ActiveWindows    int64
	CompletedPending int64
	SamplesProcessed int64
	LateSamples      int64
	WindowsCompleted int64
}

// NewManager creates a manager with the given window size and percentile
// accuracy. An accuracy <= 0 disables percentiles.
func NewManager(window time.Duration, accuracy float64) *Manager {
	if window <= 0 {
		window = time.Minute
	}
	return &Manager{
		window:   window,
		accuracy: accuracy,
		windows:  make(map[string]*Window),
	}
}

// Process adds a sample to its channel's open window. A sample for a later
// window completes the open one. A sample older than the open window is
// counted as late and dropped.
func (m *Manager) Process(channelID string, value float64, ert time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, end := m.bounds(ert)

	w, ok := m.windows[channelID]
	switch {
	case !ok:
		w = NewWindow(channelID, start, end, m.accuracy)
		m.windows[channelID] = w
	case start.After(w.Start()):
		if !w.IsEmpty() {
			m.completed = append(m.completed, w.Result())
			m.stats.WindowsCompleted++
		}
		w.Reset(start, end)
	case start.Before(w.Start()):
		m.stats.LateSamples++
		return
	}

	w.Add(value)
	m.stats.SamplesProcessed++
}

// FlushCompleted returns and clears all completed windows.
func (m *Manager) FlushCompleted() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.completed) == 0 {
		return nil
	}
	out := m.completed
	m.completed = nil
	return out
}

// FlushAll completes every open window and returns all pending results,
// ordered by channel for open windows. Used when the store stops.
func (m *Manager) FlushAll() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.windows))
	for id := range m.windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if w := m.windows[id]; !w.IsEmpty() {
			m.completed = append(m.completed, w.Result())
			m.stats.WindowsCompleted++
		}
	}
	m.windows = make(map[string]*Window)

	out := m.completed
	m.completed = nil
	return out
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.ActiveWindows = int64(len(m.windows))
	stats.CompletedPending = int64(len(m.completed))
	return stats
}

// WindowSize returns the configured window size.
func (m *Manager) WindowSize() time.Duration {
	return m.window
}

func (m *Manager) bounds(ert time.Time) (start, end time.Time) {
	start = ert.UTC().Truncate(m.window)
	return start, start.Add(m.window)
}
