// Package aggregate computes per-channel summaries over fixed ERT windows.
//
// Each channel keeps one open window. A sample whose ERT falls in a later
// window completes the open one; completed windows are collected until the
// owning store flushes them into its aggregate table.
package aggregate

import (
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Result is one completed channel window.
type Result struct {
	ChannelID   string
	WindowStart time.Time
	WindowEnd   time.Time
	Count       int64
	Min         float64
	Max         float64
	Mean        float64
	P50         float64
	P90         float64
	P99         float64

	// Exceptional counts NaN and infinite samples, which are not part of
	// the statistics above.
	Exceptional int64
}

// Window maintains running statistics for one channel and window.
// It is not safe for concurrent use; the Manager serializes access.
type Window struct {
	channelID string
	start     time.Time
	end       time.Time

	count       int64
	sum         float64
	min         float64
	max         float64
	exceptional int64

	accuracy float64
	sketch   *ddsketch.DDSketch
}

// NewWindow creates an empty window for a channel.
func NewWindow(channelID string, start, end time.Time, accuracy float64) *Window {
	w := &Window{
		channelID: channelID,
		accuracy:  accuracy,
	}
	w.Reset(start, end)
	return w
}

// Add adds a value to the window.
func (w *Window) Add(value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		w.exceptional++
		return
	}

	w.count++
	w.sum += value
	if value < w.min {
		w.min = value
	}
	if value > w.max {
		w.max = value
	}
	if w.sketch != nil {
		w.sketch.Add(value)
	}
}

// Start returns the window start.
func (w *Window) Start() time.Time { return w.start }

// IsEmpty returns true if nothing was added, exceptional values included.
func (w *Window) IsEmpty() bool {
	return w.count == 0 && w.exceptional == 0
}

// Result returns the window summary.
func (w *Window) Result() Result {
	r := Result{
		ChannelID:   w.channelID,
		WindowStart: w.start,
		WindowEnd:   w.end,
		Count:       w.count,
		Exceptional: w.exceptional,
	}

	if w.count > 0 {
		r.Mean = w.sum / float64(w.count)
		r.Min = w.min
		r.Max = w.max
	}

	if w.sketch != nil && w.count > 0 {
		r.P50, _ = w.sketch.GetValueAtQuantile(0.50)
		r.P90, _ = w.sketch.GetValueAtQuantile(0.90)
		r.P99, _ = w.sketch.GetValueAtQuantile(0.99)
	}

	return r
}

// Reset clears the window and moves it to a new time range.
func (w *Window) Reset(start, end time.Time) {
	w.start = start
	w.end = end
	w.count = 0
	w.sum = 0
	w.min = math.MaxFloat64
	w.max = -math.MaxFloat64
	w.exceptional = 0

	// DDSketch has no Clear, so a new one is created
	w.sketch = nil
	if w.accuracy > 0 {
		if s, err := ddsketch.NewDefaultDDSketch(w.accuracy); err == nil {
			w.sketch = s
		}
	}
}
