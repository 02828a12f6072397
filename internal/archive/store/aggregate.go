package store

import (
	"time"

	"github.com/xtxerr/tlmarchive/internal/archive/aggregate"
	"github.com/xtxerr/tlmarchive/internal/message"
	"github.com/xtxerr/tlmarchive/internal/validation"
)

// aggregateFormatter summarizes channel samples into ERT windows. A
// window's row is written by the record that completes it; open windows
// are written when the store stops.
type aggregateFormatter struct {
	topic string
	mgr   *aggregate.Manager
}

// defaultAccuracy is the relative percentile accuracy when none is configured.
const defaultAccuracy = 0.01

func newAggregateFormatter(topic string, window time.Duration, accuracy float64) *aggregateFormatter {
	if accuracy <= 0 {
		accuracy = defaultAccuracy
	}
	return &aggregateFormatter{
		topic: topic,
		mgr:   aggregate.NewManager(window, accuracy),
	}
}

func (f *aggregateFormatter) Topics() []string { return []string{f.topic} }

func (f *aggregateFormatter) Key(cv *message.ChannelValue) string { return cv.ChannelID }

func (f *aggregateFormatter) Format(ctx *Context, cv *message.ChannelValue) error {
	if err := validation.ValidateChannelID(cv.ChannelID); err != nil {
		return err
	}
	if err := validation.RequiredTime("ert", cv.ERT); err != nil {
		return err
	}

	v, ok := cv.Value()
	if !ok {
		// Non-numeric channels have no aggregate.
		return nil
	}
	f.mgr.Process(cv.ChannelID, v, cv.ERT)

	return f.writeResults(ctx, f.mgr.FlushCompleted())
}

// Finish writes every open window.
func (f *aggregateFormatter) Finish(ctx *Context) error {
	return f.writeResults(ctx, f.mgr.FlushAll())
}

func (f *aggregateFormatter) writeResults(ctx *Context, results []aggregate.Result) error {
	for _, r := range results {
		w := ctx.Row(ctx.Value).
			String(r.ChannelID).
			Time(r.WindowStart).
			Time(r.WindowEnd).
			Int(r.Count)
		if r.Count == 0 {
			w.Null().Null().Null().Null().Null().Null()
		} else {
			w.Float(r.Min).Float(r.Max).Float(r.Mean).Float(r.P50).Float(r.P90).Float(r.P99)
		}
		w.Int(r.Exceptional)
		if err := w.End(); err != nil {
			return err
		}
	}
	return nil
}
