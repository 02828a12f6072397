package store

import (
	"fmt"
	"sync"

	"github.com/xtxerr/tlmarchive/internal/archive/record"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/message"
	"github.com/xtxerr/tlmarchive/internal/validation"
)

// channelFormatter archives channel samples into a channel value table and
// writes the channel definition to the channel data table the first time a
// channel is seen.
type channelFormatter struct {
	topic string
	known sync.Map // channel id -> struct{}
}

func newChannelFormatter(topic string) *channelFormatter {
	return &channelFormatter{topic: topic}
}

func (f *channelFormatter) Topics() []string { return []string{f.topic} }

func (f *channelFormatter) Key(cv *message.ChannelValue) string { return cv.ChannelID }

func (f *channelFormatter) Format(ctx *Context, cv *message.ChannelValue) error {
	if err := validation.ValidateChannelID(cv.ChannelID); err != nil {
		return err
	}
	if err := validation.RequiredTime("ert", cv.ERT); err != nil {
		return err
	}
	if cv.Type == message.ChannelBoolean && cv.DNUint > 1 {
		ctx.Warn("boolean channel value coerced to 1", "dn", cv.DNUint)
		coerced := *cv
		coerced.DNUint = 1
		cv = &coerced
	}

	ctx.CheckStation(cv.DSSID)
	ctx.CheckVCID(cv.VCID)

	w := ctx.Row(ctx.Value).String(cv.ChannelID)
	OptInt32(w, cv.VCID).
		Int(int64(cv.DSSID)).
		Time(cv.ERT).
		Time(cv.SCET).
		Uint(uint64(cv.SCLK.Coarse)).
		Uint(uint64(cv.SCLK.Fine)).
		Time(cv.RCT)

	if err := writeDN(w, cv); err != nil {
		return err
	}

	if cv.EU == nil {
		w.Null().Null()
	} else {
		w.FloatFlag(float64(*cv.EU))
	}
	w.OptString(cv.DNAlarmState).
		OptString(cv.EUAlarmState).
		Bool(cv.Realtime)
	if err := w.End(); err != nil {
		return err
	}

	if _, seen := f.known.LoadOrStore(cv.ChannelID, struct{}{}); seen {
		return nil
	}
	if err := writeChannelData(ctx, cv); err != nil {
		f.known.Delete(cv.ChannelID)
		return err
	}
	return nil
}

// Forget implements Forgetter. A lost channel data row is written again
// with the next sample of the channel.
func (f *channelFormatter) Forget(id string, kind types.StreamKind) {
	if kind == types.StreamMetadata {
		f.known.Delete(id)
	}
}

// writeDN writes the dnInt, dnUint, dnDouble, dnDoubleFlag and dnString
// columns. Exactly one of them carries the value.
func writeDN(w *record.Writer, cv *message.ChannelValue) error {
	switch cv.Type {
	case message.ChannelSignedInt, message.ChannelStatus:
		w.Int(cv.DNInt).Null().Null().Null().Null()
	case message.ChannelUnsignedInt, message.ChannelDigital, message.ChannelBoolean, message.ChannelTime:
		w.Null().Uint(cv.DNUint).Null().Null().Null()
	case message.ChannelFloat:
		w.Null().Null()
		w.FloatFlag(float64(cv.DNFloat))
		w.Null()
	case message.ChannelASCII:
		w.Null().Null().Null().Null().String(cv.DNString)
	default:
		return errors.NewInvalidValue("type", cv.Type, "unknown channel type")
	}
	return nil
}

func writeChannelData(ctx *Context, cv *message.ChannelValue) error {
	if ctx.Metadata == nil {
		return fmt.Errorf("%s has no channel data table", ctx.Store)
	}
	ctx.Row(ctx.Metadata).
		String(cv.ChannelID).
		Int(int64(cv.Index)).
		String(cv.Type).
		OptString(cv.Name).
		OptString(cv.Module).
		OptString(cv.DNFormat).
		OptString(cv.EUFormat)
	return ctx.Metadata.End()
}
