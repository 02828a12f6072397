package store

import (
	"strconv"

	"github.com/xtxerr/tlmarchive/internal/message"
	"github.com/xtxerr/tlmarchive/internal/validation"
)

// evrFormatter writes one Evr row and one metadata row per keyword.
type evrFormatter struct {
	topic string
}

func (f *evrFormatter) Topics() []string { return []string{f.topic} }

func (f *evrFormatter) Key(e *message.Evr) string { return strconv.FormatInt(e.ID, 10) }

func (f *evrFormatter) Format(ctx *Context, e *message.Evr) error {
	if err := validation.All(
		validation.Required("name", e.Name),
		validation.Required("level", e.Level),
		validation.NonNegative("id", e.ID),
	); err != nil {
		return err
	}

	ctx.CheckStation(e.DSSID)
	ctx.CheckVCID(e.VCID)

	w := ctx.Row(ctx.Value).
		Int(e.ID).
		Int(e.EventID).
		String(e.Name).
		String(e.Level).
		OptString(e.Module).
		String(e.Message).
		Time(e.ERT).
		Time(e.SCET).
		Uint(uint64(e.SCLK.Coarse)).
		Uint(uint64(e.SCLK.Fine)).
		Time(e.RCT).
		Int(int64(e.DSSID))
	OptInt32(w, e.VCID).Bool(e.Realtime)
	if err := w.End(); err != nil {
		return err
	}

	for _, kv := range e.Metadata {
		if kv.Keyword == "" {
			ctx.Warn("evr metadata entry without keyword skipped")
			continue
		}
		ctx.Row(ctx.Metadata).
			Int(e.ID).
			String(kv.Keyword).
			String(kv.Value)
		if err := ctx.Metadata.End(); err != nil {
			return err
		}
	}
	return nil
}
