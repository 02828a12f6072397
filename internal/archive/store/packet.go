package store

import (
	"strconv"

	"github.com/xtxerr/tlmarchive/internal/message"
	"github.com/xtxerr/tlmarchive/internal/validation"
)

// packetFormatter writes the packet header row and the body row.
type packetFormatter struct {
	topic string
}

func (f *packetFormatter) Topics() []string { return []string{f.topic} }

func (f *packetFormatter) Key(p *message.Packet) string { return strconv.FormatInt(p.ID, 10) }

func (f *packetFormatter) Format(ctx *Context, p *message.Packet) error {
	if err := validation.All(
		validation.APID(p.APID),
		validation.Range("spsc", int64(p.SPSC), 0, validation.MaxSPSC),
		validation.RequiredTime("ert", p.ERT),
	); err != nil {
		return err
	}
	if p.VCID != nil {
		if err := validation.VCID(*p.VCID); err != nil {
			return err
		}
	}

	ctx.CheckStation(p.DSSID)
	ctx.CheckVCID(p.VCID)

	w := ctx.Row(ctx.Value).
		Int(p.ID).
		Int(int64(p.APID)).
		Int(int64(p.SPSC)).
		Time(p.ERT).
		Time(p.SCET).
		Uint(uint64(p.SCLK.Coarse)).
		Uint(uint64(p.SCLK.Fine)).
		Time(p.RCT)
	OptInt32(w, p.VCID).
		Int(int64(p.DSSID)).
		Int(p.FrameID).
		Int(int64(len(p.Body))).
		Bool(p.Fill)
	if err := w.End(); err != nil {
		return err
	}

	ctx.Row(ctx.Metadata).Int(p.ID).Blob(p.Body)
	return ctx.Metadata.End()
}

// frameFormatter writes the frame header row and the body row.
type frameFormatter struct{}

func (f *frameFormatter) Topics() []string { return []string{message.TopicFrame} }

func (f *frameFormatter) Key(fr *message.Frame) string { return strconv.FormatInt(fr.ID, 10) }

func (f *frameFormatter) Format(ctx *Context, fr *message.Frame) error {
	if err := validation.All(
		validation.Required("type", fr.Type),
		validation.VCID(fr.VCID),
		validation.NonNegative("vcfc", fr.VCFC),
		validation.RequiredTime("ert", fr.ERT),
	); err != nil {
		return err
	}
	if !fr.Bad && fr.BadReason != "" {
		ctx.Warn("bad reason on a good frame ignored", "bad_reason", fr.BadReason)
	}

	ctx.CheckStation(fr.DSSID)
	vcid := fr.VCID
	ctx.CheckVCID(&vcid)

	w := ctx.Row(ctx.Value).
		Int(fr.ID).
		String(fr.Type).
		Int(int64(fr.VCID)).
		Int(fr.VCFC).
		Int(int64(fr.DSSID)).
		Time(fr.ERT).
		Time(fr.RCT).
		Int(int64(fr.RelaySpacecraftID)).
		Int(int64(len(fr.Body))).
		Bool(fr.Bad)
	if fr.Bad {
		w.OptString(fr.BadReason)
	} else {
		w.Null()
	}
	if err := w.End(); err != nil {
		return err
	}

	ctx.Row(ctx.Metadata).Int(fr.ID).Blob(fr.Body).Blob(fr.Trailer)
	return ctx.Metadata.End()
}
