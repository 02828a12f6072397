package store

import (
	"sync"

	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/message"
	"github.com/xtxerr/tlmarchive/internal/validation"
)

// commandFormatter writes the CommandMessage row the first time a request
// is seen and a CommandStatus row for every message. A request is
// forgotten once its final status is archived.
type commandFormatter struct {
	pending sync.Map // request id -> struct{}
}

func (f *commandFormatter) Topics() []string { return []string{message.TopicCommand} }

func (f *commandFormatter) Key(c *message.Command) string { return c.RequestID }

func (f *commandFormatter) Format(ctx *Context, c *message.Command) error {
	if err := validation.All(
		validation.Required("requestId", c.RequestID),
		validation.Required("status", c.Status.Status),
		validation.RequiredTime("rct", c.Status.RCT),
	); err != nil {
		return err
	}

	_, seen := f.pending.LoadOrStore(c.RequestID, struct{}{})
	if !seen {
		if err := validation.Required("message", c.Message); err != nil {
			f.pending.Delete(c.RequestID)
			return err
		}
		ctx.Row(ctx.Value).
			String(c.RequestID).
			String(c.Message).
			OptString(c.Type).
			OptString(c.OriginalFile).
			OptString(c.ScmfFile).
			OptString(c.CommandedSide).
			Int(c.Checksum)
		if err := ctx.Value.End(); err != nil {
			f.pending.Delete(c.RequestID)
			return err
		}
	}

	st := c.Status
	ctx.CheckStation(st.DSSID)
	ctx.Row(ctx.Metadata).
		String(c.RequestID).
		Time(st.RCT).
		String(st.Status).
		OptString(st.FailReason).
		Time(st.Bit1RadTime).
		Time(st.LastBitRadTime).
		Int(int64(st.DSSID)).
		Bool(st.Final)
	if err := ctx.Metadata.End(); err != nil {
		if !seen {
			f.pending.Delete(c.RequestID)
		}
		return err
	}

	if st.Final {
		f.pending.Delete(c.RequestID)
	}
	return nil
}

// Forget implements Forgetter. A lost CommandMessage row is written again
// with the next status of the request.
func (f *commandFormatter) Forget(requestID string, kind types.StreamKind) {
	if kind == types.StreamValue {
		f.pending.Delete(requestID)
	}
}

// logFormatter writes one LogMessage row per message.
type logFormatter struct{}

func (f *logFormatter) Topics() []string { return []string{message.TopicLog} }

func (f *logFormatter) Key(l *message.Log) string { return l.Type }

func (f *logFormatter) Format(ctx *Context, l *message.Log) error {
	if err := validation.All(
		validation.Required("classification", l.Classification),
		validation.Required("message", l.Message),
		validation.RequiredTime("rct", l.RCT),
	); err != nil {
		return err
	}

	ctx.Row(ctx.Value).
		Time(l.RCT).
		Time(l.EventTime).
		String(l.Classification).
		OptString(l.Type).
		String(l.Message)
	return ctx.Value.End()
}
