package store

import (
	"bytes"
	"log/slog"

	"github.com/xtxerr/tlmarchive/internal/archive/monitor"
	"github.com/xtxerr/tlmarchive/internal/archive/record"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
)

// Context carries the writers and session of one record being formatted.
// A Context is used by one goroutine at a time.
type Context struct {
	Store   types.Identifier
	Session *types.Session

	// Value writes rows of the store's value table.
	Value *record.Writer

	// Metadata writes rows of the metadata table, nil if the store has none.
	Metadata *record.Writer

	log *slog.Logger
	key string
}

// Row starts a row on w with the session columns every table leads with.
func (c *Context) Row(w *record.Writer) *record.Writer {
	var s types.Session
	if c.Session != nil {
		s = *c.Session
	}
	return w.Int(s.ID).Int(int64(s.HostID)).Int(int64(s.Fragment))
}

// Warn logs a soft problem with the record. The record is still archived.
func (c *Context) Warn(msg string, args ...any) {
	c.log.Warn(msg, append([]any{"key", c.key}, args...)...)
}

// CheckStation warns when dss is outside the session's station list.
func (c *Context) CheckStation(dss int32) {
	if c.Session != nil && !c.Session.StationAllowed(dss) {
		c.Warn("station not configured for session", "dss_id", dss, "stations", c.Session.Stations)
	}
}

// CheckVCID warns when vcid is outside the session's virtual channel list.
func (c *Context) CheckVCID(vcid *int32) {
	if vcid != nil && c.Session != nil && !c.Session.VCIDAllowed(*vcid) {
		c.Warn("virtual channel not configured for session", "vcid", *vcid, "vcids", c.Session.VCIDs)
	}
}

// OptInt32 writes v, or NULL when v is nil.
func OptInt32(w *record.Writer, v *int32) *record.Writer {
	if v == nil {
		return w.Null()
	}
	return w.Int(int64(*v))
}

func (c *Context) writers() []*record.Writer {
	if c.Metadata == nil {
		return []*record.Writer{c.Value}
	}
	return []*record.Writer{c.Value, c.Metadata}
}

// record copies the completed rows out of the writers.
func (c *Context) record() monitor.Record {
	rec := monitor.Record{
		Value:     bytes.Clone(c.Value.Bytes()),
		ValueRows: c.Value.Rows(),
	}
	if c.Metadata != nil {
		rec.Metadata = bytes.Clone(c.Metadata.Bytes())
		rec.MetadataRows = c.Metadata.Rows()
	}
	return rec
}

func (c *Context) reset() {
	c.key = ""
	c.Value.Reset()
	if c.Metadata != nil {
		c.Metadata.Reset()
	}
}
