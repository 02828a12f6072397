// Package monitor holds the per-store stream state of the archive.
//
// A Monitor owns the open value and metadata streams of one store together
// with their row counters. Writers and the gatherer share a single lock per
// monitor: every append and every harvest happens under it, so the row
// count captured at harvest always equals the rows in the harvested file
// and no writer can touch a stream after it was handed off.
package monitor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/tlmarchive/internal/archive/schema"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
)

// Record is the formatted output for one input message. Either part may
// be empty.
type Record struct {
	Value        []byte
	ValueRows    int
	Metadata     []byte
	MetadataRows int
}

// Empty reports whether the record carries no rows.
func (r Record) Empty() bool {
	return r.ValueRows == 0 && r.MetadataRows == 0
}

// StreamError is a failed write of the rows of one stream kind.
type StreamError struct {
	Kind types.StreamKind
	Err  error
}

func (e *StreamError) Error() string { return e.Err.Error() }

func (e *StreamError) Unwrap() error { return e.Err }

// Lost reports whether the rows of kind in a record did not reach their
// stream, given the error Write returned for the record.
func Lost(err error, kind types.StreamKind) bool {
	if errors.Is(err, errors.ErrStoreInactive) {
		return true
	}
	return lostKind(err, kind)
}

func lostKind(err error, kind types.StreamKind) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *StreamError:
		return e.Kind == kind
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if lostKind(inner, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return lostKind(e.Unwrap(), kind)
	}
	return false
}

// Handoff is a stream taken out of a monitor by Harvest. The monitor no
// longer references it; the receiver must close it.
type Handoff struct {
	Store  types.Identifier
	Kind   types.StreamKind
	Stream Stream
	Table  *schema.Table
	Rows   int64
}

// Item converts the handoff into the inserter work item.
func (h Handoff) Item(setClause string) types.InsertItem {
	return types.InsertItem{
		Store:     h.Store,
		Kind:      h.Kind,
		File:      h.Stream.Path(),
		Table:     h.Table.Name,
		Fields:    h.Table.FieldList(),
		Rows:      h.Rows,
		SetClause: setClause,
	}
}

// Monitor tracks the open streams of one store.
type Monitor struct {
	id      types.Identifier
	tables  schema.Pair
	factory StreamFactory

	mu       sync.Mutex
	active   bool
	streams  [2]Stream
	inStream [2]int64

	processed [2]atomic.Int64
}

// New creates an inactive monitor for the store with the given identifier.
func New(id types.Identifier, factory StreamFactory) *Monitor {
	return &Monitor{
		id:      id,
		tables:  schema.For(id),
		factory: factory,
	}
}

// ID returns the store identifier.
func (m *Monitor) ID() types.Identifier {
	return m.id
}

// Tables returns the tables the store writes.
func (m *Monitor) Tables() schema.Pair {
	return m.tables
}

// SetActive flips the active flag.
func (m *Monitor) SetActive(active bool) {
	m.mu.Lock()
	m.active = active
	m.mu.Unlock()
}

// Active reports whether the store accepts writes.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Write appends a record to the open streams, opening them first if
// needed. Both parts are written under one lock acquisition. A failure on
// one stream does not undo or skip the other; the returned error joins
// both failures.
//
// The returned count is the larger of the two in-stream row counts after
// the write, for row limit checks.
func (m *Monitor) Write(rec Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return 0, errors.ErrStoreInactive
	}

	var errs []error
	if rec.ValueRows > 0 {
		if err := m.appendLocked(types.StreamValue, rec.Value, rec.ValueRows); err != nil {
			errs = append(errs, err)
		}
	}
	if rec.MetadataRows > 0 {
		if err := m.appendLocked(types.StreamMetadata, rec.Metadata, rec.MetadataRows); err != nil {
			errs = append(errs, err)
		}
	}

	return max(m.inStream[types.StreamValue], m.inStream[types.StreamMetadata]), errors.Join(errs...)
}

func (m *Monitor) appendLocked(kind types.StreamKind, data []byte, rows int) error {
	table := m.tables.Table(kind)
	if table == nil {
		return &StreamError{Kind: kind, Err: fmt.Errorf("%s has no %s table: %w", m.id, kind, errors.ErrStreamIO)}
	}

	s := m.streams[kind]
	if s == nil {
		opened, err := m.factory.Open(m.id, kind, table)
		if err != nil {
			return &StreamError{Kind: kind, Err: fmt.Errorf("%s open: %v: %w", kind, err, errors.ErrStreamIO)}
		}
		s = opened
		m.streams[kind] = s
	}

	if _, err := s.Write(data); err != nil {
		return &StreamError{Kind: kind, Err: fmt.Errorf("%s write %s: %v: %w", kind, s.Path(), err, errors.ErrStreamIO)}
	}

	m.inStream[kind] += int64(rows)
	m.processed[kind].Add(int64(rows))
	return nil
}

// HasEnoughToFlush reports whether either stream holds at least minimum
// rows. An empty stream never qualifies.
func (m *Monitor) HasEnoughToFlush(minimum int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enoughLocked(minimum)
}

func (m *Monitor) enoughLocked(minimum int64) bool {
	for _, n := range m.inStream {
		if n > 0 && n >= minimum {
			return true
		}
	}
	return false
}

// Harvest takes both streams out of the monitor if either holds at least
// minimum rows, and resets the in-stream counters. The swap happens under
// the writer lock.
//
// With minimum <= 0 an open stream that holds no rows (its writes failed)
// is handed off too, with Rows == 0, so the receiver can discard it.
func (m *Monitor) Harvest(minimum int64) []Handoff {
	m.mu.Lock()
	defer m.mu.Unlock()

	if minimum > 0 && !m.enoughLocked(minimum) {
		return nil
	}

	var out []Handoff
	for k := range m.streams {
		s := m.streams[k]
		if s == nil {
			continue
		}
		kind := types.StreamKind(k)
		out = append(out, Handoff{
			Store:  m.id,
			Kind:   kind,
			Stream: s,
			Table:  m.tables.Table(kind),
			Rows:   m.inStream[k],
		})
		m.streams[k] = nil
		m.inStream[k] = 0
	}
	return out
}

// Counts returns the rows in the open value and metadata streams.
func (m *Monitor) Counts() (values, metadata int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inStream[types.StreamValue], m.inStream[types.StreamMetadata]
}

// Totals returns the rows written since the monitor was created.
func (m *Monitor) Totals() (values, metadata int64) {
	return m.processed[types.StreamValue].Load(), m.processed[types.StreamMetadata].Load()
}
