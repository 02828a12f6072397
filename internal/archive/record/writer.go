// Package record builds the delimited rows of a load file.
//
// Row format:
//
//	field,field,field\n
//
// Fields are separated by ',' and rows end with '\n'. Inside a field the
// bytes '\\', ',', newline, carriage return, NUL and 0x1A are escaped with
// a backslash (\\ \, \n \r \0 \Z). An explicit NULL is written as \N.
//
// Floating values that a numeric column cannot hold (NaN and both
// infinities) are written as NULL followed by a flag field carrying the
// sentinel text NaN, Infinity or -Infinity. A finite value is followed by a
// NULL flag.
package record

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/xtxerr/tlmarchive/internal/archive/schema"
	"github.com/xtxerr/tlmarchive/internal/errors"
)

// Sentinel texts written to flag fields.
const (
	FlagNaN         = "NaN"
	FlagPosInfinity = "Infinity"
	FlagNegInfinity = "-Infinity"
)

// TimeLayout is the textual layout of time fields. Times are written in UTC.
const TimeLayout = "2006-01-02 15:04:05.000000"

const null = `\N`

// Writer accumulates the rows of one record for one table.
// A Writer is not safe for concurrent use.
type Writer struct {
	table *schema.Table

	buf      []byte
	rowStart int
	field    int
	rows     int

	truncated []string
}

// NewWriter creates a writer for rows of table t.
func NewWriter(t *schema.Table) *Writer {
	return &Writer{
		table: t,
		buf:   make([]byte, 0, 256),
	}
}

// Table returns the table the writer formats rows for.
func (w *Writer) Table() *schema.Table {
	return w.table
}

// sep starts a new field.
func (w *Writer) sep() {
	if w.field > 0 {
		w.buf = append(w.buf, ',')
	}
	w.field++
}

// Null appends an explicit NULL.
func (w *Writer) Null() *Writer {
	w.sep()
	w.buf = append(w.buf, null...)
	return w
}

// Int appends a signed integer.
func (w *Writer) Int(v int64) *Writer {
	w.sep()
	w.buf = strconv.AppendInt(w.buf, v, 10)
	return w
}

// Uint appends an unsigned integer.
func (w *Writer) Uint(v uint64) *Writer {
	w.sep()
	w.buf = strconv.AppendUint(w.buf, v, 10)
	return w
}

// Float appends a finite float. NaN and infinities become NULL.
// Use FloatFlag for columns that carry a flag sibling.
func (w *Writer) Float(v float64) *Writer {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return w.Null()
	}
	w.sep()
	w.buf = strconv.AppendFloat(w.buf, v, 'g', -1, 64)
	return w
}

// FloatFlag appends a value field and its flag field. It reports whether
// the value was exceptional.
func (w *Writer) FloatFlag(v float64) bool {
	flag := ExceptionalFlag(v)
	if flag == "" {
		w.Float(v)
		w.Null()
		return false
	}
	w.Null()
	w.sep()
	w.buf = append(w.buf, flag...)
	return true
}

// Bool appends 1 or 0.
func (w *Writer) Bool(v bool) *Writer {
	w.sep()
	if v {
		w.buf = append(w.buf, '1')
	} else {
		w.buf = append(w.buf, '0')
	}
	return w
}

// String appends an escaped string. Strings longer than the column width
// are cut to fit and the column is reported by Truncated.
func (w *Writer) String(v string) *Writer {
	if w.field < len(w.table.Fields) {
		col := w.table.Fields[w.field]
		if cut, ok := Truncate(v, col.MaxLen); ok {
			v = cut
			w.truncated = append(w.truncated, col.Name)
		}
	}
	w.sep()
	w.buf = appendEscaped(w.buf, v)
	return w
}

// OptString appends v, or NULL when v is empty.
func (w *Writer) OptString(v string) *Writer {
	if v == "" {
		return w.Null()
	}
	return w.String(v)
}

// Blob appends binary data as lower-case hex.
func (w *Writer) Blob(v []byte) *Writer {
	if v == nil {
		return w.Null()
	}
	w.sep()
	w.buf = hex.AppendEncode(w.buf, v)
	return w
}

// Time appends a UTC timestamp with microsecond precision. The zero time
// is written as NULL.
func (w *Writer) Time(v time.Time) *Writer {
	if v.IsZero() {
		return w.Null()
	}
	w.sep()
	w.buf = v.UTC().AppendFormat(w.buf, TimeLayout)
	return w
}

// End terminates the current row. If the row does not have exactly one
// field per column it is discarded and ErrFieldCount is returned.
func (w *Writer) End() error {
	if w.field != w.table.Width() {
		got := w.field
		w.buf = w.buf[:w.rowStart]
		w.field = 0
		return fmt.Errorf("%s: %d fields, want %d: %w",
			w.table.Name, got, w.table.Width(), errors.ErrFieldCount)
	}
	w.buf = append(w.buf, '\n')
	w.rowStart = len(w.buf)
	w.field = 0
	w.rows++
	return nil
}

// Bytes returns the completed rows. The slice aliases the writer buffer.
func (w *Writer) Bytes() []byte {
	return w.buf[:w.rowStart]
}

// Rows returns the number of completed rows.
func (w *Writer) Rows() int {
	return w.rows
}

// Truncated returns the names of columns cut to width since the last Reset.
func (w *Writer) Truncated() []string {
	return w.truncated
}

// Reset clears the writer for reuse with the same table.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.rowStart = 0
	w.field = 0
	w.rows = 0
	w.truncated = w.truncated[:0]
}

// ExceptionalFlag returns the sentinel text for NaN and infinities, or ""
// for finite values.
func ExceptionalFlag(v float64) string {
	switch {
	case math.IsNaN(v):
		return FlagNaN
	case math.IsInf(v, 1):
		return FlagPosInfinity
	case math.IsInf(v, -1):
		return FlagNegInfinity
	default:
		return ""
	}
}

// Truncate cuts s to at most maxLen runes. It reports whether s was cut.
// A maxLen of zero or less means no limit.
func Truncate(s string, maxLen int) (string, bool) {
	if maxLen <= 0 || len(s) <= maxLen {
		return s, false
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s, false
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i], true
		}
		n++
	}
	return s, false
}

func appendEscaped(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			buf = append(buf, '\\', '\\')
		case ',':
			buf = append(buf, '\\', ',')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case 0:
			buf = append(buf, '\\', '0')
		case 0x1a:
			buf = append(buf, '\\', 'Z')
		default:
			buf = append(buf, c)
		}
	}
	return buf
}

// Unescape reverses the field escaping. It returns ok=false for the NULL
// marker.
func Unescape(field string) (string, bool) {
	if field == null {
		return "", false
	}
	out := make([]byte, 0, len(field))
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c != '\\' || i+1 == len(field) {
			out = append(out, c)
			continue
		}
		i++
		switch field[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case '0':
			out = append(out, 0)
		case 'Z':
			out = append(out, 0x1a)
		default:
			out = append(out, field[i])
		}
	}
	return string(out), true
}

// SplitFields splits one row on unescaped field separators. Escape
// sequences are kept as written; pass each field to Unescape.
func SplitFields(row string) []string {
	var fields []string
	start := 0
	for i := 0; i < len(row); i++ {
		switch row[i] {
		case '\\':
			i++
		case ',':
			fields = append(fields, row[start:i])
			start = i + 1
		}
	}
	return append(fields, row[start:])
}
