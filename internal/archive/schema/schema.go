// Package schema describes the tables load files are written for.
//
// A Table lists its columns in file order. The column list doubles as the
// field list of the bulk-load statement, so the order here must match the
// order formatters append fields in.
package schema

import (
	"strings"

	"github.com/xtxerr/tlmarchive/internal/archive/types"
)

// Field is one column of a load file.
type Field struct {
	Name string
	// MaxLen is the column width for string fields in runes.
	// Zero means the column has no declared width.
	MaxLen int
}

// Table is the column layout of one load file kind.
type Table struct {
	Name   string
	Fields []Field

	fieldList string
}

// NewTable creates a table from its columns.
func NewTable(name string, fields ...Field) *Table {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return &Table{
		Name:      name,
		Fields:    fields,
		fieldList: strings.Join(names, ","),
	}
}

// Width returns the number of columns.
func (t *Table) Width() int {
	return len(t.Fields)
}

// FieldList returns the comma separated column list.
func (t *Table) FieldList() string {
	return t.fieldList
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Pair holds the value table of a store and its optional metadata table.
type Pair struct {
	Value    *Table
	Metadata *Table
}

// Table returns the table for the given stream kind, or nil.
func (p Pair) Table(kind types.StreamKind) *Table {
	if kind == types.StreamMetadata {
		return p.Metadata
	}
	return p.Value
}

// For returns the tables written by the store with the given identifier.
func For(id types.Identifier) Pair {
	return tables[id]
}
