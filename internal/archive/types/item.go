package types

import "time"

// InsertItem describes one closed load file waiting for its bulk load.
// Items are immutable once created.
type InsertItem struct {
	Store     Identifier
	Kind      StreamKind
	File      string
	Table     string
	Fields    string // comma separated column list
	Rows      int64
	SetClause string // optional, appended to the load statement
	Created   time.Time
}

// HasSetClause reports whether the item carries an extra SQL clause.
func (it InsertItem) HasSetClause() bool {
	return it.SetClause != ""
}
