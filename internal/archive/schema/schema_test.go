package schema

import (
	"strings"
	"testing"

	"github.com/xtxerr/tlmarchive/internal/archive/types"
)

func TestFor_EveryIdentifierHasValueTable(t *testing.T) {
	names := make(map[string]types.Identifier)
	for _, id := range types.AllIdentifiers() {
		p := For(id)
		if p.Value == nil {
			t.Errorf("%v: no value table", id)
			continue
		}
		for _, tbl := range []*Table{p.Value, p.Metadata} {
			if tbl == nil {
				continue
			}
			if prev, dup := names[tbl.Name]; dup {
				t.Errorf("table %s used by %v and %v", tbl.Name, prev, id)
			}
			names[tbl.Name] = id

			if tbl.Fields[0].Name != "sessionId" {
				t.Errorf("%s: first column %q, want sessionId", tbl.Name, tbl.Fields[0].Name)
			}
		}
	}
}

func TestTable_FieldList(t *testing.T) {
	tbl := NewTable("T", f("a"), s("b", 4), f("c"))

	if tbl.Width() != 3 {
		t.Errorf("Width() = %d, want 3", tbl.Width())
	}
	if tbl.FieldList() != "a,b,c" {
		t.Errorf("FieldList() = %q", tbl.FieldList())
	}
	if tbl.Index("b") != 1 || tbl.Index("zzz") != -1 {
		t.Error("Index lookup wrong")
	}
}

func TestPair_Table(t *testing.T) {
	p := For(types.Evr)
	if p.Table(types.StreamValue).Name != "Evr" {
		t.Errorf("value table = %s", p.Table(types.StreamValue).Name)
	}
	if p.Table(types.StreamMetadata).Name != "EvrMetadata" {
		t.Errorf("metadata table = %s", p.Table(types.StreamMetadata).Name)
	}
	if For(types.LogMessage).Table(types.StreamMetadata) != nil {
		t.Error("log messages have no metadata table")
	}
}

func TestChannelValue_FlagColumnsFollowValues(t *testing.T) {
	tbl := For(types.ChannelValue).Value
	list := tbl.FieldList()
	if !strings.Contains(list, "dnDouble,dnDoubleFlag") || !strings.Contains(list, "eu,euFlag") {
		t.Errorf("flag columns must follow their value columns: %s", list)
	}
}
