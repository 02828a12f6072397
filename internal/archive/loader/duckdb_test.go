package loader

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/tlmarchive/internal/archive/record"
	"github.com/xtxerr/tlmarchive/internal/archive/schema"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
)

func TestDuckDB_LoadFile(t *testing.T) {
	ctx := context.Background()
	l, err := OpenDuckDB(ctx, Config{Dialect: DialectDuckDB, Reconnect: fastRetry()})
	if err != nil {
		t.Fatalf("OpenDuckDB: %v", err)
	}
	defer l.Close()

	_, err = l.DB().Exec(`CREATE TABLE Sample (id BIGINT, name VARCHAR, value DOUBLE, valueFlag VARCHAR, ts TIMESTAMP)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	tbl := schema.NewTable("Sample",
		schema.Field{Name: "id"}, schema.Field{Name: "name"},
		schema.Field{Name: "value"}, schema.Field{Name: "valueFlag"}, schema.Field{Name: "ts"})

	w := record.NewWriter(tbl)
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	values := []float64{1.5, math.NaN(), math.Inf(-1)}
	for i, v := range values {
		w.Int(int64(i)).String("chan").FloatFlag(v)
		w.Time(ts)
		if err := w.End(); err != nil {
			t.Fatal(err)
		}
	}

	path := filepath.Join(t.TempDir(), "sample.ldi")
	if err := os.WriteFile(path, w.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	item := types.InsertItem{File: path, Table: tbl.Name, Fields: tbl.FieldList(), Rows: int64(w.Rows())}
	n, err := l.Load(ctx, item)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 3 {
		t.Errorf("Load reported %d rows, want 3", n)
	}

	var nulls, nan, neg int
	err = l.DB().QueryRow(`SELECT
		count(*) FILTER (WHERE value IS NULL),
		count(*) FILTER (WHERE valueFlag = 'NaN'),
		count(*) FILTER (WHERE valueFlag = '-Infinity')
		FROM Sample`).Scan(&nulls, &nan, &neg)
	if err != nil {
		t.Fatal(err)
	}
	if nulls != 2 || nan != 1 || neg != 1 {
		t.Errorf("nulls=%d nan=%d neg=%d, want 2 1 1", nulls, nan, neg)
	}
}

func TestDuckDB_FailureIsBulkLoadError(t *testing.T) {
	ctx := context.Background()
	l, err := OpenDuckDB(ctx, Config{Reconnect: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	path := filepath.Join(t.TempDir(), "x.ldi")
	_ = os.WriteFile(path, []byte("1\n"), 0644)

	_, err = l.Load(ctx, types.InsertItem{File: path, Table: "Missing", Fields: "id", Rows: 1})
	if !errors.Is(err, errors.ErrBulkLoad) {
		t.Fatalf("expected ErrBulkLoad, got %v", err)
	}
}

func TestDuckDB_LoadAfterClose(t *testing.T) {
	l, err := OpenDuckDB(context.Background(), Config{Reconnect: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	_, err = l.Load(context.Background(), testItem())
	if !errors.Is(err, errors.ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestDuckDB_LoadEscapedStrings(t *testing.T) {
	ctx := context.Background()
	l, err := OpenDuckDB(ctx, Config{Reconnect: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if _, err := l.DB().Exec(`CREATE TABLE LogMessage (id BIGINT, message VARCHAR)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	tbl := schema.NewTable("LogMessage", schema.Field{Name: "id"}, schema.Field{Name: "message"})
	messages := []string{
		"downlink lost, retrying",
		`C:\path\to\file`,
		"line one\nline two\r",
		"",
	}

	w := record.NewWriter(tbl)
	for i, m := range messages {
		w.Int(int64(i)).String(m)
		if err := w.End(); err != nil {
			t.Fatal(err)
		}
	}
	w.Int(int64(len(messages))).Null()
	if err := w.End(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "log.ldi")
	if err := os.WriteFile(path, w.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	item := types.InsertItem{File: path, Table: tbl.Name, Fields: tbl.FieldList(), Rows: int64(w.Rows())}
	n, err := l.Load(ctx, item)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != int64(len(messages)+1) {
		t.Errorf("Load reported %d rows, want %d", n, len(messages)+1)
	}

	rows, err := l.DB().Query(`SELECT id, message FROM LogMessage ORDER BY id`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var got []string
	var nulls int
	for rows.Next() {
		var id int64
		var msg *string
		if err := rows.Scan(&id, &msg); err != nil {
			t.Fatal(err)
		}
		if msg == nil {
			nulls++
			continue
		}
		got = append(got, *msg)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}

	if nulls != 1 {
		t.Errorf("expected 1 NULL message, got %d", nulls)
	}
	if len(got) != len(messages) {
		t.Fatalf("loaded %d messages, want %d", len(got), len(messages))
	}
	for i := range messages {
		if got[i] != messages[i] {
			t.Errorf("message %d = %q, want %q", i, got[i], messages[i])
		}
	}

	// The staging table does not outlive the load.
	var stages int
	if err := l.DB().QueryRow(`SELECT count(*) FROM information_schema.tables WHERE table_name = 'ldi_stage'`).Scan(&stages); err != nil {
		t.Fatal(err)
	}
	if stages != 0 {
		t.Error("staging table left behind")
	}
}

func TestDuckDB_FieldCountMismatch(t *testing.T) {
	ctx := context.Background()
	l, err := OpenDuckDB(ctx, Config{Reconnect: fastRetry()})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if _, err := l.DB().Exec(`CREATE TABLE Pair (a BIGINT, b VARCHAR)`); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "pair.ldi")
	if err := os.WriteFile(path, []byte("1,x\n2,y,z\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = l.Load(ctx, types.InsertItem{File: path, Table: "Pair", Fields: "a,b", Rows: 2})
	if !errors.Is(err, errors.ErrBulkLoad) {
		t.Fatalf("expected ErrBulkLoad, got %v", err)
	}

	var count int
	if err := l.DB().QueryRow(`SELECT count(*) FROM Pair`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("a malformed file must load nothing, got %d rows", count)
	}
}
