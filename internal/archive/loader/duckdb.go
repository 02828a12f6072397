package loader

import (
	"bufio"
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/tlmarchive/internal/archive/record"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
)

// duckdbStage is the table rows are appended to before the typed insert.
// Loads are serialized on the single connection and drop it afterwards.
const duckdbStage = "ldi_stage"

// DuckDB loads files into an embedded database. The CSV reader of COPY
// does not interpret backslash escapes, so rows are unescaped here and
// appended to an all-VARCHAR staging table with the driver's Appender;
// one INSERT ... SELECT then casts them into the target table. It suits
// development archives and tests.
type DuckDB struct {
	closeGuard

	db  *sql.DB
	cfg Config
}

// OpenDuckDB opens the database file named by cfg.DSN. An empty DSN opens
// an in-memory database.
func OpenDuckDB(ctx context.Context, cfg Config) (*DuckDB, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return &DuckDB{db: db, cfg: cfg}, nil
}

// DB exposes the database, for schema setup and inspection.
func (d *DuckDB) DB() *sql.DB {
	return d.db
}

// Dialect implements Loader.
func (d *DuckDB) Dialect() string { return DialectDuckDB }

// Statement implements Loader.
func (d *DuckDB) Statement(item types.InsertItem) (string, error) {
	return duckdbStatement(item)
}

func duckdbStatement(item types.InsertItem) (string, error) {
	if item.HasSetClause() {
		return "", fmt.Errorf("%s: %w", DialectDuckDB, errors.ErrUnsupportedClause)
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) SELECT * FROM %s`,
		item.Table, splitFields(item.Fields), duckdbStage), nil
}

func duckdbStageDDL(columns int) string {
	cols := make([]string, columns)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d VARCHAR", i)
	}
	return fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", duckdbStage, strings.Join(cols, ", "))
}

// Load implements Loader. The embedded engine has no connection to lose,
// so failures are never retried.
func (d *DuckDB) Load(ctx context.Context, item types.InsertItem) (int64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	stmt, err := duckdbStatement(item)
	if err != nil {
		return 0, err
	}

	return withReconnect(ctx, d.cfg.Reconnect, item, func(error) bool { return false }, func() (int64, error) {
		return d.load(ctx, item, stmt)
	})
}

func (d *DuckDB) load(ctx context.Context, item types.InsertItem, stmt string) (int64, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	columns := len(strings.Split(item.Fields, ","))
	if _, err := conn.ExecContext(ctx, duckdbStageDDL(columns)); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+duckdbStage)

	err = conn.Raw(func(dc any) error {
		dconn, ok := dc.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		app, err := duckdb.NewAppenderFromConn(dconn, "main", duckdbStage)
		if err != nil {
			return err
		}
		if err := appendFile(app, item.File, columns); err != nil {
			app.Close()
			return err
		}
		return app.Close()
	})
	if err != nil {
		return 0, err
	}

	res, err := conn.ExecContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return item.Rows, nil
	}
	return n, nil
}

// appendFile appends every row of a load file, unescaped, one VARCHAR or
// NULL per column.
func appendFile(app *duckdb.Appender, path string, columns int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	vals := make([]driver.Value, columns)
	for line := 1; ; line++ {
		row, err := r.ReadString('\n')
		if err == io.EOF && row == "" {
			return nil
		}
		if err != nil && err != io.EOF {
			return err
		}

		fields := record.SplitFields(strings.TrimSuffix(row, "\n"))
		if len(fields) != columns {
			return fmt.Errorf("line %d: %d fields, want %d: %w", line, len(fields), columns, errors.ErrFieldCount)
		}
		for i, field := range fields {
			if s, ok := record.Unescape(field); ok {
				vals[i] = s
			} else {
				vals[i] = nil
			}
		}
		if err := app.AppendRow(vals...); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

// Close implements Loader.
func (d *DuckDB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}
