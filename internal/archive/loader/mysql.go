package loader

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
)

// MySQL loads files with LOAD DATA LOCAL INFILE. Each file is registered
// with the driver's local file allow list for the duration of its load.
type MySQL struct {
	closeGuard

	db  *sql.DB
	cfg Config
}

// OpenMySQL opens a connection pool for cfg.DSN.
func OpenMySQL(ctx context.Context, cfg Config) (*MySQL, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return &MySQL{db: db, cfg: cfg}, nil
}

// Dialect implements Loader.
func (m *MySQL) Dialect() string { return DialectMySQL }

// Statement implements Loader.
func (m *MySQL) Statement(item types.InsertItem) (string, error) {
	return mysqlStatement(item, m.cfg.Concurrent), nil
}

func mysqlStatement(item types.InsertItem, concurrent bool) string {
	var b strings.Builder
	b.WriteString("LOAD DATA ")
	if concurrent {
		b.WriteString("CONCURRENT ")
	}
	b.WriteString("LOCAL INFILE '")
	b.WriteString(quoteMySQL(item.File))
	b.WriteString("' INTO TABLE ")
	b.WriteString(item.Table)
	b.WriteString(` FIELDS TERMINATED BY ',' ESCAPED BY '\\' (`)
	b.WriteString(item.Fields)
	b.WriteString(")")
	if item.HasSetClause() {
		b.WriteString(" ")
		b.WriteString(item.SetClause)
	}
	return b.String()
}

func quoteMySQL(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// Load implements Loader.
func (m *MySQL) Load(ctx context.Context, item types.InsertItem) (int64, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	stmt := mysqlStatement(item, m.cfg.Concurrent)

	mysql.RegisterLocalFile(item.File)
	defer mysql.DeregisterLocalFile(item.File)

	return withReconnect(ctx, m.cfg.Reconnect, item, isMySQLConnErr, func() (int64, error) {
		res, err := m.db.ExecContext(ctx, stmt)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return item.Rows, nil
		}
		return n, nil
	})
}

// Close implements Loader.
func (m *MySQL) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.db.Close()
}

func isMySQLConnErr(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
