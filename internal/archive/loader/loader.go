// Package loader executes bulk-load statements for closed load files.
//
// Three dialects are supported:
//
//	mysql     LOAD DATA [CONCURRENT] LOCAL INFILE, streamed by the client
//	postgres  COPY ... FROM STDIN in text format, streamed from the file
//	duckdb    COPY ... FROM '<path>' read by the embedded engine
//
// Only mysql honours the optional set clause of an insert item; the other
// dialects fail such items with ErrUnsupportedClause.
//
// Connection-class failures are retried with exponential backoff. Once the
// retry budget is spent the load fails with ErrConnectionLost, which the
// archive treats as fatal.
package loader

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/logging"
	"github.com/xtxerr/tlmarchive/internal/retry"
)

var log = logging.Component("loader")

// Dialect names.
const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
	DialectDuckDB   = "duckdb"
)

// Loader issues one bulk load per insert item.
type Loader interface {
	// Dialect returns the dialect name.
	Dialect() string

	// Statement returns the statement Load executes for item.
	Statement(item types.InsertItem) (string, error)

	// Load bulk-loads the file of item and returns the rows the database
	// reported.
	Load(ctx context.Context, item types.InsertItem) (int64, error)

	// Close releases the connection. Load fails with ErrConnectionClosed
	// afterwards.
	Close() error
}

// Config selects and configures a dialect.
type Config struct {
	Dialect string
	DSN     string

	// Concurrent adds CONCURRENT to mysql statements.
	Concurrent bool

	// Reconnect is the backoff used for connection-class failures.
	Reconnect retry.Config
}

// Open connects a loader for cfg.Dialect.
func Open(ctx context.Context, cfg Config) (Loader, error) {
	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect = retry.DefaultConfig()
	}
	switch strings.ToLower(cfg.Dialect) {
	case DialectMySQL, "":
		return OpenMySQL(ctx, cfg)
	case DialectPostgres, "postgresql", "pgx":
		return OpenPostgres(ctx, cfg)
	case DialectDuckDB:
		return OpenDuckDB(ctx, cfg)
	default:
		return nil, errors.NewInvalidConfig("database.dialect", fmt.Sprintf("unknown dialect %q", cfg.Dialect))
	}
}

// closeGuard tracks whether a loader was closed.
type closeGuard struct {
	closed atomic.Bool
}

func (g *closeGuard) check() error {
	if g.closed.Load() {
		return errors.ErrConnectionClosed
	}
	return nil
}

// withReconnect runs fn under the reconnect policy. Errors for which
// isConn returns false fail at once. Exhausting the budget yields
// ErrConnectionLost.
func withReconnect(ctx context.Context, cfg retry.Config, item types.InsertItem,
	isConn func(error) bool, fn func() (int64, error)) (int64, error) {

	attempt := 0
	rows, err := retry.DoValue(ctx, cfg, func() (int64, error) {
		attempt++
		n, err := fn()
		if err == nil {
			return n, nil
		}
		if !isConn(err) {
			return 0, retry.Permanent(err)
		}
		log.Warn("connection failure during bulk load, retrying",
			"table", item.Table, "attempt", attempt, "error", err)
		return 0, err
	})
	if err == nil {
		return rows, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return 0, fmt.Errorf("load %s after %d attempts: %v: %w", item.Table, exhausted.Attempts, exhausted.Err, errors.ErrConnectionLost)
	}
	if errors.Is(err, errors.ErrUnsupportedClause) {
		return 0, err
	}
	return 0, fmt.Errorf("load %s: %v: %w", item.Table, err, errors.ErrBulkLoad)
}

// splitFields returns the column list with spaces after commas, for
// dialects that print it inside parentheses.
func splitFields(fields string) string {
	parts := strings.Split(fields, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ", ")
}
