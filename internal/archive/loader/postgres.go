package loader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
)

// Postgres streams files through COPY ... FROM STDIN. The text format of
// COPY uses the same backslash escapes and NULL marker as load files,
// except for \Z and \0; see copyTextReader.
//
// The connection is not safe for concurrent use, so loads from different
// inserters are serialized on it.
type Postgres struct {
	closeGuard

	cfg Config

	mu   sync.Mutex
	conn *pgx.Conn
}

// OpenPostgres connects to cfg.DSN.
func OpenPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{cfg: cfg, conn: conn}, nil
}

// Dialect implements Loader.
func (p *Postgres) Dialect() string { return DialectPostgres }

// Statement implements Loader.
func (p *Postgres) Statement(item types.InsertItem) (string, error) {
	return postgresStatement(item)
}

func postgresStatement(item types.InsertItem) (string, error) {
	if item.HasSetClause() {
		return "", fmt.Errorf("%s: %w", DialectPostgres, errors.ErrUnsupportedClause)
	}
	return fmt.Sprintf(`COPY %s (%s) FROM STDIN WITH (FORMAT text, DELIMITER ',', NULL '\N')`,
		item.Table, splitFields(item.Fields)), nil
}

// Load implements Loader.
func (p *Postgres) Load(ctx context.Context, item types.InsertItem) (int64, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	stmt, err := postgresStatement(item)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return withReconnect(ctx, p.cfg.Reconnect, item, p.isConnErr, func() (int64, error) {
		if err := p.ensureConnLocked(ctx); err != nil {
			return 0, err
		}

		f, err := os.Open(item.File)
		if err != nil {
			return 0, fmt.Errorf("open load file: %w", err)
		}
		defer f.Close()

		tag, err := p.conn.PgConn().CopyFrom(ctx, newCopyTextReader(f), stmt)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	})
}

// copyTextReader rewrites the escapes COPY text reads differently from
// load files. \Z becomes the hex escape \x1a. \0 is dropped because text
// columns cannot hold NUL.
type copyTextReader struct {
	r       *bufio.Reader
	pending []byte
	scratch [4]byte
}

func newCopyTextReader(r io.Reader) *copyTextReader {
	return &copyTextReader{r: bufio.NewReaderSize(r, 64*1024)}
}

func (c *copyTextReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(c.pending) > 0 {
			k := copy(p[n:], c.pending)
			c.pending = c.pending[k:]
			n += k
			continue
		}

		b, err := c.r.ReadByte()
		if err != nil {
			if err == io.EOF && n > 0 {
				return n, nil
			}
			return n, err
		}
		if b != '\\' {
			p[n] = b
			n++
			continue
		}

		next, err := c.r.ReadByte()
		if err == io.EOF {
			p[n] = b
			n++
			continue
		}
		if err != nil {
			return n, err
		}
		switch next {
		case 'Z':
			c.pending = c.scratch[:copy(c.scratch[:], `\x1a`)]
		case '0':
		default:
			c.scratch[0], c.scratch[1] = b, next
			c.pending = c.scratch[:2]
		}
	}
	return n, nil
}

func (p *Postgres) ensureConnLocked(ctx context.Context) error {
	if p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	if p.conn != nil {
		p.conn.Close(ctx)
	}
	conn, err := pgx.Connect(ctx, p.cfg.DSN)
	if err != nil {
		p.conn = nil
		return fmt.Errorf("reconnect postgres: %w", err)
	}
	log.Info("reconnected to postgres")
	p.conn = conn
	return nil
}

func (p *Postgres) isConnErr(err error) bool {
	if p.conn == nil || p.conn.IsClosed() {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Close implements Loader.
func (p *Postgres) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close(context.Background())
}
