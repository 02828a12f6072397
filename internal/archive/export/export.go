// Package export keeps a copy of every gathered load file for stores
// configured for export.
//
// Two formats are supported:
//
//	link     hard link into the export directory, copy across devices
//	parquet  one row per delimited line, zstd compressed
//
// Export runs before the file is queued for loading, so the inserter may
// delete its copy without affecting the export.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/tlmarchive/internal/archive/monitor"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
)

// Format selects how files are exported.
type Format int

const (
	FormatLink Format = iota
	FormatParquet
)

// String returns the configuration name of the format.
func (f Format) String() string {
	switch f {
	case FormatLink:
		return "link"
	case FormatParquet:
		return "parquet"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "link", "":
		return FormatLink, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return 0, errors.NewInvalidConfig("export.format", fmt.Sprintf("unknown format %q", s))
	}
}

// Row is one exported line in parquet format.
type Row struct {
	Store string `parquet:"store,zstd"`
	Table string `parquet:"table,zstd"`
	Seq   int64  `parquet:"seq"`
	Line  string `parquet:"line,zstd"`
}

// Exporter writes copies of load files into a directory.
type Exporter struct {
	dir    string
	format Format
	codec  compress.Codec

	files  atomic.Int64
	copies atomic.Int64
}

// New creates an exporter writing to dir, creating it if needed.
func New(dir string, format Format) (*Exporter, error) {
	if dir == "" {
		return nil, errors.NewInvalidConfig("export.dir", "must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Exporter{dir: dir, format: format, codec: &parquet.Zstd}, nil
}

// Dir returns the export directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// Export copies the file of item. It implements gatherer.Exporter.
func (e *Exporter) Export(item types.InsertItem) error {
	var err error
	switch e.format {
	case FormatParquet:
		err = e.writeParquet(item)
	default:
		err = e.link(item.File)
	}
	if err == nil {
		e.files.Add(1)
	}
	return err
}

// Exported returns the number of files exported.
func (e *Exporter) Exported() int64 {
	return e.files.Load()
}

func (e *Exporter) link(src string) error {
	dst := filepath.Join(e.dir, filepath.Base(src))
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	// Cross device or unsupported: fall back to a copy.
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("export %s: %w", src, err)
	}
	e.copies.Add(1)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func (e *Exporter) writeParquet(item types.InsertItem) error {
	name := strings.TrimSuffix(filepath.Base(item.File), monitor.FileExt) + ".parquet"
	dst := filepath.Join(e.dir, name)

	in, err := os.Open(item.File)
	if err != nil {
		return fmt.Errorf("open load file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	err = e.encodeParquet(out, in, item)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// encodeParquet writes one Row per line of in.
func (e *Exporter) encodeParquet(out io.Writer, in io.Reader, item types.InsertItem) error {
	w := parquet.NewGenericWriter[Row](out, parquet.Compression(e.codec))

	store := item.Store.String()
	batch := make([]Row, 0, 1024)
	var seq int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := w.Write(batch); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		batch = append(batch, Row{Store: store, Table: item.Table, Seq: seq, Line: sc.Text()})
		seq++
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read load file: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet reads every row of an exported parquet file.
func ReadParquet(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	r := parquet.NewGenericReader[Row](f)
	defer r.Close()

	rows := make([]Row, r.NumRows())
	n, err := r.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}
