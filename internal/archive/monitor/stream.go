package monitor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/xtxerr/tlmarchive/internal/archive/schema"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
)

// FileExt is the extension of load files.
const FileExt = ".ldi"

// Stream is an open load file.
type Stream interface {
	Write(p []byte) (int, error)
	// Close flushes buffered rows and closes the file.
	Close() error
	// Path returns the file the stream writes to.
	Path() string
}

// StreamFactory opens new streams for a monitor.
type StreamFactory interface {
	Open(id types.Identifier, kind types.StreamKind, table *schema.Table) (Stream, error)
}

// FileFactory creates uniquely named load files in Dir:
//
//	<dir>/<identifier>-<table>-<uuid>.ldi
type FileFactory struct {
	Dir string
	// BufferSize is the write buffer per stream. Default: 64KB
	BufferSize int
	// Sync makes Close fsync the file before closing it.
	Sync bool
}

// NewFileFactory creates a factory writing to dir, creating it if needed.
func NewFileFactory(dir string) (*FileFactory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create load file dir: %w", err)
	}
	return &FileFactory{Dir: dir, BufferSize: 64 * 1024, Sync: true}, nil
}

// Open implements StreamFactory.
func (f *FileFactory) Open(id types.Identifier, kind types.StreamKind, table *schema.Table) (Stream, error) {
	name := fmt.Sprintf("%s-%s-%s%s", id, table.Name, uuid.NewString(), FileExt)
	path := filepath.Join(f.Dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create %s stream: %w", kind, err)
	}

	size := f.BufferSize
	if size <= 0 {
		size = 64 * 1024
	}
	return &fileStream{
		file: file,
		w:    bufio.NewWriterSize(file, size),
		path: path,
		sync: f.Sync,
	}, nil
}

type fileStream struct {
	file *os.File
	w    *bufio.Writer
	path string
	sync bool
}

func (s *fileStream) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *fileStream) Path() string {
	return s.path
}

func (s *fileStream) Close() error {
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	if s.sync {
		if err := s.file.Sync(); err != nil {
			s.file.Close()
			return fmt.Errorf("sync %s: %w", s.path, err)
		}
	}
	return s.file.Close()
}
