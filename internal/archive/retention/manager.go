// Package retention keeps loaded files instead of deleting them and sweeps
// the kept files once they age out.
//
// Kept files live under <dir>/<store>/ and are optionally compressed with
// zstd or lz4 on the way in. The sweep removes files whose modification
// time is older than MaxAge.
package retention

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/xtxerr/tlmarchive/internal/archive/monitor"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/logging"
)

var log = logging.Component("retention")

// Compression selects how retained files are stored.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

// String returns the config name of the compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", int(c))
	}
}

// Ext returns the file extension added to retained files.
func (c Compression) Ext() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ParseCompression parses a config value. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return CompressionNone, errors.NewInvalidConfig("retention.compression", fmt.Sprintf("unknown compression %q", s))
	}
}

// Config configures a Manager.
type Config struct {
	Dir         string
	Compression Compression
	MaxAge      time.Duration
}

// Manager retains loaded files and removes expired ones.
type Manager struct {
	mu     sync.RWMutex
	config Config
	stats  Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime   time.Time
	FilesRetained int64
	BytesRetained int64
	FilesDeleted  int64
	BytesFreed    int64
	FilesSkipped  int64
	Errors        int64
}

// CleanupResult holds the result of sweeping one store directory.
type CleanupResult struct {
	Store        string
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// New creates a retention manager and its directory.
func New(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.NewInvalidConfig("retention.dir", "must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create retention dir %s", cfg.Dir)
	}
	return &Manager{config: cfg}, nil
}

// Dir returns the retention root.
func (m *Manager) Dir() string { return m.config.Dir }

// Retain moves a loaded file into the store's retention directory,
// compressing it if configured. The source file is gone on success.
func (m *Manager) Retain(item types.InsertItem) error {
	storeDir := filepath.Join(m.config.Dir, item.Store.String())
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", storeDir)
	}

	dst := filepath.Join(storeDir, filepath.Base(item.File)+m.config.Compression.Ext())

	var err error
	if m.config.Compression == CompressionNone {
		err = move(item.File, dst)
	} else {
		err = m.compress(item.File, dst)
		if err == nil {
			err = os.Remove(item.File)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "retain %s", item.File)
	}

	var size int64
	if info, statErr := os.Stat(dst); statErr == nil {
		size = info.Size()
	}

	m.mu.Lock()
	m.stats.FilesRetained++
	m.stats.BytesRetained += size
	m.mu.Unlock()

	log.Debug("file retained", "store", item.Store, "file", dst, "compression", m.config.Compression)
	return nil
}

// move renames src to dst, copying across devices.
func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func (m *Manager) compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	var w io.WriteCloser
	switch m.config.Compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			out.Close()
			os.Remove(dst)
			return err
		}
		w = enc
	case CompressionLZ4:
		w = lz4.NewWriter(out)
	default:
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("unsupported compression %s", m.config.Compression)
	}

	// Plain Reader and Writer keep io.CopyBuffer off lz4's ReadFrom.
	buf := make([]byte, 64*1024)
	_, err = io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{in}, buf)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
	}
	return err
}

// Open returns a reader over a retained file's original contents.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case CompressionZstd.Ext():
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &decodedFile{r: dec.IOReadCloser(), f: f}, nil
	case CompressionLZ4.Ext():
		return &decodedFile{r: io.NopCloser(lz4.NewReader(f)), f: f}, nil
	default:
		return f, nil
	}
}

type decodedFile struct {
	r io.ReadCloser
	f *os.File
}

func (d *decodedFile) Read(p []byte) (int, error) { return d.r.Read(p) }

func (d *decodedFile) Close() error {
	d.r.Close()
	return d.f.Close()
}

// RunCleanup removes expired files from every store directory.
func (m *Manager) RunCleanup() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.LastRunTime = time.Now()

	var results []CleanupResult
	for _, id := range types.AllIdentifiers() {
		result := m.cleanupStore(id, false)
		results = append(results, result)

		m.stats.FilesDeleted += int64(result.FilesDeleted)
		m.stats.BytesFreed += result.BytesFreed
		m.stats.FilesSkipped += int64(result.FilesSkipped)
		m.stats.Errors += int64(len(result.Errors))

		for _, err := range result.Errors {
			log.Warn("retention sweep error", "store", id, "error", err)
		}
	}
	return results
}

// DryRun reports what RunCleanup would remove without deleting anything.
func (m *Manager) DryRun() []CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []CleanupResult
	for _, id := range types.AllIdentifiers() {
		results = append(results, m.cleanupStore(id, true))
	}
	return results
}

func (m *Manager) cleanupStore(id types.Identifier, dryRun bool) CleanupResult {
	result := CleanupResult{Store: id.String()}
	if m.config.MaxAge <= 0 {
		return result
	}
	cutoff := time.Now().Add(-m.config.MaxAge)

	files, err := listFiles(filepath.Join(m.config.Dir, id.String()))
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		}
		return result
	}

	for _, file := range files {
		if file.modTime.After(cutoff) {
			result.FilesSkipped++
			continue
		}
		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.path, err))
				continue
			}
		}
		result.FilesDeleted++
		result.BytesFreed += file.size
	}
	return result
}

type fileInfo struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// listFiles lists retained files in a directory, oldest first.
func listFiles(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || !isRetained(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			name:    entry.Name(),
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})
	return files, nil
}

func isRetained(name string) bool {
	name = strings.TrimSuffix(name, CompressionZstd.Ext())
	name = strings.TrimSuffix(name, CompressionLZ4.Ext())
	return filepath.Ext(name) == monitor.FileExt
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// GetDiskUsage returns retained disk usage per store.
func (m *Manager) GetDiskUsage() map[types.Identifier]DiskUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage := make(map[types.Identifier]DiskUsage)
	for _, id := range types.AllIdentifiers() {
		files, err := listFiles(filepath.Join(m.config.Dir, id.String()))
		if err != nil || len(files) == 0 {
			continue
		}
		var total int64
		for _, f := range files {
			total += f.size
		}
		usage[id] = DiskUsage{FileCount: len(files), TotalSize: total}
	}
	return usage
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() string {
	usage := m.GetDiskUsage()

	var b strings.Builder
	var totalSize int64
	var totalFiles int

	b.WriteString("Retained:\n")
	for _, id := range types.AllIdentifiers() {
		u, ok := usage[id]
		if !ok {
			continue
		}
		totalSize += u.TotalSize
		totalFiles += u.FileCount
		fmt.Fprintf(&b, "  %s: %d files, %s\n", id, u.FileCount, formatBytes(u.TotalSize))
	}
	fmt.Fprintf(&b, "  Total: %d files, %s\n", totalFiles, formatBytes(totalSize))
	return b.String()
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
