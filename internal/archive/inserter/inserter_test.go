package inserter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/testutil"
)

// fakeLoader records loads and fails items whose file name is listed.
type fakeLoader struct {
	mu     sync.Mutex
	loaded []types.InsertItem
	fail   map[string]error
	delay  time.Duration
}

func (f *fakeLoader) Dialect() string { return "fake" }

func (f *fakeLoader) Statement(item types.InsertItem) (string, error) {
	return "LOAD " + item.File + " INTO " + item.Table, nil
}

func (f *fakeLoader) Load(ctx context.Context, item types.InsertItem) (int64, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[filepath.Base(item.File)]; ok {
		return 0, err
	}
	f.loaded = append(f.loaded, item)
	return item.Rows, nil
}

func (f *fakeLoader) Close() error { return nil }

func (f *fakeLoader) loads() []types.InsertItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.InsertItem(nil), f.loaded...)
}

// retainFunc adapts a function to Retainer.
type retainFunc func(types.InsertItem) error

func (f retainFunc) Retain(item types.InsertItem) error { return f(item) }

func testConfig() Config {
	return Config{
		Store:            types.Evr,
		PollInterval:     5 * time.Millisecond,
		FileCheckRetries: 2,
		FileCheckDelay:   time.Millisecond,
		DeleteRetries:    2,
		DeleteDelay:      time.Millisecond,
	}
}

func writeItem(t *testing.T, dir, name string, rows int) types.InsertItem {
	t.Helper()
	path := filepath.Join(dir, name)
	var content []byte
	for i := 0; i < rows; i++ {
		content = append(content, fmt.Sprintf("%d\n", i)...)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return types.InsertItem{Store: types.Evr, File: path, Table: "Evr", Fields: "id", Rows: int64(rows)}
}

func startInserter(t *testing.T, l *fakeLoader, cfg Config) *Inserter {
	t.Helper()
	in, err := New(l, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := in.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		in.InformShutdown()
		_ = testutil.WithTimeout(2*time.Second, func() error { return in.Wait(context.Background()) })
	})
	return in
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestInserter_LoadsAndDeletes(t *testing.T) {
	dir := t.TempDir()
	l := &fakeLoader{}
	in := startInserter(t, l, testConfig())

	var items []types.InsertItem
	for i := 0; i < 5; i++ {
		it := writeItem(t, dir, fmt.Sprintf("f%d.ldi", i), i+1)
		items = append(items, it)
		if err := in.Enqueue(it); err != nil {
			t.Fatal(err)
		}
	}

	if err := testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return in.Stats().Files == 5
	}); err != nil {
		t.Fatal(err)
	}

	loads := l.loads()
	for i, it := range items {
		if loads[i].File != it.File {
			t.Errorf("load %d = %s, want %s (FIFO)", i, loads[i].File, it.File)
		}
		if err := testutil.Eventually(time.Second, time.Millisecond, func() bool { return !fileExists(it.File) }); err != nil {
			t.Errorf("%s not deleted after load", it.File)
		}
	}

	st := in.Stats()
	if st.Rows != 15 || st.Failures != 0 {
		t.Errorf("stats = %+v", st)
	}
	if st.HighWater < 1 {
		t.Errorf("high water = %d", st.HighWater)
	}
}

// TestInserter_FailureKeepsFileAndContinues covers a failing bulk load: the
// file stays for inspection and the next item is still processed.
func TestInserter_FailureKeepsFileAndContinues(t *testing.T) {
	dir := t.TempDir()
	l := &fakeLoader{fail: map[string]error{
		"bad.ldi": fmt.Errorf("duplicate key: %w", errors.ErrBulkLoad),
	}}
	in := startInserter(t, l, testConfig())

	bad := writeItem(t, dir, "bad.ldi", 3)
	good := writeItem(t, dir, "good.ldi", 4)
	_ = in.Enqueue(bad)
	_ = in.Enqueue(good)

	if err := testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return in.Stats().Files == 1 && !fileExists(good.File)
	}); err != nil {
		t.Fatal(err)
	}

	if !fileExists(bad.File) {
		t.Error("failed file must be kept")
	}
	st := in.Stats()
	if st.Failures != 1 {
		t.Errorf("failures = %d, want 1", st.Failures)
	}

	select {
	case <-in.Done():
		t.Fatal("inserter loop exited after a failed load")
	default:
	}
}

func TestInserter_MissingFileSkipped(t *testing.T) {
	dir := t.TempDir()
	l := &fakeLoader{}
	in := startInserter(t, l, testConfig())

	_ = in.Enqueue(types.InsertItem{File: filepath.Join(dir, "gone.ldi"), Table: "Evr", Rows: 1})
	good := writeItem(t, dir, "ok.ldi", 1)
	_ = in.Enqueue(good)

	if err := testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return in.Stats().Files == 1
	}); err != nil {
		t.Fatal(err)
	}
	if st := in.Stats(); st.Missing != 1 {
		t.Errorf("missing = %d, want 1", st.Missing)
	}
}

func TestInserter_FileAppearsLate(t *testing.T) {
	dir := t.TempDir()
	l := &fakeLoader{}
	cfg := testConfig()
	cfg.FileCheckRetries = 50
	cfg.FileCheckDelay = 2 * time.Millisecond
	in := startInserter(t, l, cfg)

	path := filepath.Join(dir, "late.ldi")
	_ = in.Enqueue(types.InsertItem{File: path, Table: "Evr", Rows: 1})

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return in.Stats().Files == 1
	}); err != nil {
		t.Fatal(err)
	}
}

func TestInserter_Retainer(t *testing.T) {
	dir := t.TempDir()
	var mu sync.Mutex
	var kept []string

	cfg := testConfig()
	cfg.Retainer = retainFunc(func(it types.InsertItem) error {
		mu.Lock()
		kept = append(kept, it.File)
		mu.Unlock()
		return nil
	})
	in := startInserter(t, &fakeLoader{}, cfg)

	it := writeItem(t, dir, "keep.ldi", 2)
	_ = in.Enqueue(it)

	if err := testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return in.Stats().Retained == 1
	}); err != nil {
		t.Fatal(err)
	}
	if !fileExists(it.File) {
		t.Error("inserter must not delete a retained file")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(kept) != 1 || kept[0] != it.File {
		t.Errorf("retained %v", kept)
	}
}

func TestInserter_ConnectionLostIsFatal(t *testing.T) {
	dir := t.TempDir()
	l := &fakeLoader{fail: map[string]error{
		"x.ldi": fmt.Errorf("gave up: %w", errors.ErrConnectionLost),
	}}

	fatal := make(chan error, 1)
	cfg := testConfig()
	cfg.OnFatal = func(id types.Identifier, err error) {
		fatal <- err
	}
	in := startInserter(t, l, cfg)

	it := writeItem(t, dir, "x.ldi", 1)
	_ = in.Enqueue(it)

	select {
	case err := <-fatal:
		if !errors.IsConnectionLost(err) {
			t.Errorf("fatal error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFatal not called")
	}
	if !fileExists(it.File) {
		t.Error("file must be kept when the connection is lost")
	}
}

func TestInserter_ShutdownDrainsQueue(t *testing.T) {
	dir := t.TempDir()
	l := &fakeLoader{delay: 5 * time.Millisecond}
	in, err := New(l, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		_ = in.Enqueue(writeItem(t, dir, fmt.Sprintf("s%d.ldi", i), 1))
	}
	in.InformShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := in.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := len(l.loads()); n != 10 {
		t.Errorf("loaded %d files before exit, want 10", n)
	}

	if err := in.Enqueue(writeItem(t, dir, "late.ldi", 1)); !errors.Is(err, errors.ErrStoreStopped) {
		t.Errorf("enqueue after exit: expected ErrStoreStopped, got %v", err)
	}
}

func TestInserter_CancelStopsLoop(t *testing.T) {
	in, err := New(&fakeLoader{}, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	_ = in.Start(ctx)
	cancel()

	if err := testutil.WithTimeout(time.Second, func() error {
		<-in.Done()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestInserter_StartTwice(t *testing.T) {
	in := startInserter(t, &fakeLoader{}, testConfig())
	if err := in.Start(context.Background()); !errors.Is(err, errors.ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestInserter_LatencyStats(t *testing.T) {
	dir := t.TempDir()
	in := startInserter(t, &fakeLoader{delay: 2 * time.Millisecond}, testConfig())
	for i := 0; i < 3; i++ {
		_ = in.Enqueue(writeItem(t, dir, fmt.Sprintf("l%d.ldi", i), 1))
	}
	if err := testutil.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return in.Stats().Files == 3
	}); err != nil {
		t.Fatal(err)
	}
	st := in.Stats()
	if st.LoadP50 <= 0 || st.LoadP99 < st.LoadP50 {
		t.Errorf("latency p50=%v p99=%v", st.LoadP50, st.LoadP99)
	}
}

// Every item Enqueue accepts while shutdown races it must still be loaded.
func TestInserter_EnqueueRacesShutdown(t *testing.T) {
	for round := 0; round < 20; round++ {
		dir := t.TempDir()
		l := &fakeLoader{}
		in, err := New(l, testConfig())
		if err != nil {
			t.Fatal(err)
		}
		if err := in.Start(context.Background()); err != nil {
			t.Fatal(err)
		}

		const workers, perWorker = 4, 25
		items := make([][]types.InsertItem, workers)
		for w := range items {
			for i := 0; i < perWorker; i++ {
				items[w] = append(items[w], writeItem(t, dir, fmt.Sprintf("w%d-%d.ldi", w, i), 1))
			}
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
			refused  int
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(batch []types.InsertItem) {
				defer wg.Done()
				for _, it := range batch {
					err := in.Enqueue(it)
					mu.Lock()
					switch {
					case err == nil:
						accepted++
					case errors.Is(err, errors.ErrStoreStopped):
						refused++
					default:
						t.Errorf("Enqueue: %v", err)
					}
					mu.Unlock()
				}
			}(items[w])
		}
		in.InformShutdown()
		wg.Wait()

		if err := testutil.WithTimeout(5*time.Second, func() error { return in.Wait(context.Background()) }); err != nil {
			t.Fatalf("round %d: Wait: %v", round, err)
		}
		if accepted+refused != workers*perWorker {
			t.Fatalf("round %d: accepted %d + refused %d != %d", round, accepted, refused, workers*perWorker)
		}
		if n := len(l.loads()); n != accepted {
			t.Fatalf("round %d: loaded %d files, Enqueue accepted %d", round, n, accepted)
		}
	}
}
