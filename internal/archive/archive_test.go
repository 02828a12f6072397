package archive

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/tlmarchive/internal/archive/config"
	"github.com/xtxerr/tlmarchive/internal/archive/types"
	"github.com/xtxerr/tlmarchive/internal/bus"
	"github.com/xtxerr/tlmarchive/internal/errors"
	"github.com/xtxerr/tlmarchive/internal/message"
	"github.com/xtxerr/tlmarchive/internal/testutil"
)

// recordingLoader records every load and optionally fails all of them.
type recordingLoader struct {
	mu     sync.Mutex
	loaded []types.InsertItem
	err    error
	closed bool
}

func (l *recordingLoader) Dialect() string { return "fake" }

func (l *recordingLoader) Statement(item types.InsertItem) (string, error) {
	return "LOAD " + item.File + " INTO " + item.Table, nil
}

func (l *recordingLoader) Load(ctx context.Context, item types.InsertItem) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.loaded = append(l.loaded, item)
	return item.Rows, nil
}

func (l *recordingLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *recordingLoader) valueRows(id types.Identifier) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, it := range l.loaded {
		if it.Store == id && it.Kind == types.StreamValue {
			n += it.Rows
		}
	}
	return n
}

func (l *recordingLoader) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// evrOnly returns a fast-ticking config with every store but evr disabled.
func evrOnly(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Gatherer.FlushInterval = 20 * time.Millisecond
	cfg.Inserter.PollInterval = 10 * time.Millisecond
	cfg.Inserter.ShutdownTimeout = 5 * time.Second
	cfg.Backpressure.CheckInterval = 10 * time.Millisecond

	disabled := false
	for _, id := range types.AllIdentifiers() {
		if id != types.Evr {
			cfg.Stores[id.String()] = config.StoreConfig{Enabled: &disabled}
		}
	}
	return cfg
}

func startArchive(t *testing.T, cfg *config.Config, l *recordingLoader) (*Controller, *bus.Bus) {
	t.Helper()
	b := bus.New()
	c, err := New(Options{Config: cfg, Bus: b, Loader: l})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c, b
}

func evr(id int64) *message.Evr {
	return &message.Evr{
		ID:      id,
		EventID: 42,
		Name:    "FSW_BOOT",
		Level:   "ACTIVITY_HI",
		Message: "boot complete",
		ERT:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		DSSID:   14,
	}
}

func loadFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestController_PublishAndStop(t *testing.T) {
	tests := []struct {
		name      string
		queueSize int
	}{
		{"synchronous", 0},
		{"queued", 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := evrOnly(t)
			size := tt.queueSize
			cfg.Stores["evr"] = config.StoreConfig{QueueSize: &size}
			l := &recordingLoader{}
			c, b := startArchive(t, cfg, l)

			for i := int64(1); i <= 3; i++ {
				b.Publish(message.TopicEvr, evr(i))
			}

			if err := c.Stop(context.Background()); err != nil {
				t.Fatalf("Stop: %v", err)
			}

			if got := l.valueRows(types.Evr); got != 3 {
				t.Errorf("loaded evr rows = %d, want 3", got)
			}
			if !l.isClosed() {
				t.Error("loader should be closed after Stop")
			}
			if files := loadFiles(t, cfg.LoadDir()); len(files) != 0 {
				t.Errorf("load files left behind: %v", files)
			}

			select {
			case <-c.Done():
			default:
				t.Error("Done should be closed after Stop")
			}
		})
	}
}

func TestController_RetainsLoadedFiles(t *testing.T) {
	cfg := evrOnly(t)
	cfg.Retention.KeepFiles = true
	l := &recordingLoader{}
	c, b := startArchive(t, cfg, l)

	b.Publish(message.TopicEvr, evr(1))
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	usage := c.DiskUsage()
	if usage[types.Evr].FileCount == 0 {
		t.Errorf("expected retained evr files, got %+v", usage)
	}
	if files := loadFiles(t, cfg.LoadDir()); len(files) != 0 {
		t.Errorf("load files left behind: %v", files)
	}
}

func TestController_ReportsLostConnection(t *testing.T) {
	cfg := evrOnly(t)
	l := &recordingLoader{err: fmt.Errorf("load: %w", errors.ErrConnectionLost)}
	c, b := startArchive(t, cfg, l)

	b.Publish(message.TopicEvr, evr(1))

	select {
	case err := <-c.Errors():
		if !errors.IsConnectionLost(err) {
			t.Errorf("expected connection lost error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error reported")
	}

	// Failed loads keep their file
	if files := loadFiles(t, cfg.LoadDir()); len(files) == 0 {
		t.Error("failed load file should be kept")
	}
}

func TestController_StopsWhenAllStoresInactive(t *testing.T) {
	cfg := evrOnly(t)
	c, _ := startArchive(t, cfg, &recordingLoader{})

	if err := c.StopStore(types.Evr); err != nil {
		t.Fatalf("StopStore: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("archive did not stop after its last store went inactive")
	}
}

func TestController_Lifecycle(t *testing.T) {
	cfg := evrOnly(t)
	c, _ := startArchive(t, cfg, &recordingLoader{})

	if err := c.Start(context.Background()); !errors.Is(err, errors.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := c.StartStore(types.Identifier(999)); !errors.Is(err, errors.ErrUnknownIdentifier) {
		t.Errorf("StartStore(unknown) = %v, want ErrUnknownIdentifier", err)
	}

	// Disabled stores can be started later
	if err := c.StartStore(types.Packet); err != nil {
		t.Fatalf("StartStore(packet): %v", err)
	}
	if s, _ := c.Store(types.Packet); !s.Started() {
		t.Error("packet store should be started")
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("second Stop = %v", err)
	}
	if err := c.StartStore(types.Evr); !errors.IsLifecycle(err) {
		t.Errorf("StartStore after Stop = %v, want lifecycle error", err)
	}
}

func TestController_MetricsSnapshot(t *testing.T) {
	cfg := evrOnly(t)
	c, b := startArchive(t, cfg, &recordingLoader{})

	b.Publish(message.TopicEvr, evr(1))

	snap := c.MetricsSnapshot()
	if len(snap.Stores) != len(types.AllIdentifiers()) {
		t.Fatalf("snapshot has %d stores, want %d", len(snap.Stores), len(types.AllIdentifiers()))
	}
	for _, s := range snap.Stores {
		switch s.Store {
		case types.Evr.String():
			if !s.Active || s.Inserter == nil {
				t.Errorf("evr snapshot = %+v", s)
			}
			if s.ValuesTotal != 1 {
				t.Errorf("evr values total = %d, want 1", s.ValuesTotal)
			}
		case types.Packet.String():
			if s.Active || s.Inserter != nil {
				t.Errorf("packet snapshot = %+v", s)
			}
		}
	}

	qs := c.QueueStats()
	if len(qs) != 1 || qs[0].Store != types.Evr || qs[0].Async {
		t.Errorf("queue stats = %+v", qs)
	}
}

func TestController_GatherTargets(t *testing.T) {
	cfg := evrOnly(t)
	cfg.Stores["evr"] = config.StoreConfig{SetClause: "SET sessionFragment = 1", Export: true}
	c, _ := startArchive(t, cfg, &recordingLoader{})

	for _, tg := range c.GatherTargets() {
		id := tg.Monitor.ID()
		switch id {
		case types.Evr:
			if tg.Sink == nil || tg.SetClause == "" || !tg.Export {
				t.Errorf("evr target = %+v", tg)
			}
		default:
			if tg.Sink != nil {
				t.Errorf("%s target should have no sink before its store starts", id)
			}
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Gatherer.RowLimit = 0

	if _, err := New(Options{Config: cfg}); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestController_StopBeforeStart(t *testing.T) {
	cfg := evrOnly(t)
	c, err := New(Options{Config: cfg, Bus: bus.New(), Loader: &recordingLoader{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = testutil.WithTimeout(time.Second, func() error { return c.Stop(context.Background()) })
	if err != nil {
		t.Errorf("Stop before Start = %v", err)
	}
}
