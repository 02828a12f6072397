// tlmarchived archives ground telemetry into the session database by bulk
// loading delimited record files.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/xtxerr/tlmarchive/internal/archive"
	"github.com/xtxerr/tlmarchive/internal/archive/config"
	"github.com/xtxerr/tlmarchive/internal/archive/metrics"
	"github.com/xtxerr/tlmarchive/internal/bus"
	"github.com/xtxerr/tlmarchive/internal/bus/kafka"
	"github.com/xtxerr/tlmarchive/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tlmarchived: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.StringP("config", "c", "tlmarchive.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	dsn := flag.String("dsn", "", "database DSN (overrides config, or TLMARCHIVE_DSN env)")
	dialect := flag.String("dialect", "", "bulk-load dialect: mysql, postgres, duckdb (overrides config)")
	sessionID := flag.Int64("session", -1, "session id (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logFormat := flag.String("log-format", "", "log format: auto, json, text (overrides config)")
	version := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("tlmarchived", Version)
		return nil
	}

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.DefaultConfig()
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *dialect != "" {
		cfg.Database.Dialect = *dialect
	}
	if *dsn == "" {
		*dsn = os.Getenv("TLMARCHIVE_DSN")
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if *sessionID >= 0 {
		cfg.Session.ID = *sessionID
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	if err := setupLogging(cfg.Logging); err != nil {
		return err
	}
	logging.Info("tlmarchived starting", "version", Version, "config", *cfgPath)

	b := bus.New()
	ctrl, err := archive.New(archive.Options{Config: cfg, Bus: b})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		// Stores that failed to start are logged; the rest keep running.
		logging.Error("archive started with errors", "error", err)
	}

	// Metrics
	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.NewRegistry(ctrl), promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server failed", "error", err)
			}
		}()
		logging.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	// Broker input
	var bridge *kafka.Bridge
	if cfg.Kafka.Enabled {
		bridge, err = kafka.New(cfg.Kafka.Bridge(), b)
		if err != nil {
			_ = ctrl.Stop(context.Background())
			return fmt.Errorf("create kafka bridge: %w", err)
		}
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error("kafka bridge stopped", "error", err)
			}
		}()
	}

	// Wait for a signal, a fatal archive error or an archive-initiated stop
	select {
	case <-ctx.Done():
		logging.Info("shutdown signal received")
	case err := <-ctrl.Errors():
		logging.Error("fatal archive error, shutting down", "error", err)
	case <-ctrl.Done():
		logging.Info("archive stopped itself")
	}

	if bridge != nil {
		bridge.Close()
	}

	stopErr := ctrl.Stop(context.Background())

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}

	if stopErr != nil {
		return fmt.Errorf("stop archive: %w", stopErr)
	}
	logging.Info("tlmarchived stopped")
	return nil
}

// setupLogging installs the configured handler. The auto format writes JSON
// unless stdout is a terminal.
func setupLogging(cfg config.LoggingConfig) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	jsonFormat := false
	switch cfg.Format {
	case "json":
		jsonFormat = true
	case "text":
	default:
		jsonFormat = !term.IsTerminal(int(os.Stdout.Fd()))
	}

	logging.Init(level, jsonFormat)
	return nil
}
