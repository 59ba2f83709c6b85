package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/runnerr0/tabtime/internal/browser"
	"github.com/runnerr0/tabtime/internal/config"
	"github.com/runnerr0/tabtime/internal/ingest"
	"github.com/runnerr0/tabtime/internal/tracker"
)

const shutdownTimeout = 5 * time.Second

// Execute implements the go-flags Commander interface for RunCommand.
func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Daemon.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Daemon.Port = c.Port
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.globals != nil && c.globals.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := newLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return c.serve(ctx, cfg, logger, nil)
}

// serve runs the daemon until ctx is cancelled or the listener fails, then
// flushes open segments. ready, when non-nil, receives the bound address.
func (c *RunCommand) serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready chan<- string) error {
	store, db, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	tabs := browser.NewRegistry()
	adapter := newAdapter(store, cfg, logger.With("component", "history"))
	rec := tracker.New(tabs, adapter, tracker.Options{
		Logger:     logger.With("component", "tracker"),
		MinSegment: cfg.MinSegment(),
	})
	api := ingest.NewServer(rec, tabs, ingest.Options{
		Logger:         logger.With("component", "ingest"),
		MaxRequestSize: cfg.Daemon.MaxRequestSize,
	})

	ln, err := net.Listen("tcp", cfg.DaemonAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.DaemonAddr(), err)
	}
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		rec.Run(ctx, cfg.SweepInterval())
	}()

	logger.Info("tabtime daemon started",
		"version", c.version,
		"addr", addr,
		"db", dbPath,
		"sweep_interval", cfg.SweepInterval())
	if ready != nil {
		ready <- addr
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down, flushing open segments")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("serve %s: %w", addr, err)
		}
		cancel()
	}
	<-sweepDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http", "err", err)
	}
	if err := rec.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown flush incomplete", "err", err)
	}

	return runErr
}
