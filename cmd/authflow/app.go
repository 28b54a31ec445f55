package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/logging"
	"github.com/rendis/authflow/internal/metrics"
	"github.com/rendis/authflow/internal/session"
	"github.com/rendis/authflow/internal/store"
	"github.com/rendis/authflow/internal/streaming"
)

// app is the dependency graph shared by the subcommands.
type app struct {
	cfg      Config
	level    *slog.LevelVar
	logger   *slog.Logger
	registry *flows.Registry
	store    *store.LibSQLStore // nil unless opened withStore
	eventLog *store.EventLog
	hub      *streaming.MemoryHub
	metrics  *metrics.Metrics
	sessions *session.Manager
}

type appOptions struct {
	withStore bool
	logOut    io.Writer // defaults to stderr
}

func newApp(ctx context.Context, cfg Config, opts appOptions) (*app, error) {
	level := new(slog.LevelVar)
	lvl, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	level.Set(lvl)

	logOut := opts.logOut
	if logOut == nil {
		logOut = os.Stderr
	}
	logger, err := logging.NewWithLeveler(level, cfg.LogFormat, logOut)
	if err != nil {
		return nil, err
	}

	registry, err := flows.NewBuiltinRegistry()
	if err != nil {
		return nil, err
	}
	if cfg.FlowsDir != "" {
		n, err := registry.LoadDir(cfg.FlowsDir)
		if err != nil {
			return nil, fmt.Errorf("load flows from %s: %w", cfg.FlowsDir, err)
		}
		logger.InfoContext(ctx, "custom flows loaded", "dir", cfg.FlowsDir, "count", n)
	}

	a := &app{
		cfg:      cfg,
		level:    level,
		logger:   logger,
		registry: registry,
		hub:      streaming.NewMemoryHub(),
		metrics:  metrics.New(),
	}

	mcfg := session.Config{
		Registry: registry,
		Hub:      a.hub,
		Logger:   logger,
		Metrics:  a.metrics,
		FPS:      cfg.FPS,
	}
	if opts.withStore {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		a.store = s
		a.eventLog = store.NewEventLog(s)
		mcfg.Store = s
		mcfg.EventLog = a.eventLog
	}
	a.sessions = session.NewManager(mcfg)
	return a, nil
}

// Close stops every live session and closes the store.
func (a *app) Close(ctx context.Context) {
	a.sessions.CloseAll(ctx)
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WarnContext(ctx, "close store", "error", err)
		}
	}
}
