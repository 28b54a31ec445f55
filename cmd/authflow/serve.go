package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rendis/authflow/internal/flows"
	"github.com/rendis/authflow/internal/logging"
	"github.com/rendis/authflow/internal/panel"
	"github.com/rendis/authflow/internal/retention"
	authmcp "github.com/rendis/authflow/pkg/mcp"
)

func runServe(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	fs := newFlagSet("serve", &cfg)
	storeFlags(fs, &cfg)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address")
	fs.IntVar(&cfg.FPS, "fps", cfg.FPS, "frame rate of real-time sessions")
	withMCP := fs.Bool("mcp", false, "also serve MCP tools over stdio")
	watchFlows := fs.Bool("watch-flows", true, "reload documents in flows_dir when they change")
	if _, err := parseArgs(fs, args, 0); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if policy, ok, err := cfg.retentionPolicy(); err != nil {
		return err
	} else if ok {
		janitor, err := retention.NewJanitor(a.store, policy, a.logger)
		if err != nil {
			return err
		}
		if err := janitor.WithMetrics(a.metrics).Start(ctx); err != nil {
			return err
		}
		defer janitor.Stop()
	}

	if cfg.FlowsDir != "" && *watchFlows {
		w, err := flows.NewWatcher(a.registry, cfg.FlowsDir, a.logger)
		if err != nil {
			return err
		}
		defer w.Close()
		w.OnChange(func(c flows.Change) { a.metrics.FlowReload(c.Result) })
		go func() { _ = w.Run(ctx) }()
	}

	panelHandler := panel.NewPanelServer(panel.PanelDeps{
		Registry: a.registry,
		Sessions: a.sessions,
		EventLog: a.eventLog,
		Hub:      a.hub,
		Logger:   a.logger,
		Metrics:  a.metrics,
	}).Handler()

	rl := newReloader(cfg, a.level, panelHandler, a.logger)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", a.metrics.Handler())
	mux.Handle("/", rl.swap)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := writePidFile(); err != nil {
		a.logger.WarnContext(ctx, "pid file", "error", err)
	} else {
		defer os.Remove(pidPath())
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				rl.apply(ctx, loadConfig())
			}
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		a.logger.InfoContext(ctx, "panel listening", "addr", cfg.ListenAddr, "panel", cfg.Panel)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	if *withMCP {
		mcpSrv := authmcp.NewAuthflowServer(authmcp.AuthflowServerDeps{
			Registry: a.registry,
			Sessions: a.sessions,
			EventLog: a.eventLog,
			Hub:      a.hub,
			Logger:   a.logger,
			Version:  version,
		})
		go func() {
			errCh <- mcpSrv.Serve(ctx)
		}()
	}
	fmt.Fprintf(out, "authflow %s serving on %s\n", version, cfg.ListenAddr)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.WarnContext(shutdownCtx, "http shutdown", "error", err)
	}
	a.logger.InfoContext(shutdownCtx, "server stopped")
	return runErr
}

func runMCP(ctx context.Context, cfg Config, args []string, _ io.Writer) error {
	fs := newFlagSet("mcp", &cfg)
	storeFlags(fs, &cfg)
	fs.IntVar(&cfg.FPS, "fps", cfg.FPS, "frame rate of real-time sessions")
	if _, err := parseArgs(fs, args, 0); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{withStore: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	return authmcp.NewAuthflowServer(authmcp.AuthflowServerDeps{
		Registry: a.registry,
		Sessions: a.sessions,
		EventLog: a.eventLog,
		Hub:      a.hub,
		Logger:   a.logger,
		Version:  version,
	}).Serve(ctx)
}

// swapHandler is an http.Handler whose target can be replaced while serving.
type swapHandler struct {
	h atomic.Pointer[http.Handler]
}

func newSwapHandler(h http.Handler) *swapHandler {
	s := &swapHandler{}
	s.Swap(h)
	return s
}

func (s *swapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.h.Load()).ServeHTTP(w, r)
}

// Swap replaces the underlying handler.
func (s *swapHandler) Swap(h http.Handler) {
	s.h.Store(&h)
}

// panelDisabled answers every request while the panel is switched off.
var panelDisabled = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "panel disabled (set \"panel\": true in settings.json and send SIGHUP)", http.StatusServiceUnavailable)
})

// reloader applies settings.json changes to a running server.
type reloader struct {
	cur    Config
	level  *slog.LevelVar
	panel  http.Handler
	swap   *swapHandler
	logger *slog.Logger
}

func newReloader(cfg Config, level *slog.LevelVar, panelHandler http.Handler, logger *slog.Logger) *reloader {
	rl := &reloader{cur: cfg, level: level, panel: panelHandler, logger: logger}
	rl.swap = newSwapHandler(rl.handlerFor(cfg))
	return rl
}

func (rl *reloader) handlerFor(cfg Config) http.Handler {
	if cfg.Panel {
		return rl.panel
	}
	return panelDisabled
}

// apply switches the panel and log level in place. Other changes are logged
// as needing a restart and otherwise ignored.
func (rl *reloader) apply(ctx context.Context, next Config) configDiff {
	d := diffConfigs(rl.cur, next)
	applied := rl.cur
	if d.LogLevelChanged {
		if lvl, err := logging.ParseLevel(next.LogLevel); err != nil {
			rl.logger.WarnContext(ctx, "reload: keeping log level", "error", err)
		} else {
			rl.level.Set(lvl)
			applied.LogLevel = next.LogLevel
		}
	}
	if d.PanelChanged {
		rl.swap.Swap(rl.handlerFor(next))
		applied.Panel = next.Panel
	}
	for _, field := range d.RestartNeeded {
		rl.logger.WarnContext(ctx, "reload: change needs a restart", "field", field)
	}
	rl.logger.InfoContext(ctx, "configuration reloaded", "panel", applied.Panel, "log_level", applied.LogLevel)
	rl.cur = applied
	return d
}

func writePidFile() error {
	if err := os.MkdirAll(authflowDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
