package flows

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Change results reported by a Watcher.
const (
	ChangeLoaded  = "loaded"
	ChangeRemoved = "removed"
	ChangeError   = "error"
)

// Change describes one flows directory event applied to the registry.
type Change struct {
	Path   string
	FlowID string
	Result string
	Err    error
}

// Watcher keeps a Registry in sync with a flows directory: documents that are
// written or created are (re)loaded, documents that are removed or renamed
// away are unregistered. Subdirectories are ignored.
type Watcher struct {
	reg      *Registry
	dir      string
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	onChange func(Change)
}

// NewWatcher starts watching dir. Events are only applied while Run is active.
func NewWatcher(reg *Registry, dir string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{reg: reg, dir: filepath.Clean(dir), logger: logger, fsw: fsw}, nil
}

// OnChange registers fn to be called after each applied change. Call it
// before Run.
func (w *Watcher) OnChange(fn func(Change)) {
	w.onChange = fn
}

// Run applies directory events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watching flows directory", "dir", w.dir)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("flows watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if _, ok := FormatForPath(ev.Name); !ok {
		return
	}
	p := filepath.Clean(ev.Name)

	var change Change
	switch {
	case ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create):
		def, err := w.reg.LoadFile(p)
		if err != nil {
			change = Change{Path: p, Result: ChangeError, Err: err}
			w.logger.Warn("flow reload failed, keeping previous definition", "path", p, "error", err)
			break
		}
		change = Change{Path: p, FlowID: def.ID, Result: ChangeLoaded}
		w.logger.Info("flow reloaded", "flow_id", def.ID, "path", p, "revision", w.reg.Revision(def.ID))
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		id, ok := w.reg.RemoveFile(p)
		if !ok {
			return
		}
		change = Change{Path: p, FlowID: id, Result: ChangeRemoved}
		w.logger.Info("flow removed", "flow_id", id, "path", p)
	default:
		return
	}

	if w.onChange != nil {
		w.onChange(change)
	}
}
