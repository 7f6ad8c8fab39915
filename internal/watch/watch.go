// Package watch reloads the registry when the declaration source changes
// on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes one declaration source (a file or a directory) and
// invokes reload after changes settle. Events are debounced: editors and
// ConfigMap updates produce bursts of writes, renames, and chmods.
type Watcher struct {
	path     string
	isDir    bool
	debounce time.Duration
	reload   func(ctx context.Context)
	log      *slog.Logger
}

// New creates a watcher over path. isDir selects directory semantics (any
// entry change triggers); for a single file the parent directory is watched
// so atomic-save renames are seen. debounce <= 0 defaults to 500ms.
func New(path string, isDir bool, debounce time.Duration, reload func(ctx context.Context), log *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{path: path, isDir: isDir, debounce: debounce, reload: reload, log: log}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close() //nolint:errcheck

	watchDir := w.path
	if !w.isDir {
		watchDir = filepath.Dir(w.path)
	}
	if err := fw.Add(watchDir); err != nil {
		return fmt.Errorf("watch %s: %w", watchDir, err)
	}
	w.log.Info("watching declaration source", "path", w.path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("declaration source changed", "event", ev.Op.String(), "name", ev.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

// relevant filters events down to ones that can change the loaded
// declarations.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if w.isDir {
		return true
	}
	return filepath.Clean(ev.Name) == filepath.Clean(w.path)
}
