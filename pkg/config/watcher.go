package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Tensibai/si/pkg/telemetry"
)

// DefaultReloadDelay is how long the watcher waits for writes to settle.
const DefaultReloadDelay = 500 * time.Millisecond

// ReloadFunc receives the definitions reloaded after a change.
type ReloadFunc func(ctx context.Context, parsed *ParsedDefinitions) error

// Watcher reloads schema definitions when .cue files under a directory change.
type Watcher struct {
	dir    string
	loader *DefinitionLoader
	logger *telemetry.Logger
	delay  time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, loader *DefinitionLoader, logger *telemetry.Logger) *Watcher {
	if loader == nil {
		loader = NewDefinitionLoader()
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Watcher{
		dir:    dir,
		loader: loader,
		logger: logger.NewComponentLogger("config-watcher"),
		delay:  DefaultReloadDelay,
	}
}

// SetDelay changes the debounce window.
func (w *Watcher) SetDelay(d time.Duration) {
	w.delay = d
}

// Reload loads every definition file under the directory once.
func (w *Watcher) Reload() (*ParsedDefinitions, error) {
	files, err := FindDefinitionFiles(w.dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return &ParsedDefinitions{ParsedAt: time.Now()}, nil
	}
	return w.loader.Load(files)
}

// Watch starts watching the directory and calls fn after each settled change. It
// returns once the watch is established; events are processed until ctx is done.
func (w *Watcher) Watch(ctx context.Context, fn ReloadFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher, fn)

	w.logger.WithField("dir", w.dir).Info("Started watching schema definitions")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, fn ReloadFunc) {
	defer func() { _ = watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				// New subdirectories must be added explicitly.
				if isDir(event.Name) {
					if err := watcher.Add(event.Name); err != nil {
						w.logger.WithError(err).WithField("dir", event.Name).Warn("Failed to watch directory")
					}
					continue
				}
			}
			if !strings.HasSuffix(event.Name, ".cue") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Schema definition changed")
			w.schedule(ctx, fn)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.triggerReload(ctx, fn); err != nil {
			w.logger.WithError(err).Error("Failed to reload schema definitions")
		}
	})
}

func (w *Watcher) triggerReload(ctx context.Context, fn ReloadFunc) error {
	parsed, err := w.Reload()
	if err != nil {
		return err
	}
	if err := parsed.Err(); err != nil {
		return err
	}
	if err := fn(ctx, parsed); err != nil {
		return fmt.Errorf("failed to apply reloaded definitions: %w", err)
	}
	w.logger.WithField("count", len(parsed.Definitions)).Info("Schema definitions reloaded")
	return nil
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
