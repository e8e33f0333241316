package infra

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// ConfigWatcher reloads the config file when it changes on disk. Editors
// often replace the file instead of writing it, so the parent directory is
// watched and events are filtered by name.
type ConfigWatcher struct {
	path     string
	onReload func(*Config)
	watcher  *fsnotify.Watcher
}

// NewConfigWatcher starts watching path. onReload receives every config that validates.
func NewConfigWatcher(path string, onReload func(*Config)) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &ConfigWatcher{path: filepath.Clean(path), onReload: onReload, watcher: w}, nil
}

// Run processes file events until ctx is done.
func (cw *ConfigWatcher) Run(ctx context.Context) error {
	defer cw.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cw.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			// Debounce bursts of writes from a single save
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", slog.Any("error", err))
		case <-fire:
			fire = nil
			cw.reload()
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadConfig(cw.path)
	if err != nil {
		slog.Error("Config reload rejected", slog.String("file", cw.path), slog.Any("error", err))
		return
	}
	SetLogLevel(cfg.Logging.Level)
	slog.Info("🔄 Config reloaded", slog.String("file", cw.path))
	cw.onReload(cfg)
}
