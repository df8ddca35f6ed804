package config

import (
	"crypto/sha256"
	"log/slog"
	"os"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file on change, diffing the decoded result
// against the previous one to decide whether the change is hot-
// applicable or requires a restart.
type Watcher struct {
	path   string
	logger *slog.Logger

	lastHash [32]byte
	last     *Config

	OnReload         func(cfg *Config)
	OnRestartRequired func(cfg *Config, reason string)
}

// NewWatcher loads path once to seed the initial state, then returns a
// Watcher ready to Start.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, logger: logger, lastHash: sha256.Sum256(data), last: cfg}, nil
}

// Start watches the config file's directory (fsnotify doesn't reliably
// track a single file across editor-style rename-replace writes) and
// reacts to changes affecting path.
func (w *Watcher) Start() (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != w.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					w.handleChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("config: watch error", "error", err)
			case <-done:
				return
			}
		}
	}()

	dir := dirOf(w.path)
	if err := watcher.Add(dir); err != nil {
		close(done)
		_ = watcher.Close()
		return nil, err
	}

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

func (w *Watcher) handleChange() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn("config: failed to read changed file", "error", err)
		return
	}
	hash := sha256.Sum256(data)
	if hash == w.lastHash {
		return
	}
	w.lastHash = hash

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config: reload failed, keeping previous config", "error", err)
		return
	}

	if reason := restartRequiredReason(w.last, cfg); reason != "" {
		w.last = cfg
		if w.OnRestartRequired != nil {
			w.OnRestartRequired(cfg, reason)
		}
		return
	}

	w.last = cfg
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}

// restartRequiredReason compares fields that can't be hot-applied
// (listening ports, storage location) against ones that can
// (model classes, cost limits, logging level).
func restartRequiredReason(old, next *Config) string {
	if old == nil {
		return ""
	}
	if !reflect.DeepEqual(old.Server, next.Server) {
		return "server config changed"
	}
	if !reflect.DeepEqual(old.Storage, next.Storage) {
		return "storage config changed"
	}
	return ""
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
