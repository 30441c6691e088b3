// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the workflows directory (and, in dev mode, the config
// file) for changes and debounces a reload callback. It mirrors the
// teacher's internal/mcp.Watcher's debounced-restart shape.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	logger    *slog.Logger

	debounceDelay time.Duration
	onChange      func(path string)

	mu      sync.Mutex
	pending *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatcherConfig configures a hot-reload Watcher.
type WatcherConfig struct {
	// Paths are the files/directories to watch (config file, workflows dir).
	Paths []string

	// OnChange is invoked (debounced) with the changed path's absolute form.
	OnChange func(path string)

	// DebounceDelay defaults to 300ms.
	DebounceDelay time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewWatcher starts watching cfg.Paths for writes/creates/renames.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("OnChange callback is required")
	}
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("at least one path is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.DebounceDelay
	if debounce == 0 {
		debounce = 300 * time.Millisecond
	}

	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("resolve path %s: %w", p, err)
		}
		if err := fsWatcher.Add(abs); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("watch path %s: %w", abs, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher:     fsWatcher,
		logger:        logger,
		debounceDelay: debounce,
		onChange:      cfg.OnChange,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule(event.Name)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounceDelay, func() {
		w.logger.Info("config or workflow file changed, reloading", "path", path)
		w.onChange(path)
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	w.wg.Wait()
	return w.fsWatcher.Close()
}
