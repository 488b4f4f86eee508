// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// Watcher reloads the configuration when the config file changes on disk.
// Editors typically replace files via rename, so the parent directory is
// watched rather than the file itself.
type Watcher struct {
	path     string
	onReload func(*Config)
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file. onReload is
// called with the freshly loaded config after every successful reload.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		path:     path,
		onReload: onReload,
		watcher:  fsw,
	}, nil
}

// Run processes file events until the context is cancelled. Rapid event
// bursts (editors fire several per save) are debounced into one reload.
// The underlying file watcher is closed when Run returns.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	const debounce = 200 * time.Millisecond

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("CONFIG_WATCH_ERROR | error=%v", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		log.Printf("CONFIG_RELOAD_FAILED | path=%s error=%v", w.path, err)
		return
	}

	log.Printf("CONFIG_RELOADED | path=%s", w.path)
	SetGlobal(cfg)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
