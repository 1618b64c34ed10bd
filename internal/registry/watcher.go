// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package registry

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// REGISTRY FILE WATCHER
// =============================================================================

// Watcher reloads the registry when its file changes on disk, so edits to
// models.json show up in a running session without a restart. Editors often
// emit several events per save (write, rename, chmod), so changes are
// debounced before reloading.
type Watcher struct {
	reg      *Registry
	log      *logrus.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWatcher creates a watcher for the registry's file. Start must be called
// to begin watching.
func NewWatcher(reg *Registry, log *logrus.Logger, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		reg:      reg,
		log:      log,
		watcher:  fsw,
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself because atomic saves replace the inode.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.reg.Path())); err != nil {
		return err
	}

	go w.processEvents()
	go w.processPending()
	return nil
}

func (w *Watcher) processEvents() {
	target := filepath.Clean(w.reg.Path())

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("registry watcher error")
		}
	}
}

func (w *Watcher) processPending() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()

			if !due {
				continue
			}

			if err := w.reg.Reload(); err != nil {
				// Keep serving the previous entries.
				w.log.WithError(err).Warn("registry reload failed, keeping current entries")
				continue
			}
			w.log.WithField("models", w.reg.Len()).Info("registry reloaded")
		}
	}
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}
