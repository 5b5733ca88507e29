// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

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

// ReloadHandler receives each successfully re-read configuration.
type ReloadHandler func(cfg AdsgateConfig)

// Watcher re-reads the config file when it changes.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// save by renaming a temp file over the original are still seen. Events
// are debounced; once the window passes quietly the file is re-read. A
// file that fails to parse or validate is logged and ignored, and the
// handler is not called.
//
// # Thread Safety
//
// The handler is called from a single goroutine.
type Watcher struct {
	path     string
	handler  ReloadHandler
	debounce time.Duration
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the 200ms debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the logger for reload results.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher prepares a watcher for path. Call Start to begin.
func NewWatcher(path string, handler ReloadHandler, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     abs,
		handler:  handler,
		debounce: 200 * time.Millisecond,
		logger:   slog.Default(),
		watcher:  fsw,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start watches until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.loop(ctx)
	return nil
}

// Stop ends the watch and waits for the loop to exit. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// Stopped is closed once the loop has exited.
func (w *Watcher) Stopped() <-chan struct{} {
	return w.stopped
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.stopped)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Read(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected, keeping the previous settings",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Info("config reloaded", slog.String("path", w.path))
	w.handler(cfg)
}
