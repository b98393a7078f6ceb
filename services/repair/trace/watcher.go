// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SuiteHandler receives each reloaded suite, or the error that prevented
// loading it.
type SuiteHandler func(suite *Suite, err error)

// WatcherOptions configures a SuiteWatcher.
type WatcherOptions struct {
	// Load configures how the suite is read on every change.
	Load LoadOptions

	// DebounceWindow is how long to wait for more changes before reloading.
	// Default: 250ms
	DebounceWindow time.Duration
}

// SuiteWatcher reloads a trace directory whenever its files change.
//
// # Description
//
// Trace exports usually write several files in a burst, so events are
// debounced and the handler sees one reload per burst. Only events on
// files matching the load pattern trigger a reload.
//
// # Thread Safety
//
// The handler is called from the goroutine running Run.
type SuiteWatcher struct {
	dir     string
	opts    WatcherOptions
	handler SuiteHandler
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewSuiteWatcher creates a watcher for dir.
//
// # Inputs
//
//   - dir: Directory holding the trace files.
//   - handler: Called with the initial suite and after every change burst.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *SuiteWatcher: Ready to Run.
//   - error: Non-nil if the directory cannot be watched.
func NewSuiteWatcher(dir string, handler SuiteHandler, opts *WatcherOptions) (*SuiteWatcher, error) {
	if opts == nil {
		opts = &WatcherOptions{}
	}
	o := *opts
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 250 * time.Millisecond
	}
	if o.Load.Pattern == "" {
		o.Load.Pattern = "*.csv"
	}
	logger := o.Load.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &SuiteWatcher{
		dir:     dir,
		opts:    o,
		handler: handler,
		watcher: w,
		logger:  logger.With(slog.String("component", "suite_watcher"), slog.String("dir", dir)),
	}, nil
}

// Run loads the suite once, then reloads it after each debounced burst of
// changes until ctx is canceled. It closes the underlying watcher on return.
func (w *SuiteWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	w.reload()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("Trace file changed", slog.String("file", ev.Name), slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.opts.DebounceWindow)
			} else {
				timer.Reset(w.opts.DebounceWindow)
			}
			timerCh = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", slog.String("error", err.Error()))

		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *SuiteWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	ok, _ := filepath.Match(w.opts.Load.Pattern, filepath.Base(ev.Name))
	return ok
}

func (w *SuiteWatcher) reload() {
	suite, err := LoadDir(w.dir, w.opts.Load)
	if err != nil {
		w.logger.Warn("Reload failed", slog.String("error", err.Error()))
	}
	w.handler(suite, err)
}
