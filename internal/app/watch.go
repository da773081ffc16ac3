package app

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/modelyard/modelyard/internal/ctxlog"
)

// watchAndRun executes the watch command: it watches the data-drop path and
// triggers a pipeline run after each quiet period following a change. A
// failing triggered run is logged and watching continues; only the watcher
// itself failing ends the command.
func (a *App) watchAndRun(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting filesystem watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(a.cfg.WatchPath); err != nil {
		return fmt.Errorf("watching %s: %w", a.cfg.WatchPath, err)
	}
	logger.Info("👀 Watching for data drops", "path", a.cfg.WatchPath, "debounce", a.cfg.Debounce)

	trigger := func() {
		logger.Info("🚀 Data drop detected, starting pipeline run")
		if err := a.runPipeline(ctx); err != nil {
			logger.Error("Triggered pipeline run failed.", "error", err)
		}
	}
	return watchLoop(ctx, watcher.Events, watcher.Errors, a.cfg.Debounce, trigger)
}

// watchLoop coalesces bursts of filesystem events into one trigger per
// quiet period. Editors and uploads touch a file many times in quick
// succession; the pipeline should run once, after the dust settles.
func watchLoop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, debounce time.Duration, trigger func()) error {
	logger := ctxlog.FromContext(ctx)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("Filesystem event.", "op", ev.Op.String(), "name", ev.Name)
			if timer == nil {
				timer = time.NewTimer(debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			logger.Error("Watcher error.", "error", err)

		case <-fire:
			timer = nil
			fire = nil
			trigger()
		}
	}
}
