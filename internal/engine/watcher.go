package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchRules reloads the rule pack whenever the file changes on disk.
// A broken edit is logged and ignored; the running set stays active until
// a valid pack lands (fail closed to last-known-good). Blocks until ctx
// is cancelled.
func (e *Engine) WatchRules(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops
	// a watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var debounce *time.Timer
	reload := func() {
		rules, err := LoadRules(target)
		if err != nil {
			e.logger.Error("rule reload rejected, keeping active set", slog.String("path", target), slog.Any("error", err))
			return
		}
		if err := e.Swap(rules); err != nil {
			e.logger.Error("rule reload rejected, keeping active set", slog.String("path", target), slog.Any("error", err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Editors emit bursts of events per save; collapse them.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("rule watcher error", slog.Any("error", err))
		}
	}
}
