// Package watch re-runs work when files under a directory change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configures a watch.
type Options struct {
	// Debounce is the quiet period after the last event before onChange runs.
	Debounce time.Duration
	// Skip reports directories that must not be watched, by base name.
	Skip func(name string) bool
}

// Run watches root recursively and calls onChange after each burst of
// changes, until ctx is done. onChange never runs concurrently with itself.
func Run(ctx context.Context, root string, opts Options, onChange func(ctx context.Context)) error {
	if opts.Debounce <= 0 {
		opts.Debounce = time.Second
	}
	if opts.Skip == nil {
		opts.Skip = func(string) bool { return false }
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := addTree(w, root, opts.Skip); err != nil {
		return err
	}

	timer := time.NewTimer(opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod || opts.Skip(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// New directories must be watched too; errors mean it is a file.
				_ = addTree(w, ev.Name, opts.Skip)
			}
			slog.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(opts.Debounce)
			pending = true

		case <-timer.C:
			pending = false
			onChange(ctx)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "root", root, "error", err)
		}
	}
}

func addTree(w *fsnotify.Watcher, root string, skip func(string) bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && skip(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
