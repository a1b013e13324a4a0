package headless

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/specialistvlad/tickgraph/internal/ctxlog"
	"github.com/specialistvlad/tickgraph/internal/fsutil"
)

// DefaultDebounce is how long the watcher waits for a burst of writes to
// end before reloading.
const DefaultDebounce = 250 * time.Millisecond

// watch calls reload whenever the graph document at path changes. When path
// is a directory, any .json or .hcl file below it counts. Editors that save
// by renaming are handled by watching the containing directory.
func watch(ctx context.Context, path string, debounce time.Duration, reload func()) error {
	logger := ctxlog.FromContext(ctx).With("component", "watcher", "path", path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	root := filepath.Dir(path)
	match := func(name string) bool { return filepath.Clean(name) == filepath.Clean(path) }
	if info.IsDir() {
		root = path
		match = func(name string) bool { return fsutil.HasExtension(name, fsutil.GraphExtensions...) }
		dirs, err := fsutil.Dirs(root)
		if err != nil {
			return err
		}
		for _, d := range dirs {
			if err := w.Add(d); err != nil {
				return err
			}
		}
	} else if err := w.Add(root); err != nil {
		return err
	}
	logger.Info("👀 Watching graph document for changes.")

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) && info.IsDir() {
				if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
					_ = w.Add(event.Name)
				}
			}
			if !match(event.Name) || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			logger.Debug("Graph document changed.", "file", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			reload()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error.", "error", err)
		}
	}
}
