package archive

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch emits the file identifier of every archive that lands in dir, until
// ctx is cancelled. Downstream deduplication makes redundant notifications
// (create followed by writes) harmless, so events are not debounced.
func Watch(ctx context.Context, dir string, out chan<- string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("archive watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	log := logrus.WithField("component", "archive-watch")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if id, match := FileID(baseName(ev.Name)); match {
				select {
				case out <- id:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watcher error")
		}
	}
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
