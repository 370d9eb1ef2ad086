package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce collapses bursts of writes (editors often write a file in
// several steps) into a single change notification
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a set of files for changes
type Watcher struct {
	paths    []string
	onChange func(path string)
	debounce time.Duration
	log      logrus.FieldLogger
	ready    chan struct{}
}

// New creates a new file watcher. onChange is called with the absolute path
// of the file that changed.
func New(paths []string, onChange func(path string)) *Watcher {
	return &Watcher{
		paths:    paths,
		onChange: onChange,
		debounce: DefaultDebounce,
		log:      logrus.StandardLogger(),
		ready:    make(chan struct{}),
	}
}

// WithDebounce sets the debounce duration
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

// WithLogger sets the logger
func (w *Watcher) WithLogger(l logrus.FieldLogger) *Watcher {
	if l != nil {
		w.log = l
	}
	return w
}

// Ready is closed once the watched directories are registered
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Watch starts watching the files for changes.
// It blocks until the context is cancelled or an error occurs.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer watcher.Close()

	// Watch the directories containing the files. This handles files that
	// are replaced rather than written in place (e.g. by editors).
	watchedDirs := make(map[string]bool)
	fileSet := make(map[string]bool)
	for _, path := range w.paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return errors.Wrapf(err, "resolve %s", path)
		}
		dir := filepath.Dir(absPath)
		if !watchedDirs[dir] {
			if err := watcher.Add(dir); err != nil {
				return errors.Wrapf(err, "watch directory %s", dir)
			}
			watchedDirs[dir] = true
		}
		fileSet[absPath] = true
		w.log.WithField("path", absPath).Info("Watching for changes")
	}
	close(w.ready)

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil || !fileSet[absPath] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			mu.Lock()
			if t, exists := timers[absPath]; exists {
				t.Stop()
			}
			timers[absPath] = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				w.log.WithField("path", absPath).Info("File changed")
				w.onChange(absPath)
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Watcher error")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
