// Package watch reports when replay files appear or change in a directory.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultQuiet is how long a replay file must stay untouched before it is
// reported. The console writes a replay for the whole match.
const DefaultQuiet = 2 * time.Second

var replayName = regexp.MustCompile(`^Game_.*\.slp$`)

// Watcher debounces replay file events of one directory.
type Watcher struct {
	dir      string
	quiet    time.Duration
	onChange func(path string)

	watcher *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// New watches dir. onChange runs on its own goroutine once a replay file has
// been quiet for quiet.
func New(dir string, quiet time.Duration, onChange func(path string)) (*Watcher, error) {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		if cerr := w.Close(); cerr != nil {
			// Best-effort close.
			_ = cerr
		}
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		quiet:    quiet,
		onChange: onChange,
		watcher:  w,
		timers:   map[string]*time.Timer{},
	}, nil
}

// Run processes file system events until ctx is done, then closes the
// watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !replayName.MatchString(filepath.Base(event.Name)) {
				continue
			}
			w.touch(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("replay watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.quiet)
		return
	}
	w.timers[path] = time.AfterFunc(w.quiet, func() {
		w.mu.Lock()
		delete(w.timers, path)
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			w.onChange(path)
		}
	})
}

func (w *Watcher) close() {
	w.mu.Lock()
	w.closed = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	if err := w.watcher.Close(); err != nil {
		slog.Debug("failed to close replay watcher", "error", err)
	}
}
