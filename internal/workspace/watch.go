package workspace

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/electwix/db-navigator/internal/logging"
)

// Change reports that a manifest in a watched directory changed on disk.
type Change struct {
	// Manifest is the path of the changed file.
	Manifest string
}

// WatchOptions configure a Watcher.
type WatchOptions struct {
	// Debounce is how long to wait after the last write before
	// emitting, coalescing editor save bursts. Zero means 250ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher emits a Change when a project manifest is written, created,
// renamed, or removed. It watches the parent directories of the given
// manifests, so atomic-rename saves and new manifests are seen too.
type Watcher struct {
	fs        *fsnotify.Watcher
	changes   chan Change
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	debounce  time.Duration
	logger    *slog.Logger
}

// NewWatcher starts watching the directories containing the given
// manifest paths.
func NewWatcher(manifests []string, opts WatchOptions) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create manifest watcher: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	w := &Watcher{
		fs:       fsw,
		changes:  make(chan Change, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		debounce: debounce,
		logger:   logger,
	}

	for _, dir := range manifestDirs(manifests) {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		logger.Debug("watching manifest directory", "dir", dir)
	}

	go w.run()
	return w, nil
}

// Changes returns the channel change events arrive on. Close closes it.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Close stops the watcher and closes the Changes channel.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.closeErr = w.fs.Close()
		<-w.done
		close(w.changes)
	})
	return w.closeErr
}

func (w *Watcher) run() {
	defer close(w.done)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !isManifest(ev.Name) {
				continue
			}
			w.logger.Debug("manifest changed", "path", ev.Name, "op", ev.Op.String())
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			for path := range pending {
				w.emit(Change{Manifest: path})
			}
			clear(pending)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("manifest watcher error", "error", err)

		case <-w.stop:
			return
		}
	}
}

// emit never blocks the watch loop; a full channel drops the change.
func (w *Watcher) emit(c Change) {
	select {
	case w.changes <- c:
	default:
		w.logger.Warn("manifest change dropped", "path", c.Manifest)
	}
}

func manifestDirs(manifests []string) []string {
	seen := make(map[string]struct{}, len(manifests))
	dirs := make([]string, 0, len(manifests))
	for _, m := range manifests {
		dir := filepath.Dir(m)
		if _, dup := seen[dir]; dup {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	return dirs
}

func isManifest(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
