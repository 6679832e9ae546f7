// Package watch runs one debounced, recursive filesystem watcher per root.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/agentic-research/sift/internal/logging"
)

// DefaultDebounce is the quiet period before a burst of events fires.
const DefaultDebounce = 2 * time.Second

// ErrClosed is returned by Ensure after Close.
var ErrClosed = errors.New("watch: registry closed")

// Registry owns the watchers, keyed by cleaned root path.
type Registry struct {
	debounce time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	watchers map[string]*watcher
	closed   bool
}

// NewRegistry returns a registry whose watchers wait debounce after the last
// event before firing (<= 0 means DefaultDebounce).
func NewRegistry(debounce time.Duration) *Registry {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Registry{
		debounce: debounce,
		log:      logging.Named("watch"),
		watchers: make(map[string]*watcher),
	}
}

// Ensure starts watching root unless it is already watched. onChange is called
// with the root once per burst of changes. It reports whether a new watcher
// was started.
func (r *Registry) Ensure(root string, onChange func(root string)) (bool, error) {
	root = filepath.Clean(root)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrClosed
	}
	if _, ok := r.watchers[root]; ok {
		return false, nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return false, fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("watch %s: not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	w := &watcher{
		root:     root,
		fsw:      fsw,
		debounce: r.debounce,
		onChange: onChange,
		log:      r.log.With(zap.String("root", root)),
		done:     make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return false, err
	}
	r.watchers[root] = w
	go w.loop()

	r.log.Info("watching", zap.String("root", root))
	return true, nil
}

// Watching reports whether root has a live watcher.
func (r *Registry) Watching(root string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watchers[filepath.Clean(root)]
	return ok
}

// Stop stops the watcher for root. It reports whether one was running.
func (r *Registry) Stop(root string) bool {
	root = filepath.Clean(root)
	r.mu.Lock()
	w, ok := r.watchers[root]
	delete(r.watchers, root)
	r.mu.Unlock()
	if ok {
		w.stop()
	}
	return ok
}

// Close stops every watcher. Later Ensure calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	ws := r.watchers
	r.watchers = make(map[string]*watcher)
	r.closed = true
	r.mu.Unlock()
	for _, w := range ws {
		w.stop()
	}
}

type watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func(string)
	log      *zap.Logger
	done     chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// skipDir reports directories whose churn never affects status.
func skipDir(path string) bool {
	return filepath.Base(path) == "objects" && filepath.Base(filepath.Dir(path)) == ".git"
}

func ignoredEvent(path string) bool {
	sep := string(filepath.Separator)
	return strings.Contains(path, sep+".git"+sep+"objects"+sep) ||
		strings.HasSuffix(path, sep+".git"+sep+"objects")
}

func (w *watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skipDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			if path == root {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			w.log.Debug("add watch failed", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod || ignoredEvent(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addTree(ev.Name)
				}
			}
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *watcher) fire() {
	w.mu.Lock()
	stopped := w.stopped
	w.timer = nil
	w.mu.Unlock()
	if stopped {
		return
	}
	w.log.Debug("change detected")
	w.onChange(w.root)
}

func (w *watcher) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	close(w.done)
	_ = w.fsw.Close()
}
