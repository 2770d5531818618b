// Package watcher rebuilds stores when the directories holding their source documents change.
// Any matching change inside a watched directory schedules one debounced full rebuild of
// the scope owning it; rebuilds of one scope never overlap.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/source"
)

const defaultDebounce = 2 * time.Second

// RebuildFunc rebuilds the store of scope from scratch.
type RebuildFunc func(ctx context.Context, scope string) error

// Watcher maps watched directories to scopes and calls a RebuildFunc after changes settle.
type Watcher struct {
	extensions []string
	debounce   time.Duration
	rebuild    RebuildFunc
	logger     *zap.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	ctx       context.Context
	dirs      map[string]string   // root dir -> scope
	rootPaths map[string][]string // root dir -> watched paths under it
	timers    map[string]*time.Timer
	running   map[string]bool
	pending   map[string]bool
	done      chan struct{}
	started   bool
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events and rebuild outcomes.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long changes must settle before a rebuild starts.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher. extensions filters which files count as changes (empty = all).
func NewWatcher(extensions []string, rebuild RebuildFunc, opts ...Option) *Watcher {
	w := &Watcher{
		extensions: extensions,
		debounce:   defaultDebounce,
		rebuild:    rebuild,
		logger:     zap.NewNop(),
		dirs:       make(map[string]string),
		rootPaths:  make(map[string][]string),
		timers:     make(map[string]*time.Timer),
		running:    make(map[string]bool),
		pending:    make(map[string]bool),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	w.started = true
	w.logger.Debug("watcher starting", zap.Strings("extensions", w.extensions), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	scope, root, ok := w.scopeOf(ev.Name)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name), zap.String("scope", scope))
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addTree(root, ev.Name)
			w.schedule(scope)
			return
		}
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return
	}
	// Removed directories have no extension; a rebuild sorts out what is left.
	if source.ExtensionAllowed(ev.Name, w.extensions) || filepath.Ext(ev.Name) == "" {
		w.schedule(scope)
	}
}

func (w *Watcher) scopeOf(path string) (scope, root string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	clean := filepath.Clean(path)
	for dir, s := range w.dirs {
		if dir == clean || inDir(dir, clean) {
			return s, dir, true
		}
	}
	return "", "", false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// schedule (re)starts the debounce timer of scope.
func (w *Watcher) schedule(scope string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.timers[scope]; ok {
		t.Stop()
	}
	w.timers[scope] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, scope)
		w.mu.Unlock()
		w.trigger(scope)
	})
}

// trigger runs a rebuild of scope, or marks one pending if a rebuild is already running.
func (w *Watcher) trigger(scope string) {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if w.running[scope] {
		w.pending[scope] = true
		w.mu.Unlock()
		return
	}
	w.running[scope] = true
	ctx := w.ctx
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		for {
			start := time.Now()
			w.logger.Info("rebuilding store", zap.String("scope", scope))
			if err := w.rebuild(ctx, scope); err != nil {
				w.logger.Warn("rebuild failed", zap.String("scope", scope), zap.Error(err))
			} else {
				w.logger.Info("rebuild finished", zap.String("scope", scope), zap.Duration("duration", time.Since(start)))
			}
			w.mu.Lock()
			if w.pending[scope] && w.started {
				delete(w.pending, scope)
				w.mu.Unlock()
				continue
			}
			delete(w.pending, scope)
			delete(w.running, scope)
			w.mu.Unlock()
			return
		}
	}()
}

// AddScope watches dir (recursively) for changes to the documents of scope. The directory
// is created if missing. With rebuildNow, a rebuild is started immediately. It is a no-op
// before Start.
func (w *Watcher) AddScope(scope, dir string, rebuildNow bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(abs, 0755); err != nil {
		return err
	}
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return nil
	}
	if _, ok := w.dirs[abs]; ok {
		w.mu.Unlock()
		return nil
	}
	w.dirs[abs] = scope
	w.mu.Unlock()

	w.addTree(abs, abs)
	w.logger.Debug("watching scope", zap.String("scope", scope), zap.String("dir", abs))
	if rebuildNow {
		w.trigger(scope)
	}
	return nil
}

// addTree watches dir and every directory below it, recording them under root.
func (w *Watcher) addTree(root, dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			return nil
		}
		w.rootPaths[root] = append(w.rootPaths[root], path)
		return nil
	})
}

// RemoveScope stops watching every directory of scope and cancels its pending rebuild.
func (w *Watcher) RemoveScope(scope string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, s := range w.dirs {
		if s != scope {
			continue
		}
		if w.watcher != nil {
			for _, p := range w.rootPaths[dir] {
				_ = w.watcher.Remove(p)
			}
		}
		delete(w.rootPaths, dir)
		delete(w.dirs, dir)
	}
	if t, ok := w.timers[scope]; ok {
		t.Stop()
		delete(w.timers, scope)
	}
	delete(w.pending, scope)
}

// Scopes returns the watched directories keyed by directory.
func (w *Watcher) Scopes() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]string, len(w.dirs))
	for d, s := range w.dirs {
		out[d] = s
	}
	return out
}

// Stop stops watching, cancels scheduled rebuilds, and waits for running ones to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for scope, t := range w.timers {
		t.Stop()
		delete(w.timers, scope)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}
