//go:build !(js && wasm)

// Package watcher implements the native watch-mode event loop from
// spec.md §4.11: recursively register the project tree, run a compile,
// block for an event with a long timeout, debounce a burst of events,
// compile again, then reset and re-register to pick up new files.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/eztex/eztex/internal/logx"
)

var log = logx.Scope("watcher")

var trackedExtensions = map[string]bool{
	".tex": true, ".bib": true, ".bst": true, ".cls": true,
	".sty": true, ".def": true, ".cfg": true, ".clo": true,
	".dtx": true, ".fd": true, ".zon": true,
}

var excludedDirs = map[string]bool{
	".git": true, "zig-out": true, ".zig-cache": true, "node_modules": true,
}

const (
	waitTimeout   = 60 * time.Second
	debounceDelay = 200 * time.Millisecond
	pollInterval  = 200 * time.Millisecond
)

// Watcher drives one project root through repeated compile cycles,
// invoking onChange after the initial compile and after every settled
// batch of file-system events.
type Watcher struct {
	root      string
	onChange  func()
	fsWatcher *fsnotify.Watcher // nil when running the mtime-poll fallback
	mtimes    map[string]time.Time
}

// New creates a Watcher rooted at root. It tries fsnotify first and
// falls back to mtime polling if the platform's watch mechanism can't
// be initialized (e.g. inotify instance limits exhausted).
func New(root string, onChange func()) (*Watcher, error) {
	w := &Watcher{root: root, onChange: onChange}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("fsnotify unavailable (%v), falling back to mtime polling", err)
		w.mtimes = make(map[string]time.Time)
		return w, nil
	}
	w.fsWatcher = fw
	return w, nil
}

// Run executes the event loop from spec.md §4.11 until ctx is canceled.
// It always runs one compile before waiting for the first event.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	if err := w.register(); err != nil {
		return err
	}
	w.onChange()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		changed, err := w.waitForEvent(ctx)
		if err != nil {
			return err
		}
		if !changed {
			continue // context canceled mid-wait, or a stray wakeup with nothing settled
		}

		w.onChange()

		if err := w.reregister(); err != nil {
			return err
		}
	}
}

func (w *Watcher) close() {
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
	}
}

// register walks the tree once, adding a watch for every qualifying
// directory (fsnotify mode) or snapshotting mtimes (polling mode).
func (w *Watcher) register() error {
	if w.fsWatcher != nil {
		return w.registerFsnotify()
	}
	return w.snapshotMtimes()
}

func (w *Watcher) reregister() error {
	// fsnotify.Watcher doesn't support bulk reset; remove tracked
	// directories is unnecessary since Add is idempotent, but new
	// directories created by the last compile need their own watches.
	return w.register()
}

func (w *Watcher) registerFsnotify() error {
	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if shouldSkipDir(path) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			log.Warnf("add watch for %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) snapshotMtimes() error {
	mtimes := make(map[string]time.Time)
	err := filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if shouldSkipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !trackedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		mtimes[path] = info.ModTime()
		return nil
	})
	if err != nil {
		return err
	}
	w.mtimes = mtimes
	return nil
}

func shouldSkipDir(path string) bool {
	base := filepath.Base(path)
	if excludedDirs[base] {
		return true
	}
	return strings.HasPrefix(base, ".") && base != "."
}

// waitForEvent blocks up to waitTimeout for the first relevant event,
// then drains further events for debounceDelay before returning. It
// reports false (no compile needed) if ctx was canceled, waitTimeout
// elapsed, or (fsnotify mode) the wakeup was a watcher error or an event
// for a directory or an untracked file.
func (w *Watcher) waitForEvent(ctx context.Context) (bool, error) {
	if w.fsWatcher != nil {
		return w.waitForFsnotifyEvent(ctx)
	}
	return w.waitForPolledChange(ctx)
}

func (w *Watcher) waitForFsnotifyEvent(ctx context.Context) (bool, error) {
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, nil
	case <-timer.C:
		return false, nil
	case err, ok := <-w.fsWatcher.Errors:
		if ok {
			log.Warnf("fsnotify error: %v", err)
		}
		return false, nil
	case ev, ok := <-w.fsWatcher.Events:
		if !ok {
			return false, nil
		}
		if !w.relevant(ev) {
			return false, nil
		}
		w.drainDebounce(ctx)
		return true, nil
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		if ev.Op&fsnotify.Create != 0 && !shouldSkipDir(ev.Name) {
			if err := w.fsWatcher.Add(ev.Name); err != nil {
				log.Warnf("add watch for new directory %s: %v", ev.Name, err)
			}
		}
		return false
	}
	return trackedExtensions[strings.ToLower(filepath.Ext(ev.Name))]
}

func (w *Watcher) drainDebounce(ctx context.Context) {
	timer := time.NewTimer(debounceDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-w.fsWatcher.Events:
			timer.Reset(debounceDelay)
		case <-w.fsWatcher.Errors:
		}
	}
}

func (w *Watcher) waitForPolledChange(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(waitTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
			if w.pollChanged() {
				return true, nil
			}
		}
	}
	return false, nil
}

func (w *Watcher) pollChanged() bool {
	changed := false
	seen := make(map[string]bool, len(w.mtimes))
	_ = filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if shouldSkipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !trackedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		seen[path] = true
		if prev, ok := w.mtimes[path]; !ok || !prev.Equal(info.ModTime()) {
			changed = true
		}
		return nil
	})
	for path := range w.mtimes {
		if !seen[path] {
			changed = true
		}
	}
	return changed
}
