// Package watch adapts github.com/fsnotify/fsnotify into the engine's Local
// Watcher: a native filesystem-event source that recursively watches
// local_dir and emits a filtered, ordered stream of Event values onto a
// bounded queue consumed by the Uploader.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smlsync/smlsync/pkg/logging"
	"github.com/smlsync/smlsync/pkg/pathmatch"
)

// renamePairingWindow is how long the watcher waits for a matching Create
// event after observing a Rename before concluding the path was moved
// outside the watched root (and rewriting the event to Deleted).
//
// fsnotify (like the underlying inotify/kqueue/FSEvents backends it wraps)
// reports a move as a Rename on the source path and, for a rename within the
// same watched tree, a Create on the destination path arriving almost
// immediately afterwards; it does not pair the two itself. The watcher
// applies this short window as a best-effort correlation heuristic rather
// than a true atomic pairing.
const renamePairingWindow = 75 * time.Millisecond

type pendingRename struct {
	path        string
	isDirectory bool
	timer       *time.Timer
}

// Watcher is the Local Watcher adapter. It is not safe for concurrent use
// from multiple goroutines beyond the single internal dispatch loop; callers
// interact with it only through Start, Events, and Stop.
type Watcher struct {
	localDir string
	excludes []string
	logger   *logging.Logger

	fsWatcher *fsnotify.Watcher
	events    chan Event

	inventoryMu sync.Mutex
	inventory   map[string]bool // relative path -> isDirectory

	pendingMu sync.Mutex
	pending   map[string]*pendingRename

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Watcher rooted at localDir. Call Start to begin
// producing events.
func New(localDir string, excludes []string, logger *logging.Logger) *Watcher {
	return &Watcher{
		localDir:  localDir,
		excludes:  excludes,
		logger:    logger,
		events:    make(chan Event, 4096),
		inventory: make(map[string]bool),
		pending:   make(map[string]*pendingRename),
		done:      make(chan struct{}),
	}
}

// Events returns the channel on which filtered Event values are delivered,
// in the order the underlying watcher observed them. The channel is closed
// after Stop has fully drained the dispatch loop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start walks localDir to seed the path-type inventory, registers a
// recursive watch, and begins dispatching filtered events. It blocks until
// the initial walk and watch registration are complete.
func (w *Watcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsWatcher = fsWatcher

	err = filepath.Walk(w.localDir, func(absPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if absPath == w.localDir {
			if info.IsDir() {
				return w.fsWatcher.Add(absPath)
			}
			return nil
		}
		relPath, relErr := filepath.Rel(w.localDir, absPath)
		if relErr != nil {
			return relErr
		}
		relPath = filepath.ToSlash(relPath)
		w.recordInventory(relPath, info.IsDir())
		if info.IsDir() {
			return w.fsWatcher.Add(absPath)
		}
		return nil
	})
	if err != nil {
		fsWatcher.Close()
		return err
	}

	go w.dispatch(ctx)
	return nil
}

// Stop terminates the dispatch loop and closes the underlying fsnotify
// watcher. It is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.fsWatcher != nil {
			w.fsWatcher.Close()
		}
	})
}

func (w *Watcher) dispatch(ctx context.Context) {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case rawEvent, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleRaw(rawEvent)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn(err)
			}
		}
	}
}

func (w *Watcher) handleRaw(rawEvent fsnotify.Event) {
	relPath, err := filepath.Rel(w.localDir, rawEvent.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	// Filter 1: excluded paths are dropped before ever reaching the queue.
	if pathmatch.MatchesAnyOf(relPath, w.excludes) {
		if w.logger != nil {
			w.logger.Debug("dropping excluded path %s", relPath)
		}
		return
	}

	switch {
	case rawEvent.Op&fsnotify.Create == fsnotify.Create:
		w.handleCreate(relPath)
	case rawEvent.Op&fsnotify.Write == fsnotify.Write:
		w.handleWrite(relPath)
	case rawEvent.Op&fsnotify.Remove == fsnotify.Remove:
		w.handleRemove(relPath)
	case rawEvent.Op&fsnotify.Rename == fsnotify.Rename:
		w.handleRename(relPath)
	case rawEvent.Op&fsnotify.Chmod == fsnotify.Chmod:
		// Permission-bit changes carry no ChangeEventType analog and are
		// dropped.
	}
}

func (w *Watcher) handleCreate(relPath string) {
	absPath := filepath.Join(w.localDir, relPath)
	info, err := os.Stat(absPath)
	isDirectory := err == nil && info.IsDir()
	w.recordInventory(relPath, isDirectory)

	if isDirectory {
		if w.fsWatcher != nil {
			_ = w.fsWatcher.Add(absPath)
		}
	}

	// See if this Create completes a pending rename (filter 3's success
	// path): pair with a still-pending rename (an arbitrary one if several
	// are pending).
	if src, ok := w.popOldestPending(); ok {
		w.emit(Event{
			EventType:   Moved,
			IsDirectory: src.isDirectory,
			Path:        src.path,
			Extra:       &Extra{DestPath: relPath},
		})
		return
	}

	w.emit(Event{EventType: Created, IsDirectory: isDirectory, Path: relPath})
}

func (w *Watcher) handleWrite(relPath string) {
	isDirectory := w.lookupInventory(relPath)
	// Filter 2: MODIFIED on a directory is discarded before reaching the
	// queue.
	if isDirectory {
		return
	}
	w.emit(Event{EventType: Modified, IsDirectory: false, Path: relPath})
}

func (w *Watcher) handleRemove(relPath string) {
	isDirectory := w.lookupInventory(relPath)
	w.forgetInventory(relPath)
	w.emit(Event{EventType: Deleted, IsDirectory: isDirectory, Path: relPath})
}

func (w *Watcher) handleRename(relPath string) {
	isDirectory := w.lookupInventory(relPath)
	w.forgetInventory(relPath)

	timer := time.AfterFunc(renamePairingWindow, func() {
		if pr, ok := w.takePending(relPath); ok {
			// Filter 3: no matching Create arrived, so the destination must
			// lie outside the watched root; rewrite to Deleted.
			w.emit(Event{EventType: Deleted, IsDirectory: pr.isDirectory, Path: pr.path})
		}
	})

	w.pendingMu.Lock()
	w.pending[relPath] = &pendingRename{path: relPath, isDirectory: isDirectory, timer: timer}
	w.pendingMu.Unlock()
}

func (w *Watcher) emit(event Event) {
	select {
	case w.events <- event:
	case <-w.done:
	}
}

func (w *Watcher) recordInventory(relPath string, isDirectory bool) {
	w.inventoryMu.Lock()
	w.inventory[relPath] = isDirectory
	w.inventoryMu.Unlock()
}

func (w *Watcher) forgetInventory(relPath string) {
	w.inventoryMu.Lock()
	delete(w.inventory, relPath)
	w.inventoryMu.Unlock()
}

func (w *Watcher) lookupInventory(relPath string) bool {
	w.inventoryMu.Lock()
	defer w.inventoryMu.Unlock()
	return w.inventory[relPath]
}

func (w *Watcher) takePending(relPath string) (*pendingRename, bool) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	pr, ok := w.pending[relPath]
	if ok {
		delete(w.pending, relPath)
	}
	return pr, ok
}

// popOldestPending removes and returns an arbitrary still-pending rename
// (there is at most one in the common case of non-concurrent renames).
func (w *Watcher) popOldestPending() (*pendingRename, bool) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	for path, pr := range w.pending {
		pr.timer.Stop()
		delete(w.pending, path)
		return pr, true
	}
	return nil, false
}
