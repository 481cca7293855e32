package heldpaths

import (
	"path"
	"sync"
	"time"

	"github.com/smlsync/smlsync/pkg/exchange"
	"github.com/smlsync/smlsync/pkg/fstree"
	"github.com/smlsync/smlsync/pkg/logging"
	"github.com/smlsync/smlsync/pkg/watch"
)

// RemoteStater is the narrow slice of Transport that the monitor needs: a
// single mtime lookup, with a boolean reporting whether the path was not
// found (ENOENT), distinguishing "not changed" from an error worth logging.
type RemoteStater interface {
	ModTime(remotePath string) (mtime time.Time, err error)
	IsNotExist(err error) bool
}

// Monitor is the Held-Paths Monitor. It is driven exclusively from the
// Uploader's goroutine; its internal state (the remote timestamp database
// and the held-path set) is therefore never mutated concurrently.
type Monitor struct {
	remoteDir string
	stater    RemoteStater
	exchange  *exchange.Exchange
	logger    *logging.Logger

	remoteTimestamps *TimestampDatabase

	mu        sync.Mutex // guards heldPaths only, since HeldPaths() may be read from other goroutines (e.g. the UI)
	heldPaths map[string]struct{}
}

// New constructs a Monitor from the local and remote listings captured at
// watch-mode entry and the differences computed between them. It publishes
// the initial HELD_FILES_CHANGED message before returning.
func New(remoteDir string, localTree, remoteTree []fstree.Object, stater RemoteStater, ex *exchange.Exchange, logger *logging.Logger) *Monitor {
	m := &Monitor{
		remoteDir:        remoteDir,
		stater:           stater,
		exchange:         ex,
		logger:           logger,
		remoteTimestamps: timestampsFromFiles(remoteTree),
		heldPaths:        make(map[string]struct{}),
	}

	for _, diff := range fstree.Compare(localTree, remoteTree) {
		switch diff.Type {
		case fstree.RightOnly, fstree.TypeDifferent:
			m.addHeld(diff.Right.Path)
		case fstree.AttrsDifferent:
			// Hold only if the remote file was modified after the local
			// copy currently known to the engine.
			if diff.Right.FileAttrs.LastModified.After(diff.Left.FileAttrs.LastModified) {
				m.addHeld(diff.Left.Path)
			}
		}
	}

	m.publishHeld()
	return m
}

func timestampsFromFiles(objects []fstree.Object) *TimestampDatabase {
	db := NewTimestampDatabase()
	for _, obj := range objects {
		if obj.IsFile() {
			db.UpdateIfNewer(obj.Path, obj.FileAttrs.LastModified)
		}
	}
	return db
}

// ShouldSync reports whether event should be applied to the remote. It may
// add paths to the held set and republish HELD_FILES_CHANGED as a side
// effect.
func (m *Monitor) ShouldSync(event watch.Event) bool {
	if m.isHeld(event.Path) {
		return false
	}

	if event.EventType == watch.Moved {
		srcChanged := m.hasPathChanged(event.Path)
		destChanged := m.hasPathChanged(event.Extra.DestPath)
		if srcChanged {
			m.addHeld(event.Path)
		}
		if destChanged {
			m.addHeld(event.Extra.DestPath)
		}
		if srcChanged || destChanged {
			m.publishHeld()
			return false
		}
		return true
	}

	if m.hasPathChanged(event.Path) {
		m.addHeld(event.Path)
		m.publishHeld()
		return false
	}
	return true
}

// HasSynced records that event was successfully applied to the remote,
// updating the remote timestamp database. It must only be called after the
// corresponding mutation actually completed.
func (m *Monitor) HasSynced(event watch.Event) {
	switch event.EventType {
	case watch.Deleted:
		m.remoteTimestamps.Remove(event.Path)
	case watch.Moved:
		m.remoteTimestamps.Remove(event.Path)
		if mtime, err := m.stater.ModTime(path.Join(m.remoteDir, event.Extra.DestPath)); err == nil {
			m.remoteTimestamps.UpdateIfNewer(event.Extra.DestPath, mtime)
		} else if m.logger != nil {
			m.logger.Warn(err)
		}
	default:
		if mtime, err := m.stater.ModTime(path.Join(m.remoteDir, event.Path)); err == nil {
			m.remoteTimestamps.UpdateIfNewer(event.Path, mtime)
		} else if m.logger != nil {
			m.logger.Warn(err)
		}
	}
}

// hasPathChanged reports whether the remote path's current mtime differs
// from the last one the monitor recorded. ENOENT is treated as "not
// changed" so that a path never seen on the remote remains eligible for
// initial upload.
func (m *Monitor) hasPathChanged(relPath string) bool {
	current, err := m.stater.ModTime(path.Join(m.remoteDir, relPath))
	if err != nil {
		if m.stater.IsNotExist(err) {
			return false
		}
		if m.logger != nil {
			m.logger.Warn(err)
		}
		return false
	}
	return !current.Equal(m.remoteTimestamps.Get(relPath))
}

func (m *Monitor) isHeld(relPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.heldPaths[relPath]
	return held
}

func (m *Monitor) addHeld(relPath string) {
	m.mu.Lock()
	m.heldPaths[relPath] = struct{}{}
	m.mu.Unlock()
}

// HeldPaths returns a snapshot of the currently held paths. Held paths are
// never removed during a watch session: the set only grows until watch mode
// is exited and re-entered, rebuilding the monitor from scratch.
func (m *Monitor) HeldPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.heldPaths))
	for p := range m.heldPaths {
		paths = append(paths, p)
	}
	return paths
}

func (m *Monitor) publishHeld() {
	if m.exchange == nil {
		return
	}
	m.exchange.Publish(exchange.HeldFilesChanged, m.HeldPaths())
}
