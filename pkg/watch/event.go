package watch

// ChangeEventType classifies a filesystem change observed by the Local
// Watcher.
type ChangeEventType uint8

const (
	// Created indicates a new file or directory.
	Created ChangeEventType = iota
	// Moved indicates a rename; Extra.DestPath holds the new path.
	Moved
	// Modified indicates a file's contents changed. Never emitted for
	// directories.
	Modified
	// Deleted indicates a file or directory was removed.
	Deleted
)

func (t ChangeEventType) String() string {
	switch t {
	case Created:
		return "CREATED"
	case Moved:
		return "MOVED"
	case Modified:
		return "MODIFIED"
	case Deleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// Extra carries the fields that only apply to some event types. It is
// present (non-nil) iff EventType is Moved.
type Extra struct {
	DestPath string
}

// Event is a single filesystem change relative to the watched local root.
type Event struct {
	EventType   ChangeEventType
	IsDirectory bool
	Path        string
	Extra       *Extra
}
