// Package heldpaths implements the Held-Paths Monitor: the safety core of
// watch mode, which decides per filesystem event whether applying it would
// clobber a remote-side change that the engine has not yet observed.
package heldpaths

import "time"

// TimestampDatabase tracks the last known modification time the engine has
// observed for each relative path. It is owned exclusively by the monitor
// goroutine and is not safe for concurrent mutation.
type TimestampDatabase struct {
	data map[string]time.Time
}

// NewTimestampDatabase constructs an empty database.
func NewTimestampDatabase() *TimestampDatabase {
	return &TimestampDatabase{data: make(map[string]time.Time)}
}

// Get returns the recorded timestamp for path, or the zero time if none is
// recorded.
func (d *TimestampDatabase) Get(path string) time.Time {
	return d.data[path]
}

// Remove deletes any recorded timestamp for path.
func (d *TimestampDatabase) Remove(path string) {
	delete(d.data, path)
}

// UpdateIfNewer records timestamp for path unless a strictly newer
// timestamp is already recorded, so that out-of-order updates never move
// the database backwards.
func (d *TimestampDatabase) UpdateIfNewer(path string, timestamp time.Time) {
	if !d.data[path].After(timestamp) {
		d.data[path] = timestamp
	}
}
