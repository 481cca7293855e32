// Package uploader implements the Uploader: a single-consumer worker that
// drains the filtered filesystem-event queue through the Held-Paths Monitor
// and applies the resulting mutations via Transport and Bulk Transfer.
package uploader

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/smlsync/smlsync/pkg/bulktransfer"
	"github.com/smlsync/smlsync/pkg/exchange"
	"github.com/smlsync/smlsync/pkg/logging"
	"github.com/smlsync/smlsync/pkg/watch"
)

// RemoteMutator is the narrow slice of Transport the Uploader applies
// directory/rename/delete mutations through.
type RemoteMutator interface {
	Mkdir(path string) error
	Rmdir(path string) error
	Remove(path string) error
	Rename(src, dest string) error
	IsNotExist(err error) bool
}

// Monitor is the slice of the Held-Paths Monitor the Uploader drives.
type Monitor interface {
	ShouldSync(event watch.Event) bool
	HasSynced(event watch.Event)
}

// Uploader applies a stream of watch.Event values to the remote tree.
type Uploader struct {
	events    <-chan watch.Event
	monitor   Monitor
	transport RemoteMutator
	bulk      *bulktransfer.Transfer
	remoteDir string
	exchange  *exchange.Exchange
	logger    *logging.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	processedMu sync.Mutex
	processed   []watch.Event // exposed via Processed for test/introspection, mirroring the original ListableQueue.items()
}

// New constructs an Uploader that reads events from events and applies them
// via transport (for directory/rename/delete mutations) and bulk (for file
// content transfers).
func New(events <-chan watch.Event, monitor Monitor, transport RemoteMutator, bulk *bulktransfer.Transfer, remoteDir string, ex *exchange.Exchange, logger *logging.Logger) *Uploader {
	return &Uploader{
		events:    events,
		monitor:   monitor,
		transport: transport,
		bulk:      bulk,
		remoteDir: remoteDir,
		exchange:  ex,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Start launches the worker loop.
func (u *Uploader) Start() {
	u.wg.Add(1)
	go u.run()
}

// Stop requests that the worker loop exit after finishing its current unit
// of work, if any.
func (u *Uploader) Stop() {
	close(u.stop)
}

// Join blocks until the worker loop has exited.
func (u *Uploader) Join() {
	u.wg.Wait()
}

// Processed returns, in order, every event the Uploader has finished a pass
// over (synced or skipped), for test introspection of ordering, mirroring
// the original implementation's introspectable ListableQueue.
func (u *Uploader) Processed() []watch.Event {
	u.processedMu.Lock()
	defer u.processedMu.Unlock()
	return append([]watch.Event(nil), u.processed...)
}

func (u *Uploader) run() {
	defer u.wg.Done()
	for {
		select {
		case <-u.stop:
			return
		case event, ok := <-u.events:
			if !ok {
				return
			}
			u.process(event)
			u.recordProcessed(event)
		case <-time.After(time.Second):
			// Re-check the stop flag periodically even with no events
			// flowing, matching the original's timeout-polled queue.Get
			// loop.
		}
	}
}

func (u *Uploader) recordProcessed(event watch.Event) {
	u.processedMu.Lock()
	u.processed = append(u.processed, event)
	u.processedMu.Unlock()
}

func (u *Uploader) process(event watch.Event) {
	if !u.monitor.ShouldSync(event) {
		return
	}

	u.publish(exchange.StartingHandlingFsEvent, event)

	if err := u.apply(event); err != nil {
		if u.logger != nil {
			u.logger.Warn(err)
		}
		u.publish(exchange.ErrorHandlingFsEvent, nil)
		return
	}

	u.monitor.HasSynced(event)
	u.publish(exchange.FinishedHandlingFsEvent, event)
}

// remotePath joins a path relative to the watched local root with the
// remote root, since Transport performs no path manipulation of its own.
func (u *Uploader) remotePath(relPath string) string {
	return path.Join(u.remoteDir, relPath)
}

func (u *Uploader) apply(event watch.Event) error {
	ctx := context.Background()

	if event.IsDirectory {
		switch event.EventType {
		case watch.Created, watch.Modified:
			return u.transport.Mkdir(u.remotePath(event.Path))
		case watch.Deleted:
			return u.swallowNotExist(u.transport.Rmdir(u.remotePath(event.Path)))
		case watch.Moved:
			// Directory moves are handled as plain atomic renames on the
			// remote: no recursive re-upload is needed.
			return u.transport.Rename(u.remotePath(event.Path), u.remotePath(event.Extra.DestPath))
		}
		return nil
	}

	switch event.EventType {
	case watch.Created, watch.Modified:
		return u.bulk.Up(ctx, event.Path, bulktransfer.Options{})
	case watch.Deleted:
		return u.swallowNotExist(u.transport.Remove(u.remotePath(event.Path)))
	case watch.Moved:
		return u.transport.Rename(u.remotePath(event.Path), u.remotePath(event.Extra.DestPath))
	}
	return nil
}

// swallowNotExist treats an ENOENT-shaped failure from remove/rmdir as
// success, logging it.
func (u *Uploader) swallowNotExist(err error) error {
	if err == nil {
		return nil
	}
	if u.transport.IsNotExist(err) {
		if u.logger != nil {
			u.logger.Debug("ignoring not-found error: %v", err)
		}
		return nil
	}
	return err
}

func (u *Uploader) publish(messageType exchange.MessageType, payload interface{}) {
	if u.exchange != nil {
		u.exchange.Publish(messageType, payload)
	}
}
