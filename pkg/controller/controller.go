// Package controller implements the Controller state machine: it reacts to
// Exchange messages to drive the engine through
// INIT -> VERIFYING_REMOTE -> PROMPTING_REMOTE? -> LISTING ->
// SHOWING_DIFFERENCES -> {BULK_UP, BULK_DOWN, WATCHING} -> ..., owning the
// per-session Transport, Tree Lister, Bulk Transfer, Local Watcher, Uploader
// and Held-Paths Monitor.
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/smlsync/smlsync/pkg/bulktransfer"
	"github.com/smlsync/smlsync/pkg/exchange"
	"github.com/smlsync/smlsync/pkg/fstree"
	"github.com/smlsync/smlsync/pkg/heldpaths"
	"github.com/smlsync/smlsync/pkg/logging"
	"github.com/smlsync/smlsync/pkg/rsynclist"
	"github.com/smlsync/smlsync/pkg/syncerrors"
	"github.com/smlsync/smlsync/pkg/transport"
	"github.com/smlsync/smlsync/pkg/uploader"
	"github.com/smlsync/smlsync/pkg/watch"
)

// workerPoolSize is the recommended worker pool size.
const workerPoolSize = 8

// WalkStatus reports where a listing pass currently is, published as
// WALK_STATUS_CHANGE.
type WalkStatus uint8

const (
	Connecting WalkStatus = iota
	LocalWalk
	RemoteWalk
	CalculatingDifferences
)

func (s WalkStatus) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case LocalWalk:
		return "LOCAL_WALK"
	case RemoteWalk:
		return "REMOTE_WALK"
	case CalculatingDifferences:
		return "CALCULATING_DIFFERENCES"
	default:
		return "UNKNOWN"
	}
}

// Config bundles the resolved, per-session identity the Controller needs to
// build its Transport, Tree Lister and Bulk Transfer.
type Config struct {
	LocalDir  string
	RemoteDir string // may be empty; the controller then prompts for one
	Username  string
	Hostname  string
	Port      int
	KeyFile   string
	Excludes  []string
}

// Controller is the engine's state machine. The zero value is not usable;
// construct with New.
type Controller struct {
	cfg      Config
	exchange *exchange.Exchange
	logger   *logging.Logger
	pool     *workerPool
	subs     []uuid.UUID

	// Session state, rebuilt each time the remote directory is (re)verified.
	// Guarded by mu since handlers run inside worker-pool goroutines and may,
	// in principle, execute concurrently even though the pool processes
	// submissions in FIFO order.
	mu         sync.Mutex
	remoteDir  string
	transport  *transport.Transport
	lister     *rsynclist.Lister
	bulk       *bulktransfer.Transfer
	localTree  []fstree.Object
	remoteTree []fstree.Object

	watcher     *watch.Watcher
	watchCancel context.CancelFunc
	uploader    *uploader.Uploader
	monitor     *heldpaths.Monitor
}

// New constructs a Controller. Call Start to begin the state machine.
func New(cfg Config, ex *exchange.Exchange, logger *logging.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		exchange: ex,
		logger:   logger,
		pool:     newWorkerPool(workerPoolSize),
	}
}

// Start launches the worker pool, subscribes to every message in the
// catalogue the Controller reacts to, and publishes the initial
// VERIFY_REMOTE_DIRECTORY.
func (c *Controller) Start() {
	c.pool.start()

	c.subscribe(exchange.VerifyRemoteDirectory, c.onVerifyRemoteDirectory)
	c.subscribe(exchange.StartInitialFileTreeWalk, c.onStartInitialFileTreeWalk)
	c.subscribe(exchange.RefreshDifferences, c.onStartInitialFileTreeWalk)
	c.subscribe(exchange.SyncLocalToPlatform, c.onSyncLocalToPlatform)
	c.subscribe(exchange.SyncPlatformToLocal, c.onSyncPlatformToLocal)
	c.subscribe(exchange.StartWatchSync, c.onStartWatchSync)
	c.subscribe(exchange.ErrorHandlingFsEvent, c.onErrorHandlingFsEvent)
	c.subscribe(exchange.StopWatchSync, c.onStopWatchSync)
	c.subscribe(exchange.DownInWatchSync, c.onDownInWatchSync)

	// STOP_CALLED is handled directly on the Exchange dispatcher goroutine,
	// not submitted to the worker pool: its handler calls Shutdown, which
	// drains and stops the pool itself, and a pool worker can never wait on
	// its own pool's drain without deadlocking.
	stopID := c.exchange.Subscribe(exchange.StopCalled, c.onStopCalled)
	c.subs = append(c.subs, stopID)

	var initial interface{}
	if c.cfg.RemoteDir != "" {
		initial = c.cfg.RemoteDir
	}
	c.exchange.Publish(exchange.VerifyRemoteDirectory, initial)
}

func (c *Controller) subscribe(messageType exchange.MessageType, handler func(interface{})) {
	id := c.exchange.Subscribe(messageType, func(payload interface{}) {
		c.pool.submit(func() { handler(payload) })
	})
	c.subs = append(c.subs, id)
}

// SetRemoteDirectory is the hook a CLI or UI collaborator calls once the user
// has answered a PROMPT_FOR_REMOTE_DIRECTORY request.
func (c *Controller) SetRemoteDirectory(remoteDir string) {
	c.exchange.Publish(exchange.VerifyRemoteDirectory, remoteDir)
}

// Shutdown tears down any live session (watcher, uploader, transport) and
// stops the worker pool. It is safe to call more than once.
func (c *Controller) Shutdown() {
	c.stopWatchSession()

	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()
	if t != nil {
		if err := t.Close(); err != nil && c.logger != nil {
			c.logger.Warn(err)
		}
	}

	for _, id := range c.subs {
		c.exchange.Unsubscribe(id)
	}
	c.pool.stop()
}

func (c *Controller) onStopCalled(interface{}) {
	c.Shutdown()
}

// onVerifyRemoteDirectory handles VERIFY_REMOTE_DIRECTORY. payload is a
// remote path string, or nil/"" if unset.
func (c *Controller) onVerifyRemoteDirectory(payload interface{}) {
	remote, _ := payload.(string)
	remote = strings.TrimRight(remote, "/")

	if remote == "" {
		c.exchange.Publish(exchange.PromptForRemoteDirectory, nil)
		return
	}

	t, err := transport.Dial(transport.SshDetails{
		Hostname: c.cfg.Hostname,
		Port:     c.cfg.Port,
		Username: c.cfg.Username,
		KeyFile:  c.cfg.KeyFile,
	}, c.logger)
	if err != nil {
		// TransportConnectError is fatal: the session cannot proceed.
		if c.logger != nil {
			c.logger.Error(err)
		}
		c.exchange.Publish(exchange.StopCalled, nil)
		return
	}

	info, err := t.Stat(remote)
	if err != nil || !info.IsDir() {
		if c.logger != nil {
			c.logger.Warn(&syncerrors.RemoteNotDirectory{Path: remote})
		}
		_ = t.Close()
		c.exchange.Publish(exchange.PromptForRemoteDirectory, nil)
		return
	}

	c.mu.Lock()
	c.remoteDir = remote
	c.transport = t
	c.lister = rsynclist.New(c.cfg.Port, c.cfg.KeyFile, c.logger)
	c.bulk = bulktransfer.New(c.cfg.LocalDir, remote, c.cfg.Username, c.cfg.Hostname, c.cfg.Port, c.cfg.KeyFile, c.cfg.Excludes, c.logger)
	c.mu.Unlock()

	c.exchange.Publish(exchange.RemoteDirectorySet, remote)
	c.exchange.Publish(exchange.StartInitialFileTreeWalk, nil)
}

func (c *Controller) remoteSpec() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%s@%s:%s", c.cfg.Username, c.cfg.Hostname, c.remoteDir)
}

// onStartInitialFileTreeWalk handles both START_INITIAL_FILE_TREE_WALK and
// REFRESH_DIFFERENCES, which run the same listing pass.
func (c *Controller) onStartInitialFileTreeWalk(interface{}) {
	c.mu.Lock()
	lister := c.lister
	c.mu.Unlock()
	if lister == nil {
		return
	}

	ctx := context.Background()
	c.exchange.Publish(exchange.WalkStatusChange, Connecting)

	c.exchange.Publish(exchange.WalkStatusChange, LocalWalk)
	localTree, err := lister.List(ctx, c.cfg.LocalDir, c.cfg.Excludes)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn(err)
		}
		return
	}

	c.exchange.Publish(exchange.WalkStatusChange, RemoteWalk)
	remoteTree, err := lister.List(ctx, c.remoteSpec(), c.cfg.Excludes)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn(err)
		}
		return
	}

	c.exchange.Publish(exchange.WalkStatusChange, CalculatingDifferences)
	differences := fstree.Compare(localTree, remoteTree)

	c.mu.Lock()
	c.localTree = localTree
	c.remoteTree = remoteTree
	c.mu.Unlock()

	c.exchange.Publish(exchange.DisplayDifferences, differences)
}

func (c *Controller) onSyncLocalToPlatform(interface{}) {
	c.mu.Lock()
	bulk := c.bulk
	c.mu.Unlock()
	if bulk == nil {
		return
	}
	if err := bulk.Up(context.Background(), "", bulktransfer.Options{Delete: true}); err != nil {
		if c.logger != nil {
			c.logger.Warn(err)
		}
	}
	c.onStartInitialFileTreeWalk(nil)
}

func (c *Controller) onSyncPlatformToLocal(interface{}) {
	c.mu.Lock()
	bulk := c.bulk
	c.mu.Unlock()
	if bulk == nil {
		return
	}
	if err := bulk.Down(context.Background(), "", bulktransfer.Options{Delete: true}); err != nil {
		if c.logger != nil {
			c.logger.Warn(err)
		}
	}
	c.onStartInitialFileTreeWalk(nil)
}

// onStartWatchSync handles START_WATCH_SYNC: it builds the Held-Paths
// Monitor from the listings captured by the last walk, starts the Local
// Watcher, and wires its events straight into a fresh Uploader.
func (c *Controller) onStartWatchSync(interface{}) {
	c.mu.Lock()
	t := c.transport
	bulk := c.bulk
	remoteDir := c.remoteDir
	localTree := c.localTree
	remoteTree := c.remoteTree
	c.mu.Unlock()
	if t == nil || bulk == nil {
		return
	}

	monitor := heldpaths.New(remoteDir, localTree, remoteTree, t, c.exchange, c.logger)

	w := watch.New(c.cfg.LocalDir, c.cfg.Excludes, c.logger)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		cancel()
		if c.logger != nil {
			c.logger.Warn(err)
		}
		return
	}

	up := uploader.New(w.Events(), monitor, t, bulk, remoteDir, c.exchange, c.logger)
	up.Start()

	c.mu.Lock()
	c.watcher = w
	c.watchCancel = cancel
	c.uploader = up
	c.monitor = monitor
	c.mu.Unlock()

	c.exchange.Publish(exchange.StartWatchSyncMainLoop, nil)
}

// stopWatchSession stops the current watcher and uploader, if any, and waits
// for them to fully exit.
func (c *Controller) stopWatchSession() {
	c.mu.Lock()
	w := c.watcher
	cancel := c.watchCancel
	up := c.uploader
	c.watcher = nil
	c.watchCancel = nil
	c.uploader = nil
	c.monitor = nil
	c.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if up != nil {
		up.Stop()
		up.Join()
	}
}

func (c *Controller) onStopWatchSync(interface{}) {
	c.stopWatchSession()
	c.onStartInitialFileTreeWalk(nil)
}

// onErrorHandlingFsEvent handles ERROR_HANDLING_FS_EVENT: an error deep
// enough to threaten state-machine invariants unconditionally
// re-establishes parity with a full --delete upload before watch mode
// resumes.
func (c *Controller) onErrorHandlingFsEvent(interface{}) {
	c.stopWatchSession()

	c.mu.Lock()
	bulk := c.bulk
	c.mu.Unlock()
	if bulk != nil {
		if err := bulk.Up(context.Background(), "", bulktransfer.Options{Delete: true}); err != nil && c.logger != nil {
			c.logger.Warn(err)
		}
	}

	c.onStartWatchSync(nil)
}

func (c *Controller) onDownInWatchSync(interface{}) {
	c.stopWatchSession()

	c.mu.Lock()
	bulk := c.bulk
	c.mu.Unlock()
	if bulk != nil {
		if err := bulk.Down(context.Background(), "", bulktransfer.Options{Update: true}); err != nil && c.logger != nil {
			c.logger.Warn(err)
		}
	}

	c.onStartWatchSync(nil)
}
