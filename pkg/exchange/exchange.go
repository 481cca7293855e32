// Package exchange implements the engine's process-wide typed pub/sub bus:
// a single dispatcher goroutine drains a FIFO queue and invokes subscribers
// synchronously, in registration order, for each message.
package exchange

import (
	"sync"

	"github.com/google/uuid"

	"github.com/smlsync/smlsync/pkg/logging"
)

// MessageType identifies a message in the catalogue.
type MessageType string

// The full message catalogue.
const (
	StopCalled                MessageType = "STOP_CALLED"
	VerifyRemoteDirectory     MessageType = "VERIFY_REMOTE_DIRECTORY"
	RemoteDirectorySet        MessageType = "REMOTE_DIRECTORY_SET"
	PromptForRemoteDirectory  MessageType = "PROMPT_FOR_REMOTE_DIRECTORY"
	StartInitialFileTreeWalk  MessageType = "START_INITIAL_FILE_TREE_WALK"
	WalkStatusChange          MessageType = "WALK_STATUS_CHANGE"
	DisplayDifferences        MessageType = "DISPLAY_DIFFERENCES"
	RefreshDifferences        MessageType = "REFRESH_DIFFERENCES"
	SyncLocalToPlatform       MessageType = "SYNC_LOCAL_TO_PLATFORM"
	SyncPlatformToLocal       MessageType = "SYNC_PLATFORM_TO_LOCAL"
	StartWatchSync            MessageType = "START_WATCH_SYNC"
	StopWatchSync             MessageType = "STOP_WATCH_SYNC"
	DownInWatchSync           MessageType = "DOWN_IN_WATCH_SYNC"
	StartWatchSyncMainLoop    MessageType = "START_WATCH_SYNC_MAIN_LOOP"
	HeldFilesChanged          MessageType = "HELD_FILES_CHANGED"
	StartingHandlingFsEvent   MessageType = "STARTING_HANDLING_FS_EVENT"
	FinishedHandlingFsEvent   MessageType = "FINISHED_HANDLING_FS_EVENT"
	ErrorHandlingFsEvent      MessageType = "ERROR_HANDLING_FS_EVENT"
)

// Handler receives a message's payload. Its concrete type depends on the
// MessageType it was subscribed to.
type Handler func(payload interface{})

type subscription struct {
	id      uuid.UUID
	handler Handler
}

type envelope struct {
	messageType MessageType
	payload     interface{}
}

// Exchange is the pub/sub bus. The zero value is not usable; construct with
// New.
type Exchange struct {
	logger *logging.Logger

	queue chan envelope
	done  chan struct{}
	wg    sync.WaitGroup

	mu          sync.Mutex
	subscribers map[MessageType][]subscription
}

// New constructs an Exchange. Call Start before publishing any messages.
func New(logger *logging.Logger) *Exchange {
	return &Exchange{
		logger:      logger,
		queue:       make(chan envelope, 1024),
		done:        make(chan struct{}),
		subscribers: make(map[MessageType][]subscription),
	}
}

// Publish enqueues a message for asynchronous delivery and returns
// immediately. It never fails; if the internal queue is momentarily full,
// Publish blocks the caller rather than dropping the message.
func (e *Exchange) Publish(messageType MessageType, payload interface{}) {
	e.queue <- envelope{messageType: messageType, payload: payload}
}

// Subscribe registers handler for messageType and returns an opaque
// subscription id that can later be passed to Unsubscribe. Handlers
// installed after a message has been published do not receive that past
// message.
func (e *Exchange) Subscribe(messageType MessageType, handler Handler) uuid.UUID {
	id := uuid.New()
	e.mu.Lock()
	e.subscribers[messageType] = append(e.subscribers[messageType], subscription{id: id, handler: handler})
	e.mu.Unlock()
	return id
}

// Unsubscribe removes at most one subscription across all message types. It
// is idempotent and safe to call from inside a handler; the removal only
// takes effect for subsequently dispatched messages.
func (e *Exchange) Unsubscribe(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for messageType, subs := range e.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				e.subscribers[messageType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Start launches the dispatcher goroutine.
func (e *Exchange) Start() {
	e.wg.Add(1)
	go e.dispatch()
}

// Stop signals the dispatcher to exit once it has finished any message
// currently in flight.
func (e *Exchange) Stop() {
	close(e.done)
}

// Join blocks until the dispatcher goroutine has exited.
func (e *Exchange) Join() {
	e.wg.Wait()
}

func (e *Exchange) dispatch() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case msg := <-e.queue:
			e.deliver(msg)
		}
	}
}

func (e *Exchange) deliver(msg envelope) {
	e.mu.Lock()
	subs := append([]subscription(nil), e.subscribers[msg.messageType]...)
	e.mu.Unlock()

	if len(subs) > 0 && e.logger != nil {
		e.logger.Debug("publishing %s to %d subscribers", msg.messageType, len(subs))
	}

	for _, sub := range subs {
		e.invoke(sub.handler, msg.payload)
	}
}

// invoke calls handler, recovering from panics so that a single failing
// handler never aborts the dispatcher.
func (e *Exchange) invoke(handler Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Error(panicError{r})
		}
	}()
	handler(payload)
}

type panicError struct{ value interface{} }

func (p panicError) Error() string { return "exchange handler panicked: " + errorString(p.value) }

func errorString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return stringify(v)
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "(unprintable panic value)"
}
