package sync

import (
	"context"
	"errors"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
	"github.com/matheus3301/chatsync/internal/index"
	"github.com/matheus3301/chatsync/internal/pager"
	"github.com/matheus3301/chatsync/internal/push"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/unread"
)

var (
	ErrUnknownConversation = errors.New("sync: unknown conversation")
	ErrUnknownMessage      = errors.New("sync: unknown message")
	ErrStopped             = errors.New("sync: engine stopped")
)

// Connection is the push connection as the engine uses it.
type Connection interface {
	Connect(ctx context.Context) error
	Invoke(ctx context.Context, method string, payload, out any) error
}

// Remote is the REST side: conversation and message services.
type Remote interface {
	GetAllConversations(ctx context.Context) ([]chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	CreateConversation(ctx context.Context, participantIDs []string, kind chat.Kind) (chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ChangeNickname(ctx context.Context, conversationID, userID, value string) error
	ChangeConversationName(ctx context.Context, id, value string) error
	GetMessages(ctx context.Context, conversationID string, skip, take int) ([]chat.Message, error)
	ReactionMessage(ctx context.Context, messageID, symbol string) (chat.Message, error)
}

// Options configures an Engine.
type Options struct {
	// Me is the user id of the account owner.
	Me            string
	PageSize      int
	SeenPolicy    delivery.SeenPolicy
	InvokeTimeout time.Duration
}

const pushBuffer = 256

type command struct {
	fn   func()
	done chan struct{}
}

// Engine owns the message store, the conversation index and the active
// conversation. A single goroutine applies every mutation in order: push
// events handed over by Push and commands posted by callers. Readers use
// Snapshot.
type Engine struct {
	me            string
	conn          Connection
	remote        Remote
	bus           *bus.Bus
	unread        *unread.Counter
	tracker       *delivery.Tracker
	viewport      *pager.TrackedViewport
	pager         *pager.Pager
	logger        *zap.Logger
	invokeTimeout time.Duration

	// Owned by the loop goroutine.
	store    *store.Store
	index    *index.Index
	active   string
	lastObs  delivery.Observation
	fetching map[string]struct{}
	version  uint64

	cmds    chan command
	pushCh  chan push.Event
	snap    atomic.Pointer[Snapshot]
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	bg      gosync.WaitGroup
}

// NewEngine creates an engine. Call Start before using it.
func NewEngine(opts Options, conn Connection, remote Remote, b *bus.Bus, counter *unread.Counter, viewport *pager.TrackedViewport, logger *zap.Logger) *Engine {
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = 10 * time.Second
	}
	if counter == nil {
		counter = unread.NewCounter(b)
	}
	if viewport == nil {
		viewport = pager.NewTrackedViewport(b)
	}
	e := &Engine{
		me:            opts.Me,
		conn:          conn,
		remote:        remote,
		bus:           b,
		unread:        counter,
		tracker:       delivery.NewTracker(opts.SeenPolicy),
		viewport:      viewport,
		logger:        logger,
		invokeTimeout: opts.InvokeTimeout,
		store:         store.New(opts.PageSize),
		index:         index.New(opts.Me),
		fetching:      make(map[string]struct{}),
		cmds:          make(chan command, 64),
		pushCh:        make(chan push.Event, pushBuffer),
		ctx:           context.Background(),
		stopped:       make(chan struct{}),
	}
	e.pager = pager.New(e, remote, viewport, logger)
	e.snap.Store(&Snapshot{})
	return e
}

// Me returns the account owner's user id.
func (e *Engine) Me() string {
	return e.me
}

// Start runs the owning goroutine until ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.refresh()

	go func() {
		defer close(e.stopped)
		for {
			select {
			case cmd := <-e.cmds:
				e.run(cmd)
			case evt := <-e.pushCh:
				e.handlePush(evt)
			case <-e.ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for background calls to return.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.stopped
	e.tracker.Cancel()
	e.bg.Wait()
}

func (e *Engine) run(cmd command) {
	defer close(cmd.done)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine command panicked", zap.Any("panic", r))
		}
	}()
	cmd.fn()
}

// Push queues a decoded push event for the owning goroutine. Events are
// applied in the order Push accepted them. When the queue is full Push blocks
// until there is room, ctx is done or the engine stops.
func (e *Engine) Push(ctx context.Context, evt push.Event) error {
	select {
	case <-e.stopped:
		return ErrStopped
	default:
	}
	select {
	case e.pushCh <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

// do runs fn on the owning goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

// post queues fn without waiting. It is used to hand results of background
// calls back to the owning goroutine.
func (e *Engine) post(fn func()) {
	select {
	case e.cmds <- command{fn: fn, done: make(chan struct{})}:
	case <-e.stopped:
	}
}

// goBackground runs fn outside the loop with a bounded context.
func (e *Engine) goBackground(fn func(ctx context.Context)) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, e.invokeTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Do gives fn exclusive access to the store and republishes derived state
// afterwards. It must not be called from the owning goroutine.
func (e *Engine) Do(ctx context.Context, fn func(*store.Store)) error {
	return e.do(ctx, func() {
		fn(e.store)
		e.refresh()
	})
}

// refresh recomputes the unread count and publishes a new snapshot. Called on
// the owning goroutine after every mutation.
func (e *Engine) refresh() {
	convs := e.index.List()
	n := unread.Recompute(convs, e.me)
	e.unread.Set(n)

	e.version++
	s := &Snapshot{
		Version:       e.version,
		Conversations: convs,
		Active:        e.active,
		Unread:        n,
	}
	if e.active != "" {
		s.ActiveMessages = e.store.Messages(e.active)
	}
	e.snap.Store(s)
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
