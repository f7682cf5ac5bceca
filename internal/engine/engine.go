// Package engine is the conversation synchronization core. It folds the
// socket stream and REST responses into one serialized update path, keeps
// the conversation summaries and the unread badge consistent, and hands
// open conversation views their slice of the live stream.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mstepanenko/craftchat/internal/aggregate"
	"github.com/mstepanenko/craftchat/internal/auth"
	"github.com/mstepanenko/craftchat/internal/badge"
	"github.com/mstepanenko/craftchat/internal/dedup"
	"github.com/mstepanenko/craftchat/internal/models"
	"github.com/mstepanenko/craftchat/internal/pubsub"
	"github.com/mstepanenko/craftchat/internal/scroll"
)

// API is the slice of the REST client the engine consumes.
type API interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Thread(ctx context.Context, otherUserID int64) ([]models.Message, error)
	Send(ctx context.Context, receiverID int64, content string) (models.Message, error)
	MarkRead(ctx context.Context, messageID int64) error
	MarkConversationRead(ctx context.Context, otherUserID int64) error
	UnreadCount(ctx context.Context) (int, error)
}

// Transport is the socket lifecycle the engine drives. The socket manager
// satisfies it; tests swap in a fake.
type Transport interface {
	Connect()
	Disconnect()
	Rewire(identity int64)
	State() models.ConnState
	SubscribeState(fn func(models.ConnState)) func()
}

// Engine wires the sync core together. All mutations of the conversation
// map, the badge, and open views happen on a single event-processing
// goroutine; increments and decrements are not commutative-safe without
// that serialization.
type Engine struct {
	api       API
	session   *auth.Session
	transport Transport
	logger    *slog.Logger

	agg    *aggregate.Aggregator
	badge  *badge.Counter
	scroll *scroll.Store

	// seen is the engine-level dedup set guarding aggregation and fan-out.
	seen     *dedup.Set
	messages *pubsub.Bus[models.Message]

	loop     chan func()
	done     chan struct{}
	stopOnce sync.Once

	// activeConversation is consulted before badge increments; it is only
	// touched on the event loop.
	activeConversation int64

	unsubState func()
}

// New assembles an engine. The transport may be nil for consumers that
// only replay events into HandleLive (tests do this).
func New(apiClient API, session *auth.Session, transport Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	var fetcher badge.TotalFetcher
	if apiClient != nil {
		fetcher = apiClient
	}
	return &Engine{
		api:       apiClient,
		session:   session,
		transport: transport,
		logger:    logger,
		agg:       aggregate.New(),
		badge:     badge.NewCounter(fetcher),
		scroll:    scroll.NewStore(),
		seen:      dedup.NewSet(),
		messages:  pubsub.NewBus[models.Message](),
		loop:      make(chan func(), 64),
		done:      make(chan struct{}),
	}
}

// AttachTransport hands the engine its socket. Must happen before Start;
// the split exists because the socket router needs HandleLive first.
func (e *Engine) AttachTransport(t Transport) {
	e.transport = t
}

// Start launches the event loop, connects the transport, and performs the
// cold-start refresh. It never blocks on connection establishment.
func (e *Engine) Start(ctx context.Context) {
	go e.run()

	if e.transport != nil {
		e.unsubState = e.transport.SubscribeState(func(s models.ConnState) {
			// Live increments during a disconnection window are lost, so
			// every successful (re)connect overwrites local state from the
			// backend.
			if s == models.Connected {
				go e.Refresh(context.Background())
			}
		})
		e.transport.Connect()
	}
	go e.Refresh(ctx)
}

// Stop tears the engine down: transport released, loop drained.
// Idempotent, like Disconnect on the transport side.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.unsubState != nil {
			e.unsubState()
			e.unsubState = nil
		}
		if e.transport != nil {
			e.transport.Disconnect()
		}
		close(e.done)
	})
}

func (e *Engine) run() {
	for {
		select {
		case fn := <-e.loop:
			fn()
		case <-e.done:
			return
		}
	}
}

// post schedules fn on the event loop.
func (e *Engine) post(fn func()) {
	select {
	case e.loop <- fn:
	case <-e.done:
	}
}

// call runs fn on the event loop and waits for it.
func (e *Engine) call(fn func()) {
	ran := make(chan struct{})
	e.post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
	case <-e.done:
	}
}

// HandleLive is the socket router's delivery callback. It hops onto the
// event loop; the socket goroutine never touches shared state directly.
func (e *Engine) HandleLive(m models.Message) {
	e.post(func() { e.applyLive(m) })
}

// applyLive folds one raw message event into the shared state. Runs on
// the event loop only. Duplicates (socket echo of a REST response, frames
// redelivered after a reconnect) are dropped here, before they can inflate
// unread counts or reach any view twice.
func (e *Engine) applyLive(m models.Message) {
	if !e.seen.Observe(m) {
		return
	}
	localID := e.session.UserID()
	e.agg.ApplyLive(localID, m)

	inbound := m.Inbound(localID) && !m.IsRead
	if inbound && e.activeConversation == m.Counterpart(localID) {
		// Active-chat suppression: the open view renders and reads the
		// message immediately, so it never counts as unread anywhere.
		e.agg.MarkOpened(m.Counterpart(localID))
	} else if inbound {
		e.badge.Increment(1)
	}

	e.messages.Publish(m)
}

// Refresh reloads the conversation snapshot and the authoritative unread
// total. Used on cold start and after every reconnect.
func (e *Engine) Refresh(ctx context.Context) {
	if e.api == nil {
		return
	}
	convs, err := e.api.Conversations(ctx)
	if err != nil {
		e.logger.Warn("conversation refresh failed", "error", err)
	} else {
		e.call(func() { e.agg.LoadSummaries(convs) })
	}

	if err := e.badge.Refresh(ctx); err != nil {
		e.logger.Warn("unread refresh failed", "error", err)
		// Fall back to the per-conversation sum until the backend answers.
		e.badge.SetTotal(e.agg.UnreadSum())
	}
}

// UpdateCredential swaps the bearer token, rewires the identity-scoped
// subscription without a full reconnect, and connects if the session just
// became authenticated.
func (e *Engine) UpdateCredential(token string) {
	e.session.SetToken(token)
	if e.transport == nil {
		return
	}
	if id := e.session.UserID(); id > 0 {
		e.transport.Rewire(id)
	}
	e.transport.Connect()
}

// Conversations returns the summary list, most recent first.
func (e *Engine) Conversations() []models.Conversation {
	return e.agg.Conversations()
}

// UnreadTotal returns the global badge value.
func (e *Engine) UnreadTotal() int {
	return e.badge.Total()
}

// ConnectionState reports the transport state.
func (e *Engine) ConnectionState() models.ConnState {
	if e.transport == nil {
		return models.Disconnected
	}
	return e.transport.State()
}

// SubscribeMessages registers fn for every deduplicated live message.
// Handlers run on the event loop in subscription order.
func (e *Engine) SubscribeMessages(fn func(models.Message)) func() {
	return e.messages.Subscribe(fn)
}

// SubscribeUnread registers fn for badge changes.
func (e *Engine) SubscribeUnread(fn func(total int)) func() {
	return e.badge.Subscribe(fn)
}

// SubscribeState registers fn for connection-state transitions.
func (e *Engine) SubscribeState(fn func(models.ConnState)) func() {
	if e.transport == nil {
		return func() {}
	}
	return e.transport.SubscribeState(fn)
}

// ScrollPositions exposes the per-conversation viewport memory.
func (e *Engine) ScrollPositions() *scroll.Store {
	return e.scroll
}

// Session returns the engine's auth session.
func (e *Engine) Session() *auth.Session {
	return e.session
}
