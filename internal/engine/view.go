package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mstepanenko/craftchat/internal/dedup"
	"github.com/mstepanenko/craftchat/internal/models"
	"github.com/mstepanenko/craftchat/internal/pubsub"
	"github.com/mstepanenko/craftchat/internal/scroll"
)

// ViewState is the lifecycle of one open conversation view.
type ViewState int

const (
	ViewLoading ViewState = iota
	ViewReady
	// ViewError is terminal for a view instance; already-rendered history
	// in other views is unaffected.
	ViewError
)

// Bubble is one transcript entry. A pending bubble is an optimistic local
// send awaiting confirmation; LocalID correlates it through rollback.
type Bubble struct {
	models.Message
	Pending bool
	LocalID string
}

// View is one open conversation. It consumes the live stream through its
// own dedup set and detaches cleanly on Close so no lingering callback
// can mutate it afterwards.
type View struct {
	engine      *Engine
	otherUserID int64

	mu         sync.Mutex
	state      ViewState
	err        error
	otherName  string
	seen       *dedup.Set
	transcript []Bubble
	// backlog holds live messages that arrived while the history fetch
	// was in flight; folded through the dedup set once the load lands.
	backlog []models.Message
	closed  bool

	changes *pubsub.Bus[struct{}]
	unsub   func()
}

// OpenConversation opens a view on the thread with otherUserID. The view
// starts loading; watch Changed for the transition to ready or error.
// Opening marks the conversation read: the summary's unread count is
// zeroed and the badge decremented by the same amount, exactly once.
func (e *Engine) OpenConversation(ctx context.Context, otherUserID int64) *View {
	v := &View{
		engine:      e,
		otherUserID: otherUserID,
		state:       ViewLoading,
		seen:        dedup.NewSet(),
		changes:     pubsub.NewBus[struct{}](),
	}

	e.call(func() { e.activeConversation = otherUserID })
	v.unsub = e.messages.Subscribe(v.onLive)

	go v.load(ctx)
	return v
}

func (v *View) load(ctx context.Context) {
	e := v.engine
	msgs, err := e.api.Thread(ctx, v.otherUserID)
	if err != nil {
		v.mu.Lock()
		v.state = ViewError
		v.err = err
		v.backlog = nil
		v.mu.Unlock()
		v.changes.Publish(struct{}{})
		return
	}

	localID := e.session.UserID()
	v.mu.Lock()
	v.transcript = v.transcript[:0]
	v.seen = dedup.NewSet()
	// History first, then anything that slipped in while it was being
	// fetched; the shared dedup set drops whatever the snapshot already
	// carried.
	for _, m := range append(msgs, v.backlog...) {
		if !v.seen.Observe(m) {
			continue
		}
		v.transcript = append(v.transcript, Bubble{Message: m})
		if name := m.CounterpartName(localID); name != "" {
			v.otherName = name
		}
	}
	v.backlog = nil
	v.state = ViewReady
	v.mu.Unlock()
	v.changes.Publish(struct{}{})

	if err := e.api.MarkConversationRead(ctx, v.otherUserID); err != nil {
		e.logger.Warn("mark conversation read failed", "other_user", v.otherUserID, "error", err)
		return
	}
	e.call(func() {
		delta := e.agg.MarkOpened(v.otherUserID)
		e.badge.Decrement(delta)
	})
	// The decrement gives instant feedback; the backend count is still
	// authoritative.
	if err := e.badge.Refresh(ctx); err != nil {
		e.logger.Debug("badge refresh after open failed", "error", err)
	}
}

// onLive runs on the engine's event loop for every deduplicated message.
func (v *View) onLive(m models.Message) {
	e := v.engine
	localID := e.session.UserID()
	if m.Counterpart(localID) != v.otherUserID {
		return
	}

	v.mu.Lock()
	if v.closed || v.state == ViewError {
		v.mu.Unlock()
		return
	}
	if v.state == ViewLoading {
		// The in-flight snapshot may or may not carry this message;
		// reconciled through the dedup set once the load lands. The
		// conversation-wide mark-read after load covers it.
		v.backlog = append(v.backlog, m)
		v.mu.Unlock()
		return
	}
	if !v.seen.Observe(m) {
		v.mu.Unlock()
		return
	}
	v.transcript = append(v.transcript, Bubble{Message: m})
	if name := m.CounterpartName(localID); name != "" {
		v.otherName = name
	}
	v.mu.Unlock()
	v.changes.Publish(struct{}{})

	// Messages arriving in an open chat are read on sight.
	if m.Inbound(localID) && !m.IsRead && m.ID != nil {
		id := *m.ID
		go func() {
			if err := e.api.MarkRead(context.Background(), id); err != nil {
				e.logger.Debug("mark read failed", "message_id", id, "error", err)
			}
		}()
	}
}

// Send renders an optimistic pending bubble, posts the message, and
// reconciles: the confirmed copy (REST response or socket echo, whichever
// passes dedup first) replaces the bubble, and a failure rolls the bubble
// back and returns a SendError carrying the draft.
func (v *View) Send(ctx context.Context, content string) (models.Message, error) {
	e := v.engine
	localID := uuid.New().String()

	v.mu.Lock()
	v.transcript = append(v.transcript, Bubble{
		Message: models.Message{
			SenderID:   e.session.UserID(),
			ReceiverID: v.otherUserID,
			Content:    content,
			CreatedAt:  time.Now(),
		},
		Pending: true,
		LocalID: localID,
	})
	v.mu.Unlock()
	v.changes.Publish(struct{}{})

	msg, err := e.Send(ctx, v.otherUserID, content)
	v.removePending(localID)
	v.changes.Publish(struct{}{})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (v *View) removePending(localID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, b := range v.transcript {
		if b.Pending && b.LocalID == localID {
			v.transcript = append(v.transcript[:i], v.transcript[i+1:]...)
			return
		}
	}
}

// Close detaches the view from the live stream and clears the active-chat
// suppression. The view's dedup set and handlers become collectable; the
// session-wide subscriptions persist.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.unsub()
	e := v.engine
	e.call(func() {
		if e.activeConversation == v.otherUserID {
			e.activeConversation = 0
		}
	})
}

// State returns the view lifecycle state.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Err returns the terminal load error, if any.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// OtherUserID returns the counterpart this view is bound to.
func (v *View) OtherUserID() int64 { return v.otherUserID }

// OtherUserName returns the counterpart's display name as far as the
// transcript revealed it.
func (v *View) OtherUserName() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.otherName
}

// Transcript returns a copy of the rendered bubbles, pending sends last.
func (v *View) Transcript() []Bubble {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Bubble, len(v.transcript))
	copy(out, v.transcript)
	return out
}

// Changed registers fn to run after every transcript or state change.
func (v *View) Changed(fn func()) func() {
	return v.changes.Subscribe(func(struct{}) { fn() })
}

// SaveScroll remembers the viewport position for this conversation.
func (v *View) SaveScroll(index, offset int) {
	v.engine.scroll.Save(v.otherUserID, index, offset)
}

// ScrollPosition returns the remembered viewport position. The boolean is
// false for a conversation never scrolled, letting the UI follow the
// bottom instead of restoring (0,0).
func (v *View) ScrollPosition() (scroll.Position, bool) {
	return v.engine.scroll.Get(v.otherUserID)
}
