package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mstepanenko/craftchat/internal/auth"
	"github.com/mstepanenko/craftchat/internal/models"
	"github.com/mstepanenko/craftchat/internal/pubsub"
)

// tokenFor builds an unsigned JWT carrying a userId claim. The engine only
// decodes claims, never verifies.
func tokenFor(t *testing.T, userID int64) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	raw, err := json.Marshal(map[string]any{"userId": userID})
	if err != nil {
		t.Fatal(err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(raw) + ".x"
}

type fakeAPI struct {
	mu sync.Mutex

	convs  []models.Conversation
	thread []models.Message
	unread int

	sendErr    error
	nextSendID int64

	sent          []models.Message
	markedRead    []int64
	markedConvs   []int64
	unreadFetches int
}

func (f *fakeAPI) Conversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Conversation, len(f.convs))
	copy(out, f.convs)
	return out, nil
}

func (f *fakeAPI) Thread(ctx context.Context, otherUserID int64) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, len(f.thread))
	copy(out, f.thread)
	return out, nil
}

func (f *fakeAPI) Send(ctx context.Context, receiverID int64, content string) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	f.nextSendID++
	id := f.nextSendID
	msg := models.Message{
		ID:         &id,
		SenderID:   1,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().Truncate(time.Millisecond),
	}
	f.sent = append(f.sent, msg)
	return msg, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, messageID)
	return nil
}

func (f *fakeAPI) MarkConversationRead(ctx context.Context, otherUserID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedConvs = append(f.markedConvs, otherUserID)
	return nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadFetches++
	return f.unread, nil
}

func (f *fakeAPI) setUnread(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread = n
}

type fakeTransport struct {
	mu       sync.Mutex
	state    models.ConnState
	states   *pubsub.Bus[models.ConnState]
	connects int
	rewired  []int64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{states: pubsub.NewBus[models.ConnState]()}
}

func (f *fakeTransport) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeTransport) Disconnect() {}

func (f *fakeTransport) Rewire(identity int64) {
	f.mu.Lock()
	f.rewired = append(f.rewired, identity)
	f.mu.Unlock()
}

func (f *fakeTransport) State() models.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) SubscribeState(fn func(models.ConnState)) func() {
	return f.states.Subscribe(fn)
}

func (f *fakeTransport) setState(s models.ConnState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	f.states.Publish(s)
}

func newTestEngine(t *testing.T, api API, transport Transport) *Engine {
	t.Helper()
	session := auth.NewSession(tokenFor(t, 1))
	e := New(api, session, transport, nil)
	go e.run()
	t.Cleanup(func() { close(e.done) })
	return e
}

// barrier waits until everything queued on the event loop has run.
func barrier(e *Engine) {
	e.call(func() {})
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func live(id int64, sender, receiver int64, content string) models.Message {
	m := models.Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  time.Now().Truncate(time.Millisecond),
	}
	if id != 0 {
		m.ID = &id
	}
	return m
}

func TestLiveMessageUpdatesBadgeAndList(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, nil)

	e.HandleLive(live(1, 2, 1, "hello"))
	barrier(e)

	if got := e.UnreadTotal(); got != 1 {
		t.Errorf("badge = %d, want 1", got)
	}
	convs := e.Conversations()
	if len(convs) != 1 || convs[0].OtherUserID != 2 || convs[0].UnreadCount != 1 {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestDuplicateDeliveryCountsOnce(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, nil)

	msg := live(1, 2, 1, "hello")
	e.HandleLive(msg)
	e.HandleLive(msg) // redelivered after a reconnect
	barrier(e)

	if got := e.UnreadTotal(); got != 1 {
		t.Errorf("badge after duplicate = %d, want 1", got)
	}
	if convs := e.Conversations(); convs[0].UnreadCount != 1 {
		t.Errorf("conversation unread after duplicate = %d, want 1", convs[0].UnreadCount)
	}
}

func TestOutboundMessageDoesNotTouchBadge(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, nil)

	e.HandleLive(live(1, 1, 2, "my own send echoed back"))
	barrier(e)

	if got := e.UnreadTotal(); got != 0 {
		t.Errorf("badge = %d, want 0", got)
	}
	if convs := e.Conversations(); convs[0].UnreadCount != 0 {
		t.Errorf("conversation unread = %d, want 0", convs[0].UnreadCount)
	}
}

func TestActiveChatSuppressesBadge(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, nil)

	v := e.OpenConversation(context.Background(), 2)
	defer v.Close()
	waitUntil(t, func() bool { return v.State() == ViewReady }, "view ready")

	e.HandleLive(live(5, 2, 1, "while you are here"))
	barrier(e)

	if got := e.UnreadTotal(); got != 0 {
		t.Errorf("badge = %d while chat open, want 0", got)
	}
	if c, ok := e.agg.Get(2); ok && c.UnreadCount != 0 {
		t.Errorf("open conversation unread = %d, want 0", c.UnreadCount)
	}

	// A message for a different conversation still counts.
	e.HandleLive(live(6, 3, 1, "from someone else"))
	barrier(e)
	if got := e.UnreadTotal(); got != 1 {
		t.Errorf("badge = %d, want 1 for the background conversation", got)
	}
}

func TestSuppressionClearsOnClose(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, nil)

	v := e.OpenConversation(context.Background(), 2)
	waitUntil(t, func() bool { return v.State() == ViewReady }, "view ready")
	v.Close()

	e.HandleLive(live(5, 2, 1, "after you left"))
	barrier(e)

	if got := e.UnreadTotal(); got != 1 {
		t.Errorf("badge = %d after close, want 1", got)
	}
}

func TestRefreshLoadsSnapshotAndAuthoritativeCount(t *testing.T) {
	api := &fakeAPI{
		convs: []models.Conversation{
			{OtherUserID: 2, LastMessage: "hi", UnreadCount: 1},
			{OtherUserID: 3, LastMessage: "yo", UnreadCount: 2},
		},
		unread: 3,
	}
	e := newTestEngine(t, api, nil)

	e.Refresh(context.Background())

	if got := len(e.Conversations()); got != 2 {
		t.Errorf("conversations = %d, want 2", got)
	}
	if got := e.UnreadTotal(); got != 3 {
		t.Errorf("badge = %d, want backend total 3", got)
	}
}

func TestReconnectTriggersRefresh(t *testing.T) {
	api := &fakeAPI{unread: 0}
	transport := newFakeTransport()
	e := New(api, auth.NewSession(tokenFor(t, 1)), transport, nil)
	e.Start(context.Background())
	defer e.Stop()

	waitUntil(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.unreadFetches >= 1
	}, "cold-start refresh")

	// Messages arrived while the socket was down; the backend knows.
	api.setUnread(5)
	transport.setState(models.Connected)

	waitUntil(t, func() bool { return e.UnreadTotal() == 5 }, "badge overwritten from backend")
}

func TestStopIdempotent(t *testing.T) {
	transport := newFakeTransport()
	e := New(&fakeAPI{}, auth.NewSession(tokenFor(t, 1)), transport, nil)
	e.Start(context.Background())

	e.Stop()
	e.Stop() // second teardown must be a no-op, not a panic
}

func TestUpdateCredential(t *testing.T) {
	transport := newFakeTransport()
	e := New(&fakeAPI{}, auth.NewSession(""), transport, nil)
	go e.run()
	defer close(e.done)

	e.UpdateCredential(tokenFor(t, 42))

	if got := e.Session().UserID(); got != 42 {
		t.Errorf("identity = %d, want 42", got)
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.rewired) != 1 || transport.rewired[0] != 42 {
		t.Errorf("rewired = %v, want [42]", transport.rewired)
	}
	if transport.connects != 1 {
		t.Errorf("connects = %d, want 1", transport.connects)
	}
}

func TestSendValidation(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, nil)

	if _, err := e.Send(context.Background(), 2, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank send: %v, want ErrEmptyMessage", err)
	}
	if _, err := e.Send(context.Background(), 1, "hi me"); !errors.Is(err, ErrSelfMessage) {
		t.Errorf("self send: %v, want ErrSelfMessage", err)
	}
}

func TestSendFailureCarriesDraft(t *testing.T) {
	api := &fakeAPI{sendErr: fmt.Errorf("boom")}
	e := newTestEngine(t, api, nil)

	_, err := e.Send(context.Background(), 2, "precious draft")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("got %v, want *SendError", err)
	}
	if sendErr.Draft != "precious draft" {
		t.Errorf("draft = %q", sendErr.Draft)
	}
}

func TestSendConfirmationSharesDedupWithEcho(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, nil)

	msg, err := e.Send(context.Background(), 2, "one copy only")
	if err != nil {
		t.Fatal(err)
	}
	barrier(e)

	// The socket echoes the same persisted message back.
	e.HandleLive(msg)
	barrier(e)

	convs := e.Conversations()
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}
	if got := e.UnreadTotal(); got != 0 {
		t.Errorf("own message raised badge to %d", got)
	}
}
