package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mstepanenko/craftchat/internal/models"
)

type failingThreadAPI struct {
	fakeAPI
}

func (f *failingThreadAPI) Thread(ctx context.Context, otherUserID int64) ([]models.Message, error) {
	return nil, errors.New("backend down")
}

// gatedThreadAPI holds the history fetch until release is closed.
type gatedThreadAPI struct {
	fakeAPI
	release chan struct{}
}

func (g *gatedThreadAPI) Thread(ctx context.Context, otherUserID int64) ([]models.Message, error) {
	<-g.release
	return g.fakeAPI.Thread(ctx, otherUserID)
}

func TestViewLoadsTranscript(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		thread: []models.Message{
			{ID: ptr(int64(1)), SenderID: 2, SenderName: "Willow", ReceiverID: 1, Content: "hi", CreatedAt: at},
			{ID: ptr(int64(2)), SenderID: 1, ReceiverID: 2, ReceiverName: "Willow", Content: "hey", CreatedAt: at.Add(time.Minute)},
		},
	}
	e := newTestEngine(t, api, nil)

	v := e.OpenConversation(context.Background(), 2)
	defer v.Close()
	waitUntil(t, func() bool { return v.State() == ViewReady }, "view ready")

	transcript := v.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("transcript = %d bubbles, want 2", len(transcript))
	}
	if transcript[0].Content != "hi" || transcript[1].Content != "hey" {
		t.Errorf("transcript order wrong: %q, %q", transcript[0].Content, transcript[1].Content)
	}
	if v.OtherUserName() != "Willow" {
		t.Errorf("OtherUserName = %q", v.OtherUserName())
	}

	// Opening marks the whole conversation read on the backend.
	waitUntil(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.markedConvs) == 1 && api.markedConvs[0] == 2
	}, "conversation marked read")
}

func TestViewOpenZerosUnread(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, nil)

	// Two unread messages arrived before the chat was opened.
	e.HandleLive(live(1, 2, 1, "one"))
	e.HandleLive(live(2, 2, 1, "two"))
	barrier(e)
	if e.UnreadTotal() != 2 {
		t.Fatalf("badge before open = %d", e.UnreadTotal())
	}

	v := e.OpenConversation(context.Background(), 2)
	defer v.Close()
	waitUntil(t, func() bool { return e.UnreadTotal() == 0 }, "badge decremented on open")

	if c, _ := e.agg.Get(2); c.UnreadCount != 0 {
		t.Errorf("conversation unread after open = %d", c.UnreadCount)
	}
}

func TestViewAppendsLiveMessages(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, nil)

	v := e.OpenConversation(context.Background(), 2)
	defer v.Close()
	waitUntil(t, func() bool { return v.State() == ViewReady }, "view ready")

	changed := make(chan struct{}, 8)
	unsub := v.Changed(func() { changed <- struct{}{} })
	defer unsub()

	e.HandleLive(live(5, 2, 1, "new one"))
	barrier(e)

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}
	transcript := v.Transcript()
	if len(transcript) != 1 || transcript[0].Content != "new one" {
		t.Fatalf("transcript = %+v", transcript)
	}

	// Read on sight: the single message gets marked read on the backend.
	waitUntil(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.markedRead) == 1 && api.markedRead[0] == 5
	}, "message marked read")
}

func TestViewCatchesMessagesDuringLoad(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	api := &gatedThreadAPI{release: make(chan struct{})}
	api.thread = []models.Message{
		{ID: ptr(int64(1)), SenderID: 2, ReceiverID: 1, Content: "already in history", CreatedAt: at},
	}
	e := newTestEngine(t, api, nil)

	v := e.OpenConversation(context.Background(), 2)
	defer v.Close()

	// Two messages land while the snapshot is still in flight: one the
	// snapshot already carries, one newer than it.
	e.HandleLive(live(1, 2, 1, "already in history"))
	e.HandleLive(live(2, 2, 1, "too new for the snapshot"))
	barrier(e)

	close(api.release)
	waitUntil(t, func() bool { return v.State() == ViewReady }, "view ready")

	transcript := v.Transcript()
	if len(transcript) != 2 {
		t.Fatalf("transcript = %d bubbles, want 2", len(transcript))
	}
	if transcript[0].Content != "already in history" || transcript[1].Content != "too new for the snapshot" {
		t.Errorf("transcript = %q, %q", transcript[0].Content, transcript[1].Content)
	}
}

func TestViewIgnoresOtherConversations(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, nil)

	v := e.OpenConversation(context.Background(), 2)
	defer v.Close()
	waitUntil(t, func() bool { return v.State() == ViewReady }, "view ready")

	e.HandleLive(live(5, 3, 1, "for another chat"))
	barrier(e)

	if got := len(v.Transcript()); got != 0 {
		t.Errorf("foreign message reached the transcript: %d bubbles", got)
	}
}

func TestViewSendReconciles(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEngine(t, api, nil)

	v := e.OpenConversation(context.Background(), 2)
	defer v.Close()
	waitUntil(t, func() bool { return v.State() == ViewReady }, "view ready")

	msg, err := v.Send(context.Background(), "the mug is ready")
	if err != nil {
		t.Fatal(err)
	}
	barrier(e)

	// The socket echoes the persisted copy; the transcript must end up
	// with exactly one confirmed bubble and no pending leftovers.
	e.HandleLive(msg)
	barrier(e)

	transcript := v.Transcript()
	if len(transcript) != 1 {
		t.Fatalf("transcript = %d bubbles, want 1", len(transcript))
	}
	if transcript[0].Pending {
		t.Error("confirmed message still marked pending")
	}
	if transcript[0].Content != "the mug is ready" {
		t.Errorf("content = %q", transcript[0].Content)
	}
}

func TestViewSendFailureRollsBack(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("boom")}
	e := newTestEngine(t, api, nil)

	v := e.OpenConversation(context.Background(), 2)
	defer v.Close()
	waitUntil(t, func() bool { return v.State() == ViewReady }, "view ready")

	_, err := v.Send(context.Background(), "will not make it")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("got %v, want *SendError", err)
	}
	if sendErr.Draft != "will not make it" {
		t.Errorf("draft = %q", sendErr.Draft)
	}
	if got := len(v.Transcript()); got != 0 {
		t.Errorf("pending bubble survived the rollback: %d bubbles", got)
	}
}

func TestViewLoadErrorIsTerminal(t *testing.T) {
	e := newTestEngine(t, &failingThreadAPI{}, nil)

	v := e.OpenConversation(context.Background(), 2)
	defer v.Close()
	waitUntil(t, func() bool { return v.State() == ViewError }, "view error")

	if v.Err() == nil {
		t.Error("terminal view has no error")
	}

	// Live messages do not resurrect a failed view.
	e.HandleLive(live(5, 2, 1, "hello?"))
	barrier(e)
	if v.State() != ViewError {
		t.Error("error state changed after live message")
	}
	if len(v.Transcript()) != 0 {
		t.Error("failed view accumulated transcript entries")
	}
}

func TestViewScrollRoundTrip(t *testing.T) {
	e := newTestEngine(t, &fakeAPI{}, nil)

	v := e.OpenConversation(context.Background(), 2)
	waitUntil(t, func() bool { return v.State() == ViewReady }, "view ready")

	if _, ok := v.ScrollPosition(); ok {
		t.Error("fresh conversation reported a saved position")
	}
	v.SaveScroll(14, 120)
	v.Close()

	// Reopening the conversation finds the remembered position.
	v2 := e.OpenConversation(context.Background(), 2)
	defer v2.Close()
	pos, ok := v2.ScrollPosition()
	if !ok || pos.Index != 14 || pos.Offset != 120 {
		t.Errorf("position = %+v ok=%v, want {14 120}", pos, ok)
	}
}

func ptr[T any](v T) *T { return &v }
