package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mstepanenko/craftchat/internal/models"
)

var (
	// ErrEmptyMessage rejects blank sends before they reach the backend.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrSelfMessage enforces the sender != receiver invariant.
	ErrSelfMessage = errors.New("cannot send a message to yourself")
)

// SendError is a failed send. Draft carries the typed content back to the
// caller so the UI can restore it for a retry; the connection state is
// unaffected.
type SendError struct {
	Draft string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Send posts a message and feeds the confirmed copy through the same
// deduplication path as the socket echo, so whichever of the two arrives
// second is dropped. Blocks until the backend answers; callers wanting an
// optimistic bubble render it through a View's pending slot.
func (e *Engine) Send(ctx context.Context, receiverID int64, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if receiverID == e.session.UserID() {
		return models.Message{}, ErrSelfMessage
	}

	msg, err := e.api.Send(ctx, receiverID, content)
	if err != nil {
		return models.Message{}, &SendError{Draft: content, Err: err}
	}

	e.post(func() { e.applyLive(msg) })
	return msg, nil
}
