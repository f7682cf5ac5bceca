package socket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/mstepanenko/craftchat/internal/models"
)

// Router translates "I am user X" into the set of server channels to
// listen on and decodes inbound frames into messages. It survives across
// reconnects; per-connection state is reset by the manager.
type Router struct {
	mu sync.Mutex

	// send is the active connection's frame writer, nil while disconnected.
	send func(frame) error

	// identity currently holding a topic subscription, 0 if none.
	subscribedIdentity int64

	onMessage func(models.Message)
	logger    *slog.Logger
}

// NewRouter creates a router delivering decoded messages to onMessage.
func NewRouter(logger *slog.Logger, onMessage func(models.Message)) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		onMessage: onMessage,
		logger:    logger,
	}
}

// Establish wires the router to a fresh connection and subscribes to the
// personal inbox plus, when the identity is known, the identity-scoped
// topic.
func (r *Router) Establish(send func(frame) error, identity int64) error {
	r.mu.Lock()
	r.send = send
	r.subscribedIdentity = 0
	r.mu.Unlock()

	if err := send(frame{Type: frameSubscribe, Destination: inboxDestination}); err != nil {
		return err
	}
	if identity > 0 {
		return r.Rewire(identity)
	}
	return nil
}

// Rewire adds the identity-scoped subscription for an identity that
// resolved after the inbox subscription already existed. The inbox stays
// untouched, and an unchanged identity is not subscribed twice.
func (r *Router) Rewire(identity int64) error {
	r.mu.Lock()
	send := r.send
	if send == nil || identity <= 0 || identity == r.subscribedIdentity {
		r.mu.Unlock()
		return nil
	}
	r.subscribedIdentity = identity
	r.mu.Unlock()

	return send(frame{Type: frameSubscribe, Destination: topicDestination(identity)})
}

// Reset releases per-connection state. Called by the manager on every
// disconnect.
func (r *Router) Reset() {
	r.mu.Lock()
	r.send = nil
	r.subscribedIdentity = 0
	r.mu.Unlock()
}

// SubscribedIdentity returns the identity with an active topic
// subscription, 0 if none.
func (r *Router) SubscribedIdentity() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribedIdentity
}

// HandleFrame parses one inbound frame. Malformed frames are logged and
// dropped; nothing here may crash the pipeline.
func (r *Router) HandleFrame(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		r.logger.Debug("dropping malformed frame", "error", err)
		return
	}
	if f.Type != frameMessage {
		return
	}

	var msg models.Message
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		r.logger.Debug("dropping malformed message payload", "error", err, "destination", f.Destination)
		return
	}
	if r.onMessage != nil {
		r.onMessage(msg)
	}
}
