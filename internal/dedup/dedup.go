// Package dedup assigns a stable identity to messages and suppresses
// re-delivery. The backend may hand the same logical message to a client
// twice: once as the HTTP response to the sender's own send call and once
// as a socket push, and frames can be redelivered after a reconnect.
package dedup

import (
	"time"

	"github.com/mstepanenko/craftchat/internal/models"
)

// Key is the tagged identity of a message. A persisted message is
// identified by its server-assigned ID; a message without an ID falls back
// to the (sender, receiver, content, createdAt) tuple. Keys compare
// structurally and are usable as map keys.
type Key struct {
	id        int64
	sender    int64
	receiver  int64
	content   string
	createdAt int64
}

// Identified reports whether the key carries a server-assigned ID.
func (k Key) Identified() bool { return k.id != 0 }

// KeyOf computes the identity of m.
func KeyOf(m models.Message) Key {
	if m.ID != nil {
		return Key{id: *m.ID}
	}
	return anonKeyOf(m)
}

func anonKeyOf(m models.Message) Key {
	return Key{
		sender:    m.SenderID,
		receiver:  m.ReceiverID,
		content:   m.Content,
		createdAt: m.CreatedAt.Truncate(time.Millisecond).UnixMilli(),
	}
}

// Set tracks the message keys already observed by one consumer. Each open
// conversation view holds its own Set, and the engine keeps one for the
// process-wide aggregation path. Set is not safe for concurrent use; all
// observations happen on the engine's event loop.
//
// Tuples recorded by identified observations are kept apart from the rest:
// two messages that both carry a server ID compare by ID alone, so a user
// sending the same content twice in the same millisecond yields two
// distinct messages. The tuple rule only bridges observations where at
// least one side has no ID yet.
type Set struct {
	// seen holds ID keys plus the tuples of anonymous observations.
	seen map[Key]struct{}

	// idTuples holds the tuples of identified observations, matched only
	// against anonymous arrivals.
	idTuples map[Key]struct{}
}

// NewSet returns an empty dedup set.
func NewSet() *Set {
	return &Set{
		seen:     make(map[Key]struct{}),
		idTuples: make(map[Key]struct{}),
	}
}

// Observe records the identity of m and reports whether it was new.
// Two identified messages are the same logical message only when their
// server IDs match; the fallback tuple applies when at least one side has
// no ID. An identified observation records its tuple on the side, so the
// socket echo of an optimistic local copy is recognized no matter which
// of the two arrives first.
func (s *Set) Observe(m models.Message) bool {
	anon := anonKeyOf(m)

	if m.ID == nil {
		_, asAnon := s.seen[anon]
		_, asEcho := s.idTuples[anon]
		s.seen[anon] = struct{}{}
		return !asAnon && !asEcho
	}

	idKey := Key{id: *m.ID}
	_, byID := s.seen[idKey]
	_, byTuple := s.seen[anon]
	s.seen[idKey] = struct{}{}
	s.idTuples[anon] = struct{}{}
	return !byID && !byTuple
}

// Len returns the number of distinct messages recorded.
func (s *Set) Len() int { return len(s.seen) }
