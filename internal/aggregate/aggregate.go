// Package aggregate folds raw message events into per-counterpart
// conversation summaries.
package aggregate

import (
	"sort"
	"sync"

	"github.com/mstepanenko/craftchat/internal/models"
)

// Aggregator maintains the conversation list from a mixture of a bulk
// initial load and a live event stream. There is exactly one writer path
// (the engine's event loop) and many readers.
type Aggregator struct {
	mu        sync.RWMutex
	summaries map[int64]*models.Conversation
	order     map[int64]int // arrival sequence, used as the stable tiebreak
	nextSeq   int
}

// New returns an empty aggregator.
func New() *Aggregator {
	return &Aggregator{
		summaries: make(map[int64]*models.Conversation),
		order:     make(map[int64]int),
	}
}

// LoadSummaries replaces the summary list wholesale from a server snapshot.
func (a *Aggregator) LoadSummaries(convs []models.Conversation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summaries = make(map[int64]*models.Conversation, len(convs))
	a.order = make(map[int64]int, len(convs))
	a.nextSeq = 0
	for _, c := range convs {
		c := c
		a.summaries[c.OtherUserID] = &c
		a.order[c.OtherUserID] = a.nextSeq
		a.nextSeq++
	}
}

// LoadMessages replaces the summary list from a flat message history,
// grouping by counterpart. Per group, the last message is the most recent
// by CreatedAt and the unread count is the number of messages addressed to
// the local user that are not yet read.
func (a *Aggregator) LoadMessages(localID int64, msgs []models.Message) {
	grouped := BuildSummaries(localID, msgs)
	a.LoadSummaries(grouped)
}

// BuildSummaries derives conversation summaries from a flat message list.
func BuildSummaries(localID int64, msgs []models.Message) []models.Conversation {
	byOther := make(map[int64]*models.Conversation)
	var seen []int64

	for _, m := range msgs {
		other := m.Counterpart(localID)
		c, ok := byOther[other]
		if !ok {
			c = &models.Conversation{OtherUserID: other}
			byOther[other] = c
			seen = append(seen, other)
		}
		if name := m.CounterpartName(localID); name != "" {
			c.OtherUserName = name
		}
		if !m.CreatedAt.Before(c.LastMessageAt) {
			c.LastMessage = m.Content
			c.LastMessageAt = m.CreatedAt
			c.IsLastMessageFromMe = m.SenderID == localID
		}
		if m.Inbound(localID) && !m.IsRead {
			c.UnreadCount++
		}
	}

	out := make([]models.Conversation, 0, len(seen))
	for _, id := range seen {
		out = append(out, *byOther[id])
	}
	return out
}

// ApplyLive folds one deduplicated message into the summary map. A summary
// is created on first contact; an inbound message raises its unread count
// by one. LastMessageAt advances by max, never backward, so a redelivered
// old message that slipped past dedup cannot regress the conversation.
// Returns the updated summary.
func (a *Aggregator) ApplyLive(localID int64, m models.Message) models.Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()

	other := m.Counterpart(localID)
	c, ok := a.summaries[other]
	if !ok {
		c = &models.Conversation{OtherUserID: other}
		a.summaries[other] = c
		a.order[other] = a.nextSeq
		a.nextSeq++
	}
	if name := m.CounterpartName(localID); name != "" {
		c.OtherUserName = name
	}
	if !m.CreatedAt.Before(c.LastMessageAt) {
		c.LastMessage = m.Content
		c.LastMessageAt = m.CreatedAt
		c.IsLastMessageFromMe = m.SenderID == localID
	}
	if m.Inbound(localID) && !m.IsRead {
		c.UnreadCount++
	}
	return *c
}

// MarkOpened zeroes the unread count for otherUserID and returns the
// number of messages that were unread, so the badge can be decremented by
// the same amount. Must be called exactly once per open action.
func (a *Aggregator) MarkOpened(otherUserID int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.summaries[otherUserID]
	if !ok {
		return 0
	}
	delta := c.UnreadCount
	c.UnreadCount = 0
	return delta
}

// Get returns the summary for otherUserID, if one exists.
func (a *Aggregator) Get(otherUserID int64) (models.Conversation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.summaries[otherUserID]
	if !ok {
		return models.Conversation{}, false
	}
	return *c, true
}

// Conversations returns all summaries sorted by LastMessageAt descending.
// Ties keep arrival order so the list is stable across calls.
func (a *Aggregator) Conversations() []models.Conversation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.Conversation, 0, len(a.summaries))
	for _, c := range a.summaries {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return a.order[out[i].OtherUserID] < a.order[out[j].OtherUserID]
	})
	return out
}

// UnreadSum returns the sum of per-conversation unread counts. Used to
// seed the badge from a snapshot before the authoritative refresh lands.
func (a *Aggregator) UnreadSum() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sum := 0
	for _, c := range a.summaries {
		sum += c.UnreadCount
	}
	return sum
}
