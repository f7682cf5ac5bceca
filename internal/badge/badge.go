// Package badge maintains the process-wide unread message count shown
// outside any conversation view.
package badge

import (
	"context"
	"sync"

	"github.com/mstepanenko/craftchat/internal/pubsub"
)

// TotalFetcher returns the authoritative unread total from the backend.
// The REST client satisfies this.
type TotalFetcher interface {
	UnreadCount(ctx context.Context) (int, error)
}

// Counter is the single source of truth for the unread badge. Every
// mutation clamps the total at zero; decrementing below zero saturates
// rather than failing. Counter is constructed per session and injected,
// never a package global.
type Counter struct {
	mu      sync.Mutex
	total   int
	fetcher TotalFetcher
	changes *pubsub.Bus[int]
}

// NewCounter returns a counter starting at zero.
func NewCounter(fetcher TotalFetcher) *Counter {
	return &Counter{
		fetcher: fetcher,
		changes: pubsub.NewBus[int](),
	}
}

// Total returns the current badge value.
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// SetTotal overwrites the badge value, clamped at zero.
func (c *Counter) SetTotal(n int) {
	c.apply(func(int) int { return n })
}

// Increment raises the badge by k, clamped at zero.
func (c *Counter) Increment(k int) {
	c.apply(func(total int) int { return total + k })
}

// Decrement lowers the badge by k, saturating at zero.
func (c *Counter) Decrement(k int) {
	c.Increment(-k)
}

// Refresh re-fetches the authoritative total and overwrites local state.
// Called on cold start and after every successful reconnect, since live
// increments during a disconnection window would otherwise be lost.
func (c *Counter) Refresh(ctx context.Context) error {
	if c.fetcher == nil {
		return nil
	}
	n, err := c.fetcher.UnreadCount(ctx)
	if err != nil {
		return err
	}
	c.SetTotal(n)
	return nil
}

// Subscribe registers fn to be called with the new total after every
// change. Returns an unsubscribe function.
func (c *Counter) Subscribe(fn func(total int)) func() {
	return c.changes.Subscribe(fn)
}

// apply computes the new total from the current one inside a single
// critical section. Increments run on the event loop while Refresh runs
// on background goroutines; a split read-modify-write here would let a
// stale increment overwrite an authoritative refresh.
func (c *Counter) apply(f func(total int) int) {
	c.mu.Lock()
	n := f(c.total)
	if n < 0 {
		n = 0
	}
	changed := n != c.total
	c.total = n
	c.mu.Unlock()
	if changed {
		c.changes.Publish(n)
	}
}
