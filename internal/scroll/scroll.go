// Package scroll remembers the viewport position of each conversation
// transcript so that navigating away and back resumes where the user
// left off.
package scroll

import "sync"

// Position is the last visible item index and pixel offset in a transcript.
type Position struct {
	Index  int
	Offset int
}

// Store keeps one position per counterpart for the lifetime of a session.
type Store struct {
	mu        sync.Mutex
	positions map[int64]Position
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{positions: make(map[int64]Position)}
}

// Save overwrites the remembered position for otherUserID.
func (s *Store) Save(otherUserID int64, index, offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[otherUserID] = Position{Index: index, Offset: offset}
}

// Get returns the saved position and whether one exists. The boolean lets
// callers tell "never visited" from a saved (0,0), so a fresh conversation
// still auto-scrolls to the latest message instead of the top.
func (s *Store) Get(otherUserID int64) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[otherUserID]
	return p, ok
}

// Forget drops the remembered position for otherUserID.
func (s *Store) Forget(otherUserID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, otherUserID)
}
