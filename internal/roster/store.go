package roster

import (
	"sync"
)

// Store holds the live roster keyed by contact id. Reads return copies so
// callers may retain results across later mutations.
type Store struct {
	mu       sync.RWMutex
	contacts map[string]*ContactState
}

func NewStore() *Store {
	return &Store{
		contacts: make(map[string]*ContactState),
	}
}

func (s *Store) Get(id string) (*ContactState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

func (s *Store) All() []*ContactState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*ContactState, 0, len(s.contacts))
	for _, c := range s.contacts {
		result = append(result, c.Clone())
	}
	return result
}

// Upsert stores a copy of state and returns the state it replaced, if any.
func (s *Store) Upsert(state *ContactState) (*ContactState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.contacts[state.ID]
	s.contacts[state.ID] = state.Clone()
	if !existed {
		return nil, false
	}
	return prev, true
}

// Remove deletes the contact and returns its last known state.
func (s *Store) Remove(id string) (*ContactState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, false
	}
	delete(s.contacts, id)
	return c, true
}

func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}

func (s *Store) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, c := range s.contacts {
		if c.Availability.Connected() {
			count++
		}
	}
	return count
}
