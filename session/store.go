package session

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store holds live sessions. Idle sessions expire after the TTL and the
// least recently used ones are dropped beyond capacity.
type Store struct {
	sessions *expirable.LRU[string, *State]
}

func NewStore(capacity int, ttl time.Duration) *Store {
	onEvict := func(_ string, s *State) { s.Close() }
	return &Store{sessions: expirable.NewLRU[string, *State](capacity, onEvict, ttl)}
}

// Get returns a live session and restarts its idle timer. A session that
// expired between the lookup and the refresh is dropped, not revived.
func (s *Store) Get(id string) (*State, bool) {
	if id == "" {
		return nil, false
	}
	st, ok := s.sessions.Get(id)
	if !ok {
		return nil, false
	}
	s.sessions.Add(id, st)
	if st.isClosed() {
		s.sessions.Remove(id)
		return nil, false
	}
	return st, true
}

// GetOrCreate returns the session for id, starting a new one when id is
// unknown or expired. The bool reports whether a session was created.
func (s *Store) GetOrCreate(id string) (*State, bool) {
	if st, ok := s.Get(id); ok {
		return st, false
	}
	st := NewState()
	s.sessions.Add(st.ID, st)
	return st, true
}

// Reset discards the session for id.
func (s *Store) Reset(id string) {
	s.sessions.Remove(id)
}

func (s *Store) Len() int { return s.sessions.Len() }
