package api

import (
	"sync"

	"github.com/mapspeak/mapspeak/internal/gis"
)

// SessionStore holds the current map context shared by all API surfaces.
// Commands read it during interpretation and rollback mutates it, so all
// access goes through With.
type SessionStore struct {
	mu      sync.Mutex
	session gis.Session
}

// NewSessionStore creates a store with the given initial session.
func NewSessionStore(initial gis.Session) *SessionStore {
	return &SessionStore{session: initial}
}

// With runs fn with exclusive access to the session.
func (s *SessionStore) With(fn func(session *gis.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.session)
}

// Snapshot returns a copy of the current session.
func (s *SessionStore) Snapshot() gis.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.session
	out.ActiveLayers = append([]gis.Layer(nil), s.session.ActiveLayers...)
	if s.session.Extent != nil {
		extent := *s.session.Extent
		out.Extent = &extent
	}
	return out
}

// Replace swaps in a new session wholesale.
func (s *SessionStore) Replace(session gis.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}
