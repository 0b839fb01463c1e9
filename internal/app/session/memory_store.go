package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PowerTrack/internal/app/model"
)

type entry struct {
	mu      sync.Mutex
	session model.ClickSession
	removed bool
}

// current returns a copy of the session when it is still active at now,
// closing it first when it has gone idle.
func (e *entry) current(now time.Time, ttl time.Duration) (*model.ClickSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed || !e.session.IsActive {
		return nil, false
	}
	if e.session.IdleSince(now, ttl) {
		e.session.Close(now)
		return nil, false
	}
	s := e.session
	return &s, true
}

// MemoryStore keeps sessions in process memory. It serves single-instance
// deployments and tests.
type MemoryStore struct {
	ttl   time.Duration
	newID func() string

	mu       sync.RWMutex
	sessions map[string]*entry
	byUser   map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		newID:    uuid.NewString,
		sessions: make(map[string]*entry),
		byUser:   make(map[string]string),
	}
}

func (s *MemoryStore) userEntry(userID string) *entry {
	id, ok := s.byUser[userID]
	if !ok {
		return nil
	}
	return s.sessions[id]
}

func (s *MemoryStore) GetOrCreate(_ context.Context, userID string, now time.Time) (*model.ClickSession, error) {
	s.mu.RLock()
	e := s.userEntry(userID)
	s.mu.RUnlock()
	if e != nil {
		if sess, ok := e.current(now, s.ttl); ok {
			return sess, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another request may have started a session while we waited.
	if e := s.userEntry(userID); e != nil {
		if sess, ok := e.current(now, s.ttl); ok {
			return sess, nil
		}
	}

	created := newSession(s.newID(), userID, now)
	s.sessions[created.SessionID] = &entry{session: created}
	s.byUser[userID] = created.SessionID
	return &created, nil
}

func (s *MemoryStore) Touch(_ context.Context, sessionID string, delta model.SessionDelta, now time.Time) (*model.ClickSession, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil, ErrSessionNotFound
	}
	if e.session.IsActive && e.session.IdleSince(now, s.ttl) {
		e.session.Close(now)
	}
	e.session.Apply(delta)
	if e.session.IsActive && now.After(e.session.LastActivityAt) {
		e.session.LastActivityAt = now
	}

	sess := e.session
	return &sess, nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*model.ClickSession, error) {
	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrSessionNotFound
	}
	sess := e.session
	return &sess, nil
}

func (s *MemoryStore) ExpireStale(_ context.Context, now time.Time) ([]model.ClickSession, error) {
	s.mu.RLock()
	candidates := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		candidates = append(candidates, e)
	}
	s.mu.RUnlock()

	var closed []*entry
	for _, e := range candidates {
		e.mu.Lock()
		if e.session.IsActive && e.session.IdleSince(now, s.ttl) {
			e.session.Close(now)
		}
		if !e.session.IsActive && !e.removed {
			closed = append(closed, e)
		}
		e.mu.Unlock()
	}
	if len(closed) == 0 {
		return nil, nil
	}

	expired := make([]model.ClickSession, 0, len(closed))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range closed {
		e.mu.Lock()
		e.removed = true
		expired = append(expired, e.session)
		id, userID := e.session.SessionID, e.session.UserID
		e.mu.Unlock()

		delete(s.sessions, id)
		if s.byUser[userID] == id {
			delete(s.byUser, userID)
		}
	}
	return expired, nil
}
