package livecapture

import (
	"context"
	"sync"
	"time"
)

// SessionStore keeps live sessions keyed by meeting id. Implementations
// must expire entries after the given TTL so abandoned sessions cannot
// leak in a long-running process. The state machine itself is storage
// agnostic; swapping in the Redis implementation lets multiple API nodes
// share sessions.
type SessionStore interface {
	// Get returns the session for a meeting, or nil when none exists.
	Get(ctx context.Context, meetingID string) (*Session, error)

	// Put creates or replaces the session for its meeting id.
	Put(ctx context.Context, session *Session, ttl time.Duration) error

	// Delete removes the session for a meeting.
	Delete(ctx context.Context, meetingID string) error

	// List returns all live sessions.
	List(ctx context.Context) ([]*Session, error)
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// MemorySessionStore is the process-local SessionStore. It does not
// survive restarts and does not coordinate across instances.
type MemorySessionStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the session for a meeting, or nil.
func (s *MemorySessionStore) Get(ctx context.Context, meetingID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[meetingID]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		delete(s.entries, meetingID)
		return nil, nil
	}
	return entry.session.clone(), nil
}

// Put stores a copy of the session under its meeting id.
func (s *MemorySessionStore) Put(ctx context.Context, session *Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.entries[session.MeetingID] = memoryEntry{session: session.clone(), expiresAt: expiresAt}
	return nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(ctx context.Context, meetingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, meetingID)
	return nil
}

// List returns all unexpired sessions.
func (s *MemorySessionStore) List(ctx context.Context) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sessions := make([]*Session, 0, len(s.entries))
	for meetingID, entry := range s.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.entries, meetingID)
			continue
		}
		sessions = append(sessions, entry.session.clone())
	}
	return sessions, nil
}
