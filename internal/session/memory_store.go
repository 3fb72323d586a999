package session

import (
	"context"
	"sync"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain"
)

// MemoryStore is an in-process session store for tests and single-instance
// runs without Redis.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

type memoryEntry struct {
	session   domain.Session
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test use only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Save(_ context.Context, sess *domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	cp.Messages = append([]domain.Message(nil), sess.Messages...)
	s.sessions[sess.ID] = &memoryEntry{session: cp, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	cp := entry.session
	cp.Messages = append([]domain.Message(nil), entry.session.Messages...)
	return &cp, nil
}

func (s *MemoryStore) Extend(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok || s.now().After(entry.expiresAt) {
		return ErrNotFound
	}
	entry.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
