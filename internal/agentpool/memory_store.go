package agentpool

import (
	"context"
	"sync"

	"github.com/relaydesk/relaydesk/internal/domain"
)

// MemoryStore is an in-process PoolStore for tests and single-instance runs
// without a coordination store.
type MemoryStore struct {
	mu     sync.Mutex
	agents map[string]*domain.Agent
}

// NewMemoryStore creates an empty in-memory pool store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*domain.Agent)}
}

func (s *MemoryStore) Put(_ context.Context, a *domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = cloneAgent(a)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(a), nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, cloneAgent(a))
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*domain.Agent) error) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneAgent(a)
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.agents[id] = next
	return cloneAgent(next), nil
}

func cloneAgent(a *domain.Agent) *domain.Agent {
	c := *a
	c.Languages = append([]string(nil), a.Languages...)
	c.Skills = append([]string(nil), a.Skills...)
	return &c
}
