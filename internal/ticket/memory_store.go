package ticket

import (
	"context"
	"sort"
	"sync"

	"github.com/relaydesk/relaydesk/internal/domain"
)

// MemoryStore is an in-process ticket store for tests and for running
// without a database file.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
}

// NewMemoryStore creates an empty in-memory ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]*domain.Ticket)}
}

func (s *MemoryStore) Create(_ context.Context, t *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneTicket(t)
	s.tickets[t.ID] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTicket(t), nil
}

func (s *MemoryStore) UpdateIf(_ context.Context, id string, expect domain.TicketStatus, mutate func(*domain.Ticket) error) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != expect {
		return nil, ErrConflict
	}
	work := cloneTicket(t)
	if err := mutate(work); err != nil {
		return nil, err
	}
	s.tickets[id] = work
	return cloneTicket(work), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status domain.TicketStatus) ([]*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Ticket
	for _, t := range s.tickets {
		if t.Status == status {
			out = append(out, cloneTicket(t))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) ListOpen(_ context.Context) ([]*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Ticket
	for _, t := range s.tickets {
		if t.Open() {
			out = append(out, cloneTicket(t))
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) ListByAgent(_ context.Context, agentID string) ([]*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Ticket
	for _, t := range s.tickets {
		if t.Status == domain.TicketAssigned && t.AssignedAgentID == agentID {
			out = append(out, cloneTicket(t))
		}
	}
	sortByCreation(out)
	return out, nil
}

func sortByCreation(ts []*domain.Ticket) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].ID < ts[j].ID
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}

func cloneTicket(t *domain.Ticket) *domain.Ticket {
	cp := *t
	cp.Context = append([]domain.Message(nil), t.Context...)
	cp.History = append([]domain.Transition(nil), t.History...)
	if t.Feedback != nil {
		fb := *t.Feedback
		cp.Feedback = &fb
	}
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		cp.AssignedAt = &at
	}
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}
