package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/priority"
)

// CreateParams describes a new handoff request.
type CreateParams struct {
	OwnerID    string
	SessionID  string
	Trigger    domain.HandoffTrigger
	Reason     string
	Department string
	Language   string
	Severity   int
	Context    []domain.Message // frozen at creation
}

// Service owns ticket lifecycle transitions. Every transition is validated
// against the state table and appended to the ticket's audit history.
type Service struct {
	store  Store
	engine *priority.Engine
	log    *logging.Logger
}

// NewService creates a ticket service.
func NewService(store Store, engine *priority.Engine, log *logging.Logger) *Service {
	return &Service{store: store, engine: engine, log: log.Sub("tickets")}
}

// Store exposes the underlying store for read-side consumers (SLA sweep,
// queue statistics).
func (s *Service) Store() Store { return s.store }

// Create opens a ticket in waiting state with its priority score, SLA
// deadlines, and an immutable context snapshot.
func (s *Service) Create(ctx context.Context, p CreateParams) (*domain.Ticket, error) {
	now := time.Now()
	score, level := s.engine.Score(priority.Input{
		Text:       p.Reason,
		Department: p.Department,
		Severity:   p.Severity,
	})
	respDeadline, resDeadline := s.engine.Deadlines(level, now)

	snapshot := make([]domain.Message, len(p.Context))
	copy(snapshot, p.Context)

	t := &domain.Ticket{
		ID:            uuid.New().String(),
		OwnerID:       p.OwnerID,
		SessionID:     p.SessionID,
		Status:        domain.TicketWaiting,
		PriorityScore: score,
		Priority:      level,
		Trigger:       p.Trigger,
		Reason:        p.Reason,
		Department:    p.Department,
		Language:      p.Language,
		Severity:      p.Severity,
		Context:       snapshot,
		SLA: domain.SLAData{
			ResponseDeadline:   respDeadline,
			ResolutionDeadline: resDeadline,
		},
		History: []domain.Transition{
			{To: domain.TicketWaiting, Reason: p.Reason, At: now},
		},
		CreatedAt: now,
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("creating ticket: %w", err)
	}

	s.log.Info().
		Str("ticketId", t.ID).
		Str("owner", p.OwnerID).
		Str("priority", string(level)).
		Str("trigger", string(p.Trigger)).
		Time("responseDeadline", respDeadline).
		Msg("ticket created")
	return t, nil
}

// Get returns a ticket by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.store.Get(ctx, id)
}

// ListWaiting returns the unassigned tickets, oldest first.
func (s *Service) ListWaiting(ctx context.Context) ([]*domain.Ticket, error) {
	return s.store.ListByStatus(ctx, domain.TicketWaiting)
}

// ListByAgent returns the tickets currently held by an agent.
func (s *Service) ListByAgent(ctx context.Context, agentID string) ([]*domain.Ticket, error) {
	return s.store.ListByAgent(ctx, agentID)
}

// Assign moves a waiting ticket to an agent. The status check and the
// assignment are one atomic conditional update; a second agent racing on the
// same ticket gets ErrConflict.
func (s *Service) Assign(ctx context.Context, id, agentID string) (*domain.Ticket, error) {
	t, err := s.store.UpdateIf(ctx, id, domain.TicketWaiting, func(t *domain.Ticket) error {
		now := time.Now()
		s.transition(t, domain.TicketAssigned, agentID, "")
		t.AssignedAgentID = agentID
		t.AssignedAt = &now
		// Threshold tracking restarts against the resolution window.
		t.SLA.LastNotifiedThreshold = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("ticketId", id).Str("agent", agentID).Msg("ticket assigned")
	return t, nil
}

// Unassign returns an assigned ticket to the waiting queue, recording why.
func (s *Service) Unassign(ctx context.Context, id, reason string) (*domain.Ticket, error) {
	t, err := s.store.UpdateIf(ctx, id, domain.TicketAssigned, func(t *domain.Ticket) error {
		s.transition(t, domain.TicketWaiting, t.AssignedAgentID, reason)
		t.AssignedAgentID = ""
		t.AssignedAt = nil
		// Back in the queue, back on the response-deadline clock.
		t.SLA.LastNotifiedThreshold = 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("ticketId", id).Str("reason", reason).Msg("ticket returned to queue")
	return t, nil
}

// Transfer moves an assigned ticket to another agent, preserving the context
// snapshot and appending an audit entry. Only the current assignee may
// transfer.
func (s *Service) Transfer(ctx context.Context, id, fromAgentID, toAgentID, reason string) (*domain.Ticket, error) {
	t, err := s.store.UpdateIf(ctx, id, domain.TicketAssigned, func(t *domain.Ticket) error {
		if t.AssignedAgentID != fromAgentID {
			return ErrNotAssignee
		}
		now := time.Now()
		s.transition(t, domain.TicketAssigned, toAgentID, reason)
		t.AssignedAgentID = toAgentID
		t.AssignedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("ticketId", id).
		Str("from", fromAgentID).
		Str("to", toAgentID).
		Msg("ticket transferred")
	return t, nil
}

// Resolve closes an assigned ticket. Only the assignee may resolve.
func (s *Service) Resolve(ctx context.Context, id, agentID, notes string) (*domain.Ticket, error) {
	t, err := s.store.UpdateIf(ctx, id, domain.TicketAssigned, func(t *domain.Ticket) error {
		if t.AssignedAgentID != agentID {
			return ErrNotAssignee
		}
		now := time.Now()
		s.transition(t, domain.TicketResolved, agentID, notes)
		t.ResolvedAt = &now
		t.Notes = notes
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("ticketId", id).Str("agent", agentID).Msg("ticket resolved")
	return t, nil
}

// Cancel terminates a ticket from any non-terminal state, e.g. when the
// requester disconnects before an agent picks up.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*domain.Ticket, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err = s.store.UpdateIf(ctx, id, t.Status, func(t *domain.Ticket) error {
		if !validTransition(t.Status, domain.TicketCancelled) {
			return fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, t.Status)
		}
		s.transition(t, domain.TicketCancelled, "", reason)
		t.AssignedAgentID = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("ticketId", id).Str("reason", reason).Msg("ticket cancelled")
	return t, nil
}

// SubmitFeedback records the requester's rating on a resolved ticket. The
// ownership check runs inside the conditional update so a rejected
// submission never persists.
func (s *Service) SubmitFeedback(ctx context.Context, id, ownerID string, rating int, comment string) (*domain.Ticket, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating must be 1..5, got %d", rating)
	}
	t, err := s.store.UpdateIf(ctx, id, domain.TicketResolved, func(t *domain.Ticket) error {
		if t.OwnerID != ownerID {
			return ErrNotRequester
		}
		if t.Feedback != nil {
			return ErrFeedbackExists
		}
		t.Feedback = &domain.Feedback{
			Rating:      rating,
			Comment:     comment,
			SubmittedAt: time.Now(),
		}
		return nil
	})
	if err != nil {
		if err == ErrConflict {
			return nil, ErrNotResolved
		}
		return nil, err
	}
	s.log.Info().Str("ticketId", id).Int("rating", rating).Msg("feedback recorded")
	return t, nil
}

// transition applies a validated state change and appends the audit entry.
// Callers must have checked validity via the store's conditional update;
// this panics on a table violation because it indicates a programming error.
func (s *Service) transition(t *domain.Ticket, to domain.TicketStatus, agentID, reason string) {
	if !validTransition(t.Status, to) {
		panic(fmt.Sprintf("ticket transition %s -> %s not allowed", t.Status, to))
	}
	t.History = append(t.History, domain.Transition{
		From:    t.Status,
		To:      to,
		AgentID: agentID,
		Reason:  reason,
		At:      time.Now(),
	})
	t.Status = to
}
