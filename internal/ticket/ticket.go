// Package ticket implements the handoff ticket lifecycle.
//
// Allowed transitions:
//
//	waiting  -> assigned | cancelled
//	assigned -> resolved | cancelled | waiting (return to queue) | assigned (transfer)
//
// Terminal tickets are retained forever for audit and feedback.
package ticket

import (
	"context"
	"errors"

	"github.com/relaydesk/relaydesk/internal/domain"
)

var (
	// ErrNotFound means no ticket exists with the given ID.
	ErrNotFound = errors.New("ticket not found")

	// ErrInvalidTransition means the requested state change is not allowed.
	ErrInvalidTransition = errors.New("invalid ticket transition")

	// ErrConflict means a conditional update lost the race: the ticket was
	// no longer in the expected state.
	ErrConflict = errors.New("ticket state changed concurrently")

	// ErrNotAssignee means the acting agent does not hold the ticket.
	ErrNotAssignee = errors.New("ticket is assigned to a different agent")

	// ErrNotResolved means feedback was submitted for an unresolved ticket.
	ErrNotResolved = errors.New("ticket is not resolved")

	// ErrNotRequester means feedback came from someone other than the
	// customer who opened the ticket.
	ErrNotRequester = errors.New("ticket belongs to a different customer")

	// ErrFeedbackExists means feedback was already recorded.
	ErrFeedbackExists = errors.New("feedback already submitted")
)

// Store persists tickets. Implementations must make UpdateIf atomic: the
// status check and the mutation happen as one unit, so two agents racing to
// accept the same ticket cannot both win.
type Store interface {
	// Create inserts a new ticket.
	Create(ctx context.Context, t *domain.Ticket) error

	// Get returns a ticket or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Ticket, error)

	// UpdateIf loads the ticket, verifies it is in the expected status,
	// applies mutate, and saves — all atomically. Returns ErrConflict if
	// the status no longer matches.
	UpdateIf(ctx context.Context, id string, expect domain.TicketStatus, mutate func(*domain.Ticket) error) (*domain.Ticket, error)

	// ListByStatus returns tickets in the given status, oldest first.
	ListByStatus(ctx context.Context, status domain.TicketStatus) ([]*domain.Ticket, error)

	// ListOpen returns all non-terminal tickets, oldest first.
	ListOpen(ctx context.Context) ([]*domain.Ticket, error)

	// ListByAgent returns the tickets currently assigned to an agent.
	ListByAgent(ctx context.Context, agentID string) ([]*domain.Ticket, error)
}

// validTransition is the authoritative transition table.
func validTransition(from, to domain.TicketStatus) bool {
	switch from {
	case domain.TicketWaiting:
		return to == domain.TicketAssigned || to == domain.TicketCancelled
	case domain.TicketAssigned:
		return to == domain.TicketResolved ||
			to == domain.TicketCancelled ||
			to == domain.TicketWaiting ||
			to == domain.TicketAssigned // transfer
	default:
		return false
	}
}
