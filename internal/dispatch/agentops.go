package dispatch

import (
	"context"
	"errors"

	"github.com/relaydesk/relaydesk/internal/agentpool"
	"github.com/relaydesk/relaydesk/internal/domain"
)

// Agent-side operations, called by the dashboard RPC handlers.

// AgentJoin puts an agent into the availability pool, mirrors it to the
// durable roster, announces it, and immediately drains the waiting queue
// against the new capacity.
func (d *Dispatcher) AgentJoin(ctx context.Context, a *domain.Agent) error {
	if err := d.pool.Join(ctx, a); err != nil {
		return err
	}
	if d.roster != nil {
		if err := d.roster.Upsert(ctx, a); err != nil {
			d.log.Warn().Err(err).Str("agentId", a.ID).Msg("mirroring agent to roster")
		}
	}
	d.emitter.AgentJoined(a)
	if a.Role == domain.RoleSupervisor {
		d.PublishQueueStats(ctx)
	}
	d.AssignWaiting(ctx)
	return nil
}

// AgentLeave removes an agent from the pool and returns its tickets to the
// queue.
func (d *Dispatcher) AgentLeave(ctx context.Context, agentID string) error {
	held, err := d.tickets.ListByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	for _, t := range held {
		returned, err := d.tickets.Unassign(ctx, t.ID, "agent left")
		if err != nil {
			d.log.Warn().Err(err).Str("ticketId", t.ID).Msg("returning ticket on agent leave")
			continue
		}
		d.emitter.TicketCreated(returned) // back in the queue, re-announce
	}
	if err := d.pool.Leave(ctx, agentID); err != nil {
		return err
	}
	d.AssignWaiting(ctx)
	return nil
}

// AgentStatus records an availability change. Becoming available drains the
// waiting queue.
func (d *Dispatcher) AgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) error {
	a, err := d.pool.SetStatus(ctx, agentID, status)
	if err != nil {
		return err
	}
	if d.roster != nil {
		if err := d.roster.Upsert(ctx, a); err != nil {
			d.log.Warn().Err(err).Str("agentId", agentID).Msg("mirroring status to roster")
		}
	}
	if status == domain.AgentAvailable {
		d.AssignWaiting(ctx)
	}
	return nil
}

// AgentHeartbeat refreshes liveness.
func (d *Dispatcher) AgentHeartbeat(ctx context.Context, agentID string) error {
	return d.pool.Heartbeat(ctx, agentID)
}

// AcceptTicket is an agent pulling a waiting ticket. The capacity slot is
// reserved before the conditional assignment; the loser of a race gets
// ticket.ErrConflict and the slot back.
func (d *Dispatcher) AcceptTicket(ctx context.Context, ticketID, agentID string) (*domain.Ticket, error) {
	if _, err := d.pool.Reserve(ctx, agentID); err != nil {
		return nil, err
	}

	t, err := d.tickets.Assign(ctx, ticketID, agentID)
	if err != nil {
		if _, relErr := d.pool.Release(ctx, agentID); relErr != nil {
			d.log.Warn().Err(relErr).Str("agentId", agentID).Msg("releasing slot after failed accept")
		}
		return nil, err
	}

	d.emitter.TicketAssigned(t)
	d.PublishQueueStats(ctx)
	return t, nil
}

// ResolveTicket closes an assigned ticket. The resolved event doubles as
// the feedback request to the customer.
func (d *Dispatcher) ResolveTicket(ctx context.Context, ticketID, agentID, notes string) (*domain.Ticket, error) {
	t, err := d.tickets.Resolve(ctx, ticketID, agentID, notes)
	if err != nil {
		return nil, err
	}
	// The heartbeat monitor may have already dropped the agent; a missing
	// pool entry on release is not worth surfacing.
	if _, err := d.pool.Release(ctx, agentID); err != nil && !errors.Is(err, agentpool.ErrNotFound) {
		d.log.Warn().Err(err).Str("agentId", agentID).Msg("releasing slot after resolve")
	}

	d.emitter.TicketResolved(t)
	d.AssignWaiting(ctx)
	return t, nil
}

// TransferTicket hands an assigned ticket to another agent, keeping the
// context snapshot and the audit trail.
func (d *Dispatcher) TransferTicket(ctx context.Context, ticketID, fromAgentID, toAgentID, reason string) (*domain.Ticket, error) {
	if _, err := d.pool.Reserve(ctx, toAgentID); err != nil {
		return nil, err
	}

	t, err := d.tickets.Transfer(ctx, ticketID, fromAgentID, toAgentID, reason)
	if err != nil {
		if _, relErr := d.pool.Release(ctx, toAgentID); relErr != nil {
			d.log.Warn().Err(relErr).Str("agentId", toAgentID).Msg("releasing slot after failed transfer")
		}
		return nil, err
	}
	if _, err := d.pool.Release(ctx, fromAgentID); err != nil {
		d.log.Warn().Err(err).Str("agentId", fromAgentID).Msg("releasing transferring agent's slot")
	}

	d.emitter.TicketAssigned(t)
	return t, nil
}

// SubmitFeedback records the customer's rating on a resolved ticket.
func (d *Dispatcher) SubmitFeedback(ctx context.Context, ownerID, ticketID string, rating int, comment string) (*domain.Ticket, error) {
	return d.tickets.SubmitFeedback(ctx, ticketID, ownerID, rating, comment)
}

// OnTicketReturned is the heartbeat monitor's callback: a dead agent's
// ticket went back to waiting, so announce it and retry placement.
func (d *Dispatcher) OnTicketReturned(ctx context.Context, t *domain.Ticket) {
	d.emitter.TicketCreated(t)
	d.offer(ctx, t)
	d.PublishQueueStats(ctx)
}
