package agentpool

import (
	"context"
	"time"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/logging"
)

// DisconnectReason is the audit reason recorded when a dead agent's tickets
// are returned to the queue.
const DisconnectReason = "agent disconnected"

// TicketReturner releases an unreachable agent's tickets back to waiting.
// The ticket service implements this.
type TicketReturner interface {
	ListByAgent(ctx context.Context, agentID string) ([]*domain.Ticket, error)
	Unassign(ctx context.Context, id, reason string) (*domain.Ticket, error)
}

// Monitor watches agent heartbeats. An agent that misses the configured
// number of consecutive heartbeats is marked offline and all of its assigned
// tickets go back to the waiting queue.
type Monitor struct {
	pool     *Pool
	tickets  TicketReturner
	interval time.Duration
	deadline time.Duration
	log      *logging.Logger

	// OnReturned, when set, is called for each ticket put back in the
	// queue, after the state change. The dispatcher uses it to retry
	// assignment and refresh queue statistics.
	OnReturned func(ctx context.Context, t *domain.Ticket)

	now func() time.Time
}

// NewMonitor creates a heartbeat monitor from the heartbeat configuration.
func NewMonitor(pool *Pool, tickets TicketReturner, cfg config.HeartbeatConfig, log *logging.Logger) *Monitor {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	return &Monitor{
		pool:     pool,
		tickets:  tickets,
		interval: interval,
		deadline: interval * time.Duration(cfg.MissedLimit),
		log:      log.Sub("heartbeat"),
		now:      time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Run checks liveness on the heartbeat interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info().Dur("interval", m.interval).Dur("deadline", m.deadline).Msg("heartbeat monitor started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("heartbeat monitor stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check marks every agent past the heartbeat deadline offline and returns
// its tickets. One agent's failure does not stop the check.
func (m *Monitor) Check(ctx context.Context) {
	agents, err := m.pool.List(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("heartbeat check: listing pool")
		return
	}

	now := m.now()
	for _, a := range agents {
		if a.Status == domain.AgentOffline {
			continue
		}
		if now.Sub(a.LastHeartbeat) < m.deadline {
			continue
		}
		if err := m.markDead(ctx, a.ID); err != nil {
			m.log.Warn().Err(err).Str("agentId", a.ID).Msg("heartbeat check: marking agent offline")
		}
	}
}

func (m *Monitor) markDead(ctx context.Context, agentID string) error {
	_, err := m.pool.store.Update(ctx, agentID, func(a *domain.Agent) error {
		a.Status = domain.AgentOffline
		a.ActiveChats = 0
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Warn().Str("agentId", agentID).Msg("agent missed heartbeats, marked offline")

	held, err := m.tickets.ListByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	for _, t := range held {
		returned, err := m.tickets.Unassign(ctx, t.ID, DisconnectReason)
		if err != nil {
			m.log.Warn().Err(err).Str("ticketId", t.ID).Msg("returning ticket to queue")
			continue
		}
		if m.OnReturned != nil {
			m.OnReturned(ctx, returned)
		}
	}
	return nil
}
