package agentpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/priority"
	"github.com/relaydesk/relaydesk/internal/ticket"
)

func newMonitorFixture(t *testing.T) (*Monitor, *Pool, *ticket.Service, *time.Time) {
	t.Helper()
	pool := New(NewMemoryStore(), logging.Nop())
	tickets := ticket.NewService(ticket.NewMemoryStore(), priority.NewEngine(config.SLAConfig{
		Response:   config.SLADeadlines{Low: 240, Medium: 60, High: 15, Emergency: 5},
		Resolution: config.SLADeadlines{Low: 1440, Medium: 480, High: 120, Emergency: 30},
	}), logging.Nop())

	m := NewMonitor(pool, tickets, config.HeartbeatConfig{
		IntervalSeconds: 15,
		MissedLimit:     3,
	}, logging.Nop())

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := &now
	pool.SetClock(func() time.Time { return *clock })
	m.SetClock(func() time.Time { return *clock })
	return m, pool, tickets, clock
}

func TestMonitorMarksSilentAgentOffline(t *testing.T) {
	m, pool, tickets, clock := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, pool.Join(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 2}))

	tk, err := tickets.Create(ctx, ticket.CreateParams{OwnerID: "user-1", SessionID: "s1"})
	require.NoError(t, err)
	_, err = tickets.Assign(ctx, tk.ID, "a1")
	require.NoError(t, err)
	_, err = pool.Reserve(ctx, "a1")
	require.NoError(t, err)

	var returned []string
	m.OnReturned = func(_ context.Context, t *domain.Ticket) {
		returned = append(returned, t.ID)
	}

	// Two missed intervals: still within the deadline.
	*clock = clock.Add(30 * time.Second)
	m.Check(ctx)
	a, err := pool.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentAvailable, a.Status)

	// Third missed interval crosses the deadline.
	*clock = clock.Add(15 * time.Second)
	m.Check(ctx)

	a, err = pool.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentOffline, a.Status)
	assert.Equal(t, 0, a.ActiveChats)

	got, err := tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketWaiting, got.Status)
	assert.Empty(t, got.AssignedAgentID)
	last := got.History[len(got.History)-1]
	assert.Equal(t, DisconnectReason, last.Reason)
	assert.Equal(t, []string{tk.ID}, returned)
}

func TestMonitorHeartbeatKeepsAgentAlive(t *testing.T) {
	m, pool, _, clock := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, pool.Join(ctx, &domain.Agent{ID: "a1"}))

	*clock = clock.Add(40 * time.Second)
	require.NoError(t, pool.Heartbeat(ctx, "a1"))

	*clock = clock.Add(30 * time.Second)
	m.Check(ctx)

	a, err := pool.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentAvailable, a.Status)
}

func TestMonitorSkipsAlreadyOffline(t *testing.T) {
	m, pool, _, clock := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, pool.Join(ctx, &domain.Agent{ID: "a1"}))
	_, err := pool.SetStatus(ctx, "a1", domain.AgentOffline)
	require.NoError(t, err)

	var returned int
	m.OnReturned = func(context.Context, *domain.Ticket) { returned++ }

	*clock = clock.Add(time.Hour)
	m.Check(ctx)
	assert.Zero(t, returned)
}
