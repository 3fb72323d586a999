package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/agentpool"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/ticket"
)

func (f *fixture) waitingTicket(t *testing.T, ownerID, reason string, severity int, department string) *domain.Ticket {
	t.Helper()
	ctx := context.Background()
	sess, err := f.sessions.Create(ctx, ownerID, "", "en")
	require.NoError(t, err)
	tk, err := f.tickets.Create(ctx, ticket.CreateParams{
		OwnerID:    ownerID,
		SessionID:  sess.ID,
		Trigger:    domain.TriggerUserRequest,
		Reason:     reason,
		Department: department,
		Severity:   severity,
	})
	require.NoError(t, err)
	return tk
}

func TestAgentJoinDrainsWaitingQueue(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tk := f.waitingTicket(t, "u1", "need help", 0, "")

	require.NoError(t, f.d.AgentJoin(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 2}))

	got, err := f.tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketAssigned, got.Status)
	assert.Equal(t, "a1", got.AssignedAgentID)

	a, err := f.pool.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.ActiveChats)
}

func TestEmergencyOfferedBeforeLow(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	// The low ticket is older; the emergency one must still win the single
	// slot.
	low := f.waitingTicket(t, "u1", "question about plans", 0, "")
	urgent := f.waitingTicket(t, "u2", "emergency: account hacked, fraud", 5, "security")
	require.Equal(t, domain.PriorityEmergency, urgent.Priority)

	require.NoError(t, f.d.AgentJoin(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 1}))

	gotUrgent, err := f.tickets.Get(ctx, urgent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketAssigned, gotUrgent.Status)

	gotLow, err := f.tickets.Get(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketWaiting, gotLow.Status)
}

func TestFullAgentNeverSelected(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	require.NoError(t, f.d.AgentJoin(ctx, &domain.Agent{ID: "full", MaxConcurrentChats: 1}))
	_, err := f.pool.Reserve(ctx, "full")
	require.NoError(t, err)
	require.NoError(t, f.d.AgentJoin(ctx, &domain.Agent{ID: "free", MaxConcurrentChats: 1}))

	tk := f.waitingTicket(t, "u1", "help", 0, "")
	f.d.AssignWaiting(ctx)

	got, err := f.tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "free", got.AssignedAgentID)
}

func TestConcurrentAcceptOneWinner(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tk := f.waitingTicket(t, "u1", "help", 0, "")

	// Two agents race to accept by hand (no auto-assignment: join after
	// marking both away, then flip).
	require.NoError(t, f.pool.Join(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 1}))
	require.NoError(t, f.pool.Join(ctx, &domain.Agent{ID: "a2", MaxConcurrentChats: 1}))

	type outcome struct {
		agent string
		err   error
	}
	results := make(chan outcome, 2)
	for _, id := range []string{"a1", "a2"} {
		go func(agentID string) {
			_, err := f.d.AcceptTicket(ctx, tk.ID, agentID)
			results <- outcome{agent: agentID, err: err}
		}(id)
	}

	var winner string
	var losses int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			winner = r.agent
		} else {
			assert.ErrorIs(t, r.err, ticket.ErrConflict)
			losses++
		}
	}
	require.NotEmpty(t, winner)
	assert.Equal(t, 1, losses)

	// The loser's reserved slot was returned.
	for _, id := range []string{"a1", "a2"} {
		a, err := f.pool.Get(ctx, id)
		require.NoError(t, err)
		if id == winner {
			assert.Equal(t, 1, a.ActiveChats)
		} else {
			assert.Zero(t, a.ActiveChats)
		}
	}
}

func TestAcceptWithoutCapacity(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tk := f.waitingTicket(t, "u1", "help", 0, "")
	require.NoError(t, f.pool.Join(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 1}))
	_, err := f.pool.Reserve(ctx, "a1")
	require.NoError(t, err)

	_, err = f.d.AcceptTicket(ctx, tk.ID, "a1")
	assert.ErrorIs(t, err, agentpool.ErrNoCapacity)
}

func TestResolveFreesSlotAndReassigns(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	first := f.waitingTicket(t, "u1", "first", 0, "")
	require.NoError(t, f.d.AgentJoin(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 1}))

	second := f.waitingTicket(t, "u2", "second", 0, "")
	f.d.AssignWaiting(ctx)

	// Agent is full, second waits.
	got, err := f.tickets.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TicketWaiting, got.Status)

	_, err = f.d.ResolveTicket(ctx, first.ID, "a1", "sorted out")
	require.NoError(t, err)

	// Resolving freed the slot and pulled the next ticket in.
	got, err = f.tickets.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketAssigned, got.Status)
	assert.Equal(t, "a1", got.AssignedAgentID)
}

func TestTransferMovesSlot(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tk := f.waitingTicket(t, "u1", "help", 0, "")
	// a1 sits out the auto-assignment so a2 gets the ticket; transfers only
	// need capacity, not availability.
	require.NoError(t, f.pool.Join(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 1}))
	_, err := f.pool.SetStatus(ctx, "a1", domain.AgentAway)
	require.NoError(t, err)
	require.NoError(t, f.d.AgentJoin(ctx, &domain.Agent{ID: "a2", MaxConcurrentChats: 1}))

	got, err := f.tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, "a2", got.AssignedAgentID)

	moved, err := f.d.TransferTicket(ctx, tk.ID, "a2", "a1", "needs billing expertise")
	require.NoError(t, err)
	assert.Equal(t, "a1", moved.AssignedAgentID)

	a1, err := f.pool.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, a1.ActiveChats)
	a2, err := f.pool.Get(ctx, "a2")
	require.NoError(t, err)
	assert.Zero(t, a2.ActiveChats)

	// Context snapshot and audit survive the transfer.
	assert.Equal(t, got.Context, moved.Context)
	last := moved.History[len(moved.History)-1]
	assert.Equal(t, "needs billing expertise", last.Reason)
}

func TestTransferByNonAssigneeRejected(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tk := f.waitingTicket(t, "u1", "help", 0, "")
	require.NoError(t, f.d.AgentJoin(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 1}))
	require.NoError(t, f.pool.Join(ctx, &domain.Agent{ID: "a2", MaxConcurrentChats: 1}))
	require.NoError(t, f.pool.Join(ctx, &domain.Agent{ID: "a3", MaxConcurrentChats: 1}))

	_, err := f.d.TransferTicket(ctx, tk.ID, "a2", "a3", "not mine")
	assert.ErrorIs(t, err, ticket.ErrNotAssignee)
}

func TestClientDisconnectCancelsWaitingTicket(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	sess, conn := f.connect(t, "u1")
	tk, err := f.d.RequestAgent(ctx, "u1", sess.ID, "please help")
	require.NoError(t, err)
	assert.True(t, conn.has(domain.EventTicketCreated))

	f.d.ClientDisconnect(ctx, "u1", sess.ID)

	got, err := f.tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketCancelled, got.Status)

	_, err = f.sessions.Get(ctx, sess.ID)
	assert.Error(t, err)
}

func TestReturnedTicketReannouncedAndReoffered(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tk := f.waitingTicket(t, "u1", "need help", 0, "")
	require.NoError(t, f.d.AgentJoin(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 1}))

	sup := &fakeConn{id: "sup"}
	f.router.Join(domain.GroupSupervisors, sup)

	// The heartbeat monitor's path: the dead agent drops out of the pool,
	// its ticket goes back to waiting, and the callback re-announces and
	// re-offers it. A second agent with free capacity picks it up.
	require.NoError(t, f.pool.Leave(ctx, "a1"))
	require.NoError(t, f.d.AgentJoin(ctx, &domain.Agent{ID: "a2", MaxConcurrentChats: 1}))

	returned, err := f.tickets.Unassign(ctx, tk.ID, "agent disconnected")
	require.NoError(t, err)
	require.Equal(t, domain.TicketWaiting, returned.Status)

	f.d.OnTicketReturned(ctx, returned)

	got, err := f.tickets.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketAssigned, got.Status)
	assert.Equal(t, "a2", got.AssignedAgentID)
	assert.True(t, sup.has(domain.EventTicketCreated))
}

func TestSupervisorSeesQueueStats(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	sup := &fakeConn{id: "sup"}
	f.router.Join(domain.GroupSupervisors, sup)

	f.waitingTicket(t, "u1", "help", 0, "")
	f.d.PublishQueueStats(ctx)

	require.True(t, sup.has(domain.EventQueueUpdate))
}
