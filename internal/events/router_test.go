package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/logging"
)

type fakeConn struct {
	id   string
	mu   sync.Mutex
	sent []string // event names
	fail bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SendEvent(name string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection gone")
	}
	c.sent = append(c.sent, name)
	return nil
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func TestRouterBroadcastOnlyToGroup(t *testing.T) {
	r := NewRouter(logging.Nop())
	in := &fakeConn{id: "c1"}
	out := &fakeConn{id: "c2"}
	r.Join("session:s1", in)
	r.Join("session:s2", out)

	r.Broadcast("session:s1", "ping", nil)

	assert.Equal(t, []string{"ping"}, in.events())
	assert.Empty(t, out.events())
}

func TestRouterLeave(t *testing.T) {
	r := NewRouter(logging.Nop())
	c := &fakeConn{id: "c1"}
	r.Join("g", c)
	require.Equal(t, 1, r.GroupSize("g"))

	r.Leave("g", "c1")
	assert.Zero(t, r.GroupSize("g"))

	r.Broadcast("g", "ping", nil)
	assert.Empty(t, c.events())
}

func TestRouterLeaveAll(t *testing.T) {
	r := NewRouter(logging.Nop())
	c := &fakeConn{id: "c1"}
	r.Join("a", c)
	r.Join("b", c)
	r.Join("c", c)

	r.LeaveAll("c1")
	assert.Zero(t, r.GroupSize("a"))
	assert.Zero(t, r.GroupSize("b"))
	assert.Zero(t, r.GroupSize("c"))
}

func TestRouterFailedSendIsSkipped(t *testing.T) {
	r := NewRouter(logging.Nop())
	dead := &fakeConn{id: "dead", fail: true}
	live := &fakeConn{id: "live"}
	r.Join("g", dead)
	r.Join("g", live)

	r.Broadcast("g", "ping", nil)
	assert.Equal(t, []string{"ping"}, live.events())
}

func TestBroadcastManyDeduplicates(t *testing.T) {
	r := NewRouter(logging.Nop())
	c := &fakeConn{id: "c1"}
	r.Join("owner:u1", c)
	r.Join("session:s1", c)

	r.BroadcastMany([]string{"owner:u1", "session:s1"}, "ping", nil)
	assert.Equal(t, []string{"ping"}, c.events())
}

func TestEmitterTicketAudience(t *testing.T) {
	r := NewRouter(logging.Nop())
	e := NewEmitter(r)

	customer := &fakeConn{id: "customer"}
	dashboard := &fakeConn{id: "dashboard"}
	supervisor := &fakeConn{id: "supervisor"}
	other := &fakeConn{id: "other"}

	r.Join(domain.OwnerGroup("u1"), customer)
	r.Join(domain.SessionGroup("s1"), customer)
	r.Join(domain.DepartmentGroup("billing"), dashboard)
	r.Join(domain.GroupSupervisors, supervisor)
	r.Join(domain.DepartmentGroup("sales"), other)

	e.TicketCreated(&domain.Ticket{
		ID:         "t1",
		OwnerID:    "u1",
		SessionID:  "s1",
		Status:     domain.TicketWaiting,
		Priority:   domain.PriorityHigh,
		Department: "billing",
	})

	assert.Equal(t, []string{domain.EventTicketCreated}, customer.events())
	assert.Equal(t, []string{domain.EventTicketCreated}, dashboard.events())
	assert.Equal(t, []string{domain.EventTicketCreated}, supervisor.events())
	assert.Empty(t, other.events())
}

func TestEmitterAssignmentReachesAssignedAgent(t *testing.T) {
	r := NewRouter(logging.Nop())
	e := NewEmitter(r)

	// An agent outside any department group still hears about their own
	// assignments through the per-agent group.
	agent := &fakeConn{id: "agent-conn"}
	r.Join(domain.AgentGroup("a1"), agent)

	e.TicketAssigned(&domain.Ticket{
		ID:              "t1",
		OwnerID:         "u1",
		SessionID:       "s1",
		Status:          domain.TicketAssigned,
		AssignedAgentID: "a1",
	})

	assert.Equal(t, []string{domain.EventTicketAssigned}, agent.events())
}

func TestEmitterQueueStatsSupervisorsOnly(t *testing.T) {
	r := NewRouter(logging.Nop())
	e := NewEmitter(r)

	supervisor := &fakeConn{id: "supervisor"}
	agent := &fakeConn{id: "agent"}
	r.Join(domain.GroupSupervisors, supervisor)
	r.Join(domain.DepartmentGroup("billing"), agent)

	e.QueueStats(QueueStatsPayload{Waiting: 4, Assigned: 2})

	assert.Equal(t, []string{domain.EventQueueUpdate}, supervisor.events())
	assert.Empty(t, agent.events())
}

func TestEmitterSLABreachEscalates(t *testing.T) {
	r := NewRouter(logging.Nop())
	e := NewEmitter(r)

	supervisor := &fakeConn{id: "supervisor"}
	customer := &fakeConn{id: "customer"}
	r.Join(domain.GroupSupervisors, supervisor)
	r.Join(domain.OwnerGroup("u1"), customer)

	e.SLABreach(context.Background(), &domain.Ticket{
		ID:      "t1",
		OwnerID: "u1",
		SLA:     domain.SLAData{ResponseDeadline: time.Now(), EscalationLevel: 1},
	})

	// Supervisors see the breach and the escalation; the customer only the
	// escalation.
	assert.Equal(t, []string{domain.EventSLABreach, domain.EventTicketEscalated}, supervisor.events())
	assert.Equal(t, []string{domain.EventTicketEscalated}, customer.events())
}

func TestEmitterRateLimitRounding(t *testing.T) {
	r := NewRouter(logging.Nop())
	e := NewEmitter(r)

	c := &fakeConn{id: "c1"}
	r.Join(domain.OwnerGroup("u1"), c)

	e.RateLimitExceeded("u1", 42*time.Second)
	assert.Equal(t, []string{domain.EventRateLimitExceeded}, c.events())
}
