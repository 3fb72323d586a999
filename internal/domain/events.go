package domain

// Event names delivered over the real-time router. Each event goes only to
// the groups it concerns; delivery is best-effort, at most once.
const (
	EventChatResponse      = "chat.response"
	EventTyping            = "chat.typing"
	EventRateLimitExceeded = "rate.limitExceeded"
	EventTicketCreated     = "ticket.created"
	EventTicketAssigned    = "ticket.assigned"
	EventTicketResolved    = "ticket.resolved"
	EventTicketEscalated   = "ticket.escalated"
	EventTicketCancelled   = "ticket.cancelled"
	EventQueueUpdate       = "queue.update"
	EventSLAWarning        = "sla.warning"
	EventSLABreach         = "sla.breach"
	EventAgentJoined       = "agent.joined"
	EventError             = "error"
)

// Group naming for router membership. A connection joins its session group
// and owner group; agent dashboards join their department pool, supervisors
// additionally join the supervisor group.
const GroupSupervisors = "supervisors"

// SessionGroup addresses every connection attached to one conversation.
func SessionGroup(sessionID string) string { return "session:" + sessionID }

// OwnerGroup addresses all devices of one customer.
func OwnerGroup(ownerID string) string { return "owner:" + ownerID }

// DepartmentGroup addresses the agent dashboards of one department.
func DepartmentGroup(dept string) string { return "dept:" + dept }

// AgentGroup addresses one agent's dashboard connections directly, so
// assignments reach agents outside any department.
func AgentGroup(agentID string) string { return "agent:" + agentID }
