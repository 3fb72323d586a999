package events

import (
	"context"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain"
)

// Payload shapes for the outbound events. Field names are part of the wire
// contract with dashboards and clients.

type ChatResponsePayload struct {
	SessionID  string  `json:"sessionId"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type TypingPayload struct {
	SessionID string `json:"sessionId"`
	Sender    string `json:"sender"` // "assistant" | "agent" | "user"
	Typing    bool   `json:"typing"`
}

type RateLimitPayload struct {
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

type TicketPayload struct {
	TicketID   string               `json:"ticketId"`
	OwnerID    string               `json:"ownerId"`
	SessionID  string               `json:"sessionId"`
	Status     domain.TicketStatus  `json:"status"`
	Priority   domain.PriorityLevel `json:"priority"`
	Department string               `json:"department,omitempty"`
	AgentID    string               `json:"agentId,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

type SLAPayload struct {
	TicketID             string    `json:"ticketId"`
	Priority             domain.PriorityLevel `json:"priority"`
	Deadline             time.Time `json:"deadline"`
	TimeRemainingSeconds int       `json:"timeRemainingSeconds"`
	ThresholdPct         int       `json:"thresholdPct,omitempty"`
	EscalationLevel      int       `json:"escalationLevel,omitempty"`
}

type QueueStatsPayload struct {
	Waiting         int            `json:"waiting"`
	Assigned        int            `json:"assigned"`
	ByPriority      map[string]int `json:"byPriority"`
	AvailableAgents int            `json:"availableAgents"`
}

type AgentJoinedPayload struct {
	AgentID    string `json:"agentId"`
	Name       string `json:"name,omitempty"`
	Department string `json:"department,omitempty"`
}

// Emitter addresses the router with typed events. It implements the SLA
// sweep's notifier.
type Emitter struct {
	router *Router
}

// NewEmitter wraps a router.
func NewEmitter(router *Router) *Emitter {
	return &Emitter{router: router}
}

// Router exposes the underlying membership tables for connection lifecycle
// handling.
func (e *Emitter) Router() *Router { return e.router }

func ticketPayload(t *domain.Ticket) TicketPayload {
	return TicketPayload{
		TicketID:   t.ID,
		OwnerID:    t.OwnerID,
		SessionID:  t.SessionID,
		Status:     t.Status,
		Priority:   t.Priority,
		Department: t.Department,
		AgentID:    t.AssignedAgentID,
		Reason:     t.Reason,
	}
}

// ticketGroups is the audience of a ticket lifecycle event: the requester's
// devices, the conversation, the department's dashboards, and supervisors.
func ticketGroups(t *domain.Ticket) []string {
	groups := []string{
		domain.OwnerGroup(t.OwnerID),
		domain.SessionGroup(t.SessionID),
		domain.GroupSupervisors,
	}
	if t.Department != "" {
		groups = append(groups, domain.DepartmentGroup(t.Department))
	}
	return groups
}

// ChatResponse delivers an assistant reply to the conversation.
func (e *Emitter) ChatResponse(sessionID, text string, confidence float64) {
	e.router.Broadcast(domain.SessionGroup(sessionID), domain.EventChatResponse, ChatResponsePayload{
		SessionID:  sessionID,
		Text:       text,
		Confidence: confidence,
	})
}

// Typing relays a typing indicator to the conversation.
func (e *Emitter) Typing(sessionID, sender string, typing bool) {
	e.router.Broadcast(domain.SessionGroup(sessionID), domain.EventTyping, TypingPayload{
		SessionID: sessionID,
		Sender:    sender,
		Typing:    typing,
	})
}

// RateLimitExceeded tells the owner's devices to back off.
func (e *Emitter) RateLimitExceeded(ownerID string, retryAfter time.Duration) {
	e.router.Broadcast(domain.OwnerGroup(ownerID), domain.EventRateLimitExceeded, RateLimitPayload{
		Message:           "rate limit exceeded, please slow down",
		RetryAfterSeconds: int(retryAfter.Seconds() + 0.5),
	})
}

// TicketCreated announces a new handoff request.
func (e *Emitter) TicketCreated(t *domain.Ticket) {
	e.router.BroadcastMany(ticketGroups(t), domain.EventTicketCreated, ticketPayload(t))
}

// TicketAssigned announces an assignment to everyone involved, including
// the assigned agent's own dashboard.
func (e *Emitter) TicketAssigned(t *domain.Ticket) {
	groups := ticketGroups(t)
	if t.AssignedAgentID != "" {
		groups = append(groups, domain.AgentGroup(t.AssignedAgentID))
	}
	e.router.BroadcastMany(groups, domain.EventTicketAssigned, ticketPayload(t))
}

// TicketResolved announces a resolution.
func (e *Emitter) TicketResolved(t *domain.Ticket) {
	e.router.BroadcastMany(ticketGroups(t), domain.EventTicketResolved, ticketPayload(t))
}

// TicketCancelled announces a cancellation.
func (e *Emitter) TicketCancelled(t *domain.Ticket) {
	e.router.BroadcastMany(ticketGroups(t), domain.EventTicketCancelled, ticketPayload(t))
}

// AgentJoined tells the department and supervisors a dashboard came online.
func (e *Emitter) AgentJoined(a *domain.Agent) {
	payload := AgentJoinedPayload{AgentID: a.ID, Name: a.Name, Department: a.Department}
	groups := []string{domain.GroupSupervisors}
	if a.Department != "" {
		groups = append(groups, domain.DepartmentGroup(a.Department))
	}
	e.router.BroadcastMany(groups, domain.EventAgentJoined, payload)
}

// QueueStats sends aggregate queue statistics to the supervisor pool only.
func (e *Emitter) QueueStats(p QueueStatsPayload) {
	e.router.Broadcast(domain.GroupSupervisors, domain.EventQueueUpdate, p)
}

// phaseDeadline mirrors the sweep's notion of which deadline an open
// ticket is racing.
func phaseDeadline(t *domain.Ticket) time.Time {
	if t.Status == domain.TicketAssigned {
		return t.SLA.ResolutionDeadline
	}
	return t.SLA.ResponseDeadline
}

// SLAWarning implements the sweep notifier: a threshold of the ticket's
// current phase deadline was crossed.
func (e *Emitter) SLAWarning(_ context.Context, t *domain.Ticket, thresholdPct int, remaining time.Duration) {
	payload := SLAPayload{
		TicketID:             t.ID,
		Priority:             t.Priority,
		Deadline:             phaseDeadline(t),
		TimeRemainingSeconds: int(remaining.Seconds()),
		ThresholdPct:         thresholdPct,
	}
	groups := []string{domain.GroupSupervisors}
	if t.Department != "" {
		groups = append(groups, domain.DepartmentGroup(t.Department))
	}
	e.router.BroadcastMany(groups, domain.EventSLAWarning, payload)
}

// SLABreach implements the sweep notifier: the phase deadline passed and
// the ticket escalated.
func (e *Emitter) SLABreach(_ context.Context, t *domain.Ticket) {
	payload := SLAPayload{
		TicketID:        t.ID,
		Priority:        t.Priority,
		Deadline:        phaseDeadline(t),
		EscalationLevel: t.SLA.EscalationLevel,
	}
	groups := []string{domain.GroupSupervisors}
	if t.Department != "" {
		groups = append(groups, domain.DepartmentGroup(t.Department))
	}
	e.router.BroadcastMany(groups, domain.EventSLABreach, payload)
	e.router.BroadcastMany(ticketGroups(t), domain.EventTicketEscalated, ticketPayload(t))
}
