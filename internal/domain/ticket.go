package domain

import "time"

// TicketStatus is the lifecycle state of a handoff request.
type TicketStatus string

const (
	TicketWaiting   TicketStatus = "waiting"
	TicketAssigned  TicketStatus = "assigned"
	TicketResolved  TicketStatus = "resolved"
	TicketCancelled TicketStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TicketStatus) Terminal() bool {
	return s == TicketResolved || s == TicketCancelled
}

// PriorityLevel is the discrete urgency bucket derived from the priority score.
type PriorityLevel string

const (
	PriorityLow       PriorityLevel = "low"
	PriorityMedium    PriorityLevel = "medium"
	PriorityHigh      PriorityLevel = "high"
	PriorityEmergency PriorityLevel = "emergency"
)

// Rank orders priority levels for queue sorting; higher is more urgent.
func (p PriorityLevel) Rank() int {
	switch p {
	case PriorityEmergency:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// HandoffTrigger records why a ticket was opened.
type HandoffTrigger string

const (
	TriggerUserRequest  HandoffTrigger = "user_request"
	TriggerKeyword      HandoffTrigger = "keyword"
	TriggerLowConfidence HandoffTrigger = "low_confidence"
)

// SLAData tracks the deadlines and escalation state of a ticket.
// EscalationLevel only ever increases. LastNotifiedThreshold is the highest
// threshold percentage (of the response deadline) already announced, so
// repeated sweeps never emit the same warning twice.
type SLAData struct {
	ResponseDeadline      time.Time `json:"responseDeadline"`
	ResolutionDeadline    time.Time `json:"resolutionDeadline"`
	EscalationLevel       int       `json:"escalationLevel"`
	LastNotifiedThreshold int       `json:"lastNotifiedThreshold"`
}

// Transition is one audit entry in a ticket's history.
type Transition struct {
	From    TicketStatus `json:"from"`
	To      TicketStatus `json:"to"`
	AgentID string       `json:"agentId,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	At      time.Time    `json:"at"`
}

// Feedback is the requester's rating of a resolved ticket.
type Feedback struct {
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Ticket is a request for human assistance. Tickets are retained once
// terminal; they are never deleted.
//
// Invariants: AssignedAgentID is non-empty exactly when Status is assigned;
// ResolvedAt is set exactly when Status is resolved; Context is frozen at
// creation.
type Ticket struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"ownerId"`
	SessionID      string        `json:"sessionId"`
	Status         TicketStatus  `json:"status"`
	PriorityScore  float64       `json:"priorityScore"`
	Priority       PriorityLevel `json:"priority"`
	Trigger        HandoffTrigger `json:"trigger"`
	Reason         string        `json:"reason,omitempty"`
	Department     string        `json:"department,omitempty"`
	Language       string        `json:"language,omitempty"`
	Severity       int           `json:"severity,omitempty"`
	Context        []Message     `json:"context,omitempty"`
	AssignedAgentID string       `json:"assignedAgentId,omitempty"`
	SLA            SLAData       `json:"sla"`
	History        []Transition  `json:"history,omitempty"`
	Feedback       *Feedback     `json:"feedback,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	AssignedAt     *time.Time    `json:"assignedAt,omitempty"`
	ResolvedAt     *time.Time    `json:"resolvedAt,omitempty"`
}

// Open reports whether the ticket still needs attention.
func (t *Ticket) Open() bool {
	return !t.Status.Terminal()
}
