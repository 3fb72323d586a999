package domain

import "time"

// AgentStatus is the availability state of a support agent.
type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentAway      AgentStatus = "away"
	AgentOffline   AgentStatus = "offline"
)

// AgentRole distinguishes regular agents from supervisors. Supervisors
// receive aggregate queue statistics and escalation notices.
type AgentRole string

const (
	RoleAgent      AgentRole = "agent"
	RoleSupervisor AgentRole = "supervisor"
)

// Agent is a human agent in the availability pool.
// ActiveChats never exceeds MaxConcurrentChats.
type Agent struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name,omitempty"`
	Role               AgentRole   `json:"role"`
	Status             AgentStatus `json:"status"`
	Department         string      `json:"department,omitempty"`
	Languages          []string    `json:"languages,omitempty"`
	Skills             []string    `json:"skills,omitempty"`
	MaxConcurrentChats int         `json:"maxConcurrentChats"`
	ActiveChats        int         `json:"activeChats"`
	LastHeartbeat      time.Time   `json:"lastHeartbeat"`
	LastAssignedAt     time.Time   `json:"lastAssignedAt,omitempty"`
	JoinedAt           time.Time   `json:"joinedAt"`
}

// HasCapacity reports whether the agent can take another chat.
func (a *Agent) HasCapacity() bool {
	return a.ActiveChats < a.MaxConcurrentChats
}

// SpeaksLanguage reports whether the agent lists lang. An agent with no
// languages configured is treated as language-agnostic.
func (a *Agent) SpeaksLanguage(lang string) bool {
	if lang == "" || len(a.Languages) == 0 {
		return true
	}
	for _, l := range a.Languages {
		if l == lang {
			return true
		}
	}
	return false
}
