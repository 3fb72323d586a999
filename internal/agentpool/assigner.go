package agentpool

import (
	"sort"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/domain"
)

// Assigner scores candidate agents for a ticket. Selection is deterministic:
// highest weighted score wins, ties go to the longest-idle agent, remaining
// ties to the earliest joiner.
type Assigner struct {
	weights config.AssignmentConfig
}

// NewAssigner creates an assigner with the configured scoring weights.
func NewAssigner(cfg config.AssignmentConfig) *Assigner {
	return &Assigner{weights: cfg}
}

// Select returns the best eligible agent for the ticket, or nil when nobody
// qualifies and the ticket must keep waiting.
func (a *Assigner) Select(agents []*domain.Agent, t *domain.Ticket) *domain.Agent {
	var best *domain.Agent
	var bestScore float64

	for _, cand := range agents {
		if !eligible(cand, t) {
			continue
		}
		score := a.score(cand, t)
		if best == nil || score > bestScore || (score == bestScore && preferred(cand, best)) {
			best = cand
			bestScore = score
		}
	}
	return best
}

// eligible keeps agents that are available, under capacity, and match the
// ticket's department and language. An agent with no department set takes
// tickets from any department.
func eligible(a *domain.Agent, t *domain.Ticket) bool {
	if a.Status != domain.AgentAvailable || !a.HasCapacity() {
		return false
	}
	if a.Department != "" && t.Department != "" && a.Department != t.Department {
		return false
	}
	return a.SpeaksLanguage(t.Language)
}

func (a *Assigner) score(cand *domain.Agent, t *domain.Ticket) float64 {
	var deptMatch, langMatch float64
	if cand.Department != "" && cand.Department == t.Department {
		deptMatch = 1
	}
	if t.Language != "" && listsLanguage(cand, t.Language) {
		langMatch = 1
	}
	load := 1 - float64(cand.ActiveChats)/float64(cand.MaxConcurrentChats)

	return a.weights.DepartmentWeight*deptMatch +
		a.weights.LanguageWeight*langMatch +
		a.weights.LoadWeight*load
}

// listsLanguage checks for an explicit language listing; unlike
// SpeaksLanguage it does not treat an empty list as a match, so explicit
// speakers outscore language-agnostic agents.
func listsLanguage(a *domain.Agent, lang string) bool {
	for _, l := range a.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// preferred breaks score ties: longest idle first (a zero LastAssignedAt
// means never assigned and wins), then join order, then ID for determinism.
func preferred(cand, best *domain.Agent) bool {
	if !cand.LastAssignedAt.Equal(best.LastAssignedAt) {
		return cand.LastAssignedAt.Before(best.LastAssignedAt)
	}
	if !cand.JoinedAt.Equal(best.JoinedAt) {
		return cand.JoinedAt.Before(best.JoinedAt)
	}
	return cand.ID < best.ID
}

// OrderQueue sorts waiting tickets into offer order: higher priority first,
// FIFO within a level. The input is not modified.
func OrderQueue(tickets []*domain.Ticket) []*domain.Ticket {
	out := append([]*domain.Ticket(nil), tickets...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// NextTicket returns the ticket to offer first, or nil for an empty queue.
func NextTicket(tickets []*domain.Ticket) *domain.Ticket {
	ordered := OrderQueue(tickets)
	if len(ordered) == 0 {
		return nil
	}
	return ordered[0]
}
