// Package priority scores handoff tickets and derives their SLA deadlines.
package priority

import (
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/domain"
)

// emergencyKeywords immediately push a ticket toward the emergency bucket.
var emergencyKeywords = []string{
	"emergency",
	"urgent",
	"asap",
	"fraud",
	"hacked",
	"stolen",
	"locked out",
}

// departmentUrgency weights departments by how time-critical their requests
// tend to be. Unknown departments get the base weight.
var departmentUrgency = map[string]float64{
	"security": 1.0,
	"billing":  0.7,
	"technical": 0.5,
	"sales":    0.3,
}

const baseDepartmentUrgency = 0.2

// Score weights for the combined priority score.
const (
	keywordWeight    = 0.40
	departmentWeight = 0.20
	severityWeight   = 0.25
	waitWeight       = 0.15

	// waits at or beyond this saturate the wait component
	waitSaturation = 30 * time.Minute
)

// Input captures everything the scorer looks at.
type Input struct {
	Text       string        // message or reason text, scanned for emergency keywords
	Department string
	Severity   int           // user-stated severity 0..5
	Waiting    time.Duration // elapsed wait, zero at creation
}

// Engine computes priority scores and SLA deadlines.
type Engine struct {
	sla config.SLAConfig
}

// NewEngine creates a priority engine with the given SLA configuration.
func NewEngine(sla config.SLAConfig) *Engine {
	return &Engine{sla: sla}
}

// Score combines the weighted factors into a score in [0,1] and maps it to
// a discrete level.
func (e *Engine) Score(in Input) (float64, domain.PriorityLevel) {
	score := 0.0

	if containsEmergencyKeyword(in.Text) {
		score += keywordWeight
	}

	urgency, ok := departmentUrgency[strings.ToLower(in.Department)]
	if !ok {
		urgency = baseDepartmentUrgency
	}
	score += departmentWeight * urgency

	sev := in.Severity
	if sev > 5 {
		sev = 5
	}
	if sev > 0 {
		score += severityWeight * float64(sev) / 5
	}

	if in.Waiting > 0 {
		frac := float64(in.Waiting) / float64(waitSaturation)
		if frac > 1 {
			frac = 1
		}
		score += waitWeight * frac
	}

	if score > 1 {
		score = 1
	}
	return score, levelFor(score)
}

func levelFor(score float64) domain.PriorityLevel {
	switch {
	case score >= 0.75:
		return domain.PriorityEmergency
	case score >= 0.5:
		return domain.PriorityHigh
	case score >= 0.25:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

func containsEmergencyKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Deadlines returns the response and resolution deadlines for a level,
// measured from now. Higher priority means tighter deadlines.
func (e *Engine) Deadlines(level domain.PriorityLevel, now time.Time) (response, resolution time.Time) {
	return now.Add(minutesFor(e.sla.Response, level)),
		now.Add(minutesFor(e.sla.Resolution, level))
}

func minutesFor(d config.SLADeadlines, level domain.PriorityLevel) time.Duration {
	var m int
	switch level {
	case domain.PriorityEmergency:
		m = d.Emergency
	case domain.PriorityHigh:
		m = d.High
	case domain.PriorityMedium:
		m = d.Medium
	default:
		m = d.Low
	}
	return time.Duration(m) * time.Minute
}
