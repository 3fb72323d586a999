package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/domain"
)

func testSLA() config.SLAConfig {
	return config.SLAConfig{
		Response:   config.SLADeadlines{Low: 240, Medium: 60, High: 15, Emergency: 5},
		Resolution: config.SLADeadlines{Low: 1440, Medium: 480, High: 120, Emergency: 30},
	}
}

func TestScoreLevels(t *testing.T) {
	e := NewEngine(testSLA())

	tests := []struct {
		name string
		in   Input
		want domain.PriorityLevel
	}{
		{
			"calm question, unknown department",
			Input{Text: "how do I change my address?"},
			domain.PriorityLow,
		},
		{
			"stated severity bumps to medium",
			Input{Text: "invoice looks wrong", Department: "billing", Severity: 4},
			domain.PriorityMedium,
		},
		{
			"emergency keyword alone is high",
			Input{Text: "this is urgent, please help", Department: "sales", Severity: 1},
			domain.PriorityHigh,
		},
		{
			"security fraud at max severity is emergency",
			Input{Text: "my account was hacked", Department: "security", Severity: 5},
			domain.PriorityEmergency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, level := e.Score(tt.in)
			assert.Equal(t, tt.want, level, "score was %f", score)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		})
	}
}

func TestWaitTimeRaisesScore(t *testing.T) {
	e := NewEngine(testSLA())

	fresh, _ := e.Score(Input{Text: "help", Department: "billing"})
	waited, _ := e.Score(Input{Text: "help", Department: "billing", Waiting: time.Hour})

	assert.Greater(t, waited, fresh)
}

func TestWaitTimeSaturates(t *testing.T) {
	e := NewEngine(testSLA())

	atCap, _ := e.Score(Input{Waiting: 30 * time.Minute})
	beyond, _ := e.Score(Input{Waiting: 5 * time.Hour})

	assert.Equal(t, atCap, beyond)
}

func TestDeadlinesScaleInverselyWithPriority(t *testing.T) {
	e := NewEngine(testSLA())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	emResp, emRes := e.Deadlines(domain.PriorityEmergency, now)
	lowResp, lowRes := e.Deadlines(domain.PriorityLow, now)

	assert.Equal(t, now.Add(5*time.Minute), emResp)
	assert.Equal(t, now.Add(30*time.Minute), emRes)
	assert.Equal(t, now.Add(4*time.Hour), lowResp)
	assert.Equal(t, now.Add(24*time.Hour), lowRes)

	assert.True(t, emResp.Before(lowResp))
	assert.True(t, emRes.Before(lowRes))
}
