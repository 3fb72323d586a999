// Package ai defines the automated responder contract and its providers.
//
// The responder is opaque to the rest of the system: potentially slow,
// potentially failing, never retried. A failure surfaces to the client as a
// generic error event and never auto-creates a ticket.
package ai

import (
	"context"

	"github.com/relaydesk/relaydesk/internal/domain"
)

// Reply is the responder's answer to one user message.
type Reply struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"` // 0..1
	// ShouldHandoff lets the provider itself signal that a human should
	// take over, independent of the confidence threshold.
	ShouldHandoff bool `json:"shouldHandoff"`
}

// Responder generates automated replies from the bounded context window.
type Responder interface {
	Name() string
	Generate(ctx context.Context, userMessage string, history []domain.Message, language string) (*Reply, error)
}
