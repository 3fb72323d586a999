package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaydesk/relaydesk/internal/domain"
)

// EchoResponder is the development default: it acknowledges the message with
// a canned reply. Confidence drops when the message looks like a question it
// cannot answer, which exercises the low-confidence handoff path without a
// real model.
type EchoResponder struct{}

// NewEchoResponder creates the development responder.
func NewEchoResponder() *EchoResponder { return &EchoResponder{} }

func (e *EchoResponder) Name() string { return "echo" }

func (e *EchoResponder) Generate(_ context.Context, userMessage string, _ []domain.Message, _ string) (*Reply, error) {
	confidence := 0.9
	if strings.Contains(userMessage, "?") {
		confidence = 0.6
	}
	return &Reply{
		Content:    fmt.Sprintf("Thanks for your message. You said: %q. How else can I help?", userMessage),
		Confidence: confidence,
	}, nil
}
