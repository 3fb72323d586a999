package ai

import (
	"context"

	"github.com/relaydesk/relaydesk/internal/domain"
)

// MockResponder is a test double for Responder.
type MockResponder struct {
	ProviderName string
	GenerateFunc func(ctx context.Context, userMessage string, history []domain.Message, language string) (*Reply, error)
}

func (m *MockResponder) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

func (m *MockResponder) Generate(ctx context.Context, userMessage string, history []domain.Message, language string) (*Reply, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, userMessage, history, language)
	}
	return &Reply{Content: "mock reply", Confidence: 1}, nil
}
