package ai

import (
	"errors"
	"fmt"

	"github.com/relaydesk/relaydesk/internal/config"
)

// New builds the configured responder.
func New(cfg config.AIConfig) (Responder, error) {
	switch cfg.Provider {
	case "", "echo":
		return NewEchoResponder(), nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, errors.New("http responder requires ai.endpoint")
		}
		return NewHTTPResponder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown responder provider %q", cfg.Provider)
	}
}
