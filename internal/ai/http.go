package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/domain"
)

// HTTPResponder calls an external response-generation service. The wire
// contract mirrors Generate: the request carries the user message, the
// bounded history, and the language; the response returns content,
// confidence, and the handoff flag.
type HTTPResponder struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPResponder creates a responder from the AI configuration.
func NewHTTPResponder(cfg config.AIConfig) *HTTPResponder {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPResponder{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (h *HTTPResponder) Name() string { return "http" }

type generateRequest struct {
	Message  string           `json:"message"`
	History  []domain.Message `json:"history,omitempty"`
	Language string           `json:"language,omitempty"`
}

func (h *HTTPResponder) Generate(ctx context.Context, userMessage string, history []domain.Message, language string) (*Reply, error) {
	payload, err := json.Marshal(generateRequest{
		Message:  userMessage,
		History:  history,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading generate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("responder error (%d): %s", resp.StatusCode, string(body))
	}

	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("parsing generate response: %w", err)
	}
	if reply.Confidence < 0 || reply.Confidence > 1 {
		return nil, fmt.Errorf("responder returned confidence %v outside [0,1]", reply.Confidence)
	}
	return &reply, nil
}
