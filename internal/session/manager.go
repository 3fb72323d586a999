package session

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/logging"
)

// Manager owns session lifecycle: creation on connect, TTL refresh on
// activity, bounded history, and the token-budgeted context window handed
// to the automated responder.
type Manager struct {
	store         Store
	ttl           time.Duration
	tokenBudget   int
	tokensPerChar float64
	log           *logging.Logger
}

// NewManager creates a session manager.
func NewManager(store Store, cfg config.SessionConfig, log *logging.Logger) *Manager {
	return &Manager{
		store:         store,
		ttl:           time.Duration(cfg.TTLMinutes) * time.Minute,
		tokenBudget:   cfg.TokenBudget,
		tokensPerChar: cfg.TokensPerChar,
		log:           log.Sub("session"),
	}
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Create starts a session. If id is empty a new one is generated. An
// existing live session with the same id is returned untouched (reconnect).
func (m *Manager) Create(ctx context.Context, ownerID, id, language string) (*domain.Session, error) {
	if id != "" {
		if existing, err := m.store.Get(ctx, id); err == nil {
			if err := m.store.Extend(ctx, id, m.ttl); err != nil && err != ErrNotFound {
				return nil, err
			}
			return existing, nil
		}
	}
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	sess := &domain.Session{
		ID:           id,
		OwnerID:      ownerID,
		Language:     language,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := m.store.Save(ctx, sess, m.ttl); err != nil {
		return nil, err
	}
	m.log.Info().Str("sessionId", id).Str("owner", ownerID).Msg("session created")
	return sess, nil
}

// Get returns a live session or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	return m.store.Get(ctx, id)
}

// Extend refreshes the session TTL.
func (m *Manager) Extend(ctx context.Context, id string) error {
	return m.store.Extend(ctx, id, m.ttl)
}

// AddMessage appends a message, trims history to the cap, refreshes the TTL,
// and returns the updated session.
func (m *Manager) AddMessage(ctx context.Context, id string, msg domain.Message) (*domain.Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	sess.Append(msg)
	if err := m.store.Save(ctx, sess, m.ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

// ClearHistory wipes the message list but keeps the session alive.
func (m *Manager) ClearHistory(ctx context.Context, id string) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.Messages = nil
	sess.LastActivity = time.Now()
	m.log.Info().Str("sessionId", id).Msg("conversation context cleared")
	return m.store.Save(ctx, sess, m.ttl)
}

// Destroy removes the session.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.log.Info().Str("sessionId", id).Msg("session destroyed")
	return m.store.Delete(ctx, id)
}

// ContextWindow returns the most recent messages whose estimated token cost
// fits the configured budget, in chronological order. It may return fewer
// messages than the session holds.
func (m *Manager) ContextWindow(sess *domain.Session) []domain.Message {
	budget := float64(m.tokenBudget)
	spent := 0.0
	cut := len(sess.Messages)

	for i := len(sess.Messages) - 1; i >= 0; i-- {
		cost := math.Ceil(float64(len(sess.Messages[i].Content)) * m.tokensPerChar)
		if spent+cost > budget {
			break
		}
		spent += cost
		cut = i
	}

	if cut >= len(sess.Messages) {
		return nil
	}
	out := make([]domain.Message, len(sess.Messages)-cut)
	copy(out, sess.Messages[cut:])
	return out
}
