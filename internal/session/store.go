// Package session manages TTL-bound conversation state.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Store persists sessions with a TTL. Implementations must treat an expired
// session as absent.
type Store interface {
	// Save writes the session and (re)arms its TTL.
	Save(ctx context.Context, s *domain.Session, ttl time.Duration) error

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Extend re-arms the TTL without modifying the session.
	Extend(ctx context.Context, id string, ttl time.Duration) error

	// Delete destroys the session.
	Delete(ctx context.Context, id string) error
}
