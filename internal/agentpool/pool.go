// Package agentpool tracks agent availability and picks assignees for
// waiting tickets.
package agentpool

import (
	"context"
	"errors"
	"time"

	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/logging"
)

var (
	// ErrNotFound means the agent is not in the pool.
	ErrNotFound = errors.New("agent not in pool")

	// ErrNoCapacity means the agent already holds its maximum concurrent
	// chats.
	ErrNoCapacity = errors.New("agent at capacity")
)

// PoolStore is the shared availability state. Update must be an atomic
// read-modify-write so concurrent assignment and heartbeat handling stay
// consistent across instances.
type PoolStore interface {
	Put(ctx context.Context, a *domain.Agent) error
	Get(ctx context.Context, id string) (*domain.Agent, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]*domain.Agent, error)
	Update(ctx context.Context, id string, mutate func(*domain.Agent) error) (*domain.Agent, error)
}

// Pool manages agents joining, leaving, and changing availability.
type Pool struct {
	store PoolStore
	log   *logging.Logger

	now func() time.Time
}

// New creates a pool over the given store.
func New(store PoolStore, log *logging.Logger) *Pool {
	return &Pool{store: store, log: log.Sub("pool"), now: time.Now}
}

// SetClock replaces the time source, for tests.
func (p *Pool) SetClock(now func() time.Time) { p.now = now }

// Join adds an agent to the pool. A rejoining agent keeps its ID but starts
// fresh: status available, zero active chats.
func (p *Pool) Join(ctx context.Context, a *domain.Agent) error {
	now := p.now()
	if a.Role == "" {
		a.Role = domain.RoleAgent
	}
	if a.MaxConcurrentChats <= 0 {
		a.MaxConcurrentChats = 1
	}
	a.Status = domain.AgentAvailable
	a.ActiveChats = 0
	a.LastHeartbeat = now
	a.JoinedAt = now

	if err := p.store.Put(ctx, a); err != nil {
		return err
	}
	p.log.Info().
		Str("agentId", a.ID).
		Str("department", a.Department).
		Int("maxChats", a.MaxConcurrentChats).
		Msg("agent joined pool")
	return nil
}

// Leave removes an agent from the pool.
func (p *Pool) Leave(ctx context.Context, id string) error {
	if err := p.store.Remove(ctx, id); err != nil {
		return err
	}
	p.log.Info().Str("agentId", id).Msg("agent left pool")
	return nil
}

// Get returns a pooled agent or ErrNotFound.
func (p *Pool) Get(ctx context.Context, id string) (*domain.Agent, error) {
	return p.store.Get(ctx, id)
}

// List returns all pooled agents.
func (p *Pool) List(ctx context.Context) ([]*domain.Agent, error) {
	return p.store.List(ctx)
}

// SetStatus records an agent-driven availability change.
func (p *Pool) SetStatus(ctx context.Context, id string, status domain.AgentStatus) (*domain.Agent, error) {
	a, err := p.store.Update(ctx, id, func(a *domain.Agent) error {
		a.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.log.Info().Str("agentId", id).Str("status", string(status)).Msg("agent status changed")
	return a, nil
}

// Heartbeat refreshes the agent's liveness timestamp.
func (p *Pool) Heartbeat(ctx context.Context, id string) error {
	now := p.now()
	_, err := p.store.Update(ctx, id, func(a *domain.Agent) error {
		a.LastHeartbeat = now
		return nil
	})
	return err
}

// Reserve takes one chat slot on the agent, recording the assignment time
// for idle-based tie-breaking. Returns ErrNoCapacity when the agent is full.
func (p *Pool) Reserve(ctx context.Context, id string) (*domain.Agent, error) {
	now := p.now()
	return p.store.Update(ctx, id, func(a *domain.Agent) error {
		if !a.HasCapacity() {
			return ErrNoCapacity
		}
		a.ActiveChats++
		a.LastAssignedAt = now
		return nil
	})
}

// Release frees one chat slot, e.g. after resolve, transfer-away, or return
// to queue. Releasing below zero clamps.
func (p *Pool) Release(ctx context.Context, id string) (*domain.Agent, error) {
	return p.store.Update(ctx, id, func(a *domain.Agent) error {
		if a.ActiveChats > 0 {
			a.ActiveChats--
		}
		return nil
	})
}
