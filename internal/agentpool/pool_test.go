package agentpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/logging"
)

func newTestPool(t *testing.T) (*Pool, *time.Time) {
	t.Helper()
	p := New(NewMemoryStore(), logging.Nop())
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := &now
	p.SetClock(func() time.Time { return *clock })
	return p, clock
}

func TestPoolJoinDefaults(t *testing.T) {
	p, clock := newTestPool(t)
	ctx := context.Background()

	require.NoError(t, p.Join(ctx, &domain.Agent{ID: "a1", Department: "billing"}))

	a, err := p.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AgentAvailable, a.Status)
	assert.Equal(t, domain.RoleAgent, a.Role)
	assert.Equal(t, 1, a.MaxConcurrentChats)
	assert.Equal(t, 0, a.ActiveChats)
	assert.True(t, a.JoinedAt.Equal(*clock))
}

func TestPoolLeave(t *testing.T) {
	p, _ := newTestPool(t)
	ctx := context.Background()

	require.NoError(t, p.Join(ctx, &domain.Agent{ID: "a1"}))
	require.NoError(t, p.Leave(ctx, "a1"))

	_, err := p.Get(ctx, "a1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, p.Leave(ctx, "a1"), ErrNotFound)
}

func TestPoolReserveAndRelease(t *testing.T) {
	p, clock := newTestPool(t)
	ctx := context.Background()

	require.NoError(t, p.Join(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 2}))

	*clock = clock.Add(5 * time.Minute)
	a, err := p.Reserve(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.ActiveChats)
	assert.True(t, a.LastAssignedAt.Equal(*clock))

	_, err = p.Reserve(ctx, "a1")
	require.NoError(t, err)

	// Third chat exceeds capacity.
	_, err = p.Reserve(ctx, "a1")
	assert.ErrorIs(t, err, ErrNoCapacity)

	a, err = p.Release(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, a.ActiveChats)

	// Release never goes below zero.
	_, err = p.Release(ctx, "a1")
	require.NoError(t, err)
	a, err = p.Release(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, a.ActiveChats)
}

func TestPoolStatusAndHeartbeat(t *testing.T) {
	p, clock := newTestPool(t)
	ctx := context.Background()

	require.NoError(t, p.Join(ctx, &domain.Agent{ID: "a1"}))

	a, err := p.SetStatus(ctx, "a1", domain.AgentAway)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentAway, a.Status)

	*clock = clock.Add(30 * time.Second)
	require.NoError(t, p.Heartbeat(ctx, "a1"))

	a, err = p.Get(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.LastHeartbeat.Equal(*clock))
}

func TestPoolConcurrentReserveRespectsCapacity(t *testing.T) {
	p, _ := newTestPool(t)
	ctx := context.Background()

	require.NoError(t, p.Join(ctx, &domain.Agent{ID: "a1", MaxConcurrentChats: 3}))

	const attempts = 10
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			_, err := p.Reserve(ctx, "a1")
			errs <- err
		}()
	}

	var wins int
	for i := 0; i < attempts; i++ {
		if err := <-errs; err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrNoCapacity)
		}
	}
	assert.Equal(t, 3, wins)

	a, err := p.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 3, a.ActiveChats)
}
