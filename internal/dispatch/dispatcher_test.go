package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/agentpool"
	"github.com/relaydesk/relaydesk/internal/ai"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/events"
	"github.com/relaydesk/relaydesk/internal/intent"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/priority"
	"github.com/relaydesk/relaydesk/internal/queue"
	"github.com/relaydesk/relaydesk/internal/ratelimit"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/ticket"
)

type sentEvent struct {
	name    string
	payload any
}

type fakeConn struct {
	id   string
	mu   sync.Mutex
	sent []sentEvent
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SendEvent(name string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentEvent{name: name, payload: payload})
	return nil
}

func (c *fakeConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, e := range c.sent {
		out[i] = e.name
	}
	return out
}

func (c *fakeConn) has(name string) bool {
	for _, n := range c.names() {
		if n == name {
			return true
		}
	}
	return false
}

type fixture struct {
	d        *Dispatcher
	sessions *session.Manager
	tickets  *ticket.Service
	pool     *agentpool.Pool
	router   *events.Router
	resp     *ai.MockResponder
}

func newFixture(t *testing.T, perMinute int) *fixture {
	t.Helper()
	log := logging.Nop()

	limiter := ratelimit.New(ratelimit.NewMemoryCounter(), config.LimitsConfig{
		PerMinute: perMinute,
		PerHour:   1000,
	}, log)

	sessions := session.NewManager(session.NewMemoryStore(), config.SessionConfig{
		TTLMinutes:    30,
		TokenBudget:   2000,
		TokensPerChar: 0.25,
	}, log)

	engine := priority.NewEngine(config.SLAConfig{
		Response:   config.SLADeadlines{Low: 240, Medium: 60, High: 15, Emergency: 5},
		Resolution: config.SLADeadlines{Low: 1440, Medium: 480, High: 120, Emergency: 30},
	})
	tickets := ticket.NewService(ticket.NewMemoryStore(), engine, log)

	pool := agentpool.New(agentpool.NewMemoryStore(), log)
	router := events.NewRouter(log)
	resp := &ai.MockResponder{}

	d := New(Options{
		Limiter:             limiter,
		Sessions:            sessions,
		Inbox:               queue.NewMemoryQueue(),
		Intents:             intent.NewKeywordClassifier(nil, nil),
		Responder:           resp,
		Tickets:             tickets,
		Pool:                pool,
		Assigner:            agentpool.NewAssigner(config.AssignmentConfig{DepartmentWeight: 0.5, LanguageWeight: 0.3, LoadWeight: 0.2}),
		Emitter:             events.NewEmitter(router),
		ConfidenceThreshold: 0.4,
	}, log)

	return &fixture{d: d, sessions: sessions, tickets: tickets, pool: pool, router: router, resp: resp}
}

func (f *fixture) connect(t *testing.T, ownerID string) (*domain.Session, *fakeConn) {
	t.Helper()
	sess, err := f.sessions.Create(context.Background(), ownerID, "", "en")
	require.NoError(t, err)
	conn := &fakeConn{id: "conn-" + sess.ID}
	f.router.Join(domain.SessionGroup(sess.ID), conn)
	f.router.Join(domain.OwnerGroup(ownerID), conn)
	return sess, conn
}

func TestMessageGetsAIReply(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess, conn := f.connect(t, "u1")

	f.resp.GenerateFunc = func(_ context.Context, msg string, history []domain.Message, lang string) (*ai.Reply, error) {
		assert.Equal(t, "hello", msg)
		assert.Equal(t, "en", lang)
		return &ai.Reply{Content: "hi there", Confidence: 0.95}, nil
	}

	require.NoError(t, f.d.HandleMessage(ctx, "u1", sess.ID, "hello", "en"))

	require.Eventually(t, func() bool {
		return conn.has(domain.EventChatResponse)
	}, time.Second, 5*time.Millisecond)

	got, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleUser, got.Messages[0].Role)
	assert.Equal(t, domain.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "hi there", got.Messages[1].Content)
}

func TestMessageRateLimited(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	sess, conn := f.connect(t, "u1")

	require.NoError(t, f.d.HandleMessage(ctx, "u1", sess.ID, "one", "en"))

	err := f.d.HandleMessage(ctx, "u1", sess.ID, "two", "en")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, conn.has(domain.EventRateLimitExceeded))

	// The denied message was never appended.
	got, gerr := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, gerr)
	for _, m := range got.Messages {
		assert.NotEqual(t, "two", m.Content)
	}
}

func TestHandoffKeywordOpensTicket(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess, conn := f.connect(t, "u1")

	require.NoError(t, f.d.HandleMessage(ctx, "u1", sess.ID, "I want to talk to a human", "en"))

	require.Eventually(t, func() bool {
		return conn.has(domain.EventTicketCreated)
	}, time.Second, 5*time.Millisecond)

	waiting, err := f.tickets.ListWaiting(ctx)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, domain.TriggerKeyword, waiting[0].Trigger)
	assert.Equal(t, sess.ID, waiting[0].SessionID)
}

func TestLowConfidenceOpensTicket(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess, _ := f.connect(t, "u1")

	f.resp.GenerateFunc = func(context.Context, string, []domain.Message, string) (*ai.Reply, error) {
		return &ai.Reply{Content: "not sure", Confidence: 0.2}, nil
	}

	require.NoError(t, f.d.HandleMessage(ctx, "u1", sess.ID, "something obscure", "en"))

	require.Eventually(t, func() bool {
		waiting, err := f.tickets.ListWaiting(ctx)
		return err == nil && len(waiting) == 1
	}, time.Second, 5*time.Millisecond)

	waiting, _ := f.tickets.ListWaiting(ctx)
	assert.Equal(t, domain.TriggerLowConfidence, waiting[0].Trigger)
}

func TestResponderHandoffFlag(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess, _ := f.connect(t, "u1")

	f.resp.GenerateFunc = func(context.Context, string, []domain.Message, string) (*ai.Reply, error) {
		return &ai.Reply{Content: "", Confidence: 0.9, ShouldHandoff: true}, nil
	}

	require.NoError(t, f.d.HandleMessage(ctx, "u1", sess.ID, "refund the duplicate charge", "en"))

	require.Eventually(t, func() bool {
		waiting, err := f.tickets.ListWaiting(ctx)
		return err == nil && len(waiting) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClearContextIntent(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess, conn := f.connect(t, "u1")

	require.NoError(t, f.d.HandleMessage(ctx, "u1", sess.ID, "hello", "en"))
	require.NoError(t, f.d.HandleMessage(ctx, "u1", sess.ID, "let's start over", "en"))

	require.Eventually(t, func() bool {
		got, err := f.sessions.Get(ctx, sess.ID)
		return err == nil && len(got.Messages) == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, conn.has(domain.EventChatResponse))
}

func TestResponderFailureDoesNotCreateTicket(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess, conn := f.connect(t, "u1")

	f.resp.GenerateFunc = func(context.Context, string, []domain.Message, string) (*ai.Reply, error) {
		return nil, errors.New("model overloaded")
	}

	require.NoError(t, f.d.HandleMessage(ctx, "u1", sess.ID, "hello", "en"))

	require.Eventually(t, func() bool {
		return conn.has(domain.EventChatResponse)
	}, time.Second, 5*time.Millisecond)

	waiting, err := f.tickets.ListWaiting(ctx)
	require.NoError(t, err)
	assert.Empty(t, waiting)
}

func TestReplyDiscardedWhenSessionGone(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess, conn := f.connect(t, "u1")

	// Kill the session mid-generate: the computed reply must be dropped.
	f.resp.GenerateFunc = func(context.Context, string, []domain.Message, string) (*ai.Reply, error) {
		require.NoError(t, f.sessions.Destroy(ctx, sess.ID))
		return &ai.Reply{Content: "too late", Confidence: 0.9}, nil
	}

	f.d.process(ctx, envelope{OwnerID: "u1", SessionID: sess.ID, Text: "hello"})
	assert.False(t, conn.has(domain.EventChatResponse))
}

func TestRequestAgentOwnerMismatch(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	sess, _ := f.connect(t, "u1")

	_, err := f.d.RequestAgent(ctx, "intruder", sess.ID, "please")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
