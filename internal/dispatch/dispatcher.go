// Package dispatch wires the inbound message flow: rate gate, session
// append, per-session FIFO queue, handoff decision, and the agent-side
// ticket operations.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/relaydesk/relaydesk/internal/agentpool"
	"github.com/relaydesk/relaydesk/internal/ai"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/events"
	"github.com/relaydesk/relaydesk/internal/intent"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/queue"
	"github.com/relaydesk/relaydesk/internal/ratelimit"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/ticket"
)

// ErrRateLimited is returned to the gateway when the owner is over quota.
// The retry-after detail travels on the event the emitter already sent.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrResponderFailed wraps an automated-responder failure. It never
// auto-creates a ticket; the client is told to retry or ask for a human.
var ErrResponderFailed = errors.New("automated responder failed")

// Roster mirrors pool membership into durable storage for audit. Optional.
type Roster interface {
	Upsert(ctx context.Context, a *domain.Agent) error
}

// Dispatcher orchestrates the end-to-end flow between the gateway and the
// domain services.
type Dispatcher struct {
	limiter   *ratelimit.Limiter
	sessions  *session.Manager
	inbox     queue.Queue
	intents   intent.Classifier
	responder ai.Responder
	tickets   *ticket.Service
	pool      *agentpool.Pool
	assigner  *agentpool.Assigner
	emitter   *events.Emitter
	roster    Roster // may be nil
	log       *logging.Logger

	// confidence below this triggers a handoff instead of an AI reply
	confidenceThreshold float64

	mu      sync.Mutex
	workers map[string]struct{}
}

// Options carries the dispatcher's collaborators.
type Options struct {
	Limiter             *ratelimit.Limiter
	Sessions            *session.Manager
	Inbox               queue.Queue
	Intents             intent.Classifier
	Responder           ai.Responder
	Tickets             *ticket.Service
	Pool                *agentpool.Pool
	Assigner            *agentpool.Assigner
	Emitter             *events.Emitter
	Roster              Roster
	ConfidenceThreshold float64
}

// New creates a dispatcher.
func New(o Options, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		limiter:             o.Limiter,
		sessions:            o.Sessions,
		inbox:               o.Inbox,
		intents:             o.Intents,
		responder:           o.Responder,
		tickets:             o.Tickets,
		pool:                o.Pool,
		assigner:            o.Assigner,
		emitter:             o.Emitter,
		roster:              o.Roster,
		confidenceThreshold: o.ConfidenceThreshold,
		log:                 log.Sub("dispatch"),
		workers:             make(map[string]struct{}),
	}
}

// envelope is the queued form of one inbound message.
type envelope struct {
	OwnerID   string    `json:"ownerId"`
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	Received  time.Time `json:"received"`
}

func inboxName(sessionID string) string { return "inbox:" + sessionID }

// HandleMessage runs the inbound gate for one chat message: rate check,
// session append, then enqueue for ordered processing. If the queue is
// unavailable the message is processed synchronously instead (fail-open).
func (d *Dispatcher) HandleMessage(ctx context.Context, ownerID, sessionID, text, language string) error {
	res := d.limiter.Check(ctx, ownerID)
	if !res.Allowed {
		d.emitter.RateLimitExceeded(ownerID, res.RetryAfter)
		return ErrRateLimited
	}

	if _, err := d.sessions.AddMessage(ctx, sessionID, domain.Message{
		Role:    domain.RoleUser,
		Content: text,
	}); err != nil {
		return err
	}

	env := envelope{
		OwnerID:   ownerID,
		SessionID: sessionID,
		Text:      text,
		Language:  language,
		Received:  time.Now(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := d.inbox.Enqueue(ctx, inboxName(sessionID), data); err != nil {
		d.log.Warn().Err(err).Str("sessionId", sessionID).Msg("queue unavailable, processing inline")
		d.process(ctx, env)
		return nil
	}
	d.ensureWorker(sessionID)
	return nil
}

// ensureWorker starts the per-session drain goroutine if none is running.
// One worker per session keeps that session's messages ordered.
func (d *Dispatcher) ensureWorker(sessionID string) {
	d.mu.Lock()
	if _, running := d.workers[sessionID]; running {
		d.mu.Unlock()
		return
	}
	d.workers[sessionID] = struct{}{}
	d.mu.Unlock()

	go d.drain(sessionID)
}

func (d *Dispatcher) drain(sessionID string) {
	ctx := context.Background()
	name := inboxName(sessionID)

	for {
		data, err := d.inbox.Dequeue(ctx, name)
		if err != nil {
			d.mu.Lock()
			delete(d.workers, sessionID)
			d.mu.Unlock()

			if errors.Is(err, queue.ErrEmpty) {
				// An enqueue may have raced our shutdown.
				if n, sizeErr := d.inbox.Size(ctx, name); sizeErr == nil && n > 0 {
					d.ensureWorker(sessionID)
				}
				return
			}
			d.log.Warn().Err(err).Str("sessionId", sessionID).Msg("inbox dequeue failed, worker stopped")
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			d.log.Warn().Err(err).Str("sessionId", sessionID).Msg("dropping malformed inbox entry")
			continue
		}
		d.process(ctx, env)
	}
}

// process makes the handoff-or-reply decision for one message. The session
// is re-checked before every emission: if it died while the message sat in
// the queue (or during a slow responder call), the result is discarded.
func (d *Dispatcher) process(ctx context.Context, env envelope) {
	sess, err := d.sessions.Get(ctx, env.SessionID)
	if err != nil {
		d.log.Warn().Str("sessionId", env.SessionID).Msg("session gone, dropping queued message")
		return
	}

	switch d.intents.Classify(env.Text) {
	case intent.ClearContext:
		if err := d.sessions.ClearHistory(ctx, env.SessionID); err != nil {
			d.log.Warn().Err(err).Str("sessionId", env.SessionID).Msg("clearing context")
			return
		}
		d.emitter.ChatResponse(env.SessionID, "Okay, let's start fresh. What can I help you with?", 1)
		return

	case intent.Handoff:
		d.openTicket(ctx, sess, env, domain.TriggerKeyword, env.Text)
		return
	}

	d.emitter.Typing(env.SessionID, string(domain.RoleAssistant), true)
	reply, err := d.responder.Generate(ctx, env.Text, d.sessions.ContextWindow(sess), env.Language)
	d.emitter.Typing(env.SessionID, string(domain.RoleAssistant), false)
	if err != nil {
		d.log.Error().Err(err).Str("sessionId", env.SessionID).Str("provider", d.responder.Name()).Msg("responder failed")
		d.emitter.ChatResponse(env.SessionID,
			"Sorry, I could not process that. Please try again, or ask for a human agent.", 0)
		return
	}

	// The responder call may have outlived the conversation.
	if _, err := d.sessions.Get(ctx, env.SessionID); err != nil {
		d.log.Debug().Str("sessionId", env.SessionID).Msg("session gone, discarding responder reply")
		return
	}

	if reply.ShouldHandoff || reply.Confidence < d.confidenceThreshold {
		d.openTicket(ctx, sess, env, domain.TriggerLowConfidence, env.Text)
		return
	}

	if _, err := d.sessions.AddMessage(ctx, env.SessionID, domain.Message{
		Role:    domain.RoleAssistant,
		Content: reply.Content,
	}); err != nil {
		d.log.Warn().Err(err).Str("sessionId", env.SessionID).Msg("recording assistant reply")
		return
	}
	d.emitter.ChatResponse(env.SessionID, reply.Content, reply.Confidence)
}

// RequestAgent is the explicit "get me a human" operation.
func (d *Dispatcher) RequestAgent(ctx context.Context, ownerID, sessionID, reason string) (*domain.Ticket, error) {
	sess, err := d.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, session.ErrNotFound
	}
	return d.createTicket(ctx, sess, domain.TriggerUserRequest, reason, sess.Language)
}

func (d *Dispatcher) openTicket(ctx context.Context, sess *domain.Session, env envelope, trigger domain.HandoffTrigger, reason string) {
	if _, err := d.createTicket(ctx, sess, trigger, reason, env.Language); err != nil {
		d.log.Error().Err(err).Str("sessionId", env.SessionID).Msg("opening handoff ticket")
		d.emitter.ChatResponse(env.SessionID,
			"Sorry, I could not reach a human agent right now. Please try again.", 0)
	}
}

// createTicket opens the ticket, announces it, and immediately tries to
// place it with an agent.
func (d *Dispatcher) createTicket(ctx context.Context, sess *domain.Session, trigger domain.HandoffTrigger, reason, language string) (*domain.Ticket, error) {
	if language == "" {
		language = sess.Language
	}
	t, err := d.tickets.Create(ctx, ticket.CreateParams{
		OwnerID:   sess.OwnerID,
		SessionID: sess.ID,
		Trigger:   trigger,
		Reason:    reason,
		Language:  language,
		Context:   sess.Messages,
	})
	if err != nil {
		return nil, err
	}
	d.emitter.TicketCreated(t)

	d.offer(ctx, t)
	d.PublishQueueStats(ctx)

	// The offer may have placed it already; give the caller the fresh state.
	if fresh, err := d.tickets.Get(ctx, t.ID); err == nil {
		t = fresh
	}
	return t, nil
}

// offer tries to assign one waiting ticket to the best eligible agent.
func (d *Dispatcher) offer(ctx context.Context, t *domain.Ticket) {
	agents, err := d.pool.List(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("listing pool for assignment")
		return
	}
	cand := d.assigner.Select(agents, t)
	if cand == nil {
		return // stays waiting, the queue is priority-ordered
	}

	if _, err := d.pool.Reserve(ctx, cand.ID); err != nil {
		d.log.Debug().Err(err).Str("agentId", cand.ID).Msg("candidate no longer has capacity")
		return
	}
	assigned, err := d.tickets.Assign(ctx, t.ID, cand.ID)
	if err != nil {
		// Lost the race or the ticket moved on; give the slot back.
		if _, relErr := d.pool.Release(ctx, cand.ID); relErr != nil {
			d.log.Warn().Err(relErr).Str("agentId", cand.ID).Msg("releasing reserved slot")
		}
		if !errors.Is(err, ticket.ErrConflict) {
			d.log.Warn().Err(err).Str("ticketId", t.ID).Msg("assigning ticket")
		}
		return
	}
	d.emitter.TicketAssigned(assigned)
}

// AssignWaiting places as many waiting tickets as the pool can take, in
// priority order. Called when capacity appears: an agent joins, frees a
// slot, or comes back to available.
func (d *Dispatcher) AssignWaiting(ctx context.Context) {
	waiting, err := d.tickets.ListWaiting(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("listing waiting tickets")
		return
	}
	for _, t := range agentpool.OrderQueue(waiting) {
		before, err := d.tickets.Get(ctx, t.ID)
		if err != nil || before.Status != domain.TicketWaiting {
			continue
		}
		d.offer(ctx, t)
	}
	d.PublishQueueStats(ctx)
}

// PublishQueueStats pushes aggregate queue counts to the supervisor pool.
func (d *Dispatcher) PublishQueueStats(ctx context.Context) {
	open, err := d.tickets.Store().ListOpen(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("computing queue stats")
		return
	}

	stats := events.QueueStatsPayload{ByPriority: make(map[string]int)}
	for _, t := range open {
		switch t.Status {
		case domain.TicketWaiting:
			stats.Waiting++
			stats.ByPriority[string(t.Priority)]++
		case domain.TicketAssigned:
			stats.Assigned++
		}
	}

	agents, err := d.pool.List(ctx)
	if err == nil {
		for _, a := range agents {
			if a.Status == domain.AgentAvailable && a.HasCapacity() {
				stats.AvailableAgents++
			}
		}
	}
	d.emitter.QueueStats(stats)
}

// OpenSession resumes an existing conversation or starts a fresh one. A
// session id belonging to a different owner is treated as unknown.
func (d *Dispatcher) OpenSession(ctx context.Context, ownerID, sessionID, language string) (*domain.Session, error) {
	if sessionID != "" {
		sess, err := d.sessions.Get(ctx, sessionID)
		if err == nil {
			if sess.OwnerID != ownerID {
				return nil, session.ErrNotFound
			}
			if err := d.sessions.Extend(ctx, sessionID); err != nil {
				d.log.Warn().Err(err).Str("sessionId", sessionID).Msg("refreshing session on reconnect")
			}
			return sess, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	}
	return d.sessions.Create(ctx, ownerID, sessionID, language)
}

// Typing relays a typing indicator to everyone watching the conversation.
func (d *Dispatcher) Typing(sessionID, sender string, typing bool) {
	d.emitter.Typing(sessionID, sender, typing)
}

// ClientDisconnect tears down the conversation: the session dies and any
// still-waiting ticket from it is cancelled.
func (d *Dispatcher) ClientDisconnect(ctx context.Context, ownerID, sessionID string) {
	if err := d.sessions.Destroy(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		d.log.Warn().Err(err).Str("sessionId", sessionID).Msg("destroying session")
	}

	waiting, err := d.tickets.ListWaiting(ctx)
	if err != nil {
		return
	}
	for _, t := range waiting {
		if t.SessionID != sessionID || t.OwnerID != ownerID {
			continue
		}
		cancelled, err := d.tickets.Cancel(ctx, t.ID, "requester disconnected")
		if err != nil {
			d.log.Warn().Err(err).Str("ticketId", t.ID).Msg("cancelling ticket on disconnect")
			continue
		}
		d.emitter.TicketCancelled(cancelled)
	}
	d.PublishQueueStats(ctx)
}
