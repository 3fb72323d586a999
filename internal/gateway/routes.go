package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/relaydesk/relaydesk/internal/agentpool"
	"github.com/relaydesk/relaydesk/internal/dispatch"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/session"
	"github.com/relaydesk/relaydesk/internal/ticket"
)

// rpcTimeout bounds each RPC's backend work.
const rpcTimeout = 15 * time.Second

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all RPC method handlers. "connect" is not
// here: it is consumed by the handshake before the read loop starts.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)

	// Customer side
	s.Handle("chat.send", requireRole(RoleCustomer, s.rpcChatSend))
	s.Handle("chat.typing", s.rpcTyping)
	s.Handle("agent.request", requireRole(RoleCustomer, s.rpcAgentRequest))
	s.Handle("chat.end", requireRole(RoleCustomer, s.rpcChatEnd))
	s.Handle("feedback.submit", requireRole(RoleCustomer, s.rpcFeedbackSubmit))

	// Agent dashboard side
	s.Handle("status.update", requireRole(RoleDashboard, s.rpcStatusUpdate))
	s.Handle("heartbeat", requireRole(RoleDashboard, s.rpcHeartbeat))
	s.Handle("ticket.accept", requireRole(RoleDashboard, s.rpcTicketAccept))
	s.Handle("ticket.resolve", requireRole(RoleDashboard, s.rpcTicketResolve))
	s.Handle("ticket.transfer", requireRole(RoleDashboard, s.rpcTicketTransfer))
}

// requireRole rejects calls from the wrong kind of connection.
func requireRole(role string, h RequestHandler) RequestHandler {
	return func(rc *RequestContext) {
		if rc.Client.Role != role {
			rc.RespondError("forbidden", "method not available for this connection")
			return
		}
		h(rc)
	}
}

func rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), rpcTimeout)
}

// respondDomainError translates backend errors into wire error shapes.
func (rc *RequestContext) respondDomainError(err error) {
	switch {
	case errors.Is(err, dispatch.ErrRateLimited):
		rc.RespondErrorShape(ErrorShape{
			Code:      "rate_limited",
			Message:   "message rate limit exceeded",
			Retryable: true,
		})
	case errors.Is(err, session.ErrNotFound):
		rc.RespondError("session_not_found", "conversation session not found or expired")
	case errors.Is(err, ticket.ErrNotFound):
		rc.RespondError("ticket_not_found", "ticket not found")
	case errors.Is(err, ticket.ErrNotAssignee):
		rc.RespondError("not_assignee", "ticket is held by a different agent")
	case errors.Is(err, ticket.ErrConflict), errors.Is(err, ticket.ErrInvalidTransition):
		rc.RespondError("conflict", "ticket state changed, refresh and retry")
	case errors.Is(err, ticket.ErrNotRequester):
		rc.RespondError("forbidden", "ticket belongs to a different customer")
	case errors.Is(err, ticket.ErrNotResolved):
		rc.RespondError("not_resolved", "feedback is only accepted on resolved tickets")
	case errors.Is(err, ticket.ErrFeedbackExists):
		rc.RespondError("feedback_exists", "feedback was already submitted")
	case errors.Is(err, agentpool.ErrNoCapacity):
		rc.RespondError("no_capacity", "agent is at max concurrent chats")
	case errors.Is(err, agentpool.ErrNotFound):
		rc.RespondError("agent_not_found", "agent is not in the pool")
	default:
		rc.RespondError("internal_error", err.Error())
	}
}

// ticketSummary is the RPC-response view of a ticket.
type ticketSummary struct {
	TicketID   string               `json:"ticketId"`
	Status     domain.TicketStatus  `json:"status"`
	Priority   domain.PriorityLevel `json:"priority"`
	Department string               `json:"department,omitempty"`
	AgentID    string               `json:"agentId,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
}

func summarize(t *domain.Ticket) ticketSummary {
	return ticketSummary{
		TicketID:   t.ID,
		Status:     t.Status,
		Priority:   t.Priority,
		Department: t.Department,
		AgentID:    t.AssignedAgentID,
		CreatedAt:  t.CreatedAt,
	}
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
	})
}

type chatSendParams struct {
	Text string `json:"text"`
}

func (s *Server) rpcChatSend(rc *RequestContext) {
	var p chatSendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Text == "" {
		rc.RespondError("invalid_params", "text is required")
		return
	}
	if utf8.RuneCountInString(p.Text) > s.maxMessageLen {
		rc.RespondError("payload_too_large", "message exceeds the maximum length")
		return
	}

	ctx, cancel := rpcContext()
	defer cancel()

	if err := s.dispatcher.HandleMessage(ctx, rc.Client.OwnerID, rc.Client.SessionID, p.Text, ""); err != nil {
		rc.respondDomainError(err)
		return
	}
	rc.Respond(map[string]any{"accepted": true})
}

type typingParams struct {
	Typing bool `json:"typing"`

	// Dashboards must name the conversation; customers always type into
	// their own session.
	SessionID string `json:"sessionId,omitempty"`
}

func (s *Server) rpcTyping(rc *RequestContext) {
	var p typingParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	sessionID := rc.Client.SessionID
	sender := "user"
	if rc.Client.Role == RoleDashboard {
		sessionID = p.SessionID
		sender = "agent"
	}
	if sessionID == "" {
		rc.RespondError("invalid_params", "sessionId is required")
		return
	}

	s.dispatcher.Typing(sessionID, sender, p.Typing)
	rc.Respond(map[string]any{"ok": true})
}

type agentRequestParams struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) rpcAgentRequest(rc *RequestContext) {
	var p agentRequestParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	ctx, cancel := rpcContext()
	defer cancel()

	t, err := s.dispatcher.RequestAgent(ctx, rc.Client.OwnerID, rc.Client.SessionID, p.Reason)
	if err != nil {
		rc.respondDomainError(err)
		return
	}
	rc.Respond(summarize(t))
}

func (s *Server) rpcChatEnd(rc *RequestContext) {
	ctx, cancel := rpcContext()
	defer cancel()

	s.dispatcher.ClientDisconnect(ctx, rc.Client.OwnerID, rc.Client.SessionID)
	s.router.Leave(domain.SessionGroup(rc.Client.SessionID), rc.Client.ConnID)
	rc.Respond(map[string]any{"ended": true})
}

type feedbackParams struct {
	TicketID string `json:"ticketId"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment,omitempty"`
}

func (s *Server) rpcFeedbackSubmit(rc *RequestContext) {
	var p feedbackParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.TicketID == "" {
		rc.RespondError("invalid_params", "ticketId is required")
		return
	}
	if p.Rating < 1 || p.Rating > 5 {
		rc.RespondError("invalid_params", "rating must be between 1 and 5")
		return
	}

	ctx, cancel := rpcContext()
	defer cancel()

	t, err := s.dispatcher.SubmitFeedback(ctx, rc.Client.OwnerID, p.TicketID, p.Rating, p.Comment)
	if err != nil {
		rc.respondDomainError(err)
		return
	}
	rc.Respond(summarize(t))
}

type statusUpdateParams struct {
	Status string `json:"status"`
}

func (s *Server) rpcStatusUpdate(rc *RequestContext) {
	var p statusUpdateParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	status := domain.AgentStatus(p.Status)
	switch status {
	case domain.AgentAvailable, domain.AgentBusy, domain.AgentAway:
	default:
		rc.RespondError("invalid_params", "status must be available, busy, or away")
		return
	}

	ctx, cancel := rpcContext()
	defer cancel()

	if err := s.dispatcher.AgentStatus(ctx, rc.Client.AgentID, status); err != nil {
		rc.respondDomainError(err)
		return
	}
	rc.Respond(map[string]any{"status": status})
}

func (s *Server) rpcHeartbeat(rc *RequestContext) {
	ctx, cancel := rpcContext()
	defer cancel()

	if err := s.dispatcher.AgentHeartbeat(ctx, rc.Client.AgentID); err != nil {
		rc.respondDomainError(err)
		return
	}
	rc.Respond(map[string]any{"ok": true, "ts": time.Now().UnixMilli()})
}

type ticketIDParams struct {
	TicketID string `json:"ticketId"`
}

func (s *Server) rpcTicketAccept(rc *RequestContext) {
	var p ticketIDParams
	if err := rc.Params(&p); err != nil || p.TicketID == "" {
		rc.RespondError("invalid_params", "ticketId is required")
		return
	}

	ctx, cancel := rpcContext()
	defer cancel()

	t, err := s.dispatcher.AcceptTicket(ctx, p.TicketID, rc.Client.AgentID)
	if err != nil {
		rc.respondDomainError(err)
		return
	}

	// The accepting agent follows the conversation from here on.
	s.router.Join(domain.SessionGroup(t.SessionID), rc.Client)
	rc.Respond(summarize(t))
}

type ticketResolveParams struct {
	TicketID string `json:"ticketId"`
	Notes    string `json:"notes,omitempty"`
}

func (s *Server) rpcTicketResolve(rc *RequestContext) {
	var p ticketResolveParams
	if err := rc.Params(&p); err != nil || p.TicketID == "" {
		rc.RespondError("invalid_params", "ticketId is required")
		return
	}

	ctx, cancel := rpcContext()
	defer cancel()

	t, err := s.dispatcher.ResolveTicket(ctx, p.TicketID, rc.Client.AgentID, p.Notes)
	if err != nil {
		rc.respondDomainError(err)
		return
	}

	s.router.Leave(domain.SessionGroup(t.SessionID), rc.Client.ConnID)
	rc.Respond(summarize(t))
}

type ticketTransferParams struct {
	TicketID  string `json:"ticketId"`
	ToAgentID string `json:"toAgentId"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) rpcTicketTransfer(rc *RequestContext) {
	var p ticketTransferParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.TicketID == "" || p.ToAgentID == "" {
		rc.RespondError("invalid_params", "ticketId and toAgentId are required")
		return
	}

	ctx, cancel := rpcContext()
	defer cancel()

	t, err := s.dispatcher.TransferTicket(ctx, p.TicketID, rc.Client.AgentID, p.ToAgentID, p.Reason)
	if err != nil {
		rc.respondDomainError(err)
		return
	}

	s.router.Leave(domain.SessionGroup(t.SessionID), rc.Client.ConnID)
	rc.Respond(summarize(t))
}
