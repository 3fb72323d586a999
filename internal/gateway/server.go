package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/dispatch"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/events"
	"github.com/relaydesk/relaydesk/internal/logging"
	"github.com/relaydesk/relaydesk/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

// defaultMaxMessageLen caps inbound chat text when no limit is configured.
const defaultMaxMessageLen = 4000

// Server is the relaydesk HTTP + WebSocket gateway.
type Server struct {
	cfg        config.Config
	auth       ResolvedAuth
	log        *logging.Logger
	clients    *ClientRegistry
	handlers   map[string]RequestHandler
	dispatcher *dispatch.Dispatcher
	router     *events.Router
	version    string

	maxMessageLen int

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// authRateLimiter tracks failed auth attempts per IP to prevent brute-force attacks.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000 // max tracked IPs to prevent memory exhaustion
)

func newAuthRateLimiter() *authRateLimiter {
	rl := &authRateLimiter{failures: make(map[string][]time.Time)}
	go rl.periodicCleanup()
	return rl
}

// periodicCleanup removes stale entries every minute.
func (l *authRateLimiter) periodicCleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-authRateWindow)
		for ip, times := range l.failures {
			filtered := times[:0]
			for _, t := range times {
				if t.After(cutoff) {
					filtered = append(filtered, t)
				}
			}
			if len(filtered) == 0 {
				delete(l.failures, ip)
			} else {
				l.failures[ip] = filtered
			}
		}
		l.mu.Unlock()
	}
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-authRateWindow)
	recent := l.failures[host]
	filtered := recent[:0]
	for _, t := range recent {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		delete(l.failures, host)
		return true
	}
	l.failures[host] = filtered
	return len(filtered) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host, _, _ := net.SplitHostPort(remoteAddr)
	if host == "" {
		host = remoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Enforce max entries cap to prevent memory exhaustion from DDoS
	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldestTime time.Time
		for ip, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldestTime)) {
				oldestIP = ip
				oldestTime = times[0]
			}
		}
		if oldestIP != "" {
			delete(l.failures, oldestIP)
		}
	}

	l.failures[host] = append(l.failures[host], time.Now())
}

// New creates a gateway server wired to the dispatcher and event router.
func New(cfg config.Config, dispatcher *dispatch.Dispatcher, router *events.Router, log *logging.Logger) *Server {
	maxLen := cfg.Gateway.MaxMessageLen
	if maxLen <= 0 {
		maxLen = defaultMaxMessageLen
	}

	s := &Server{
		cfg:           cfg,
		auth:          ResolveAuth(cfg.Gateway.Auth),
		log:           log.Sub("gateway"),
		clients:       NewClientRegistry(log.Sub("clients")),
		handlers:      make(map[string]RequestHandler),
		dispatcher:    dispatcher,
		router:        router,
		version:       version.Version,
		maxMessageLen: maxLen,
		authLimiter:   newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	s.registerRPCHandlers()
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the list of registered RPC method names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)

	handler := withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Rate-limit connection attempts per IP
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited — too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn.SetReadLimit(1024 * 1024) // 1MB frame cap

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new websocket connection")

	client, err := s.handshake(r.Context(), conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		s.authLimiter.recordFailure(conn.RemoteAddr().String())
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer s.teardown(client)

	s.readLoop(client)
}

// handshake performs the WebSocket authentication handshake.
// Flow: server sends challenge, client sends connect, server validates and
// sends hello-ok. The role decides what gets set up: customers open a
// conversation session, dashboards join the agent pool.
func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	// Send challenge
	nonce := uuid.New().String()
	challenge, err := NewEvent("connect.challenge", map[string]any{
		"nonce": nonce,
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	// Read connect request
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}

	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}

	authResult := Authorize(s.auth, params.Auth)
	if !authResult.OK {
		sendErrorAndClose(conn, frame.ID, "unauthorized", authResult.Reason)
		return nil, fmt.Errorf("auth failed: %s", authResult.Reason)
	}

	role := params.Role
	if role == "" {
		role = RoleCustomer
	}

	client := NewClient(conn, role, s.log.Sub("ws"))

	switch role {
	case RoleCustomer:
		if err := s.connectCustomer(ctx, client, params.Customer); err != nil {
			sendErrorAndClose(conn, frame.ID, "invalid_params", err.Error())
			return nil, err
		}
	case RoleDashboard:
		if err := s.connectDashboard(ctx, client, params.Agent); err != nil {
			sendErrorAndClose(conn, frame.ID, "invalid_params", err.Error())
			return nil, err
		}
	default:
		sendErrorAndClose(conn, frame.ID, "invalid_params", "unknown role: "+role)
		return nil, fmt.Errorf("unknown role %q", role)
	}

	// Clear the read deadline for post-handshake
	conn.SetReadDeadline(time.Time{})

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events: []string{
				domain.EventChatResponse, domain.EventTyping,
				domain.EventRateLimitExceeded, domain.EventTicketCreated,
				domain.EventTicketAssigned, domain.EventTicketResolved,
				domain.EventTicketEscalated, domain.EventTicketCancelled,
				domain.EventQueueUpdate, domain.EventSLAWarning,
				domain.EventSLABreach, domain.EventAgentJoined,
			},
		},
		Policy: ServerPolicy{
			MaxMessageLen:     s.maxMessageLen,
			MaxPayload:        1024 * 1024,
			SessionTTLSeconds: s.cfg.Session.TTLMinutes * 60,
		},
		SessionID: client.SessionID,
	}

	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("role", role).
		Str("authMethod", authResult.Method).
		Msg("client authenticated")

	return client, nil
}

// connectCustomer opens (or resumes) the conversation session and joins the
// connection to its event groups.
func (s *Server) connectCustomer(ctx context.Context, client *Client, hello *CustomerHello) error {
	if hello == nil || hello.OwnerID == "" {
		return errors.New("customer.ownerId is required")
	}

	sess, err := s.dispatcher.OpenSession(ctx, hello.OwnerID, hello.SessionID, hello.Language)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	client.OwnerID = hello.OwnerID
	client.SessionID = sess.ID

	s.router.Join(domain.SessionGroup(sess.ID), client)
	s.router.Join(domain.OwnerGroup(hello.OwnerID), client)
	return nil
}

// connectDashboard puts the agent into the availability pool and joins the
// connection to its event groups.
func (s *Server) connectDashboard(ctx context.Context, client *Client, hello *AgentHello) error {
	if hello == nil || hello.AgentID == "" {
		return errors.New("agent.agentId is required")
	}

	agent := &domain.Agent{
		ID:                 hello.AgentID,
		Name:               hello.Name,
		Role:               domain.AgentRole(hello.Role),
		Department:         hello.Department,
		Languages:          hello.Languages,
		Skills:             hello.Skills,
		MaxConcurrentChats: hello.MaxConcurrentChats,
	}

	// Group membership first: the join announcement and any immediate
	// assignment must reach this connection.
	client.AgentID = hello.AgentID
	if hello.Department != "" {
		s.router.Join(domain.DepartmentGroup(hello.Department), client)
	}
	if agent.Role == domain.RoleSupervisor {
		s.router.Join(domain.GroupSupervisors, client)
	}
	s.router.Join(domain.AgentGroup(hello.AgentID), client)

	if err := s.dispatcher.AgentJoin(ctx, agent); err != nil {
		s.router.LeaveAll(client.ConnID)
		return fmt.Errorf("joining agent pool: %w", err)
	}
	return nil
}

// teardown runs when a connection's read loop exits for any reason.
func (s *Server) teardown(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch client.Role {
	case RoleCustomer:
		s.dispatcher.ClientDisconnect(ctx, client.OwnerID, client.SessionID)
	case RoleDashboard:
		if err := s.dispatcher.AgentLeave(ctx, client.AgentID); err != nil {
			s.log.Warn().Err(err).Str("agentId", client.AgentID).Msg("removing agent on disconnect")
		}
	}

	s.router.LeaveAll(client.ConnID)
	s.clients.Remove(client.ConnID)
	client.Close()
}

// readLoop processes incoming frames from an authenticated client.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		s.dispatch(client, frame)
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	rc := &RequestContext{
		Client: client,
		Frame:  frame,
		Server: s,
	}

	handler(rc)
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	errFrame := NewErrorResponse(reqID, ErrorShape{
		Code:    code,
		Message: message,
	})
	conn.WriteJSON(errFrame)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
