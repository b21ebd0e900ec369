package wsgateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/chat-server/internal/config"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
)

// Hub accepts WebSocket connections and drives their read and write pumps
type Hub struct {
	config   config.ServerConfig
	registry *SessionRegistry
	router   *Router
	auth     AuthValidator
	upgrader websocket.Upgrader

	conns   map[string]*Connection // connection ID -> connection, authenticated or not
	connsMu sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	stats   hubCounters
}

// HubStats holds statistics about the hub
type HubStats struct {
	ConnectionsTotal  int64     `json:"connections_total"`
	ConnectionsActive int64     `json:"connections_active"`
	SessionsOnline    int64     `json:"sessions_online"`
	AuthSucceeded     int64     `json:"auth_succeeded"`
	AuthFailed        int64     `json:"auth_failed"`
	SessionsReplaced  int64     `json:"sessions_replaced"`
	FramesReceived    int64     `json:"frames_received"`
	FramesInvalid     int64     `json:"frames_invalid"`
	LastFrameTime     time.Time `json:"last_frame_time"`
}

type hubCounters struct {
	mu sync.Mutex
	HubStats
}

// NewHub creates a new WebSocket hub
func NewHub(cfg config.ServerConfig, registry *SessionRegistry, router *Router, auth AuthValidator) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		config:   cfg,
		registry: registry,
		router:   router,
		auth:     auth,
		conns:    make(map[string]*Connection),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Start starts the connection health monitor
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	logger.Info("Starting WebSocket hub",
		logger.Int("max_connections", h.config.MaxConnections),
		logger.Int("send_queue_size", h.config.SendQueueSize),
	)

	h.wg.Add(1)
	go h.monitorConnections()

	return nil
}

// Stop closes every connection and waits for their pumps to exit.
// Queued envelopes are flushed before the close frame.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping WebSocket hub", logger.Int("connections", h.ConnectionCount()))
	h.cancel()

	for _, conn := range h.snapshot() {
		conn.CloseGracefully()
	}

	h.wg.Wait()
	logger.Info("WebSocket hub stopped")
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// ServeWS upgrades the request and starts the connection's pumps
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.isRunning() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.atCapacity() {
		connectionsRejectedTotal.WithLabelValues("capacity").Inc()
		logger.Warn("Rejecting connection, at capacity",
			logger.Int("max_connections", h.config.MaxConnections),
			logger.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		connectionsRejectedTotal.WithLabelValues("upgrade").Inc()
		logger.Debug("Failed to upgrade connection",
			logger.ErrorField(err),
			logger.String("remote_addr", r.RemoteAddr),
		)
		return
	}

	conn := NewConnection(uuid.NewString(), ws, h.config.SendQueueSize)
	h.Register(conn)
}

// Register adds an accepted connection and starts its pumps
func (h *Hub) Register(conn *Connection) {
	conn.onClose = h.handleClose

	h.connsMu.Lock()
	h.conns[conn.ID] = conn
	count := len(h.conns)
	h.connsMu.Unlock()

	connectionsTotal.Inc()
	connectionsActive.Inc()
	h.stats.mu.Lock()
	h.stats.ConnectionsTotal++
	h.stats.mu.Unlock()

	logger.Info("Connection accepted",
		logger.ConnID(conn.ID),
		logger.Int("total_connections", count),
	)

	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)
}

// handleClose runs once per connection, from Connection.shutdown
func (h *Hub) handleClose(conn *Connection, userID string, wasAuthenticated bool) {
	h.connsMu.Lock()
	delete(h.conns, conn.ID)
	count := len(h.conns)
	h.connsMu.Unlock()

	if wasAuthenticated {
		h.registry.LeaveIf(userID, conn)
	}
	connectionsActive.Dec()

	logger.Info("Connection closed",
		logger.ConnID(conn.ID),
		logger.UserID(userID),
		logger.Duration("age", conn.Age()),
		logger.Int("total_connections", count),
	)
}

func (h *Hub) atCapacity() bool {
	if h.config.MaxConnections <= 0 {
		return false
	}
	return h.ConnectionCount() >= h.config.MaxConnections
}

// checkOrigin allows any origin when none are configured
func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// writePump is the only goroutine that writes to the socket
func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer conn.Close()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-conn.send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				// Queue closed and drained
				conn.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Conn.Close()
				return
			}

			// One envelope per frame
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("Write failed",
					logger.ErrorField(err),
					logger.ConnID(conn.ID),
				)
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames in order and handles each one before reading the next
func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer conn.Close()

	if h.config.MaxMessageSize > 0 {
		conn.Conn.SetReadLimit(h.config.MaxMessageSize)
	}
	conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		conn.Conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
		return nil
	})

	conn.startReading()

	for {
		messageType, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket read error",
					logger.ErrorField(err),
					logger.ConnID(conn.ID),
				)
			}
			return
		}

		if messageType != websocket.TextMessage {
			h.reject(conn, "binary")
			continue
		}
		h.handleFrame(conn, data)
	}
}

// handleFrame decodes one inbound frame and routes it by connection state
func (h *Hub) handleFrame(conn *Connection, data []byte) {
	h.stats.mu.Lock()
	h.stats.FramesReceived++
	h.stats.LastFrameTime = time.Now()
	h.stats.mu.Unlock()

	env, err := Decode(data)
	if err != nil {
		logger.Debug("Invalid frame",
			logger.ErrorField(err),
			logger.ConnID(conn.ID),
		)
		h.reject(conn, "decode")
		return
	}

	state := conn.State()
	switch {
	case state == StateClosed:
		return
	case env.Type == TypeAuth && state == StateAuthenticated:
		conn.Send(ErrorEnvelope(MsgAlreadyAuthenticated))
	case env.Type == TypeAuth:
		h.authenticate(conn, env)
	case state != StateAuthenticated:
		conn.Send(ErrorEnvelope(MsgNotAuthenticated))
	default:
		h.router.Dispatch(conn, conn.UserID(), env)
	}
}

func (h *Hub) reject(conn *Connection, reason string) {
	envelopesInvalidTotal.WithLabelValues(reason).Inc()
	h.stats.mu.Lock()
	h.stats.FramesInvalid++
	h.stats.mu.Unlock()
	conn.Send(ErrorEnvelope(MsgInvalidFormat))
}

// authenticate resolves the credential, joins the registry and confirms with auth_success
func (h *Hub) authenticate(conn *Connection, env *Envelope) {
	var req AuthRequest
	if err := DecodeRequest(env, &req); err != nil {
		h.authFailed()
		var missing *MissingFieldError
		if errors.As(err, &missing) {
			conn.Send(ErrorEnvelope(missing.Error()))
			return
		}
		conn.Send(ErrorEnvelope(MsgInvalidFormat))
		return
	}

	ctx, cancel := context.WithTimeout(logger.WithConnID(context.Background(), conn.ID), h.config.DispatchTimeout)
	defer cancel()

	userID, err := h.auth.Authenticate(ctx, req.Secret(), req.UserID)
	if err != nil {
		h.authFailed()
		logger.WithContext(ctx).Info("Authentication failed",
			logger.ErrorField(err),
			logger.String("claimed_user_id", req.UserID),
		)
		conn.Send(ErrorEnvelope(MsgAuthFailed))
		return
	}

	if !conn.authenticate(userID) {
		// Closed while the credential was checked
		return
	}

	if displaced := h.registry.Join(userID, conn); displaced != nil && displaced != Session(conn) {
		authAttemptsTotal.WithLabelValues("replaced").Inc()
		h.stats.mu.Lock()
		h.stats.SessionsReplaced++
		h.stats.mu.Unlock()

		logger.Info("Session replaced by a new connection",
			logger.UserID(userID),
			logger.ConnID(conn.ID),
		)
		displaced.Send(SessionReplaced())
		displaced.CloseGracefully()
	}

	// A close that raced with Join found no entry to remove
	if conn.State() == StateClosed {
		h.registry.LeaveIf(userID, conn)
		return
	}

	authAttemptsTotal.WithLabelValues("success").Inc()
	h.stats.mu.Lock()
	h.stats.AuthSucceeded++
	h.stats.mu.Unlock()

	logger.Info("Connection authenticated",
		logger.ConnID(conn.ID),
		logger.UserID(userID),
	)
	conn.Send(AuthSuccess(userID))
}

func (h *Hub) authFailed() {
	authAttemptsTotal.WithLabelValues("failure").Inc()
	h.stats.mu.Lock()
	h.stats.AuthFailed++
	h.stats.mu.Unlock()
}

// monitorConnections closes connections that stopped answering pings
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			h.closeStale(time.Now())
		}
	}
}

// closeStale closes connections with no pong for longer than ReadTimeout.
// It catches peers whose read deadline did not fire.
func (h *Hub) closeStale(now time.Time) int {
	closed := 0
	for _, conn := range h.snapshot() {
		idle := now.Sub(conn.GetLastPong())
		if idle <= h.config.ReadTimeout {
			continue
		}
		logger.Info("Removing stale connection",
			logger.ConnID(conn.ID),
			logger.UserID(conn.UserID()),
			logger.Duration("idle_time", idle),
		)
		conn.Close()
		closed++
	}
	return closed
}

func (h *Hub) snapshot() []*Connection {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()

	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}

// ConnectionCount returns the number of open connections
func (h *Hub) ConnectionCount() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns)
}

// GetStats returns hub statistics
func (h *Hub) GetStats() HubStats {
	h.stats.mu.Lock()
	stats := h.stats.HubStats
	h.stats.mu.Unlock()

	stats.ConnectionsActive = int64(h.ConnectionCount())
	stats.SessionsOnline = int64(h.registry.Count())
	return stats
}
