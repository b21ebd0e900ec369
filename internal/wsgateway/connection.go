package wsgateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
)

var (
	// ErrConnectionClosed is returned by Send after the connection closed
	ErrConnectionClosed = errors.New("connection closed")

	// ErrQueueFull is returned by Send when the peer is not draining its queue;
	// the connection is closed as a slow consumer
	ErrQueueFull = errors.New("send queue full")
)

// ConnState is the lifecycle state of a Connection
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAccepted
	StateUnauthenticated
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAccepted:
		return "accepted"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection represents a WebSocket connection with a client
type Connection struct {
	ID   string
	Conn *websocket.Conn

	send      chan []byte
	mu        sync.RWMutex
	state     ConnState
	userID    string
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	lastPong  time.Time
	createdAt time.Time

	// onClose runs once, after the state became Closed
	onClose func(conn *Connection, userID string, wasAuthenticated bool)
}

// NewConnection wraps an upgraded WebSocket connection
func NewConnection(id string, conn *websocket.Conn, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:        id,
		Conn:      conn,
		send:      make(chan []byte, queueSize),
		state:     StateAccepted,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
		lastPong:  time.Now(),
	}
}

// State returns the current lifecycle state
func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UserID returns the authenticated user, empty before authentication
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Context is cancelled when the connection closes
func (c *Connection) Context() context.Context {
	return c.ctx
}

// startReading moves Accepted to Unauthenticated
func (c *Connection) startReading() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAccepted {
		c.state = StateUnauthenticated
	}
}

// authenticate binds the connection to userID; false unless Unauthenticated
func (c *Connection) authenticate(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnauthenticated {
		return false
	}
	c.state = StateAuthenticated
	c.userID = userID
	return true
}

// Send encodes and enqueues an envelope. It never blocks on the network.
func (c *Connection) Send(env *Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	if err := c.SendRaw(data); err != nil {
		return err
	}
	envelopesOutTotal.WithLabelValues(string(env.Type)).Inc()
	return nil
}

// SendRaw enqueues an encoded frame
func (c *Connection) SendRaw(data []byte) error {
	c.mu.RLock()
	if c.state == StateClosed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		c.mu.RUnlock()
		return nil
	default:
	}
	userID := c.userID
	c.mu.RUnlock()

	slowConsumerTotal.Inc()
	logger.Warn("Send queue full, closing slow consumer",
		logger.ConnID(c.ID),
		logger.UserID(userID),
		logger.Int("queue_size", cap(c.send)),
	)
	c.Close()
	return ErrQueueFull
}

// Close closes the connection immediately. Safe to call more than once.
func (c *Connection) Close() {
	c.shutdown(true)
}

// CloseGracefully stops accepting sends and lets the write pump flush
// what is already queued before it sends a close frame.
func (c *Connection) CloseGracefully() {
	c.shutdown(false)
}

func (c *Connection) shutdown(immediate bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasAuthenticated := c.state == StateAuthenticated
		userID := c.userID
		c.state = StateClosed
		close(c.send)
		c.mu.Unlock()

		c.cancel()
		if immediate && c.Conn != nil {
			c.Conn.Close()
		}

		if c.onClose != nil {
			c.onClose(c, userID, wasAuthenticated)
		}
	})
}

// UpdateLastPong updates the last pong time
func (c *Connection) UpdateLastPong() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPong = time.Now()
}

// GetLastPong returns the last pong time
func (c *Connection) GetLastPong() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPong
}

// Age returns how long the connection has been open
func (c *Connection) Age() time.Duration {
	return time.Since(c.createdAt)
}
