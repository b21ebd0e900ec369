package wsgateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/chat-server/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenValidator accepts the tokens added to it
type tokenValidator struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func (v *tokenValidator) add(token, userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = userID
}

func (v *tokenValidator) Authenticate(ctx context.Context, token, claimedUserID string) (string, error) {
	v.mu.RLock()
	userID, ok := v.tokens[token]
	v.mu.RUnlock()
	if !ok {
		return "", errors.New("unknown token")
	}
	if claimedUserID != "" && claimedUserID != userID {
		return "", errors.New("user mismatch")
	}
	return userID, nil
}

type hubFixture struct {
	*routerFixture
	hub    *Hub
	server *httptest.Server
	tokens *tokenValidator
}

func newHubFixture(t *testing.T, maxConnections int) *hubFixture {
	t.Helper()
	rf := newRouterFixture(t)
	tokens := &tokenValidator{tokens: make(map[string]string)}

	hub := NewHub(config.ServerConfig{
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    time.Second,
		PingInterval:    time.Second,
		MaxConnections:  maxConnections,
		MaxMessageSize:  4096,
		SendQueueSize:   16,
		DispatchTimeout: time.Second,
	}, rf.registry, rf.router, tokens)
	require.NoError(t, hub.Start())

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)
	t.Cleanup(hub.Stop)

	return &hubFixture{routerFixture: rf, hub: hub, server: server, tokens: tokens}
}

// account creates a user whose token is "tok-<username>"
func (f *hubFixture) account(t *testing.T, username string) string {
	t.Helper()
	u := f.user(t, username)
	f.tokens.add("tok-"+username, u.ID)
	return u.ID
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// login dials and authenticates as username
func (f *hubFixture) login(t *testing.T, username string) *websocket.Conn {
	t.Helper()
	c := f.dial(t)
	write(t, c, `{"type":"auth","token":"tok-`+username+`"}`)
	env := read(t, c)
	require.Equal(t, TypeAuthSuccess, env.Type, "auth reply: %v", env.Fields)
	return c
}

func write(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func read(t *testing.T, c *websocket.Conn) *Envelope {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	env, err := Decode(data)
	require.NoError(t, err)
	return env
}

func TestHub_RequiresAuthentication(t *testing.T) {
	f := newHubFixture(t, 0)
	aliceID := f.account(t, "alice")
	c := f.dial(t)

	write(t, c, `{"type":"send_message","recipient_id":"x","content":"hi"}`)
	env := read(t, c)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, MsgNotAuthenticated, env.Fields["message"])

	// Connection stays open and auth can still succeed
	write(t, c, `{"type":"auth","token":"tok-alice"}`)
	env = read(t, c)
	assert.Equal(t, TypeAuthSuccess, env.Type)
	assert.Equal(t, aliceID, env.Fields["user_id"])

	assert.Eventually(t, func() bool { return f.registry.IsOnline(aliceID) }, time.Second, 10*time.Millisecond)
}

func TestHub_AuthFailures(t *testing.T) {
	f := newHubFixture(t, 0)
	f.account(t, "alice")
	c := f.dial(t)

	write(t, c, `{"type":"auth","token":"forged"}`)
	assert.Equal(t, MsgAuthFailed, read(t, c).Fields["message"])

	write(t, c, `{"type":"auth","user_id":"alice"}`)
	assert.Equal(t, "Missing required field: token", read(t, c).Fields["message"])

	write(t, c, `{"type":"auth","token":"tok-alice"}`)
	assert.Equal(t, TypeAuthSuccess, read(t, c).Type)

	write(t, c, `{"type":"auth","token":"tok-alice"}`)
	assert.Equal(t, MsgAlreadyAuthenticated, read(t, c).Fields["message"])

	stats := f.hub.GetStats()
	assert.Equal(t, int64(2), stats.AuthFailed)
	assert.Equal(t, int64(1), stats.AuthSucceeded)
}

func TestHub_InvalidFrames(t *testing.T) {
	f := newHubFixture(t, 0)
	c := f.dial(t)

	for _, raw := range []string{`not json`, `[1]`, `{"token":"x"}`} {
		write(t, c, raw)
		env := read(t, c)
		assert.Equal(t, TypeError, env.Type)
		assert.Equal(t, MsgInvalidFormat, env.Fields["message"])
	}

	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, []byte{0x01}))
	assert.Equal(t, MsgInvalidFormat, read(t, c).Fields["message"])

	assert.Equal(t, int64(4), f.hub.GetStats().FramesInvalid)
}

func TestHub_DirectMessageExchange(t *testing.T) {
	f := newHubFixture(t, 0)
	aliceID := f.account(t, "alice")
	bobID := f.account(t, "bob")

	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	write(t, alice, `{"type":"send_message","recipient_id":"`+bobID+`","content":"hi bob"}`)

	sent := read(t, alice)
	assert.Equal(t, TypeMessageSent, sent.Type)

	received := read(t, bob)
	assert.Equal(t, TypeNewMessage, received.Type)
	assert.Equal(t, aliceID, received.Fields["sender_id"])
	assert.Equal(t, "hi bob", received.Fields["content"])
	assert.Equal(t, sent.Fields["message_id"], received.Fields["message_id"])

	// Unknown types get no reply; the next frame is answered in order
	write(t, bob, `{"type":"teleport"}`)
	write(t, bob, `{"type":"ping"}`)
	assert.Equal(t, TypePong, read(t, bob).Type)
}

func TestHub_SecondLoginReplacesSession(t *testing.T) {
	f := newHubFixture(t, 0)
	aliceID := f.account(t, "alice")
	f.account(t, "bob")

	first := f.login(t, "alice")
	second := f.login(t, "alice")

	env := read(t, first)
	assert.Equal(t, TypeSessionReplaced, env.Type)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// The replaced connection's close must not evict the new session
	assert.Eventually(t, func() bool { return f.hub.ConnectionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.registry.IsOnline(aliceID))

	bob := f.login(t, "bob")
	write(t, bob, `{"type":"send_message","recipient_id":"`+aliceID+`","content":"still there?"}`)
	assert.Equal(t, TypeMessageSent, read(t, bob).Type)
	assert.Equal(t, TypeNewMessage, read(t, second).Type)

	assert.Equal(t, int64(1), f.hub.GetStats().SessionsReplaced)
}

func TestHub_DisconnectLeavesRegistry(t *testing.T) {
	f := newHubFixture(t, 0)
	aliceID := f.account(t, "alice")

	c := f.login(t, "alice")
	require.True(t, f.registry.IsOnline(aliceID))

	c.Close()
	assert.Eventually(t, func() bool { return !f.registry.IsOnline(aliceID) }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsOverCapacity(t *testing.T) {
	f := newHubFixture(t, 2)
	f.dial(t)
	f.dial(t)
	require.Eventually(t, func() bool { return f.hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_StopClosesConnections(t *testing.T) {
	f := newHubFixture(t, 0)
	f.account(t, "alice")
	c := f.login(t, "alice")

	f.hub.Stop()

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, f.hub.ConnectionCount())
	assert.Equal(t, 0, f.registry.Count())
}

func TestHub_CloseStaleUsesReadTimeout(t *testing.T) {
	hub := NewHub(config.ServerConfig{ReadTimeout: time.Second}, NewSessionRegistry(), nil, nil)
	now := time.Now()

	track := func(id string, lastPong time.Time) *Connection {
		conn := NewConnection(id, nil, 4)
		conn.lastPong = lastPong
		conn.onClose = hub.handleClose
		hub.conns[id] = conn
		return conn
	}
	stale := track("stale", now.Add(-1500*time.Millisecond))
	fresh := track("fresh", now.Add(-500*time.Millisecond))

	assert.Equal(t, 1, hub.closeStale(now))
	assert.Equal(t, StateClosed, stale.State())
	assert.Equal(t, StateAccepted, fresh.State())
	assert.Equal(t, 1, hub.ConnectionCount())
}

func TestHub_CheckOrigin(t *testing.T) {
	hub := NewHub(config.ServerConfig{AllowedOrigins: []string{"https://chat.example.com"}}, NewSessionRegistry(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.checkOrigin(req))
}
