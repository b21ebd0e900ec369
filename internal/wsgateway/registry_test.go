package wsgateway

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records what it was sent
type fakeSession struct {
	mu       sync.Mutex
	sent     []*Envelope
	closed   bool
	graceful bool
	err      error
}

func (s *fakeSession) Send(env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return ErrConnectionClosed
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSession) CloseGracefully() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graceful = true
}

func (s *fakeSession) envelopes() []*Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Envelope(nil), s.sent...)
}

func (s *fakeSession) last() *Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return nil
	}
	return s.sent[len(s.sent)-1]
}

// recordingObserver records presence transitions
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) SessionJoined(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "+"+userID)
}

func (o *recordingObserver) SessionLeft(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "-"+userID)
}

func (o *recordingObserver) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func TestSessionRegistry_JoinLeave(t *testing.T) {
	observer := &recordingObserver{}
	registry := NewSessionRegistry(observer)
	session := &fakeSession{}

	assert.False(t, registry.IsOnline("user-1"))

	displaced := registry.Join("user-1", session)
	assert.Nil(t, displaced)
	assert.True(t, registry.IsOnline("user-1"))
	assert.Equal(t, 1, registry.Count())

	got, ok := registry.Get("user-1")
	require.True(t, ok)
	assert.Same(t, session, got)

	registry.Leave("user-1")
	assert.False(t, registry.IsOnline("user-1"))
	assert.Equal(t, 0, registry.Count())

	// No-op when absent
	registry.Leave("user-1")

	assert.Equal(t, []string{"+user-1", "-user-1"}, observer.list())
}

func TestSessionRegistry_JoinReplaces(t *testing.T) {
	observer := &recordingObserver{}
	registry := NewSessionRegistry(observer)
	first, second := &fakeSession{}, &fakeSession{}

	registry.Join("user-1", first)
	displaced := registry.Join("user-1", second)

	assert.Same(t, first, displaced)
	assert.Equal(t, 1, registry.Count())

	got, _ := registry.Get("user-1")
	assert.Same(t, second, got)

	// Replacement is not a presence transition
	assert.Equal(t, []string{"+user-1"}, observer.list())
}

func TestSessionRegistry_LeaveIfKeepsNewerSession(t *testing.T) {
	registry := NewSessionRegistry()
	old, current := &fakeSession{}, &fakeSession{}

	registry.Join("user-1", old)
	registry.Join("user-1", current)

	// The displaced session closing must not evict its replacement
	assert.False(t, registry.LeaveIf("user-1", old))
	assert.True(t, registry.IsOnline("user-1"))

	assert.True(t, registry.LeaveIf("user-1", current))
	assert.False(t, registry.IsOnline("user-1"))
	assert.False(t, registry.LeaveIf("user-1", current))
}

func TestSessionRegistry_Send(t *testing.T) {
	registry := NewSessionRegistry()
	session := &fakeSession{}
	registry.Join("user-1", session)

	assert.True(t, registry.Send("user-1", Pong()))
	require.Len(t, session.envelopes(), 1)
	assert.Equal(t, TypePong, session.last().Type)

	// Offline: silently dropped
	assert.False(t, registry.Send("user-2", Pong()))

	// Refused by the session
	session.err = ErrQueueFull
	assert.False(t, registry.Send("user-1", Pong()))
}

func TestSessionRegistry_SendToClosingConnection(t *testing.T) {
	registry := NewSessionRegistry()
	conn := NewConnection("conn-1", nil, 1)
	conn.startReading()
	require.True(t, conn.authenticate("user-1"))
	conn.onClose = func(c *Connection, userID string, wasAuthenticated bool) {
		registry.LeaveIf(userID, c)
	}
	registry.Join("user-1", conn)

	assert.True(t, registry.Send("user-1", Pong()))

	// Overflow closes the connection, which leaves the registry
	assert.False(t, registry.Send("user-1", Pong()))
	assert.False(t, registry.IsOnline("user-1"))
}

func TestSessionRegistry_OnlineUsers(t *testing.T) {
	registry := NewSessionRegistry()
	registry.Join("carol", &fakeSession{})
	registry.Join("alice", &fakeSession{})
	registry.Join("bob", &fakeSession{})

	assert.Equal(t, []string{"alice", "bob", "carol"}, registry.OnlineUsers())
}

func TestSessionRegistry_Concurrent(t *testing.T) {
	observer := &recordingObserver{}
	registry := NewSessionRegistry(observer)

	const users = 50
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		userID := fmt.Sprintf("user-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				session := &fakeSession{}
				registry.Join(userID, session)
				registry.Send(userID, Pong())
				registry.IsOnline(userID)
				registry.LeaveIf(userID, session)
			}
			registry.Join(userID, &fakeSession{})
		}()
	}
	wg.Wait()

	assert.Equal(t, users, registry.Count())

	// Every user joined and left alternately, ending online
	perUser := make(map[string]int)
	for _, e := range observer.list() {
		if e[0] == '+' {
			perUser[e[1:]]++
		} else {
			perUser[e[1:]]--
		}
	}
	for i := 0; i < users; i++ {
		assert.Equal(t, 1, perUser[fmt.Sprintf("user-%d", i)])
	}
}
