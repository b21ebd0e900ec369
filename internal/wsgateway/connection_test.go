package wsgateway

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain reads everything queued on a closed connection
func drain(t *testing.T, conn *Connection) []string {
	t.Helper()
	var types []string
	for data := range conn.send {
		env, err := Decode(data)
		require.NoError(t, err)
		types = append(types, string(env.Type))
	}
	return types
}

func TestConnection_StateMachine(t *testing.T) {
	conn := NewConnection("conn-1", nil, 4)
	assert.Equal(t, StateAccepted, conn.State())

	// Cannot authenticate before the read loop starts
	assert.False(t, conn.authenticate("user-1"))

	conn.startReading()
	assert.Equal(t, StateUnauthenticated, conn.State())

	assert.True(t, conn.authenticate("user-1"))
	assert.Equal(t, StateAuthenticated, conn.State())
	assert.Equal(t, "user-1", conn.UserID())

	// Only once
	assert.False(t, conn.authenticate("user-2"))
	assert.Equal(t, "user-1", conn.UserID())

	conn.Close()
	assert.Equal(t, StateClosed, conn.State())
	assert.False(t, conn.authenticate("user-1"))
	assert.Error(t, conn.Context().Err())
}

func TestConnection_SendInOrder(t *testing.T) {
	conn := NewConnection("conn-1", nil, 8)

	require.NoError(t, conn.Send(NewEnvelope(TypePong)))
	require.NoError(t, conn.Send(ErrorEnvelope("x")))
	require.NoError(t, conn.Send(AuthSuccess("user-1")))

	conn.CloseGracefully()
	assert.Equal(t, []string{"pong", "error", "auth_success"}, drain(t, conn))
}

func TestConnection_SendAfterClose(t *testing.T) {
	conn := NewConnection("conn-1", nil, 8)
	conn.Close()

	assert.ErrorIs(t, conn.Send(Pong()), ErrConnectionClosed)
	assert.ErrorIs(t, conn.SendRaw([]byte(`{}`)), ErrConnectionClosed)
}

func TestConnection_SlowConsumerIsClosed(t *testing.T) {
	conn := NewConnection("conn-1", nil, 2)

	var closed int
	conn.onClose = func(*Connection, string, bool) { closed++ }

	require.NoError(t, conn.Send(Pong()))
	require.NoError(t, conn.Send(Pong()))

	// Queue full: never blocks, closes instead
	assert.ErrorIs(t, conn.Send(Pong()), ErrQueueFull)
	assert.Equal(t, StateClosed, conn.State())
	assert.Equal(t, 1, closed)

	assert.ErrorIs(t, conn.Send(Pong()), ErrConnectionClosed)
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn := NewConnection("conn-1", nil, 2)
	conn.startReading()
	conn.authenticate("user-1")

	var (
		calls            int
		gotUser          string
		wasAuthenticated bool
	)
	conn.onClose = func(c *Connection, userID string, authed bool) {
		calls++
		gotUser = userID
		wasAuthenticated = authed
	}

	conn.CloseGracefully()
	conn.Close()
	conn.CloseGracefully()

	assert.Equal(t, 1, calls)
	assert.Equal(t, "user-1", gotUser)
	assert.True(t, wasAuthenticated)
}

func TestConnection_ConcurrentSendAndClose(t *testing.T) {
	conn := NewConnection("conn-1", nil, 1024)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = conn.Send(Pong())
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		conn.Close()
	}()
	wg.Wait()

	assert.Equal(t, StateClosed, conn.State())
}

func TestConnection_UpdateLastPong(t *testing.T) {
	conn := NewConnection("conn-1", nil, 1)
	conn.lastPong = time.Now().Add(-1 * time.Hour)

	initialPong := conn.GetLastPong()
	time.Sleep(10 * time.Millisecond)
	conn.UpdateLastPong()

	assert.True(t, conn.GetLastPong().After(initialPong))
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", ConnState(99).String())
}
