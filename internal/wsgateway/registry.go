package wsgateway

import (
	"sort"
	"sync"
)

// Session is a routable endpoint for one authenticated user.
// Implementations must be comparable; LeaveIf compares them by identity.
type Session interface {
	Send(env *Envelope) error
	CloseGracefully()
}

// PresenceObserver is told when a user gains or loses their session.
// Callbacks run inside the registry's critical section and must not block.
type PresenceObserver interface {
	SessionJoined(userID string)
	SessionLeft(userID string)
}

// Notifier is the delivery capability handed to the router
type Notifier interface {
	Send(userID string, env *Envelope) bool
	IsOnline(userID string) bool
}

// SessionRegistry maps online users to their current session
type SessionRegistry struct {
	sessions  map[string]Session // user_id -> session
	observers []PresenceObserver
	mu        sync.RWMutex
}

// NewSessionRegistry creates a new session registry
func NewSessionRegistry(observers ...PresenceObserver) *SessionRegistry {
	return &SessionRegistry{
		sessions:  make(map[string]Session),
		observers: observers,
	}
}

// Join registers the session for userID and returns the session it displaced, if any
func (r *SessionRegistry) Join(userID string, session Session) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	displaced := r.sessions[userID]
	r.sessions[userID] = session

	if displaced == nil {
		for _, o := range r.observers {
			o.SessionJoined(userID)
		}
		sessionsOnline.Inc()
	}
	return displaced
}

// Leave removes the user's session if present
func (r *SessionRegistry) Leave(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[userID]; ok {
		r.remove(userID)
	}
}

// LeaveIf removes the user's session only if it is still session
func (r *SessionRegistry) LeaveIf(userID string, session Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[userID]
	if !ok || current != session {
		return false
	}
	r.remove(userID)
	return true
}

// remove must be called with the write lock held
func (r *SessionRegistry) remove(userID string) {
	delete(r.sessions, userID)
	for _, o := range r.observers {
		o.SessionLeft(userID)
	}
	sessionsOnline.Dec()
}

// Send delivers env to the user's session; false if the user is offline
// or the session refused it. Session.Send runs outside the lock.
func (r *SessionRegistry) Send(userID string, env *Envelope) bool {
	r.mu.RLock()
	session, ok := r.sessions[userID]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return session.Send(env) == nil
}

// IsOnline reports whether the user has a session
func (r *SessionRegistry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// Get returns the user's session
func (r *SessionRegistry) Get(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[userID]
	return session, ok
}

// Count returns the number of online users
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// OnlineUsers returns the online user IDs, sorted
func (r *SessionRegistry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}
