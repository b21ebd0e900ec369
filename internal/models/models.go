package models

import (
	"strings"
	"time"
)

const (
	// MaxContentLength bounds the size of a single chat message body
	MaxContentLength = 4000

	// MaxGroupNameLength bounds group names
	MaxGroupNameLength = 100

	// DefaultHistoryLimit is the page size for conversation/group history
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps client-supplied page sizes
	MaxHistoryLimit = 200
)

// User status values persisted in users.status
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Message types persisted in messages.message_type
const (
	MessageTypeText = "text"
)

// Friend request states
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// Group member roles
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents a registered account
type User struct {
	ID           string    `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"display_name"`
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Validate validates a User before it is created
func (u *User) Validate() error {
	if strings.TrimSpace(u.Username) == "" || len(u.Username) > 50 {
		return ErrInvalidUsername
	}
	if u.Email != "" && !strings.Contains(u.Email, "@") {
		return ErrInvalidEmail
	}
	return nil
}

// PublicProfile is the user shape exposed to other users
type PublicProfile struct {
	ID          string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

// Profile returns the public view of a user
func (u *User) Profile() PublicProfile {
	return PublicProfile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Status:      u.Status,
	}
}

// Message is a direct or group chat message. Exactly one of RecipientID or GroupID is set.
type Message struct {
	ID          string    `json:"message_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
	IsRead      bool      `json:"is_read"`
}

// Validate validates a Message
func (m *Message) Validate() error {
	if m.SenderID == "" {
		return ErrInvalidUserID
	}
	if (m.RecipientID == "") == (m.GroupID == "") {
		return ErrInvalidMessageTarget
	}
	if strings.TrimSpace(m.Content) == "" || len(m.Content) > MaxContentLength {
		return ErrInvalidContent
	}
	return nil
}

// IsDirect reports whether the message is addressed to a single user
func (m *Message) IsDirect() bool {
	return m.RecipientID != ""
}

// Group is a named chat room
type Group struct {
	ID          string    `json:"group_id"`
	Name        string    `json:"group_name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Validate validates a Group
func (g *Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" || len(g.Name) > MaxGroupNameLength {
		return ErrInvalidGroupName
	}
	if g.CreatedBy == "" {
		return ErrInvalidUserID
	}
	return nil
}

// GroupMember is one membership row
type GroupMember struct {
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at,omitempty"`
}

// FriendRequest is a pending, accepted or rejected request between two users
type FriendRequest struct {
	ID         string    `json:"request_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// PendingRequest is a friend request joined with the sender's profile
type PendingRequest struct {
	ID          string    `json:"request_id"`
	SenderID    string    `json:"sender_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// FriendPair returns the pair in canonical (lexically ordered) form used for friendships
func FriendPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
