package storage

import (
	"context"
	"errors"

	"github.com/mohamedkhairy/chat-server/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")

	// ErrUsernameTaken is returned when a username or email already exists
	ErrUsernameTaken = errors.New("username or email already taken")

	// ErrRequestExists is returned when a friend request between two users already exists
	ErrRequestExists = errors.New("friend request already exists")
)

// UserStorage defines user account persistence
type UserStorage interface {
	// CreateUser inserts the user and fills in ID, Status and CreatedAt
	CreateUser(ctx context.Context, user *models.User) error

	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// SearchUsers matches username or display name, case-insensitively
	SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error)

	// UpdateStatus sets the status and refreshes last_seen
	UpdateStatus(ctx context.Context, userID string, status string) error
}

// MessageStorage defines chat message persistence
type MessageStorage interface {
	// CreateMessage inserts the message and fills in ID and CreatedAt
	CreateMessage(ctx context.Context, msg *models.Message) error

	GetMessage(ctx context.Context, messageID string) (*models.Message, error)

	// GetConversation returns the newest direct messages between two users, newest first
	GetConversation(ctx context.Context, user1ID, user2ID string, limit int) ([]*models.Message, error)

	// GetGroupMessages returns the newest messages of a group, newest first
	GetGroupMessages(ctx context.Context, groupID string, limit int) ([]*models.Message, error)

	MarkRead(ctx context.Context, messageID string) error
}

// GroupStorage defines group and membership persistence
type GroupStorage interface {
	// CreateGroup inserts the group and its creator as admin in one transaction
	CreateGroup(ctx context.Context, group *models.Group) error

	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	GetUserGroups(ctx context.Context, userID string) ([]*models.Group, error)
	GetMembers(ctx context.Context, groupID string) ([]*models.GroupMember, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)

	// AddMember reports false when the user already was a member
	AddMember(ctx context.Context, groupID, userID, role string) (bool, error)

	// RemoveMember reports false when the user was not a member
	RemoveMember(ctx context.Context, groupID, userID string) (bool, error)
}

// FriendStorage defines friend request and friendship persistence
type FriendStorage interface {
	// CreateFriendRequest returns ErrRequestExists for a duplicate sender/receiver pair
	CreateFriendRequest(ctx context.Context, senderID, receiverID string) (*models.FriendRequest, error)

	// AcceptFriendRequest marks a pending request addressed to receiverID as accepted and
	// creates the friendship in one transaction. ErrNotFound if no such pending request.
	AcceptFriendRequest(ctx context.Context, requestID, receiverID string) (*models.FriendRequest, error)

	// RejectFriendRequest marks a pending request addressed to receiverID as rejected
	RejectFriendRequest(ctx context.Context, requestID, receiverID string) error

	GetPendingRequests(ctx context.Context, receiverID string) ([]*models.PendingRequest, error)
	AreFriends(ctx context.Context, user1ID, user2ID string) (bool, error)
	GetFriends(ctx context.Context, userID string) ([]*models.User, error)
}

// Store bundles every persistence concern the server needs
type Store interface {
	UserStorage
	MessageStorage
	GroupStorage
	FriendStorage

	Ping(ctx context.Context) error
	Close() error
}

// PresenceUpdate moves a member in or out of a set and announces the change
type PresenceUpdate struct {
	SetKey  string
	Member  string
	Online  bool
	Channel string      // empty skips the publish
	Payload interface{} // JSON-encoded before publishing
}

// RedisClient defines the Redis operations used for presence
type RedisClient interface {
	// UpdatePresence applies the set change and the publish atomically
	UpdatePresence(ctx context.Context, update PresenceUpdate) error

	SetMembers(ctx context.Context, key string) ([]string, error)
	SetIsMember(ctx context.Context, key string, member string) (bool, error)
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// PubSubMessage is a message published on a Redis channel
type PubSubMessage struct {
	Channel string
	Message string
}
