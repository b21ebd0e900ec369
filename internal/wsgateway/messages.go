package wsgateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mohamedkhairy/chat-server/internal/models"
)

// Request is a typed inbound envelope
type Request interface {
	Type() MessageType
	Validate() error
}

// DecodeRequest fills dst from the envelope fields and checks required fields
func DecodeRequest(e *Envelope, dst Request) error {
	data, err := json.Marshal(e.Fields)
	if err != nil {
		return &DecodeError{Reason: "unencodable fields", Err: err}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &DecodeError{Reason: "invalid value for " + typeErr.Field, Err: err}
		}
		return &DecodeError{Reason: "invalid fields", Err: err}
	}
	return dst.Validate()
}

// RequestEnvelope converts a typed request back into an envelope
func RequestEnvelope(r Request) (*Envelope, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	fields := make(map[string]interface{})
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return &Envelope{Type: r.Type(), Fields: fields}, nil
}

// required returns a MissingFieldError for the first blank name/value pair
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return &MissingFieldError{Field: pairs[i]}
		}
	}
	return nil
}

// AuthRequest binds a connection to a user
type AuthRequest struct {
	Token      string `json:"token,omitempty"`
	Credential string `json:"credential,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

func (AuthRequest) Type() MessageType { return TypeAuth }

func (r *AuthRequest) Validate() error {
	if r.Secret() == "" {
		return &MissingFieldError{Field: "token"}
	}
	return nil
}

// Secret returns the token, accepting "credential" as an alias
func (r *AuthRequest) Secret() string {
	if r.Token != "" {
		return r.Token
	}
	return r.Credential
}

type SendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

func (SendMessageRequest) Type() MessageType { return TypeSendMessage }

func (r *SendMessageRequest) Validate() error {
	return required("recipient_id", r.RecipientID, "content", r.Content)
}

type SendGroupMessageRequest struct {
	GroupID string `json:"group_id"`
	Content string `json:"content"`
}

func (SendGroupMessageRequest) Type() MessageType { return TypeSendGroupMessage }

func (r *SendGroupMessageRequest) Validate() error {
	return required("group_id", r.GroupID, "content", r.Content)
}

type GetConversationRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

func (GetConversationRequest) Type() MessageType { return TypeGetConversation }

func (r *GetConversationRequest) Validate() error {
	return required("user_id", r.UserID)
}

type GetGroupMessagesRequest struct {
	GroupID string `json:"group_id"`
	Limit   int    `json:"limit,omitempty"`
}

func (GetGroupMessagesRequest) Type() MessageType { return TypeGetGroupMessages }

func (r *GetGroupMessagesRequest) Validate() error {
	return required("group_id", r.GroupID)
}

type MarkReadRequest struct {
	MessageID string `json:"message_id"`
}

func (MarkReadRequest) Type() MessageType { return TypeMarkRead }

func (r *MarkReadRequest) Validate() error {
	return required("message_id", r.MessageID)
}

type CreateGroupRequest struct {
	GroupName   string `json:"group_name"`
	Description string `json:"description"`
}

func (CreateGroupRequest) Type() MessageType { return TypeCreateGroup }

func (r *CreateGroupRequest) Validate() error {
	return required("group_name", r.GroupName)
}

type AddGroupMemberRequest struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

func (AddGroupMemberRequest) Type() MessageType { return TypeAddGroupMember }

func (r *AddGroupMemberRequest) Validate() error {
	return required("group_id", r.GroupID, "user_id", r.UserID)
}

type RemoveGroupMemberRequest struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

func (RemoveGroupMemberRequest) Type() MessageType { return TypeRemoveGroupMember }

func (r *RemoveGroupMemberRequest) Validate() error {
	return required("group_id", r.GroupID, "user_id", r.UserID)
}

type GetGroupMembersRequest struct {
	GroupID string `json:"group_id"`
}

func (GetGroupMembersRequest) Type() MessageType { return TypeGetGroupMembers }

func (r *GetGroupMembersRequest) Validate() error {
	return required("group_id", r.GroupID)
}

type SendFriendRequestRequest struct {
	Username string `json:"username"`
}

func (SendFriendRequestRequest) Type() MessageType { return TypeSendFriendRequest }

func (r *SendFriendRequestRequest) Validate() error {
	return required("username", r.Username)
}

type AcceptFriendRequestRequest struct {
	RequestID string `json:"request_id"`
}

func (AcceptFriendRequestRequest) Type() MessageType { return TypeAcceptFriendRequest }

func (r *AcceptFriendRequestRequest) Validate() error {
	return required("request_id", r.RequestID)
}

type RejectFriendRequestRequest struct {
	RequestID string `json:"request_id"`
}

func (RejectFriendRequestRequest) Type() MessageType { return TypeRejectFriendRequest }

func (r *RejectFriendRequestRequest) Validate() error {
	return required("request_id", r.RequestID)
}

type SearchUsersRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (SearchUsersRequest) Type() MessageType { return TypeSearchUsers }

func (r *SearchUsersRequest) Validate() error {
	return required("query", r.Query)
}

// EmptyRequest covers the types without fields: get_groups, get_friend_requests, get_friends and ping
type EmptyRequest struct {
	Kind MessageType `json:"-"`
}

func (r EmptyRequest) Type() MessageType { return r.Kind }

func (r *EmptyRequest) Validate() error { return nil }

// ===== outbound builders =====

// ErrorEnvelope builds {"type":"error","message":...}
func ErrorEnvelope(message string) *Envelope {
	return NewEnvelope(TypeError).With("message", message)
}

func AuthSuccess(userID string) *Envelope {
	return NewEnvelope(TypeAuthSuccess).With("user_id", userID)
}

func SessionReplaced() *Envelope {
	return NewEnvelope(TypeSessionReplaced)
}

func Pong() *Envelope {
	return NewEnvelope(TypePong)
}

// MessageSent confirms a direct message to its sender
func MessageSent(msg *models.Message) *Envelope {
	return NewEnvelope(TypeMessageSent).
		With("message_id", msg.ID).
		With("recipient_id", msg.RecipientID).
		With("content", msg.Content).
		With("created_at", msg.CreatedAt)
}

// NewMessage delivers a direct message to its recipient
func NewMessage(msg *models.Message) *Envelope {
	return NewEnvelope(TypeNewMessage).
		With("message_id", msg.ID).
		With("sender_id", msg.SenderID).
		With("content", msg.Content).
		With("created_at", msg.CreatedAt)
}

// GroupMessageSent confirms a group message to its sender
func GroupMessageSent(msg *models.Message) *Envelope {
	return NewEnvelope(TypeGroupMessageSent).
		With("message_id", msg.ID).
		With("group_id", msg.GroupID).
		With("content", msg.Content).
		With("created_at", msg.CreatedAt)
}

// GroupMessage delivers a group message to a member
func GroupMessage(msg *models.Message) *Envelope {
	return NewEnvelope(TypeGroupMessage).
		With("message_id", msg.ID).
		With("sender_id", msg.SenderID).
		With("group_id", msg.GroupID).
		With("content", msg.Content).
		With("created_at", msg.CreatedAt)
}

func Conversation(userID string, messages []*models.Message) *Envelope {
	if messages == nil {
		messages = []*models.Message{}
	}
	return NewEnvelope(TypeConversation).
		With("user_id", userID).
		With("messages", messages)
}

func GroupMessages(groupID string, messages []*models.Message) *Envelope {
	if messages == nil {
		messages = []*models.Message{}
	}
	return NewEnvelope(TypeGroupMessages).
		With("group_id", groupID).
		With("messages", messages)
}

// MessageRead confirms a read receipt; readerID is set on the copy sent to the original sender
func MessageRead(messageID, readerID string) *Envelope {
	env := NewEnvelope(TypeMessageRead).With("message_id", messageID)
	if readerID != "" {
		env.With("reader_id", readerID)
	}
	return env
}

func GroupCreated(g *models.Group) *Envelope {
	return NewEnvelope(TypeGroupCreated).
		With("group_id", g.ID).
		With("group_name", g.Name).
		With("description", g.Description).
		With("created_by", g.CreatedBy)
}

func MemberAdded(groupID, userID string) *Envelope {
	return NewEnvelope(TypeMemberAdded).With("group_id", groupID).With("user_id", userID)
}

func AddedToGroup(groupID string) *Envelope {
	return NewEnvelope(TypeAddedToGroup).With("group_id", groupID)
}

func MemberRemoved(groupID, userID string) *Envelope {
	return NewEnvelope(TypeMemberRemoved).With("group_id", groupID).With("user_id", userID)
}

func RemovedFromGroup(groupID string) *Envelope {
	return NewEnvelope(TypeRemovedFromGroup).With("group_id", groupID)
}

func Groups(groups []*models.Group) *Envelope {
	if groups == nil {
		groups = []*models.Group{}
	}
	return NewEnvelope(TypeGroups).With("groups", groups)
}

func GroupMembers(groupID string, members []*models.GroupMember) *Envelope {
	if members == nil {
		members = []*models.GroupMember{}
	}
	return NewEnvelope(TypeGroupMembers).With("group_id", groupID).With("members", members)
}

func FriendRequestSent(req *models.FriendRequest) *Envelope {
	return NewEnvelope(TypeFriendRequestSent).
		With("request_id", req.ID).
		With("receiver_id", req.ReceiverID)
}

func FriendRequestReceived(req *models.FriendRequest) *Envelope {
	return NewEnvelope(TypeFriendRequestReceived).
		With("request_id", req.ID).
		With("sender_id", req.SenderID)
}

// FriendRequestAccepted answers the accepting user
func FriendRequestAccepted(req *models.FriendRequest) *Envelope {
	return NewEnvelope(TypeFriendRequestAccepted).
		With("request_id", req.ID).
		With("friend_id", req.SenderID)
}

// FriendAccepted notifies the original sender that friendID accepted
func FriendAccepted(friendID string) *Envelope {
	return NewEnvelope(TypeFriendRequestAccepted).With("friend_id", friendID)
}

func FriendRequestRejected(requestID string) *Envelope {
	return NewEnvelope(TypeFriendRequestRejected).With("request_id", requestID)
}

func FriendRequests(requests []*models.PendingRequest) *Envelope {
	if requests == nil {
		requests = []*models.PendingRequest{}
	}
	return NewEnvelope(TypeFriendRequests).With("requests", requests)
}

func Friends(friends []models.PublicProfile) *Envelope {
	if friends == nil {
		friends = []models.PublicProfile{}
	}
	return NewEnvelope(TypeFriends).With("friends", friends)
}

func Users(users []models.PublicProfile) *Envelope {
	if users == nil {
		users = []models.PublicProfile{}
	}
	return NewEnvelope(TypeUsers).With("users", users)
}
