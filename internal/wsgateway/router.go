package wsgateway

import (
	"context"
	"errors"
	"time"

	"github.com/mohamedkhairy/chat-server/internal/models"
	"github.com/mohamedkhairy/chat-server/internal/service"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
	"golang.org/x/sync/semaphore"
)

// Client-visible error messages
const (
	MsgNotAuthenticated     = "Not authenticated"
	MsgAuthFailed           = "Authentication failed"
	MsgAlreadyAuthenticated = "Already authenticated"
	MsgInvalidFormat        = "Invalid message format"
)

// AuthValidator resolves the credential of an auth envelope to a user ID
type AuthValidator interface {
	Authenticate(ctx context.Context, token, claimedUserID string) (string, error)
}

// MessageService is the message collaborator
type MessageService interface {
	SendDirect(ctx context.Context, senderID, recipientID, content string) (*models.Message, error)
	SendGroup(ctx context.Context, senderID, groupID, content string) (*models.Message, []string, error)
	Conversation(ctx context.Context, userID, otherID string, limit int) ([]*models.Message, error)
	GroupHistory(ctx context.Context, userID, groupID string, limit int) ([]*models.Message, error)
	MarkRead(ctx context.Context, readerID, messageID string) (*models.Message, error)
}

// GroupService is the group collaborator
type GroupService interface {
	Create(ctx context.Context, creatorID, name, description string) (*models.Group, error)
	AddMember(ctx context.Context, actorID, groupID, userID string) error
	RemoveMember(ctx context.Context, actorID, groupID, userID string) error
	List(ctx context.Context, userID string) ([]*models.Group, error)
	Members(ctx context.Context, userID, groupID string) ([]*models.GroupMember, error)
}

// FriendService is the friend collaborator
type FriendService interface {
	SendRequest(ctx context.Context, senderID, receiverUsername string) (*models.FriendRequest, error)
	Accept(ctx context.Context, userID, requestID string) (*models.FriendRequest, error)
	Reject(ctx context.Context, userID, requestID string) error
	PendingRequests(ctx context.Context, userID string) ([]*models.PendingRequest, error)
	Friends(ctx context.Context, userID string) ([]models.PublicProfile, error)
}

// UserDirectory is the user search collaborator
type UserDirectory interface {
	Search(ctx context.Context, query string, limit int) ([]models.PublicProfile, error)
}

// Services bundles the business collaborators
type Services struct {
	Messages MessageService
	Groups   GroupService
	Friends  FriendService
	Users    UserDirectory
}

// RouterConfig holds router settings
type RouterConfig struct {
	Workers int           // concurrent business calls across all connections
	Timeout time.Duration // bound on one business call
}

// request is one inbound envelope from an authenticated session
type request struct {
	session Session
	userID  string
	env     *Envelope
}

func (req *request) reply(env *Envelope) {
	if err := req.session.Send(env); err != nil {
		logger.Debug("Reply dropped",
			logger.ErrorField(err),
			logger.UserID(req.userID),
			logger.MessageType(string(env.Type)),
		)
	}
}

type handlerFunc func(r *Router, ctx context.Context, req *request) error

type route struct {
	operation string // used in "Failed to <operation>"
	handle    handlerFunc
}

// routes is the static dispatch table; auth is handled by the Hub
var routes = map[MessageType]route{
	TypeSendMessage:         {"send message", (*Router).handleSendMessage},
	TypeSendGroupMessage:    {"send group message", (*Router).handleSendGroupMessage},
	TypeGetConversation:     {"get conversation", (*Router).handleGetConversation},
	TypeGetGroupMessages:    {"get group messages", (*Router).handleGetGroupMessages},
	TypeMarkRead:            {"mark message read", (*Router).handleMarkRead},
	TypeCreateGroup:         {"create group", (*Router).handleCreateGroup},
	TypeAddGroupMember:      {"add member", (*Router).handleAddGroupMember},
	TypeRemoveGroupMember:   {"remove member", (*Router).handleRemoveGroupMember},
	TypeGetGroups:           {"get groups", (*Router).handleGetGroups},
	TypeGetGroupMembers:     {"get group members", (*Router).handleGetGroupMembers},
	TypeSendFriendRequest:   {"send friend request", (*Router).handleSendFriendRequest},
	TypeAcceptFriendRequest: {"accept friend request", (*Router).handleAcceptFriendRequest},
	TypeRejectFriendRequest: {"reject friend request", (*Router).handleRejectFriendRequest},
	TypeGetFriendRequests:   {"get friend requests", (*Router).handleGetFriendRequests},
	TypeGetFriends:          {"get friends", (*Router).handleGetFriends},
	TypeSearchUsers:         {"search users", (*Router).handleSearchUsers},
	TypePing:                {"ping", (*Router).handlePing},
}

// Router dispatches envelopes from authenticated sessions to the services
type Router struct {
	notifier Notifier
	services Services
	sem      *semaphore.Weighted
	timeout  time.Duration
}

// NewRouter creates a new router
func NewRouter(notifier Notifier, services Services, config RouterConfig) *Router {
	if config.Workers <= 0 {
		config.Workers = 64
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Router{
		notifier: notifier,
		services: services,
		sem:      semaphore.NewWeighted(int64(config.Workers)),
		timeout:  config.Timeout,
	}
}

// Dispatch handles one envelope for userID and writes replies to session.
// It runs on the caller's goroutine so a connection's envelopes are handled
// in arrival order; the semaphore bounds business calls process-wide.
func (r *Router) Dispatch(session Session, userID string, env *Envelope) {
	rt, ok := routes[env.Type]
	if !ok {
		envelopesIgnoredTotal.Inc()
		logger.Debug("Ignoring envelope with unrecognized type",
			logger.UserID(userID),
			logger.MessageType(string(env.Type)),
		)
		return
	}

	// Detached from the connection: a closing peer does not cancel an in-flight call
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	ctx = logger.WithUserID(ctx, userID)
	req := &request{session: session, userID: userID, env: env}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		logger.Warn("Dispatch pool saturated",
			logger.UserID(userID),
			logger.MessageType(string(env.Type)),
		)
		req.reply(ErrorEnvelope("Failed to " + rt.operation))
		return
	}
	defer r.sem.Release(1)

	envelopesInTotal.WithLabelValues(string(env.Type)).Inc()
	start := time.Now()

	err := rt.handle(r, ctx, req)

	status := "ok"
	if err != nil {
		status = "error"
		req.reply(ErrorEnvelope(r.errorMessage(ctx, rt.operation, env.Type, err)))
	}
	dispatchDuration.WithLabelValues(string(env.Type), status).Observe(time.Since(start).Seconds())
}

// errorMessage maps a handler error to the text of the error envelope.
// Internal details are logged, never sent.
func (r *Router) errorMessage(ctx context.Context, operation string, t MessageType, err error) string {
	var missing *MissingFieldError
	if errors.As(err, &missing) {
		envelopesInvalidTotal.WithLabelValues("missing_field").Inc()
		return missing.Error()
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		envelopesInvalidTotal.WithLabelValues("decode").Inc()
		return MsgInvalidFormat
	}

	if msg, ok := service.PublicMessage(err); ok {
		return msg
	}

	logger.WithContext(ctx).Error("Collaborator call failed",
		logger.ErrorField(err),
		logger.MessageType(string(t)),
	)
	return "Failed to " + operation
}

// ===== messages =====

func (r *Router) handleSendMessage(ctx context.Context, req *request) error {
	var in SendMessageRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	msg, err := r.services.Messages.SendDirect(ctx, req.userID, in.RecipientID, in.Content)
	if err != nil {
		return err
	}

	req.reply(MessageSent(msg))
	r.notifier.Send(msg.RecipientID, NewMessage(msg))
	return nil
}

func (r *Router) handleSendGroupMessage(ctx context.Context, req *request) error {
	var in SendGroupMessageRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	msg, members, err := r.services.Messages.SendGroup(ctx, req.userID, in.GroupID, in.Content)
	if err != nil {
		return err
	}

	req.reply(GroupMessageSent(msg))

	notification := GroupMessage(msg)
	delivered := 0
	for _, memberID := range members {
		if memberID == req.userID {
			continue
		}
		if r.notifier.Send(memberID, notification) {
			delivered++
		}
	}

	logger.Debug("Group message fan-out",
		logger.GroupID(msg.GroupID),
		logger.Int("members", len(members)),
		logger.Int("delivered", delivered),
	)
	return nil
}

func (r *Router) handleGetConversation(ctx context.Context, req *request) error {
	var in GetConversationRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	messages, err := r.services.Messages.Conversation(ctx, req.userID, in.UserID, in.Limit)
	if err != nil {
		return err
	}

	req.reply(Conversation(in.UserID, messages))
	return nil
}

func (r *Router) handleGetGroupMessages(ctx context.Context, req *request) error {
	var in GetGroupMessagesRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	messages, err := r.services.Messages.GroupHistory(ctx, req.userID, in.GroupID, in.Limit)
	if err != nil {
		return err
	}

	req.reply(GroupMessages(in.GroupID, messages))
	return nil
}

func (r *Router) handleMarkRead(ctx context.Context, req *request) error {
	var in MarkReadRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	msg, err := r.services.Messages.MarkRead(ctx, req.userID, in.MessageID)
	if err != nil {
		return err
	}

	req.reply(MessageRead(msg.ID, ""))
	if msg.SenderID != req.userID {
		r.notifier.Send(msg.SenderID, MessageRead(msg.ID, req.userID))
	}
	return nil
}

// ===== groups =====

func (r *Router) handleCreateGroup(ctx context.Context, req *request) error {
	var in CreateGroupRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	group, err := r.services.Groups.Create(ctx, req.userID, in.GroupName, in.Description)
	if err != nil {
		return err
	}

	req.reply(GroupCreated(group))
	return nil
}

func (r *Router) handleAddGroupMember(ctx context.Context, req *request) error {
	var in AddGroupMemberRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	if err := r.services.Groups.AddMember(ctx, req.userID, in.GroupID, in.UserID); err != nil {
		return err
	}

	req.reply(MemberAdded(in.GroupID, in.UserID))
	r.notifier.Send(in.UserID, AddedToGroup(in.GroupID))
	return nil
}

func (r *Router) handleRemoveGroupMember(ctx context.Context, req *request) error {
	var in RemoveGroupMemberRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	if err := r.services.Groups.RemoveMember(ctx, req.userID, in.GroupID, in.UserID); err != nil {
		return err
	}

	req.reply(MemberRemoved(in.GroupID, in.UserID))
	if in.UserID != req.userID {
		r.notifier.Send(in.UserID, RemovedFromGroup(in.GroupID))
	}
	return nil
}

func (r *Router) handleGetGroups(ctx context.Context, req *request) error {
	groups, err := r.services.Groups.List(ctx, req.userID)
	if err != nil {
		return err
	}

	req.reply(Groups(groups))
	return nil
}

func (r *Router) handleGetGroupMembers(ctx context.Context, req *request) error {
	var in GetGroupMembersRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	members, err := r.services.Groups.Members(ctx, req.userID, in.GroupID)
	if err != nil {
		return err
	}

	req.reply(GroupMembers(in.GroupID, members))
	return nil
}

// ===== friends =====

func (r *Router) handleSendFriendRequest(ctx context.Context, req *request) error {
	var in SendFriendRequestRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	fr, err := r.services.Friends.SendRequest(ctx, req.userID, in.Username)
	if err != nil {
		return err
	}

	req.reply(FriendRequestSent(fr))
	r.notifier.Send(fr.ReceiverID, FriendRequestReceived(fr))
	return nil
}

func (r *Router) handleAcceptFriendRequest(ctx context.Context, req *request) error {
	var in AcceptFriendRequestRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	fr, err := r.services.Friends.Accept(ctx, req.userID, in.RequestID)
	if err != nil {
		return err
	}

	req.reply(FriendRequestAccepted(fr))
	r.notifier.Send(fr.SenderID, FriendAccepted(req.userID))
	return nil
}

func (r *Router) handleRejectFriendRequest(ctx context.Context, req *request) error {
	var in RejectFriendRequestRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	if err := r.services.Friends.Reject(ctx, req.userID, in.RequestID); err != nil {
		return err
	}

	req.reply(FriendRequestRejected(in.RequestID))
	return nil
}

func (r *Router) handleGetFriendRequests(ctx context.Context, req *request) error {
	requests, err := r.services.Friends.PendingRequests(ctx, req.userID)
	if err != nil {
		return err
	}

	req.reply(FriendRequests(requests))
	return nil
}

func (r *Router) handleGetFriends(ctx context.Context, req *request) error {
	friends, err := r.services.Friends.Friends(ctx, req.userID)
	if err != nil {
		return err
	}

	req.reply(Friends(friends))
	return nil
}

// ===== users =====

func (r *Router) handleSearchUsers(ctx context.Context, req *request) error {
	var in SearchUsersRequest
	if err := DecodeRequest(req.env, &in); err != nil {
		return err
	}

	users, err := r.services.Users.Search(ctx, in.Query, in.Limit)
	if err != nil {
		return err
	}

	req.reply(Users(users))
	return nil
}

func (r *Router) handlePing(ctx context.Context, req *request) error {
	req.reply(Pong())
	return nil
}
