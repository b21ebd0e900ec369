package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohamedkhairy/chat-server/internal/models"
	"github.com/mohamedkhairy/chat-server/internal/storage"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
)

// MessageService stores direct and group messages
type MessageService struct {
	messages storage.MessageStorage
	groups   storage.GroupStorage
	users    storage.UserStorage
}

// NewMessageService creates a new message service
func NewMessageService(messages storage.MessageStorage, groups storage.GroupStorage, users storage.UserStorage) *MessageService {
	return &MessageService{
		messages: messages,
		groups:   groups,
		users:    users,
	}
}

// SendDirect stores a message from sender to recipient
func (s *MessageService) SendDirect(ctx context.Context, senderID, recipientID, content string) (*models.Message, error) {
	if senderID == recipientID {
		return nil, Fail(MsgSelfMessage)
	}

	msg := &models.Message{
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		MessageType: models.MessageTypeText,
	}
	if err := msg.Validate(); err != nil {
		return nil, wrap(MsgInvalidContent, err)
	}

	if err := s.requireUser(ctx, recipientID); err != nil {
		return nil, err
	}

	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	logger.Debug("Direct message stored",
		logger.MessageID(msg.ID),
		logger.UserID(senderID),
		logger.String("recipient_id", recipientID),
	)
	return msg, nil
}

// SendGroup stores a group message and returns the group's member IDs for fan-out
func (s *MessageService) SendGroup(ctx context.Context, senderID, groupID, content string) (*models.Message, []string, error) {
	msg := &models.Message{
		SenderID:    senderID,
		GroupID:     groupID,
		Content:     content,
		MessageType: models.MessageTypeText,
	}
	if err := msg.Validate(); err != nil {
		return nil, nil, wrap(MsgInvalidContent, err)
	}

	if err := requireMember(ctx, s.groups, groupID, senderID); err != nil {
		return nil, nil, err
	}

	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, nil, fmt.Errorf("failed to store group message: %w", err)
	}

	members, err := s.groups.GetMembers(ctx, groupID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load group members: %w", err)
	}

	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.UserID)
	}

	logger.Debug("Group message stored",
		logger.MessageID(msg.ID),
		logger.UserID(senderID),
		logger.GroupID(groupID),
		logger.Int("members", len(memberIDs)),
	)
	return msg, memberIDs, nil
}

// Conversation returns the newest direct messages between two users
func (s *MessageService) Conversation(ctx context.Context, userID, otherID string, limit int) ([]*models.Message, error) {
	return s.messages.GetConversation(ctx, userID, otherID, ClampLimit(limit))
}

// GroupHistory returns the newest messages of a group the user belongs to
func (s *MessageService) GroupHistory(ctx context.Context, userID, groupID string, limit int) ([]*models.Message, error) {
	if err := requireMember(ctx, s.groups, groupID, userID); err != nil {
		return nil, err
	}
	return s.messages.GetGroupMessages(ctx, groupID, ClampLimit(limit))
}

// MarkRead marks a message as read by reader and returns it
func (s *MessageService) MarkRead(ctx context.Context, readerID, messageID string) (*models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, Fail(MsgMessageNotFound)
	}
	if err != nil {
		return nil, err
	}

	if msg.IsDirect() {
		if msg.RecipientID != readerID {
			return nil, Fail(MsgNotMessageParticipant)
		}
	} else if err := requireMember(ctx, s.groups, msg.GroupID, readerID); err != nil {
		return nil, err
	}

	if err := s.messages.MarkRead(ctx, messageID); err != nil {
		return nil, fmt.Errorf("failed to mark message read: %w", err)
	}
	msg.IsRead = true
	return msg, nil
}

func (s *MessageService) requireUser(ctx context.Context, userID string) error {
	_, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Fail(MsgUserNotFound)
	}
	return err
}

// requireMember checks that the group exists and userID belongs to it
func requireMember(ctx context.Context, groups storage.GroupStorage, groupID, userID string) error {
	if _, err := groups.GetGroup(ctx, groupID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Fail(MsgGroupNotFound)
		}
		return err
	}

	ok, err := groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return Fail(MsgNotGroupMember)
	}
	return nil
}

// ClampLimit applies the default and maximum history page size
func ClampLimit(limit int) int {
	if limit <= 0 {
		return models.DefaultHistoryLimit
	}
	if limit > models.MaxHistoryLimit {
		return models.MaxHistoryLimit
	}
	return limit
}
