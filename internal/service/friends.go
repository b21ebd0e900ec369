package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohamedkhairy/chat-server/internal/models"
	"github.com/mohamedkhairy/chat-server/internal/storage"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
)

// FriendService manages friend requests and friendships
type FriendService struct {
	friends storage.FriendStorage
	users   storage.UserStorage
}

// NewFriendService creates a new friend service
func NewFriendService(friends storage.FriendStorage, users storage.UserStorage) *FriendService {
	return &FriendService{friends: friends, users: users}
}

// SendRequest creates a friend request from sender to the user with receiverUsername
func (s *FriendService) SendRequest(ctx context.Context, senderID, receiverUsername string) (*models.FriendRequest, error) {
	receiver, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(receiverUsername))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, Fail(MsgUserNotFound)
	}
	if err != nil {
		return nil, err
	}

	if receiver.ID == senderID {
		return nil, Fail(MsgSelfFriendRequest)
	}

	friends, err := s.friends.AreFriends(ctx, senderID, receiver.ID)
	if err != nil {
		return nil, err
	}
	if friends {
		return nil, Fail(MsgAlreadyFriends)
	}

	req, err := s.friends.CreateFriendRequest(ctx, senderID, receiver.ID)
	if errors.Is(err, storage.ErrRequestExists) {
		return nil, Fail(MsgRequestExists)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create friend request: %w", err)
	}

	logger.Info("Friend request sent",
		logger.String("request_id", req.ID),
		logger.UserID(senderID),
		logger.String("receiver_id", receiver.ID),
	)
	return req, nil
}

// Accept accepts a pending request addressed to userID
func (s *FriendService) Accept(ctx context.Context, userID, requestID string) (*models.FriendRequest, error) {
	req, err := s.friends.AcceptFriendRequest(ctx, requestID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, Fail(MsgRequestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept friend request: %w", err)
	}

	logger.Info("Friend request accepted", logger.String("request_id", requestID), logger.UserID(userID))
	return req, nil
}

// Reject rejects a pending request addressed to userID
func (s *FriendService) Reject(ctx context.Context, userID, requestID string) error {
	err := s.friends.RejectFriendRequest(ctx, requestID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Fail(MsgRequestNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to reject friend request: %w", err)
	}

	logger.Info("Friend request rejected", logger.String("request_id", requestID), logger.UserID(userID))
	return nil
}

// PendingRequests lists pending requests addressed to userID, newest first
func (s *FriendService) PendingRequests(ctx context.Context, userID string) ([]*models.PendingRequest, error) {
	return s.friends.GetPendingRequests(ctx, userID)
}

// Friends lists the user's friends
func (s *FriendService) Friends(ctx context.Context, userID string) ([]models.PublicProfile, error) {
	friends, err := s.friends.GetFriends(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profiles(friends), nil
}
