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

// GroupService manages groups and their membership
type GroupService struct {
	groups storage.GroupStorage
	users  storage.UserStorage
}

// NewGroupService creates a new group service
func NewGroupService(groups storage.GroupStorage, users storage.UserStorage) *GroupService {
	return &GroupService{groups: groups, users: users}
}

// Create creates a group with the creator as admin
func (s *GroupService) Create(ctx context.Context, creatorID, name, description string) (*models.Group, error) {
	group := &models.Group{
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedBy:   creatorID,
	}
	if err := group.Validate(); err != nil {
		return nil, wrap(MsgInvalidGroupName, err)
	}

	if err := s.groups.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	logger.Info("Group created",
		logger.GroupID(group.ID),
		logger.String("group_name", group.Name),
		logger.UserID(creatorID),
	)
	return group, nil
}

// AddMember adds userID to the group; the actor must be a member
func (s *GroupService) AddMember(ctx context.Context, actorID, groupID, userID string) error {
	if err := requireMember(ctx, s.groups, groupID, actorID); err != nil {
		return err
	}

	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Fail(MsgUserNotFound)
		}
		return err
	}

	added, err := s.groups.AddMember(ctx, groupID, userID, models.RoleMember)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	if !added {
		return Fail(MsgAlreadyMember)
	}

	logger.Info("Group member added",
		logger.GroupID(groupID),
		logger.UserID(userID),
		logger.String("added_by", actorID),
	)
	return nil
}

// RemoveMember removes userID from the group.
// Members may remove themselves; removing others requires the admin role.
func (s *GroupService) RemoveMember(ctx context.Context, actorID, groupID, userID string) error {
	if err := requireMember(ctx, s.groups, groupID, actorID); err != nil {
		return err
	}

	if actorID != userID {
		admin, err := s.isAdmin(ctx, groupID, actorID)
		if err != nil {
			return err
		}
		if !admin {
			return Fail(MsgAdminRequired)
		}
	}

	removed, err := s.groups.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if !removed {
		return Fail(MsgNotMember)
	}

	logger.Info("Group member removed",
		logger.GroupID(groupID),
		logger.UserID(userID),
		logger.String("removed_by", actorID),
	)
	return nil
}

// List returns the groups the user belongs to
func (s *GroupService) List(ctx context.Context, userID string) ([]*models.Group, error) {
	return s.groups.GetUserGroups(ctx, userID)
}

// Members returns the members of a group the user belongs to
func (s *GroupService) Members(ctx context.Context, userID, groupID string) ([]*models.GroupMember, error) {
	if err := requireMember(ctx, s.groups, groupID, userID); err != nil {
		return nil, err
	}
	return s.groups.GetMembers(ctx, groupID)
}

func (s *GroupService) isAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	members, err := s.groups.GetMembers(ctx, groupID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.UserID == userID {
			return m.Role == models.RoleAdmin, nil
		}
	}
	return false, nil
}
