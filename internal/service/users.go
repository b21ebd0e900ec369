package service

import (
	"context"
	"errors"
	"strings"

	"github.com/mohamedkhairy/chat-server/internal/models"
	"github.com/mohamedkhairy/chat-server/internal/storage"
)

// DefaultSearchLimit bounds user search results
const DefaultSearchLimit = 20

// UserDirectory looks up user profiles
type UserDirectory struct {
	users storage.UserStorage
}

// NewUserDirectory creates a new user directory
func NewUserDirectory(users storage.UserStorage) *UserDirectory {
	return &UserDirectory{users: users}
}

// Search matches users by username or display name
func (d *UserDirectory) Search(ctx context.Context, query string, limit int) ([]models.PublicProfile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, Fail(MsgEmptyQuery)
	}
	if limit <= 0 || limit > DefaultSearchLimit {
		limit = DefaultSearchLimit
	}

	users, err := d.users.SearchUsers(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return profiles(users), nil
}

// Profile returns a user by ID
func (d *UserDirectory) Profile(ctx context.Context, userID string) (*models.User, error) {
	user, err := d.users.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, Fail(MsgUserNotFound)
	}
	return user, err
}

func profiles(users []*models.User) []models.PublicProfile {
	result := make([]models.PublicProfile, 0, len(users))
	for _, u := range users {
		result = append(result, u.Profile())
	}
	return result
}
