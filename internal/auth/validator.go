package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohamedkhairy/chat-server/internal/storage"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
)

var (
	// ErrMissingToken is returned when the auth envelope carries no token
	ErrMissingToken = errors.New("missing token")

	// ErrUserMismatch is returned when the token subject differs from the claimed user
	ErrUserMismatch = errors.New("token does not belong to user")

	// ErrUnknownUser is returned when the authenticated user has no account
	ErrUnknownUser = errors.New("unknown user")
)

// Validator authenticates WebSocket sessions from an auth envelope
type Validator struct {
	tokens *TokenManager
	users  storage.UserStorage // optional account check
}

// NewValidator creates a validator. users may be nil to skip the account lookup.
func NewValidator(tokens *TokenManager, users storage.UserStorage) *Validator {
	if tokens.Insecure() {
		logger.Warn("JWT secret not configured, WebSocket authentication trusts the claimed user_id")
	}
	return &Validator{tokens: tokens, users: users}
}

// Authenticate returns the user ID the session is bound to
func (v *Validator) Authenticate(ctx context.Context, token, claimedUserID string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	var userID string
	if v.tokens.Insecure() {
		// Development mode: any non-empty token, identity from the envelope
		if claimedUserID == "" {
			return "", fmt.Errorf("user_id is required without a JWT secret")
		}
		userID = claimedUserID
	} else {
		subject, err := v.tokens.ValidateToken(token)
		if err != nil {
			return "", err
		}
		if claimedUserID != "" && claimedUserID != subject {
			return "", ErrUserMismatch
		}
		userID = subject
	}

	if v.users != nil {
		if _, err := v.users.GetUserByID(ctx, userID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", ErrUnknownUser
			}
			return "", fmt.Errorf("failed to look up user: %w", err)
		}
	}

	return userID, nil
}
