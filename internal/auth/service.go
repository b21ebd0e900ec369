package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohamedkhairy/chat-server/internal/models"
	"github.com/mohamedkhairy/chat-server/internal/storage"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 6

var (
	// ErrInvalidCredentials is returned for an unknown username or wrong password
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrWeakPassword is returned when the password is too short
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// RegisterRequest holds the fields of a new account
type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Service handles account registration and login
type Service struct {
	users      storage.UserStorage
	tokens     *TokenManager
	bcryptCost int
}

// NewService creates a new auth service
func NewService(users storage.UserStorage, tokens *TokenManager, bcryptCost int) *Service {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		bcryptCost: bcryptCost,
	}
}

// Register creates an account and returns it
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	user := &models.User{
		Username:    strings.TrimSpace(req.Username),
		Email:       strings.TrimSpace(req.Email),
		DisplayName: strings.TrimSpace(req.DisplayName),
		Status:      models.StatusOffline,
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if len(req.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = string(hash)

	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	logger.Info("User registered",
		logger.UserID(user.ID),
		logger.String("username", user.Username),
	)
	return user, nil
}

// Login verifies credentials and issues a token
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("Login failed: user not found", logger.String("username", username))
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		logger.Warn("Login failed: invalid password", logger.String("username", username))
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.IssueToken(user.ID)
	if err != nil {
		return nil, "", err
	}

	logger.Info("User logged in", logger.UserID(user.ID))
	return user, token, nil
}
