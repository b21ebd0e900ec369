package auth

import (
	"context"
	"testing"
	"time"

	"github.com/mohamedkhairy/chat-server/internal/models"
	"github.com/mohamedkhairy/chat-server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *storage.MockStore) {
	t.Helper()
	store := storage.NewMockStore()
	return NewService(store, NewTokenManager("test-secret", time.Hour), bcrypt.MinCost), store
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.DisplayName)
	assert.NotEqual(t, "password1", user.PasswordHash)

	got, token, err := svc.Login(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	subject, err := svc.tokens.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)
}

func TestService_RegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Username: "bob", Password: "123"})
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Register(ctx, RegisterRequest{Username: "  ", Password: "password1"})
	assert.ErrorIs(t, err, models.ErrInvalidUsername)

	_, err = svc.Register(ctx, RegisterRequest{Username: "bob", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterRequest{Username: "bob", Password: "password2"})
	assert.ErrorIs(t, err, storage.ErrUsernameTaken)
}

func TestService_LoginFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Username: "carol", Password: "password1"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "carol", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidator_Authenticate(t *testing.T) {
	store := storage.NewMockStore()
	ctx := context.Background()
	user := &models.User{Username: "dave"}
	require.NoError(t, store.CreateUser(ctx, user))

	tokens := NewTokenManager("test-secret", time.Hour)
	v := NewValidator(tokens, store)

	token, err := tokens.IssueToken(user.ID)
	require.NoError(t, err)

	// user_id may be omitted or must match
	userID, err := v.Authenticate(ctx, token, "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	userID, err = v.Authenticate(ctx, token, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = v.Authenticate(ctx, token, "someone-else")
	assert.ErrorIs(t, err, ErrUserMismatch)

	_, err = v.Authenticate(ctx, "", user.ID)
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Authenticate(ctx, "garbage", user.ID)
	assert.Error(t, err)

	// Valid token for a user without an account
	ghost, err := tokens.IssueToken("ghost")
	require.NoError(t, err)
	_, err = v.Authenticate(ctx, ghost, "")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestValidator_InsecureMode(t *testing.T) {
	v := NewValidator(NewTokenManager("", 0), nil)
	ctx := context.Background()

	userID, err := v.Authenticate(ctx, "anything", "user-7")
	require.NoError(t, err)
	assert.Equal(t, "user-7", userID)

	_, err = v.Authenticate(ctx, "anything", "")
	assert.Error(t, err)

	_, err = v.Authenticate(ctx, "", "user-7")
	assert.ErrorIs(t, err, ErrMissingToken)
}
