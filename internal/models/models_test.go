package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		err  error
	}{
		{"direct", Message{SenderID: "u1", RecipientID: "u2", Content: "hi"}, nil},
		{"group", Message{SenderID: "u1", GroupID: "g1", Content: "hi"}, nil},
		{"no sender", Message{RecipientID: "u2", Content: "hi"}, ErrInvalidUserID},
		{"no target", Message{SenderID: "u1", Content: "hi"}, ErrInvalidMessageTarget},
		{"both targets", Message{SenderID: "u1", RecipientID: "u2", GroupID: "g1", Content: "hi"}, ErrInvalidMessageTarget},
		{"blank content", Message{SenderID: "u1", RecipientID: "u2", Content: "   "}, ErrInvalidContent},
		{"too long", Message{SenderID: "u1", RecipientID: "u2", Content: strings.Repeat("a", MaxContentLength+1)}, ErrInvalidContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.err, tt.msg.Validate())
		})
	}
}

func TestGroup_Validate(t *testing.T) {
	g := Group{Name: "friends", CreatedBy: "u1"}
	assert.NoError(t, g.Validate())

	g.Name = ""
	assert.ErrorIs(t, g.Validate(), ErrInvalidGroupName)

	g = Group{Name: "friends"}
	assert.ErrorIs(t, g.Validate(), ErrInvalidUserID)
}

func TestUser_ValidateAndProfile(t *testing.T) {
	u := User{ID: "u1", Username: "alice", Email: "alice@example.com", DisplayName: "Alice", Status: StatusOnline, PasswordHash: "secret"}
	assert.NoError(t, u.Validate())

	p := u.Profile()
	assert.Equal(t, PublicProfile{ID: "u1", Username: "alice", DisplayName: "Alice", Status: StatusOnline}, p)

	u.Email = "not-an-email"
	assert.ErrorIs(t, u.Validate(), ErrInvalidEmail)

	u.Username = " "
	assert.ErrorIs(t, u.Validate(), ErrInvalidUsername)
}

func TestFriendPair(t *testing.T) {
	a, b := FriendPair("bob", "alice")
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	a, b = FriendPair("alice", "bob")
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)
}
