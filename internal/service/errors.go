package service

import (
	"errors"
	"fmt"
)

// Error is a business rule failure whose Message is safe to show to clients
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fail returns an Error with a public message
func Fail(message string) *Error {
	return &Error{Message: message}
}

func wrap(message string, err error) *Error {
	return &Error{Message: message, Err: err}
}

// PublicMessage returns the client-visible message of err, if it has one
func PublicMessage(err error) (string, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Message, true
	}
	return "", false
}

// Public messages returned by the services
const (
	MsgUserNotFound          = "User not found"
	MsgGroupNotFound         = "Group not found"
	MsgMessageNotFound       = "Message not found"
	MsgRequestNotFound       = "Friend request not found"
	MsgAlreadyFriends        = "Already friends"
	MsgRequestExists         = "Request already exists"
	MsgSelfFriendRequest     = "Cannot send a friend request to yourself"
	MsgSelfMessage           = "Cannot send a message to yourself"
	MsgInvalidContent        = "Message content must be between 1 and 4000 characters"
	MsgInvalidGroupName      = "Group name must be between 1 and 100 characters"
	MsgNotGroupMember        = "Not a member of this group"
	MsgAlreadyMember         = "User is already a member"
	MsgNotMember             = "User is not a member"
	MsgAdminRequired         = "Only group admins can remove other members"
	MsgNotMessageParticipant = "Not a participant of this message"
	MsgEmptyQuery            = "Search query is empty"
)
