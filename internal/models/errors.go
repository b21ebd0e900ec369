package models

import "errors"

var (
	ErrInvalidUserID        = errors.New("invalid user ID")
	ErrInvalidUsername      = errors.New("invalid username")
	ErrInvalidEmail         = errors.New("invalid email")
	ErrInvalidContent       = errors.New("invalid message content")
	ErrInvalidMessageTarget = errors.New("message must have exactly one of recipient or group")
	ErrInvalidGroupName     = errors.New("invalid group name")
)
