package wsgateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType is the "type" tag of an envelope
type MessageType string

// Inbound message types
const (
	TypeAuth                MessageType = "auth"
	TypeSendMessage         MessageType = "send_message"
	TypeSendGroupMessage    MessageType = "send_group_message"
	TypeGetConversation     MessageType = "get_conversation"
	TypeGetGroupMessages    MessageType = "get_group_messages"
	TypeMarkRead            MessageType = "mark_read"
	TypeCreateGroup         MessageType = "create_group"
	TypeAddGroupMember      MessageType = "add_group_member"
	TypeRemoveGroupMember   MessageType = "remove_group_member"
	TypeGetGroups           MessageType = "get_groups"
	TypeGetGroupMembers     MessageType = "get_group_members"
	TypeSendFriendRequest   MessageType = "send_friend_request"
	TypeAcceptFriendRequest MessageType = "accept_friend_request"
	TypeRejectFriendRequest MessageType = "reject_friend_request"
	TypeGetFriendRequests   MessageType = "get_friend_requests"
	TypeGetFriends          MessageType = "get_friends"
	TypeSearchUsers         MessageType = "search_users"
	TypePing                MessageType = "ping"
)

// Outbound message types
const (
	TypeAuthSuccess           MessageType = "auth_success"
	TypeError                 MessageType = "error"
	TypeMessageSent           MessageType = "message_sent"
	TypeNewMessage            MessageType = "new_message"
	TypeGroupMessageSent      MessageType = "group_message_sent"
	TypeGroupMessage          MessageType = "group_message"
	TypeConversation          MessageType = "conversation"
	TypeGroupMessages         MessageType = "group_messages"
	TypeMessageRead           MessageType = "message_read"
	TypeGroupCreated          MessageType = "group_created"
	TypeMemberAdded           MessageType = "member_added"
	TypeAddedToGroup          MessageType = "added_to_group"
	TypeMemberRemoved         MessageType = "member_removed"
	TypeRemovedFromGroup      MessageType = "removed_from_group"
	TypeGroups                MessageType = "groups"
	TypeGroupMembers          MessageType = "group_members"
	TypeFriendRequestSent     MessageType = "friend_request_sent"
	TypeFriendRequestReceived MessageType = "friend_request_received"
	TypeFriendRequestAccepted MessageType = "friend_request_accepted"
	TypeFriendRequestRejected MessageType = "friend_request_rejected"
	TypeFriendRequests        MessageType = "friend_requests"
	TypeFriends               MessageType = "friends"
	TypeUsers                 MessageType = "users"
	TypePong                  MessageType = "pong"
	TypeSessionReplaced       MessageType = "session_replaced"
)

var inboundTypes = map[MessageType]bool{
	TypeAuth:                true,
	TypeSendMessage:         true,
	TypeSendGroupMessage:    true,
	TypeGetConversation:     true,
	TypeGetGroupMessages:    true,
	TypeMarkRead:            true,
	TypeCreateGroup:         true,
	TypeAddGroupMember:      true,
	TypeRemoveGroupMember:   true,
	TypeGetGroups:           true,
	TypeGetGroupMembers:     true,
	TypeSendFriendRequest:   true,
	TypeAcceptFriendRequest: true,
	TypeRejectFriendRequest: true,
	TypeGetFriendRequests:   true,
	TypeGetFriends:          true,
	TypeSearchUsers:         true,
	TypePing:                true,
}

// Known reports whether t is a recognized inbound type
func (t MessageType) Known() bool {
	return inboundTypes[t]
}

// DecodeError is returned for a payload that is not an envelope
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid envelope: %s: %v", e.Reason, e.Err)
	}
	return "invalid envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// MissingFieldError is returned when a required envelope field is absent or empty
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "Missing required field: " + e.Field
}

// Envelope is one message on the wire: {"type": ..., ...fields}
type Envelope struct {
	Type   MessageType
	Fields map[string]interface{}
}

// NewEnvelope creates an envelope with no fields
func NewEnvelope(t MessageType) *Envelope {
	return &Envelope{Type: t, Fields: make(map[string]interface{})}
}

// With sets a field and returns the envelope
func (e *Envelope) With(key string, value interface{}) *Envelope {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// Known reports whether the envelope type is a recognized inbound type
func (e *Envelope) Known() bool {
	return e.Type.Known()
}

// Get returns a raw field value
func (e *Envelope) Get(key string) (interface{}, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

// String returns a required non-empty string field
func (e *Envelope) String(key string) (string, error) {
	s, ok := e.Fields[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", &MissingFieldError{Field: key}
	}
	return s, nil
}

// MarshalJSON flattens the type tag and fields into one object
func (e *Envelope) MarshalJSON() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("envelope type is empty")
	}
	out := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["type"] = string(e.Type)
	return json.Marshal(out)
}

// UnmarshalJSON parses a flattened envelope
func (e *Envelope) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*e = *decoded
	return nil
}

// Decode parses one inbound frame. Numbers are kept as json.Number so that
// re-encoding reproduces them exactly.
func Decode(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, &DecodeError{Reason: "not a JSON object", Err: err}
	}
	if raw == nil {
		return nil, &DecodeError{Reason: "not a JSON object"}
	}
	if dec.More() {
		return nil, &DecodeError{Reason: "trailing data after object"}
	}

	t, ok := raw["type"].(string)
	if !ok || t == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}
	delete(raw, "type")

	return &Envelope{Type: MessageType(t), Fields: raw}, nil
}

// Encode serializes an envelope for one text frame
func Encode(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}
