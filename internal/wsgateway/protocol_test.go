package wsgateway

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `hello`},
		{"array", `[1,2,3]`},
		{"string", `"auth"`},
		{"null", `null`},
		{"missing type", `{"token":"abc"}`},
		{"empty type", `{"type":""}`},
		{"non-string type", `{"type":42}`},
		{"trailing object", `{"type":"ping"}{"type":"ping"}`},
		{"truncated", `{"type":"ping"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.input))
			assert.Nil(t, env)

			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr), "expected DecodeError, got %v", err)
		})
	}
}

func TestDecode_UnknownTypeIsNotAnError(t *testing.T) {
	env, err := Decode([]byte(`{"type":"teleport","where":"mars"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageType("teleport"), env.Type)
	assert.False(t, env.Known())

	where, err := env.String("where")
	require.NoError(t, err)
	assert.Equal(t, "mars", where)
}

func TestEnvelope_String(t *testing.T) {
	env, err := Decode([]byte(`{"type":"send_message","recipient_id":"u2","content":"  ","n":3}`))
	require.NoError(t, err)
	assert.True(t, env.Known())

	recipient, err := env.String("recipient_id")
	require.NoError(t, err)
	assert.Equal(t, "u2", recipient)

	for _, key := range []string{"content", "n", "absent"} {
		_, err := env.String(key)
		var missing *MissingFieldError
		require.True(t, errors.As(err, &missing), key)
		assert.Equal(t, key, missing.Field)
		assert.Equal(t, "Missing required field: "+key, err.Error())
	}
}

func TestEncode_PreservesDecodedFields(t *testing.T) {
	input := `{"type":"get_conversation","user_id":"u2","limit":12345678901234567,"meta":{"a":[1,2.5,"x",null,true]}}`

	env, err := Decode([]byte(input))
	require.NoError(t, err)

	out, err := Encode(env)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))

	again, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, env, again)
}

func TestEncode_EmptyTypeFails(t *testing.T) {
	_, err := Encode(&Envelope{})
	assert.Error(t, err)
}

func TestEnvelope_JSONInterop(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"ping"}`), &env))
	assert.Equal(t, TypePing, env.Type)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"ping"}`), &env))
}

func TestErrorEnvelope_Shape(t *testing.T) {
	out, err := Encode(ErrorEnvelope(MsgNotAuthenticated))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"Not authenticated"}`, string(out))
}

func TestRequests_RoundTrip(t *testing.T) {
	requests := []Request{
		&AuthRequest{Token: "tok", UserID: "u1"},
		&SendMessageRequest{RecipientID: "u2", Content: "hi"},
		&SendGroupMessageRequest{GroupID: "g1", Content: "hi all"},
		&GetConversationRequest{UserID: "u2", Limit: 20},
		&GetGroupMessagesRequest{GroupID: "g1", Limit: 5},
		&MarkReadRequest{MessageID: "m1"},
		&CreateGroupRequest{GroupName: "team", Description: "the team"},
		&AddGroupMemberRequest{GroupID: "g1", UserID: "u3"},
		&RemoveGroupMemberRequest{GroupID: "g1", UserID: "u3"},
		&GetGroupMembersRequest{GroupID: "g1"},
		&SendFriendRequestRequest{Username: "bob"},
		&AcceptFriendRequestRequest{RequestID: "r1"},
		&RejectFriendRequestRequest{RequestID: "r1"},
		&SearchUsersRequest{Query: "bo", Limit: 3},
		&EmptyRequest{Kind: TypeGetGroups},
		&EmptyRequest{Kind: TypePing},
	}

	for _, req := range requests {
		t.Run(string(req.Type()), func(t *testing.T) {
			env, err := RequestEnvelope(req)
			require.NoError(t, err)
			assert.Equal(t, req.Type(), env.Type)
			assert.True(t, env.Known())

			// Through the wire and back
			data, err := Encode(env)
			require.NoError(t, err)
			decoded, err := Decode(data)
			require.NoError(t, err)

			out := newRequestLike(req)
			require.NoError(t, DecodeRequest(decoded, out))
			assert.Equal(t, req, out)
		})
	}
}

// newRequestLike returns an empty request of the same concrete type
func newRequestLike(r Request) Request {
	switch v := r.(type) {
	case *AuthRequest:
		return &AuthRequest{}
	case *SendMessageRequest:
		return &SendMessageRequest{}
	case *SendGroupMessageRequest:
		return &SendGroupMessageRequest{}
	case *GetConversationRequest:
		return &GetConversationRequest{}
	case *GetGroupMessagesRequest:
		return &GetGroupMessagesRequest{}
	case *MarkReadRequest:
		return &MarkReadRequest{}
	case *CreateGroupRequest:
		return &CreateGroupRequest{}
	case *AddGroupMemberRequest:
		return &AddGroupMemberRequest{}
	case *RemoveGroupMemberRequest:
		return &RemoveGroupMemberRequest{}
	case *GetGroupMembersRequest:
		return &GetGroupMembersRequest{}
	case *SendFriendRequestRequest:
		return &SendFriendRequestRequest{}
	case *AcceptFriendRequestRequest:
		return &AcceptFriendRequestRequest{}
	case *RejectFriendRequestRequest:
		return &RejectFriendRequestRequest{}
	case *SearchUsersRequest:
		return &SearchUsersRequest{}
	case *EmptyRequest:
		return &EmptyRequest{Kind: v.Kind}
	}
	return nil
}

func TestDecodeRequest_MissingFields(t *testing.T) {
	tests := []struct {
		input string
		dst   Request
		field string
	}{
		{`{"type":"auth","user_id":"u1"}`, &AuthRequest{}, "token"},
		{`{"type":"send_message","content":"hi"}`, &SendMessageRequest{}, "recipient_id"},
		{`{"type":"send_message","recipient_id":"u2"}`, &SendMessageRequest{}, "content"},
		{`{"type":"send_message","recipient_id":"u2","content":"   "}`, &SendMessageRequest{}, "content"},
		{`{"type":"send_group_message","content":"hi"}`, &SendGroupMessageRequest{}, "group_id"},
		{`{"type":"mark_read"}`, &MarkReadRequest{}, "message_id"},
		{`{"type":"create_group","description":"x"}`, &CreateGroupRequest{}, "group_name"},
		{`{"type":"add_group_member","group_id":"g1"}`, &AddGroupMemberRequest{}, "user_id"},
		{`{"type":"send_friend_request"}`, &SendFriendRequestRequest{}, "username"},
		{`{"type":"search_users"}`, &SearchUsersRequest{}, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			env, err := Decode([]byte(tt.input))
			require.NoError(t, err)

			err = DecodeRequest(env, tt.dst)
			var missing *MissingFieldError
			require.True(t, errors.As(err, &missing), "got %v", err)
			assert.Equal(t, tt.field, missing.Field)
		})
	}
}

func TestDecodeRequest_WrongFieldType(t *testing.T) {
	env, err := Decode([]byte(`{"type":"get_conversation","user_id":"u2","limit":"ten"}`))
	require.NoError(t, err)

	err = DecodeRequest(env, &GetConversationRequest{})
	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr), "got %v", err)
}

func TestAuthRequest_CredentialAlias(t *testing.T) {
	env, err := Decode([]byte(`{"type":"auth","credential":"secret","user_id":"u1"}`))
	require.NoError(t, err)

	var req AuthRequest
	require.NoError(t, DecodeRequest(env, &req))
	assert.Equal(t, "secret", req.Secret())
}
