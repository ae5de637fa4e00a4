package storage

import (
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/domain/user"
)

// Request-reply service names.
const (
	ServiceRegisterUser      = "register-user"
	ServiceActivateUser      = "activate-user"
	ServiceFindUser          = "find-user"
	ServiceAuthenticate      = "authenticate"
	ServiceIsActivated       = "is-activated"
	ServiceRecordSignIn      = "record-sign-in"
	ServiceRecordSignOut     = "record-sign-out"
	ServiceGetOrCreateRoom   = "get-or-create-room"
	ServiceStoreMessage      = "store-message"
	ServiceFindConversations = "find-conversations"
	ServiceFindMessages      = "find-messages"
)

// RegisterUserRequest creates an account.
type RegisterUserRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role,omitempty"`
}

// RegisterUserResponse carries the new account or a refusal.
type RegisterUserResponse struct {
	User  *user.User `json:"user,omitempty"`
	Error string     `json:"error,omitempty"`
}

// ActivateUserRequest changes an account's activation flag.
type ActivateUserRequest struct {
	Username  string `json:"username"`
	Activated bool   `json:"activated"`
}

// ActivateUserResponse reports whether the account existed.
type ActivateUserResponse struct {
	Found bool `json:"found"`
}

// FindUserRequest looks an account up.
type FindUserRequest struct {
	Username string `json:"username"`
}

// FindUserResponse carries the account when found.
type FindUserResponse struct {
	Found bool       `json:"found"`
	User  *user.User `json:"user,omitempty"`
}

// AuthenticateRequest checks credentials.
type AuthenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthenticateResponse reports the credential check.
type AuthenticateResponse struct {
	Authenticated bool `json:"authenticated"`
}

// IsActivatedRequest checks an account's activation flag.
type IsActivatedRequest struct {
	Username string `json:"username"`
}

// IsActivatedResponse reports the activation flag.
type IsActivatedResponse struct {
	Activated bool `json:"activated"`
}

// JournalRequest records a sign-in or sign-out.
type JournalRequest struct {
	Username string `json:"username"`
}

// JournalResponse reports whether a journal row was written.
type JournalResponse struct {
	Recorded bool `json:"recorded"`
}

// GetOrCreateRoomRequest resolves room ownership.
type GetOrCreateRoomRequest struct {
	Name    string `json:"name"`
	Creator string `json:"creator"`
}

// GetOrCreateRoomResponse carries the stored room.
type GetOrCreateRoomResponse struct {
	Room *chat.Room `json:"room"`
}

// StoreMessageRequest persists one chat message.
type StoreMessageRequest struct {
	Message chat.ChatMessage `json:"message"`
}

// StoreMessageResponse acknowledges a stored message.
type StoreMessageResponse struct {
	Stored bool `json:"stored"`
}

// FindConversationsRequest lists a user's conversations.
type FindConversationsRequest struct {
	Username string `json:"username"`
}

// FindConversationsResponse carries the conversations.
type FindConversationsResponse struct {
	Conversations []chat.ConversationSummary `json:"conversations"`
}

// FindMessagesRequest loads one conversation.
type FindMessagesRequest struct {
	Day  time.Time `json:"day"`
	Room string    `json:"room"`
}

// FindMessagesResponse carries the messages.
type FindMessagesResponse struct {
	Messages []chat.ChatMessage `json:"messages"`
}
