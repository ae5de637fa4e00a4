package api

import (
	"context"
	"io"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/domain/user"
	"github.com/example/chatroom-coordinator/modules/coordinator"
	"github.com/example/chatroom-coordinator/modules/storage"
)

// Accounts manages user accounts.
type Accounts interface {
	Register(ctx context.Context, reg storage.Registration) (*user.User, error)
	Activate(ctx context.Context, username string, activated bool) error
}

// History reads stored conversations.
type History interface {
	FindConversations(ctx context.Context, username string) ([]chat.ConversationSummary, error)
	FindMessages(ctx context.Context, day time.Time, room string) ([]chat.ChatMessage, error)
}

// Rooms runs the live room operations bound to a realtime connection.
type Rooms interface {
	OpenRoom(ctx context.Context, conn coordinator.Conn, roomName, username string) error
	JoinRoom(ctx context.Context, conn coordinator.Conn, roomName, username string) error
	ContinueConversation(ctx context.Context, conn coordinator.Conn, body string, kind chat.MediaKind) error
	LeaveRoom(ctx context.Context, conn coordinator.Conn) error
	RelayUploadResult(ctx context.Context, appSessionID string, itemNumber int64, kind chat.MediaKind) error
}

// Media stores and serves uploaded files.
type Media interface {
	SaveImage(username, filename string, src io.Reader) (int64, error)
	UploadVideo(appSessionID, username, filename string, src io.ReadCloser) (int64, error)
	Retrieve(kind chat.MediaKind, username string, itemNumber int64) (string, error)
}

// RegisterRequest is the API request to create an account.
type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ActivationRequest is the API request to change an account's activation.
type ActivationRequest struct {
	Activated bool `json:"activated"`
}

// SignInRequest is the API request to start an app session.
type SignInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionResponse is the API response for a started app session.
type SessionResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *user.User `json:"user,omitempty"`
}

// HostPreflightRequest is the API request to prepare a new room.
type HostPreflightRequest struct {
	Room     string   `json:"room"`
	Invitees []string `json:"invitees"`
}

// GuestPreflightRequest is the API request to check a room before joining.
type GuestPreflightRequest struct {
	Room string `json:"room"`
}

// PreflightResponse tells the client where to connect.
type PreflightResponse struct {
	Room      string `json:"room"`
	Role      string `json:"role"`
	SocketURL string `json:"socket_url"`
}

// RoomListResponse is the API response for listing active rooms.
type RoomListResponse struct {
	Rooms []coordinator.RoomSnapshot `json:"rooms"`
}

// ConversationListResponse is the API response for a user's conversations.
type ConversationListResponse struct {
	Conversations []chat.ConversationSummary `json:"conversations"`
}

// MessageListResponse is the API response for one conversation.
type MessageListResponse struct {
	Day      string             `json:"day"`
	Room     string             `json:"room"`
	Messages []chat.ChatMessage `json:"messages"`
}

// UploadResponse is the API response for an upload.
type UploadResponse struct {
	ItemNumber int64          `json:"item_number"`
	Kind       chat.MediaKind `json:"kind"`
	Reference  string         `json:"reference"`
	Pending    bool           `json:"pending"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
