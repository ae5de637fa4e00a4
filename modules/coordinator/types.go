package coordinator

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/domain/user"
)

// Validation limits
const (
	MaxUsernameLength = 50
	MaxRoomNameLength = 100
	MaxMessageLength  = 5000
)

// Validation errors
var (
	ErrUsernameEmpty   = errors.New("username cannot be empty")
	ErrUsernameTooLong = errors.New("username exceeds maximum length")
	ErrUsernameInvalid = errors.New("username contains invalid characters")
	ErrRoomNameEmpty   = errors.New("room name cannot be empty")
	ErrRoomNameTooLong = errors.New("room name exceeds maximum length")
	ErrRoomNameInvalid = errors.New("room name contains invalid characters")
	ErrMessageEmpty    = errors.New("message content cannot be empty")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrMessageInvalid  = errors.New("message contains invalid characters")
)

// Coordination errors, safe to show to users.
var (
	ErrUserNotFound              = errors.New("chat room user not found")
	ErrAlreadyInUseByAnotherUser = errors.New("a chat room with that name is already established by another user")
	ErrRoomNotOpen               = errors.New("the selected chat room is no longer open")
	ErrNotInvited                = errors.New("you have not been invited to this chat room")
	ErrDuplicateRoomName         = errors.New("a chat room with that name is already active")
	ErrRoomNotActive             = errors.New("the chat room is no longer active")
	ErrSessionNotFound           = errors.New("chat session not found")
	ErrNotStarted                = errors.New("coordinator is not running")
)

// Status codes carried in request-reply responses.
const (
	CodeOK                = "ok"
	CodeInvalid           = "invalid"
	CodeUserNotFound      = "user_not_found"
	CodeAlreadyInUse      = "already_in_use"
	CodeRoomNotOpen       = "room_not_open"
	CodeNotInvited        = "not_invited"
	CodeDuplicateRoomName = "duplicate_room_name"
	CodeRoomNotActive     = "room_not_active"
	CodeSessionNotFound   = "session_not_found"
	CodeInternal          = "internal"
)

var codeErrors = map[string]error{
	CodeUserNotFound:      ErrUserNotFound,
	CodeAlreadyInUse:      ErrAlreadyInUseByAnotherUser,
	CodeRoomNotOpen:       ErrRoomNotOpen,
	CodeNotInvited:        ErrNotInvited,
	CodeDuplicateRoomName: ErrDuplicateRoomName,
	CodeRoomNotActive:     ErrRoomNotActive,
	CodeSessionNotFound:   ErrSessionNotFound,
}

// StatusCode maps an error returned by the coordinator to a wire code.
func StatusCode(err error) string {
	if err == nil {
		return CodeOK
	}
	for code, target := range codeErrors {
		if errors.Is(err, target) {
			return code
		}
	}
	if IsValidationError(err) {
		return CodeInvalid
	}
	return CodeInternal
}

// ErrorForCode is the inverse of StatusCode.
func ErrorForCode(code, message string) error {
	if err, ok := codeErrors[code]; ok {
		return err
	}
	switch code {
	case CodeOK:
		return nil
	case CodeInvalid:
		for _, target := range validationErrors {
			if target.Error() == message {
				return target
			}
		}
	}
	return errors.New(message)
}

var validationErrors = []error{
	ErrUsernameEmpty, ErrUsernameTooLong, ErrUsernameInvalid,
	ErrRoomNameEmpty, ErrRoomNameTooLong, ErrRoomNameInvalid,
	ErrMessageEmpty, ErrMessageTooLong, ErrMessageInvalid,
}

// IsValidationError reports whether err is one of the input validation errors.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Conn is a live realtime connection as seen by the coordinator.
type Conn interface {
	ID() string
	Send(data []byte) error
	IsOpen() bool
}

// UserDirectory is the external account store.
type UserDirectory interface {
	FindByUsername(ctx context.Context, username string) (*user.User, error)
	Authenticate(ctx context.Context, creds user.Credentials) (bool, error)
	IsActivated(ctx context.Context, username string) (bool, error)
	RecordSignIn(ctx context.Context, username string) error
	RecordSignOut(ctx context.Context, username string) error
}

// RoomPersistence is the external room and message store.
type RoomPersistence interface {
	GetOrCreateRoom(ctx context.Context, name, creator string) (*chat.Room, error)
	StoreMessage(ctx context.Context, msg chat.ChatMessage) error
	FindConversations(ctx context.Context, username string) ([]chat.ConversationSummary, error)
	FindMessages(ctx context.Context, day time.Time, room string) ([]chat.ChatMessage, error)
}

// Observer is told about room transitions after they happen.
type Observer interface {
	RoomOpened(room Room)
	RoomClosed(room Room)
	ParticipantJoined(room Room, username string)
	ParticipantLeft(room Room, username string)
}

type nopObserver struct{}

func (nopObserver) RoomOpened(Room)                {}
func (nopObserver) RoomClosed(Room)                {}
func (nopObserver) ParticipantJoined(Room, string) {}
func (nopObserver) ParticipantLeft(Room, string)   {}

// RoomSnapshot describes an active room for the lobby.
type RoomSnapshot struct {
	Name         string    `json:"name"`
	Host         string    `json:"host"`
	OpenedAt     time.Time `json:"opened_at"`
	Participants []string  `json:"participants"`
}

// Request-reply service names.
const (
	ServiceEnterLobby       = "enter-lobby"
	ServicePreflightHost    = "preflight-host"
	ServicePreflightGuest   = "preflight-guest"
	ServiceTerminateSession = "terminate-session"
	ServiceActiveRooms      = "active-rooms"
)

// StatusResponse is the reply of every command service.
type StatusResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// EnterLobbyRequest registers a signed-in app session.
type EnterLobbyRequest struct {
	AppSessionID string `json:"app_session_id"`
	Username     string `json:"username"`
}

// PreflightHostRequest validates a host before the websocket opens.
type PreflightHostRequest struct {
	Username string   `json:"username"`
	Room     string   `json:"room"`
	Invitees []string `json:"invitees"`
}

// PreflightGuestRequest validates a guest before the websocket opens.
type PreflightGuestRequest struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// TerminateSessionRequest ends an app session.
type TerminateSessionRequest struct {
	AppSessionID string `json:"app_session_id"`
}

// ActiveRoomsRequest lists active rooms.
type ActiveRoomsRequest struct{}

// ActiveRoomsResponse is the reply of the active-rooms service.
type ActiveRoomsResponse struct {
	Rooms []RoomSnapshot `json:"rooms"`
}

// ValidateUsername validates a username.
func ValidateUsername(username string) error {
	if username == "" {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !utf8.ValidString(username) || strings.ContainsAny(username, `/\?#`) {
		return ErrUsernameInvalid
	}
	return nil
}

// ValidateRoomName validates a room name.
func ValidateRoomName(name string) error {
	if name == "" {
		return ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	// Room names travel as a single URL path segment.
	if !utf8.ValidString(name) || strings.ContainsAny(name, `/\?#`) {
		return ErrRoomNameInvalid
	}
	return nil
}

// ValidateMessage validates a message body.
func ValidateMessage(content string) error {
	if content == "" {
		return ErrMessageEmpty
	}
	if len(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if !utf8.ValidString(content) {
		return ErrMessageInvalid
	}
	return nil
}
