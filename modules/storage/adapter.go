package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/domain/user"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// UserAdapter reaches the account services through the service container.
type UserAdapter struct {
	container mono.ServiceContainer
}

// NewUserAdapter creates a new UserAdapter.
func NewUserAdapter(container mono.ServiceContainer) *UserAdapter {
	if container == nil {
		panic("storage: ServiceContainer is nil")
	}
	return &UserAdapter{container: container}
}

// Register creates an account.
func (a *UserAdapter) Register(ctx context.Context, reg Registration) (*user.User, error) {
	req := RegisterUserRequest{
		Username:  reg.Username,
		Password:  reg.Password,
		FirstName: reg.FirstName,
		LastName:  reg.LastName,
		Role:      reg.Role,
	}
	var resp RegisterUserResponse
	if err := call(ctx, a.container, ServiceRegisterUser, &req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, registrationError(resp.Error)
	}
	return resp.User, nil
}

// Activate changes the activation flag of an account.
func (a *UserAdapter) Activate(ctx context.Context, username string, activated bool) error {
	req := ActivateUserRequest{Username: username, Activated: activated}
	var resp ActivateUserResponse
	if err := call(ctx, a.container, ServiceActivateUser, &req, &resp); err != nil {
		return err
	}
	if !resp.Found {
		return ErrAccountNotFound
	}
	return nil
}

// FindByUsername returns the account for username.
func (a *UserAdapter) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	req := FindUserRequest{Username: username}
	var resp FindUserResponse
	if err := call(ctx, a.container, ServiceFindUser, &req, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, ErrAccountNotFound
	}
	return resp.User, nil
}

// Authenticate checks a username and password pair.
func (a *UserAdapter) Authenticate(ctx context.Context, creds user.Credentials) (bool, error) {
	req := AuthenticateRequest{Username: creds.Username, Password: creds.Password}
	var resp AuthenticateResponse
	if err := call(ctx, a.container, ServiceAuthenticate, &req, &resp); err != nil {
		return false, err
	}
	return resp.Authenticated, nil
}

// IsActivated reports whether the account may sign in.
func (a *UserAdapter) IsActivated(ctx context.Context, username string) (bool, error) {
	req := IsActivatedRequest{Username: username}
	var resp IsActivatedResponse
	if err := call(ctx, a.container, ServiceIsActivated, &req, &resp); err != nil {
		return false, err
	}
	return resp.Activated, nil
}

// RecordSignIn journals a sign-in.
func (a *UserAdapter) RecordSignIn(ctx context.Context, username string) error {
	req := JournalRequest{Username: username}
	var resp JournalResponse
	return call(ctx, a.container, ServiceRecordSignIn, &req, &resp)
}

// RecordSignOut journals a sign-out.
func (a *UserAdapter) RecordSignOut(ctx context.Context, username string) error {
	req := JournalRequest{Username: username}
	var resp JournalResponse
	return call(ctx, a.container, ServiceRecordSignOut, &req, &resp)
}

// RoomAdapter reaches the room and message services through the service
// container.
type RoomAdapter struct {
	container mono.ServiceContainer
}

// NewRoomAdapter creates a new RoomAdapter.
func NewRoomAdapter(container mono.ServiceContainer) *RoomAdapter {
	if container == nil {
		panic("storage: ServiceContainer is nil")
	}
	return &RoomAdapter{container: container}
}

// GetOrCreateRoom returns the persisted owner record of a room name.
func (a *RoomAdapter) GetOrCreateRoom(ctx context.Context, name, creator string) (*chat.Room, error) {
	req := GetOrCreateRoomRequest{Name: name, Creator: creator}
	var resp GetOrCreateRoomResponse
	if err := call(ctx, a.container, ServiceGetOrCreateRoom, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Room, nil
}

// StoreMessage persists one chat message.
func (a *RoomAdapter) StoreMessage(ctx context.Context, msg chat.ChatMessage) error {
	req := StoreMessageRequest{Message: msg}
	var resp StoreMessageResponse
	return call(ctx, a.container, ServiceStoreMessage, &req, &resp)
}

// FindConversations lists the conversations of username.
func (a *RoomAdapter) FindConversations(ctx context.Context, username string) ([]chat.ConversationSummary, error) {
	req := FindConversationsRequest{Username: username}
	var resp FindConversationsResponse
	if err := call(ctx, a.container, ServiceFindConversations, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// FindMessages returns the messages of one room on one day.
func (a *RoomAdapter) FindMessages(ctx context.Context, day time.Time, room string) ([]chat.ChatMessage, error) {
	req := FindMessagesRequest{Day: day, Room: room}
	var resp FindMessagesResponse
	if err := call(ctx, a.container, ServiceFindMessages, &req, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func call[Req, Resp any](ctx context.Context, container mono.ServiceContainer, service string, req *Req, resp *Resp) error {
	if err := helper.CallRequestReplyService(
		ctx,
		container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return fmt.Errorf("failed to call %s: %w", service, err)
	}
	return nil
}

// registrationError maps a refusal message back to its sentinel.
func registrationError(msg string) error {
	for _, err := range []error{ErrUsernameTaken, ErrInvalidAccount} {
		if msg == err.Error() {
			return err
		}
	}
	return errors.New(msg)
}
