package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// CoordinatorPort is the request-reply surface of the coordinator used by
// the HTTP layer.
type CoordinatorPort interface {
	EnterLobby(ctx context.Context, appSessionID, username string) error
	PreflightHost(ctx context.Context, username, room string, invitees []string) error
	PreflightGuest(ctx context.Context, username, room string) error
	TerminateAppSession(ctx context.Context, appSessionID string) error
	ActiveRooms(ctx context.Context) ([]RoomSnapshot, error)
}

// CoordinatorAdapter implements CoordinatorPort using the service container.
type CoordinatorAdapter struct {
	container mono.ServiceContainer
}

// NewCoordinatorAdapter creates a new CoordinatorAdapter.
func NewCoordinatorAdapter(container mono.ServiceContainer) CoordinatorPort {
	if container == nil {
		panic("coordinator: ServiceContainer is nil")
	}
	return &CoordinatorAdapter{container: container}
}

// EnterLobby registers a signed-in app session.
func (a *CoordinatorAdapter) EnterLobby(ctx context.Context, appSessionID, username string) error {
	req := EnterLobbyRequest{AppSessionID: appSessionID, Username: username}
	return callStatus(ctx, a.container, ServiceEnterLobby, &req)
}

// PreflightHost validates a host and installs the invitation list.
func (a *CoordinatorAdapter) PreflightHost(ctx context.Context, username, room string, invitees []string) error {
	req := PreflightHostRequest{Username: username, Room: room, Invitees: invitees}
	return callStatus(ctx, a.container, ServicePreflightHost, &req)
}

// PreflightGuest validates a guest.
func (a *CoordinatorAdapter) PreflightGuest(ctx context.Context, username, room string) error {
	req := PreflightGuestRequest{Username: username, Room: room}
	return callStatus(ctx, a.container, ServicePreflightGuest, &req)
}

// TerminateAppSession ends an app session.
func (a *CoordinatorAdapter) TerminateAppSession(ctx context.Context, appSessionID string) error {
	req := TerminateSessionRequest{AppSessionID: appSessionID}
	return callStatus(ctx, a.container, ServiceTerminateSession, &req)
}

// ActiveRooms lists the open rooms.
func (a *CoordinatorAdapter) ActiveRooms(ctx context.Context) ([]RoomSnapshot, error) {
	req := ActiveRoomsRequest{}
	var resp ActiveRoomsResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceActiveRooms,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to list active rooms: %w", err)
	}
	return resp.Rooms, nil
}

// callStatus calls a status-returning service and turns a failed status
// back into the matching coordinator error.
func callStatus[Req any](ctx context.Context, container mono.ServiceContainer, service string, req *Req) error {
	var resp StatusResponse
	if err := helper.CallRequestReplyService(
		ctx,
		container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		&resp,
	); err != nil {
		return fmt.Errorf("failed to call %s: %w", service, err)
	}
	if resp.Success {
		return nil
	}
	return ErrorForCode(resp.Code, resp.Message)
}
