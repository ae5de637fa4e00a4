package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/example/chatroom-coordinator/events"
	"github.com/example/chatroom-coordinator/modules/storage"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// Module hosts the Coordinator inside the mono application.
type Module struct {
	coordinator *Coordinator
	users       UserDirectory
	rooms       RoomPersistence
	eventBus    mono.EventBus
	logger      types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ Observer                   = (*Module)(nil)
)

// NewModule creates a new coordinator module.
func NewModule(logger types.Logger) *Module {
	return &Module{
		logger: logger.WithModule("coordinator"),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "coordinator"
}

// Dependencies returns the modules this one needs.
func (m *Module) Dependencies() []string {
	return []string{"storage"}
}

// SetDependencyServiceContainer receives the storage service container.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "storage" {
		m.users = storage.NewUserAdapter(container)
		m.rooms = storage.NewRoomAdapter(container)
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// Start builds the coordinator.
func (m *Module) Start(ctx context.Context) error {
	m.coordinator = New(m.users, m.rooms, m.logger, WithObserver(m))
	if err := m.coordinator.Start(ctx); err != nil {
		return err
	}
	m.logger.Info("Coordinator module started")
	return nil
}

// Stop closes every active room.
func (m *Module) Stop(ctx context.Context) error {
	if m.coordinator == nil {
		return nil
	}
	err := m.coordinator.Stop(ctx)
	m.logger.Info("Coordinator module stopped")
	return err
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.coordinator == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "coordinator not initialized",
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: m.coordinator.Stats(),
	}
}

// Coordinator returns the running coordinator. The API module drives
// websocket connections through it directly.
func (m *Module) Coordinator() *Coordinator {
	return m.coordinator
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.RoomOpenedV1.ToBase(),
		events.RoomClosedV1.ToBase(),
		events.ParticipantJoinedV1.ToBase(),
		events.ParticipantLeftV1.ToBase(),
	}
}

// RegisterEventConsumers subscribes to finished media uploads.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MediaUploadedV1, m.handleMediaUploaded, m,
	); err != nil {
		return fmt.Errorf("failed to register MediaUploaded consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", "MediaUploaded")
	return nil
}

func (m *Module) handleMediaUploaded(ctx context.Context, event events.MediaUploadedEvent, _ *mono.Msg) error {
	kind, err := chat.ParseMediaKind(event.Kind)
	if err != nil {
		m.logger.Error("Ignoring upload with unknown kind", "kind", event.Kind, "item", event.ItemNumber)
		return nil // Don't retry on bad payloads
	}
	if m.coordinator == nil {
		return nil
	}
	if err := m.coordinator.RelayUploadResult(ctx, event.AppSessionID, event.ItemNumber, kind); err != nil {
		m.logger.Warn("Failed to relay upload result", "username", event.Username, "error", err)
	}
	return nil
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceEnterLobby,
		json.Unmarshal,
		json.Marshal,
		m.handleEnterLobby,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceEnterLobby, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServicePreflightHost,
		json.Unmarshal,
		json.Marshal,
		m.handlePreflightHost,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServicePreflightHost, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServicePreflightGuest,
		json.Unmarshal,
		json.Marshal,
		m.handlePreflightGuest,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServicePreflightGuest, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceTerminateSession,
		json.Unmarshal,
		json.Marshal,
		m.handleTerminateSession,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceTerminateSession, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceActiveRooms,
		json.Unmarshal,
		json.Marshal,
		m.handleActiveRooms,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceActiveRooms, err)
	}

	m.logger.Info("Registered services",
		"services", []string{ServiceEnterLobby, ServicePreflightHost, ServicePreflightGuest, ServiceTerminateSession, ServiceActiveRooms})
	return nil
}

func (m *Module) handleEnterLobby(ctx context.Context, req EnterLobbyRequest, _ *mono.Msg) (StatusResponse, error) {
	return statusOf(m.coordinator.EnterLobby(ctx, req.AppSessionID, req.Username)), nil
}

func (m *Module) handlePreflightHost(ctx context.Context, req PreflightHostRequest, _ *mono.Msg) (StatusResponse, error) {
	return statusOf(m.coordinator.PreflightHost(ctx, req.Username, req.Room, req.Invitees)), nil
}

func (m *Module) handlePreflightGuest(ctx context.Context, req PreflightGuestRequest, _ *mono.Msg) (StatusResponse, error) {
	return statusOf(m.coordinator.PreflightGuest(ctx, req.Username, req.Room)), nil
}

func (m *Module) handleTerminateSession(ctx context.Context, req TerminateSessionRequest, _ *mono.Msg) (StatusResponse, error) {
	return statusOf(m.coordinator.TerminateAppSession(ctx, req.AppSessionID)), nil
}

func (m *Module) handleActiveRooms(_ context.Context, _ ActiveRoomsRequest, _ *mono.Msg) (ActiveRoomsResponse, error) {
	return ActiveRoomsResponse{Rooms: m.coordinator.ActiveRooms()}, nil
}

// statusOf returns failures as a coded response rather than a transport error.
func statusOf(err error) StatusResponse {
	if err == nil {
		return StatusResponse{Success: true, Code: CodeOK}
	}
	return StatusResponse{
		Success: false,
		Code:    StatusCode(err),
		Message: err.Error(),
	}
}

// Observer implementation: room transitions become lobby events.

func (m *Module) RoomOpened(room Room) {
	m.publishRoomEvent("RoomOpened", room, room.Creator)
}

func (m *Module) RoomClosed(room Room) {
	m.publishRoomEvent("RoomClosed", room, room.Creator)
}

func (m *Module) ParticipantJoined(room Room, username string) {
	m.publishRoomEvent("ParticipantJoined", room, username)
}

func (m *Module) ParticipantLeft(room Room, username string) {
	m.publishRoomEvent("ParticipantLeft", room, username)
}

func (m *Module) publishRoomEvent(name string, room Room, username string) {
	if m.eventBus == nil {
		return
	}
	event := events.RoomActivityEvent{
		Room:      room.Name,
		Creator:   room.Creator,
		Username:  username,
		Timestamp: time.Now(),
	}

	var err error
	switch name {
	case "RoomOpened":
		err = events.RoomOpenedV1.Publish(m.eventBus, event, nil)
	case "RoomClosed":
		err = events.RoomClosedV1.Publish(m.eventBus, event, nil)
	case "ParticipantJoined":
		err = events.ParticipantJoinedV1.Publish(m.eventBus, event, nil)
	case "ParticipantLeft":
		err = events.ParticipantLeftV1.Publish(m.eventBus, event, nil)
	}
	if err != nil {
		m.logger.Warn("Failed to publish room event", "event", name, "room", room.Name, "error", err)
	}
}
