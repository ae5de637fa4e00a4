package broadcast

import (
	"context"
	"fmt"
	"log"

	"github.com/example/chatroom-coordinator/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
)

// Lobby update types.
const (
	UpdateRoomOpened        = "room_opened"
	UpdateRoomClosed        = "room_closed"
	UpdateParticipantJoined = "participant_joined"
	UpdateParticipantLeft   = "participant_left"
)

// BroadcastModule pushes room lifecycle events to lobby websocket clients.
type BroadcastModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule() *BroadcastModule {
	return &BroadcastModule{
		hub: NewHub(),
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start runs the lobby hub.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	log.Println("[broadcast] Module started - lobby hub running")
	return nil
}

// Stop shuts down the module.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	log.Printf("[broadcast] Module stopped - %d lobby clients were connected", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"lobby_clients":   m.hub.ClientCount(),
			"dropped_clients": m.hub.Dropped(),
		},
	}
}

// Hub returns the lobby hub.
func (m *BroadcastModule) Hub() *Hub {
	return m.hub
}

// RegisterEventConsumers subscribes to room lifecycle events.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomOpenedV1, m.relay(UpdateRoomOpened), m,
	); err != nil {
		return fmt.Errorf("failed to register RoomOpened consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomClosedV1, m.relay(UpdateRoomClosed), m,
	); err != nil {
		return fmt.Errorf("failed to register RoomClosed consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.ParticipantJoinedV1, m.relay(UpdateParticipantJoined), m,
	); err != nil {
		return fmt.Errorf("failed to register ParticipantJoined consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.ParticipantLeftV1, m.relay(UpdateParticipantLeft), m,
	); err != nil {
		return fmt.Errorf("failed to register ParticipantLeft consumer: %w", err)
	}

	log.Println("[broadcast] Registered event consumers: RoomOpened, RoomClosed, ParticipantJoined, ParticipantLeft")
	return nil
}

func (m *BroadcastModule) relay(updateType string) func(context.Context, events.RoomActivityEvent, *mono.Msg) error {
	return func(_ context.Context, event events.RoomActivityEvent, _ *mono.Msg) error {
		m.hub.Broadcast(LobbyUpdate{
			Type:      updateType,
			Room:      event.Room,
			Creator:   event.Creator,
			Username:  event.Username,
			Timestamp: event.Timestamp,
		})
		return nil
	}
}
