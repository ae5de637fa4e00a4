package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/chatroom-coordinator/domain/chat"
	"github.com/go-monolith/mono/pkg/types"
)

const sessionNotFoundNotice = "The chat session was not found."

// Coordinator owns the live chat state: who is connected, which rooms are
// open, who may join them. It is safe for concurrent use.
type Coordinator struct {
	users       UserDirectory
	rooms       RoomPersistence
	registry    *ConnectionRegistry
	invitations *InvitationLedger
	directory   *RoomDirectory
	fanout      *Fanout
	observer    Observer
	logger      types.Logger
	now         func() time.Time
	running     atomic.Bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver registers an observer for room transitions.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Coordinator. It must be started before rooms can be opened.
func New(users UserDirectory, rooms RoomPersistence, logger types.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		users:       users,
		rooms:       rooms,
		registry:    NewConnectionRegistry(),
		invitations: NewInvitationLedger(),
		directory:   NewRoomDirectory(),
		fanout:      NewFanout(logger),
		observer:    nopObserver{},
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start makes the coordinator accept new sessions and rooms.
func (c *Coordinator) Start(_ context.Context) error {
	if c.users == nil || c.rooms == nil {
		return fmt.Errorf("coordinator: user directory and room persistence are required")
	}
	c.running.Store(true)
	c.logger.Info("Coordinator started")
	return nil
}

// Stop closes every active room, notifying the participants still connected.
func (c *Coordinator) Stop(_ context.Context) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}

	closed := 0
	for _, room := range c.directory.Rooms() {
		group, ok := c.directory.CloseGroup(room.Name, nil)
		if !ok {
			continue
		}
		c.invitations.Remove(room.Name)
		msg := c.systemMessage(chat.EventClosed, room.Name, "",
			fmt.Sprintf("The chat room %s has been closed by the server.", room.Name))
		c.fanout.SendToGroup(openMembers(group), msg)
		for _, conn := range group {
			c.registry.Unbind(conn)
		}
		closed++
	}

	c.logger.Info("Coordinator stopped", "closedRooms", closed)
	return nil
}

// Registry exposes the connection registry.
func (c *Coordinator) Registry() *ConnectionRegistry { return c.registry }

// Directory exposes the room directory.
func (c *Coordinator) Directory() *RoomDirectory { return c.directory }

// Invitations exposes the invitation ledger.
func (c *Coordinator) Invitations() *InvitationLedger { return c.invitations }

// EnterLobby registers a freshly signed-in app session and records the
// sign-in. Replayed registrations are ignored.
func (c *Coordinator) EnterLobby(ctx context.Context, appSessionID, username string) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if appSessionID == "" {
		return ErrSessionNotFound
	}

	if !c.registry.RegisterAppSession(appSessionID, username) {
		c.logger.Debug("App session already registered", "session", appSessionID)
		return nil
	}
	if err := c.users.RecordSignIn(ctx, username); err != nil {
		return fmt.Errorf("failed to record sign-in: %w", err)
	}
	c.logger.Info("User entered lobby", "username", username, "sessions", c.registry.Sessions())
	return nil
}

// PreflightHost checks that username may host roomName and installs the
// invitation list.
func (c *Coordinator) PreflightHost(ctx context.Context, username, roomName string, invitees []string) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if err := c.inspectUser(ctx, username, nil); err != nil {
		return c.refuse("Host preflight refused", username, roomName, err)
	}
	if err := ValidateRoomName(roomName); err != nil {
		return c.refuse("Host preflight refused", username, roomName, err)
	}

	room, err := c.rooms.GetOrCreateRoom(ctx, roomName, username)
	if err != nil {
		return fmt.Errorf("failed to load room %s: %w", roomName, err)
	}
	if room.Creator != username {
		return c.refuse("Host preflight refused", username, roomName, ErrAlreadyInUseByAnotherUser)
	}

	c.invitations.Create(roomName, invitees)
	return nil
}

// PreflightGuest checks that username may join roomName. It has no side
// effects beyond evicting a stale connection of the same user.
func (c *Coordinator) PreflightGuest(ctx context.Context, username, roomName string) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if err := c.inspectUser(ctx, username, nil); err != nil {
		return c.refuse("Guest preflight refused", username, roomName, err)
	}
	if _, ok := c.directory.FindByName(roomName); !ok {
		return c.refuse("Guest preflight refused", username, roomName, ErrRoomNotOpen)
	}
	if !c.invitations.IsInvited(roomName, username) {
		return c.refuse("Guest preflight refused", username, roomName, ErrNotInvited)
	}
	return nil
}

// OpenRoom activates roomName with conn as the host connection.
func (c *Coordinator) OpenRoom(ctx context.Context, conn Conn, roomName, username string) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	// Evicting the host's stale connection closes its room and drops the
	// list installed by the host preflight.
	invitees, _ := c.invitations.Invitees(roomName)
	if err := c.inspectUser(ctx, username, conn); err != nil {
		return c.refuse("Room opening refused", username, roomName, err)
	}
	if err := ValidateRoomName(roomName); err != nil {
		return c.refuse("Room opening refused", username, roomName, err)
	}
	c.registry.Bind(conn, username)

	stored, err := c.rooms.GetOrCreateRoom(ctx, roomName, username)
	if err != nil {
		return fmt.Errorf("failed to load room %s: %w", roomName, err)
	}
	if stored.Creator != username {
		return c.refuse("Room opening failed", username, roomName, ErrAlreadyInUseByAnotherUser)
	}

	room := Room{Name: roomName, Creator: username, OpenedAt: c.now()}
	if err := c.directory.Open(room, conn); err != nil {
		return c.refuse("Room opening failed", username, roomName, err)
	}
	if !c.invitations.Has(roomName) {
		c.invitations.Create(roomName, invitees)
	}

	msg := c.systemMessage(chat.EventOpened, roomName, username, username+" has opened the chat room.")
	err = c.publish(ctx, roomName, msg)
	c.observer.RoomOpened(room)
	c.logger.Info("Room opened", "room", roomName, "host", username)
	return err
}

// JoinRoom adds conn as a guest connection of roomName.
func (c *Coordinator) JoinRoom(ctx context.Context, conn Conn, roomName, username string) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if err := c.inspectUser(ctx, username, conn); err != nil {
		return c.refuse("Room join refused", username, roomName, err)
	}
	c.registry.Bind(conn, username)

	room, ok := c.directory.FindByName(roomName)
	if !ok {
		return c.refuse("Attempted to join a closed room", username, roomName, ErrRoomNotActive)
	}
	if room.Creator != username && !c.invitations.IsInvited(roomName, username) {
		return c.refuse("Room join refused", username, roomName, ErrNotInvited)
	}
	if err := c.directory.Join(roomName, conn); err != nil {
		return c.refuse("Attempted to join a closed room", username, roomName, err)
	}

	msg := c.systemMessage(chat.EventJoined, roomName, username, username+" has joined the chat.")
	err := c.publish(ctx, roomName, msg)
	c.observer.ParticipantJoined(room, username)
	c.logger.Info("User joined room", "room", roomName, "username", username)
	return err
}

// ContinueConversation posts body from conn to its room. A connection that
// belongs to no room gets a direct notice and nothing is broadcast.
func (c *Coordinator) ContinueConversation(ctx context.Context, conn Conn, body string, kind chat.MediaKind) error {
	username, bound := c.registry.LookupUser(conn)
	rooms := c.directory.RoomsContaining(conn)
	if !bound || len(rooms) == 0 {
		c.fanout.Send(conn, c.notice(sessionNotFoundNotice))
		return ErrSessionNotFound
	}
	if err := ValidateMessage(body); err != nil {
		c.fanout.Send(conn, c.notice(err.Error()))
		return err
	}

	room := rooms[0]
	msg := chat.ChatMessage{
		Event:     chat.EventMessage,
		Author:    username,
		Room:      room.Name,
		Timestamp: c.now(),
		Body:      body,
		Kind:      kind,
	}
	return c.publish(ctx, room.Name, msg)
}

// LeaveRoom removes conn from its room. When conn belongs to the room's
// creator the whole room is closed. conn is always unbound afterwards.
func (c *Coordinator) LeaveRoom(ctx context.Context, conn Conn) error {
	defer c.registry.Unbind(conn)

	username, _ := c.registry.LookupUser(conn)
	var errs []error
	for _, room := range c.directory.RoomsContaining(conn) {
		if room.Creator == username {
			errs = append(errs, c.closeRoom(ctx, conn, room, username))
			continue
		}
		errs = append(errs, c.departRoom(ctx, conn, room, username))
	}
	return errors.Join(errs...)
}

// RelayUploadResult turns a finished upload into a media message from the
// uploader's current connection.
func (c *Coordinator) RelayUploadResult(ctx context.Context, appSessionID string, itemNumber int64, kind chat.MediaKind) error {
	username, ok := c.registry.ResolveAppSession(appSessionID)
	if !ok {
		c.logger.Info("Dropping upload result for unknown session", "session", appSessionID, "item", itemNumber)
		return nil
	}
	conn, ok := c.registry.FindConnection(username)
	if !ok {
		c.logger.Info("Dropping upload result, user has no connection", "username", username, "item", itemNumber)
		return nil
	}
	return c.ContinueConversation(ctx, conn, chat.MediaReference(username, itemNumber, kind), kind)
}

// TerminateAppSession ends an app session: the user leaves any room, the
// sign-out is recorded and the session is forgotten. Unknown ids are ignored.
func (c *Coordinator) TerminateAppSession(ctx context.Context, appSessionID string) error {
	username, ok := c.registry.ResolveAppSession(appSessionID)
	if !ok {
		return nil
	}

	var leaveErr error
	if conn, found := c.registry.FindConnection(username); found {
		leaveErr = c.LeaveRoom(ctx, conn)
	}
	if !c.registry.RemoveAppSession(appSessionID) {
		return leaveErr
	}

	var signOutErr error
	if err := c.users.RecordSignOut(ctx, username); err != nil {
		signOutErr = fmt.Errorf("failed to record sign-out: %w", err)
	}

	c.logger.Info("App session removed",
		"session", appSessionID,
		"sessions", c.registry.Sessions(),
		"connections", c.registry.Connections(),
		"rooms", c.directory.Size(),
		"invitationLists", c.invitations.Size())
	return errors.Join(leaveErr, signOutErr)
}

// ActiveRooms lists the open rooms with their host and participants.
func (c *Coordinator) ActiveRooms() []RoomSnapshot {
	rooms := c.directory.Rooms()
	out := make([]RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		group, ok := c.directory.Group(room.Name)
		if !ok {
			continue
		}
		participants := make([]string, 0, len(group))
		for _, conn := range group {
			if username, ok := c.registry.LookupUser(conn); ok {
				participants = append(participants, username)
			}
		}
		out = append(out, RoomSnapshot{
			Name:         room.Name,
			Host:         room.Creator,
			OpenedAt:     room.OpenedAt,
			Participants: participants,
		})
	}
	return out
}

// Stats returns registry sizes for health reporting.
func (c *Coordinator) Stats() map[string]any {
	return map[string]any{
		"running":          c.running.Load(),
		"app_sessions":     c.registry.Sessions(),
		"connections":      c.registry.Connections(),
		"active_rooms":     c.directory.Size(),
		"invitation_lists": c.invitations.Size(),
	}
}

// inspectUser checks that username is signed in and evicts any other
// connection still bound to it.
func (c *Coordinator) inspectUser(ctx context.Context, username string, current Conn) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if !c.registry.IsSignedIn(username) {
		return ErrUserNotFound
	}

	stale, ok := c.registry.FindConnection(username)
	if !ok || (current != nil && stale.ID() == current.ID()) {
		return nil
	}
	c.logger.Info("Evicting stale connection", "username", username, "conn", stale.ID())
	if err := c.LeaveRoom(ctx, stale); err != nil {
		c.logger.Error("Failed to persist eviction", "username", username, "error", err)
	}
	return nil
}

// closeRoom and departRoom act only when this call changed the directory,
// so concurrent leaves of the same connection announce the room once.
func (c *Coordinator) closeRoom(ctx context.Context, conn Conn, room Room, username string) error {
	group, ok := c.directory.CloseGroup(room.Name, conn)
	if !ok {
		return nil
	}
	c.invitations.Remove(room.Name)

	msg := c.systemMessage(chat.EventClosed, room.Name, username, username+" has left and closed the chat room.")
	c.fanout.SendToGroup(openMembers(group), msg)
	err := c.store(ctx, msg)

	c.observer.RoomClosed(room)
	c.logger.Info("Room closed", "room", room.Name, "host", username)
	return err
}

func (c *Coordinator) departRoom(ctx context.Context, conn Conn, room Room, username string) error {
	group, ok := c.directory.Depart(room.Name, conn)
	if !ok {
		return nil
	}

	msg := c.systemMessage(chat.EventLeft, room.Name, username, username+" has left the room.")
	c.fanout.SendToGroup(openMembers(group), msg)
	err := c.store(ctx, msg)

	c.observer.ParticipantLeft(room, username)
	c.logger.Info("User left room", "room", room.Name, "username", username)
	return err
}

// publish persists msg and fans it out to the room. Delivery happens even
// when persistence fails; the persistence error is returned.
func (c *Coordinator) publish(ctx context.Context, roomName string, msg chat.ChatMessage) error {
	err := c.store(ctx, msg)
	if group, ok := c.directory.Group(roomName); ok {
		c.fanout.SendToGroup(group, msg)
	}
	return err
}

func (c *Coordinator) store(ctx context.Context, msg chat.ChatMessage) error {
	if err := c.rooms.StoreMessage(ctx, msg); err != nil {
		c.logger.Error("Failed to store message", "room", msg.Room, "event", string(msg.Event), "error", err)
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

func (c *Coordinator) systemMessage(event chat.Event, room, author, body string) chat.ChatMessage {
	return chat.ChatMessage{
		Event:     event,
		Author:    author,
		Room:      room,
		Timestamp: c.now(),
		Body:      body,
		Kind:      chat.MediaText,
	}
}

func (c *Coordinator) notice(body string) chat.ChatMessage {
	return chat.ChatMessage{
		Event:     chat.EventNotice,
		Timestamp: c.now(),
		Body:      body,
		Kind:      chat.MediaText,
	}
}

func (c *Coordinator) refuse(what, username, roomName string, err error) error {
	c.logger.Info(what, "username", username, "room", roomName, "reason", err.Error())
	return err
}

func (c *Coordinator) checkRunning() error {
	if !c.running.Load() {
		return ErrNotStarted
	}
	return nil
}

func openMembers(group ParticipantGroup) ParticipantGroup {
	out := make(ParticipantGroup, 0, len(group))
	for _, conn := range group {
		if conn.IsOpen() {
			out = append(out, conn)
		}
	}
	return out
}
