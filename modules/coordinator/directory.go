package coordinator

import (
	"sort"
	"sync"
	"time"
)

// Room is an active room in the directory.
type Room struct {
	Name     string
	Creator  string
	OpenedAt time.Time
}

// ParticipantGroup is an ordered snapshot of the connections in a room.
type ParticipantGroup []Conn

// Contains reports whether conn is part of the group.
func (g ParticipantGroup) Contains(conn Conn) bool {
	for _, c := range g {
		if c.ID() == conn.ID() {
			return true
		}
	}
	return false
}

// Without returns a copy of the group minus conn.
func (g ParticipantGroup) Without(conn Conn) ParticipantGroup {
	out := make(ParticipantGroup, 0, len(g))
	for _, c := range g {
		if c.ID() != conn.ID() {
			out = append(out, c)
		}
	}
	return out
}

type activeRoom struct {
	room    Room
	mu      sync.Mutex
	members []Conn
	closed  bool
}

func (ar *activeRoom) snapshot() ParticipantGroup {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	group := make(ParticipantGroup, len(ar.members))
	copy(group, ar.members)
	return group
}

func (ar *activeRoom) contains(conn Conn) bool {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ParticipantGroup(ar.members).Contains(conn)
}

func (ar *activeRoom) remove(conn Conn) bool {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	for i, c := range ar.members {
		if c.ID() == conn.ID() {
			ar.members = append(ar.members[:i:i], ar.members[i+1:]...)
			return true
		}
	}
	return false
}

// RoomDirectory tracks active rooms and their participant groups. The
// directory lock only guards the name index; each group has its own lock.
type RoomDirectory struct {
	mu    sync.RWMutex
	rooms map[string]*activeRoom
}

// NewRoomDirectory creates an empty directory.
func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		rooms: make(map[string]*activeRoom),
	}
}

// Open activates room with first as its only participant.
func (d *RoomDirectory) Open(room Room, first Conn) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.rooms[room.Name]; exists {
		return ErrDuplicateRoomName
	}
	if room.OpenedAt.IsZero() {
		room.OpenedAt = time.Now()
	}
	d.rooms[room.Name] = &activeRoom{
		room:    room,
		members: []Conn{first},
	}
	return nil
}

// FindByName returns the active room called name.
func (d *RoomDirectory) FindByName(name string) (Room, bool) {
	ar, ok := d.get(name)
	if !ok {
		return Room{}, false
	}
	return ar.room, true
}

// Join appends conn to the group of the named room.
func (d *RoomDirectory) Join(name string, conn Conn) error {
	ar, ok := d.get(name)
	if !ok {
		return ErrRoomNotActive
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.closed {
		return ErrRoomNotActive
	}
	if !ParticipantGroup(ar.members).Contains(conn) {
		ar.members = append(ar.members, conn)
	}
	return nil
}

// Group returns a snapshot of the named room's participants.
func (d *RoomDirectory) Group(name string) (ParticipantGroup, bool) {
	ar, ok := d.get(name)
	if !ok {
		return nil, false
	}
	return ar.snapshot(), true
}

// RoomsContaining returns the rooms whose group includes conn.
func (d *RoomDirectory) RoomsContaining(conn Conn) []Room {
	var rooms []Room
	for _, ar := range d.all() {
		if ar.contains(conn) {
			rooms = append(rooms, ar.room)
		}
	}
	return rooms
}

// Depart takes conn out of the named room and returns the group as it was
// just before. It reports false when conn was not in the room, so only one
// of several concurrent departures proceeds.
func (d *RoomDirectory) Depart(name string, conn Conn) (ParticipantGroup, bool) {
	ar, ok := d.get(name)
	if !ok {
		return nil, false
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.closed || !ParticipantGroup(ar.members).Contains(conn) {
		return nil, false
	}
	group := make(ParticipantGroup, len(ar.members))
	copy(group, ar.members)
	ar.members = group.Without(conn)
	return group, true
}

// RemoveConnection takes conn out of every group and returns the rooms
// it was removed from.
func (d *RoomDirectory) RemoveConnection(conn Conn) []Room {
	var affected []Room
	for _, ar := range d.all() {
		if ar.remove(conn) {
			affected = append(affected, ar.room)
		}
	}
	return affected
}

// Close deactivates the named room and drops its group.
func (d *RoomDirectory) Close(name string) bool {
	_, ok := d.CloseGroup(name, nil)
	return ok
}

// CloseGroup deactivates the named room and returns its last group. When
// member is set the room is only closed if member still belongs to it.
// Only the caller that actually closed the room gets ok.
func (d *RoomDirectory) CloseGroup(name string, member Conn) (ParticipantGroup, bool) {
	d.mu.Lock()
	ar, ok := d.rooms[name]
	if !ok {
		d.mu.Unlock()
		return nil, false
	}
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if member != nil && !ParticipantGroup(ar.members).Contains(member) {
		d.mu.Unlock()
		return nil, false
	}
	delete(d.rooms, name)
	d.mu.Unlock()

	group := ParticipantGroup(ar.members)
	ar.closed = true
	ar.members = nil
	return group, true
}

// Rooms returns the active rooms ordered by name.
func (d *RoomDirectory) Rooms() []Room {
	all := d.all()
	rooms := make([]Room, 0, len(all))
	for _, ar := range all {
		rooms = append(rooms, ar.room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}

// Size returns the number of active rooms.
func (d *RoomDirectory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

func (d *RoomDirectory) get(name string) (*activeRoom, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ar, ok := d.rooms[name]
	return ar, ok
}

func (d *RoomDirectory) all() []*activeRoom {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*activeRoom, 0, len(d.rooms))
	for _, ar := range d.rooms {
		out = append(out, ar)
	}
	return out
}
