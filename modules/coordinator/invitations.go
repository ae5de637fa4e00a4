package coordinator

import "sync"

// InvitationLedger holds the guest list of every active room.
type InvitationLedger struct {
	mu    sync.RWMutex
	lists map[string]map[string]struct{}
}

// NewInvitationLedger creates an empty ledger.
func NewInvitationLedger() *InvitationLedger {
	return &InvitationLedger{
		lists: make(map[string]map[string]struct{}),
	}
}

// Create replaces the invitation list of room.
func (l *InvitationLedger) Create(room string, invitees []string) {
	list := make(map[string]struct{}, len(invitees))
	for _, name := range invitees {
		if name != "" {
			list[name] = struct{}{}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lists[room] = list
}

// Remove discards the invitation list of room.
func (l *InvitationLedger) Remove(room string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lists, room)
}

// IsInvited reports whether username is on room's list. A missing list
// means nobody is invited.
func (l *InvitationLedger) IsInvited(room, username string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list, ok := l.lists[room]
	if !ok {
		return false
	}
	_, invited := list[username]
	return invited
}

// Invitees returns a copy of room's list and whether one exists.
func (l *InvitationLedger) Invitees(room string) ([]string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list, ok := l.lists[room]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for name := range list {
		out = append(out, name)
	}
	return out, true
}

// Has reports whether room has a list.
func (l *InvitationLedger) Has(room string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.lists[room]
	return ok
}

// Size returns the number of active lists.
func (l *InvitationLedger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.lists)
}
