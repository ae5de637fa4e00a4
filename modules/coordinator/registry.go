package coordinator

import "sync"

// ConnectionRegistry maps live connections and app sessions to usernames.
// Connections and app sessions are guarded by separate locks.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	users  map[string]string // conn ID -> username
	byUser map[string]Conn   // username -> conn

	sessMu       sync.RWMutex
	sessions     map[string]string         // app session ID -> username
	userSessions map[string]map[string]bool // username -> app session IDs
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		users:        make(map[string]string),
		byUser:       make(map[string]Conn),
		sessions:     make(map[string]string),
		userSessions: make(map[string]map[string]bool),
	}
}

// Bind records that conn represents username. Rebinding the same
// connection replaces its previous user.
func (r *ConnectionRegistry) Bind(conn Conn, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if prev, ok := r.users[id]; ok && prev != username {
		if c, ok := r.byUser[prev]; ok && c.ID() == id {
			delete(r.byUser, prev)
		}
	}
	r.users[id] = username
	r.byUser[username] = conn
}

// Unbind forgets conn. Unknown connections are ignored.
func (r *ConnectionRegistry) Unbind(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	username, ok := r.users[id]
	if !ok {
		return
	}
	delete(r.users, id)
	if c, ok := r.byUser[username]; ok && c.ID() == id {
		delete(r.byUser, username)
	}
}

// LookupUser returns the username bound to conn.
func (r *ConnectionRegistry) LookupUser(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	username, ok := r.users[conn.ID()]
	return username, ok
}

// FindConnection returns the live connection bound to username.
func (r *ConnectionRegistry) FindConnection(username string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[username]
	return conn, ok
}

// Connections returns the number of bound connections.
func (r *ConnectionRegistry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// RegisterAppSession maps an app session to a user. The first registration
// wins; it returns false when id was already present.
func (r *ConnectionRegistry) RegisterAppSession(id, username string) bool {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return false
	}
	r.sessions[id] = username
	if r.userSessions[username] == nil {
		r.userSessions[username] = make(map[string]bool)
	}
	r.userSessions[username][id] = true
	return true
}

// ResolveAppSession returns the user of an app session.
func (r *ConnectionRegistry) ResolveAppSession(id string) (string, bool) {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	username, ok := r.sessions[id]
	return username, ok
}

// RemoveAppSession drops an app session. It returns false if id was unknown.
func (r *ConnectionRegistry) RemoveAppSession(id string) bool {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()

	username, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	if ids := r.userSessions[username]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.userSessions, username)
		}
	}
	return true
}

// IsSignedIn reports whether username holds at least one app session.
func (r *ConnectionRegistry) IsSignedIn(username string) bool {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	return len(r.userSessions[username]) > 0
}

// Sessions returns the number of registered app sessions.
func (r *ConnectionRegistry) Sessions() int {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	return len(r.sessions)
}
