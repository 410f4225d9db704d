package websocket

import (
	"log"
	"sync"

	"classhub/pkg/types"
)

// Registry tracks live connections per session: one teacher slot and a
// student map per session id, plus a flat per-session lookup. Pure
// connection bookkeeping; roster state and broadcast decisions live in the
// room layer.
type Registry struct {
	mu              sync.RWMutex
	sessions        map[string]map[string]*Connection // sessionID -> userID -> Connection
	sessionTeacher  map[string]*Connection            // sessionID -> teacher Connection
	sessionStudents map[string]map[string]*Connection // sessionID -> userID -> Connection
}

// NewRegistry creates a new connection registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:        make(map[string]map[string]*Connection),
		sessionTeacher:  make(map[string]*Connection),
		sessionStudents: make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds a connection to all maps atomically. A user
// reconnecting replaces their old handle; the superseded connection is
// closed asynchronously so registration never blocks on socket teardown.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	userID := conn.GetUserID()
	role := conn.GetRole()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]*Connection)
	}

	if existing, exists := r.sessions[sessionID][userID]; exists {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("Failed to close superseded connection for user %s: %v", userID, err)
			}
		}()
	}

	r.sessions[sessionID][userID] = conn

	switch role {
	case types.RoleTeacher:
		r.sessionTeacher[sessionID] = conn
	case types.RoleStudent:
		if r.sessionStudents[sessionID] == nil {
			r.sessionStudents[sessionID] = make(map[string]*Connection)
		}
		r.sessionStudents[sessionID][userID] = conn
	}

	return nil
}

// UnregisterConnection removes a connection. Idempotent, and removes only
// the exact instance that is registered, so a stale connection's deferred
// cleanup can never evict the reconnect that replaced it.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	userID := conn.GetUserID()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	users, exists := r.sessions[sessionID]
	if !exists {
		return
	}

	registered, exists := users[userID]
	if !exists || registered != conn {
		return
	}

	delete(users, userID)
	if len(users) == 0 {
		delete(r.sessions, sessionID)
	}

	switch conn.GetRole() {
	case types.RoleTeacher:
		if r.sessionTeacher[sessionID] == conn {
			delete(r.sessionTeacher, sessionID)
		}
	case types.RoleStudent:
		if students, ok := r.sessionStudents[sessionID]; ok {
			delete(students, userID)
			if len(students) == 0 {
				delete(r.sessionStudents, sessionID)
			}
		}
	}
}

// GetUserConnection returns the current connection for a user in a
// session.
func (r *Registry) GetUserConnection(sessionID, userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users, exists := r.sessions[sessionID]
	if !exists {
		return nil, false
	}
	conn, exists := users[userID]
	return conn, exists
}

// GetSessionConnections returns every connection in a session.
func (r *Registry) GetSessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users, exists := r.sessions[sessionID]
	if !exists {
		return nil
	}

	connections := make([]*Connection, 0, len(users))
	for _, conn := range users {
		connections = append(connections, conn)
	}
	return connections
}

// GetSessionTeacher returns the teacher's connection, if connected.
func (r *Registry) GetSessionTeacher(sessionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.sessionTeacher[sessionID]
	return conn, exists
}

// GetSessionStudents returns all student connections in a session.
func (r *Registry) GetSessionStudents(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	students, exists := r.sessionStudents[sessionID]
	if !exists {
		return nil
	}

	connections := make([]*Connection, 0, len(students))
	for _, conn := range students {
		connections = append(connections, conn)
	}
	return connections
}

// GetStats returns registry statistics for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, users := range r.sessions {
		total += len(users)
	}

	return map[string]int{
		"total_connections": total,
		"active_sessions":   len(r.sessions),
	}
}
