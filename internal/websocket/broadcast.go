package websocket

import (
	"log"

	"classhub/pkg/types"
)

// Broadcaster fans envelopes out over the registry. It implements the fan
// out surface the room layer depends on (ToAll / ToStudents / ToTeacher /
// ToOne). Delivery is per-connection enqueue: one failed or slow client is
// logged and skipped, never allowed to stall the rest of the audience.
type Broadcaster struct {
	registry *Registry
}

// NewBroadcaster creates a broadcaster over the registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// ToAll delivers to every participant in the session.
func (b *Broadcaster) ToAll(sessionID string, msg *types.Envelope) {
	for _, conn := range b.registry.GetSessionConnections(sessionID) {
		b.deliver(conn, msg)
	}
}

// ToStudents delivers to every student in the session.
func (b *Broadcaster) ToStudents(sessionID string, msg *types.Envelope) {
	for _, conn := range b.registry.GetSessionStudents(sessionID) {
		b.deliver(conn, msg)
	}
}

// ToTeacher delivers to the session's teacher, if connected.
func (b *Broadcaster) ToTeacher(sessionID string, msg *types.Envelope) {
	if conn, exists := b.registry.GetSessionTeacher(sessionID); exists {
		b.deliver(conn, msg)
	}
}

// ToOne delivers to a single named participant. Offline targets are a
// silent drop per the relay contract.
func (b *Broadcaster) ToOne(sessionID, userID string, msg *types.Envelope) {
	if conn, exists := b.registry.GetUserConnection(sessionID, userID); exists {
		b.deliver(conn, msg)
	}
}

// IsOnline reports whether the user currently has a live connection.
func (b *Broadcaster) IsOnline(sessionID, userID string) bool {
	_, exists := b.registry.GetUserConnection(sessionID, userID)
	return exists
}

func (b *Broadcaster) deliver(conn *Connection, msg *types.Envelope) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Failed to deliver %s to %s: %v", msg.Type, conn.GetUserID(), err)
	}
}
