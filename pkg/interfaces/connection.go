package interfaces

// Connection represents one participant's WebSocket connection. Pure
// abstraction without implementation details so the hub, router, and room
// layers never touch the underlying socket.
type Connection interface {
	// WriteJSON sends a JSON message to the client. Implementations must be
	// safe for concurrent callers; the single-writer pattern is the expected
	// way to satisfy that.
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources.
	Close() error

	// GetUserID returns the connected user's ID.
	GetUserID() string

	// GetRole returns "teacher" or "student" as assigned by the room.
	GetRole() string

	// GetSessionID returns the session this connection is scoped to.
	GetSessionID() string

	// IsAuthenticated reports whether credentials have been set.
	IsAuthenticated() bool

	// SetCredentials binds the connection to a user, role, and session after
	// upstream token verification and role assignment.
	SetCredentials(userID, role, sessionID string) error
}
