package interfaces

import (
	"context"

	"classhub/pkg/types"
)

// DatabaseManager handles all persistence. A single interface keeps
// transaction handling and connection management in one place.
type DatabaseManager interface {
	// Session operations.

	// CreateSession creates a new session record.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSession updates an existing session (primarily for ending it).
	UpdateSession(ctx context.Context, session *types.Session) error

	// ListActiveSessions returns all active sessions, used to warm the
	// session cache at startup.
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// Private chat operations. Chat is the only protocol traffic that is
	// persisted; workspace and terminal state live in the room and are
	// resynced from its canonical buffers, not from the database.

	// StoreChatMessage persists one private message before it is relayed.
	StoreChatMessage(ctx context.Context, msg *types.ChatMessage) error

	// GetConversation returns the chat log between two users in a session,
	// ordered by timestamp, for reload after a reconnect.
	GetConversation(ctx context.Context, sessionID, userA, userB string) ([]*types.ChatMessage, error)

	// Homework operations.

	// StoreHomeworkAssignment persists an assignment so it survives a
	// student reconnect.
	StoreHomeworkAssignment(ctx context.Context, hw *types.HomeworkAssignment) error

	// GetHomeworkAssignments returns all assignments for a session.
	GetHomeworkAssignments(ctx context.Context, sessionID string) ([]*types.HomeworkAssignment, error)

	// Health and lifecycle.

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close closes the database connection synchronously so pending writes
	// complete before shutdown.
	Close() error
}
