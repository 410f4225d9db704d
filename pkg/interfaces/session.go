package interfaces

import (
	"context"

	"classhub/pkg/types"
)

// SessionManager handles session record lifecycle. Session records are
// created externally (REST surface); the live room state for a session is
// owned by the room package, keyed by the same session id.
type SessionManager interface {
	// CreateSession creates a new session record.
	CreateSession(ctx context.Context, name string, createdBy string, studentIDs []string) (*types.Session, error)

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// EndSession ends an active session.
	EndSession(ctx context.Context, sessionID string) error

	// ListActiveSessions returns all active sessions.
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// ValidateSessionMembership checks whether the user may join the
	// session under the claimed role. Teachers have access to sessions they
	// created; students must appear in the roster.
	ValidateSessionMembership(sessionID, userID, role string) error
}
