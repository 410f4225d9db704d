package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Manager implements the SessionManager interface: session records in the
// database with an in-memory cache of active ones, consulted on every
// WebSocket connect for membership checks.
type Manager struct {
	dbManager      interfaces.DatabaseManager
	activeSessions map[string]*types.Session
	mu             sync.RWMutex
}

// NewManager creates a new session manager.
func NewManager(dbManager interfaces.DatabaseManager) *Manager {
	return &Manager{
		dbManager:      dbManager,
		activeSessions: make(map[string]*types.Session),
	}
}

// LoadActiveSessions warms the cache from the database on startup, so
// sessions survive a coordinator restart.
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.dbManager.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range sessions {
		m.activeSessions[session.ID] = session
	}

	log.Printf("Loaded %d active sessions", len(sessions))
	return nil
}

// CreateSession validates, persists and caches a new session record. The
// creator becomes the session's teacher.
func (m *Manager) CreateSession(ctx context.Context, name string, createdBy string, studentIDs []string) (*types.Session, error) {
	session := &types.Session{
		ID:         uuid.New().String(),
		Name:       name,
		CreatedBy:  createdBy,
		StudentIDs: removeDuplicates(studentIDs),
		StartTime:  time.Now(),
		Status:     "active",
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	for _, studentID := range session.StudentIDs {
		if !types.IsValidUserID(studentID) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidStudentID, studentID)
		}
	}

	if err := m.dbManager.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.activeSessions[session.ID] = session
	m.mu.Unlock()

	log.Printf("Created session: id=%s name=%s students=%d", session.ID, session.Name, len(session.StudentIDs))
	return session, nil
}

// GetSession retrieves a session, cache first, database for ended ones.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	if session, exists := m.activeSessions[sessionID]; exists {
		m.mu.RUnlock()
		return session, nil
	}
	m.mu.RUnlock()

	return m.dbManager.GetSession(ctx, sessionID)
}

// EndSession marks a session ended and evicts it from the cache.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	session, exists := m.activeSessions[sessionID]
	m.mu.RUnlock()

	if !exists {
		dbSession, err := m.dbManager.GetSession(ctx, sessionID)
		if err != nil {
			return ErrSessionNotFound
		}
		if dbSession.Status == "ended" {
			return ErrSessionAlreadyEnded
		}
		session = dbSession
	}

	now := time.Now()
	session.EndTime = &now
	session.Status = "ended"

	if err := m.dbManager.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	m.mu.Lock()
	delete(m.activeSessions, sessionID)
	m.mu.Unlock()

	log.Printf("Ended session: id=%s name=%s", session.ID, session.Name)
	return nil
}

// ListActiveSessions returns the cached active sessions.
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(m.activeSessions))
	for _, session := range m.activeSessions {
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// ValidateSessionMembership checks whether the user may connect to the
// session under the claimed role. The teacher seat belongs to the
// session's creator; students must appear in the roster.
func (m *Manager) ValidateSessionMembership(sessionID, userID, role string) error {
	m.mu.RLock()
	session, exists := m.activeSessions[sessionID]
	m.mu.RUnlock()

	if !exists {
		dbSession, err := m.dbManager.GetSession(context.Background(), sessionID)
		if err != nil {
			return ErrSessionNotFound
		}
		session = dbSession
	}

	// An ended session is gone as far as joiners are concerned.
	if session.Status != "active" {
		return ErrSessionNotFound
	}

	switch role {
	case types.RoleTeacher:
		if session.CreatedBy != userID {
			return ErrUnauthorized
		}
		return nil

	case types.RoleStudent:
		for _, studentID := range session.StudentIDs {
			if studentID == userID {
				return nil
			}
		}
		return ErrUnauthorized

	default:
		return ErrInvalidRole
	}
}

// GetStats returns session manager statistics.
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"active_sessions": len(m.activeSessions),
	}
}

func removeDuplicates(studentIDs []string) []string {
	seen := make(map[string]bool)
	unique := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique
}
