package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

type mockDatabaseManager struct {
	interfaces.DatabaseManager

	mu        sync.Mutex
	sessions  map[string]*types.Session
	createErr error
	updateErr error
}

func newMockDatabaseManager() *mockDatabaseManager {
	return &mockDatabaseManager{sessions: make(map[string]*types.Session)}
}

func (m *mockDatabaseManager) CreateSession(ctx context.Context, session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *mockDatabaseManager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}
	return session, nil
}

func (m *mockDatabaseManager) UpdateSession(ctx context.Context, session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *mockDatabaseManager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Session
	for _, s := range m.sessions {
		if s.Status == "active" {
			out = append(out, s)
		}
	}
	return out, nil
}

func TestManager_CreateSession(t *testing.T) {
	manager := NewManager(newMockDatabaseManager())

	session, err := manager.CreateSession(context.Background(), "Math 101", "t1", []string{"s1", "s2", "s1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if session.ID == "" {
		t.Error("session must get an id")
	}
	if session.Status != "active" {
		t.Errorf("status = %q, want active", session.Status)
	}
	if len(session.StudentIDs) != 2 {
		t.Errorf("duplicate students must be removed, got %v", session.StudentIDs)
	}

	cached, err := manager.GetSession(context.Background(), session.ID)
	if err != nil || cached.ID != session.ID {
		t.Errorf("created session should be retrievable: %v", err)
	}
}

func TestManager_CreateSessionValidation(t *testing.T) {
	manager := NewManager(newMockDatabaseManager())
	ctx := context.Background()

	tests := []struct {
		name       string
		sessName   string
		createdBy  string
		studentIDs []string
		want       error
	}{
		{"empty name", "", "t1", []string{"s1"}, ErrInvalidSessionName},
		{"bad creator", "Math", "t 1", []string{"s1"}, ErrInvalidCreatedBy},
		{"no students", "Math", "t1", nil, ErrEmptyStudentList},
		{"bad student id", "Math", "t1", []string{"s 1"}, ErrInvalidStudentID},
		{"reserved student id", "Math", "t1", []string{"teacher"}, ErrInvalidStudentID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.CreateSession(ctx, tt.sessName, tt.createdBy, tt.studentIDs)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestManager_LoadActiveSessions(t *testing.T) {
	db := newMockDatabaseManager()
	db.sessions["warm-1"] = &types.Session{ID: "warm-1", CreatedBy: "t1", Status: "active"}
	db.sessions["cold-1"] = &types.Session{ID: "cold-1", CreatedBy: "t1", Status: "ended"}

	manager := NewManager(db)
	if err := manager.LoadActiveSessions(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	sessions, _ := manager.ListActiveSessions(context.Background())
	if len(sessions) != 1 || sessions[0].ID != "warm-1" {
		t.Errorf("only active sessions should be cached, got %v", sessions)
	}
}

func TestManager_EndSession(t *testing.T) {
	db := newMockDatabaseManager()
	manager := NewManager(db)

	session, err := manager.CreateSession(context.Background(), "Math", "t1", []string{"s1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := manager.EndSession(context.Background(), session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}

	if session.Status != "ended" || session.EndTime == nil {
		t.Error("session must be marked ended with an end time")
	}

	sessions, _ := manager.ListActiveSessions(context.Background())
	if len(sessions) != 0 {
		t.Error("ended session must leave the active cache")
	}

	if err := manager.EndSession(context.Background(), session.ID); !errors.Is(err, ErrSessionAlreadyEnded) {
		t.Errorf("ending twice: got %v", err)
	}
	if err := manager.EndSession(context.Background(), "ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ending unknown session: got %v", err)
	}
}

func TestManager_ValidateSessionMembership(t *testing.T) {
	db := newMockDatabaseManager()
	manager := NewManager(db)

	session, err := manager.CreateSession(context.Background(), "Math", "t1", []string{"s1", "s2"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name   string
		userID string
		role   string
		want   error
	}{
		{"creator as teacher", "t1", types.RoleTeacher, nil},
		{"roster student", "s1", types.RoleStudent, nil},
		{"impostor teacher", "t2", types.RoleTeacher, ErrUnauthorized},
		{"unknown student", "s9", types.RoleStudent, ErrUnauthorized},
		{"creator as student", "t1", types.RoleStudent, ErrUnauthorized},
		{"bad role", "s1", "admin", ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := manager.ValidateSessionMembership(session.ID, tt.userID, tt.role)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if err := manager.ValidateSessionMembership("ghost", "t1", types.RoleTeacher); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: got %v", err)
	}
}

func TestManager_ValidateSessionMembershipRejectsEnded(t *testing.T) {
	db := newMockDatabaseManager()
	now := time.Now()
	db.sessions["old"] = &types.Session{
		ID: "old", CreatedBy: "t1", StudentIDs: []string{"s1"},
		Status: "ended", EndTime: &now,
	}

	manager := NewManager(db)
	err := manager.ValidateSessionMembership("old", "t1", types.RoleTeacher)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("ended session should look gone to joiners, got %v", err)
	}

	// Sentinels match the shared interface errors the handler checks.
	if !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Error("session errors must match the interface sentinels")
	}
}
