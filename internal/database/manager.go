package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "classhub/pkg/database"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Manager implements the DatabaseManager interface on SQLite. All writes
// funnel through a single goroutine; SQLite allows exactly one writer and
// serializing in-process avoids busy-loop contention under WAL.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a queued database write.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas, and starts the writer
// goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// GetDB exposes the pool for migration and schema-validation tooling.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// writeLoop processes all write operations in a single goroutine. A failed
// write is retried once after 5 seconds before the error is surfaced.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// CreateSession creates a new session record.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		studentIDsJSON, err := json.Marshal(session.StudentIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal student IDs: %w", err)
		}

		query := `
			INSERT INTO sessions (id, name, created_by, student_ids, start_time, status)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err = tx.ExecContext(ctx, query,
			session.ID,
			session.Name,
			session.CreatedBy,
			string(studentIDsJSON),
			session.StartTime,
			session.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit session creation: %w", err)
		}

		return nil
	})
}

// GetSession retrieves a session by ID. Reads run concurrently with the
// writer goroutine.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	query := `
		SELECT id, name, created_by, student_ids, start_time, end_time, status
		FROM sessions
		WHERE id = ?
	`

	row := m.db.QueryRowContext(ctx, query, sessionID)

	var session types.Session
	var studentIDsJSON string
	var endTime sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.Name,
		&session.CreatedBy,
		&studentIDsJSON,
		&session.StartTime,
		&endTime,
		&session.Status,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if err := json.Unmarshal([]byte(studentIDsJSON), &session.StudentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal student IDs: %w", err)
	}

	if endTime.Valid {
		session.EndTime = &endTime.Time
	}

	return &session, nil
}

// UpdateSession updates an existing session, primarily to end it.
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		studentIDsJSON, err := json.Marshal(session.StudentIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal student IDs: %w", err)
		}

		query := `
			UPDATE sessions
			SET name = ?, created_by = ?, student_ids = ?, start_time = ?, end_time = ?, status = ?
			WHERE id = ?
		`
		result, err := db.ExecContext(ctx, query,
			session.Name,
			session.CreatedBy,
			string(studentIDsJSON),
			session.StartTime,
			session.EndTime,
			session.Status,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if rows == 0 {
			return interfaces.ErrSessionNotFound
		}

		return nil
	})
}

// ListActiveSessions returns all active sessions.
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	query := `
		SELECT id, name, created_by, student_ids, start_time, end_time, status
		FROM sessions
		WHERE status = 'active'
		ORDER BY start_time DESC
	`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		var session types.Session
		var studentIDsJSON string
		var endTime sql.NullTime

		err := rows.Scan(
			&session.ID,
			&session.Name,
			&session.CreatedBy,
			&studentIDsJSON,
			&session.StartTime,
			&endTime,
			&session.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}

		if err := json.Unmarshal([]byte(studentIDsJSON), &session.StudentIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal student IDs: %w", err)
		}

		if endTime.Valid {
			session.EndTime = &endTime.Time
		}

		sessions = append(sessions, &session)
	}

	return sessions, rows.Err()
}

// StoreChatMessage persists one private message. Called before the relay
// forwards it (persist-then-route).
func (m *Manager) StoreChatMessage(ctx context.Context, msg *types.ChatMessage) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO chat_messages (id, session_id, from_user, to_user, text, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			msg.ID,
			msg.SessionID,
			msg.From,
			msg.To,
			msg.Text,
			msg.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chat message: %w", err)
		}
		return nil
	})
}

// GetConversation returns the chat log between two users in a session,
// oldest first.
func (m *Manager) GetConversation(ctx context.Context, sessionID, userA, userB string) ([]*types.ChatMessage, error) {
	query := `
		SELECT id, session_id, from_user, to_user, text, timestamp
		FROM chat_messages
		WHERE session_id = ?
		  AND ((from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?))
		ORDER BY timestamp ASC
	`

	rows, err := m.db.QueryContext(ctx, query, sessionID, userA, userB, userB, userA)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var msg types.ChatMessage
		err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.From,
			&msg.To,
			&msg.Text,
			&msg.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// StoreHomeworkAssignment persists a homework assignment.
func (m *Manager) StoreHomeworkAssignment(ctx context.Context, hw *types.HomeworkAssignment) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO homework_assignments (id, session_id, student_id, lesson_id, teacher_session_id, title, assigned_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			hw.ID,
			hw.SessionID,
			hw.StudentID,
			hw.LessonID,
			hw.TeacherSessionID,
			hw.Title,
			hw.AssignedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert homework assignment: %w", err)
		}
		return nil
	})
}

// GetHomeworkAssignments returns all assignments for a session, oldest
// first.
func (m *Manager) GetHomeworkAssignments(ctx context.Context, sessionID string) ([]*types.HomeworkAssignment, error) {
	query := `
		SELECT id, session_id, student_id, lesson_id, teacher_session_id, title, assigned_at
		FROM homework_assignments
		WHERE session_id = ?
		ORDER BY assigned_at ASC
	`

	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query homework assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []*types.HomeworkAssignment
	for rows.Next() {
		var hw types.HomeworkAssignment
		err := rows.Scan(
			&hw.ID,
			&hw.SessionID,
			&hw.StudentID,
			&hw.LessonID,
			&hw.TeacherSessionID,
			&hw.Title,
			&hw.AssignedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan homework assignment row: %w", err)
		}
		assignments = append(assignments, &hw)
	}

	return assignments, rows.Err()
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	var result int
	err := m.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close drains the writer goroutine and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
