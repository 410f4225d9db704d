package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies the deployed schema matches what the managers
// expect, independently of the migration system.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"sessions":             "Session records",
		"chat_messages":        "Private chat log",
		"homework_assignments": "Homework assignment records",
		"schema_migrations":    "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column structure against the Go structs
// the managers scan into.
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":          "TEXT",
		"name":        "TEXT",
		"created_by":  "TEXT",
		"student_ids": "TEXT",
		"start_time":  "DATETIME",
		"end_time":    "DATETIME",
		"status":      "TEXT",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	chatColumns := map[string]string{
		"id":         "TEXT",
		"session_id": "TEXT",
		"from_user":  "TEXT",
		"to_user":    "TEXT",
		"text":       "TEXT",
		"timestamp":  "DATETIME",
	}
	if err := v.validateColumns("chat_messages", chatColumns); err != nil {
		return fmt.Errorf("chat_messages table structure invalid: %w", err)
	}

	homeworkColumns := map[string]string{
		"id":                 "TEXT",
		"session_id":         "TEXT",
		"student_id":         "TEXT",
		"lesson_id":          "TEXT",
		"teacher_session_id": "TEXT",
		"title":              "TEXT",
		"assigned_at":        "DATETIME",
	}
	if err := v.validateColumns("homework_assignments", homeworkColumns); err != nil {
		return fmt.Errorf("homework_assignments table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all performance indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_status":     "Session status lookups",
		"idx_sessions_created_by": "Session ownership queries",
		"idx_chat_session_time":   "Conversation reload ordering",
		"idx_chat_participants":   "Conversation pair lookup",
		"idx_homework_session":    "Assignment listing per session",
		"idx_homework_student":    "Assignment lookup per student",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies foreign keys are enforced at the database
// level (chat_messages.session_id -> sessions.id).
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO chat_messages (id, session_id, from_user, to_user, text, timestamp)
		VALUES ('fk-probe', 'nonexistent', 'u1', 'u2', 'x', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		if _, err := v.db.Exec("DELETE FROM chat_messages WHERE id = 'fk-probe'"); err != nil {
			_ = err
		}
		return fmt.Errorf("foreign key constraint not enforced: chat_messages.session_id")
	}

	return nil
}

// tableExists checks if a table exists in the database.
func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database.
func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns and types.
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return rows.Err()
}
