package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Migration represents one schema migration.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// builtinMigrations is the schema shipped with the binary. A migrations
// directory on disk, when present, takes precedence so deployments can
// evolve the schema without rebuilding.
var builtinMigrations = []Migration{
	{
		Version:     "001",
		Description: "initial_schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				created_by TEXT NOT NULL,
				student_ids TEXT NOT NULL,
				start_time DATETIME NOT NULL,
				end_time DATETIME,
				status TEXT NOT NULL DEFAULT 'active'
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
			CREATE INDEX IF NOT EXISTS idx_sessions_created_by ON sessions(created_by);

			CREATE TABLE IF NOT EXISTS chat_messages (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				from_user TEXT NOT NULL,
				to_user TEXT NOT NULL,
				text TEXT NOT NULL,
				timestamp DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_chat_session_time ON chat_messages(session_id, timestamp);
			CREATE INDEX IF NOT EXISTS idx_chat_participants ON chat_messages(session_id, from_user, to_user);
		`,
	},
	{
		Version:     "002",
		Description: "homework_assignments",
		SQL: `
			CREATE TABLE IF NOT EXISTS homework_assignments (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				student_id TEXT NOT NULL,
				lesson_id TEXT NOT NULL,
				teacher_session_id TEXT NOT NULL,
				title TEXT NOT NULL,
				assigned_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_homework_session ON homework_assignments(session_id);
			CREATE INDEX IF NOT EXISTS idx_homework_student ON homework_assignments(session_id, student_id);
		`,
	},
}

// MigrationManager handles schema evolution.
type MigrationManager struct {
	db             *sql.DB
	migrationsPath string
}

// NewMigrationManager creates a new migration manager. migrationsPath may
// be empty or point at a missing directory; the builtin set is used then.
func NewMigrationManager(db *sql.DB, migrationsPath string) *MigrationManager {
	return &MigrationManager{
		db:             db,
		migrationsPath: migrationsPath,
	}
}

// ApplyMigrations applies all pending migrations in version order. Each
// migration runs in its own transaction.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if !contains(applied, migration.Version) {
			if err := m.applyMigration(migration); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
			}
		}
	}

	return nil
}

// ValidateSchema ensures the database matches the expected structure.
func (m *MigrationManager) ValidateSchema() error {
	requiredTables := []string{"sessions", "chat_messages", "homework_assignments"}
	for _, table := range requiredTables {
		exists, err := m.tableExists(table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	requiredIndexes := []string{
		"idx_sessions_status",
		"idx_sessions_created_by",
		"idx_chat_session_time",
		"idx_chat_participants",
		"idx_homework_session",
		"idx_homework_student",
	}
	for _, index := range requiredIndexes {
		exists, err := m.indexExists(index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

// createMigrationTable creates the migration tracking table.
func (m *MigrationManager) createMigrationTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := m.db.Exec(query)
	return err
}

// loadMigrations returns file-based migrations when the directory exists,
// the builtin set otherwise.
func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	if m.migrationsPath == "" {
		return builtinMigrations, nil
	}

	files, err := os.ReadDir(m.migrationsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return builtinMigrations, nil
		}
		return nil, err
	}

	var migrations []Migration
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".sql" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(m.migrationsPath, file.Name()))
		if err != nil {
			return nil, err
		}

		// "001_initial_schema.sql" -> version "001", description "initial_schema"
		version := strings.Split(file.Name(), "_")[0]
		description := strings.TrimSuffix(strings.Join(strings.Split(file.Name(), "_")[1:], "_"), ".sql")

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	if len(migrations) == 0 {
		return builtinMigrations, nil
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// getAppliedMigrations returns already applied migration versions.
func (m *MigrationManager) getAppliedMigrations() ([]string, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}

// applyMigration applies a single migration within a transaction.
func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.Exec(migration.SQL); err != nil {
		return err
	}

	if _, err = tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}

// tableExists checks if a table exists.
func (m *MigrationManager) tableExists(tableName string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// indexExists checks if an index exists.
func (m *MigrationManager) indexExists(indexName string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
