package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration is one versioned sqlite schema step
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager applies versioned schema files to a sqlite database
// ARCHITECTURAL DISCOVERY: migrations ship inside the binary so a fresh
// deployment needs nothing but the database path
type MigrationManager struct {
	db     *sql.DB
	source fs.FS
	dir    string
}

// NewMigrationManager creates a manager over the embedded migrations
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return NewMigrationManagerFS(db, embeddedMigrations, "migrations")
}

// NewMigrationManagerFS creates a manager reading *.sql files from dir in source
func NewMigrationManagerFS(db *sql.DB, source fs.FS, dir string) *MigrationManager {
	return &MigrationManager{db: db, source: source, dir: dir}
}

// ApplyMigrations applies every migration not yet recorded in schema_migrations
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// LoadMigrations returns the available migrations sorted by version.
// "001_initial_schema.sql" has version "001" and description "initial_schema".
func (m *MigrationManager) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, m.dir)
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.source, path.Join(m.dir, name))
		if err != nil {
			return nil, err
		}
		version, description, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// AppliedVersions lists recorded migration versions in order
func (m *MigrationManager) AppliedVersions() ([]string, error) {
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

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) appliedVersions() (map[string]bool, error) {
	versions, err := m.AppliedVersions()
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// applyMigration runs one migration and records it in the same transaction
func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
