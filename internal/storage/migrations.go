package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- At most one row: the active snapshot
CREATE TABLE IF NOT EXISTS snapshots (
    generation INTEGER PRIMARY KEY,
    format_version TEXT NOT NULL,
    dimension INTEGER NOT NULL,
    metric TEXT NOT NULL,
    index_type TEXT NOT NULL,
    created_at INTEGER NOT NULL -- unix nanoseconds
);

CREATE TABLE IF NOT EXISTS code_units (
    id INTEGER PRIMARY KEY,
    repo TEXT NOT NULL,
    source_path TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    language TEXT NOT NULL,
    kind TEXT NOT NULL,
    name TEXT,
    content TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_code_units_path ON code_units(source_path);

CREATE TABLE IF NOT EXISTS embeddings (
    unit_id INTEGER PRIMARY KEY,
    vector BLOB NOT NULL,
    FOREIGN KEY (unit_id) REFERENCES code_units(id) ON DELETE CASCADE
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS embeddings;
DROP TABLE IF EXISTS code_units;
DROP TABLE IF EXISTS snapshots;
`

// 1.1.0 records which model produced the vectors and the build statistics
const migrationV11Up = `
ALTER TABLE snapshots ADD COLUMN provider TEXT NOT NULL DEFAULT '';
ALTER TABLE snapshots ADD COLUMN model TEXT NOT NULL DEFAULT '';
ALTER TABLE snapshots ADD COLUMN roots TEXT NOT NULL DEFAULT '[]';
ALTER TABLE snapshots ADD COLUMN files_indexed INTEGER NOT NULL DEFAULT 0;
ALTER TABLE snapshots ADD COLUMN files_skipped INTEGER NOT NULL DEFAULT 0;
ALTER TABLE snapshots ADD COLUMN lines INTEGER NOT NULL DEFAULT 0;
`

const migrationV11Down = `
ALTER TABLE snapshots DROP COLUMN lines;
ALTER TABLE snapshots DROP COLUMN files_skipped;
ALTER TABLE snapshots DROP COLUMN files_indexed;
ALTER TABLE snapshots DROP COLUMN roots;
ALTER TABLE snapshots DROP COLUMN model;
ALTER TABLE snapshots DROP COLUMN provider;
`

// SchemaVersion returns the most recently applied migration, or 0.0.0
func SchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations brings the schema up to CurrentSchemaVersion
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	currentVersion, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	latest := semver.MustParse(CurrentSchemaVersion)
	if currentVersion.GreaterThan(latest) {
		return fmt.Errorf("database schema %s is newer than supported %s", currentVersion, latest)
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return errors.New("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		v := semver.MustParse(AllMigrations[i].Version)
		if v.Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
