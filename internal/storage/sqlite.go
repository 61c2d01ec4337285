package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/pkg/types"
)

// SQLiteStorage implements Store using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens or creates the database at dbPath and migrates it
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveSnapshot replaces the active snapshot in one transaction
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.FormatVersion == "" {
		snap.FormatVersion = SnapshotFormatVersion
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	for _, e := range snap.Entries {
		if len(e.Vector) != snap.Dimension {
			return fmt.Errorf("%w: vector %d has %d dimensions, snapshot has %d",
				types.ErrDimensionMismatch, e.ID, len(e.Vector), snap.Dimension)
		}
	}
	roots, err := json.Marshal(snap.Roots)
	if err != nil {
		return fmt.Errorf("failed to encode roots: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM embeddings", "DELETE FROM code_units", "DELETE FROM snapshots"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear previous snapshot: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (generation, format_version, dimension, metric, index_type, created_at,
			provider, model, roots, files_indexed, files_skipped, lines)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(snap.Generation), snap.FormatVersion, snap.Dimension, string(snap.Metric), snap.IndexType,
		snap.CreatedAt.UnixNano(), snap.Provider, snap.Model, string(roots),
		snap.FilesIndexed, snap.FilesSkipped, snap.Lines,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	unitStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO code_units (id, repo, source_path, start_line, end_line, language, kind, name, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = unitStmt.Close() }()

	for _, u := range snap.Units {
		_, err := unitStmt.ExecContext(ctx, u.ID, u.Repo, u.SourcePath, u.StartLine, u.EndLine,
			string(u.Language), string(u.Kind), u.Name, u.Text)
		if err != nil {
			return fmt.Errorf("failed to insert unit %d: %w", u.ID, err)
		}
	}

	embStmt, err := tx.PrepareContext(ctx, "INSERT INTO embeddings (unit_id, vector) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = embStmt.Close() }()

	for _, e := range snap.Entries {
		if _, err := embStmt.ExecContext(ctx, e.ID, serializeVector(e.Vector)); err != nil {
			return fmt.Errorf("failed to insert vector %d: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// SnapshotInfo reads the active snapshot header
func (s *SQLiteStorage) SnapshotInfo(ctx context.Context) (*SnapshotInfo, error) {
	var (
		info    SnapshotInfo
		gen     int64
		metric  string
		roots   string
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT generation, format_version, dimension, metric, index_type, created_at,
			provider, model, roots, files_indexed, files_skipped, lines,
			(SELECT COUNT(*) FROM code_units)
		FROM snapshots LIMIT 1`).Scan(
		&gen, &info.FormatVersion, &info.Dimension, &metric, &info.IndexType, &created,
		&info.Provider, &info.Model, &roots, &info.FilesIndexed, &info.FilesSkipped, &info.Lines,
		&info.Units,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	info.Generation = uint64(gen)
	info.CreatedAt = time.Unix(0, created)
	info.Metric = index.Metric(metric)
	if err := json.Unmarshal([]byte(roots), &info.Roots); err != nil {
		return nil, fmt.Errorf("%w: roots: %v", types.ErrIncompatibleSnapshot, err)
	}
	if err := checkFormat(info.FormatVersion); err != nil {
		return nil, err
	}
	return &info, nil
}

// LoadSnapshot reads the active snapshot. A snapshot written by an
// incompatible format fails with types.ErrIncompatibleSnapshot.
func (s *SQLiteStorage) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	info, err := s.SnapshotInfo(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := index.ParseMetric(string(info.Metric)); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrIncompatibleSnapshot, err)
	}

	snap := &Snapshot{SnapshotInfo: *info}
	if snap.Units, err = s.loadUnits(ctx, info.Units); err != nil {
		return nil, err
	}
	if snap.Entries, err = s.loadEntries(ctx, info.Dimension, info.Units); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteStorage) loadUnits(ctx context.Context, n int) ([]types.CodeUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo, source_path, start_line, end_line, language, kind, name, content
		FROM code_units ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	units := make([]types.CodeUnit, 0, n)
	for rows.Next() {
		var (
			u              types.CodeUnit
			language, kind string
			name           sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Repo, &u.SourcePath, &u.StartLine, &u.EndLine, &language, &kind, &name, &u.Text); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		u.Language = types.Language(language)
		u.Kind = types.UnitKind(kind)
		u.Name = name.String
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *SQLiteStorage) loadEntries(ctx context.Context, dim, n int) ([]index.Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT unit_id, vector FROM embeddings ORDER BY unit_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]index.Entry, 0, n)
	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		vec, err := deserializeVector(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("%w: unit %d: %v", types.ErrIncompatibleSnapshot, id, err)
		}
		entries = append(entries, index.Entry{ID: id, Vector: vec})
	}
	return entries, rows.Err()
}

// checkFormat accepts any snapshot with the same major version
func checkFormat(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: format version %q: %v", types.ErrIncompatibleSnapshot, version, err)
	}
	current := semver.MustParse(SnapshotFormatVersion)
	c, err := semver.NewConstraint(fmt.Sprintf("^%d.0.0", current.Major()))
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: format %s, supported %s", types.ErrIncompatibleSnapshot, v, current)
	}
	return nil
}

var _ Store = (*SQLiteStorage)(nil)
