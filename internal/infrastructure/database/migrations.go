package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// MigrationsFS holds the migration files. The migrations package sets it
// to its embedded files on import; tests may substitute an fstest.MapFS.
// A nil MigrationsFS means there is nothing to migrate.
var MigrationsFS fs.FS

// MigrationsDir is the directory inside MigrationsFS holding the files.
var MigrationsDir = "migrations"

// versionLen is the length of the YYYYMMDD_HHMMSS prefix.
const versionLen = len("20060102_150405")

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`

// Migration is one schema change, read from a pair of files named
// YYYYMMDD_HHMMSS_name.up.sql and YYYYMMDD_HHMMSS_name.down.sql.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string // empty when there is no .down.sql file
}

// MigrationStatus reports whether a migration has been applied.
type MigrationStatus struct {
	Version   string
	Name      string
	AppliedAt time.Time // zero while pending
	Missing   bool      // applied but no longer shipped
}

// Pending reports whether the migration still has to be applied.
func (s MigrationStatus) Pending() bool {
	return s.AppliedAt.IsZero()
}

// Migrate applies every pending migration in version order, each in its
// own transaction. Re-running after a failure continues from the failed
// migration.
func (db *DB) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Name, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration and returns it.
func (db *DB) Rollback(ctx context.Context) (Migration, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return Migration{}, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return Migration{}, err
	}

	latest := ""
	for v := range applied {
		if v > latest {
			latest = v
		}
	}
	if latest == "" {
		return Migration{}, ErrNothingToRollback
	}

	var m Migration
	for _, candidate := range migrations {
		if candidate.Version == latest {
			m = candidate
			break
		}
	}
	if m.Version == "" || m.Down == "" {
		return Migration{}, fmt.Errorf("%w: %s", ErrMigrationNotFound, latest)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return Migration{}, fmt.Errorf("rolling back migration %s_%s: %w", m.Version, m.Name, err)
	}
	return m, nil
}

// Status lists every known migration in version order, followed by any
// applied version whose files are gone.
func (db *DB) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		st := MigrationStatus{Version: m.Version, Name: m.Name}
		if rec, ok := applied[m.Version]; ok {
			st.AppliedAt = rec.AppliedAt
			delete(applied, m.Version)
		}
		out = append(out, st)
	}

	var orphans []MigrationStatus
	for _, rec := range applied {
		rec.Missing = true
		orphans = append(orphans, rec)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Version < orphans[j].Version })
	return append(out, orphans...), nil
}

// appliedVersions returns the recorded migrations keyed by version,
// creating the bookkeeping table on first use.
func (db *DB) appliedVersions(ctx context.Context) (map[string]MigrationStatus, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version, name, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]MigrationStatus)
	for rows.Next() {
		var (
			st MigrationStatus
			at string
		)
		if err := rows.Scan(&st.Version, &st.Name, &at); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		if st.AppliedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("migration %s: bad applied_at %q: %w", st.Version, at, err)
		}
		applied[st.Version] = st
	}
	return applied, rows.Err()
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck // already failing
		return err
	}
	return tx.Commit()
}

// loadMigrations reads MigrationsDir and pairs up/down files by version.
// Files that are not .sql are ignored; a malformed .sql name is an error.
func loadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, name, up, err := parseMigrationFilename(e.Name())
		if err != nil {
			return nil, err
		}

		body, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", e.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s_%s has no .up.sql file", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// parseMigrationFilename splits "20260301_090000_flows.up.sql" into
// version "20260301_090000", name "flows" and direction up.
func parseMigrationFilename(file string) (version, name string, up bool, err error) {
	base, up := strings.CutSuffix(file, ".up.sql")
	if !up {
		var down bool
		if base, down = strings.CutSuffix(file, ".down.sql"); !down {
			return "", "", false, fmt.Errorf("migration %s: want .up.sql or .down.sql", file)
		}
	}

	if len(base) < versionLen+2 || base[versionLen] != '_' {
		return "", "", false, fmt.Errorf("migration %s: want YYYYMMDD_HHMMSS_name", file)
	}
	version = base[:versionLen]
	if _, perr := time.Parse("20060102_150405", version); perr != nil {
		return "", "", false, fmt.Errorf("migration %s: bad version: %w", file, perr)
	}
	return version, base[versionLen+1:], up, nil
}
