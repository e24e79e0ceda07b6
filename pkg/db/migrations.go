package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var logger = log.ForService("db")

// Migration represents a database migration
type Migration struct {
	Version   int
	Name      string
	SQL       string
	AppliedAt *time.Time
}

// MigrationStatus represents the current state of migrations
type MigrationStatus struct {
	Applied   []Migration
	Pending   []Migration
	Available []Migration
}

// MigrationManager applies versioned SQL files to a database. Files are
// named "<version>_<name>.sql" and applied in version order, each in its
// own transaction.
type MigrationManager struct {
	db  *sql.DB
	fs  fs.FS
	dir string
}

// NewMigrationManager creates a migration manager using the embedded migrations
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db, fs: migrationsFS, dir: "migrations"}
}

// NewMigrationManagerFS creates a migration manager reading migrations from
// the root of fsys. Tests use it with os.DirFS or fstest.MapFS.
func NewMigrationManagerFS(db *sql.DB, fsys fs.FS) *MigrationManager {
	return &MigrationManager{db: db, fs: fsys, dir: "."}
}

// EnsureMigrationsTable creates the migrations table if it doesn't exist
func (m *MigrationManager) EnsureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// AppliedMigrations returns applied versions with their timestamps.
func (m *MigrationManager) AppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warnf("failed to close rows: %v", err)
		}
	}()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// AvailableMigrations returns every migration file sorted by version.
// Files that do not follow the naming scheme are ignored.
func (m *MigrationManager) AvailableMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fs, m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(m.fs, path.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration file %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(rest, ".sql"),
			SQL:     string(content),
		})
	}

	slices.SortFunc(migrations, func(a, b Migration) int { return a.Version - b.Version })
	return migrations, nil
}

// PendingMigrations returns migrations that haven't been applied yet
func (m *MigrationManager) PendingMigrations(ctx context.Context) ([]Migration, error) {
	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	available, err := m.AvailableMigrations()
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, migration := range available {
		if _, ok := applied[migration.Version]; !ok {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// Apply runs a single migration and records it.
func (m *MigrationManager) Apply(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				logger.Warnf("failed to rollback migration %d: %v", migration.Version, err)
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("executing migration %d: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (version, name) VALUES (?, ?)", migration.Version, migration.Name); err != nil {
		return fmt.Errorf("recording migration %d: %w", migration.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", migration.Version, err)
	}
	committed = true
	return nil
}

// ApplyPending applies all pending migrations and returns how many ran.
func (m *MigrationManager) ApplyPending(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("ensuring migrations table: %w", err)
	}

	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting pending migrations: %w", err)
	}

	for _, migration := range pending {
		logger.Infof("applying migration %d: %s", migration.Version, migration.Name)
		if err := m.Apply(ctx, migration); err != nil {
			return 0, fmt.Errorf("applying migration %d (%s): %w", migration.Version, migration.Name, err)
		}
	}
	if len(pending) > 0 {
		logger.Infof("applied %d migrations", len(pending))
	}
	return len(pending), nil
}

// Status returns the current migration status
func (m *MigrationManager) Status(ctx context.Context) (*MigrationStatus, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("ensuring migrations table: %w", err)
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	available, err := m.AvailableMigrations()
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{Available: available}
	for _, migration := range available {
		if at, ok := applied[migration.Version]; ok {
			migration.AppliedAt = &at
			status.Applied = append(status.Applied, migration)
		} else {
			status.Pending = append(status.Pending, migration)
		}
	}
	return status, nil
}

// InitializeDatabase brings db up to the latest embedded schema.
func InitializeDatabase(ctx context.Context, db *sql.DB) error {
	if _, err := NewMigrationManager(db).ApplyPending(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
