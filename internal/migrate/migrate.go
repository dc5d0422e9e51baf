// Package migrate applies embedded SQL migrations against the Postgres
// database backing C2's Article Store, C3's chunk index and C7's user
// memory store, tracked in a schema_migrations table.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"newsroom/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Manager applies and reports on migrations.
type Manager struct {
	db  *sql.DB
	log *slog.Logger
}

// NewManager builds a Manager over an already-open database handle.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db, log: logger.Get()}
}

// Migrate applies every migration not yet recorded in schema_migrations.
func (m *Manager) Migrate(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("loading applied migrations: %w", err)
	}

	available, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migration files: %w", err)
	}

	appliedSet := make(map[int]bool, len(applied))
	for _, v := range applied {
		appliedSet[v] = true
	}

	pending := make([]Migration, 0)
	for _, mig := range available {
		if !appliedSet[mig.Version] {
			pending = append(pending, mig)
		}
	}
	if len(pending) == 0 {
		m.log.Info("no pending migrations")
		return nil
	}

	m.log.Info("applying migrations", "count", len(pending))
	for _, mig := range pending {
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("applying migration %d: %w", mig.Version, err)
		}
	}
	return nil
}

// Status reports, for every known migration, whether it has been applied.
type Status struct {
	Version     int
	Description string
	Applied     bool
}

func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	appliedSet := make(map[int]bool, len(applied))
	for _, v := range applied {
		appliedSet[v] = true
	}

	available, err := m.loadMigrations()
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(available))
	for _, mig := range available {
		out = append(out, Status{Version: mig.Version, Description: mig.Description, Applied: appliedSet[mig.Version]})
	}
	return out, nil
}

func (m *Manager) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (m *Manager) appliedVersions(ctx context.Context) ([]int, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (m *Manager) loadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			m.log.Warn("skipping migration with invalid filename", "file", entry.Name())
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			m.log.Warn("skipping migration with non-numeric version", "file", entry.Name())
			continue
		}
		description := strings.ReplaceAll(strings.TrimSuffix(parts[1], ".sql"), "_", " ")
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Version: version, Description: description, SQL: string(content)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (m *Manager) apply(ctx context.Context, mig Migration) error {
	m.log.Info("applying migration", "version", mig.Version, "description", mig.Description)
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("executing migration sql: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, description) VALUES ($1, $2)
		ON CONFLICT (version) DO NOTHING
	`, mig.Version, mig.Description); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}
