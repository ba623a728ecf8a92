package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps any failure applying a schema version.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one schema version. AppliedAt is zero until applied.
type Migration struct {
	Version   int
	Name      string
	Up        string
	Down      string
	AppliedAt time.Time
}

// Applied reports whether the version is recorded in schema_migrations.
func (m Migration) Applied() bool { return !m.AppliedAt.IsZero() }

// Migrations returns the schema versions in ascending order.
func Migrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_chat_sessions",
			Up: `
CREATE TABLE IF NOT EXISTS chat_sessions (
    chat_id    BIGINT PRIMARY KEY CHECK (chat_id <> 0),
    data       JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON chat_sessions (updated_at);`,
			Down: `DROP TABLE IF EXISTS chat_sessions;`,
		},
	}
}

const (
	createVersionsSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	selectVersionsSQL = `SELECT version, applied_at FROM schema_migrations`
	insertVersionSQL  = `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`
)

// Migrator applies Migrations to one database.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator for conn.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations()}
}

// Migrate applies every pending version, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	for _, mig := range status {
		if mig.Applied() {
			continue
		}
		err := m.conn.InTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, insertVersionSQL, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Status returns every known version with its applied time filled in.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if _, err := m.conn.Exec(ctx, createVersionsSQL); err != nil {
		return nil, fmt.Errorf("postgres: create schema_migrations: %w", err)
	}

	rows, err := m.conn.Query(ctx, selectVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres: read schema_migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Migration, error) {
		var mig Migration
		err := row.Scan(&mig.Version, &mig.AppliedAt)
		return mig, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: read schema_migrations: %w", err)
	}

	byVersion := make(map[int]time.Time, len(applied))
	for _, a := range applied {
		byVersion[a.Version] = a.AppliedAt
	}

	status := make([]Migration, len(m.migrations))
	for i, mig := range m.migrations {
		mig.AppliedAt = byVersion[mig.Version]
		status[i] = mig
	}
	return status, nil
}
