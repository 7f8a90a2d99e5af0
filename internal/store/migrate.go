package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration is one versioned schema change. Up and Down are lists of
// statements executed inside a single transaction each.
type Migration struct {
	Version     int
	Description string
	Up          []string
	Down        []string
}

// MigrationStatus describes one known migration for status reporting.
type MigrationStatus struct {
	Version     int
	Description string
	Status      string // "applied" or "pending"
	AppliedAt   string
}

const migrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	version     INTEGER NOT NULL UNIQUE,
	description TEXT,
	applied_at  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'applied'
)`

// Migrate applies all not-yet-applied migrations in ascending version order,
// each inside its own transaction. The first failure aborts the run, leaving
// the schema at the last successfully applied version. Running twice is
// idempotent.
func (db *DB) Migrate() error {
	ctx := context.Background()
	if _, err := db.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0, len(allMigrations))
	for _, m := range allMigrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, m := range pending {
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %03d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	return db.Tx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range m.Up {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO migrations (version, description, applied_at, status)
			 VALUES (?, ?, ?, 'applied')`,
			m.Version, m.Description, time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
}

// Rollback reverses applied migrations down to, but not including,
// targetVersion. Rollback to 0 removes every versioned table.
func (db *DB) Rollback(targetVersion int) error {
	ctx := context.Background()
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	byVersion := make(map[int]Migration, len(allMigrations))
	for _, m := range allMigrations {
		byVersion[m.Version] = m
	}

	versions := make([]int, 0, len(applied))
	for v := range applied {
		if v > targetVersion {
			versions = append(versions, v)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	for _, v := range versions {
		m, ok := byVersion[v]
		if !ok {
			return fmt.Errorf("applied migration %03d is not known to this binary", v)
		}
		err := db.Tx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.Down {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM migrations WHERE version = ?`, v)
			return err
		})
		if err != nil {
			return fmt.Errorf("rolling back migration %03d: %w", v, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version, 0 if none.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(ctx,
		`SELECT MAX(version) FROM migrations WHERE status = 'applied'`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(version.Int64), nil
}

// MigrationStatuses reports every known migration with its applied state.
func (db *DB) MigrationStatuses(ctx context.Context) ([]MigrationStatus, error) {
	rows, err := db.Query(ctx,
		`SELECT version, applied_at FROM migrations WHERE status = 'applied'`)
	if err != nil {
		return nil, fmt.Errorf("listing applied migrations: %w", err)
	}
	defer rows.Close()

	appliedAt := make(map[int]string)
	for rows.Next() {
		var v int
		var at string
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		appliedAt[v] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(allMigrations))
	for _, m := range allMigrations {
		st := MigrationStatus{Version: m.Version, Description: m.Description, Status: "pending"}
		if at, ok := appliedAt[m.Version]; ok {
			st.Status = "applied"
			st.AppliedAt = at
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Version < statuses[j].Version })
	return statuses, nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := db.Query(ctx,
		`SELECT version FROM migrations WHERE status = 'applied'`)
	if err != nil {
		return nil, fmt.Errorf("listing applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
