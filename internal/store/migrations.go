package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	// TableName is the canonical record table.
	TableName = "assets"

	legacyTableName = "asset"

	// SchemaRevision is stored in PRAGMA user_version after initialization.
	SchemaRevision = 3
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS assets (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    hostname          TEXT NOT NULL UNIQUE,
    serial_number     TEXT,
    model             TEXT,
    assigned_user     TEXT,
    location          TEXT,
    site              TEXT,
    room              TEXT,
    ipv4_wired        TEXT,
    ipv4_wifi         TEXT,
    mac_wired         TEXT,
    mac_wifi          TEXT,
    vlan              TEXT,
    note              TEXT,
    warranty          INTEGER NOT NULL DEFAULT 0,
    maintenance       INTEGER NOT NULL DEFAULT 0,
    status            TEXT,
    purchase_date     TEXT,
    commissioned_date TEXT,
    modified_at       TEXT
)`

// addedColumns were introduced after the first release and are appended to
// older tables without rewriting rows.
var addedColumns = []struct {
	name string
	ddl  string
}{
	{"maintenance", "INTEGER NOT NULL DEFAULT 0"},
	{"status", "TEXT"},
	{"modified_at", "TEXT"},
}

var createIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_assets_hostname ON assets(hostname)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_site ON assets(site)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_room ON assets(room)`,
}

func connectionPragmas(busyTimeout time.Duration) []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
}

// Initialize brings the database behind db to the current schema. It is safe
// to run on every open: an up-to-date database is left unchanged.
func Initialize(ctx context.Context, db *sql.DB, busyTimeout time.Duration) error {
	for _, p := range connectionPragmas(busyTimeout) {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := tableExists(ctx, tx, TableName)
	if err != nil {
		return err
	}
	if !current {
		legacy, err := tableExists(ctx, tx, legacyTableName)
		if err != nil {
			return err
		}
		if legacy {
			if _, err := tx.ExecContext(ctx, `ALTER TABLE asset RENAME TO assets`); err != nil {
				return fmt.Errorf("rename legacy table: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	for _, col := range addedColumns {
		ok, err := columnExists(ctx, tx, TableName, col.name)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", TableName, col.name, col.ddl)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
	}

	for _, stmt := range createIndexSQL {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaRevision)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tableExists(ctx context.Context, q queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?)`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("look up table %s: %w", name, err)
	}
	return n > 0, nil
}

func columnExists(ctx context.Context, q queryer, table, column string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE lower(name) = lower(?)`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("look up column %s.%s: %w", table, column, err)
	}
	return n > 0, nil
}

// UserVersion reports PRAGMA user_version.
func UserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}
