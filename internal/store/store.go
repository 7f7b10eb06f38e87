// Package store is the persistence layer: a narrow, explicit query
// surface over a SQLite database opened through database/sql, grounded
// on the teacher's store_postgres.go pattern (packages/com.r3e.services.mixer/service/store_postgres.go)
// translated from Postgres $N placeholders to SQLite's `?`.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/r3e-network/micasa/internal/merr"
)

// Store wraps a SQLite connection and exposes every table operation the
// core needs, grounded on §6 EXTERNAL INTERFACES' persistent-store table
// list.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, merr.Wrap(merr.CodeFatal, 0, "open database", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers through one connection
	// SQLite leaves foreign-key enforcement off unless the connection asks
	// for it; the ON DELETE CASCADE clauses in the schema depend on it.
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, merr.Wrap(merr.CodeFatal, 0, "enable foreign keys", err)
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, merr.Wrap(merr.CodeFatal, 0, "migrate database", err)
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS plugins (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER REFERENCES plugins(id) ON DELETE CASCADE,
	reference TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS devices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plugin_id INTEGER NOT NULL REFERENCES plugins(id) ON DELETE CASCADE,
	reference TEXT NOT NULL,
	label TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	type INTEGER NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	value TEXT NOT NULL DEFAULT '',
	previous_value TEXT NOT NULL DEFAULT '',
	last_update INTEGER NOT NULL DEFAULT 0,
	last_source INTEGER NOT NULL DEFAULT 0,
	UNIQUE(plugin_id, reference)
);

CREATE TABLE IF NOT EXISTS plugin_settings (
	entity_id INTEGER NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (entity_id, key)
);

CREATE TABLE IF NOT EXISTS device_settings (
	entity_id INTEGER NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (entity_id, key)
);

CREATE TABLE IF NOT EXISTS system_settings (
	entity_id INTEGER NOT NULL DEFAULT 0,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (entity_id, key)
);

CREATE TABLE IF NOT EXISTS device_counter_history (
	device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	value REAL NOT NULL,
	date INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS device_counter_trends (
	device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	last REAL NOT NULL,
	diff REAL NOT NULL,
	date INTEGER NOT NULL,
	UNIQUE(device_id, date)
);

CREATE TABLE IF NOT EXISTS device_level_history (
	device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	value REAL NOT NULL,
	samples INTEGER NOT NULL,
	date INTEGER NOT NULL,
	UNIQUE(device_id, date)
);
CREATE TABLE IF NOT EXISTS device_level_trends (
	device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	min REAL NOT NULL,
	max REAL NOT NULL,
	average REAL NOT NULL,
	date INTEGER NOT NULL,
	UNIQUE(device_id, date)
);

CREATE TABLE IF NOT EXISTS device_switch_history (
	device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	value TEXT NOT NULL,
	date INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS device_text_history (
	device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	value TEXT NOT NULL,
	date INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scripts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	code TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS timers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	cron TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	target_device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	value TEXT NOT NULL,
	target_value TEXT NOT NULL,
	after REAL NOT NULL DEFAULT 0,
	"for" REAL NOT NULL DEFAULT 0,
	clear INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS x_device_scripts (
	device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	script_id INTEGER NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
	PRIMARY KEY (device_id, script_id)
);

CREATE TABLE IF NOT EXISTS x_timer_scripts (
	timer_id INTEGER NOT NULL REFERENCES timers(id) ON DELETE CASCADE,
	script_id INTEGER NOT NULL REFERENCES scripts(id) ON DELETE CASCADE,
	PRIMARY KEY (timer_id, script_id)
);

CREATE TABLE IF NOT EXISTS x_timer_devices (
	timer_id INTEGER NOT NULL REFERENCES timers(id) ON DELETE CASCADE,
	device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	value TEXT NOT NULL,
	PRIMARY KEY (timer_id, device_id)
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	username TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	rights INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// settingsTable maps an entity kind to its settings table name, per the
// design's *_settings(entity_id, key, value) family. kind == "" selects
// the process-wide system_settings table.
func settingsTable(kind string) (string, error) {
	switch kind {
	case "":
		return "system_settings", nil
	case "plugin":
		return "plugin_settings", nil
	case "device":
		return "device_settings", nil
	default:
		return "", fmt.Errorf("unknown settings entity kind %q", kind)
	}
}

// LoadSettings implements settings.Store.
func (s *Store) LoadSettings(ctx context.Context, entityKind string, entityID int) (map[string]string, error) {
	table, err := settingsTable(entityKind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT key, value FROM %s WHERE entity_id = ?`, table), entityID)
	if err != nil {
		return nil, merr.Wrap(merr.CodeInvalid, 0, "load settings", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, merr.Wrap(merr.CodeInvalid, 0, "scan setting", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// CommitSettings implements settings.Store: dirty keys present in upserts
// are UPSERTed, keys in deletes are removed.
func (s *Store) CommitSettings(ctx context.Context, entityKind string, entityID int, upserts map[string]string, deletes []string) error {
	table, err := settingsTable(entityKind)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return merr.Wrap(merr.CodeInvalid, 0, "begin settings commit", err)
	}
	defer tx.Rollback()

	upsertStmt := fmt.Sprintf(`INSERT INTO %s (entity_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(entity_id, key) DO UPDATE SET value = excluded.value`, table)
	for k, v := range upserts {
		if _, err := tx.ExecContext(ctx, upsertStmt, entityID, k, v); err != nil {
			return merr.Wrap(merr.CodeInvalid, 0, "upsert setting", err)
		}
	}

	deleteStmt := fmt.Sprintf(`DELETE FROM %s WHERE entity_id = ? AND key = ?`, table)
	for _, k := range deletes {
		if _, err := tx.ExecContext(ctx, deleteStmt, entityID, k); err != nil {
			return merr.Wrap(merr.CodeInvalid, 0, "delete setting", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return merr.Wrap(merr.CodeInvalid, 0, "commit settings tx", err)
	}
	return nil
}

// DB exposes the underlying connection for packages (device, plugin,
// rules) that need table-specific queries beyond settings.
func (s *Store) DB() *sql.DB { return s.db }
