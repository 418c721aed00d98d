package store

import (
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step. ID is an ascending timestamp;
// applied migrations are recorded in schema_migrations and never re-run.
type migration struct {
	id  string
	sql string
}

// migrations is the ordered, append-only schema history. Never edit an
// entry that has shipped; add a new one.
var migrations = []migration{
	{
		id: "20250114093000_core_tables",
		sql: `
CREATE TABLE IF NOT EXISTS instances (
    id                     TEXT PRIMARY KEY,
    display_name           TEXT NOT NULL DEFAULT '',
    enabled                INTEGER NOT NULL DEFAULT 1,
    paused                 INTEGER NOT NULL DEFAULT 0,
    paused_until_utc       TEXT,
    check_interval_seconds INTEGER NOT NULL DEFAULT 60,
    concurrency_limit      INTEGER NOT NULL DEFAULT 4,
    time_zone_id           TEXT NOT NULL DEFAULT 'UTC',
    created_utc            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS targets (
    id                       INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id              TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
    url                      TEXT NOT NULL,
    enabled                  INTEGER NOT NULL DEFAULT 1,
    http_expected_status_min INTEGER NOT NULL DEFAULT 200,
    http_expected_status_max INTEGER NOT NULL DEFAULT 399,
    login_rule               TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_targets_instance ON targets(instance_id);

CREATE TABLE IF NOT EXISTS checks (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    target_id           INTEGER NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
    ts_utc              TEXT NOT NULL,
    tcp_ok              INTEGER NOT NULL,
    http_ok             INTEGER NOT NULL,
    http_status_code    INTEGER,
    tcp_latency_ms      INTEGER NOT NULL DEFAULT 0,
    http_latency_ms     INTEGER NOT NULL DEFAULT 0,
    final_url           TEXT NOT NULL DEFAULT '',
    used_ip             TEXT NOT NULL DEFAULT '',
    detected_login_type TEXT NOT NULL DEFAULT '',
    login_detected      INTEGER NOT NULL DEFAULT 0,
    summary             TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_checks_target_ts ON checks(target_id, ts_utc);

CREATE TABLE IF NOT EXISTS state (
    target_id                INTEGER PRIMARY KEY REFERENCES targets(id) ON DELETE CASCADE,
    is_up                    INTEGER NOT NULL,
    last_check_utc           TEXT NOT NULL,
    state_since_utc          TEXT NOT NULL,
    last_change_utc          TEXT NOT NULL,
    consecutive_failures     INTEGER NOT NULL DEFAULT 0,
    last_summary             TEXT NOT NULL DEFAULT '',
    last_final_url           TEXT NOT NULL DEFAULT '',
    last_used_ip             TEXT NOT NULL DEFAULT '',
    last_detected_login_type TEXT NOT NULL DEFAULT '',
    login_detected_last      INTEGER NOT NULL DEFAULT 0,
    login_detected_ever      INTEGER NOT NULL DEFAULT 0,
    down_first_notified_utc  TEXT,
    last_notified_utc        TEXT,
    next_notify_utc          TEXT,
    recovered_due_utc        TEXT,
    recovered_notified_utc   TEXT
);

CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT NOT NULL,
    target_id   INTEGER,
    ts_utc      TEXT NOT NULL,
    type        TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_instance_ts ON events(instance_id, ts_utc);
`,
	},
	{
		id: "20250114093500_notification_tables",
		sql: `
CREATE TABLE IF NOT EXISTS smtp_settings (
    instance_id        TEXT PRIMARY KEY REFERENCES instances(id) ON DELETE CASCADE,
    host               TEXT NOT NULL DEFAULT '',
    port               INTEGER NOT NULL DEFAULT 0,
    security           TEXT NOT NULL DEFAULT 'None',
    username           TEXT NOT NULL DEFAULT '',
    password_protected TEXT NOT NULL DEFAULT '',
    from_address       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS recipients (
    instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
    email       TEXT NOT NULL,
    enabled     INTEGER NOT NULL DEFAULT 1,
    UNIQUE (instance_id, email)
);

CREATE TABLE IF NOT EXISTS webhook_endpoints (
    instance_id TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
    url         TEXT NOT NULL,
    enabled     INTEGER NOT NULL DEFAULT 1,
    UNIQUE (instance_id, url)
);
`,
	},
}

// migrate applies all pending migrations in order, recording each in
// schema_migrations.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
    id          TEXT PRIMARY KEY,
    applied_utc TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Query(`SELECT id FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.id] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.id, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.id, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (id) VALUES (?)`, m.id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.id, err)
		}
	}
	return nil
}
