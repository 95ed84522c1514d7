package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Times are stored as unix nanoseconds so ordering is exact.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS contents (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL DEFAULT '',
		raw_text    TEXT NOT NULL,
		version_id  TEXT NOT NULL DEFAULT '',
		difficulty  INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id          TEXT PRIMARY KEY,
		education_level  TEXT NOT NULL DEFAULT '',
		created_at       INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reading_sessions (
		id                  TEXT PRIMARY KEY,
		user_id             TEXT NOT NULL,
		content_id          TEXT NOT NULL,
		content_version_id  TEXT NOT NULL DEFAULT '',
		phase               TEXT NOT NULL,
		asset_layer         TEXT NOT NULL,
		goal_statement      TEXT NOT NULL DEFAULT '',
		prediction_text     TEXT NOT NULL DEFAULT '',
		target_words        TEXT NOT NULL DEFAULT '[]',
		summary             TEXT NOT NULL DEFAULT '',
		start_time          INTEGER NOT NULL,
		finished_at         INTEGER,
		updated_at          INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reading_sessions_user ON reading_sessions (user_id)`,
	`CREATE TABLE IF NOT EXISTS session_events (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL REFERENCES reading_sessions (id),
		sequence    INTEGER NOT NULL UNIQUE,
		event_type  TEXT NOT NULL,
		payload     TEXT NOT NULL DEFAULT '{}',
		created_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS session_events_order ON session_events (session_id, created_at, sequence)`,
	`CREATE TABLE IF NOT EXISTS session_outcomes (
		session_id           TEXT PRIMARY KEY REFERENCES reading_sessions (id),
		comprehension_score  INTEGER NOT NULL,
		production_score     INTEGER NOT NULL,
		frustration_index    INTEGER NOT NULL,
		computed_at          INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS usage_events (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		provider       TEXT NOT NULL,
		model          TEXT NOT NULL,
		feature        TEXT NOT NULL,
		kind           TEXT NOT NULL,
		input_tokens   INTEGER NOT NULL DEFAULT 0,
		output_tokens  INTEGER NOT NULL DEFAULT 0,
		total_tokens   INTEGER NOT NULL DEFAULT 0,
		cost_usd       REAL NOT NULL DEFAULT 0,
		latency_ms     INTEGER NOT NULL DEFAULT 0,
		success        INTEGER NOT NULL,
		error_message  TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS usage_events_created ON usage_events (created_at)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
