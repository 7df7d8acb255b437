package store

import (
	"context"
	"database/sql"
	"fmt"
)

// The schema is the multi-user, versioned, audited variant.
// Embeddings cascade from memories through a composite foreign key so
// purging a memory row can never orphan its embedding; memories and
// audit entries cascade from users so user deletion sweeps everything.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		uid TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		last_activity TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT NOT NULL,
		uid TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT,
		compressed INTEGER DEFAULT 0,
		version INTEGER DEFAULT 1,
		PRIMARY KEY (id, uid),
		FOREIGN KEY (uid) REFERENCES users (uid) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS embeddings (
		memory_id TEXT NOT NULL,
		uid TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (memory_id, uid),
		FOREIGN KEY (memory_id, uid) REFERENCES memories (id, uid) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL,
		action TEXT NOT NULL,
		memory_id TEXT,
		timestamp TEXT NOT NULL,
		details TEXT,
		FOREIGN KEY (uid) REFERENCES users (uid) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_uid_updated
		ON memories (uid, updated_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_uid ON audit_log (uid)`,
}

// migrate switches on WAL and creates the tables. Idempotent; safe to
// run on every open. Journal mode is persisted in the database file,
// so one statement covers every future connection; the per-connection
// pragmas live in the DSN.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("store: enable WAL: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}

	return nil
}
