// Package store implements transactional persistence of memories,
// embeddings and the audit trail over SQLite.
//
// Every mutation that touches both the memories and embeddings tables
// runs in a single transaction: a memory without a matching embedding
// is an invariant violation, and rollback on any failure keeps the
// pair atomic. Audit writes happen after commit and are non-fatal.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hupe1980/memvault/codec"
	"github.com/hupe1980/memvault/model"
)

var (
	// ErrNotFound is returned when no active row matches (id, uid).
	ErrNotFound = errors.New("store: memory not found")

	// ErrDuplicateID is returned when (id, uid) already exists,
	// including rows that are soft-deleted but not yet purged.
	ErrDuplicateID = errors.New("store: memory id already exists")

	// ErrDimensionMismatch is returned when a vector does not match the
	// store's configured dimension.
	ErrDimensionMismatch = errors.New("store: embedding dimension mismatch")
)

// Options configures a Store.
type Options struct {
	// Compressor applies the content compression policy. Nil selects
	// the default zlib compressor with the 1024-byte threshold.
	Compressor *codec.Compressor

	// Logger receives operational logs. Nil selects slog.Default().
	Logger *slog.Logger
}

// Store is the transactional record store. It is safe for concurrent
// readers; mutations rely on SQLite's single-writer transaction model.
type Store struct {
	db         *sql.DB
	path       string
	dimension  int
	compressor *codec.Compressor
	logger     *slog.Logger
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string, dimension int, optFns ...func(o *Options)) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("store: dimension must be positive, got %d", dimension)
	}

	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Compressor == nil {
		opts.Compressor = codec.NewCompressor(nil, 0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create database directory: %w", err)
		}
	}

	// The _pragma parameters run on every pooled connection; foreign
	// key enforcement in particular is per-connection state and the
	// embedding cascade depends on it.
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:         db,
		path:       path,
		dimension:  dimension,
		compressor: opts.Compressor,
		logger:     opts.Logger,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int { return s.dimension }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Add persists a new memory with its embedding atomically.
// The id must not exist for this uid, even soft-deleted; re-using an
// id requires purging the prior row first.
func (s *Store) Add(ctx context.Context, uid, id, content string, metadata []byte, vector []float32) error {
	if len(vector) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	payload, compressed, err := s.compressor.Pack(content)
	if err != nil {
		return err
	}

	now := model.FormatTime(time.Now())
	blob := encodeVector(vector)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureUser(ctx, tx, uid, now); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO memories (id, uid, content, metadata, created_at, updated_at, compressed, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
			id, uid, payload, nullableString(string(metadata)), now, now, boolToInt(compressed),
		)
		if err != nil {
			if isPrimaryKeyViolation(err) {
				return fmt.Errorf("%w: %q for user %q", ErrDuplicateID, id, uid)
			}
			return fmt.Errorf("store: insert memory: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO embeddings (memory_id, uid, embedding, created_at) VALUES (?, ?, ?, ?)`,
			id, uid, blob, now,
		)
		if err != nil {
			return fmt.Errorf("store: insert embedding: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.appendAudit(ctx, uid, model.ActionCreate, id, "created version 1")
	return nil
}

// Update replaces an active memory's content, metadata and embedding,
// advancing version and updated_at. A nil metadata keeps the existing
// value. Fails with ErrNotFound if the row does not exist, belongs to
// another uid, or is soft-deleted.
func (s *Store) Update(ctx context.Context, uid, id, content string, metadata []byte, vector []float32) error {
	if len(vector) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	payload, compressed, err := s.compressor.Pack(content)
	if err != nil {
		return err
	}

	now := model.FormatTime(time.Now())
	blob := encodeVector(vector)

	var newVersion int
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		// Ownership and liveness check before the write.
		var version int
		row := tx.QueryRowContext(ctx,
			`SELECT version FROM memories WHERE id = ? AND uid = ? AND deleted_at IS NULL`, id, uid)
		if err := row.Scan(&version); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %q for user %q", ErrNotFound, id, uid)
			}
			return fmt.Errorf("store: read version: %w", err)
		}
		newVersion = version + 1

		if metadata != nil {
			_, err = tx.ExecContext(ctx,
				`UPDATE memories SET content = ?, metadata = ?, updated_at = ?, compressed = ?, version = ?
				 WHERE id = ? AND uid = ? AND deleted_at IS NULL`,
				payload, string(metadata), now, boolToInt(compressed), newVersion, id, uid,
			)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE memories SET content = ?, updated_at = ?, compressed = ?, version = ?
				 WHERE id = ? AND uid = ? AND deleted_at IS NULL`,
				payload, now, boolToInt(compressed), newVersion, id, uid,
			)
		}
		if err != nil {
			return fmt.Errorf("store: update memory: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE embeddings SET embedding = ?, created_at = ? WHERE memory_id = ? AND uid = ?`,
			blob, now, id, uid,
		)
		if err != nil {
			return fmt.Errorf("store: update embedding: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET last_activity = ? WHERE uid = ?`, now, uid)
		if err != nil {
			return fmt.Errorf("store: touch user: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.appendAudit(ctx, uid, model.ActionUpdate, id, fmt.Sprintf("updated to version %d", newVersion))
	return nil
}

// SoftDelete marks an active memory deleted. The embedding row stays;
// it simply becomes unreferenced by normal queries until purge.
func (s *Store) SoftDelete(ctx context.Context, uid, id string) error {
	now := model.FormatTime(time.Now())

	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET deleted_at = ? WHERE id = ? AND uid = ? AND deleted_at IS NULL`,
		now, id, uid,
	)
	if err != nil {
		return fmt.Errorf("store: soft delete: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: soft delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q for user %q", ErrNotFound, id, uid)
	}

	s.appendAudit(ctx, uid, model.ActionDelete, id, "soft deleted")
	return nil
}

// Purge hard-deletes soft-deleted memories whose deleted_at is older
// than the cutoff. Embedding rows go with them via the foreign key
// cascade. Irreversible. Returns the number of memories removed.
func (s *Store) Purge(ctx context.Context, uid string, olderThan time.Duration) (int, error) {
	cutoff := model.FormatTime(time.Now().Add(-olderThan))

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE uid = ? AND deleted_at IS NOT NULL AND deleted_at < ?`,
		uid, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge: %w", err)
	}

	if affected > 0 {
		s.appendAudit(ctx, uid, model.ActionPurge, "", fmt.Sprintf("permanently deleted %d records", affected))
	}

	return int(affected), nil
}

const memoryColumns = `id, uid, content, metadata, created_at, updated_at, compressed, version`

// Get returns the active memory for (id, uid), decompressed, or
// ErrNotFound.
func (s *Store) Get(ctx context.Context, uid, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ? AND uid = ? AND deleted_at IS NULL`,
		id, uid,
	)

	mem, err := s.scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q for user %q", ErrNotFound, id, uid)
		}
		return nil, err
	}
	return mem, nil
}

// List returns the user's active memories, most recently updated
// first, decompressed.
func (s *Store) List(ctx context.Context, uid string, limit, offset int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE uid = ? AND deleted_at IS NULL
		 ORDER BY updated_at DESC
		 LIMIT ? OFFSET ?`,
		uid, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		mem, err := s.scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, *mem)
	}
	return memories, rows.Err()
}

// ListDeleted returns the user's soft-deleted memories still retained
// for recovery, most recently deleted first, decompressed. This is the
// one read path that surfaces deleted rows; normal reads exclude them.
func (s *Store) ListDeleted(ctx context.Context, uid string, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uid, content, metadata, created_at, updated_at, deleted_at, compressed, version
		 FROM memories
		 WHERE uid = ? AND deleted_at IS NOT NULL
		 ORDER BY deleted_at DESC
		 LIMIT ?`,
		uid, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list deleted: %w", err)
	}
	defer rows.Close()

	var memories []model.Memory
	for rows.Next() {
		var (
			mem        model.Memory
			metadata   sql.NullString
			deletedAt  sql.NullString
			compressed int
		)
		if err := rows.Scan(&mem.ID, &mem.UID, &mem.Content, &metadata, &mem.CreatedAt, &mem.UpdatedAt, &deletedAt, &compressed, &mem.Version); err != nil {
			return nil, fmt.Errorf("store: scan deleted memory: %w", err)
		}
		if err := s.finishMemory(&mem, metadata, compressed); err != nil {
			return nil, err
		}
		mem.DeletedAt = deletedAt.String
		memories = append(memories, mem)
	}
	return memories, rows.Err()
}

// ActiveSet loads the user's full active record set together with the
// embedding vectors, index-aligned: vectors[i] belongs to memories[i].
// This is the cache's single load path, so both structures always come
// from the same committed state.
func (s *Store) ActiveSet(ctx context.Context, uid string) ([]model.Memory, [][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.uid, m.content, m.metadata, m.created_at, m.updated_at, m.compressed, m.version, e.embedding
		 FROM memories m
		 JOIN embeddings e ON e.memory_id = m.id AND e.uid = m.uid
		 WHERE m.uid = ? AND m.deleted_at IS NULL
		 ORDER BY m.updated_at DESC`,
		uid,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("store: load active set: %w", err)
	}
	defer rows.Close()

	var (
		memories []model.Memory
		vectors  [][]float32
	)
	for rows.Next() {
		var (
			mem        model.Memory
			metadata   sql.NullString
			compressed int
			blob       []byte
		)
		if err := rows.Scan(&mem.ID, &mem.UID, &mem.Content, &metadata, &mem.CreatedAt, &mem.UpdatedAt, &compressed, &mem.Version, &blob); err != nil {
			return nil, nil, fmt.Errorf("store: scan active set: %w", err)
		}

		if err := s.finishMemory(&mem, metadata, compressed); err != nil {
			return nil, nil, err
		}

		vec, err := decodeVector(blob, s.dimension)
		if err != nil {
			return nil, nil, err
		}

		memories = append(memories, mem)
		vectors = append(vectors, vec)
	}
	return memories, vectors, rows.Err()
}

// ReplaceEmbedding overwrites the embedding of one active memory in
// its own transaction. Index rebuild calls this row by row so an
// interrupted rebuild never leaves a memory without an embedding.
func (s *Store) ReplaceEmbedding(ctx context.Context, uid, id string, vector []float32) error {
	if len(vector) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	now := model.FormatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE embeddings SET embedding = ?, created_at = ? WHERE memory_id = ? AND uid = ?`,
		encodeVector(vector), now, id, uid,
	)
	if err != nil {
		return fmt.Errorf("store: replace embedding: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: replace embedding: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %q for user %q", ErrNotFound, id, uid)
	}
	return nil
}

// UserStats summarizes a user's active memory set. Bytes counts the
// persisted payload, which is smaller than the raw content for
// compressed rows.
func (s *Store) UserStats(ctx context.Context, uid string) (model.UserStats, error) {
	var (
		stats          model.UserStats
		oldest, newest sql.NullString
		bytes          sql.NullInt64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(content)), 0), MIN(created_at), MAX(created_at)
		 FROM memories WHERE uid = ? AND deleted_at IS NULL`,
		uid,
	)
	if err := row.Scan(&stats.Count, &bytes, &oldest, &newest); err != nil {
		return model.UserStats{}, fmt.Errorf("store: user stats: %w", err)
	}

	stats.Bytes = bytes.Int64
	stats.Oldest = oldest.String
	stats.Newest = newest.String
	return stats, nil
}

// Stats summarizes the whole store across all users.
func (s *Store) Stats(ctx context.Context) (model.StoreStats, error) {
	stats := model.StoreStats{Dimension: s.dimension}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`)
	if err := row.Scan(&stats.Users); err != nil {
		return model.StoreStats{}, fmt.Errorf("store: stats: %w", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		 FROM memories`)
	if err := row.Scan(&stats.ActiveMemories, &stats.DeletedPending); err != nil {
		return model.StoreStats{}, fmt.Errorf("store: stats: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`)
	if err := row.Scan(&stats.AuditEntries); err != nil {
		return model.StoreStats{}, fmt.Errorf("store: stats: %w", err)
	}

	return stats, nil
}

// DeleteUser removes a user and, via foreign key cascades, all of
// their memories, embeddings and audit entries. Returns ErrNotFound if
// the user does not exist.
func (s *Store) DeleteUser(ctx context.Context, uid string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE uid = ?`, uid)
	if err != nil {
		return fmt.Errorf("store: delete user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete user: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %q", ErrNotFound, uid)
	}
	return nil
}

// AuditEntries returns the most recent audit entries for a user,
// newest first.
func (s *Store) AuditEntries(ctx context.Context, uid string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uid, action, memory_id, timestamp, details
		 FROM audit_log WHERE uid = ? ORDER BY id DESC LIMIT ?`,
		uid, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			entry             model.AuditEntry
			memoryID, details sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.UID, &entry.Action, &memoryID, &entry.Timestamp, &details); err != nil {
			return nil, fmt.Errorf("store: scan audit entry: %w", err)
		}
		entry.MemoryID = memoryID.String
		entry.Details = details.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SnapshotTo writes a consistent copy of the database to path using
// VACUUM INTO. The copy is a standalone SQLite file suitable for
// backup upload; the live database stays untouched.
func (s *Store) SnapshotTo(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path)
	if err != nil {
		return fmt.Errorf("store: snapshot: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// appendAudit records a mutating action. Audit failures never fail the
// primary operation; they are logged and swallowed.
func (s *Store) appendAudit(ctx context.Context, uid string, action model.Action, memoryID, details string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (uid, action, memory_id, timestamp, details) VALUES (?, ?, ?, ?, ?)`,
		uid, string(action), nullableString(memoryID), model.FormatTime(time.Now()), nullableString(details),
	)
	if err != nil {
		s.logger.WarnContext(ctx, "audit logging failed (non-fatal)",
			"uid", uid,
			"action", action,
			"memory_id", memoryID,
			"error", err,
		)
	}
}

func ensureUser(ctx context.Context, tx *sql.Tx, uid, now string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (uid, created_at, last_activity) VALUES (?, ?, ?)
		 ON CONFLICT (uid) DO UPDATE SET last_activity = excluded.last_activity`,
		uid, now, now,
	)
	if err != nil {
		return fmt.Errorf("store: ensure user: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanMemory(row scanner) (*model.Memory, error) {
	var (
		mem        model.Memory
		metadata   sql.NullString
		compressed int
	)
	if err := row.Scan(&mem.ID, &mem.UID, &mem.Content, &metadata, &mem.CreatedAt, &mem.UpdatedAt, &compressed, &mem.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan memory: %w", err)
	}

	if err := s.finishMemory(&mem, metadata, compressed); err != nil {
		return nil, err
	}
	return &mem, nil
}

func (s *Store) finishMemory(mem *model.Memory, metadata sql.NullString, compressed int) error {
	content, err := s.compressor.Unpack(mem.Content, compressed != 0)
	if err != nil {
		return err
	}
	mem.Content = content

	if metadata.Valid && metadata.String != "" {
		mem.Metadata = []byte(metadata.String)
	}
	return nil
}

func isPrimaryKeyViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT
	}
	// Fallback for driver versions that only surface the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
