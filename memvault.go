package memvault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/memvault/backup"
	"github.com/hupe1980/memvault/cache"
	"github.com/hupe1980/memvault/codec"
	"github.com/hupe1980/memvault/embedder"
	"github.com/hupe1980/memvault/model"
	"github.com/hupe1980/memvault/search"
	"github.com/hupe1980/memvault/store"
)

const (
	// MaxContentChars is the largest accepted content length, in
	// characters.
	MaxContentChars = 100_000

	// MaxMetadataBytes is the largest accepted serialized metadata size.
	MaxMetadataBytes = 64 * 1024
)

// Store is the public facade of the memory store. It owns the record
// store, the snapshot cache and the embedder, and funnels every
// mutation through cache invalidation.
type Store struct {
	records  *store.Store
	cache    *cache.Cache
	embedder embedder.Embedder

	purgeRetention time.Duration
	metrics        MetricsCollector
	logger         *Logger
	closed         atomic.Bool
}

// New opens (or creates) a memory store at path. The embedder fixes
// the store's embedding dimension; reopening an existing database with
// a different dimension makes previously stored vectors unreadable, so
// keep the embedder stable per database (or run RebuildIndex).
func New(path string, emb embedder.Embedder, optFns ...Option) (*Store, error) {
	if emb == nil {
		return nil, fmt.Errorf("memvault: embedder is required")
	}

	dim := emb.Dimension()
	if dim < embedder.MinDimension || dim > embedder.MaxDimension {
		return nil, fmt.Errorf("memvault: embedder dimension must be in [%d, %d], got %d",
			embedder.MinDimension, embedder.MaxDimension, dim)
	}

	opts := applyOptions(optFns)

	records, err := store.Open(path, dim, func(o *store.Options) {
		o.Compressor = codec.NewCompressor(opts.codec, opts.compressionThreshold)
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	s := &Store{
		records:        records,
		embedder:       emb,
		purgeRetention: opts.purgeRetention,
		metrics:        opts.metricsCollector,
		logger:         opts.logger,
	}
	s.cache = cache.New(records.ActiveSet)

	return s, nil
}

// Close closes the store. Further calls return ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.records.Close()
}

// Dimension returns the store's embedding dimension.
func (s *Store) Dimension() int { return s.records.Dimension() }

// AddOptions configures AddMemory.
type AddOptions struct {
	// ID is the caller-supplied memory id. Empty generates one.
	ID string

	// Metadata is an opaque JSON object stored with the memory.
	Metadata json.RawMessage
}

// AddMemory stores a new memory for uid and returns its id.
//
// The content is embedded, compressed per policy and committed
// together with its embedding in one transaction; on any failure
// nothing is persisted. Fails with ErrDuplicateID if the id already
// exists for this user. Soft-deleted rows count, purge first to reuse
// an id.
func (s *Store) AddMemory(ctx context.Context, uid, content string, optFns ...func(o *AddOptions)) (string, error) {
	start := time.Now()

	var opts AddOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	id, err := s.addMemory(ctx, uid, content, opts)
	s.metrics.RecordAdd(time.Since(start), err)
	s.logger.LogAdd(ctx, uid, id, err)
	return id, err
}

func (s *Store) addMemory(ctx context.Context, uid, content string, opts AddOptions) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return "", err
	}
	if err := validateContent(content); err != nil {
		return "", err
	}
	if err := validateMetadata(opts.Metadata); err != nil {
		return "", err
	}

	id := opts.ID
	if id == "" {
		id = generateID(uid)
	}

	vector, err := s.embedder.EmbedDocument(ctx, content)
	if err != nil {
		return id, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	if err := s.records.Add(ctx, uid, id, content, opts.Metadata, vector); err != nil {
		return id, translateError(err)
	}

	s.cache.Invalidate(uid)
	return id, nil
}

// UpdateOptions configures UpdateMemory.
type UpdateOptions struct {
	// Metadata replaces the stored metadata. Nil keeps the existing
	// value.
	Metadata json.RawMessage
}

// UpdateMemory replaces an active memory's content, re-embedding it
// and advancing the version by exactly 1. Fails with ErrNotFound if
// the memory does not exist, belongs to another user, or is
// soft-deleted.
func (s *Store) UpdateMemory(ctx context.Context, uid, id, content string, optFns ...func(o *UpdateOptions)) error {
	start := time.Now()

	var opts UpdateOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	err := s.updateMemory(ctx, uid, id, content, opts)
	s.metrics.RecordUpdate(time.Since(start), err)
	s.logger.LogUpdate(ctx, uid, id, err)
	return err
}

func (s *Store) updateMemory(ctx context.Context, uid, id, content string, opts UpdateOptions) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return err
	}
	if err := validateContent(content); err != nil {
		return err
	}
	if err := validateMetadata(opts.Metadata); err != nil {
		return err
	}

	vector, err := s.embedder.EmbedDocument(ctx, content)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	if err := s.records.Update(ctx, uid, id, content, opts.Metadata, vector); err != nil {
		return translateError(err)
	}

	s.cache.Invalidate(uid)
	return nil
}

// SoftDeleteMemory marks an active memory deleted. The row and its
// embedding survive until PurgeDeleted. Fails with ErrNotFound if no
// matching active memory exists.
func (s *Store) SoftDeleteMemory(ctx context.Context, uid, id string) error {
	start := time.Now()
	err := s.softDeleteMemory(ctx, uid, id)
	s.metrics.RecordDelete(time.Since(start), err)
	s.logger.LogDelete(ctx, uid, id, err)
	return err
}

func (s *Store) softDeleteMemory(ctx context.Context, uid, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return err
	}

	if err := s.records.SoftDelete(ctx, uid, id); err != nil {
		return translateError(err)
	}

	s.cache.Invalidate(uid)
	return nil
}

// PurgeDeleted permanently removes the user's soft-deleted memories
// whose deletion is older than the given age. A zero age selects the
// configured retention window (default 30 days); a negative age moves
// the cutoff into the future and removes every soft-deleted row.
// Irreversible. Returns the number of memories removed.
func (s *Store) PurgeDeleted(ctx context.Context, uid string, olderThan time.Duration) (int, error) {
	start := time.Now()
	purged, err := s.purgeDeleted(ctx, uid, olderThan)
	s.metrics.RecordPurge(purged, time.Since(start), err)
	s.logger.LogPurge(ctx, uid, purged, err)
	return purged, err
}

func (s *Store) purgeDeleted(ctx context.Context, uid string, olderThan time.Duration) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return 0, err
	}
	if olderThan == 0 {
		olderThan = s.purgeRetention
	}

	purged, err := s.records.Purge(ctx, uid, olderThan)
	if err != nil {
		return 0, translateError(err)
	}

	if purged > 0 {
		s.cache.Invalidate(uid)
	}
	return purged, nil
}

// GetMemory returns the active memory for (id, uid), decompressed.
// Fails with ErrNotFound if no matching active memory exists.
func (s *Store) GetMemory(ctx context.Context, uid, id string) (*model.Memory, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return nil, err
	}

	mem, err := s.records.Get(ctx, uid, id)
	if err != nil {
		return nil, translateError(err)
	}
	return mem, nil
}

// GetUserMemories returns the user's active memories, most recently
// updated first. limit <= 0 selects 100; offset paginates.
// Served from the snapshot cache.
func (s *Store) GetUserMemories(ctx context.Context, uid string, limit, offset int) ([]model.Memory, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	snap, err := s.cache.Snapshot(ctx, uid)
	if err != nil {
		return nil, err
	}

	if offset >= snap.Len() {
		return nil, nil
	}
	end := offset + limit
	if end > snap.Len() {
		end = snap.Len()
	}

	out := make([]model.Memory, end-offset)
	copy(out, snap.Memories[offset:end])
	return out, nil
}

// SearchOptions configures Search.
type SearchOptions struct {
	// TopK is the maximum number of results. Default 5.
	TopK int

	// MinSimilarity drops results below this cosine similarity.
	// Default 0.
	MinSimilarity float32
}

// Search returns the user's memories most similar to the query,
// descending by cosine similarity.
//
// Search is best-effort: if the user has no active memories the query
// is never embedded, and if query embedding fails the error is logged
// and an empty result returned. Storage failures are still surfaced.
func (s *Store) Search(ctx context.Context, uid, query string, optFns ...func(o *SearchOptions)) ([]model.SearchResult, error) {
	start := time.Now()

	opts := SearchOptions{TopK: 5}
	for _, fn := range optFns {
		fn(&opts)
	}

	results, err := s.search(ctx, uid, query, opts)
	s.metrics.RecordSearch(opts.TopK, time.Since(start), err)
	s.logger.LogSearch(ctx, uid, opts.TopK, len(results), err)
	return results, err
}

func (s *Store) search(ctx context.Context, uid, query string, opts SearchOptions) ([]model.SearchResult, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return nil, err
	}

	snap, err := s.cache.Snapshot(ctx, uid)
	if err != nil {
		return nil, err
	}
	if snap.Len() == 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.ErrorContext(ctx, "query embedding failed", "uid", uid, "error", err)
		return nil, nil
	}

	return search.TopK(snap, queryVec, opts.TopK, opts.MinSimilarity), nil
}

// GetStats summarizes the user's active memory set.
func (s *Store) GetStats(ctx context.Context, uid string) (model.UserStats, error) {
	if s.closed.Load() {
		return model.UserStats{}, ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return model.UserStats{}, err
	}
	return s.records.UserStats(ctx, uid)
}

// Stats summarizes the whole store across users.
func (s *Store) Stats(ctx context.Context) (model.StoreStats, error) {
	if s.closed.Load() {
		return model.StoreStats{}, ErrClosed
	}
	return s.records.Stats(ctx)
}

// RebuildIndex re-embeds every active memory of the user and replaces
// its stored embedding, one transaction per row, so an interruption
// never leaves a memory without an embedding. Rows whose embedding
// fails get a zero vector: degraded but searchable beats a partly
// rebuilt index. Use after changing the embedding model.
func (s *Store) RebuildIndex(ctx context.Context, uid string) error {
	start := time.Now()
	total, degraded, err := s.rebuildIndex(ctx, uid)
	s.metrics.RecordRebuild(total, degraded, time.Since(start), err)
	s.logger.LogRebuild(ctx, uid, total, degraded, err)
	return err
}

func (s *Store) rebuildIndex(ctx context.Context, uid string) (total, degraded int, err error) {
	if s.closed.Load() {
		return 0, 0, ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return 0, 0, err
	}

	memories, _, err := s.records.ActiveSet(ctx, uid)
	if err != nil {
		return 0, 0, err
	}

	zero := make([]float32, s.records.Dimension())
	for _, mem := range memories {
		if err := ctx.Err(); err != nil {
			return total, degraded, err
		}

		vector, embErr := s.embedder.EmbedDocument(ctx, mem.Content)
		if embErr != nil {
			s.logger.WarnContext(ctx, "re-embedding failed, storing zero vector",
				"uid", uid, "id", mem.ID, "error", embErr)
			vector = zero
			degraded++
		}

		if err := s.records.ReplaceEmbedding(ctx, uid, mem.ID, vector); err != nil {
			return total, degraded, translateError(err)
		}
		total++
	}

	s.cache.Invalidate(uid)
	return total, degraded, nil
}

// BatchItem is one entry of AddBatch.
type BatchItem struct {
	Content  string
	ID       string
	Metadata json.RawMessage
}

// AddBatch adds multiple memories sequentially and returns the number
// stored. A failing item is logged and skipped; it does not stop the
// rest. Context cancellation does.
func (s *Store) AddBatch(ctx context.Context, uid string, items []BatchItem) int {
	var added int
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		_, err := s.AddMemory(ctx, uid, item.Content, func(o *AddOptions) {
			o.ID = item.ID
			o.Metadata = item.Metadata
		})
		if err == nil {
			added++
		}
	}

	if added < len(items) {
		s.logger.WarnContext(ctx, "batch add completed with failures",
			"uid", uid, "total", len(items), "added", added)
	}
	return added
}

// DeleteUser removes the user and everything they own: memories,
// embeddings and audit entries. Irreversible.
func (s *Store) DeleteUser(ctx context.Context, uid string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return err
	}

	if err := s.records.DeleteUser(ctx, uid); err != nil {
		return translateError(err)
	}

	s.cache.Invalidate(uid)
	return nil
}

// DeletedMemories returns the user's soft-deleted memories still
// retained for recovery, most recently deleted first. This is the one
// read path that surfaces deleted rows; each carries a non-empty
// DeletedAt and disappears for good once purged. limit <= 0 selects
// 100.
func (s *Store) DeletedMemories(ctx context.Context, uid string, limit int) ([]model.Memory, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return nil, err
	}
	return s.records.ListDeleted(ctx, uid, limit)
}

// AuditTrail returns the user's most recent audit entries, newest
// first.
func (s *Store) AuditTrail(ctx context.Context, uid string, limit int) ([]model.AuditEntry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateUID(uid); err != nil {
		return nil, err
	}
	return s.records.AuditEntries(ctx, uid, limit)
}

// Backup writes a consistent snapshot of the database and uploads it
// to bs under name. An empty name selects a timestamped default.
func (s *Store) Backup(ctx context.Context, bs backup.BlobStore, name string) error {
	if name == "" {
		name = fmt.Sprintf("memvault-%s.db", time.Now().UTC().Format("20060102T150405Z"))
	}

	err := s.doBackup(ctx, bs, name)
	s.logger.LogBackup(ctx, name, err)
	return err
}

func (s *Store) doBackup(ctx context.Context, bs backup.BlobStore, name string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	dir, err := os.MkdirTemp("", "memvault-backup-*")
	if err != nil {
		return fmt.Errorf("memvault: create backup dir: %w", err)
	}
	defer os.RemoveAll(dir)

	snapshot := filepath.Join(dir, "snapshot.db")
	if err := s.records.SnapshotTo(ctx, snapshot); err != nil {
		return err
	}

	f, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("memvault: open snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("memvault: stat snapshot: %w", err)
	}

	return bs.Put(ctx, name, f, info.Size())
}

func generateID(uid string) string {
	return fmt.Sprintf("mem_%s_%d", uid, time.Now().UnixNano())
}

func validateUID(uid string) error {
	if strings.TrimSpace(uid) == "" {
		return fmt.Errorf("%w: uid is required", ErrValidation)
	}
	return nil
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if n := utf8.RuneCountInString(content); n > MaxContentChars {
		return fmt.Errorf("%w: content is %d characters, max %d", ErrValidation, n, MaxContentChars)
	}
	return nil
}

func validateMetadata(metadata json.RawMessage) error {
	if metadata == nil {
		return nil
	}
	if len(metadata) > MaxMetadataBytes {
		return fmt.Errorf("%w: metadata is %d bytes, max %d", ErrValidation, len(metadata), MaxMetadataBytes)
	}
	if !json.Valid(metadata) {
		return fmt.Errorf("%w: metadata is not valid JSON", ErrValidation)
	}
	return nil
}
