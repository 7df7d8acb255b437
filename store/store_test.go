package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memvault/model"
)

const testDim = 4

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "memvault.db"), testDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func vec(vals ...float32) []float32 {
	v := make([]float32, testDim)
	copy(v, vals)
	return v
}

func TestAddAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "Hello world", []byte(`{"tag":"greeting"}`), vec(1, 2, 3, 4)))

	mem, err := s.Get(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", mem.Content)
	assert.Equal(t, "u1", mem.UID)
	assert.Equal(t, 1, mem.Version)
	assert.JSONEq(t, `{"tag":"greeting"}`, string(mem.Metadata))
	assert.NotEmpty(t, mem.CreatedAt)
	assert.Equal(t, mem.CreatedAt, mem.UpdatedAt)
}

func TestAddDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "x", nil, vec(1)))

	err := s.Add(ctx, "u1", "m1", "y", nil, vec(2))
	assert.ErrorIs(t, err, ErrDuplicateID)

	// Same id under a different uid is a different record.
	assert.NoError(t, s.Add(ctx, "u2", "m1", "y", nil, vec(2)))
}

func TestAddDimensionMismatch(t *testing.T) {
	s := newTestStore(t)

	err := s.Add(context.Background(), "u1", "m1", "x", nil, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.Get(context.Background(), "u1", "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompressionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("A", 2000)
	require.NoError(t, s.Add(ctx, "u1", "m1", long, nil, vec(1)))

	// The persisted payload must be compressed.
	var compressed int
	row := s.db.QueryRowContext(ctx, `SELECT compressed FROM memories WHERE id = 'm1' AND uid = 'u1'`)
	require.NoError(t, row.Scan(&compressed))
	assert.Equal(t, 1, compressed)

	mem, err := s.Get(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, long, mem.Content)
}

func TestUpdateAdvancesVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "v1 text", nil, vec(1)))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Update(ctx, "u1", "m1", "newer text", nil, vec(float32(i))))
	}

	mem, err := s.Get(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 4, mem.Version)
	assert.Equal(t, "newer text", mem.Content)
}

func TestUpdateKeepsMetadataWhenNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "x", []byte(`{"source":"omi"}`), vec(1)))
	require.NoError(t, s.Update(ctx, "u1", "m1", "y", nil, vec(2)))

	mem, err := s.Get(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"omi"}`, string(mem.Metadata))

	require.NoError(t, s.Update(ctx, "u1", "m1", "z", []byte(`{"source":"manual"}`), vec(3)))
	mem, err = s.Get(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"manual"}`, string(mem.Metadata))
}

func TestUpdateMissingOrForeign(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "x", nil, vec(1)))

	assert.ErrorIs(t, s.Update(ctx, "u1", "nope", "y", nil, vec(2)), ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, "u2", "m1", "y", nil, vec(2)), ErrNotFound)
}

func TestSoftDeleteExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "x", nil, vec(1)))
	require.NoError(t, s.SoftDelete(ctx, "u1", "m1"))

	_, err := s.Get(ctx, "u1", "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.List(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// The row itself survives until purge.
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE id = 'm1' AND uid = 'u1'`)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 1, n)

	// Second delete finds no active row.
	assert.ErrorIs(t, s.SoftDelete(ctx, "u1", "m1"), ErrNotFound)

	// Update on a soft-deleted row fails.
	assert.ErrorIs(t, s.Update(ctx, "u1", "m1", "y", nil, vec(2)), ErrNotFound)

	// Re-adding the id fails until the prior row is purged.
	assert.ErrorIs(t, s.Add(ctx, "u1", "m1", "y", nil, vec(2)), ErrDuplicateID)
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "x", nil, vec(1)))
	require.NoError(t, s.Add(ctx, "u1", "m2", "y", nil, vec(2)))
	require.NoError(t, s.SoftDelete(ctx, "u1", "m1"))

	// Cutoff in the future relative to deleted_at: row qualifies.
	count, err := s.Purge(ctx, "u1", -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Purged id can be re-added; embeddings cascade was applied.
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE memory_id = 'm1' AND uid = 'u1'`)
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 0, n)

	assert.NoError(t, s.Add(ctx, "u1", "m1", "again", nil, vec(3)))

	// Active rows are untouched by purge.
	_, err = s.Get(ctx, "u1", "m2")
	assert.NoError(t, err)
}

func TestPurgeRetentionWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "x", nil, vec(1)))
	require.NoError(t, s.SoftDelete(ctx, "u1", "m1"))

	// Freshly deleted row is inside the retention window.
	count, err := s.Purge(ctx, "u1", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestListDeleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "keep", nil, vec(1)))
	require.NoError(t, s.Add(ctx, "u1", "m2", "drop", nil, vec(2)))
	require.NoError(t, s.SoftDelete(ctx, "u1", "m2"))

	deleted, err := s.ListDeleted(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "m2", deleted[0].ID)
	assert.Equal(t, "drop", deleted[0].Content)
	assert.NotEmpty(t, deleted[0].DeletedAt)
	assert.True(t, deleted[0].Deleted())

	// Purge removes the row from the recovery listing too.
	_, err = s.Purge(ctx, "u1", -time.Hour)
	require.NoError(t, err)

	deleted, err = s.ListDeleted(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestListOrderAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "first", nil, vec(1)))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Add(ctx, "u1", "m2", "second", nil, vec(2)))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Update(ctx, "u1", "m1", "first updated", nil, vec(3)))

	list, err := s.List(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m1", list[0].ID, "most recently updated first")
	assert.Equal(t, "m2", list[1].ID)

	page, err := s.List(ctx, "u1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m2", page[0].ID)
}

func TestUserIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "alpha", nil, vec(1)))
	require.NoError(t, s.Add(ctx, "u2", "m2", "beta", nil, vec(2)))

	list, err := s.List(ctx, "u2", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "m2", list[0].ID)

	_, err = s.Get(ctx, "u2", "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveSetAlignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "one", nil, vec(1, 0, 0, 0)))
	require.NoError(t, s.Add(ctx, "u1", "m2", "two", nil, vec(0, 1, 0, 0)))
	require.NoError(t, s.SoftDelete(ctx, "u1", "m1"))

	memories, vectors, err := s.ActiveSet(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	require.Len(t, vectors, 1)
	assert.Equal(t, "m2", memories[0].ID)
	assert.Equal(t, vec(0, 1, 0, 0), vectors[0])
}

func TestReplaceEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "x", nil, vec(1)))
	require.NoError(t, s.ReplaceEmbedding(ctx, "u1", "m1", vec(9, 9, 9, 9)))

	_, vectors, err := s.ActiveSet(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, vec(9, 9, 9, 9), vectors[0])

	assert.ErrorIs(t, s.ReplaceEmbedding(ctx, "u1", "nope", vec(1)), ErrNotFound)
}

func TestAuditTrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "x", nil, vec(1)))
	require.NoError(t, s.Update(ctx, "u1", "m1", "y", nil, vec(2)))
	require.NoError(t, s.SoftDelete(ctx, "u1", "m1"))
	_, err := s.Purge(ctx, "u1", -time.Hour)
	require.NoError(t, err)

	entries, err := s.AuditEntries(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// Newest first.
	assert.Equal(t, model.ActionPurge, entries[0].Action)
	assert.Equal(t, model.ActionDelete, entries[1].Action)
	assert.Equal(t, model.ActionUpdate, entries[2].Action)
	assert.Equal(t, model.ActionCreate, entries[3].Action)
	assert.Equal(t, "m1", entries[3].MemoryID)
	assert.Empty(t, entries[0].MemoryID, "purge entries carry no memory id")
}

func TestUserStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats, err := s.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	require.NoError(t, s.Add(ctx, "u1", "m1", "hello", nil, vec(1)))
	require.NoError(t, s.Add(ctx, "u1", "m2", "world!", nil, vec(2)))

	stats, err = s.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, int64(len("hello")+len("world!")), stats.Bytes)
	assert.NotEmpty(t, stats.Oldest)
	assert.NotEmpty(t, stats.Newest)
}

func TestStoreStatsAndDeleteUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "u1", "m1", "x", nil, vec(1)))
	require.NoError(t, s.Add(ctx, "u2", "m1", "y", nil, vec(2)))
	require.NoError(t, s.SoftDelete(ctx, "u2", "m1"))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.ActiveMemories)
	assert.Equal(t, 1, stats.DeletedPending)
	assert.Equal(t, testDim, stats.Dimension)
	assert.Positive(t, stats.AuditEntries)

	require.NoError(t, s.DeleteUser(ctx, "u2"))

	stats, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Users)
	assert.Zero(t, stats.DeletedPending)

	entries, err := s.AuditEntries(ctx, "u2", 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "user deletion cascades to audit entries")

	assert.ErrorIs(t, s.DeleteUser(ctx, "u2"), ErrNotFound)
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memvault.db")
	ctx := context.Background()

	s, err := Open(path, testDim)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "u1", "m1", "persisted", nil, vec(1)))
	require.NoError(t, s.Close())

	s, err = Open(path, testDim)
	require.NoError(t, err)
	defer s.Close()

	mem, err := s.Get(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "persisted", mem.Content)
}
