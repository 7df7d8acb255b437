// Package cache materializes per-user snapshots of the active record
// set and its embedding matrix for reuse across repeated list and
// search calls.
//
// Snapshots are read-through and write-invalidated: any mutation
// discards the affected user's snapshot wholesale. Partial patching is
// never attempted; correctness over efficiency.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/memvault/model"
)

// Snapshot is a frozen view of one user's active memories. Vectors[i]
// is the embedding of Memories[i]; both come from the same committed
// database state, so a reader sees pre- or post-mutation state, never
// a torn mix.
type Snapshot struct {
	Memories []model.Memory
	Vectors  [][]float32

	// Searchable marks the rows whose vectors have a non-zero norm.
	// Rows left with a zero vector by a degraded index rebuild are
	// excluded from similarity ranking but still listed.
	Searchable *roaring.Bitmap

	LoadedAt time.Time
}

// Len returns the number of active memories in the snapshot.
func (s *Snapshot) Len() int { return len(s.Memories) }

// Loader produces a user's active memories and index-aligned vectors
// from durable storage.
type Loader func(ctx context.Context, uid string) ([]model.Memory, [][]float32, error)

// Cache is an instance-owned snapshot cache. It is never written to
// durable storage and is safe to discard and rebuild at any time.
type Cache struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
	gens  map[string]uint64
	epoch uint64
	group singleflight.Group

	loader Loader
}

// New creates a Cache backed by loader.
func New(loader Loader) *Cache {
	return &Cache{
		snaps:  make(map[string]*Snapshot),
		gens:   make(map[string]uint64),
		loader: loader,
	}
}

// Snapshot returns the user's snapshot, loading it from storage on
// first read after invalidation. Concurrent loads for the same uid are
// deduplicated.
func (c *Cache) Snapshot(ctx context.Context, uid string) (*Snapshot, error) {
	c.mu.Lock()
	if snap, ok := c.snaps[uid]; ok {
		c.mu.Unlock()
		return snap, nil
	}
	gen := c.gens[uid]
	epoch := c.epoch
	c.mu.Unlock()

	// The generation is part of the flight key: a reader arriving after
	// an invalidation must never join a load that began before it, or
	// it would observe pre-mutation state.
	key := fmt.Sprintf("%s#%d#%d", uid, gen, epoch)

	v, err, _ := c.group.Do(key, func() (any, error) {
		memories, vectors, err := c.loader(ctx, uid)
		if err != nil {
			return nil, err
		}
		if len(memories) != len(vectors) {
			return nil, fmt.Errorf("cache: loader returned %d memories but %d vectors", len(memories), len(vectors))
		}

		searchable := roaring.New()
		for i, vec := range vectors {
			if !isZero(vec) {
				searchable.Add(uint32(i))
			}
		}

		snap := &Snapshot{
			Memories:   memories,
			Vectors:    vectors,
			Searchable: searchable,
			LoadedAt:   time.Now(),
		}

		c.mu.Lock()
		// A mutation may have invalidated while we were loading; only
		// cache the snapshot if the generation is unchanged. The caller
		// still gets a consistent (if momentarily stale) view.
		if c.gens[uid] == gen && c.epoch == epoch {
			c.snaps[uid] = snap
		}
		c.mu.Unlock()

		return snap, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Snapshot), nil
}

// Invalidate discards a user's snapshot. Called unconditionally after
// every mutation for that user.
func (c *Cache) Invalidate(uid string) {
	c.mu.Lock()
	delete(c.snaps, uid)
	c.gens[uid]++
	c.mu.Unlock()
}

// InvalidateAll discards every snapshot.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	clear(c.snaps)
	c.epoch++
	c.mu.Unlock()
}

// Cached reports whether a snapshot currently exists for uid.
func (c *Cache) Cached(uid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.snaps[uid]
	return ok
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
