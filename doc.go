// Package memvault is an embedded, multi-tenant vector memory store.
//
// It persists user-authored text "memories" together with their
// embeddings in SQLite and serves semantic similarity search over
// them. Each memory belongs to exactly one user (uid); queries never
// cross that boundary.
//
// Features:
//
//   - Transactional dual-table writes: a memory and its embedding are
//     committed or rolled back together
//   - Monotonic per-record versioning with a full audit trail
//   - Soft delete with retention-window purge
//   - Transparent content compression (zlib/zstd/lz4) above 1 KiB
//   - Read-through per-user snapshot cache, invalidated on mutation
//   - Exact brute-force cosine search with top-k and similarity floor
//   - Pluggable embedders (Gemini, deterministic hashing)
//   - Snapshot backup to local disk, S3 or MinIO
//
// # Quick Start
//
//	ctx := context.Background()
//
//	emb, err := embedder.NewHashing(768)
//	if err != nil {
//	    panic(err)
//	}
//
//	mv, err := memvault.New("./memvault.db", emb)
//	if err != nil {
//	    panic(err)
//	}
//	defer mv.Close()
//
//	id, err := mv.AddMemory(ctx, "u1", "Met Sarah at the conference, she works on robotics")
//	if err != nil {
//	    panic(err)
//	}
//
//	results, err := mv.Search(ctx, "u1", "who did I meet?", func(o *memvault.SearchOptions) {
//	    o.TopK = 5
//	    o.MinSimilarity = 0.3
//	})
//
//	_ = id
//	_ = results
//
// # Concurrency
//
// memvault assumes a single writer process. Readers may run in
// parallel with each other and with mutations: each read sees either
// the pre- or post-mutation state, never a torn mix, because reads hit
// a frozen cache snapshot or committed transactional state. Timeouts
// and retries around the embedder belong to the caller.
package memvault
