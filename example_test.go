package memvault_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hupe1980/memvault"
	"github.com/hupe1980/memvault/embedder"
)

// Example demonstrates the basic add/search lifecycle.
func Example() {
	dir, err := os.MkdirTemp("", "memvault-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	// A deterministic local embedder; swap in embedder.NewGemini for
	// production quality embeddings.
	emb, err := embedder.NewHashing(256)
	if err != nil {
		log.Fatal(err)
	}

	store, err := memvault.New(filepath.Join(dir, "memories.db"), emb)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	if _, err := store.AddMemory(ctx, "alice", "prefers tea over coffee"); err != nil {
		log.Fatal(err)
	}
	if _, err := store.AddMemory(ctx, "alice", "allergic to peanuts"); err != nil {
		log.Fatal(err)
	}

	results, err := store.Search(ctx, "alice", "prefers tea over coffee", func(o *memvault.SearchOptions) {
		o.TopK = 1
	})
	if err != nil {
		log.Fatal(err)
	}

	for _, r := range results {
		fmt.Println(r.Memory.Content)
	}
	// Output: prefers tea over coffee
}

// Example_retention demonstrates soft deletion and the purge window.
func Example_retention() {
	dir, err := os.MkdirTemp("", "memvault-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	emb, err := embedder.NewHashing(256)
	if err != nil {
		log.Fatal(err)
	}

	store, err := memvault.New(filepath.Join(dir, "memories.db"), emb)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	id, err := store.AddMemory(ctx, "alice", "outdated fact")
	if err != nil {
		log.Fatal(err)
	}

	if err := store.SoftDeleteMemory(ctx, "alice", id); err != nil {
		log.Fatal(err)
	}

	// Still inside the retention window, nothing is removed.
	purged, err := store.PurgeDeleted(ctx, "alice", 0)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(purged)
	// Output: 0
}
