// Package search ranks cached memories against a query vector.
//
// The scan is exact and brute-force, O(n·d) per query over one user's
// active set. That is the deliberate baseline; swapping this package's
// implementation behind the same signature is the extension point for
// an approximate index if per-user counts grow large.
package search

import (
	"container/heap"
	"sort"

	"github.com/hupe1980/memvault/cache"
	"github.com/hupe1980/memvault/distance"
	"github.com/hupe1980/memvault/model"
)

// TopK returns the up-to-k memories from snap most similar to query,
// descending by cosine similarity, dropping entries below
// minSimilarity. Rows outside the snapshot's searchable set (zero
// vectors) are skipped.
func TopK(snap *cache.Snapshot, query []float32, k int, minSimilarity float32) []model.SearchResult {
	if snap == nil || snap.Len() == 0 || k <= 0 {
		return nil
	}

	// Min-heap of the k best candidates seen so far: the root is the
	// weakest survivor and gets evicted by anything better.
	h := &resultHeap{}
	heap.Init(h)

	it := snap.Searchable.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		sim := distance.Cosine(query, snap.Vectors[i])
		if sim < minSimilarity {
			continue
		}

		if h.Len() < k {
			heap.Push(h, candidate{row: i, similarity: sim})
		} else if sim > (*h)[0].similarity {
			(*h)[0] = candidate{row: i, similarity: sim}
			heap.Fix(h, 0)
		}
	}

	results := make([]model.SearchResult, h.Len())
	for i := range results {
		results[i] = model.SearchResult{
			Memory:     snap.Memories[(*h)[i].row],
			Similarity: (*h)[i].similarity,
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	return results
}

type candidate struct {
	row        int
	similarity float32
}

// Compile time check to ensure resultHeap satisfies the heap interface.
var _ heap.Interface = (*resultHeap)(nil)

type resultHeap []candidate

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].similarity < h[j].similarity }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
