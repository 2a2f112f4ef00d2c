// Package vectorindex wraps github.com/philippgille/chromem-go as the
// approximate-nearest-neighbor store backing component E (spec §4.E).
// Grounded on teilomillet-raggo/rag/chromem.go's collection/document
// wiring; chromem-go is the only vector-index library in the retrieved
// corpus that matches this spec's embedded, no-persistence-required
// profile (github.com/qdrant/go-client, the teacher's own dependency,
// targets a standalone server process and is dropped — see DESIGN.md).
package vectorindex

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Index is a cosine-space nearest-neighbor index over sequential
// insertion-order integer ids, matching spec's hnswlib-shaped contract:
// init/add/set_ef/knn, full-rebuild-only, never mutated in place.
type Index struct {
	mu sync.RWMutex

	db  *chromem.DB
	col *chromem.Collection

	dim      int
	capacity int
	ef       int
	size     int
}

// passthroughEmbeddingFunc is supplied only because chromem-go's
// CreateCollection requires one; every document added through this package
// carries a precomputed embedding, so the function is never invoked.
func passthroughEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorindex: embedding function should not be called, embeddings are precomputed")
}

// New allocates an index for vectors of the given dimension, ready to
// accept up to capacity items. M and efConstruction are accepted for
// interface parity with spec's hnswlib-shaped contract but have no effect
// on chromem-go, which does an exact brute-force scan rather than building
// a graph index (see DESIGN.md) — query-time ef is likewise accepted by
// SetEF but does not change chromem's exact search.
func New(dim, capacity, m, efConstruction int) *Index {
	db := chromem.NewDB()
	col, err := db.CreateCollection("default", map[string]string{}, passthroughEmbeddingFunc)
	if err != nil {
		// CreateCollection only fails on a nil embedding func or duplicate
		// name against a fresh in-memory DB, neither of which can happen here.
		panic(fmt.Sprintf("vectorindex: unexpected CreateCollection error: %v", err))
	}
	return &Index{
		db:       db,
		col:      col,
		dim:      dim,
		capacity: capacity,
		ef:       50,
	}
}

// SetEF tunes query-time recall (no-op against chromem's exact search; see New).
func (idx *Index) SetEF(ef int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.ef = ef
}

// Size returns the number of vectors currently indexed.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.size
}

// Add inserts vectors with their chunk text and metadata, assigning each
// a sequential integer id starting at the current size. Returns the
// assigned ids in the same order as the input. Fails once capacity would
// be exceeded, matching hnswlib's max_elements behavior.
func (idx *Index) Add(ctx context.Context, vectors [][]float32, contents []string, metadata []map[string]string) ([]int, error) {
	if len(vectors) != len(contents) || len(vectors) != len(metadata) {
		return nil, fmt.Errorf("vectorindex: vectors, contents, and metadata must have equal length")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.size+len(vectors) > idx.capacity {
		return nil, fmt.Errorf("vectorindex: adding %d vectors would exceed capacity %d (currently %d)", len(vectors), idx.capacity, idx.size)
	}

	ids := make([]int, len(vectors))
	for i, v := range vectors {
		if len(v) != idx.dim {
			return nil, fmt.Errorf("vectorindex: vector %d has dimension %d, want %d", i, len(v), idx.dim)
		}
		id := idx.size
		doc := chromem.Document{
			ID:        strconv.Itoa(id),
			Content:   contents[i],
			Metadata:  metadata[i],
			Embedding: v,
		}
		if err := idx.col.AddDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("vectorindex: add document %d: %w", id, err)
		}
		ids[i] = id
		idx.size++
	}

	return ids, nil
}

// KNN returns the k nearest neighbors to query by cosine distance, nearest
// first. Distance is in [0, 2]; similarity is 1 − distance.
func (idx *Index) KNN(ctx context.Context, query []float32, k int) (ids []int, distances []float32, err error) {
	idx.mu.RLock()
	size := idx.size
	idx.mu.RUnlock()

	if size == 0 || k <= 0 {
		return nil, nil, nil
	}
	if k > size {
		k = size
	}

	results, err := idx.col.QueryEmbedding(ctx, query, k, map[string]string{}, map[string]string{})
	if err != nil {
		return nil, nil, fmt.Errorf("vectorindex: query: %w", err)
	}

	ids = make([]int, len(results))
	distances = make([]float32, len(results))
	for i, r := range results {
		parsed, convErr := strconv.Atoi(r.ID)
		if convErr != nil {
			return nil, nil, fmt.Errorf("vectorindex: result id %q is not an integer: %w", r.ID, convErr)
		}
		ids[i] = parsed
		distances[i] = 1 - r.Similarity
	}
	return ids, distances, nil
}
