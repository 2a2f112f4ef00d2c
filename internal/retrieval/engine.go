// Package retrieval implements the Retrieval Engine (spec §4.F): the
// orchestration layer that turns PDFs, web pages, or raw strings into a
// fresh vector index and answers similarity queries against it.
//
// Grounded on the teacher's internal/ingestion/pipeline.go (the overall
// fetch→chunk→embed→store shape) and internal/rag/retriever.go (the
// embed-then-search query pattern), reworked to match
// original_source/llm_kickstart/utils_rag.py's KickstartVectorsearch
// (index_vectorstore / init_vectorstore_pdf / init_vectorstore_web)
// exactly: full-rebuild-only semantics, the non-existent-path-then-
// base-dir-retry rule, and ok=true iff at least one chunk was produced.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/localrag/ragproxy-go/internal/chunk"
	"github.com/localrag/ragproxy-go/internal/crawl"
	"github.com/localrag/ragproxy-go/internal/embed"
	"github.com/localrag/ragproxy-go/internal/logging"
	"github.com/localrag/ragproxy-go/internal/pdfread"
	"github.com/localrag/ragproxy-go/internal/vectorindex"
)

// DefaultK and DefaultThreshold are spec §4.F's stated defaults.
const (
	DefaultK         = 4
	DefaultThreshold = 0.5
	defaultCapacity  = 10000
	indexM           = 48
	indexEFConstruct = 200
)

// Result is one surviving chunk from a Query call.
type Result struct {
	Chunk          string
	SourceInfo     string
	SourcePosition int
	Similarity     float32
}

// Engine owns the current vector index and its parallel chunk/metadata
// arrays. It is not reentrant with respect to ingest (spec §5): a single
// RWMutex makes ingest exclusive and queries shared.
type Engine struct {
	mu sync.RWMutex

	embedder Embedder
	splitter *chunk.Splitter
	crawler  *crawl.Crawler

	docBaseDir string

	index    *vectorindex.Index
	chunks   []string
	metadata []metadataEntry

	armed bool
	// generation increments on every successful re-arm, giving callers a
	// cheap way to detect "the index changed under me" (spec §5's
	// "ids... stable for the lifetime of the current index generation").
	generation int
}

// Embedder is the subset of internal/embed.Embedder the engine needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type metadataEntry struct {
	SourceInfo     string
	SourcePosition int
}

// New constructs an idle Engine. docBaseDir is the fallback directory
// non-existent PDF paths are retried against.
func New(embedder Embedder, docBaseDir string) *Engine {
	return &Engine{
		embedder:   embedder,
		splitter:   chunk.New(chunk.DefaultSize, chunk.DefaultOverlap),
		crawler:    crawl.New(0),
		docBaseDir: docBaseDir,
	}
}

// IsArmed reports whether retrieval is currently active (spec §4.G.2).
func (e *Engine) IsArmed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.armed
}

// Disarm transitions Armed → Idle without discarding query capability —
// the engine simply stops being consulted (handled by callers checking
// IsArmed). Matches the /forgetcontext and /v1/disablerag transitions.
func (e *Engine) Disarm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed = false
}

// IngestPDFs reads, chunks, and embeds each path, replacing the current
// index entirely. Non-existent paths are retried once joined to the
// configured document base directory. Returns ok=true iff at least one
// path yielded at least one chunk.
func (e *Engine) IngestPDFs(ctx context.Context, paths []string) (ok bool, err error) {
	var allChunks []string
	var allMetadata []metadataEntry

	for _, path := range paths {
		resolved := e.resolvePath(path)
		if resolved == "" {
			logging.FromContext(ctx).Warn("retrieval: document not found", "path", path)
			continue
		}

		pages, readErr := pdfread.ReadPages(resolved)
		if readErr != nil {
			logging.FromContext(ctx).Warn("retrieval: failed to read PDF", "path", resolved, "error", readErr)
			continue
		}

		base := filepath.Base(resolved)
		for _, page := range pages {
			pieces := e.splitter.Split(page.Text)
			for _, c := range pieces {
				allChunks = append(allChunks, c)
				allMetadata = append(allMetadata, metadataEntry{SourceInfo: base, SourcePosition: page.Index})
			}
		}
	}

	return e.rebuild(ctx, allChunks, allMetadata)
}

// IngestWeb crawls each seed URL (depth 2 if deep, else 1), chunks, and
// embeds every page, replacing the current index entirely. Returns
// ok=true iff at least one page yielded at least one chunk.
func (e *Engine) IngestWeb(ctx context.Context, urls []string, deep bool) (ok bool, err error) {
	depth := 1
	if deep {
		depth = 2
	}

	var allChunks []string
	var allMetadata []metadataEntry

	for _, seed := range urls {
		pages := e.crawler.Crawl(ctx, seed, depth)
		for _, page := range pages {
			pieces := e.splitter.Split(page.Text)
			for _, c := range pieces {
				allChunks = append(allChunks, c)
				allMetadata = append(allMetadata, metadataEntry{SourceInfo: page.URL, SourcePosition: 0})
			}
		}
	}

	return e.rebuild(ctx, allChunks, allMetadata)
}

// IngestStrings embeds each string as-is, without splitting, replacing
// the current index entirely.
func (e *Engine) IngestStrings(ctx context.Context, strs []string) (ok bool, err error) {
	metadata := make([]metadataEntry, len(strs))
	for i := range strs {
		metadata[i] = metadataEntry{SourceInfo: fmt.Sprintf("string:%d", i), SourcePosition: 0}
	}
	return e.rebuild(ctx, strs, metadata)
}

// rebuild embeds chunks and replaces the index and parallel arrays
// atomically under the write lock. A failure leaves the engine Idle
// (spec §7 IngestFailure), discarding whatever partial state existed.
func (e *Engine) rebuild(ctx context.Context, chunks []string, metadata []metadataEntry) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(chunks) == 0 {
		e.armed = false
		e.chunks = nil
		e.metadata = nil
		e.index = nil
		return false, nil
	}

	vectors, err := e.embedder.Embed(ctx, chunks)
	if err != nil {
		e.armed = false
		e.chunks = nil
		e.metadata = nil
		e.index = nil
		return false, fmt.Errorf("retrieval: embed failed: %w", err)
	}

	dim := embed.DefaultDimensions()
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	idx := vectorindex.New(dim, capacityFor(len(chunks)), indexM, indexEFConstruct)
	chromeMetadata := make([]map[string]string, len(metadata))
	for i, m := range metadata {
		chromeMetadata[i] = map[string]string{
			"source_info":     m.SourceInfo,
			"source_position": fmt.Sprintf("%d", m.SourcePosition),
		}
	}

	if _, err := idx.Add(ctx, vectors, chunks, chromeMetadata); err != nil {
		e.armed = false
		e.chunks = nil
		e.metadata = nil
		e.index = nil
		return false, fmt.Errorf("retrieval: index build failed: %w", err)
	}

	e.index = idx
	e.chunks = chunks
	e.metadata = metadata
	e.armed = true
	e.generation++

	return true, nil
}

// capacityFor returns an index capacity large enough for n chunks while
// never going below spec's stated ~10000-element default ceiling.
func capacityFor(n int) int {
	if n > defaultCapacity {
		return n
	}
	return defaultCapacity
}

// Query embeds text, runs knn against the current index, computes
// similarity, and filters by threshold. Results are returned nearest
// first (spec §4.F, §8.3-4).
func (e *Engine) Query(ctx context.Context, text string, k int, threshold float32) ([]Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.armed || e.index == nil {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultK
	}

	vectors, err := e.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query failed: %w", err)
	}

	ids, distances, err := e.index.KNN(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: knn failed: %w", err)
	}

	var out []Result
	for i, id := range ids {
		if id < 0 || id >= len(e.chunks) {
			continue
		}
		similarity := 1 - distances[i]
		if similarity < threshold {
			continue
		}
		out = append(out, Result{
			Chunk:          e.chunks[id],
			SourceInfo:     e.metadata[id].SourceInfo,
			SourcePosition: e.metadata[id].SourcePosition,
			Similarity:     similarity,
		})
	}

	return out, nil
}

// resolvePath returns path if it exists, or path joined to the document
// base directory if that exists instead; empty string if neither does.
func (e *Engine) resolvePath(path string) string {
	if fileExists(path) {
		return path
	}
	joined := filepath.Join(e.docBaseDir, path)
	if fileExists(joined) {
		return joined
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// SplitSemicolonList splits the `document_path`/`url` REST bodies (spec
// §6) on ';', trimming whitespace and dropping empty entries.
func SplitSemicolonList(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
