// Package embed produces unit-normalized dense vector embeddings for text.
// It wraps a fixed sentence-embedding model behind HTTP — no native model
// binding exists in the corpus this module was grown from, so embedding is
// always delegated to a locally reachable server (Ollama) or a hosted REST
// API (OpenAI/Azure OpenAI), matching how every embedding-capable example
// repo does it.
package embed

import (
	"context"
	"fmt"
	"math"
)

// Embedder converts a batch of texts into their corresponding dense vectors.
// Implementations must return a slice parallel to the input slice and must
// be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// normalizingEmbedder wraps an Embedder and L2-normalizes every returned
// vector. Neither HTTP backend guarantees unit-length output on its own;
// the retrieval engine's cosine math requires it.
type normalizingEmbedder struct {
	inner Embedder
}

// Normalize wraps e so every vector it returns has L2 norm ≈ 1.
func Normalize(e Embedder) Embedder {
	return &normalizingEmbedder{inner: e}
}

func (n *normalizingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := n.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, v := range vectors {
		l2Normalize(v)
	}
	return vectors, nil
}

// l2Normalize scales v in place to unit length. A zero vector is left
// unchanged (normalizing it is undefined and it carries no direction).
func l2Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i, x := range v {
		v[i] = float32(float64(x) / norm)
	}
}

// errUnsupportedBackend is returned by NewFromEnv for a backend with no
// embedding implementation wired up.
func errUnsupportedBackend(backend string) error {
	return fmt.Errorf("embed: unknown backend %q — valid values: ollama, openai, azure", backend)
}
