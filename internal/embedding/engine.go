// Package embedding provides vector embedding generation for semantic
// retrieval. Supports neural backends (Ollama local, Google GenAI cloud)
// with a deterministic hashed fallback so similarity and dedup stay stable
// across sessions even when no encoder is reachable.
package embedding

import (
	"context"
	"math"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// HealthChecker is an optional interface for engines that can verify
// availability before batch operations.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// SIMILARITY PRIMITIVES
// =============================================================================

// CosineSimilarity returns the cosine similarity of two vectors in [-1,1].
// Length-mismatched or zero-norm inputs yield 0, never an error: stored
// vectors from an older encoder must degrade silently, not break retrieval.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		af := float64(a[i])
		bf := float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SimilarityResult pairs a corpus index with its similarity score.
type SimilarityResult struct {
	Index int
	Score float64
}

// TopK ranks corpus vectors against the query by cosine similarity.
// Entries without an embedding are skipped, scores below minScore are
// dropped, and the result is sorted descending with ties broken by
// original input order (stability matters for reproducible retrieval).
func TopK(query []float32, corpus [][]float32, k int, minScore float64) []SimilarityResult {
	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		if len(vec) == 0 {
			continue
		}
		score := CosineSimilarity(query, vec)
		if score < minScore {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Score: score})
	}

	// Insertion sort keeps equal scores in input order and is fast for
	// the small candidate sets retrieval works with.
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}

	if len(results) > k {
		results = results[:k]
	}
	return results
}
