package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity_Identity(t *testing.T) {
	vecs := [][]float32{
		{1, 0, 0},
		{0.3, -0.7, 2.1, 0.01},
		{5},
	}
	for _, v := range vecs {
		if got := CosineSimilarity(v, v); math.Abs(got-1.0) > 1e-6 {
			t.Errorf("CosineSimilarity(v, v) = %f, want 1.0", got)
		}
	}
}

func TestCosineSimilarity_MismatchAndZero(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("length mismatch should score 0, got %f", got)
	}
	if got := CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("zero-norm input should score 0, got %f", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("nil inputs should score 0, got %f", got)
	}
}

func TestCosineSimilarity_Opposite(t *testing.T) {
	got := CosineSimilarity([]float32{1, 1}, []float32{-1, -1})
	if math.Abs(got+1.0) > 1e-6 {
		t.Errorf("opposite vectors = %f, want -1.0", got)
	}
}

func TestTopK_RanksAndFilters(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},     // orthogonal, score 0
		{1, 0},     // identical, score 1
		nil,        // no embedding: skipped
		{0.9, 0.1}, // close
		{-1, 0},    // opposite, below minScore
	}

	results := TopK(query, corpus, 10, 0.1)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Index != 1 {
		t.Errorf("top result should be index 1, got %d", results[0].Index)
	}
	if results[1].Index != 3 {
		t.Errorf("second result should be index 3, got %d", results[1].Index)
	}
}

func TestTopK_TruncatesToK(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{{1, 0}, {1, 0.1}, {1, 0.2}, {1, 0.3}}

	results := TopK(query, corpus, 2, 0)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestTopK_StableTies(t *testing.T) {
	query := []float32{1, 0}
	// Identical vectors tie exactly; input order must be preserved.
	corpus := [][]float32{{2, 0}, {3, 0}, {1, 0}}

	results := TopK(query, corpus, 3, 0)
	for i, want := range []int{0, 1, 2} {
		if results[i].Index != want {
			t.Errorf("tie order broken: position %d = index %d, want %d", i, results[i].Index, want)
		}
	}
}
