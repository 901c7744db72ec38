package embedding

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"
)

// mockEngine is a func-field engine double.
type mockEngine struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	dims      int
	calls     int
}

func (m *mockEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return make([]float32, m.dims), nil
}

func (m *mockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEngine) Dimensions() int { return m.dims }
func (m *mockEngine) Name() string    { return "mock" }

func TestEmbedder_EmptyInputZeroVector(t *testing.T) {
	e, err := NewEmbedder(nil, 10)
	if err != nil {
		t.Fatalf("NewEmbedder failed: %v", err)
	}
	defer e.Close()

	v := e.Embed(context.Background(), "  \t\n")
	if len(v) != DefaultHashedDimensions {
		t.Fatalf("zero vector has %d dims, want %d", len(v), DefaultHashedDimensions)
	}
	for _, x := range v {
		if x != 0 {
			t.Fatal("expected zero vector for whitespace input")
		}
	}
}

func TestEmbedder_FallbackOnEngineError(t *testing.T) {
	engine := &mockEngine{
		dims: 8,
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("encoder offline")
		},
	}
	e, err := NewEmbedder(engine, 10)
	if err != nil {
		t.Fatalf("NewEmbedder failed: %v", err)
	}
	defer e.Close()

	v := e.Embed(context.Background(), "hello world")
	if len(v) != 8 {
		t.Fatalf("fallback vector has %d dims, want engine dims 8", len(v))
	}

	// The fallback must be deterministic: same text, same vector.
	e.cache.Purge()
	v2 := e.Embed(context.Background(), "hello world")
	for i := range v {
		if v[i] != v2[i] {
			t.Fatal("fallback embedding not deterministic")
		}
	}
}

func TestEmbedder_CacheHits(t *testing.T) {
	engine := &mockEngine{dims: 4, EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 2, 3, 4}, nil
	}}
	e, err := NewEmbedder(engine, 10)
	if err != nil {
		t.Fatalf("NewEmbedder failed: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	e.Embed(ctx, "repeated text")
	e.Embed(ctx, "repeated text")
	e.Embed(ctx, "repeated text")

	if engine.calls != 1 {
		t.Errorf("engine called %d times for repeated text, want 1", engine.calls)
	}
}

func TestEmbedder_CacheEvictsOldest(t *testing.T) {
	engine := &mockEngine{dims: 4, EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0, 0, 0}, nil
	}}
	e, err := NewEmbedder(engine, 2)
	if err != nil {
		t.Fatalf("NewEmbedder failed: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	e.Embed(ctx, "a")
	e.Embed(ctx, "b")
	e.Embed(ctx, "c") // evicts "a"
	e.Embed(ctx, "a") // recompute

	if engine.calls != 4 {
		t.Errorf("engine called %d times, want 4 (eviction forces recompute)", engine.calls)
	}
}

func TestCacheKey_RuneBoundary(t *testing.T) {
	// A multi-byte rune straddling the prefix cut must not split.
	long := ""
	for len(long) < cacheKeyPrefixLen+10 {
		long += "世界和平与发展"
	}
	key := cacheKey(long)
	if len(key) > cacheKeyPrefixLen {
		t.Fatalf("key length %d exceeds prefix cap", len(key))
	}
	if !utf8.ValidString(key) {
		t.Fatal("cache key split a rune")
	}
}
