package embedding

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"reverie/internal/logging"
)

// =============================================================================
// EMBEDDER
// =============================================================================

// DefaultCacheSize bounds the embed cache; oldest entries are evicted.
const DefaultCacheSize = 500

// cacheKeyPrefixLen is how much of the text keys the cache. Repeated short
// strings (names, items, places) dominate embed traffic; long scene text is
// rarely re-embedded verbatim.
const cacheKeyPrefixLen = 256

// Embedder is the one embedding object a process constructs and injects
// into every component that needs vectors. It wraps an optional neural
// engine with the deterministic hashed fallback and a bounded recency
// cache. Embed never fails.
type Embedder struct {
	engine   Engine // nil when no neural encoder is configured
	fallback *HashedEngine
	cache    *lru.Cache[string, []float32]
	dims     int
}

// NewEmbedder creates an Embedder around an optional neural engine.
// The hashed fallback is sized to the engine's dimensionality so stored
// vectors stay comparable when the encoder flaps mid-session.
func NewEmbedder(engine Engine, cacheSize int) (*Embedder, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, err
	}

	dims := DefaultHashedDimensions
	if engine != nil {
		dims = engine.Dimensions()
	}

	e := &Embedder{
		engine:   engine,
		fallback: NewHashedEngine(dims),
		cache:    cache,
		dims:     dims,
	}
	if engine != nil {
		logging.Embedding("Embedder ready: engine=%s dims=%d cache=%d", engine.Name(), dims, cacheSize)
	} else {
		logging.Embedding("Embedder ready: hashed fallback only, dims=%d cache=%d", dims, cacheSize)
	}
	return e, nil
}

// Embed returns a vector for text. Empty or whitespace-only input returns
// the zero vector. Engine errors fall back to the deterministic hashed
// encoder; callers never see a failure.
func (e *Embedder) Embed(ctx context.Context, text string) []float32 {
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims)
	}

	key := cacheKey(text)
	if vec, ok := e.cache.Get(key); ok {
		return vec
	}

	var vec []float32
	if e.engine != nil {
		v, err := e.engine.Embed(ctx, text)
		if err == nil && len(v) == e.dims {
			vec = v
		} else if err != nil {
			logging.EmbeddingDebug("engine embed failed, using hashed fallback: %v", err)
		} else {
			logging.EmbeddingDebug("engine returned %d dims, want %d; using hashed fallback", len(v), e.dims)
		}
	}
	if vec == nil {
		vec, _ = e.fallback.Embed(ctx, text)
	}

	e.cache.Add(key, vec)
	return vec
}

// EmbedBatch embeds several texts, reusing cached entries.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.Embed(ctx, t)
	}
	return out
}

// Dimensions returns the vector size every stored embedding uses.
func (e *Embedder) Dimensions() int { return e.dims }

// EngineName reports which encoder backs the embedder.
func (e *Embedder) EngineName() string {
	if e.engine != nil {
		return e.engine.Name()
	}
	return e.fallback.Name()
}

// Close releases the underlying engine if it holds resources.
func (e *Embedder) Close() error {
	e.cache.Purge()
	if c, ok := e.engine.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func cacheKey(text string) string {
	if len(text) <= cacheKeyPrefixLen {
		return text
	}
	// Cut on a rune boundary.
	cut := cacheKeyPrefixLen
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut]
}
