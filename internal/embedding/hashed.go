package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// =============================================================================
// DETERMINISTIC HASHED FALLBACK ENGINE
// =============================================================================

// DefaultHashedDimensions is the vector size of the fallback encoder.
const DefaultHashedDimensions = 384

// HashedEngine produces deterministic embeddings from hashed word and
// bigram frequencies. The same text yields the same vector in every
// process, so dedup clusters and stored similarities survive sessions
// where no neural encoder is available.
type HashedEngine struct {
	dims int
}

// NewHashedEngine creates a hashed-frequency engine. dims <= 0 uses the
// default dimensionality.
func NewHashedEngine(dims int) *HashedEngine {
	if dims <= 0 {
		dims = DefaultHashedDimensions
	}
	return &HashedEngine{dims: dims}
}

// Embed generates the hashed bag-of-words/bigram vector.
// It never fails and ignores ctx; there is no I/O.
func (e *HashedEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	words := tokenizeWords(text)
	if len(words) == 0 {
		return vec, nil
	}

	for _, w := range words {
		vec[e.bucket(w)]++
	}
	for i := 0; i+1 < len(words); i++ {
		vec[e.bucket(words[i]+" "+words[i+1])]++
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *HashedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector size.
func (e *HashedEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *HashedEngine) Name() string { return "hashed" }

func (e *HashedEngine) bucket(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(e.dims))
}

// tokenizeWords lowercases and splits on anything that is not a letter or
// digit. CJK text has no word boundaries, so each such rune stands alone.
func tokenizeWords(text string) []string {
	var words []string
	var b strings.Builder

	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			flush()
			words = append(words, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
