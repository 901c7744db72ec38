package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reverie/internal/embedding"
	"reverie/internal/logging"
	"reverie/internal/types"
)

// Defaults for the retrieval knobs.
const (
	DefaultFactK        = 10
	DefaultChunkK       = 5
	DefaultMinFactScore = 0.15
	DefaultChunkFloor   = 0.2

	// The summary reserve: at most 30% of the budget, capped at 300 tokens.
	summaryReserveShare = 0.30
	summaryReserveCap   = 300

	priSummary = 1
	priFacts   = 2
	priChunks  = 3
)

// Store is the read surface retrieval needs. Satisfied by
// *store.SQLiteStore.
type Store interface {
	ListFacts(ctx context.Context, conversationID string) ([]types.Fact, error)
	ListChunks(ctx context.Context, conversationID string) ([]types.VectorChunk, error)
}

// Embedder is the query vector source. Satisfied by *embedding.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// SummaryReader serves the best-context read path. Satisfied by
// *summarizer.Summarizer.
type SummaryReader interface {
	BestContextSummary(ctx context.Context, conversationID string, maxTokens int) (string, error)
}

// Options tunes one retrieval call. Zero values take defaults.
type Options struct {
	// ActiveMessageIDs is the branch scope; see Scope.
	ActiveMessageIDs []string
	FactK            int
	ChunkK           int
	// MinConfidence drops a whole section when its mean score falls below.
	MinConfidence float64
	MinFactScore  float64
	ChunkFloor    float64
}

func (o Options) withDefaults() Options {
	if o.FactK <= 0 {
		o.FactK = DefaultFactK
	}
	if o.ChunkK <= 0 {
		o.ChunkK = DefaultChunkK
	}
	if o.MinFactScore <= 0 {
		o.MinFactScore = DefaultMinFactScore
	}
	if o.ChunkFloor <= 0 {
		o.ChunkFloor = DefaultChunkFloor
	}
	return o
}

// Result is one retrieval outcome: ordered sections plus the fact ids that
// made the cut, for the engine's async access-stat updates.
type Result struct {
	Sections         []types.ContextSection
	RetrievedFactIDs []string
}

// Retriever assembles context sections. Read-only; safe to cancel.
type Retriever struct {
	store     Store
	embedder  Embedder
	summaries SummaryReader
	tokens    types.Tokenizer

	// now is swappable so decay math is testable at a fixed clock.
	now func() time.Time
}

// New wires a retriever.
func New(store Store, embedder Embedder, summaries SummaryReader, tokens types.Tokenizer) *Retriever {
	return &Retriever{store: store, embedder: embedder, summaries: summaries,
		tokens: tokens, now: time.Now}
}

// Retrieve embeds the query and returns the sections that fit tokenBudget,
// ordered summary < facts < chunks. Deterministic for fixed stored data,
// query, and clock: ties break by descending score then store insertion
// order.
func (r *Retriever) Retrieve(ctx context.Context, query, conversationID string, tokenBudget int, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	scope := NewScope(opts.ActiveMessageIDs)
	queryVec := r.embedder.Embed(ctx, query)
	now := r.now()

	result := &Result{}
	remaining := tokenBudget

	// 1. Hierarchical summary, inside its reserve.
	reserve := int(float64(tokenBudget) * summaryReserveShare)
	if reserve > summaryReserveCap {
		reserve = summaryReserveCap
	}
	if reserve > 0 {
		summary, err := r.summaries.BestContextSummary(ctx, conversationID, reserve)
		if err != nil {
			return nil, fmt.Errorf("best-context summary failed: %w", err)
		}
		if summary != "" {
			cost := r.tokens.CountTokens(summary)
			result.Sections = append(result.Sections, types.ContextSection{
				Priority:  priSummary,
				Content:   summary,
				TokenCost: cost,
				Label:     "Story so far",
				Type:      types.SectionSummary,
			})
			remaining -= cost
		}
	}

	// 2. Scored facts.
	factSection, factIDs, err := r.factSection(ctx, queryVec, conversationID, scope, remaining, now, opts)
	if err != nil {
		return nil, err
	}
	if factSection != nil {
		result.Sections = append(result.Sections, *factSection)
		result.RetrievedFactIDs = factIDs
		remaining -= factSection.TokenCost
	}

	// 3. Scene chunks.
	chunkSection, err := r.chunkSection(ctx, queryVec, conversationID, scope, remaining, opts)
	if err != nil {
		return nil, err
	}
	if chunkSection != nil {
		result.Sections = append(result.Sections, *chunkSection)
	}

	logging.Retrieval("conversation %s: %d sections, %d facts retrieved",
		conversationID, len(result.Sections), len(result.RetrievedFactIDs))
	return result, nil
}

type scoredFact struct {
	fact  types.Fact
	score float64
	// order is the fact's position in the store listing, the final
	// tie-breaker.
	order int
}

func (r *Retriever) factSection(ctx context.Context, queryVec []float32, conversationID string, scope *Scope, budget int, now time.Time, opts Options) (*types.ContextSection, []string, error) {
	if budget <= 0 {
		return nil, nil, nil
	}
	all, err := r.store.ListFacts(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load facts: %w", err)
	}

	// Eligibility: active, branch-scoped, embedded. Insertion order is
	// preserved so downstream ties stay deterministic.
	var eligible []types.Fact
	for _, f := range all {
		if f.Active && scope.InScope(f.BranchPath) && len(f.Embedding) > 0 {
			eligible = append(eligible, f)
		}
	}
	if len(eligible) == 0 {
		return nil, nil, nil
	}

	// Seed candidates by similarity, then re-rank by the full score.
	corpus := make([][]float32, len(eligible))
	for i, f := range eligible {
		corpus[i] = f.Embedding
	}
	seeds := embedding.TopK(queryVec, corpus, opts.FactK, 0)

	var scored []scoredFact
	for _, s := range seeds {
		f := eligible[s.Index]
		if sc := scoreFact(f, s.Score, now); sc > opts.MinFactScore {
			scored = append(scored, scoredFact{fact: f, score: sc, order: s.Index})
		}
	}
	if len(scored) == 0 {
		return nil, nil, nil
	}
	// Seeds arrive in similarity order; restore insertion order first so
	// the score sort tie-breaks on it.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].order < scored[j].order
	})
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	mean := 0.0
	for _, s := range scored {
		mean += s.score
	}
	mean /= float64(len(scored))
	if mean < opts.MinConfidence {
		logging.RetrievalDebug("facts section dropped: mean %.3f below confidence %.3f", mean, opts.MinConfidence)
		return nil, nil, nil
	}

	// TokenCost must cover the joined content, separators included, so the
	// budget check measures the whole candidate string each step.
	content := ""
	var ids []string
	used := 0
	for _, s := range scored {
		candidate := "- " + s.fact.Text
		if content != "" {
			candidate = content + "\n" + candidate
		}
		cost := r.tokens.CountTokens(candidate)
		if cost > budget {
			break
		}
		content = candidate
		used = cost
		ids = append(ids, s.fact.ID)
	}
	if content == "" {
		return nil, nil, nil
	}

	confidence := mean
	return &types.ContextSection{
		Priority:   priFacts,
		Content:    content,
		TokenCost:  used,
		Label:      "Known facts",
		Type:       types.SectionFact,
		Confidence: &confidence,
	}, ids, nil
}

func (r *Retriever) chunkSection(ctx context.Context, queryVec []float32, conversationID string, scope *Scope, budget int, opts Options) (*types.ContextSection, error) {
	if budget <= 0 {
		return nil, nil
	}
	all, err := r.store.ListChunks(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	var eligible []types.VectorChunk
	for _, c := range all {
		if scope.InScope(c.BranchPath) && len(c.Embedding) > 0 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	corpus := make([][]float32, len(eligible))
	for i, c := range eligible {
		corpus[i] = c.Embedding
	}
	top := embedding.TopK(queryVec, corpus, opts.ChunkK, opts.ChunkFloor)
	if len(top) == 0 {
		return nil, nil
	}

	mean := 0.0
	for _, t := range top {
		mean += t.Score
	}
	mean /= float64(len(top))
	if mean < opts.MinConfidence {
		logging.RetrievalDebug("chunks section dropped: mean %.3f below confidence %.3f", mean, opts.MinConfidence)
		return nil, nil
	}

	content := ""
	used := 0
	for _, t := range top {
		candidate := eligible[t.Index].Text
		if content != "" {
			candidate = content + "\n\n" + candidate
		}
		cost := r.tokens.CountTokens(candidate)
		if cost > budget {
			break
		}
		content = candidate
		used = cost
	}
	if content == "" {
		return nil, nil
	}

	confidence := mean
	return &types.ContextSection{
		Priority:   priChunks,
		Content:    content,
		TokenCost:  used,
		Label:      "Relevant scenes",
		Type:       types.SectionMemory,
		Confidence: &confidence,
	}, nil
}
