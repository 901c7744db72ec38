// Package summarizer maintains the three-level summary pyramid: L0 nodes
// compress raw message chunks, L1 nodes compress L0 batches, L2 nodes
// compress L1 batches. Each compaction step persists exactly one summary
// record, so a failed step changes nothing and re-fires on the next pass.
package summarizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reverie/internal/logging"
	"reverie/internal/types"
)

// Store is the persistence surface the summarizer needs. Satisfied by
// *store.SQLiteStore.
type Store interface {
	PutSummary(ctx context.Context, s types.Summary) error
	ListSummaries(ctx context.Context, conversationID string) ([]types.Summary, error)
	PutChunk(ctx context.Context, c types.VectorChunk) error
}

// Embedder is the vector source. Satisfied by *embedding.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// Config carries the compaction thresholds. Zero values take defaults.
type Config struct {
	ChunkSize   int
	L1Threshold int
	L2Threshold int
}

// Summarizer runs compaction and serves the pyramid read paths.
type Summarizer struct {
	store    Store
	llm      types.LLMClient
	embedder Embedder
	tokens   types.Tokenizer
	cfg      Config
}

// New wires a summarizer.
func New(store Store, llm types.LLMClient, embedder Embedder, tokens types.Tokenizer, cfg Config) *Summarizer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.L1Threshold <= 0 {
		cfg.L1Threshold = DefaultL1Threshold
	}
	if cfg.L2Threshold <= 0 {
		cfg.L2Threshold = DefaultL2Threshold
	}
	return &Summarizer{store: store, llm: llm, embedder: embedder, tokens: tokens, cfg: cfg}
}

// =============================================================================
// COMPACTION
// =============================================================================

// RunCompaction performs at most one compaction step per level: one new L0
// if a full chunk is uncovered, then one L1 and one L2 if their batches are
// ready. The per-level ordering lets a long-idle conversation catch up one
// pass at a time without unbounded work in a single call.
func (s *Summarizer) RunCompaction(ctx context.Context, conversationID string, messages []types.Message) error {
	summaries, err := s.store.ListSummaries(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load summaries: %w", err)
	}

	if chunk, start := NextChunk(messages, summaries, s.cfg.ChunkSize); chunk != nil {
		l0, err := s.CreateSummary(ctx, conversationID, chunk, start)
		if err != nil {
			return err
		}
		summaries = append(summaries, *l0)
	}

	if batch := L0sForL1(summaries, s.cfg.L1Threshold); batch != nil {
		l1, err := s.rollup(ctx, conversationID, types.LevelL1, batch)
		if err != nil {
			return err
		}
		summaries = append(summaries, *l1)
	}

	if batch := L1sForL2(summaries, s.cfg.L2Threshold); batch != nil {
		if _, err := s.rollup(ctx, conversationID, types.LevelL2, batch); err != nil {
			return err
		}
	}
	return nil
}

// CreateSummary compresses one message chunk into an L0 summary and indexes
// the sibling vector chunk. startIndex is the position of chunk[0] in the
// full conversation.
func (s *Summarizer) CreateSummary(ctx context.Context, conversationID string, chunk []types.Message, startIndex int) (*types.Summary, error) {
	if len(chunk) == 0 {
		return nil, fmt.Errorf("cannot summarize an empty chunk")
	}

	response, err := s.llm.CompleteWithSystem(ctx, summarySystemPrompt, buildL0Prompt(chunk))
	if err != nil {
		return nil, fmt.Errorf("summary call failed: %w", err)
	}
	parsed, ok := parseSummaryResponse(response)
	if !ok {
		return nil, fmt.Errorf("summary response was empty after cleaning")
	}

	sum := types.Summary{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Level:          types.LevelL0,
		Content:        parsed.Summary,
		KeyFacts:       parsed.KeyFacts,
		MessageRange:   [2]int{startIndex, startIndex + len(chunk) - 1},
		Embedding:      s.embedder.Embed(ctx, parsed.Summary),
		CreatedAt:      time.Now(),
	}
	if err := s.store.PutSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("failed to persist summary: %w", err)
	}
	logging.Summarizer("created L0 summary %s for messages %d-%d", sum.ID, sum.MessageRange[0], sum.MessageRange[1])

	// The chunk index rides along with L0 creation. A failure here leaves a
	// valid summary behind; the chunk can be rebuilt by a reindex.
	if _, err := s.IndexMessageChunk(ctx, conversationID, chunk, parsed.Summary, nil); err != nil {
		logging.Summarizer("sibling chunk indexing failed for %s: %v", sum.ID, err)
	}
	return &sum, nil
}

// rollup compresses a batch of level-below summaries into one node.
func (s *Summarizer) rollup(ctx context.Context, conversationID string, level types.SummaryLevel, batch []types.Summary) (*types.Summary, error) {
	response, err := s.llm.CompleteWithSystem(ctx, summarySystemPrompt, buildRollupPrompt(level, batch))
	if err != nil {
		return nil, fmt.Errorf("rollup call failed: %w", err)
	}
	parsed, ok := parseSummaryResponse(response)
	if !ok {
		return nil, fmt.Errorf("rollup response was empty after cleaning")
	}

	childIDs := make([]string, len(batch))
	for i, c := range batch {
		childIDs[i] = c.ID
	}
	sum := types.Summary{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Level:          level,
		Content:        parsed.Summary,
		KeyFacts:       parsed.KeyFacts,
		MessageRange:   rangeUnion(batch),
		ChildIDs:       childIDs,
		Embedding:      s.embedder.Embed(ctx, parsed.Summary),
		CreatedAt:      time.Now(),
	}
	if err := s.store.PutSummary(ctx, sum); err != nil {
		return nil, fmt.Errorf("failed to persist rollup: %w", err)
	}
	logging.Summarizer("created L%d summary %s over %d children", int(level), sum.ID, len(batch))
	return &sum, nil
}

// IndexMessageChunk stores one scene chunk. text is usually the sibling L0
// summary content; passing the raw scene text also works for the manual
// trigger.
func (s *Summarizer) IndexMessageChunk(ctx context.Context, conversationID string, messages []types.Message, text string, branchPath []string) (*types.VectorChunk, error) {
	if text == "" || len(messages) == 0 {
		return nil, fmt.Errorf("cannot index an empty chunk")
	}
	memberIDs := make([]string, len(messages))
	for i, m := range messages {
		memberIDs[i] = m.ID
	}
	chunk := types.VectorChunk{
		ID:               uuid.NewString(),
		ConversationID:   conversationID,
		MemberMessageIDs: memberIDs,
		Text:             text,
		Embedding:        s.embedder.Embed(ctx, text),
		BranchPath:       branchPath,
		CreatedAt:        time.Now(),
	}
	if err := s.store.PutChunk(ctx, chunk); err != nil {
		return nil, fmt.Errorf("failed to persist chunk: %w", err)
	}
	return &chunk, nil
}

// =============================================================================
// HIERARCHY READ PATH
// =============================================================================

// Hierarchy is the pyramid grouped by level, each slice in creation order.
type Hierarchy struct {
	L0 []types.Summary
	L1 []types.Summary
	L2 []types.Summary
}

// SummaryHierarchy returns the conversation's pyramid for inspection.
func (s *Summarizer) SummaryHierarchy(ctx context.Context, conversationID string) (*Hierarchy, error) {
	summaries, err := s.store.ListSummaries(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries: %w", err)
	}
	return &Hierarchy{
		L0: byLevel(summaries, types.LevelL0),
		L1: byLevel(summaries, types.LevelL1),
		L2: byLevel(summaries, types.LevelL2),
	}, nil
}
