// Package engine wires the memory components together and owns the
// concurrency contract: per-conversation serialization for writes,
// parallel reads, fire-and-forget access-stat updates.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reverie/internal/config"
	"reverie/internal/embedding"
	"reverie/internal/facts"
	"reverie/internal/logging"
	"reverie/internal/retrieval"
	"reverie/internal/store"
	"reverie/internal/summarizer"
	"reverie/internal/tokens"
	"reverie/internal/types"
	"reverie/internal/worldstate"
)

// touchQueueSize bounds the pending access-stat updates. Overflow is
// dropped: the updates are fire-and-forget by contract.
const touchQueueSize = 256

// reindexWorkers caps concurrent re-embeds during a bulk reindex.
const reindexWorkers = 4

type touchRequest struct {
	ids []string
	at  time.Time
}

// Engine is the public face of the memory system. One instance per
// process; all dependencies are injected at construction.
type Engine struct {
	store    *store.SQLiteStore
	embedder *embedding.Embedder
	llm      types.LLMClient
	tokens   types.Tokenizer

	// mu guards the tunable-derived components, rebuilt on hot reload.
	mu        sync.RWMutex
	tunables  config.MemoryConfig
	summaries *summarizer.Summarizer
	retriever *retrieval.Retriever
	extractor *facts.Extractor
	dedup     *facts.Deduplicator

	// conversationLocks serializes writes per conversation.
	lockMu            sync.Mutex
	conversationLocks map[string]*sync.Mutex

	// Access-stat pipeline.
	touchMu     sync.Mutex
	touchCh     chan touchRequest
	touchDone   chan struct{}
	touchClosed bool
}

// New wires an engine from its injected collaborators.
func New(st *store.SQLiteStore, embedder *embedding.Embedder, llmClient types.LLMClient, tunables config.MemoryConfig) *Engine {
	e := &Engine{
		store:             st,
		embedder:          embedder,
		llm:               llmClient,
		tokens:            tokens.NewCounter(),
		conversationLocks: make(map[string]*sync.Mutex),
		touchCh:           make(chan touchRequest, touchQueueSize),
		touchDone:         make(chan struct{}),
	}
	e.applyTunables(tunables)

	go e.touchWorker()
	return e
}

// applyTunables rebuilds the tunable-derived components. The components
// are stateless, so swapping them is safe mid-flight.
func (e *Engine) applyTunables(t config.MemoryConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tunables = t
	e.summaries = summarizer.New(e.store, e.llm, e.embedder, e.tokens, summarizer.Config{
		ChunkSize:   t.ChunkSize,
		L1Threshold: t.L1Threshold,
		L2Threshold: t.L2Threshold,
	})
	e.retriever = retrieval.New(e.store, e.embedder, e.summaries, e.tokens)
	e.extractor = facts.NewExtractor(e.llm, e.embedder, e.store)
	e.dedup = facts.NewDeduplicator(e.store, e.embedder, t.MergeThreshold)
}

// UpdateTunables applies hot-reloaded configuration. Wired to the config
// watcher.
func (e *Engine) UpdateTunables(t config.MemoryConfig) {
	logging.Engine("applying updated tunables")
	e.applyTunables(t)
}

// Close stops the access-stat worker after draining queued updates. The
// store and embedder belong to the caller and stay open.
func (e *Engine) Close() {
	e.touchMu.Lock()
	if e.touchClosed {
		e.touchMu.Unlock()
		return
	}
	e.touchClosed = true
	close(e.touchCh)
	e.touchMu.Unlock()
	<-e.touchDone
}

// =============================================================================
// PER-CONVERSATION SERIALIZATION
// =============================================================================

// lockConversation serializes writers for one conversation. Different
// conversations proceed in parallel.
func (e *Engine) lockConversation(conversationID string) func() {
	e.lockMu.Lock()
	m, ok := e.conversationLocks[conversationID]
	if !ok {
		m = &sync.Mutex{}
		e.conversationLocks[conversationID] = m
	}
	e.lockMu.Unlock()

	m.Lock()
	return m.Unlock
}

// =============================================================================
// ACCESS-STAT PIPELINE
// =============================================================================

func (e *Engine) touchWorker() {
	defer close(e.touchDone)
	for req := range e.touchCh {
		if err := e.store.TouchFacts(context.Background(), req.ids, req.at); err != nil {
			logging.Engine("access-stat update failed: %v", err)
		}
	}
}

// enqueueTouch records fact accesses without ever blocking the retrieval
// return path. Drops on overflow or shutdown.
func (e *Engine) enqueueTouch(ids []string) {
	if len(ids) == 0 {
		return
	}
	e.touchMu.Lock()
	defer e.touchMu.Unlock()
	if e.touchClosed {
		return
	}
	select {
	case e.touchCh <- touchRequest{ids: ids, at: time.Now()}:
	default:
		logging.Engine("access-stat queue full, dropping %d updates", len(ids))
	}
}

// =============================================================================
// PUBLIC SURFACE
// =============================================================================

// RetrieveRelevantContext embeds the query and returns the context
// sections that fit tokenBudget. A non-positive budget takes the
// configured default. Access stats for the returned facts update in the
// background.
func (e *Engine) RetrieveRelevantContext(ctx context.Context, query, conversationID string, tokenBudget int, activeMessageIDs []string) ([]types.ContextSection, error) {
	e.mu.RLock()
	r := e.retriever
	t := e.tunables
	e.mu.RUnlock()

	if tokenBudget <= 0 {
		tokenBudget = t.TokenBudget
	}
	res, err := r.Retrieve(ctx, query, conversationID, tokenBudget, retrieval.Options{
		ActiveMessageIDs: activeMessageIDs,
		FactK:            t.FactTopK,
		ChunkK:           t.ChunkTopK,
		MinConfidence:    t.MinConfidence,
		MinFactScore:     t.MinFactScore,
		ChunkFloor:       t.ChunkFloor,
	})
	if err != nil {
		return nil, err
	}
	e.enqueueTouch(res.RetrievedFactIDs)
	return res.Sections, nil
}

// GetBestContextSummary serves the pyramid read path.
func (e *Engine) GetBestContextSummary(ctx context.Context, conversationID string, maxTokens int) (string, error) {
	e.mu.RLock()
	s := e.summaries
	e.mu.RUnlock()
	return s.BestContextSummary(ctx, conversationID, maxTokens)
}

// DeriveWorldStateUpdates proposes state deltas from a fact batch.
func (e *Engine) DeriveWorldStateUpdates(factBatch []types.Fact, current types.WorldState) *worldstate.Update {
	e.mu.RLock()
	t := e.tunables
	e.mu.RUnlock()
	return worldstate.DeriveUpdates(factBatch, current, t.CharacterName, t.UserName)
}

// ApplyWorldStateUpdate merges a proposed delta, nil when nothing changed.
func (e *Engine) ApplyWorldStateUpdate(current types.WorldState, u *worldstate.Update) *types.WorldState {
	return worldstate.ApplyUpdate(current, u)
}

// CreateSummary manually compresses one message chunk into an L0 summary.
func (e *Engine) CreateSummary(ctx context.Context, conversationID string, chunk []types.Message, startIndex int) (*types.Summary, error) {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	e.mu.RLock()
	s := e.summaries
	e.mu.RUnlock()
	return s.CreateSummary(ctx, conversationID, chunk, startIndex)
}

// GetSummaryHierarchy returns the pyramid for inspection.
func (e *Engine) GetSummaryHierarchy(ctx context.Context, conversationID string) (*summarizer.Hierarchy, error) {
	e.mu.RLock()
	s := e.summaries
	e.mu.RUnlock()
	return s.SummaryHierarchy(ctx, conversationID)
}

// MergeRelatedFacts runs a manual dedup pass.
func (e *Engine) MergeRelatedFacts(ctx context.Context, conversationID string) (int, error) {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	e.mu.RLock()
	d := e.dedup
	e.mu.RUnlock()
	return d.MergeRelatedFacts(ctx, conversationID)
}

// IndexMessageChunk manually stores one scene chunk.
func (e *Engine) IndexMessageChunk(ctx context.Context, conversationID string, messages []types.Message, text string, branchPath []string) (*types.VectorChunk, error) {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	e.mu.RLock()
	s := e.summaries
	e.mu.RUnlock()
	return s.IndexMessageChunk(ctx, conversationID, messages, text, branchPath)
}

// Compact runs one scheduler pass over the conversation without
// extracting new facts. Useful after bulk-importing a transcript.
func (e *Engine) Compact(ctx context.Context, conversationID string, allMessages []types.Message) error {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	e.mu.RLock()
	s := e.summaries
	e.mu.RUnlock()
	return s.RunCompaction(ctx, conversationID, allMessages)
}

// IngestTurn runs the full write path for new turns: fact extraction,
// dedup, then one compaction pass over the conversation. recentTurns is
// the window to extract from; allMessages is the full conversation the
// scheduler reads coverage against.
func (e *Engine) IngestTurn(ctx context.Context, conversationID string, recentTurns, allMessages []types.Message, branchPath []string) error {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	e.mu.RLock()
	ex, d, s := e.extractor, e.dedup, e.summaries
	e.mu.RUnlock()

	stored, err := ex.Ingest(ctx, conversationID, recentTurns, branchPath)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	if len(stored) > 0 {
		if _, err := d.MergeRelatedFacts(ctx, conversationID); err != nil {
			return fmt.Errorf("dedup failed: %w", err)
		}
	}
	if err := s.RunCompaction(ctx, conversationID, allMessages); err != nil {
		return fmt.Errorf("compaction failed: %w", err)
	}
	return nil
}

// ReindexConversation recomputes every stored embedding for a
// conversation, e.g. after switching embedding backends. Records are
// re-embedded in parallel; each update is a single atomic write.
func (e *Engine) ReindexConversation(ctx context.Context, conversationID string) error {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	factList, err := e.store.ListFacts(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	chunkList, err := e.store.ListChunks(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reindexWorkers)
	for _, f := range factList {
		f := f
		g.Go(func() error {
			vec := e.embedder.Embed(gctx, f.Text)
			return e.store.UpdateFactEmbedding(gctx, f.ID, vec)
		})
	}
	for _, c := range chunkList {
		c := c
		g.Go(func() error {
			vec := e.embedder.Embed(gctx, c.Text)
			return e.store.UpdateChunkEmbedding(gctx, c.ID, vec)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	logging.Engine("reindexed %d facts and %d chunks for %s", len(factList), len(chunkList), conversationID)
	return nil
}

// Recover finishes or unwinds dedup merges interrupted by a crash. Run
// once at startup before serving traffic.
func (e *Engine) Recover(ctx context.Context) error {
	ids, err := e.store.ConversationIDs(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	for _, id := range ids {
		deleted, restored, err := e.store.ReconcileSuperseded(ctx, id)
		if err != nil {
			return fmt.Errorf("recover %s: %w", id, err)
		}
		if deleted > 0 || restored > 0 {
			logging.Engine("recovered conversation %s: %d committed, %d restored", id, deleted, restored)
		}
	}
	return nil
}

// Stats reports per-conversation record counts.
func (e *Engine) Stats(ctx context.Context, conversationID string) (map[string]int64, error) {
	return e.store.Stats(ctx, conversationID)
}
