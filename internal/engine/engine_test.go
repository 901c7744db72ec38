package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"reverie/internal/config"
	"reverie/internal/embedding"
	"reverie/internal/store"
	"reverie/internal/types"
)

func TestMain(m *testing.M) {
	// go.opencensus.io (pulled in via the genai dependency chain) starts a
	// background worker goroutine in its package init that goleak would
	// otherwise flag.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// scriptedLLM answers extraction prompts with a fact array and summary
// prompts with a summary object.
type scriptedLLM struct {
	calls int64
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *scriptedLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	atomic.AddInt64(&s.calls, 1)
	if strings.Contains(system, "extract atomic facts") {
		return `[{"text": "Elara gave Kai the Sunblade", "category": "item", "importance": 8, "relatedEntities": ["Elara", "Sunblade"]}]`, nil
	}
	return `{"summary": "The heroes met Elara and received the Sunblade.", "keyFacts": ["Sunblade obtained"]}`, nil
}

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore, *scriptedLLM) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	emb, err := embedding.NewEmbedder(nil, 0)
	if err != nil {
		t.Fatalf("embedder failed: %v", err)
	}
	t.Cleanup(func() { emb.Close() })

	llm := &scriptedLLM{}
	e := New(st, emb, llm, config.DefaultConfig().Memory)
	t.Cleanup(e.Close)
	return e, st, llm
}

func makeTurns(n int) []types.Message {
	out := make([]types.Message, n)
	for i := range out {
		out[i] = types.Message{ID: "m" + string(rune('a'+i)), Role: "user",
			Content: "the story continues", Timestamp: time.Now()}
	}
	return out
}

func TestIngestTurnEndToEnd(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	all := makeTurns(10)
	if err := e.IngestTurn(ctx, "conv", all[8:], all, nil); err != nil {
		t.Fatalf("IngestTurn failed: %v", err)
	}

	factList, err := st.ListFacts(ctx, "conv")
	if err != nil {
		t.Fatal(err)
	}
	if len(factList) != 1 {
		t.Fatalf("got %d facts, want 1 extracted", len(factList))
	}
	if len(factList[0].Embedding) == 0 {
		t.Error("ingested fact missing embedding")
	}

	// 10 messages and chunkSize 10: one L0 plus its sibling chunk.
	h, err := e.GetSummaryHierarchy(ctx, "conv")
	if err != nil {
		t.Fatal(err)
	}
	if len(h.L0) != 1 {
		t.Fatalf("got %d L0 summaries, want 1", len(h.L0))
	}
	chunks, err := st.ListChunks(ctx, "conv")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func TestRetrieveUpdatesAccessStatsAsync(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	f := types.Fact{ID: "f1", ConversationID: "conv", Text: "Kai carries the Sunblade",
		Category: types.CategoryItem, Importance: 8, Active: true, Timestamp: time.Now()}
	// Give the fact an embedding that matches the query exactly.
	emb, err := embedding.NewEmbedder(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer emb.Close()
	f.Embedding = emb.Embed(ctx, "Sunblade")
	if err := st.PutFact(ctx, f); err != nil {
		t.Fatal(err)
	}

	sections, err := e.RetrieveRelevantContext(ctx, "Sunblade", "conv", 1000, nil)
	if err != nil {
		t.Fatalf("RetrieveRelevantContext failed: %v", err)
	}
	if len(sections) == 0 {
		t.Fatal("expected at least the facts section")
	}

	// Close drains the async queue, then the bump must be visible.
	e.Close()
	got, err := st.GetFact(ctx, "f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessCount != 1 {
		t.Errorf("access count = %d, want 1 after drain", got.AccessCount)
	}
}

func TestSameConversationWritesSerialized(t *testing.T) {
	e, _, _ := newTestEngine(t)

	var inFlight, maxInFlight int64
	var wg sync.WaitGroup
	track := func() {
		defer wg.Done()
		unlock := e.lockConversation("conv")
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&maxInFlight)
			if cur <= old || atomic.CompareAndSwapInt64(&maxInFlight, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		unlock()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go track()
	}
	wg.Wait()

	if atomic.LoadInt64(&maxInFlight) != 1 {
		t.Errorf("same-conversation writers overlapped: max in flight %d", maxInFlight)
	}
}

func TestDifferentConversationsRunInParallel(t *testing.T) {
	e, _, _ := newTestEngine(t)

	unlockA := e.lockConversation("conv-a")
	defer unlockA()

	// A writer on a different conversation must not wait on conv-a's lock.
	done := make(chan struct{})
	go func() {
		unlockB := e.lockConversation("conv-b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("conversation locks are not independent")
	}
}

func TestRecoverSweepsInterruptedMerges(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()

	mk := func(id string) types.Fact {
		return types.Fact{ID: id, ConversationID: "conv", Text: id,
			Category: types.CategoryEvent, Importance: 5, Active: true,
			Timestamp: time.Now()}
	}
	for _, id := range []string{"old", "merged"} {
		if err := st.PutFact(ctx, mk(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.MarkFactsSuperseded(ctx, []string{"old"}, "merged"); err != nil {
		t.Fatal(err)
	}

	if err := e.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	got, err := st.GetFact(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("superseded fact with a live successor must be committed away")
	}
}

func TestUpdateTunablesSwapsComponents(t *testing.T) {
	e, _, _ := newTestEngine(t)

	tun := config.DefaultConfig().Memory
	tun.ChunkSize = 4
	e.UpdateTunables(tun)

	e.mu.RLock()
	got := e.tunables.ChunkSize
	e.mu.RUnlock()
	if got != 4 {
		t.Errorf("tunables not applied, chunk size = %d", got)
	}
}
