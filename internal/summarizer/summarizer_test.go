package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"reverie/internal/tokens"
	"reverie/internal/types"
)

// memStore is an in-memory Store double preserving insertion order.
type memStore struct {
	summaries []types.Summary
	chunks    []types.VectorChunk
	putErr    error
}

func (m *memStore) PutSummary(ctx context.Context, s types.Summary) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.summaries = append(m.summaries, s)
	return nil
}

func (m *memStore) ListSummaries(ctx context.Context, conversationID string) ([]types.Summary, error) {
	var out []types.Summary
	for _, s := range m.summaries {
		if s.ConversationID == conversationID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) PutChunk(ctx context.Context, c types.VectorChunk) error {
	m.chunks = append(m.chunks, c)
	return nil
}

type mockLLM struct {
	CompleteWithSystemFunc func(ctx context.Context, system, user string) (string, error)
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystemFunc(ctx, "", prompt)
}

func (m *mockLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return m.CompleteWithSystemFunc(ctx, system, user)
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) []float32 {
	return []float32{1, 0}
}

func jsonSummary(text string) string {
	return fmt.Sprintf(`{"summary": %q, "keyFacts": ["kf"]}`, text)
}

func makeMessages(n int) []types.Message {
	out := make([]types.Message, n)
	for i := range out {
		out[i] = types.Message{ID: fmt.Sprintf("m%d", i), Role: "user",
			Content: fmt.Sprintf("turn %d", i)}
	}
	return out
}

func l0(id string, start, end int) types.Summary {
	return types.Summary{ID: id, ConversationID: "c", Level: types.LevelL0,
		Content: "s", MessageRange: [2]int{start, end}, CreatedAt: time.Now()}
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestShouldCreateL0(t *testing.T) {
	if ShouldCreateL0(0, nil, 10) {
		t.Error("empty conversation must never trigger an L0")
	}
	if ShouldCreateL0(9, nil, 10) {
		t.Error("9 uncovered messages must not trigger with chunkSize 10")
	}
	if !ShouldCreateL0(10, nil, 10) {
		t.Error("10 uncovered messages must trigger")
	}
	covered := []types.Summary{l0("a", 0, 9)}
	if ShouldCreateL0(15, covered, 10) {
		t.Error("5 uncovered messages must not trigger")
	}
	if !ShouldCreateL0(20, covered, 10) {
		t.Error("10 uncovered messages past the covered range must trigger")
	}
}

func TestNextChunkScenario(t *testing.T) {
	msgs := makeMessages(25)

	chunk, start := NextChunk(msgs, nil, 10)
	if len(chunk) != 10 || start != 0 {
		t.Fatalf("first chunk = %d messages at %d, want 10 at 0", len(chunk), start)
	}
	if chunk[0].ID != "m0" || chunk[9].ID != "m9" {
		t.Fatalf("first chunk spans %s..%s, want m0..m9", chunk[0].ID, chunk[9].ID)
	}

	after := []types.Summary{l0("a", 0, 9)}
	chunk, start = NextChunk(msgs, after, 10)
	if len(chunk) != 10 || start != 10 {
		t.Fatalf("second chunk = %d messages at %d, want 10 at 10", len(chunk), start)
	}
	if chunk[0].ID != "m10" || chunk[9].ID != "m19" {
		t.Fatalf("second chunk spans %s..%s, want m10..m19", chunk[0].ID, chunk[9].ID)
	}

	// Messages 20-24 are a partial chunk.
	two := []types.Summary{l0("a", 0, 9), l0("b", 10, 19)}
	if chunk, _ := NextChunk(msgs, two, 10); chunk != nil {
		t.Fatalf("partial chunk must not be summarized, got %d messages", len(chunk))
	}
}

func TestL1Scenario(t *testing.T) {
	var summaries []types.Summary
	for i := 0; i < 5; i++ {
		summaries = append(summaries, l0(fmt.Sprintf("l0-%d", i), i*10, i*10+9))
	}

	if !ShouldCreateL1(summaries, 5) {
		t.Fatal("5 uncovered L0s must trigger an L1")
	}
	batch := L0sForL1(summaries, 5)
	if len(batch) != 5 {
		t.Fatalf("L1 batch = %d, want 5", len(batch))
	}

	childIDs := make([]string, len(batch))
	for i, b := range batch {
		childIDs[i] = b.ID
	}
	summaries = append(summaries, types.Summary{ID: "l1-0", ConversationID: "c",
		Level: types.LevelL1, Content: "s", MessageRange: [2]int{0, 49},
		ChildIDs: childIDs, CreatedAt: time.Now()})

	if L0sForL1(summaries, 5) != nil {
		t.Fatal("covered L0s must not re-batch")
	}
	if ShouldCreateL1(summaries, 5) {
		t.Fatal("no uncovered L0s remain")
	}

	// Four more uncovered L0s are still below the threshold.
	for i := 5; i < 9; i++ {
		summaries = append(summaries, l0(fmt.Sprintf("l0-%d", i), i*10, i*10+9))
	}
	if L0sForL1(summaries, 5) != nil {
		t.Fatal("4 uncovered L0s must not batch")
	}
	summaries = append(summaries, l0("l0-9", 90, 99))
	if got := L0sForL1(summaries, 5); len(got) != 5 {
		t.Fatalf("5 fresh uncovered L0s must batch, got %d", len(got))
	}
}

func TestRangeUnion(t *testing.T) {
	batch := []types.Summary{l0("a", 10, 19), l0("b", 0, 9), l0("c", 20, 29)}
	if got := rangeUnion(batch); got != [2]int{0, 29} {
		t.Errorf("rangeUnion = %v, want [0 29]", got)
	}
}

// =============================================================================
// PARSER
// =============================================================================

func TestParseSummaryResponse(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     string
		keyFacts int
		ok       bool
	}{
		{"strict json", `{"summary": "The party rested.", "keyFacts": ["a", "b"]}`, "The party rested.", 2, true},
		{"fenced json", "```json\n{\"summary\": \"The party rested.\", \"keyFacts\": []}\n```", "The party rested.", 0, true},
		{"prose wrapper", `Sure! {"summary": "The party rested.", "keyFacts": ["a"]} Hope that helps.`, "The party rested.", 1, true},
		{"think then text", "<think>reasoning</think>Final summary text.", "Final summary text.", 0, true},
		{"think only", "<think>reasoning</think>", "", 0, false},
		{"blank", "   \n ", "", 0, false},
		{"plain text", "The heroes crossed the river.", "The heroes crossed the river.", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseSummaryResponse(tc.in)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if got.Summary != tc.want {
				t.Errorf("summary = %q, want %q", got.Summary, tc.want)
			}
			if len(got.KeyFacts) != tc.keyFacts {
				t.Errorf("keyFacts = %d, want %d", len(got.KeyFacts), tc.keyFacts)
			}
		})
	}
}

// =============================================================================
// COMPACTION
// =============================================================================

func TestRunCompaction_OneL0Step(t *testing.T) {
	st := &memStore{}
	llm := &mockLLM{CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
		return jsonSummary("Chunk summary."), nil
	}}
	s := New(st, llm, stubEmbedder{}, tokens.NewCounter(), Config{})

	if err := s.RunCompaction(context.Background(), "c", makeMessages(12)); err != nil {
		t.Fatalf("RunCompaction failed: %v", err)
	}

	if len(st.summaries) != 1 {
		t.Fatalf("got %d summaries, want exactly one L0 per pass", len(st.summaries))
	}
	got := st.summaries[0]
	if got.Level != types.LevelL0 || got.MessageRange != [2]int{0, 9} {
		t.Errorf("unexpected L0: level %d range %v", got.Level, got.MessageRange)
	}
	if len(st.chunks) != 1 {
		t.Fatalf("L0 creation must index a sibling chunk, got %d", len(st.chunks))
	}
	if st.chunks[0].Text != "Chunk summary." {
		t.Errorf("chunk text = %q, want the L0 content", st.chunks[0].Text)
	}
	if len(st.chunks[0].MemberMessageIDs) != 10 {
		t.Errorf("chunk members = %d, want 10", len(st.chunks[0].MemberMessageIDs))
	}
}

func TestRunCompaction_CascadesToL1(t *testing.T) {
	st := &memStore{}
	for i := 0; i < 4; i++ {
		st.summaries = append(st.summaries, l0(fmt.Sprintf("l0-%d", i), i*10, i*10+9))
	}
	llm := &mockLLM{CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
		return jsonSummary("rolled up"), nil
	}}
	s := New(st, llm, stubEmbedder{}, tokens.NewCounter(), Config{})

	// The 5th L0 lands this pass and immediately completes an L1 batch.
	if err := s.RunCompaction(context.Background(), "c", makeMessages(50)); err != nil {
		t.Fatalf("RunCompaction failed: %v", err)
	}

	h, err := s.SummaryHierarchy(context.Background(), "c")
	if err != nil {
		t.Fatalf("SummaryHierarchy failed: %v", err)
	}
	if len(h.L0) != 5 || len(h.L1) != 1 || len(h.L2) != 0 {
		t.Fatalf("pyramid = %d/%d/%d, want 5/1/0", len(h.L0), len(h.L1), len(h.L2))
	}
	if len(h.L1[0].ChildIDs) != 5 {
		t.Errorf("L1 children = %d, want 5", len(h.L1[0].ChildIDs))
	}
	if h.L1[0].MessageRange != [2]int{0, 49} {
		t.Errorf("L1 range = %v, want union [0 49]", h.L1[0].MessageRange)
	}
}

func TestRunCompaction_LLMFailureLeavesStateUntouched(t *testing.T) {
	st := &memStore{}
	llm := &mockLLM{CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
		return "", errors.New("provider timeout")
	}}
	s := New(st, llm, stubEmbedder{}, tokens.NewCounter(), Config{})

	if err := s.RunCompaction(context.Background(), "c", makeMessages(12)); err == nil {
		t.Fatal("expected error from failing LLM")
	}
	if len(st.summaries) != 0 || len(st.chunks) != 0 {
		t.Fatal("failed compaction must not persist anything")
	}

	// Eligibility re-fires once the provider recovers.
	llm.CompleteWithSystemFunc = func(ctx context.Context, system, user string) (string, error) {
		return jsonSummary("recovered"), nil
	}
	if err := s.RunCompaction(context.Background(), "c", makeMessages(12)); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if len(st.summaries) != 1 {
		t.Fatalf("retry produced %d summaries, want 1", len(st.summaries))
	}
}

// =============================================================================
// BEST CONTEXT
// =============================================================================

func TestBestContextSummary_NeverExceedsBudget(t *testing.T) {
	st := &memStore{}
	counter := tokens.NewCounter()
	for i := 0; i < 6; i++ {
		sum := l0(fmt.Sprintf("l0-%d", i), i*10, i*10+9)
		sum.Content = fmt.Sprintf("Segment %d: %s", i, strings.Repeat("different words here ", i+3))
		st.summaries = append(st.summaries, sum)
	}
	s := New(st, &mockLLM{}, stubEmbedder{}, counter, Config{})

	for _, budget := range []int{5, 20, 60, 1000} {
		got, err := s.BestContextSummary(context.Background(), "c", budget)
		if err != nil {
			t.Fatalf("BestContextSummary failed: %v", err)
		}
		// The whole returned string must fit, separators included.
		if total := counter.CountTokens(got); total > budget {
			t.Errorf("budget %d: output costs %d tokens", budget, total)
		}
	}
}

func TestBestContextSummary_SeparatorsCountAgainstBudget(t *testing.T) {
	st := &memStore{}
	counter := tokens.NewCounter()
	// Two 10-rune summaries cost 2 tokens each alone, but joined with the
	// two-rune separator the pair measures 5 tokens.
	st.summaries = []types.Summary{
		withContent(l0("l0-0", 0, 9), "aaaabbbbcc"),
		withContent(l0("l0-1", 10, 19), "ddddeeeeff"),
	}
	s := New(st, &mockLLM{}, stubEmbedder{}, counter, Config{})

	got, err := s.BestContextSummary(context.Background(), "c", 4)
	if err != nil {
		t.Fatalf("BestContextSummary failed: %v", err)
	}
	if got != "ddddeeeeff" {
		t.Errorf("got %q, want only the newest summary under budget 4", got)
	}
	if total := counter.CountTokens(got); total > 4 {
		t.Errorf("output costs %d tokens, budget 4", total)
	}
}

func TestBestContextSummary_PrefersL2PlusUncoveredL0(t *testing.T) {
	st := &memStore{}
	// Two L0s covered via l1-0 under l2-0, one uncovered.
	st.summaries = []types.Summary{
		withContent(l0("l0-0", 0, 9), "Ancient history about the old kingdom war."),
		withContent(l0("l0-1", 10, 19), "More ancient history nobody repeats."),
		withContent(l0("l0-2", 20, 29), "Fresh events: the dragon appeared at dawn."),
		{ID: "l1-0", ConversationID: "c", Level: types.LevelL1, Content: "mid",
			MessageRange: [2]int{0, 19}, ChildIDs: []string{"l0-0", "l0-1"}, CreatedAt: time.Now()},
		{ID: "l2-0", ConversationID: "c", Level: types.LevelL2,
			Content:      "Grand arc: the kingdom fell and the heroes fled east.",
			MessageRange: [2]int{0, 19}, ChildIDs: []string{"l1-0"}, CreatedAt: time.Now()},
	}
	s := New(st, &mockLLM{}, stubEmbedder{}, tokens.NewCounter(), Config{})

	got, err := s.BestContextSummary(context.Background(), "c", 1000)
	if err != nil {
		t.Fatalf("BestContextSummary failed: %v", err)
	}
	if !strings.Contains(got, "Grand arc") {
		t.Error("output missing the L2 summary")
	}
	if !strings.Contains(got, "dragon appeared") {
		t.Error("output missing the uncovered L0")
	}
	if strings.Contains(got, "Ancient history") {
		t.Error("output includes an L0 already covered by the L2")
	}
}

func TestBestContextSummary_DropsNearDuplicates(t *testing.T) {
	st := &memStore{}
	st.summaries = []types.Summary{
		withContent(l0("a", 0, 9), "Elara promised vengeance against Duke Ravanor tonight"),
		withContent(l0("b", 10, 19), "Elara promised vengeance against Duke Ravanor again"),
		withContent(l0("c", 20, 29), "Completely unrelated tavern gossip about turnip prices"),
	}
	s := New(st, &mockLLM{}, stubEmbedder{}, tokens.NewCounter(), Config{})

	got, err := s.BestContextSummary(context.Background(), "c", 1000)
	if err != nil {
		t.Fatalf("BestContextSummary failed: %v", err)
	}
	if strings.Count(got, "vengeance") != 1 {
		t.Errorf("near-duplicate summary survived dedup:\n%s", got)
	}
	if !strings.Contains(got, "turnip") {
		t.Error("distinct summary was dropped")
	}
}

func TestBestContextSummary_EmptyPyramid(t *testing.T) {
	s := New(&memStore{}, &mockLLM{}, stubEmbedder{}, tokens.NewCounter(), Config{})
	got, err := s.BestContextSummary(context.Background(), "c", 100)
	if err != nil {
		t.Fatalf("BestContextSummary failed: %v", err)
	}
	if got != "" {
		t.Errorf("empty pyramid must yield empty string, got %q", got)
	}
}

func withContent(s types.Summary, content string) types.Summary {
	s.Content = content
	return s
}
