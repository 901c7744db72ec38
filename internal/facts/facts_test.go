package facts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"reverie/internal/types"
)

// memStore is an in-memory Store double preserving insertion order.
type memStore struct {
	order []string
	byID  map[string]types.Fact
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]types.Fact)}
}

func (m *memStore) PutFact(ctx context.Context, f types.Fact) error {
	if _, ok := m.byID[f.ID]; !ok {
		m.order = append(m.order, f.ID)
	}
	m.byID[f.ID] = f
	return nil
}

func (m *memStore) ListFacts(ctx context.Context, conversationID string) ([]types.Fact, error) {
	var out []types.Fact
	for _, id := range m.order {
		f := m.byID[id]
		if f.ConversationID == conversationID && f.SupersededBy == "" {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) MarkFactsSuperseded(ctx context.Context, ids []string, byID string) error {
	for _, id := range ids {
		f := m.byID[id]
		f.SupersededBy = byID
		m.byID[id] = f
	}
	return nil
}

func (m *memStore) DeleteFact(ctx context.Context, id string) error {
	delete(m.byID, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// vecEmbedder returns a fixed vector per text so clustering is controlled.
type vecEmbedder struct {
	vectors map[string][]float32
}

func (v *vecEmbedder) Embed(ctx context.Context, text string) []float32 {
	if vec, ok := v.vectors[text]; ok {
		return vec
	}
	return []float32{0, 0, 1}
}

// mockLLM is a func-field LLM double.
type mockLLM struct {
	CompleteWithSystemFunc func(ctx context.Context, system, user string) (string, error)
}

func (m *mockLLM) Complete(ctx context.Context, prompt string) (string, error) {
	return m.CompleteWithSystemFunc(ctx, "", prompt)
}

func (m *mockLLM) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	return m.CompleteWithSystemFunc(ctx, system, user)
}

// =============================================================================
// DEDUP
// =============================================================================

func TestMergeRelatedFacts_SunbladeRestatements(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	emb := &vecEmbedder{vectors: map[string][]float32{
		"Elara gave the hero the Sunblade":          {1, 0, 0},
		"The hero received the Sunblade from Elara": {0.95, 0.31, 0},
		"The hero now carries the Sunblade":         {0.9, 0.43, 0},
		"The tavern burned down":                    {0, 1, 0},
	}}

	base := time.UnixMilli(1700000000000)
	seed := []types.Fact{
		{ID: "f1", ConversationID: "c", Text: "Elara gave the hero the Sunblade",
			Category: types.CategoryItem, Importance: 8,
			RelatedEntities: []string{"Elara", "Sunblade"}, Timestamp: base},
		{ID: "f2", ConversationID: "c", Text: "The hero received the Sunblade from Elara",
			Category: types.CategoryEvent, Importance: 6,
			RelatedEntities: []string{"elara", "Hero"}, Timestamp: base.Add(-time.Hour)},
		{ID: "f3", ConversationID: "c", Text: "The hero now carries the Sunblade",
			Category: types.CategoryItem, Importance: 5,
			RelatedEntities: []string{"Sunblade"}, Timestamp: base.Add(time.Hour)},
		{ID: "f4", ConversationID: "c", Text: "The tavern burned down",
			Category: types.CategoryEvent, Importance: 7,
			RelatedEntities: []string{"tavern"}, Timestamp: base},
	}
	for i := range seed {
		seed[i].Active = true
		seed[i].Embedding = emb.Embed(ctx, seed[i].Text)
		if err := st.PutFact(ctx, seed[i]); err != nil {
			t.Fatal(err)
		}
	}

	d := NewDeduplicator(st, emb, 0.7)
	merges, err := d.MergeRelatedFacts(ctx, "c")
	if err != nil {
		t.Fatalf("MergeRelatedFacts failed: %v", err)
	}
	if merges != 1 {
		t.Fatalf("merges = %d, want 1", merges)
	}

	live, _ := st.ListFacts(ctx, "c")
	if len(live) != 2 {
		t.Fatalf("live facts = %d, want 2 (merged + tavern)", len(live))
	}

	var merged *types.Fact
	for i := range live {
		if live[i].ID != "f4" {
			merged = &live[i]
		}
	}
	if merged == nil {
		t.Fatal("merged fact not found")
	}
	if merged.Text != "Elara gave the hero the Sunblade" {
		t.Errorf("merged text = %q, want the highest-importance member's text", merged.Text)
	}
	if merged.Importance != 8 {
		t.Errorf("merged importance = %d, want max 8", merged.Importance)
	}
	if !merged.Timestamp.Equal(base.Add(-time.Hour)) {
		t.Errorf("merged timestamp = %v, want earliest member's", merged.Timestamp)
	}
	wantEntities := []string{"Elara", "Sunblade", "Hero"}
	if diff := cmp.Diff(wantEntities, merged.RelatedEntities); diff != "" {
		t.Errorf("merged entities (-want +got):\n%s", diff)
	}
	if merged.ID == "f1" || merged.ID == "f2" || merged.ID == "f3" {
		t.Error("merged fact must carry a fresh id")
	}
}

func TestMergeRelatedFacts_NothingSimilar(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	emb := &vecEmbedder{vectors: map[string][]float32{}}

	for i, v := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
		f := types.Fact{ID: string(rune('a' + i)), ConversationID: "c",
			Text: "t", Category: types.CategoryEvent, Importance: 5,
			Active: true, Embedding: v, Timestamp: time.Now()}
		if err := st.PutFact(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	d := NewDeduplicator(st, emb, 0.7)
	merges, err := d.MergeRelatedFacts(ctx, "c")
	if err != nil {
		t.Fatalf("MergeRelatedFacts failed: %v", err)
	}
	if merges != 0 {
		t.Errorf("merges = %d, want 0", merges)
	}
	live, _ := st.ListFacts(ctx, "c")
	if len(live) != 3 {
		t.Errorf("live facts = %d, want all 3 untouched", len(live))
	}
}

func TestMergeRelatedFacts_SkipsUnembedded(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	emb := &vecEmbedder{}

	f1 := types.Fact{ID: "f1", ConversationID: "c", Text: "a",
		Category: types.CategoryEvent, Importance: 5, Active: true, Timestamp: time.Now()}
	f2 := types.Fact{ID: "f2", ConversationID: "c", Text: "b",
		Category: types.CategoryEvent, Importance: 5, Active: true, Timestamp: time.Now()}
	st.PutFact(ctx, f1)
	st.PutFact(ctx, f2)

	d := NewDeduplicator(st, emb, 0.7)
	merges, err := d.MergeRelatedFacts(ctx, "c")
	if err != nil {
		t.Fatalf("MergeRelatedFacts failed: %v", err)
	}
	if merges != 0 {
		t.Errorf("facts without embeddings must never cluster, got %d merges", merges)
	}
}

func TestMergeRelatedFacts_DeactivatedStayDeactivated(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	emb := &vecEmbedder{vectors: map[string][]float32{
		"The curse was lifted":      {1, 0, 0},
		"The curse no longer holds": {0.98, 0.2, 0},
	}}

	seed := []types.Fact{
		{ID: "f1", ConversationID: "c", Text: "The curse was lifted",
			Category: types.CategoryEvent, Importance: 6, Timestamp: time.Now()},
		{ID: "f2", ConversationID: "c", Text: "The curse no longer holds",
			Category: types.CategoryEvent, Importance: 4, Timestamp: time.Now()},
	}
	for i := range seed {
		seed[i].Active = false
		seed[i].Embedding = emb.Embed(ctx, seed[i].Text)
		st.PutFact(ctx, seed[i])
	}

	d := NewDeduplicator(st, emb, 0.7)
	merges, err := d.MergeRelatedFacts(ctx, "c")
	if err != nil {
		t.Fatalf("MergeRelatedFacts failed: %v", err)
	}
	if merges != 1 {
		t.Fatalf("got %d merges, want 1", merges)
	}

	live, _ := st.ListFacts(ctx, "c")
	if len(live) != 1 {
		t.Fatalf("got %d facts after merge, want 1", len(live))
	}
	if live[0].Active {
		t.Error("merging deactivated facts must not resurrect them")
	}

	// One live member keeps the merged fact live.
	mixed := d.mergeCluster(ctx, []types.Fact{
		{Text: "a", Active: false, Timestamp: time.Now()},
		{Text: "b", Active: true, Timestamp: time.Now()},
	})
	if !mixed.Active {
		t.Error("a cluster with a live member must merge to a live fact")
	}
}

func TestCommonBranchPrefix(t *testing.T) {
	mk := func(path ...string) types.Fact { return types.Fact{BranchPath: path} }

	got := commonBranchPrefix([]types.Fact{mk("m1", "m2", "m3"), mk("m1", "m2", "m9")})
	if diff := cmp.Diff([]string{"m1", "m2"}, got); diff != "" {
		t.Errorf("prefix (-want +got):\n%s", diff)
	}

	if got := commonBranchPrefix([]types.Fact{mk("m1"), mk()}); got != nil {
		t.Errorf("empty member path must yield a global fact, got %v", got)
	}

	if got := commonBranchPrefix([]types.Fact{mk("a"), mk("b")}); got != nil {
		t.Errorf("disjoint paths must yield a global fact, got %v", got)
	}
}

// =============================================================================
// EXTRACTION
// =============================================================================

func TestExtractFacts_ParsesAndClamps(t *testing.T) {
	llm := &mockLLM{CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
		return `[
			{"text": "Elara joined the party", "category": "event", "importance": 7, "relatedEntities": ["Elara"]},
			{"text": "The hero is famous", "category": "reputation", "importance": 99, "relatedEntities": []}
		]`, nil
	}}
	e := NewExtractor(llm, &vecEmbedder{}, newMemStore())

	msgs := []types.Message{{ID: "m1", Role: "user", Content: "hi"}}
	got, err := e.ExtractFacts(context.Background(), "c", msgs, []string{"m1"})
	if err != nil {
		t.Fatalf("ExtractFacts failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d facts, want 2", len(got))
	}
	if got[0].Category != types.CategoryEvent || got[0].Importance != 7 {
		t.Errorf("first fact parsed wrong: %+v", got[0])
	}
	if got[1].Category != types.CategoryCustom {
		t.Errorf("unknown category must fall back to custom, got %s", got[1].Category)
	}
	if got[1].Importance != 10 {
		t.Errorf("importance must clamp to 10, got %d", got[1].Importance)
	}
	if got[0].SourceMessageID != "m1" {
		t.Errorf("source message id = %q, want m1", got[0].SourceMessageID)
	}
}

func TestExtractFacts_LLMErrorPropagates(t *testing.T) {
	llm := &mockLLM{CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
		return "", errors.New("provider down")
	}}
	e := NewExtractor(llm, &vecEmbedder{}, newMemStore())

	_, err := e.ExtractFacts(context.Background(), "c",
		[]types.Message{{ID: "m1", Content: "x"}}, nil)
	if err == nil {
		t.Fatal("expected error from failing LLM")
	}
}

func TestIngest_StoresWithEmbeddings(t *testing.T) {
	llm := &mockLLM{CompleteWithSystemFunc: func(ctx context.Context, system, user string) (string, error) {
		return `[{"text": "The gate opened", "category": "event", "importance": 5}]`, nil
	}}
	st := newMemStore()
	e := NewExtractor(llm, &vecEmbedder{}, st)

	stored, err := e.Ingest(context.Background(), "c",
		[]types.Message{{ID: "m1", Content: "x"}}, nil)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d facts, want 1", len(stored))
	}
	live, _ := st.ListFacts(context.Background(), "c")
	if len(live) != 1 || len(live[0].Embedding) == 0 {
		t.Fatalf("stored fact missing embedding: %+v", live)
	}
}

func TestParseCandidates(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"strict json", `[{"text":"a","category":"event","importance":5}]`, 1, false},
		{"fenced block", "Here you go:\n```json\n[{\"text\":\"a\",\"category\":\"event\",\"importance\":5}]\n```", 1, false},
		{"think prefix", "<think>let me reason about [brackets] here</think>[{\"text\":\"a\",\"category\":\"event\",\"importance\":5}]", 1, false},
		{"empty array", "[]", 0, false},
		{"blank", "   ", 0, false},
		{"think only", "<think>nothing</think>", 0, false},
		{"garbage", "no facts today", 0, true},
		{"bracket in string", `[{"text":"found [a key]","category":"item","importance":4}]`, 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseCandidates(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCandidates failed: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("got %d candidates, want %d", len(got), tc.want)
			}
		})
	}
}
