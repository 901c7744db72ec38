package facts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reverie/internal/embedding"
	"reverie/internal/logging"
	"reverie/internal/types"
)

// DefaultMergeThreshold is the cosine similarity above which two facts are
// treated as restatements of each other.
const DefaultMergeThreshold = 0.7

// Deduplicator collapses near-duplicate facts into single merged records.
type Deduplicator struct {
	store     Store
	embedder  Embedder
	threshold float64
}

// NewDeduplicator wires a deduplicator. A non-positive threshold takes the
// default.
func NewDeduplicator(store Store, embedder Embedder, threshold float64) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}
	return &Deduplicator{store: store, embedder: embedder, threshold: threshold}
}

// MergeRelatedFacts clusters a conversation's live facts by embedding
// similarity and replaces each cluster with one merged fact. Returns the
// number of merges performed.
//
// Commit order per cluster: insert merged, mark members superseded, delete
// members. A crash between steps never loses the information; the engine's
// startup reconcile sweep finishes or unwinds the half-done merge.
func (d *Deduplicator) MergeRelatedFacts(ctx context.Context, conversationID string) (int, error) {
	all, err := d.store.ListFacts(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("failed to load facts for merge: %w", err)
	}

	clusters := clusterBySimilarity(all, d.threshold)
	merges := 0
	for _, cluster := range clusters {
		if len(cluster) < 2 {
			continue
		}
		merged := d.mergeCluster(ctx, cluster)
		if err := d.store.PutFact(ctx, merged); err != nil {
			return merges, fmt.Errorf("failed to store merged fact: %w", err)
		}
		ids := make([]string, len(cluster))
		for i, f := range cluster {
			ids[i] = f.ID
		}
		if err := d.store.MarkFactsSuperseded(ctx, ids, merged.ID); err != nil {
			return merges, fmt.Errorf("failed to supersede merged facts: %w", err)
		}
		for _, id := range ids {
			if err := d.store.DeleteFact(ctx, id); err != nil {
				return merges, fmt.Errorf("failed to delete superseded fact: %w", err)
			}
		}
		merges++
		logging.Facts("merged %d facts into %s (%q)", len(cluster), merged.ID, merged.Text)
	}
	return merges, nil
}

// clusterBySimilarity groups facts with single-link semantics: a fact joins
// a cluster if it is similar enough to ANY member. Facts without embeddings
// never cluster. Output preserves store insertion order within and across
// clusters.
func clusterBySimilarity(all []types.Fact, threshold float64) [][]types.Fact {
	n := len(all)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		if len(all[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			if len(all[j].Embedding) == 0 {
				continue
			}
			if embedding.CosineSimilarity(all[i].Embedding, all[j].Embedding) >= threshold {
				union(i, j)
			}
		}
	}

	byRoot := make(map[int][]types.Fact)
	var roots []int
	for i, f := range all {
		r := find(i)
		if _, seen := byRoot[r]; !seen {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], f)
	}
	out := make([][]types.Fact, 0, len(roots))
	for _, r := range roots {
		out = append(out, byRoot[r])
	}
	return out
}

// mergeCluster builds the replacement fact: the highest-importance member's
// text (earliest wins ties), union of entities, max importance, earliest
// timestamp, and a fresh id and embedding.
func (d *Deduplicator) mergeCluster(ctx context.Context, cluster []types.Fact) types.Fact {
	primary := cluster[0]
	for _, f := range cluster[1:] {
		if f.Importance > primary.Importance {
			primary = f
		}
	}

	importance := primary.Importance
	earliest := cluster[0].Timestamp
	accessCount := 0
	lastAccessed := time.Time{}
	active := false
	var entities []string
	seen := make(map[string]bool)
	for _, f := range cluster {
		if f.Importance > importance {
			importance = f.Importance
		}
		if f.Active {
			active = true
		}
		if f.Timestamp.Before(earliest) {
			earliest = f.Timestamp
		}
		accessCount += f.AccessCount
		if f.LastAccessedAt.After(lastAccessed) {
			lastAccessed = f.LastAccessedAt
		}
		for _, e := range f.RelatedEntities {
			key := strings.ToLower(e)
			if !seen[key] {
				seen[key] = true
				entities = append(entities, e)
			}
		}
	}

	return types.Fact{
		ID:              uuid.NewString(),
		ConversationID:  primary.ConversationID,
		SourceMessageID: primary.SourceMessageID,
		Text:            primary.Text,
		Category:        primary.Category,
		Importance:      importance,
		Embedding:       d.embedder.Embed(ctx, primary.Text),
		// Merging deactivated facts must not resurrect them.
		Active:          active,
		BranchPath:      commonBranchPrefix(cluster),
		RelatedEntities: entities,
		Timestamp:       earliest,
		LastAccessedAt:  lastAccessed,
		AccessCount:     accessCount,
	}
}

// commonBranchPrefix keeps the lineage every member shares. Any member with
// an empty path makes the merged fact global.
func commonBranchPrefix(cluster []types.Fact) []string {
	prefix := cluster[0].BranchPath
	for _, f := range cluster[1:] {
		n := len(prefix)
		if len(f.BranchPath) < n {
			n = len(f.BranchPath)
		}
		i := 0
		for i < n && prefix[i] == f.BranchPath[i] {
			i++
		}
		prefix = prefix[:i]
		if len(prefix) == 0 {
			return nil
		}
	}
	if len(prefix) == 0 {
		return nil
	}
	return append([]string(nil), prefix...)
}
