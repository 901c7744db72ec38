package summarizer

import (
	"context"
	"fmt"
	"strings"

	"reverie/internal/types"
)

// nearDuplicateJaccard is the word-overlap ratio above which two summaries
// are treated as restatements.
const nearDuplicateJaccard = 0.6

// =============================================================================
// BEST-CONTEXT READ PATH
// =============================================================================

// BestContextSummary assembles the most informative summary text that fits
// maxTokens. Preference order: newest L2s plus any L0s not transitively
// covered by an L2 ("recent events"), else L1s plus uncovered L0s, else the
// most recent L0s. Near-duplicate candidates are dropped, first wins.
// Read-only; returns "" when the pyramid is empty or the budget is zero.
func (s *Summarizer) BestContextSummary(ctx context.Context, conversationID string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	summaries, err := s.store.ListSummaries(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to load summaries: %w", err)
	}

	l0s := byLevel(summaries, types.LevelL0)
	l1s := byLevel(summaries, types.LevelL1)
	l2s := byLevel(summaries, types.LevelL2)

	var candidates []types.Summary
	switch {
	case len(l2s) > 0:
		candidates = append(newestFirst(l2s), uncoveredByL2(l0s, l1s, l2s)...)
	case len(l1s) > 0:
		candidates = append(newestFirst(l1s), uncovered(l0s, l1s)...)
	default:
		candidates = newestFirst(l0s)
	}

	deduped := dropNearDuplicates(candidates)

	// The budget covers the joined output, separators included, so each
	// step measures the whole candidate string rather than summing parts.
	out := ""
	for _, c := range deduped {
		candidate := c.Content
		if out != "" {
			candidate = out + "\n\n" + c.Content
		}
		if s.tokens.CountTokens(candidate) > maxTokens {
			break
		}
		out = candidate
	}
	return out, nil
}

// uncoveredByL2 returns the L0s not reachable from any L2 through its L1
// children's ChildIDs.
func uncoveredByL2(l0s, l1s, l2s []types.Summary) []types.Summary {
	l1ByID := make(map[string]types.Summary, len(l1s))
	for _, s := range l1s {
		l1ByID[s.ID] = s
	}
	covered := make(map[string]bool)
	for _, l2 := range l2s {
		for _, l1ID := range l2.ChildIDs {
			l1, ok := l1ByID[l1ID]
			if !ok {
				continue
			}
			for _, l0ID := range l1.ChildIDs {
				covered[l0ID] = true
			}
		}
	}
	var out []types.Summary
	for _, s := range l0s {
		if !covered[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

func newestFirst(summaries []types.Summary) []types.Summary {
	out := make([]types.Summary, len(summaries))
	for i, s := range summaries {
		out[len(summaries)-1-i] = s
	}
	return out
}

// dropNearDuplicates keeps the first of any pair whose word overlap crosses
// the Jaccard threshold.
func dropNearDuplicates(candidates []types.Summary) []types.Summary {
	var kept []types.Summary
	var keptWords []map[string]bool
	for _, c := range candidates {
		words := significantWords(c.Content)
		dup := false
		for _, kw := range keptWords {
			if jaccard(words, kw) >= nearDuplicateJaccard {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
			keptWords = append(keptWords, words)
		}
	}
	return kept
}

// significantWords is the lowercased set of words longer than 3 characters.
func significantWords(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) > 3 {
			out[w] = true
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
