package summarizer

import (
	"reverie/internal/types"
)

// Default compaction thresholds.
const (
	DefaultChunkSize   = 10 // raw messages per L0
	DefaultL1Threshold = 5  // uncovered L0s per L1
	DefaultL2Threshold = 3  // uncovered L1s per L2
)

// =============================================================================
// COMPACTION SCHEDULING
// =============================================================================
//
// Coverage is read from the recorded MessageRange and ChildIDs of existing
// summaries, never from an assumed chunk size, so the schedule stays
// correct when chunkSize changes between runs or a cycle is skipped.

// MaxCoveredIndex returns the highest message index covered by any L0
// summary, or -1 when none exists.
func MaxCoveredIndex(summaries []types.Summary) int {
	max := -1
	for _, s := range summaries {
		if s.Level != types.LevelL0 {
			continue
		}
		if s.MessageRange[1] > max {
			max = s.MessageRange[1]
		}
	}
	return max
}

// ShouldCreateL0 reports whether enough uncovered messages accumulated for
// a new L0 summary. Always false for an empty conversation.
func ShouldCreateL0(messageCount int, summaries []types.Summary, chunkSize int) bool {
	if messageCount == 0 {
		return false
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return messageCount-(MaxCoveredIndex(summaries)+1) >= chunkSize
}

// NextChunk returns the next full chunk of uncovered messages and the index
// of its first message. Nil when fewer than chunkSize messages remain
// uncovered.
func NextChunk(messages []types.Message, summaries []types.Summary, chunkSize int) ([]types.Message, int) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	start := MaxCoveredIndex(summaries) + 1
	if start >= len(messages) || len(messages)-start < chunkSize {
		return nil, 0
	}
	return messages[start : start+chunkSize], start
}

// uncovered returns the children not claimed by any parent's ChildIDs, in
// input order.
func uncovered(children, parents []types.Summary) []types.Summary {
	claimed := make(map[string]bool)
	for _, p := range parents {
		for _, id := range p.ChildIDs {
			claimed[id] = true
		}
	}
	var out []types.Summary
	for _, c := range children {
		if !claimed[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// UncoveredL0s returns the L0 summaries not yet compressed into any L1.
func UncoveredL0s(summaries []types.Summary) []types.Summary {
	return uncovered(byLevel(summaries, types.LevelL0), byLevel(summaries, types.LevelL1))
}

// UncoveredL1s returns the L1 summaries not yet compressed into any L2.
func UncoveredL1s(summaries []types.Summary) []types.Summary {
	return uncovered(byLevel(summaries, types.LevelL1), byLevel(summaries, types.LevelL2))
}

// ShouldCreateL1 reports whether enough uncovered L0s accumulated.
func ShouldCreateL1(summaries []types.Summary, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultL1Threshold
	}
	return len(UncoveredL0s(summaries)) >= threshold
}

// ShouldCreateL2 reports whether enough uncovered L1s accumulated.
func ShouldCreateL2(summaries []types.Summary, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultL2Threshold
	}
	return len(UncoveredL1s(summaries)) >= threshold
}

// L0sForL1 returns the batch an L1 should compress, or nil below threshold.
func L0sForL1(summaries []types.Summary, threshold int) []types.Summary {
	if threshold <= 0 {
		threshold = DefaultL1Threshold
	}
	u := UncoveredL0s(summaries)
	if len(u) < threshold {
		return nil
	}
	return u[:threshold]
}

// L1sForL2 returns the batch an L2 should compress, or nil below threshold.
func L1sForL2(summaries []types.Summary, threshold int) []types.Summary {
	if threshold <= 0 {
		threshold = DefaultL2Threshold
	}
	u := UncoveredL1s(summaries)
	if len(u) < threshold {
		return nil
	}
	return u[:threshold]
}

func byLevel(summaries []types.Summary, level types.SummaryLevel) []types.Summary {
	var out []types.Summary
	for _, s := range summaries {
		if s.Level == level {
			out = append(out, s)
		}
	}
	return out
}

// rangeUnion is the inclusive span covered by a batch of summaries.
func rangeUnion(batch []types.Summary) [2]int {
	r := batch[0].MessageRange
	for _, s := range batch[1:] {
		if s.MessageRange[0] < r[0] {
			r[0] = s.MessageRange[0]
		}
		if s.MessageRange[1] > r[1] {
			r[1] = s.MessageRange[1]
		}
	}
	return r
}
