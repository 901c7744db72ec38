package summarizer

import (
	"fmt"
	"strings"

	"reverie/internal/types"
)

// =============================================================================
// PROMPT BUILDING
// =============================================================================
//
// Prompts are deterministic for a given input batch: same messages or
// summaries in, same prompt text out. The LLM is the only nondeterminism
// in a compaction step.

const summarySystemPrompt = `You compress roleplay conversation history without losing story continuity.
Respond with ONLY a JSON object: {"summary": "...", "keyFacts": ["...", "..."]}
Rules:
- The summary is a compact narrative of what happened, in past tense.
- keyFacts lists the plot-critical details a future turn must not contradict
  (names, items gained or lost, promises, injuries, locations).
- Never invent events that did not occur.`

// buildL0Prompt renders a raw-message chunk.
func buildL0Prompt(messages []types.Message) string {
	var sb strings.Builder
	sb.WriteString("Summarize this conversation segment:\n\n")
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildRollupPrompt renders a batch of lower-level summaries with their key
// facts for an L1 or L2 compaction.
func buildRollupPrompt(level types.SummaryLevel, batch []types.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Combine these %d chronological summaries into one higher-level summary. Preserve every key fact that still matters:\n\n", len(batch))
	for i, s := range batch {
		fmt.Fprintf(&sb, "--- Summary %d (messages %d-%d) ---\n", i+1, s.MessageRange[0], s.MessageRange[1])
		sb.WriteString(s.Content)
		sb.WriteString("\n")
		if len(s.KeyFacts) > 0 {
			sb.WriteString("Key facts:\n")
			for _, kf := range s.KeyFacts {
				sb.WriteString("- ")
				sb.WriteString(kf)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
