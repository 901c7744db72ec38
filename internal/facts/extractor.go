// Package facts turns raw conversation turns into stored atomic facts and
// keeps the fact set free of near-duplicates.
package facts

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"reverie/internal/logging"
	"reverie/internal/types"
)

// Embedder is the vector source the package needs. Satisfied by
// *embedding.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// Store is the persistence surface the package needs. Satisfied by
// *store.SQLiteStore.
type Store interface {
	PutFact(ctx context.Context, f types.Fact) error
	ListFacts(ctx context.Context, conversationID string) ([]types.Fact, error)
	MarkFactsSuperseded(ctx context.Context, ids []string, byID string) error
	DeleteFact(ctx context.Context, id string) error
}

// =============================================================================
// EXTRACTION
// =============================================================================

// Extractor asks the LLM for atomic facts in recent turns and persists them.
type Extractor struct {
	llm      types.LLMClient
	embedder Embedder
	store    Store
}

// NewExtractor wires an extractor.
func NewExtractor(llm types.LLMClient, embedder Embedder, store Store) *Extractor {
	return &Extractor{llm: llm, embedder: embedder, store: store}
}

// candidate is the wire shape the extraction prompt requests.
type candidate struct {
	Text            string   `json:"text"`
	Category        string   `json:"category"`
	Importance      int      `json:"importance"`
	RelatedEntities []string `json:"relatedEntities"`
}

const extractionSystemPrompt = `You extract atomic facts from roleplay conversation turns.
Respond with ONLY a JSON array. Each element:
{"text": "one self-contained statement", "category": "event|relationship|item|location|lore|consequence|dialogue", "importance": 1-10, "relatedEntities": ["names"]}
Rules:
- Each fact must be understandable without the conversation.
- Use proper names, never pronouns.
- importance 1-3 color, 4-6 notable, 7-10 plot-critical.
- Empty array if nothing worth remembering happened.`

// buildExtractionPrompt renders the turns in order. Deterministic for a
// given message slice.
func buildExtractionPrompt(messages []types.Message) string {
	var sb strings.Builder
	sb.WriteString("Extract facts from these turns:\n\n")
	for _, m := range messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ExtractFacts runs the extraction prompt over the given turns and returns
// unstored fact candidates. An unparseable response is an error; an empty
// array is a valid "nothing happened" answer.
func (e *Extractor) ExtractFacts(ctx context.Context, conversationID string, messages []types.Message, branchPath []string) ([]types.Fact, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	response, err := e.llm.CompleteWithSystem(ctx, extractionSystemPrompt, buildExtractionPrompt(messages))
	if err != nil {
		return nil, fmt.Errorf("fact extraction call failed: %w", err)
	}

	cands, err := parseCandidates(response)
	if err != nil {
		return nil, fmt.Errorf("fact extraction parse failed: %w", err)
	}

	sourceID := messages[len(messages)-1].ID
	now := time.Now()
	var out []types.Fact
	for _, c := range cands {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		cat, err := types.ParseFactCategory(c.Category)
		if err != nil {
			cat = types.CategoryCustom
		}
		out = append(out, types.Fact{
			ID:              uuid.NewString(),
			ConversationID:  conversationID,
			SourceMessageID: sourceID,
			Text:            text,
			Category:        cat,
			Importance:      types.ClampImportance(c.Importance),
			Active:          true,
			BranchPath:      branchPath,
			RelatedEntities: c.RelatedEntities,
			Timestamp:       now,
		})
	}
	return out, nil
}

// Ingest extracts, embeds, and persists facts for the given turns. Returns
// the stored facts. Persisting is per-record; an embed never fails, so a
// partial ingest can only come from the store itself.
func (e *Extractor) Ingest(ctx context.Context, conversationID string, messages []types.Message, branchPath []string) ([]types.Fact, error) {
	extracted, err := e.ExtractFacts(ctx, conversationID, messages, branchPath)
	if err != nil {
		return nil, err
	}
	for i := range extracted {
		extracted[i].Embedding = e.embedder.Embed(ctx, extracted[i].Text)
		if err := e.store.PutFact(ctx, extracted[i]); err != nil {
			return extracted[:i], err
		}
	}
	logging.Facts("ingested %d facts for conversation %s", len(extracted), conversationID)
	return extracted, nil
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// parseCandidates applies the same ladder as the summary parser: strict
// JSON, then a JSON array embedded in surrounding prose or a fenced block,
// then a retry with reasoning blocks stripped.
func parseCandidates(response string) ([]candidate, error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return nil, nil
	}

	var cands []candidate
	if err := json.Unmarshal([]byte(trimmed), &cands); err == nil {
		return cands, nil
	}

	if block := extractJSONArray(trimmed); block != "" {
		if err := json.Unmarshal([]byte(block), &cands); err == nil {
			return cands, nil
		}
	}

	cleaned := strings.TrimSpace(thinkBlockRe.ReplaceAllString(trimmed, ""))
	if cleaned == "" {
		return nil, nil
	}
	if block := extractJSONArray(cleaned); block != "" {
		if err := json.Unmarshal([]byte(block), &cands); err == nil {
			return cands, nil
		}
	}
	return nil, fmt.Errorf("no JSON array in response")
}

// extractJSONArray finds the first bracket-balanced JSON array in text
// (handles markdown fences and prose wrappers).
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
