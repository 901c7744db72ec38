package summarizer

import (
	"encoding/json"
	"regexp"
	"strings"
)

// =============================================================================
// RESPONSE PARSING
// =============================================================================

// parsedSummary is the wire shape the summary prompt requests.
type parsedSummary struct {
	Summary  string   `json:"summary"`
	KeyFacts []string `json:"keyFacts"`
}

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// parseSummaryResponse recovers {summary, keyFacts} from an LLM response.
// Ladder: strict JSON, then a JSON object embedded in prose or a fenced
// block, then the text with reasoning blocks stripped used verbatim as the
// summary with no key facts. Returns ok=false only when nothing but
// reasoning and whitespace remained.
func parseSummaryResponse(response string) (parsedSummary, bool) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return parsedSummary{}, false
	}

	var p parsedSummary
	if err := json.Unmarshal([]byte(trimmed), &p); err == nil && p.Summary != "" {
		return p, true
	}

	if block := extractJSONObject(trimmed); block != "" {
		if err := json.Unmarshal([]byte(block), &p); err == nil && p.Summary != "" {
			return p, true
		}
	}

	cleaned := strings.TrimSpace(thinkBlockRe.ReplaceAllString(trimmed, ""))
	cleaned = stripFences(cleaned)
	if cleaned == "" {
		return parsedSummary{}, false
	}
	return parsedSummary{Summary: cleaned}, true
}

// extractJSONObject finds the first brace-balanced JSON object in text,
// skipping braces inside string literals.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := strings.TrimPrefix(text, "```")
	if nl := strings.Index(body, "\n"); nl != -1 {
		body = body[nl+1:]
	}
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
