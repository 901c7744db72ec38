// Package tokens provides token estimation for context budget management.
// The heuristic is calibrated for modern LLM tokenizers (~4 characters per
// token). Every component shares one counter so budget math composes.
package tokens

import "unicode/utf8"

// Counter estimates token counts from text.
type Counter struct {
	charsPerToken float64
}

// NewCounter creates a counter with the default calibration.
func NewCounter() *Counter {
	return &Counter{charsPerToken: 4.0}
}

// NewCounterWithRatio creates a counter with a custom characters-per-token
// ratio. Ratios <= 0 fall back to the default.
func NewCounterWithRatio(ratio float64) *Counter {
	if ratio <= 0 {
		ratio = 4.0
	}
	return &Counter{charsPerToken: ratio}
}

// CountTokens estimates tokens in a string.
func (c *Counter) CountTokens(s string) int {
	if s == "" {
		return 0
	}
	// Rune count for proper unicode handling; CJK text runs closer to one
	// token per rune but the shared estimate only has to be consistent,
	// not exact.
	n := utf8.RuneCountInString(s)
	tokens := int(float64(n) / c.charsPerToken)
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
