package types

import "context"

// LLMClient is the text-generation collaborator. Streaming is reassembled
// by the surrounding application before it reaches this engine.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Tokenizer counts language-model input units. One instance is shared by
// every component so budget math composes.
type Tokenizer interface {
	CountTokens(text string) int
}
