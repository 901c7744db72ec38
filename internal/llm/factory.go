package llm

import (
	"fmt"
	"time"

	"reverie/internal/types"
)

// NewClient builds a text-generation client for the configured provider.
func NewClient(provider, apiKey, model, baseURL string, timeout time.Duration) (types.LLMClient, error) {
	switch provider {
	case "gemini", "genai", "":
		return NewGenAIClient(apiKey, model)
	case "ollama":
		return NewOllamaClient(baseURL, model, timeout)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'gemini' or 'ollama')", provider)
	}
}
