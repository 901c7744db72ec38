package embedding

import (
	"fmt"

	"reverie/internal/logging"
)

// Config selects and configures an embedding backend.
type Config struct {
	// Provider: "ollama", "genai", or "hashed". Empty means hashed only.
	Provider string `yaml:"provider"`

	// Vector dimensionality. Must stay constant for the life of a
	// conversation's stored vectors.
	Dimensions int `yaml:"dimensions"`

	// Ollama configuration.
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`

	// GenAI configuration.
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
	TaskType    string `yaml:"task_type"`

	// CacheSize bounds the embed cache (default 500).
	CacheSize int `yaml:"cache_size"`
}

// DefaultConfig returns sensible defaults: no neural backend, hashed
// vectors at the default dimensionality.
func DefaultConfig() Config {
	return Config{
		Provider:       "hashed",
		Dimensions:     DefaultHashedDimensions,
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "nomic-embed-text",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
		CacheSize:      DefaultCacheSize,
	}
}

// NewEmbedderFromConfig builds the process-wide Embedder. A backend that
// fails to construct degrades to the hashed fallback rather than aborting
// startup; retrieval quality drops but nothing breaks.
func NewEmbedderFromConfig(cfg Config) (*Embedder, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warnf("embedding backend unavailable, falling back to hashed vectors: %v", err)
		engine = nil
	}
	return NewEmbedder(engine, cfg.CacheSize)
}

func newEngine(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel, cfg.Dimensions)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType, cfg.Dimensions)
	case "hashed", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama', 'genai', or 'hashed')", cfg.Provider)
	}
}
