// Package config loads and validates the engine configuration from YAML,
// with environment overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"reverie/internal/embedding"
)

// Config holds all reverie configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM is the text-generation provider used for extraction and
	// summarization.
	LLM LLMConfig `yaml:"llm"`

	// Embedding selects and tunes the vector backend.
	Embedding embedding.Config `yaml:"embedding"`

	// Store configures persistence.
	Store StoreConfig `yaml:"store"`

	// Memory carries the engine tunables (compaction thresholds, dedup
	// threshold, retrieval knobs). Hot-reloadable; see Watcher.
	Memory MemoryConfig `yaml:"memory"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the text-generation provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, ollama
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MemoryConfig carries the engine tunables.
type MemoryConfig struct {
	// Compaction thresholds
	ChunkSize   int `yaml:"chunk_size"`
	L1Threshold int `yaml:"l1_threshold"`
	L2Threshold int `yaml:"l2_threshold"`

	// Dedup
	MergeThreshold float64 `yaml:"merge_threshold"`

	// Retrieval
	FactTopK      int     `yaml:"fact_top_k"`
	ChunkTopK     int     `yaml:"chunk_top_k"`
	MinFactScore  float64 `yaml:"min_fact_score"`
	ChunkFloor    float64 `yaml:"chunk_floor"`
	MinConfidence float64 `yaml:"min_confidence"`

	// TokenBudget is the default retrieval budget when the caller passes
	// none.
	TokenBudget int `yaml:"token_budget"`

	// WorldState protagonists, excluded from derived inventory/standings.
	CharacterName string `yaml:"character_name"`
	UserName      string `yaml:"user_name"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "reverie",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "120s",
		},

		Embedding: embedding.DefaultConfig(),

		Store: StoreConfig{
			DatabasePath: "data/reverie.db",
		},

		Memory: MemoryConfig{
			ChunkSize:      10,
			L1Threshold:    5,
			L2Threshold:    3,
			MergeThreshold: 0.7,
			FactTopK:       10,
			ChunkTopK:      5,
			MinFactScore:   0.15,
			ChunkFloor:     0.2,
			MinConfidence:  0,
			TokenBudget:    2000,
		},

		Logging: LoggingConfig{
			Level: "info",
			File:  "reverie.log",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.Embedding.GenAIAPIKey = key
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.Embedding.OllamaEndpoint = url
	}
	if path := os.Getenv("REVERIE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if level := os.Getenv("REVERIE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate rejects configurations that would silently misbehave.
func (c *Config) Validate() error {
	m := c.Memory
	if m.ChunkSize < 1 {
		return fmt.Errorf("memory.chunk_size must be >= 1, got %d", m.ChunkSize)
	}
	if m.L1Threshold < 1 || m.L2Threshold < 1 {
		return fmt.Errorf("compaction thresholds must be >= 1")
	}
	if m.MergeThreshold <= 0 || m.MergeThreshold > 1 {
		return fmt.Errorf("memory.merge_threshold must be in (0,1], got %f", m.MergeThreshold)
	}
	if m.MinConfidence < 0 || m.MinConfidence > 1 {
		return fmt.Errorf("memory.min_confidence must be in [0,1], got %f", m.MinConfidence)
	}
	if m.TokenBudget < 0 {
		return fmt.Errorf("memory.token_budget must be >= 0, got %d", m.TokenBudget)
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}
