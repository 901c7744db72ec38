package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"reverie/internal/embedding"
	"reverie/internal/engine"
	"reverie/internal/llm"
	"reverie/internal/logging"
	"reverie/internal/store"
	"reverie/internal/types"
)

// app holds the wired components behind a subcommand. The store and
// embedder outlive the engine, so Close tears down in reverse order.
type app struct {
	store    *store.SQLiteStore
	embedder *embedding.Embedder
	llm      types.LLMClient
	engine   *engine.Engine
}

// openApp wires store, embedder, LLM client, and engine from the loaded
// config, then runs the startup recovery sweep.
func openApp(ctx context.Context) (*app, error) {
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	emb, err := embedding.NewEmbedderFromConfig(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build embedder: %w", err)
	}

	client, err := llm.NewClient(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.Model,
		cfg.LLM.BaseURL, cfg.GetLLMTimeout())
	if err != nil {
		emb.Close()
		st.Close()
		return nil, fmt.Errorf("failed to build llm client: %w", err)
	}

	eng := engine.New(st, emb, client, cfg.Memory)
	if err := eng.Recover(ctx); err != nil {
		eng.Close()
		closeClient(client)
		emb.Close()
		st.Close()
		return nil, fmt.Errorf("recovery sweep failed: %w", err)
	}

	logging.Get(logging.CategoryBoot).Infof("engine ready, db=%s provider=%s",
		cfg.Store.DatabasePath, cfg.LLM.Provider)
	return &app{store: st, embedder: emb, llm: client, engine: eng}, nil
}

func (a *app) Close() {
	a.engine.Close()
	closeClient(a.llm)
	a.embedder.Close()
	a.store.Close()
}

func closeClient(c types.LLMClient) {
	if closer, ok := c.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// =============================================================================
// TRANSCRIPT LOADING
// =============================================================================

// transcriptMessage is the on-disk message format accepted by the
// ingest and compact commands.
type transcriptMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"` // RFC 3339, optional
}

// loadTranscript reads a JSON array of messages. Messages without a
// timestamp inherit the previous message's, or now for the first.
func loadTranscript(path string) ([]types.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	var wire []transcriptMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse transcript %s: %w", path, err)
	}

	out := make([]types.Message, 0, len(wire))
	prev := time.Now()
	for i, m := range wire {
		if m.ID == "" {
			return nil, fmt.Errorf("transcript message %d has no id", i)
		}
		if m.Content == "" {
			return nil, fmt.Errorf("transcript message %s has no content", m.ID)
		}
		ts := prev
		if m.Timestamp != "" {
			ts, err = time.Parse(time.RFC3339, m.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("transcript message %s has a bad timestamp: %w", m.ID, err)
			}
		}
		role := m.Role
		if role == "" {
			role = "user"
		}
		out = append(out, types.Message{ID: m.ID, Role: role, Content: m.Content, Timestamp: ts})
		prev = ts
	}
	return out, nil
}
