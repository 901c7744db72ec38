package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"reverie/internal/types"
)

// =============================================================================
// FACT PERSISTENCE
// =============================================================================

// PutFact inserts or replaces one fact. A single atomic write.
func (s *SQLiteStore) PutFact(ctx context.Context, f types.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaEntities := encodeStrings(f.RelatedEntities)
	branch := encodeStrings(f.BranchPath)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO facts
		(id, conversation_id, source_message_id, text, category, importance,
		 embedding, active, branch_path, related_entities, created_at,
		 last_accessed_at, access_count, superseded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ConversationID, f.SourceMessageID, f.Text, string(f.Category),
		types.ClampImportance(f.Importance), encodeVector(f.Embedding),
		boolToInt(f.Active), branch, metaEntities,
		f.Timestamp.UnixMilli(), timeToMilli(f.LastAccessedAt), f.AccessCount,
		f.SupersededBy,
	)
	if err != nil {
		return fmt.Errorf("failed to store fact %s: %w", f.ID, err)
	}
	return nil
}

// GetFact loads one fact by id, superseded or not.
func (s *SQLiteStore) GetFact(ctx context.Context, id string) (*types.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, factSelect+" WHERE id = ?", id)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fact %s: %w", id, err)
	}
	return f, nil
}

// ListFacts returns the live (non-superseded) facts of a conversation in
// insertion order. Insertion order is the retrieval tie-breaker, so the
// ORDER BY must stay on rowid.
func (s *SQLiteStore) ListFacts(ctx context.Context, conversationID string) ([]types.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		factSelect+" WHERE conversation_id = ? AND superseded_by = '' ORDER BY rowid",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer rows.Close()

	var facts []types.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, *f)
	}
	return facts, rows.Err()
}

// DeleteFact removes one fact.
func (s *SQLiteStore) DeleteFact(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM facts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete fact %s: %w", id, err)
	}
	return nil
}

// DeleteFactsByConversation removes every fact of a conversation.
func (s *SQLiteStore) DeleteFactsByConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM facts WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete facts for %s: %w", conversationID, err)
	}
	return nil
}

// MarkFactsSuperseded soft-deletes originals absorbed by a merge. Readers
// skip superseded facts; a crash before the hard delete leaves both the
// originals and the merged fact readable.
func (s *SQLiteStore) MarkFactsSuperseded(ctx context.Context, ids []string, byID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE facts SET superseded_by = ? WHERE id = ?", byID, id); err != nil {
			return fmt.Errorf("failed to mark fact %s superseded: %w", id, err)
		}
	}
	return nil
}

// DeleteSupersededFacts hard-deletes facts whose merge has committed.
func (s *SQLiteStore) DeleteSupersededFacts(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM facts WHERE conversation_id = ? AND superseded_by != ''", conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete superseded facts: %w", err)
	}
	return nil
}

// ReconcileSuperseded sweeps leftovers from a merge interrupted between
// steps: superseded facts whose successor exists are dropped; markers
// pointing at a fact that never landed are cleared so the original stays
// live. Returns (deleted, restored).
func (s *SQLiteStore) ReconcileSuperseded(ctx context.Context, conversationID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, superseded_by FROM facts WHERE conversation_id = ? AND superseded_by != ''",
		conversationID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to scan superseded facts: %w", err)
	}

	type pending struct{ id, by string }
	var all []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.by); err != nil {
			rows.Close()
			return 0, 0, err
		}
		all = append(all, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	deleted, restored := 0, 0
	for _, p := range all {
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM facts WHERE id = ?", p.by).Scan(&exists)
		if err != nil {
			return deleted, restored, err
		}
		if exists > 0 {
			if _, err := s.db.ExecContext(ctx, "DELETE FROM facts WHERE id = ?", p.id); err != nil {
				return deleted, restored, err
			}
			deleted++
		} else {
			if _, err := s.db.ExecContext(ctx,
				"UPDATE facts SET superseded_by = '' WHERE id = ?", p.id); err != nil {
				return deleted, restored, err
			}
			restored++
		}
	}
	return deleted, restored, nil
}

// TouchFacts bumps access stats for retrieved facts. Called from the
// engine's background updater, never from the retrieval path itself.
func (s *SQLiteStore) TouchFacts(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE facts SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?",
			at.UnixMilli(), id); err != nil {
			return fmt.Errorf("failed to touch fact %s: %w", id, err)
		}
	}
	return nil
}

// UpdateFactEmbedding replaces a fact's stored vector (bulk reindex path).
// Provenance fields are never updated in place.
func (s *SQLiteStore) UpdateFactEmbedding(ctx context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE facts SET embedding = ? WHERE id = ?", encodeVector(embedding), id)
	if err != nil {
		return fmt.Errorf("failed to update embedding for %s: %w", id, err)
	}
	return nil
}

// ConversationIDs returns every conversation with at least one fact,
// summary, or chunk. Used by the startup recovery sweep.
func (s *SQLiteStore) ConversationIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id FROM facts
		UNION SELECT conversation_id FROM summaries
		UNION SELECT conversation_id FROM vector_chunks
		ORDER BY conversation_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// =============================================================================
// ROW SCANNING
// =============================================================================

const factSelect = `
	SELECT id, conversation_id, source_message_id, text, category, importance,
	       embedding, active, branch_path, related_entities, created_at,
	       last_accessed_at, access_count, superseded_by
	FROM facts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(r rowScanner) (*types.Fact, error) {
	var f types.Fact
	var category, branch, entities string
	var embedding []byte
	var active int
	var createdAt, accessedAt int64

	if err := r.Scan(&f.ID, &f.ConversationID, &f.SourceMessageID, &f.Text,
		&category, &f.Importance, &embedding, &active, &branch, &entities,
		&createdAt, &accessedAt, &f.AccessCount, &f.SupersededBy); err != nil {
		return nil, err
	}

	cat, err := types.ParseFactCategory(category)
	if err != nil {
		// A row written by a newer build; keep it readable.
		cat = types.CategoryCustom
	}
	f.Category = cat
	f.Embedding = decodeVector(embedding)
	f.Active = active != 0
	f.BranchPath = decodeStrings(branch)
	f.RelatedEntities = decodeStrings(entities)
	f.Timestamp = time.UnixMilli(createdAt)
	if accessedAt > 0 {
		f.LastAccessedAt = time.UnixMilli(accessedAt)
	}
	return &f, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// decodeJSON is shared by the summary and chunk scanners.
func decodeJSON(s string, v interface{}) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}
