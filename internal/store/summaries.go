package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reverie/internal/types"
)

// =============================================================================
// SUMMARY PERSISTENCE
// =============================================================================

// PutSummary inserts one summary. Summaries are immutable: an existing id
// is an error, not an upsert.
func (s *SQLiteStore) PutSummary(ctx context.Context, sum types.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries
		(id, conversation_id, level, content, key_facts, range_start,
		 range_end, child_ids, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.ConversationID, int(sum.Level), sum.Content,
		encodeStrings(sum.KeyFacts), sum.MessageRange[0], sum.MessageRange[1],
		encodeStrings(sum.ChildIDs), encodeVector(sum.Embedding),
		sum.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store summary %s: %w", sum.ID, err)
	}
	return nil
}

// GetSummary loads one summary by id.
func (s *SQLiteStore) GetSummary(ctx context.Context, id string) (*types.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, summarySelect+" WHERE id = ?", id)
	sum, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary %s: %w", id, err)
	}
	return sum, nil
}

// ListSummaries returns every summary of a conversation in creation order.
func (s *SQLiteStore) ListSummaries(ctx context.Context, conversationID string) ([]types.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		summarySelect+" WHERE conversation_id = ? ORDER BY rowid", conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var out []types.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}

// DeleteSummary removes one summary. Summaries are deletable, not editable.
func (s *SQLiteStore) DeleteSummary(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM summaries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete summary %s: %w", id, err)
	}
	return nil
}

// DeleteSummariesByConversation removes a conversation's whole pyramid.
func (s *SQLiteStore) DeleteSummariesByConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM summaries WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete summaries for %s: %w", conversationID, err)
	}
	return nil
}

const summarySelect = `
	SELECT id, conversation_id, level, content, key_facts, range_start,
	       range_end, child_ids, embedding, created_at
	FROM summaries`

func scanSummary(r rowScanner) (*types.Summary, error) {
	var sum types.Summary
	var level int
	var keyFacts, childIDs string
	var embedding []byte
	var createdAt int64

	if err := r.Scan(&sum.ID, &sum.ConversationID, &level, &sum.Content,
		&keyFacts, &sum.MessageRange[0], &sum.MessageRange[1], &childIDs,
		&embedding, &createdAt); err != nil {
		return nil, err
	}

	lvl, err := types.ParseSummaryLevel(level)
	if err != nil {
		return nil, err
	}
	sum.Level = lvl
	sum.KeyFacts = decodeStrings(keyFacts)
	sum.ChildIDs = decodeStrings(childIDs)
	sum.Embedding = decodeVector(embedding)
	sum.CreatedAt = time.UnixMilli(createdAt)
	return &sum, nil
}
