package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reverie/internal/types"
)

// =============================================================================
// VECTOR CHUNK PERSISTENCE
// =============================================================================

// PutChunk inserts one vector chunk. Chunks are immutable.
func (s *SQLiteStore) PutChunk(ctx context.Context, c types.VectorChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode chunk metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vector_chunks
		(id, conversation_id, member_message_ids, text, embedding, metadata,
		 branch_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ConversationID, encodeStrings(c.MemberMessageIDs), c.Text,
		encodeVector(c.Embedding), string(meta), encodeStrings(c.BranchPath),
		c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
	}
	return nil
}

// ListChunks returns every chunk of a conversation in creation order.
func (s *SQLiteStore) ListChunks(ctx context.Context, conversationID string) ([]types.VectorChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, member_message_ids, text, embedding,
		       metadata, branch_path, created_at
		FROM vector_chunks WHERE conversation_id = ? ORDER BY rowid`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var out []types.VectorChunk
	for rows.Next() {
		var c types.VectorChunk
		var members, meta, branch string
		var embedding []byte
		var createdAt int64

		if err := rows.Scan(&c.ID, &c.ConversationID, &members, &c.Text,
			&embedding, &meta, &branch, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.MemberMessageIDs = decodeStrings(members)
		c.Embedding = decodeVector(embedding)
		decodeJSON(meta, &c.Metadata)
		c.BranchPath = decodeStrings(branch)
		c.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunk removes one chunk.
func (s *SQLiteStore) DeleteChunk(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM vector_chunks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete chunk %s: %w", id, err)
	}
	return nil
}

// DeleteChunksByConversation removes a conversation's chunks.
func (s *SQLiteStore) DeleteChunksByConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM vector_chunks WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", conversationID, err)
	}
	return nil
}

// UpdateChunkEmbedding replaces a chunk's stored vector (bulk reindex path).
func (s *SQLiteStore) UpdateChunkEmbedding(ctx context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE vector_chunks SET embedding = ? WHERE id = ?", encodeVector(embedding), id)
	if err != nil {
		return fmt.Errorf("failed to update embedding for chunk %s: %w", id, err)
	}
	return nil
}

// Stats reports per-conversation record counts for the debug CLI.
func (s *SQLiteStore) Stats(ctx context.Context, conversationID string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	queries := map[string]string{
		"facts":      "SELECT COUNT(*) FROM facts WHERE conversation_id = ? AND superseded_by = ''",
		"superseded": "SELECT COUNT(*) FROM facts WHERE conversation_id = ? AND superseded_by != ''",
		"summaries":  "SELECT COUNT(*) FROM summaries WHERE conversation_id = ?",
		"chunks":     "SELECT COUNT(*) FROM vector_chunks WHERE conversation_id = ?",
	}
	for name, q := range queries {
		var n int64
		if err := s.db.QueryRowContext(ctx, q, conversationID).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", name, err)
		}
		stats[name] = n
	}
	return stats, nil
}
