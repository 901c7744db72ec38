// Package store persists the memory engine's records in SQLite: facts,
// the summary pyramid, and scene vector chunks. Every write is a single
// atomic record; no multi-record transaction spans a compaction or merge
// step, so a failure between writes leaves readable state behind.
package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"reverie/internal/logging"
)

// SQLiteStore is the persistent store for one database file. Safe for
// concurrent use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at path, creating the schema when
// missing. Use ":memory:" for tests.
func Open(path string) (*SQLiteStore, error) {
	logging.Store("Opening store at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	// WAL already provides crash recovery; NORMAL trades nothing we need.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set synchronous=NORMAL: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.StoreDebug("schema ready")
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		source_message_id TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		importance INTEGER NOT NULL,
		embedding BLOB,
		active INTEGER NOT NULL DEFAULT 1,
		branch_path TEXT NOT NULL DEFAULT '[]',
		related_entities TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL DEFAULT 0,
		access_count INTEGER NOT NULL DEFAULT 0,
		superseded_by TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_facts_conversation ON facts(conversation_id);

	CREATE TABLE IF NOT EXISTS summaries (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		level INTEGER NOT NULL,
		content TEXT NOT NULL,
		key_facts TEXT NOT NULL DEFAULT '[]',
		range_start INTEGER NOT NULL,
		range_end INTEGER NOT NULL,
		child_ids TEXT NOT NULL DEFAULT '[]',
		embedding BLOB,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_conversation ON summaries(conversation_id, level);

	CREATE TABLE IF NOT EXISTS vector_chunks (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		member_message_ids TEXT NOT NULL DEFAULT '[]',
		text TEXT NOT NULL,
		embedding BLOB,
		metadata TEXT NOT NULL DEFAULT '{}',
		branch_path TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_conversation ON vector_chunks(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

// encodeVector serializes a float32 vector as a little-endian blob.
// Nil and empty vectors encode to nil so SQL NULL round-trips.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// decodeVector parses a little-endian float32 blob. Malformed blobs decode
// to nil; retrieval treats a missing embedding as score 0, not an error.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
