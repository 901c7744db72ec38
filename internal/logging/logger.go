// Package logging provides categorized logging for the memory engine.
// Each subsystem logs under its own category so a single conversation's
// compaction, dedup, and retrieval activity can be filtered apart.
// Before Initialize is called every logger is a silent no-op.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and shutdown
	CategoryConfig     Category = "config"     // Config load and hot-reload
	CategoryStore      Category = "store"      // SQLite persistence
	CategoryEmbedding  Category = "embedding"  // Embedding engine and cache
	CategoryFacts      Category = "facts"      // Extraction and dedup
	CategorySummarizer Category = "summarizer" // Hierarchical compaction
	CategoryRetrieval  Category = "retrieval"  // Context assembly
	CategoryWorldState Category = "worldstate" // State delta derivation
	CategoryEngine     Category = "engine"     // Orchestration
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Initialize builds the root zap logger. level is one of debug/info/warn/error;
// unknown values fall back to info. When file is non-empty, logs go there
// instead of stderr. Safe to call more than once; the last call wins.
func Initialize(level, file string) error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	if file != "" {
		cfg.OutputPaths = []string{file}
		cfg.ErrorOutputPaths = []string{file}
	} else {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Get returns the sugared logger for a category. Returns a no-op logger
// when Initialize has not been called.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	base := root
	if base == nil {
		base = zap.NewNop()
	}
	l := base.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// Convenience helpers, one per busy category. Infrequent categories go
// through Get directly.

// Store logs an info message under the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Infof(format, args...)
}

// StoreDebug logs a debug message under the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debugf(format, args...)
}

// Embedding logs an info message under the embedding category.
func Embedding(format string, args ...interface{}) {
	Get(CategoryEmbedding).Infof(format, args...)
}

// EmbeddingDebug logs a debug message under the embedding category.
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debugf(format, args...)
}

// Summarizer logs an info message under the summarizer category.
func Summarizer(format string, args ...interface{}) {
	Get(CategorySummarizer).Infof(format, args...)
}

// Retrieval logs an info message under the retrieval category.
func Retrieval(format string, args ...interface{}) {
	Get(CategoryRetrieval).Infof(format, args...)
}

// RetrievalDebug logs a debug message under the retrieval category.
func RetrievalDebug(format string, args ...interface{}) {
	Get(CategoryRetrieval).Debugf(format, args...)
}

// Facts logs an info message under the facts category.
func Facts(format string, args ...interface{}) {
	Get(CategoryFacts).Infof(format, args...)
}

// Engine logs an info message under the engine category.
func Engine(format string, args ...interface{}) {
	Get(CategoryEngine).Infof(format, args...)
}
