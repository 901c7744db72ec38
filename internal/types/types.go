// Package types holds the data model shared by the memory engine's
// components: facts, the summary pyramid, scene chunks, assembled context
// sections, and derived world state.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// FACT CATEGORIES
// =============================================================================

// FactCategory classifies an extracted atomic fact. The set is closed:
// anything the extractor emits outside it is parsed to CategoryCustom
// explicitly by the caller, never silently.
type FactCategory string

const (
	CategoryEvent        FactCategory = "event"
	CategoryRelationship FactCategory = "relationship"
	CategoryItem         FactCategory = "item"
	CategoryLocation     FactCategory = "location"
	CategoryLore         FactCategory = "lore"
	CategoryConsequence  FactCategory = "consequence"
	CategoryDialogue     FactCategory = "dialogue"
	CategoryCustom       FactCategory = "custom"
)

// ParseFactCategory converts a raw string into a FactCategory.
// Unknown values are an error, not a fallback.
func ParseFactCategory(s string) (FactCategory, error) {
	switch FactCategory(s) {
	case CategoryEvent, CategoryRelationship, CategoryItem, CategoryLocation,
		CategoryLore, CategoryConsequence, CategoryDialogue, CategoryCustom:
		return FactCategory(s), nil
	}
	return "", fmt.Errorf("unknown fact category: %q", s)
}

// =============================================================================
// SUMMARY LEVELS
// =============================================================================

// SummaryLevel is the position of a summary in the compaction pyramid.
type SummaryLevel int

const (
	LevelL0 SummaryLevel = 0 // compresses raw messages
	LevelL1 SummaryLevel = 1 // compresses L0 summaries
	LevelL2 SummaryLevel = 2 // compresses L1 summaries
)

// ParseSummaryLevel validates a raw integer level.
func ParseSummaryLevel(n int) (SummaryLevel, error) {
	switch SummaryLevel(n) {
	case LevelL0, LevelL1, LevelL2:
		return SummaryLevel(n), nil
	}
	return 0, fmt.Errorf("unknown summary level: %d", n)
}

// =============================================================================
// CORE RECORDS
// =============================================================================

// Fact is one atomic statement extracted from the conversation.
// Provenance fields (SourceMessageID, BranchPath) are never edited in
// place; a dedup merge replaces facts instead of mutating them.
type Fact struct {
	ID              string
	ConversationID  string
	SourceMessageID string
	Text            string
	Category        FactCategory
	Importance      int // clamped to [1,10]
	Embedding       []float32
	Active          bool
	// BranchPath is the ordered chain of message ids identifying the
	// conversation-tree branch this fact was derived from. Empty means
	// legacy/global: eligible in every branch.
	BranchPath      []string
	RelatedEntities []string
	Timestamp       time.Time
	LastAccessedAt  time.Time
	AccessCount     int
	// SupersededBy is set while a dedup merge is committing: the fact has
	// been absorbed into the named fact but not yet hard-deleted. Readers
	// treat a superseded fact as deleted.
	SupersededBy string
}

// ClampImportance forces importance into [1,10].
func ClampImportance(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}

// Summary is one node of the compaction pyramid. Immutable once created.
type Summary struct {
	ID             string
	ConversationID string
	Level          SummaryLevel
	Content        string
	KeyFacts       []string
	// MessageRange is the inclusive [start,end] message-index span this
	// summary covers. For L1/L2 it is the union of the children's ranges.
	MessageRange [2]int
	// ChildIDs names the level-below summaries compressed into this one.
	// Empty for L0. A lower summary is claimed by at most one parent.
	ChildIDs  []string
	Embedding []float32
	CreatedAt time.Time
}

// ChunkMetadata carries scene annotations on a vector chunk.
type ChunkMetadata struct {
	Characters []string `json:"characters,omitempty"`
	Location   string   `json:"location,omitempty"`
	Importance int      `json:"importance,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// VectorChunk is an indexed slice of scene text, created alongside an L0
// summary. Immutable.
type VectorChunk struct {
	ID               string
	ConversationID   string
	MemberMessageIDs []string
	Text             string
	Embedding        []float32
	Metadata         ChunkMetadata
	BranchPath       []string
	CreatedAt        time.Time
}

// =============================================================================
// CONTEXT ASSEMBLY
// =============================================================================

// SectionType labels what kind of content a context section carries.
type SectionType string

const (
	SectionSystem      SectionType = "system"
	SectionMemory      SectionType = "memory"
	SectionFact        SectionType = "fact"
	SectionSummary     SectionType = "summary"
	SectionLorebook    SectionType = "lorebook"
	SectionHistory     SectionType = "history"
	SectionPostHistory SectionType = "post-history"
)

// ContextSection is one ordered slice of the assembled prompt context.
// Lower Priority sorts earlier in the prompt.
type ContextSection struct {
	Priority  int
	Content   string
	TokenCost int
	Label     string
	Type      SectionType
	// Confidence is the mean retrieval score of the section's members,
	// in [0,1]. Nil for sections without a score (e.g. the summary).
	Confidence *float64
}

// =============================================================================
// WORLD STATE
// =============================================================================

// WorldState is the structured scene state derived from facts.
type WorldState struct {
	// Inventory is ordered with set semantics: no case-insensitive
	// duplicates.
	Inventory []string
	Location  string
	// Relationships maps entity name to standing, clamped to [-100,100].
	Relationships map[string]int
}

// ClampRelationship forces a relationship value into [-100,100].
func ClampRelationship(n int) int {
	if n < -100 {
		return -100
	}
	if n > 100 {
		return 100
	}
	return n
}

// Clone returns a deep copy of the state.
func (w WorldState) Clone() WorldState {
	out := WorldState{
		Inventory: append([]string(nil), w.Inventory...),
		Location:  w.Location,
	}
	if w.Relationships != nil {
		out.Relationships = make(map[string]int, len(w.Relationships))
		for k, v := range w.Relationships {
			out.Relationships[k] = v
		}
	}
	return out
}

// =============================================================================
// MESSAGES
// =============================================================================

// Message is the raw conversation unit the summarizer consumes.
type Message struct {
	ID        string
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}
