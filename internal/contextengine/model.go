package contextengine

import (
	"fmt"
	"time"
)

// ItemKind identifies where a context item came from.
type ItemKind string

const (
	KindConversation ItemKind = "conversation"
	KindKnowledge    ItemKind = "knowledge"
	KindExternal     ItemKind = "external"
)

// ImportanceTier ranks how essential an item is to the assembled context.
type ImportanceTier string

const (
	TierCritical      ImportanceTier = "critical"
	TierImportant     ImportanceTier = "important"
	TierContextual    ImportanceTier = "contextual"
	TierSupplementary ImportanceTier = "supplementary"
)

// Priority maps a tier to the numeric priority shared by the budget
// allocator and the optimizer. Higher is more important.
func (t ImportanceTier) Priority() int {
	switch t {
	case TierCritical:
		return 4
	case TierImportant:
		return 3
	case TierContextual:
		return 2
	case TierSupplementary:
		return 1
	default:
		return 1
	}
}

// Category is a budget category within a snapshot.
type Category string

const (
	CategoryProfile      Category = "profile"
	CategoryConversation Category = "conversation"
	CategoryKnowledge    Category = "knowledge"
	CategoryExternal     Category = "external"
	CategorySystem       Category = "system"
)

// Categories lists all budget categories in allocation order.
func Categories() []Category {
	return []Category{CategoryProfile, CategoryConversation, CategoryKnowledge, CategoryExternal, CategorySystem}
}

// ContextItem is a single scoreable piece of context. Items are treated
// as immutable once scored; transformations produce new values.
type ContextItem struct {
	ID          string         `json:"id"`
	Kind        ItemKind       `json:"kind"`
	Content     string         `json:"content"`
	Tokens      int            `json:"tokens"`
	Timestamp   time.Time      `json:"timestamp"`
	Quality     float64        `json:"quality"` // [0,1]
	Importance  ImportanceTier `json:"importance"`
	Tags        []string       `json:"tags,omitempty"`
	Reliability float64        `json:"reliability,omitempty"` // knowledge items only
	Frequency   int            `json:"frequency,omitempty"`   // times referenced recently
	CrossRefs   int            `json:"cross_refs,omitempty"`  // links to other items
}

// HasTag reports whether the item carries the given tag.
func (it ContextItem) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ContextSnapshot is a point-in-time assembled context. Snapshots are
// never mutated in place: optimization always produces a new snapshot.
type ContextSnapshot struct {
	UserID        string        `json:"user_id"`
	Level         Level         `json:"level"`
	Profile       string        `json:"profile"`
	ProfileTokens int           `json:"profile_tokens"`
	Conversation  []ContextItem `json:"conversation,omitempty"`
	Knowledge     []ContextItem `json:"knowledge,omitempty"`
	External      []ContextItem `json:"external,omitempty"`
	System        string        `json:"system"`
	SystemTokens  int           `json:"system_tokens"`
	TotalTokens   int           `json:"total_tokens"`
	CreatedAt     time.Time     `json:"created_at"`
	Fallback      bool          `json:"fallback,omitempty"`
}

// Items returns every scoreable item in the snapshot, conversation first.
func (s ContextSnapshot) Items() []ContextItem {
	items := make([]ContextItem, 0, len(s.Conversation)+len(s.Knowledge)+len(s.External))
	items = append(items, s.Conversation...)
	items = append(items, s.Knowledge...)
	items = append(items, s.External...)
	return items
}

// CategoryTokens returns the token usage of one budget category.
func (s ContextSnapshot) CategoryTokens(c Category) int {
	switch c {
	case CategoryProfile:
		return s.ProfileTokens
	case CategoryConversation:
		return sumTokens(s.Conversation)
	case CategoryKnowledge:
		return sumTokens(s.Knowledge)
	case CategoryExternal:
		return sumTokens(s.External)
	case CategorySystem:
		return s.SystemTokens
	default:
		return 0
	}
}

// Validate checks the snapshot invariants: token accounting matches the
// contained items and no two items share an identity.
func (s ContextSnapshot) Validate() error {
	total := s.ProfileTokens + s.SystemTokens
	seen := make(map[string]bool)
	for _, it := range s.Items() {
		total += it.Tokens
		if it.ID != "" && seen[it.ID] {
			return fmt.Errorf("duplicate item id %q in snapshot", it.ID)
		}
		seen[it.ID] = true
	}
	if total != s.TotalTokens {
		return fmt.Errorf("snapshot total tokens %d != sum of parts %d", s.TotalTokens, total)
	}
	return nil
}

func sumTokens(items []ContextItem) int {
	total := 0
	for _, it := range items {
		total += it.Tokens
	}
	return total
}

// SnapshotBuilder produces new snapshots from an existing one without
// mutating the original. Build recomputes the derived token total so the
// accounting invariant holds by construction.
type SnapshotBuilder struct {
	snap ContextSnapshot
}

// NewSnapshot starts a builder seeded from base. Slices are copied so the
// base snapshot cannot alias the result.
func NewSnapshot(base ContextSnapshot) *SnapshotBuilder {
	b := &SnapshotBuilder{snap: base}
	b.snap.Conversation = copyItems(base.Conversation)
	b.snap.Knowledge = copyItems(base.Knowledge)
	b.snap.External = copyItems(base.External)
	return b
}

func copyItems(items []ContextItem) []ContextItem {
	if items == nil {
		return nil
	}
	out := make([]ContextItem, len(items))
	copy(out, items)
	return out
}

func (b *SnapshotBuilder) WithProfile(text string, tokens int) *SnapshotBuilder {
	b.snap.Profile = text
	b.snap.ProfileTokens = tokens
	return b
}

func (b *SnapshotBuilder) WithSystem(text string, tokens int) *SnapshotBuilder {
	b.snap.System = text
	b.snap.SystemTokens = tokens
	return b
}

func (b *SnapshotBuilder) WithConversation(items []ContextItem) *SnapshotBuilder {
	b.snap.Conversation = copyItems(items)
	return b
}

func (b *SnapshotBuilder) WithKnowledge(items []ContextItem) *SnapshotBuilder {
	b.snap.Knowledge = copyItems(items)
	return b
}

func (b *SnapshotBuilder) WithExternal(items []ContextItem) *SnapshotBuilder {
	b.snap.External = copyItems(items)
	return b
}

// MapItems applies fn to every item, keeping only items for which fn
// returns keep=true. fn receives a copy and returns the replacement.
func (b *SnapshotBuilder) MapItems(fn func(ContextItem) (ContextItem, bool)) *SnapshotBuilder {
	b.snap.Conversation = mapItems(b.snap.Conversation, fn)
	b.snap.Knowledge = mapItems(b.snap.Knowledge, fn)
	b.snap.External = mapItems(b.snap.External, fn)
	return b
}

func mapItems(items []ContextItem, fn func(ContextItem) (ContextItem, bool)) []ContextItem {
	if items == nil {
		return nil
	}
	out := make([]ContextItem, 0, len(items))
	for _, it := range items {
		if next, keep := fn(it); keep {
			out = append(out, next)
		}
	}
	return out
}

// Build finalizes the snapshot, recomputing TotalTokens.
func (b *SnapshotBuilder) Build() ContextSnapshot {
	s := b.snap
	s.TotalTokens = s.ProfileTokens + s.SystemTokens
	for _, it := range s.Items() {
		s.TotalTokens += it.Tokens
	}
	return s
}

// RelevanceResult is the scored relevance of one item. Derived, read-only,
// and discarded after use.
type RelevanceResult struct {
	ItemID  string   `json:"item_id"`
	Kind    ItemKind `json:"kind"`
	Score   float64  `json:"score"`
	Factors []Factor `json:"factors"`
}

// Factor is one weighted contribution to a relevance score.
type Factor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
}

// BudgetAllocation is the token budget assigned to one category.
type BudgetAllocation struct {
	Category  Category `json:"category"`
	Allocated int      `json:"allocated"`
	Used      int      `json:"used"`
	Remaining int      `json:"remaining"`
	Priority  int      `json:"priority"`
	Flexible  bool     `json:"flexible"`
}

// AppliedOptimization records one transformation applied by a strategy.
type AppliedOptimization struct {
	Type           string  `json:"type"` // compression, removal, summarization, filtering
	Description    string  `json:"description"`
	TokensAffected int     `json:"tokens_affected"`
	QualityImpact  float64 `json:"quality_impact"` // estimated [0,1] cost
}

// QualityMetrics compares an optimized snapshot against its original.
// Retention values are optimized-measurement / original-measurement,
// both captured before any mutation.
type QualityMetrics struct {
	RelevanceRetention    float64 `json:"relevance_retention"`
	CompletenessRetention float64 `json:"completeness_retention"`
	CriticalPreserved     bool    `json:"critical_preserved"`
	RecentPreserved       bool    `json:"recent_preserved"`
}

// OptimizationResult is the outcome of one optimization pass.
type OptimizationResult struct {
	Original        ContextSnapshot       `json:"original"`
	Optimized       ContextSnapshot       `json:"optimized"`
	Strategy        Strategy              `json:"strategy"`
	OriginalTokens  int                   `json:"original_tokens"`
	OptimizedTokens int                   `json:"optimized_tokens"`
	TokensSaved     int                   `json:"tokens_saved"`
	ReductionRatio  float64               `json:"reduction_ratio"`
	Quality         QualityMetrics        `json:"quality"`
	Applied         []AppliedOptimization `json:"applied"`
	Allocations     []BudgetAllocation    `json:"allocations,omitempty"`
	Warnings        []string              `json:"warnings,omitempty"`
	Recommendations []string              `json:"recommendations,omitempty"`
}
