package contextengine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Level is one of the four fixed context sizes.
type Level string

const (
	LevelLight     Level = "light"
	LevelRecent    Level = "recent"
	LevelSelective Level = "selective"
	LevelFull      Level = "full"
)

// LevelSpec is the ceiling and compression target for one level.
type LevelSpec struct {
	MaxTokens        int
	MaxChars         int
	CompressionRatio float64 // target fraction of raw text retained
}

// Spec returns the fixed size ceilings. Levels are strictly increasing.
func (l Level) Spec() LevelSpec {
	switch l {
	case LevelLight:
		return LevelSpec{MaxTokens: 50, MaxChars: 200, CompressionRatio: 0.3}
	case LevelRecent:
		return LevelSpec{MaxTokens: 150, MaxChars: 500, CompressionRatio: 0.5}
	case LevelSelective:
		return LevelSpec{MaxTokens: 300, MaxChars: 1000, CompressionRatio: 0.7}
	case LevelFull:
		return LevelSpec{MaxTokens: 500, MaxChars: 2000, CompressionRatio: 1.0}
	default:
		return LevelSpec{MaxTokens: 150, MaxChars: 500, CompressionRatio: 0.5}
	}
}

// Valid reports whether l names a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelLight, LevelRecent, LevelSelective, LevelFull:
		return true
	}
	return false
}

// RawContextData is the upstream material a level is built from.
type RawContextData struct {
	Profile      ProfileData
	Memories     []MemoryRecord
	Knowledge    []KnowledgeRecord
	SystemStatus string
}

// TokenCounter counts LLM tokens for a piece of text.
type TokenCounter func(text string) int

// LevelBuilder assembles a ContextSnapshot for a requested level. It is a
// pure function of its inputs; callers may cache results.
type LevelBuilder struct {
	countTokens    TokenCounter
	aggressiveness Aggressiveness
}

// NewLevelBuilder returns a builder using the given token counter.
func NewLevelBuilder(count TokenCounter, aggressiveness Aggressiveness) *LevelBuilder {
	if aggressiveness == "" {
		aggressiveness = AggressivenessStandard
	}
	return &LevelBuilder{countTokens: count, aggressiveness: aggressiveness}
}

// Build assembles a snapshot at the requested level. now is passed in so
// the build is deterministic for identical inputs.
func (lb *LevelBuilder) Build(userID string, level Level, raw RawContextData, now time.Time) ContextSnapshot {
	spec := level.Spec()

	profileText := lb.profileText(raw.Profile, level)
	if len(profileText) > spec.MaxChars {
		profileText = CompressText(profileText, spec.MaxChars, lb.aggressiveness)
	}

	system := raw.SystemStatus
	if system == "" {
		system = "status: ok"
	}

	b := NewSnapshot(ContextSnapshot{
		UserID:    userID,
		Level:     level,
		CreatedAt: now,
	})
	b.WithProfile(profileText, lb.countTokens(profileText))
	b.WithSystem(system, lb.countTokens(system))

	if level != LevelLight {
		b.WithConversation(lb.conversationItems(raw.Memories, level, now))
	}
	if level == LevelSelective || level == LevelFull {
		b.WithKnowledge(lb.knowledgeItems(raw.Knowledge, level))
	}

	return b.Build()
}

// BuildFallback returns the minimal safe snapshot used when upstream data
// is unavailable. The context is advisory, not mandatory, so a degraded
// snapshot beats a failed request.
func (lb *LevelBuilder) BuildFallback(userID string, level Level, now time.Time) ContextSnapshot {
	const text = "profile unavailable; assume a general-level learner"
	return NewSnapshot(ContextSnapshot{
		UserID:    userID,
		Level:     level,
		CreatedAt: now,
		Fallback:  true,
	}).
		WithProfile(text, lb.countTokens(text)).
		WithSystem("status: degraded", lb.countTokens("status: degraded")).
		Build()
}

// profileText renders the level-specific profile sections. Light carries
// only essentials and current standing; each level above it adds sections.
func (lb *LevelBuilder) profileText(p ProfileData, level Level) string {
	var sb strings.Builder

	// Essentials + current standing: every level.
	fmt.Fprintf(&sb, "Level: %s.", orUnknown(p.AcademicLevel))
	if len(p.Subjects) > 0 {
		fmt.Fprintf(&sb, " Subjects: %s.", strings.Join(p.Subjects, ", "))
	}
	fmt.Fprintf(&sb, " Streak: %d days, %d points.", p.StreakDays, p.Points)

	if level == LevelLight {
		return sb.String()
	}

	// Recent adds the 7-day activity summary.
	if p.WeeklyActivity != "" {
		fmt.Fprintf(&sb, "\nLast 7 days: %s", p.WeeklyActivity)
	}
	if level == LevelRecent {
		return sb.String()
	}

	// Selective adds performance signals.
	if len(p.Strengths) > 0 {
		fmt.Fprintf(&sb, "\nStrengths: %s.", strings.Join(p.Strengths, ", "))
	}
	if len(p.Weaknesses) > 0 {
		fmt.Fprintf(&sb, "\nWeaknesses: %s.", strings.Join(p.Weaknesses, ", "))
	}
	if level == LevelSelective {
		return sb.String()
	}

	// Full adds detailed preferences.
	if len(p.Preferences) > 0 {
		sb.WriteString("\nPreferences:")
		for _, k := range sortedKeys(p.Preferences) {
			fmt.Fprintf(&sb, " %s=%s;", k, p.Preferences[k])
		}
	}
	return sb.String()
}

func (lb *LevelBuilder) conversationItems(memories []MemoryRecord, level Level, now time.Time) []ContextItem {
	limit := memoryLimit(level)
	if len(memories) > limit {
		memories = memories[:limit]
	}
	items := make([]ContextItem, 0, len(memories))
	for _, m := range memories {
		items = append(items, ContextItem{
			ID:         m.ID,
			Kind:       KindConversation,
			Content:    m.Content,
			Tokens:     lb.countTokens(m.Content),
			Timestamp:  m.Timestamp,
			Quality:    clamp01(m.RelevanceScore),
			Importance: memoryTier(m, now),
			Tags:       m.Tags,
			Frequency:  m.References,
		})
	}
	return items
}

func (lb *LevelBuilder) knowledgeItems(records []KnowledgeRecord, level Level) []ContextItem {
	limit := knowledgeLimit(level)
	if len(records) > limit {
		records = records[:limit]
	}
	items := make([]ContextItem, 0, len(records))
	for _, r := range records {
		items = append(items, ContextItem{
			ID:          r.ID,
			Kind:        KindKnowledge,
			Content:     r.Content,
			Tokens:      lb.countTokens(r.Content),
			Timestamp:   r.UpdatedAt,
			Quality:     clamp01(r.Reliability),
			Importance:  knowledgeTier(r),
			Tags:        r.Topics,
			Reliability: r.Reliability,
		})
	}
	return items
}

// memoryLimit caps how many memories each level may carry, keeping every
// build boundedly fast.
func memoryLimit(level Level) int {
	switch level {
	case LevelRecent:
		return 5
	case LevelSelective:
		return 10
	case LevelFull:
		return 20
	default:
		return 0
	}
}

func knowledgeLimit(level Level) int {
	if level == LevelFull {
		return 10
	}
	return 5
}

func memoryTier(m MemoryRecord, now time.Time) ImportanceTier {
	for _, t := range m.Tags {
		if t == "critical" {
			return TierCritical
		}
	}
	switch {
	case m.RelevanceScore >= 0.8:
		return TierImportant
	case now.Sub(m.Timestamp) < 2*time.Hour:
		return TierImportant
	case m.RelevanceScore >= 0.5:
		return TierContextual
	default:
		return TierSupplementary
	}
}

func knowledgeTier(r KnowledgeRecord) ImportanceTier {
	switch {
	case r.VerificationStatus == "verified" && r.Reliability >= 0.9:
		return TierCritical
	case r.Reliability >= 0.8:
		return TierImportant
	case r.Reliability >= 0.5:
		return TierContextual
	default:
		return TierSupplementary
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
