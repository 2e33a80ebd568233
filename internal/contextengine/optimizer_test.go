package contextengine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countByLen is a deterministic stand-in for the tiktoken counter.
func countByLen(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

func newTestOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	scorer, err := NewLexicalScorer(DefaultWeights())
	require.NoError(t, err)
	return NewOptimizer(scorer, NewBudgetAllocator(scorer), countByLen, AggressivenessStandard)
}

func TestOptimizePassThroughWhenUnderBudget(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithProfile("profile", 10).
		WithConversation([]ContextItem{{ID: "c1", Tokens: 20}}).
		Build()

	res := o.Optimize(snap, 100, OptimizeOptions{Strategy: StrategyTruncation}, time.Now())

	assert.Equal(t, snap, res.Optimized)
	assert.Equal(t, 0.0, res.ReductionRatio)
	assert.Zero(t, res.TokensSaved)
	assert.Empty(t, res.Applied)
	assert.True(t, res.Quality.CriticalPreserved)
	assert.Equal(t, 1.0, res.Quality.RelevanceRetention)
}

func TestTruncationRemovesLowestPriorityFirst(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{
			{ID: "keep", Kind: KindConversation, Content: "a", Tokens: 40, Timestamp: now, Quality: 0.9, Importance: TierImportant},
			{ID: "drop", Kind: KindConversation, Content: "b", Tokens: 40, Timestamp: now.Add(-72 * time.Hour), Quality: 0.1, Importance: TierSupplementary},
		}).
		Build()

	res := o.Optimize(snap, 50, OptimizeOptions{Strategy: StrategyTruncation}, now)

	require.LessOrEqual(t, res.OptimizedTokens, 50)
	require.Len(t, res.Optimized.Conversation, 1)
	assert.Equal(t, "keep", res.Optimized.Conversation[0].ID)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "removal", res.Applied[0].Type)
	assert.Equal(t, 40, res.Applied[0].TokensAffected)
}

func TestTruncationPreservesCriticalItems(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{
			{ID: "crit", Kind: KindConversation, Content: "a", Tokens: 30, Timestamp: now.Add(-100 * time.Hour), Quality: 0.1, Importance: TierCritical},
			{ID: "filler1", Kind: KindConversation, Content: "b", Tokens: 40, Timestamp: now, Quality: 0.9, Importance: TierContextual},
			{ID: "filler2", Kind: KindConversation, Content: "c", Tokens: 40, Timestamp: now, Quality: 0.9, Importance: TierContextual},
		}).
		Build()

	res := o.Optimize(snap, 40, OptimizeOptions{
		Strategy: StrategyTruncation,
		Preserve: PreserveFlags{Critical: true},
	}, now)

	require.LessOrEqual(t, res.OptimizedTokens, 40)
	assert.True(t, res.Quality.CriticalPreserved)

	ids := make([]string, 0)
	for _, it := range res.Optimized.Conversation {
		ids = append(ids, it.ID)
	}
	assert.Contains(t, ids, "crit")
}

func TestTruncationExtremePressureRemovesPreserved(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{
			{ID: "c1", Kind: KindConversation, Content: "a", Tokens: 50, Timestamp: now, Importance: TierCritical},
			{ID: "c2", Kind: KindConversation, Content: "b", Tokens: 50, Timestamp: now, Importance: TierCritical},
		}).
		Build()

	res := o.Optimize(snap, 60, OptimizeOptions{
		Strategy: StrategyTruncation,
		Preserve: PreserveFlags{Critical: true},
	}, now)

	// The documented exception: hard truncation under extreme pressure may
	// remove preserved items, with the condition surfaced in warnings.
	require.LessOrEqual(t, res.OptimizedTokens, 60)
	assert.False(t, res.Quality.CriticalPreserved)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, strings.Join(res.Warnings, " "), "extreme")
}

func TestSummarizationKeepsFirstLastAndMarkerSentences(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()
	content := "We started with a recap of last week. " +
		"The middle part wandered through several side topics. " +
		"One important point is the exam format change. " +
		"Another aside about scheduling came up. " +
		"Finally we agreed on next steps."
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{{
			ID: "c1", Kind: KindConversation, Content: content,
			Tokens: countByLen(content), Timestamp: now, Quality: 0.8, Importance: TierContextual,
		}}).
		Build()

	res := o.Optimize(snap, snap.TotalTokens-5, OptimizeOptions{Strategy: StrategySummarization}, now)

	require.Len(t, res.Optimized.Conversation, 1)
	got := res.Optimized.Conversation[0].Content
	assert.Contains(t, got, "recap of last week")
	assert.Contains(t, got, "important point")
	assert.Contains(t, got, "next steps")
	assert.NotContains(t, got, "side topics")
	assert.Less(t, res.OptimizedTokens, snap.TotalTokens)

	require.NotEmpty(t, res.Applied)
	assert.Equal(t, "summarization", res.Applied[0].Type)
}

func TestRelevanceFilteringDropsLowScores(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{
			{ID: "strong", Kind: KindConversation, Content: "calculus derivatives practice", Tokens: 30, Timestamp: now, Quality: 0.9, Importance: TierImportant},
			{ID: "weak", Kind: KindConversation, Content: "unrelated chatter", Tokens: 30, Timestamp: now.Add(-80 * time.Hour), Quality: 0.1, Importance: TierSupplementary},
		}).
		Build()

	res := o.Optimize(snap, 35, OptimizeOptions{
		Strategy: StrategyRelevanceFiltering,
		Query:    "calculus derivatives",
	}, now)

	require.LessOrEqual(t, res.OptimizedTokens, 35)
	require.Len(t, res.Optimized.Conversation, 1)
	assert.Equal(t, "strong", res.Optimized.Conversation[0].ID)
	require.NotEmpty(t, res.Applied)
	assert.Equal(t, "filtering", res.Applied[0].Type)
}

func TestCompressionShortensWithoutRemoving(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()
	long := strings.Repeat("The session covered a broad range of material in depth. ", 10)
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{
			{ID: "c1", Kind: KindConversation, Content: long, Tokens: countByLen(long), Timestamp: now, Quality: 0.5, Importance: TierContextual},
			{ID: "c2", Kind: KindConversation, Content: long, Tokens: countByLen(long), Timestamp: now, Quality: 0.5, Importance: TierSupplementary},
		}).
		Build()

	res := o.Optimize(snap, snap.TotalTokens/2, OptimizeOptions{Strategy: StrategyCompression}, now)

	// Compression never removes items, only shortens them.
	require.Len(t, res.Optimized.Conversation, 2)
	assert.Less(t, res.OptimizedTokens, snap.TotalTokens)
	require.NotEmpty(t, res.Applied)
	assert.Equal(t, "compression", res.Applied[0].Type)
}

// The reference scenario: a Light-level context with 10 turns totaling 900
// tokens optimized hierarchically down to 50.
func TestHierarchicalLightLevelScenario(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()

	items := make([]ContextItem, 0, 10)
	for i := 0; i < 9; i++ {
		items = append(items, ContextItem{
			ID:         string(rune('a' + i)),
			Kind:       KindConversation,
			Content:    "an old discussion that has long since stopped mattering",
			Tokens:     98,
			Timestamp:  now.Add(-10 * 24 * time.Hour),
			Quality:    0.3,
			Importance: TierContextual,
		})
	}
	items = append(items, ContextItem{
		ID:         "crit",
		Kind:       KindConversation,
		Content:    "critical: exam moved to Monday",
		Tokens:     18,
		Timestamp:  now.Add(-30 * time.Minute),
		Quality:    0.9,
		Importance: TierCritical,
		Tags:       []string{"critical"},
	})

	snap := NewSnapshot(ContextSnapshot{UserID: "u1", Level: LevelLight}).
		WithProfile("Level: hs.", 3).
		WithSystem("ok", 1).
		WithConversation(items).
		Build()
	require.Equal(t, 900, snap.TotalTokens-4)

	res := o.Optimize(snap, 50, OptimizeOptions{
		Strategy: StrategyHierarchical,
		Preserve: PreserveFlags{Critical: true, Recent: true},
	}, now)

	assert.LessOrEqual(t, res.OptimizedTokens, 50)
	assert.True(t, res.Quality.CriticalPreserved)

	types := make(map[string]bool)
	for _, ap := range res.Applied {
		types[ap.Type] = true
	}
	assert.True(t, types["removal"] || types["summarization"],
		"expected at least one removal or summarization record, got %+v", res.Applied)
}

func TestHierarchicalStopsOnceUnderBudget(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{
			{ID: "old", Kind: KindConversation, Content: "stale", Tokens: 60, Timestamp: now.Add(-8 * 24 * time.Hour), Quality: 0.5, Importance: TierContextual},
			{ID: "new", Kind: KindConversation, Content: "fresh", Tokens: 30, Timestamp: now, Quality: 0.5, Importance: TierContextual},
		}).
		WithKnowledge([]ContextItem{
			{ID: "k", Kind: KindKnowledge, Content: "fact", Tokens: 10, Quality: 0.6, Reliability: 0.6, Importance: TierContextual},
		}).
		Build()

	res := o.Optimize(snap, 45, OptimizeOptions{Strategy: StrategyHierarchical}, now)

	// Removing week-old conversation already satisfies the budget, so the
	// later knowledge-removal rules never fire.
	assert.LessOrEqual(t, res.OptimizedTokens, 45)
	require.Len(t, res.Optimized.Knowledge, 1)
	ids := []string{}
	for _, it := range res.Optimized.Conversation {
		ids = append(ids, it.ID)
	}
	assert.NotContains(t, ids, "old")
	assert.Contains(t, ids, "new")
}

func TestStrategyFailureReturnsOriginalWithWarning(t *testing.T) {
	t.Parallel()

	scorer, err := NewLexicalScorer(DefaultWeights())
	require.NoError(t, err)
	// nil token counter makes the compression transform panic internally.
	o := NewOptimizer(scorer, nil, nil, AggressivenessStandard)

	long := strings.Repeat("text that needs shrinking badly. ", 20)
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{
			{ID: "c1", Kind: KindConversation, Content: long, Tokens: 200, Timestamp: time.Now(), Quality: 0.5, Importance: TierContextual},
		}).
		Build()

	res := o.Optimize(snap, 50, OptimizeOptions{Strategy: StrategyCompression}, time.Now())

	assert.Equal(t, snap, res.Optimized)
	assert.Equal(t, snap.TotalTokens, res.OptimizedTokens)
	assert.Equal(t, 0.0, res.ReductionRatio)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "failed")
}

func TestQualityMetricsComputedFromBaseline(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{
			{ID: "a", Kind: KindConversation, Content: "x", Tokens: 50, Timestamp: now, Quality: 0.9, Importance: TierImportant},
			{ID: "b", Kind: KindConversation, Content: "y", Tokens: 50, Timestamp: now.Add(-90 * time.Hour), Quality: 0.2, Importance: TierSupplementary},
		}).
		Build()

	res := o.Optimize(snap, 60, OptimizeOptions{Strategy: StrategyTruncation}, now)

	assert.InDelta(t, 0.5, res.Quality.CompletenessRetention, 1e-9)
	// Dropping the weakest item can only raise the surviving average, so
	// retention is capped at 1.
	assert.LessOrEqual(t, res.Quality.RelevanceRetention, 1.0)
	assert.Greater(t, res.Quality.RelevanceRetention, 0.0)
}

func TestCompressionWarnsWhenStillOverBudget(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t)
	now := time.Now()
	long := strings.Repeat("The session covered a broad range of material in depth. ", 10)
	snap := NewSnapshot(ContextSnapshot{UserID: "u1"}).
		WithConversation([]ContextItem{
			{ID: "c1", Kind: KindConversation, Content: long, Tokens: countByLen(long), Timestamp: now, Quality: 0.5, Importance: TierContextual},
		}).
		Build()

	res := o.Optimize(snap, 1, OptimizeOptions{Strategy: StrategyCompression}, now)

	assert.Greater(t, res.OptimizedTokens, 1)
	assert.Contains(t, res.Warnings, "compression insufficient: result remains over budget")
}
