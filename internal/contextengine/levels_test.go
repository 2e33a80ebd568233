package contextengine

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRawData(now time.Time) RawContextData {
	return RawContextData{
		Profile: ProfileData{
			UserID:         "u1",
			AcademicLevel:  "undergraduate",
			Subjects:       []string{"calculus", "physics"},
			Strengths:      []string{"algebra"},
			Weaknesses:     []string{"proofs"},
			StreakDays:     12,
			Points:         340,
			Preferences:    map[string]string{"style": "socratic", "pace": "fast"},
			WeeklyActivity: "6 sessions, mostly derivatives practice",
		},
		Memories: []MemoryRecord{
			{ID: "m1", Content: "struggled with the chain rule", RelevanceScore: 0.9, Timestamp: now.Add(-1 * time.Hour)},
			{ID: "m2", Content: "asked about integration by parts", RelevanceScore: 0.6, Timestamp: now.Add(-20 * time.Hour)},
		},
		Knowledge: []KnowledgeRecord{
			{ID: "k1", Content: "The chain rule composes derivatives.", Reliability: 0.95, VerificationStatus: "verified", UpdatedAt: now.Add(-48 * time.Hour)},
		},
		SystemStatus: "status: ok",
	}
}

func TestLevelSpecsStrictlyIncrease(t *testing.T) {
	t.Parallel()

	levels := []Level{LevelLight, LevelRecent, LevelSelective, LevelFull}
	for i := 1; i < len(levels); i++ {
		prev, cur := levels[i-1].Spec(), levels[i].Spec()
		assert.Greater(t, cur.MaxTokens, prev.MaxTokens)
		assert.Greater(t, cur.MaxChars, prev.MaxChars)
	}

	assert.Equal(t, 50, LevelLight.Spec().MaxTokens)
	assert.Equal(t, 200, LevelLight.Spec().MaxChars)
	assert.Equal(t, 500, LevelFull.Spec().MaxTokens)
	assert.Equal(t, 2000, LevelFull.Spec().MaxChars)
}

func TestBuildLightHasOnlyProfileEssentials(t *testing.T) {
	t.Parallel()

	lb := NewLevelBuilder(countByLen, AggressivenessStandard)
	now := time.Now()
	snap := lb.Build("u1", LevelLight, testRawData(now), now)

	assert.Contains(t, snap.Profile, "undergraduate")
	assert.Contains(t, snap.Profile, "12 days")
	assert.NotContains(t, snap.Profile, "Strengths")
	assert.NotContains(t, snap.Profile, "Last 7 days")
	assert.Empty(t, snap.Conversation)
	assert.Empty(t, snap.Knowledge)
	require.NoError(t, snap.Validate())
}

func TestBuildRecentAddsActivityAndConversation(t *testing.T) {
	t.Parallel()

	lb := NewLevelBuilder(countByLen, AggressivenessStandard)
	now := time.Now()
	snap := lb.Build("u1", LevelRecent, testRawData(now), now)

	assert.Contains(t, snap.Profile, "Last 7 days")
	assert.NotContains(t, snap.Profile, "Strengths")
	assert.Len(t, snap.Conversation, 2)
	assert.Empty(t, snap.Knowledge)
}

func TestBuildSelectiveAddsPerformanceAndKnowledge(t *testing.T) {
	t.Parallel()

	lb := NewLevelBuilder(countByLen, AggressivenessStandard)
	now := time.Now()
	snap := lb.Build("u1", LevelSelective, testRawData(now), now)

	assert.Contains(t, snap.Profile, "Strengths: algebra")
	assert.Contains(t, snap.Profile, "Weaknesses: proofs")
	assert.NotContains(t, snap.Profile, "Preferences")
	assert.Len(t, snap.Knowledge, 1)
}

func TestBuildFullAddsPreferences(t *testing.T) {
	t.Parallel()

	lb := NewLevelBuilder(countByLen, AggressivenessStandard)
	now := time.Now()
	snap := lb.Build("u1", LevelFull, testRawData(now), now)

	assert.Contains(t, snap.Profile, "Preferences:")
	assert.Contains(t, snap.Profile, "style=socratic")
	require.NoError(t, snap.Validate())
}

func TestBuildCompressesOversizedProfile(t *testing.T) {
	t.Parallel()

	lb := NewLevelBuilder(countByLen, AggressivenessAggressive)
	now := time.Now()
	raw := testRawData(now)
	raw.Profile.Subjects = []string{strings.Repeat("verylongsubjectname ", 40)}

	snap := lb.Build("u1", LevelLight, raw, now)
	assert.LessOrEqual(t, len(snap.Profile), LevelLight.Spec().MaxChars)
}

func TestBuildCapsMemoriesPerLevel(t *testing.T) {
	t.Parallel()

	lb := NewLevelBuilder(countByLen, AggressivenessStandard)
	now := time.Now()
	raw := testRawData(now)
	for i := 0; i < 30; i++ {
		raw.Memories = append(raw.Memories, MemoryRecord{
			ID: string(rune('A' + i)), Content: "filler", Timestamp: now,
		})
	}

	recent := lb.Build("u1", LevelRecent, raw, now)
	assert.Len(t, recent.Conversation, memoryLimit(LevelRecent))

	full := lb.Build("u1", LevelFull, raw, now)
	assert.Len(t, full.Conversation, memoryLimit(LevelFull))
}

func TestBuildAssignsTiers(t *testing.T) {
	t.Parallel()

	lb := NewLevelBuilder(countByLen, AggressivenessStandard)
	now := time.Now()
	raw := RawContextData{
		Profile: ProfileData{AcademicLevel: "hs"},
		Memories: []MemoryRecord{
			{ID: "crit", Content: "x", Tags: []string{"critical"}, Timestamp: now.Add(-50 * time.Hour)},
			{ID: "fresh", Content: "y", RelevanceScore: 0.2, Timestamp: now.Add(-10 * time.Minute)},
			{ID: "stale", Content: "z", RelevanceScore: 0.2, Timestamp: now.Add(-80 * time.Hour)},
		},
	}

	snap := lb.Build("u1", LevelRecent, raw, now)
	require.Len(t, snap.Conversation, 3)
	assert.Equal(t, TierCritical, snap.Conversation[0].Importance)
	assert.Equal(t, TierImportant, snap.Conversation[1].Importance)
	assert.Equal(t, TierSupplementary, snap.Conversation[2].Importance)
}

func TestBuildFallbackSnapshot(t *testing.T) {
	t.Parallel()

	lb := NewLevelBuilder(countByLen, AggressivenessStandard)
	snap := lb.BuildFallback("u1", LevelFull, time.Now())

	assert.True(t, snap.Fallback)
	assert.NotEmpty(t, snap.Profile)
	assert.Less(t, snap.TotalTokens, 30)
	require.NoError(t, snap.Validate())
}
