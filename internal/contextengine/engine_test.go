package contextengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProfiles struct {
	profile ProfileData
	err     error
	calls   int
}

func (s *stubProfiles) FetchProfile(ctx context.Context, userID string) (ProfileData, error) {
	s.calls++
	return s.profile, s.err
}

type stubMemories struct {
	memories []MemoryRecord
	err      error
	calls    int
}

func (s *stubMemories) FetchRecentMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error) {
	s.calls++
	return s.memories, s.err
}

type stubKnowledge struct {
	records []KnowledgeRecord
	err     error
	calls   int
}

func (s *stubKnowledge) FetchKnowledge(ctx context.Context, query string, filters KnowledgeFilters) ([]KnowledgeRecord, error) {
	s.calls++
	return s.records, s.err
}

type stubSnapshotStore struct {
	snaps map[uint64]ContextSnapshot
	puts  int
}

func newStubSnapshotStore() *stubSnapshotStore {
	return &stubSnapshotStore{snaps: make(map[uint64]ContextSnapshot)}
}

func (s *stubSnapshotStore) GetSnapshot(ctx context.Context, key uint64) (ContextSnapshot, bool) {
	snap, ok := s.snaps[key]
	return snap, ok
}

func (s *stubSnapshotStore) PutSnapshot(ctx context.Context, key uint64, snap ContextSnapshot, ttl time.Duration) {
	s.puts++
	s.snaps[key] = snap
}

func newTestEngine(t *testing.T, profiles ProfileFetcher, memories MemoryFetcher, knowledge KnowledgeFetcher) *Engine {
	t.Helper()
	eng, err := NewEngine(DefaultConfig(), countByLen, profiles, memories, knowledge)
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func TestNewEngineRejectsBadWeights(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Weights.Recency = 0.9
	_, err := NewEngine(cfg, countByLen, nil, nil, nil)
	require.Error(t, err)
}

func TestBuildContextHappyPath(t *testing.T) {
	t.Parallel()

	now := time.Now()
	profiles := &stubProfiles{profile: ProfileData{UserID: "u1", AcademicLevel: "undergraduate", StreakDays: 3}}
	memories := &stubMemories{memories: []MemoryRecord{
		{ID: "m1", Content: "reviewed limits", RelevanceScore: 0.7, Timestamp: now.Add(-time.Hour)},
	}}
	eng := newTestEngine(t, profiles, memories, &stubKnowledge{})

	snap := eng.BuildContext(context.Background(), "u1", LevelRecent, 0, BuildOptions{})

	assert.False(t, snap.Fallback)
	assert.Contains(t, snap.Profile, "undergraduate")
	assert.Len(t, snap.Conversation, 1)
	assert.Equal(t, 1, profiles.calls)
	assert.Equal(t, 1, memories.calls)
	require.NoError(t, snap.Validate())
}

func TestBuildContextFallsBackOnProfileError(t *testing.T) {
	t.Parallel()

	profiles := &stubProfiles{err: errors.New("db down")}
	eng := newTestEngine(t, profiles, &stubMemories{}, &stubKnowledge{})

	snap := eng.BuildContext(context.Background(), "u1", LevelFull, 0, BuildOptions{})

	assert.True(t, snap.Fallback)
	assert.NotEmpty(t, snap.Profile)
	assert.Empty(t, snap.Conversation)
}

func TestBuildContextToleratesMemoryAndKnowledgeErrors(t *testing.T) {
	t.Parallel()

	profiles := &stubProfiles{profile: ProfileData{UserID: "u1", AcademicLevel: "hs"}}
	memories := &stubMemories{err: errors.New("redis down")}
	knowledge := &stubKnowledge{err: errors.New("index offline")}
	eng := newTestEngine(t, profiles, memories, knowledge)

	snap := eng.BuildContext(context.Background(), "u1", LevelFull, 0, BuildOptions{})

	assert.False(t, snap.Fallback, "degraded sections must not force the fallback snapshot")
	assert.Empty(t, snap.Conversation)
	assert.Empty(t, snap.Knowledge)
}

func TestBuildContextSkipsFetchersPerLevel(t *testing.T) {
	t.Parallel()

	profiles := &stubProfiles{profile: ProfileData{UserID: "u1"}}
	memories := &stubMemories{}
	knowledge := &stubKnowledge{}
	eng := newTestEngine(t, profiles, memories, knowledge)

	eng.BuildContext(context.Background(), "u1", LevelLight, 0, BuildOptions{SkipCache: true})
	assert.Equal(t, 0, memories.calls)
	assert.Equal(t, 0, knowledge.calls)

	eng.BuildContext(context.Background(), "u1", LevelRecent, 0, BuildOptions{SkipCache: true})
	assert.Equal(t, 1, memories.calls)
	assert.Equal(t, 0, knowledge.calls)

	eng.BuildContext(context.Background(), "u1", LevelSelective, 0, BuildOptions{SkipCache: true})
	assert.Equal(t, 2, memories.calls)
	assert.Equal(t, 1, knowledge.calls)
}

func TestBuildContextCachesSecondCall(t *testing.T) {
	t.Parallel()

	profiles := &stubProfiles{profile: ProfileData{UserID: "u1", AcademicLevel: "hs"}}
	eng := newTestEngine(t, profiles, &stubMemories{}, &stubKnowledge{})

	first := eng.BuildContext(context.Background(), "u1", LevelLight, 0, BuildOptions{Query: "algebra"})
	second := eng.BuildContext(context.Background(), "u1", LevelLight, 0, BuildOptions{Query: "algebra"})

	assert.Equal(t, 1, profiles.calls, "second call must be served from cache")
	assert.Equal(t, first, second)
}

func TestBuildContextSkipCacheRefetches(t *testing.T) {
	t.Parallel()

	profiles := &stubProfiles{profile: ProfileData{UserID: "u1"}}
	eng := newTestEngine(t, profiles, &stubMemories{}, &stubKnowledge{})

	eng.BuildContext(context.Background(), "u1", LevelLight, 0, BuildOptions{SkipCache: true})
	eng.BuildContext(context.Background(), "u1", LevelLight, 0, BuildOptions{SkipCache: true})
	assert.Equal(t, 2, profiles.calls)
}

func TestBuildContextUsesSnapshotStoreOnMiss(t *testing.T) {
	t.Parallel()

	profiles := &stubProfiles{profile: ProfileData{UserID: "u1"}}
	eng := newTestEngine(t, profiles, &stubMemories{}, &stubKnowledge{})

	store := newStubSnapshotStore()
	want := NewSnapshot(ContextSnapshot{UserID: "u1", Level: LevelLight}).
		WithProfile("from l2", 3).
		Build()
	key := CacheKey("u1", LevelLight, "", OptimizeOptions{})
	store.snaps[key] = want
	eng.WithSnapshotStore(store)

	got := eng.BuildContext(context.Background(), "u1", LevelLight, 0, BuildOptions{})

	assert.Equal(t, "from l2", got.Profile)
	assert.Equal(t, 0, profiles.calls)
}

func TestBuildContextWritesThroughToSnapshotStore(t *testing.T) {
	t.Parallel()

	profiles := &stubProfiles{profile: ProfileData{UserID: "u1"}}
	eng := newTestEngine(t, profiles, &stubMemories{}, &stubKnowledge{})
	store := newStubSnapshotStore()
	eng.WithSnapshotStore(store)

	eng.BuildContext(context.Background(), "u1", LevelLight, 0, BuildOptions{})
	assert.Equal(t, 1, store.puts)
}

func TestBuildContextOptimizesWhenOverBudget(t *testing.T) {
	t.Parallel()

	now := time.Now()
	long := make([]MemoryRecord, 10)
	for i := range long {
		long[i] = MemoryRecord{
			ID:        string(rune('a' + i)),
			Content:   "A fairly long memory entry about practice problems and review sessions from earlier in the month.",
			Timestamp: now.Add(-72 * time.Hour),
		}
	}
	profiles := &stubProfiles{profile: ProfileData{UserID: "u1", AcademicLevel: "hs"}}
	eng := newTestEngine(t, profiles, &stubMemories{memories: long}, &stubKnowledge{})

	snap := eng.BuildContext(context.Background(), "u1", LevelRecent, 60, BuildOptions{
		Strategy: StrategyTruncation,
	})

	assert.LessOrEqual(t, snap.TotalTokens, 60)
	require.NoError(t, snap.Validate())
}

func TestBuildContextNormalizesInvalidLevel(t *testing.T) {
	t.Parallel()

	profiles := &stubProfiles{profile: ProfileData{UserID: "u1"}}
	eng := newTestEngine(t, profiles, &stubMemories{}, &stubKnowledge{})

	snap := eng.BuildContext(context.Background(), "u1", Level("bogus"), 0, BuildOptions{})
	assert.Equal(t, LevelRecent, snap.Level)
}

func TestOptimizeContextAppliesDefaultThreshold(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, &stubProfiles{}, &stubMemories{}, &stubKnowledge{})
	now := time.Now()
	snap := NewSnapshot(ContextSnapshot{UserID: "u1", Level: LevelRecent, CreatedAt: now}).
		WithConversation([]ContextItem{
			{ID: "keep", Kind: KindConversation, Content: "recent and relevant", Tokens: 30, Timestamp: now, Quality: 0.9, Importance: TierImportant},
			{ID: "drop", Kind: KindConversation, Content: "old filler", Tokens: 30, Timestamp: now.Add(-80 * time.Hour), Quality: 0.1, Importance: TierSupplementary},
		}).
		Build()

	res := eng.OptimizeContext(snap, 35, OptimizeOptions{Strategy: StrategyRelevanceFiltering})
	assert.LessOrEqual(t, res.OptimizedTokens, 35)
	assert.Len(t, res.Optimized.Conversation, 1)
	assert.Equal(t, "keep", res.Optimized.Conversation[0].ID)
}

func TestScoreRelevanceCoversAllItems(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, &stubProfiles{}, &stubMemories{}, &stubKnowledge{})
	now := time.Now()
	snap := NewSnapshot(ContextSnapshot{UserID: "u1", CreatedAt: now}).
		WithConversation([]ContextItem{{ID: "c1", Kind: KindConversation, Content: "calculus drill", Tokens: 4, Timestamp: now}}).
		WithKnowledge([]ContextItem{{ID: "k1", Kind: KindKnowledge, Content: "chain rule", Tokens: 3, Timestamp: now}}).
		Build()

	results := eng.ScoreRelevance(snap, "calculus")
	require.Len(t, results, 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.NotEmpty(t, r.Factors)
	}
}

type flakyProfiles struct {
	profile  ProfileData
	failures int
	calls    int
}

func (s *flakyProfiles) FetchProfile(ctx context.Context, userID string) (ProfileData, error) {
	s.calls++
	if s.calls <= s.failures {
		return ProfileData{}, errors.New("db down")
	}
	return s.profile, nil
}

func TestBuildContextDoesNotCacheFallback(t *testing.T) {
	t.Parallel()

	profiles := &flakyProfiles{profile: ProfileData{UserID: "u1", AcademicLevel: "undergraduate"}, failures: 1}
	store := newStubSnapshotStore()
	eng := newTestEngine(t, profiles, &stubMemories{}, &stubKnowledge{})
	eng.WithSnapshotStore(store)

	first := eng.BuildContext(context.Background(), "u1", LevelRecent, 0, BuildOptions{})
	assert.True(t, first.Fallback)
	assert.Zero(t, store.puts)

	// Once the profile store recovers, the very next request rebuilds a
	// real context instead of serving the degraded one from cache.
	second := eng.BuildContext(context.Background(), "u1", LevelRecent, 0, BuildOptions{})
	assert.False(t, second.Fallback)
	assert.Contains(t, second.Profile, "undergraduate")
	assert.Equal(t, 2, profiles.calls)
	assert.Equal(t, 1, store.puts)
}
