package contextengine

import (
	"context"
	"log/slog"
	"time"
)

// Config tunes the engine. Zero values fall back to documented defaults.
type Config struct {
	Weights            FactorWeights
	RelevanceThreshold float64
	Aggressiveness     Aggressiveness
	CacheTTL           time.Duration
	CacheCapacity      int
	SweepInterval      time.Duration
	MemoryLimit        int // max memories fetched per build
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		RelevanceThreshold: defaultRelevanceThreshold,
		Aggressiveness:     AggressivenessStandard,
		CacheTTL:           defaultCacheTTL,
		CacheCapacity:      defaultCacheCapacity,
		SweepInterval:      defaultSweepInterval,
		MemoryLimit:        20,
	}
}

// BuildOptions configures one BuildContext call.
type BuildOptions struct {
	Query          string         `json:"query,omitempty"`
	Strategy       Strategy       `json:"strategy,omitempty"`
	BudgetStrategy BudgetStrategy `json:"budget_strategy,omitempty"`
	Preserve       PreserveFlags  `json:"preserve"`
	SkipCache      bool           `json:"skip_cache,omitempty"`
}

// SnapshotStore is an optional second-level cache for built snapshots
// (e.g. redis). The in-process ResultCache remains authoritative for
// latency; this store is best-effort and its errors are ignored.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, key uint64) (ContextSnapshot, bool)
	PutSnapshot(ctx context.Context, key uint64, snap ContextSnapshot, ttl time.Duration)
}

// Engine assembles, scores, and optimizes contexts. Construct it once at
// process start with injected fetchers; it owns its cache and the cache's
// sweep goroutine.
type Engine struct {
	cfg       Config
	profiles  ProfileFetcher
	memories  MemoryFetcher
	knowledge KnowledgeFetcher

	builder   *LevelBuilder
	scorer    Scorer
	allocator *BudgetAllocator
	optimizer *Optimizer
	cache     *ResultCache
	l2        SnapshotStore

	countTokens TokenCounter
	now         func() time.Time
}

// NewEngine validates the configuration and wires the engine. The weight
// sum invariant is enforced here, at startup.
func NewEngine(cfg Config, count TokenCounter, profiles ProfileFetcher, memories MemoryFetcher, knowledge KnowledgeFetcher) (*Engine, error) {
	if cfg.Weights == (FactorWeights{}) {
		cfg.Weights = DefaultWeights()
	}
	scorer, err := NewLexicalScorer(cfg.Weights)
	if err != nil {
		return nil, err
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = defaultRelevanceThreshold
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = 20
	}

	allocator := NewBudgetAllocator(scorer)
	return &Engine{
		cfg:         cfg,
		profiles:    profiles,
		memories:    memories,
		knowledge:   knowledge,
		builder:     NewLevelBuilder(count, cfg.Aggressiveness),
		scorer:      scorer,
		allocator:   allocator,
		optimizer:   NewOptimizer(scorer, allocator, count, cfg.Aggressiveness),
		cache:       NewResultCache(cfg.CacheTTL, cfg.CacheCapacity, cfg.SweepInterval),
		countTokens: count,
		now:         time.Now,
	}, nil
}

// WithSnapshotStore attaches an optional L2 snapshot store.
func (e *Engine) WithSnapshotStore(store SnapshotStore) *Engine {
	e.l2 = store
	return e
}

// Close releases the cache sweep goroutine.
func (e *Engine) Close() {
	e.cache.Stop()
}

// Cache exposes cache statistics for observability endpoints.
func (e *Engine) Cache() *ResultCache { return e.cache }

// BuildContext assembles a context for the user at the requested level,
// optimizing it down to maxTokens when needed. It never fails: upstream
// fetch errors degrade to a minimal fallback snapshot.
func (e *Engine) BuildContext(ctx context.Context, userID string, level Level, maxTokens int, opts BuildOptions) ContextSnapshot {
	if !level.Valid() {
		level = LevelRecent
	}
	if maxTokens <= 0 {
		maxTokens = level.Spec().MaxTokens
	}

	optOpts := OptimizeOptions{
		Strategy:           opts.Strategy,
		BudgetStrategy:     opts.BudgetStrategy,
		Preserve:           opts.Preserve,
		RelevanceThreshold: e.cfg.RelevanceThreshold,
		Query:              opts.Query,
	}
	key := CacheKey(userID, level, opts.Query, optOpts)

	if !opts.SkipCache {
		if cached, ok := e.cache.Get(key); ok {
			return cached.Snapshot
		}
		if e.l2 != nil {
			if snap, ok := e.l2.GetSnapshot(ctx, key); ok {
				e.cache.Put(key, CachedResult{Snapshot: snap}, 0)
				return snap
			}
		}
	}

	now := e.now()
	raw, ok := e.fetchRaw(ctx, userID, opts.Query, level)
	var snap ContextSnapshot
	if !ok {
		snap = e.builder.BuildFallback(userID, level, now)
	} else {
		snap = e.builder.Build(userID, level, raw, now)
	}

	var result *OptimizationResult
	if snap.TotalTokens > maxTokens {
		r := e.optimizer.Optimize(snap, maxTokens, optOpts, now)
		snap = r.Optimized
		result = &r
	}

	// Fallback snapshots are never cached; once upstream data recovers
	// the very next request rebuilds a real context.
	if !snap.Fallback {
		e.cache.Put(key, CachedResult{Snapshot: snap, Result: result}, 0)
		if e.l2 != nil {
			e.l2.PutSnapshot(ctx, key, snap, e.cfg.CacheTTL)
		}
	}
	return snap
}

// fetchRaw gathers upstream data, tolerating partial failures. Only a
// failed profile fetch forces the fallback snapshot; missing memories or
// knowledge simply leave their sections empty.
func (e *Engine) fetchRaw(ctx context.Context, userID, query string, level Level) (RawContextData, bool) {
	raw := RawContextData{SystemStatus: "status: ok"}

	if e.profiles == nil {
		return raw, false
	}
	profile, err := e.profiles.FetchProfile(ctx, userID)
	if err != nil {
		slog.Warn("profile unavailable, building fallback context", "user_id", userID, "error", err)
		return raw, false
	}
	raw.Profile = profile

	if e.memories != nil && level != LevelLight {
		memories, err := e.memories.FetchRecentMemories(ctx, userID, e.cfg.MemoryLimit)
		if err != nil {
			slog.Warn("memories unavailable", "user_id", userID, "error", err)
		} else {
			raw.Memories = memories
		}
	}

	if e.knowledge != nil && (level == LevelSelective || level == LevelFull) {
		records, err := e.knowledge.FetchKnowledge(ctx, query, KnowledgeFilters{Limit: knowledgeLimit(level)})
		if err != nil {
			slog.Warn("knowledge unavailable", "user_id", userID, "error", err)
		} else {
			raw.Knowledge = records
		}
	}

	return raw, true
}

// OptimizeContext reduces an already-built snapshot to maxTokens.
func (e *Engine) OptimizeContext(snap ContextSnapshot, maxTokens int, opts OptimizeOptions) OptimizationResult {
	if opts.RelevanceThreshold <= 0 {
		opts.RelevanceThreshold = e.cfg.RelevanceThreshold
	}
	return e.optimizer.Optimize(snap, maxTokens, opts, e.now())
}

// ScoreRelevance scores every item in the snapshot against the query.
func (e *Engine) ScoreRelevance(snap ContextSnapshot, query string) []RelevanceResult {
	return ScoreSnapshot(e.scorer, snap, query, e.now())
}
