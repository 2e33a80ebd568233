package contextengine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Strategy is one of the reduction strategies applied to bring a context
// under budget.
type Strategy string

const (
	StrategyCompression        Strategy = "compression"
	StrategyTruncation         Strategy = "truncation"
	StrategySummarization      Strategy = "summarization"
	StrategyRelevanceFiltering Strategy = "relevance_filtering"
	StrategyHierarchical       Strategy = "hierarchical"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyCompression, StrategyTruncation, StrategySummarization,
		StrategyRelevanceFiltering, StrategyHierarchical:
		return true
	}
	return false
}

// PreserveFlags pin classes of items against removal.
type PreserveFlags struct {
	Critical bool `json:"critical"`
	Recent   bool `json:"recent"` // items younger than recentWindow
}

// OptimizeOptions configures one optimization pass. Zero values fall back
// to documented defaults.
type OptimizeOptions struct {
	Strategy           Strategy       `json:"strategy"`
	BudgetStrategy     BudgetStrategy `json:"budget_strategy"`
	Preserve           PreserveFlags  `json:"preserve"`
	RelevanceThreshold float64        `json:"relevance_threshold"` // default 0.5
	Query              string         `json:"query,omitempty"`
}

const (
	defaultRelevanceThreshold = 0.5
	recentWindow              = 2 * time.Hour
	staleConversationAge      = 24 * time.Hour
	expiredConversationAge    = 7 * 24 * time.Hour
	highReliability           = 0.8
	lowReliability            = 0.5
	lowExternalQuality        = 0.4
)

// Optimizer reduces a snapshot to fit a token budget. An internal failure
// in any strategy yields the original snapshot with zero reduction and a
// warning; the caller always receives a usable context.
type Optimizer struct {
	scorer         Scorer
	allocator      *BudgetAllocator
	countTokens    TokenCounter
	aggressiveness Aggressiveness
}

// NewOptimizer wires an optimizer from its collaborators.
func NewOptimizer(scorer Scorer, allocator *BudgetAllocator, count TokenCounter, aggressiveness Aggressiveness) *Optimizer {
	if aggressiveness == "" {
		aggressiveness = AggressivenessStandard
	}
	return &Optimizer{
		scorer:         scorer,
		allocator:      allocator,
		countTokens:    count,
		aggressiveness: aggressiveness,
	}
}

// baseline captures original-snapshot measurements before any mutation,
// so retention metrics never reference degraded data.
type baseline struct {
	tokens       int
	itemCount    int
	avgRelevance float64
	criticalIDs  []string
	recentIDs    []string
}

func (o *Optimizer) captureBaseline(snap ContextSnapshot, query string, now time.Time) baseline {
	items := snap.Items()
	b := baseline{tokens: snap.TotalTokens, itemCount: len(items)}
	total := 0.0
	for _, it := range items {
		total += o.scorer.Score(it, query, now).Score
		if it.Importance == TierCritical || it.HasTag("critical") {
			b.criticalIDs = append(b.criticalIDs, it.ID)
		}
		if now.Sub(it.Timestamp) < recentWindow {
			b.recentIDs = append(b.recentIDs, it.ID)
		}
	}
	if len(items) > 0 {
		b.avgRelevance = total / float64(len(items))
	}
	return b
}

// Optimize applies the configured strategy. If the snapshot is already
// within budget it passes through unchanged with reductionRatio == 0.
func (o *Optimizer) Optimize(snap ContextSnapshot, maxTokens int, opts OptimizeOptions, now time.Time) OptimizationResult {
	if opts.Strategy == "" || !opts.Strategy.Valid() {
		opts.Strategy = StrategyHierarchical
	}
	if opts.RelevanceThreshold <= 0 {
		opts.RelevanceThreshold = defaultRelevanceThreshold
	}

	result := OptimizationResult{
		Original:        snap,
		Optimized:       snap,
		Strategy:        opts.Strategy,
		OriginalTokens:  snap.TotalTokens,
		OptimizedTokens: snap.TotalTokens,
		Quality: QualityMetrics{
			RelevanceRetention:    1,
			CompletenessRetention: 1,
			CriticalPreserved:     true,
			RecentPreserved:       true,
		},
	}

	if snap.TotalTokens <= maxTokens {
		return result
	}

	base := o.captureBaseline(snap, opts.Query, now)

	if o.allocator != nil {
		allocs, overrun := o.allocator.Allocate(snap, maxTokens, opts.BudgetStrategy, now)
		result.Allocations = allocs
		if overrun {
			result.Warnings = append(result.Warnings, "budget allocation exceeds total budget; applying reduction")
		}
	}

	optimized, applied, warnings, err := o.runStrategy(snap, maxTokens, opts, now)
	if err != nil {
		// Strategy failure: return the original snapshot unchanged with
		// the condition surfaced as a warning, never an error.
		slog.Warn("optimization strategy failed, returning original snapshot",
			"strategy", string(opts.Strategy), "error", err)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("strategy %s failed: %v; original context returned over budget", opts.Strategy, err))
		return result
	}

	result.Optimized = optimized
	result.OptimizedTokens = optimized.TotalTokens
	result.TokensSaved = snap.TotalTokens - optimized.TotalTokens
	if snap.TotalTokens > 0 {
		result.ReductionRatio = float64(result.TokensSaved) / float64(snap.TotalTokens)
	}
	result.Applied = applied
	result.Warnings = append(result.Warnings, warnings...)
	result.Quality = o.measureQuality(base, optimized, opts.Query, now)
	result.Recommendations = recommend(result, maxTokens)
	return result
}

// runStrategy executes one strategy, converting panics into errors so a
// buggy transform can never abort the caller's request.
func (o *Optimizer) runStrategy(snap ContextSnapshot, maxTokens int, opts OptimizeOptions, now time.Time) (optimized ContextSnapshot, applied []AppliedOptimization, warnings []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()

	switch opts.Strategy {
	case StrategyCompression:
		optimized, applied = o.compress(snap, maxTokens)
		if optimized.TotalTokens > maxTokens {
			warnings = append(warnings, "compression insufficient: result remains over budget")
		}
	case StrategyTruncation:
		optimized, applied, warnings = o.truncate(snap, maxTokens, opts, now)
	case StrategySummarization:
		optimized, applied = o.summarize(snap)
		optimized, applied, warnings = o.enforceBudget(optimized, maxTokens, opts, now, applied)
	case StrategyRelevanceFiltering:
		optimized, applied = o.filterByRelevance(snap, opts, now)
		optimized, applied, warnings = o.enforceBudget(optimized, maxTokens, opts, now, applied)
	case StrategyHierarchical:
		optimized, applied, warnings = o.hierarchical(snap, maxTokens, opts, now)
	}
	return optimized, applied, warnings, nil
}

// compress shrinks item text in place without removing any item. Critical
// content is compressed lightest; lower tiers take aggressive passes.
func (o *Optimizer) compress(snap ContextSnapshot, maxTokens int) (ContextSnapshot, []AppliedOptimization) {
	ratio := float64(maxTokens) / float64(snap.TotalTokens)
	if ratio > 1 {
		ratio = 1
	}

	var applied []AppliedOptimization
	affected := 0

	b := NewSnapshot(snap).MapItems(func(it ContextItem) (ContextItem, bool) {
		target := int(float64(len(it.Content)) * tierRatio(it.Importance, ratio))
		if target >= len(it.Content) || target <= 0 {
			return it, true
		}
		before := it.Tokens
		it.Content = CompressText(it.Content, target, tierAggressiveness(it.Importance))
		it.Tokens = o.countTokens(it.Content)
		affected += before - it.Tokens
		return it, true
	})

	// Profile and system text compress at the standard level.
	profile := CompressText(snap.Profile, int(float64(len(snap.Profile))*ratio), o.aggressiveness)
	b.WithProfile(profile, o.countTokens(profile))

	out := b.Build()
	if affected > 0 || out.ProfileTokens < snap.ProfileTokens {
		applied = append(applied, AppliedOptimization{
			Type:           "compression",
			Description:    "per-item lossy text compression scaled by importance tier",
			TokensAffected: snap.TotalTokens - out.TotalTokens,
			QualityImpact:  0.1,
		})
	}
	return out, applied
}

// tierRatio gives higher tiers a gentler compression target.
func tierRatio(tier ImportanceTier, ratio float64) float64 {
	switch tier {
	case TierCritical:
		return minf(1, ratio*1.5)
	case TierImportant:
		return minf(1, ratio*1.2)
	case TierContextual:
		return ratio
	default:
		return ratio * 0.7
	}
}

func tierAggressiveness(tier ImportanceTier) Aggressiveness {
	switch tier {
	case TierCritical:
		return AggressivenessLight
	case TierImportant:
		return AggressivenessStandard
	default:
		return AggressivenessAggressive
	}
}

// truncate removes whole items lowest-priority-first until the snapshot
// fits or no removable items remain.
func (o *Optimizer) truncate(snap ContextSnapshot, maxTokens int, opts OptimizeOptions, now time.Time) (ContextSnapshot, []AppliedOptimization, []string) {
	return o.enforceBudget(snap, maxTokens, opts, now, nil)
}

// removalPriority orders items for truncation: lower importance tier,
// older, lower quality items go first.
func (o *Optimizer) removalPriority(it ContextItem, now time.Time) float64 {
	score := float64(it.Importance.Priority())
	score += recencyFactor(it.Timestamp, now)
	score += it.Quality
	return score
}

func isPreserved(it ContextItem, opts OptimizeOptions, now time.Time) bool {
	if opts.Preserve.Critical && (it.Importance == TierCritical || it.HasTag("critical")) {
		return true
	}
	if opts.Preserve.Recent && now.Sub(it.Timestamp) < recentWindow {
		return true
	}
	return false
}

// enforceBudget drops the lowest-priority removable items until the
// snapshot fits. When every removable item is gone and the snapshot is
// still over budget, a second extreme-pressure pass removes preserved
// items too and attaches a warning.
func (o *Optimizer) enforceBudget(snap ContextSnapshot, maxTokens int, opts OptimizeOptions, now time.Time, applied []AppliedOptimization) (ContextSnapshot, []AppliedOptimization, []string) {
	if snap.TotalTokens <= maxTokens {
		return snap, applied, nil
	}

	type candidate struct {
		id       string
		tokens   int
		priority float64
	}
	var removable, preserved []candidate
	for _, it := range snap.Items() {
		c := candidate{id: it.ID, tokens: it.Tokens, priority: o.removalPriority(it, now)}
		if isPreserved(it, opts, now) {
			preserved = append(preserved, c)
		} else {
			removable = append(removable, c)
		}
	}
	sort.Slice(removable, func(i, j int) bool { return removable[i].priority < removable[j].priority })
	sort.Slice(preserved, func(i, j int) bool { return preserved[i].priority < preserved[j].priority })

	remove := make(map[string]bool)
	total := snap.TotalTokens
	removedTokens, removedCount := 0, 0
	for _, c := range removable {
		if total <= maxTokens {
			break
		}
		remove[c.id] = true
		total -= c.tokens
		removedTokens += c.tokens
		removedCount++
	}

	var warnings []string
	if total > maxTokens && len(preserved) > 0 {
		for _, c := range preserved {
			if total <= maxTokens {
				break
			}
			remove[c.id] = true
			total -= c.tokens
			removedTokens += c.tokens
			removedCount++
		}
		warnings = append(warnings, "extreme budget pressure: preserved items removed to satisfy token ceiling")
	}
	if total > maxTokens {
		warnings = append(warnings, "token ceiling unsatisfiable: fixed profile/system sections exceed the budget")
	}

	if removedCount == 0 {
		return snap, applied, warnings
	}

	out := NewSnapshot(snap).MapItems(func(it ContextItem) (ContextItem, bool) {
		return it, !remove[it.ID]
	}).Build()

	applied = append(applied, AppliedOptimization{
		Type:           "removal",
		Description:    fmt.Sprintf("removed %d lowest-priority items", removedCount),
		TokensAffected: removedTokens,
		QualityImpact:  0.3,
	})
	return out, applied, warnings
}

// conversation and knowledge marker words for extractive summarization.
var (
	conversationMarkers = []string{"important", "key", "note"}
	knowledgeMarkers    = []string{"defined as", "definition", "means", "refers to"}
)

// summarize replaces each item's text with an extractive summary: first
// sentence, last sentence, and up to two marker sentences in between.
func (o *Optimizer) summarize(snap ContextSnapshot) (ContextSnapshot, []AppliedOptimization) {
	affected, count := 0, 0

	out := NewSnapshot(snap).MapItems(func(it ContextItem) (ContextItem, bool) {
		markers := conversationMarkers
		if it.Kind == KindKnowledge {
			markers = knowledgeMarkers
		}
		summary := extractiveSummary(it.Content, markers)
		if summary == it.Content {
			return it, true
		}
		before := it.Tokens
		it.Content = summary
		it.Tokens = o.countTokens(summary)
		affected += before - it.Tokens
		count++
		return it, true
	}).Build()

	var applied []AppliedOptimization
	if count > 0 {
		applied = append(applied, AppliedOptimization{
			Type:           "summarization",
			Description:    fmt.Sprintf("extractive summaries for %d items", count),
			TokensAffected: affected,
			QualityImpact:  0.2,
		})
	}
	return out, applied
}

func extractiveSummary(text string, markers []string) string {
	sentences := splitSentences(text)
	if len(sentences) <= 2 {
		return text
	}

	kept := []string{sentences[0]}
	middle := sentences[1 : len(sentences)-1]
	added := 0
	for _, s := range middle {
		if added >= 2 {
			break
		}
		lowered := strings.ToLower(s)
		for _, m := range markers {
			if strings.Contains(lowered, m) {
				kept = append(kept, s)
				added++
				break
			}
		}
	}
	kept = append(kept, sentences[len(sentences)-1])
	return strings.Join(kept, " ")
}

// filterByRelevance scores every item and drops those below the
// threshold. Preserved items survive regardless of score.
func (o *Optimizer) filterByRelevance(snap ContextSnapshot, opts OptimizeOptions, now time.Time) (ContextSnapshot, []AppliedOptimization) {
	dropped, droppedTokens := 0, 0

	out := NewSnapshot(snap).MapItems(func(it ContextItem) (ContextItem, bool) {
		if isPreserved(it, opts, now) {
			return it, true
		}
		if o.scorer.Score(it, opts.Query, now).Score < opts.RelevanceThreshold {
			dropped++
			droppedTokens += it.Tokens
			return it, false
		}
		return it, true
	}).Build()

	var applied []AppliedOptimization
	if dropped > 0 {
		applied = append(applied, AppliedOptimization{
			Type:           "filtering",
			Description:    fmt.Sprintf("dropped %d items below relevance %.2f", dropped, opts.RelevanceThreshold),
			TokensAffected: droppedTokens,
			QualityImpact:  0.15,
		})
	}
	return out, applied
}

// hierarchical applies a fixed ordered rule list, stopping as soon as the
// budget is satisfied. Rules move from least to most lossy; a final
// enforcement pass backstops pathological inputs.
func (o *Optimizer) hierarchical(snap ContextSnapshot, maxTokens int, opts OptimizeOptions, now time.Time) (ContextSnapshot, []AppliedOptimization, []string) {
	// The first two rules pin critical and very recent items for the rest
	// of the pass.
	ruleOpts := opts
	ruleOpts.Preserve.Critical = true
	ruleOpts.Preserve.Recent = true

	current := snap
	var applied []AppliedOptimization

	type rule struct {
		name string
		run  func(ContextSnapshot) (ContextSnapshot, *AppliedOptimization)
	}
	rules := []rule{
		{"compress profile", func(s ContextSnapshot) (ContextSnapshot, *AppliedOptimization) {
			target := len(s.Profile) / 2
			compressed := CompressText(s.Profile, target, AggressivenessAggressive)
			if compressed == s.Profile {
				return s, nil
			}
			before := s.ProfileTokens
			out := NewSnapshot(s).WithProfile(compressed, o.countTokens(compressed)).Build()
			return out, &AppliedOptimization{
				Type: "compression", Description: "compressed user profile lists",
				TokensAffected: before - out.ProfileTokens, QualityImpact: 0.05,
			}
		}},
		{"summarize stale conversation", func(s ContextSnapshot) (ContextSnapshot, *AppliedOptimization) {
			affected, count := 0, 0
			out := NewSnapshot(s).MapItems(func(it ContextItem) (ContextItem, bool) {
				if it.Kind != KindConversation || now.Sub(it.Timestamp) < staleConversationAge {
					return it, true
				}
				summary := extractiveSummary(it.Content, conversationMarkers)
				if summary == it.Content {
					return it, true
				}
				before := it.Tokens
				it.Content = summary
				it.Tokens = o.countTokens(summary)
				affected += before - it.Tokens
				count++
				return it, true
			}).Build()
			if count == 0 {
				return s, nil
			}
			return out, &AppliedOptimization{
				Type: "summarization", Description: fmt.Sprintf("summarized %d conversation items older than a day", count),
				TokensAffected: affected, QualityImpact: 0.15,
			}
		}},
		{"compress reliable knowledge", func(s ContextSnapshot) (ContextSnapshot, *AppliedOptimization) {
			affected, count := 0, 0
			out := NewSnapshot(s).MapItems(func(it ContextItem) (ContextItem, bool) {
				if it.Kind != KindKnowledge || it.Reliability < highReliability {
					return it, true
				}
				compressed := CompressText(it.Content, len(it.Content)/2, AggressivenessStandard)
				if compressed == it.Content {
					return it, true
				}
				before := it.Tokens
				it.Content = compressed
				it.Tokens = o.countTokens(compressed)
				affected += before - it.Tokens
				count++
				return it, true
			}).Build()
			if count == 0 {
				return s, nil
			}
			return out, &AppliedOptimization{
				Type: "compression", Description: fmt.Sprintf("compressed %d high-reliability knowledge items", count),
				TokensAffected: affected, QualityImpact: 0.1,
			}
		}},
		{"remove expired conversation", func(s ContextSnapshot) (ContextSnapshot, *AppliedOptimization) {
			return o.removeWhere(s, "removed conversation older than a week", 0.2, func(it ContextItem) bool {
				return it.Kind == KindConversation &&
					now.Sub(it.Timestamp) > expiredConversationAge &&
					!isPreserved(it, ruleOpts, now)
			})
		}},
		{"remove unreliable knowledge", func(s ContextSnapshot) (ContextSnapshot, *AppliedOptimization) {
			return o.removeWhere(s, "removed knowledge below reliability threshold", 0.1, func(it ContextItem) bool {
				return it.Kind == KindKnowledge &&
					it.Reliability < lowReliability &&
					!isPreserved(it, ruleOpts, now)
			})
		}},
		{"remove low-value external", func(s ContextSnapshot) (ContextSnapshot, *AppliedOptimization) {
			return o.removeWhere(s, "removed low-value external sources", 0.1, func(it ContextItem) bool {
				return it.Kind == KindExternal &&
					it.Quality < lowExternalQuality &&
					!isPreserved(it, ruleOpts, now)
			})
		}},
	}

	for _, r := range rules {
		if current.TotalTokens <= maxTokens {
			return current, applied, nil
		}
		next, record := r.run(current)
		if record != nil {
			applied = append(applied, *record)
		}
		current = next
	}

	// Rules alone were not enough; fall through to priority removal.
	return o.enforceBudget(current, maxTokens, ruleOpts, now, applied)
}

func (o *Optimizer) removeWhere(snap ContextSnapshot, desc string, impact float64, match func(ContextItem) bool) (ContextSnapshot, *AppliedOptimization) {
	removed, removedTokens := 0, 0
	out := NewSnapshot(snap).MapItems(func(it ContextItem) (ContextItem, bool) {
		if match(it) {
			removed++
			removedTokens += it.Tokens
			return it, false
		}
		return it, true
	}).Build()
	if removed == 0 {
		return snap, nil
	}
	return out, &AppliedOptimization{
		Type:           "removal",
		Description:    fmt.Sprintf("%s (%d items)", desc, removed),
		TokensAffected: removedTokens,
		QualityImpact:  impact,
	}
}

// measureQuality compares the optimized snapshot against the baseline
// captured before mutation.
func (o *Optimizer) measureQuality(base baseline, optimized ContextSnapshot, query string, now time.Time) QualityMetrics {
	items := optimized.Items()
	m := QualityMetrics{RelevanceRetention: 1, CompletenessRetention: 1, CriticalPreserved: true, RecentPreserved: true}

	if base.avgRelevance > 0 {
		total := 0.0
		for _, it := range items {
			total += o.scorer.Score(it, query, now).Score
		}
		avg := 0.0
		if len(items) > 0 {
			avg = total / float64(len(items))
		}
		m.RelevanceRetention = minf(1, avg/base.avgRelevance)
	}
	if base.itemCount > 0 {
		m.CompletenessRetention = float64(len(items)) / float64(base.itemCount)
	}

	present := make(map[string]bool, len(items))
	for _, it := range items {
		present[it.ID] = true
	}
	for _, id := range base.criticalIDs {
		if !present[id] {
			m.CriticalPreserved = false
			break
		}
	}
	for _, id := range base.recentIDs {
		if !present[id] {
			m.RecentPreserved = false
			break
		}
	}
	return m
}

func recommend(result OptimizationResult, maxTokens int) []string {
	var recs []string
	if result.OptimizedTokens > maxTokens {
		recs = append(recs, "context remains over budget; consider the truncation strategy or a smaller level")
	}
	if result.ReductionRatio > 0.5 {
		recs = append(recs, "more than half the context was cut; a lower context level would avoid repeated heavy optimization")
	}
	if !result.Quality.CriticalPreserved {
		recs = append(recs, "critical items were removed under extreme pressure; raise maxTokens to retain them")
	}
	return recs
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
