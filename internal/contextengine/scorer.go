package contextengine

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Scorer computes a [0,1] relevance score for a context item. The engine
// ships a lexical implementation; an embedding-based scorer can be
// substituted without touching the optimizer's control flow.
type Scorer interface {
	Score(item ContextItem, query string, now time.Time) RelevanceResult
}

// FactorWeights configures the lexical scorer. Weights must sum to 1.0.
type FactorWeights struct {
	Recency    float64
	Quality    float64
	QueryMatch float64
	Importance float64
	Frequency  float64
	CrossRef   float64
}

// DefaultWeights returns the standard factor weighting.
func DefaultWeights() FactorWeights {
	return FactorWeights{
		Recency:    0.25,
		Quality:    0.25,
		QueryMatch: 0.20,
		Importance: 0.15,
		Frequency:  0.10,
		CrossRef:   0.05,
	}
}

const weightSumTolerance = 1e-9

// Validate checks the weight-sum invariant.
func (w FactorWeights) Validate() error {
	sum := w.Recency + w.Quality + w.QueryMatch + w.Importance + w.Frequency + w.CrossRef
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("relevance factor weights sum to %v, want 1.0", sum)
	}
	return nil
}

// LexicalScorer scores items from weighted lexical heuristics. It is
// deterministic: identical inputs (including now) produce identical scores.
type LexicalScorer struct {
	weights FactorWeights
}

// NewLexicalScorer validates the weights and returns a scorer.
func NewLexicalScorer(w FactorWeights) (*LexicalScorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &LexicalScorer{weights: w}, nil
}

func (s *LexicalScorer) Score(item ContextItem, query string, now time.Time) RelevanceResult {
	factors := []Factor{
		{Name: "recency", Value: recencyFactor(item.Timestamp, now), Weight: s.weights.Recency},
		{Name: "quality", Value: clamp01(item.Quality), Weight: s.weights.Quality},
		{Name: "query_match", Value: queryMatchFactor(item.Content, query), Weight: s.weights.QueryMatch},
		{Name: "importance", Value: importanceFactor(item.Importance), Weight: s.weights.Importance},
		{Name: "frequency", Value: frequencyFactor(item.Frequency), Weight: s.weights.Frequency},
		{Name: "cross_reference", Value: crossRefFactor(item.CrossRefs), Weight: s.weights.CrossRef},
	}

	score := 0.0
	for _, f := range factors {
		score += f.Value * f.Weight
	}

	return RelevanceResult{
		ItemID:  item.ID,
		Kind:    item.Kind,
		Score:   clamp01(score),
		Factors: factors,
	}
}

// recencyFactor decays linearly over 24 hours to a floor of 0.1, so old
// but relevant items remain selectable.
func recencyFactor(ts, now time.Time) float64 {
	if ts.IsZero() {
		return 0.1
	}
	ageHours := now.Sub(ts).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Max(0.1, 1-ageHours/24)
}

// queryMatchFactor is the fraction of query tokens (longer than 2 chars,
// case-insensitive) found as substrings of the content. Without a query
// every item is a neutral 0.5.
func queryMatchFactor(content, query string) float64 {
	if strings.TrimSpace(query) == "" {
		return 0.5
	}
	lowered := strings.ToLower(content)
	matched, considered := 0, 0
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		if len(tok) <= 2 {
			continue
		}
		considered++
		if strings.Contains(lowered, tok) {
			matched++
		}
	}
	if considered == 0 {
		return 0.5
	}
	return float64(matched) / float64(considered)
}

func importanceFactor(tier ImportanceTier) float64 {
	return float64(tier.Priority()) / 4
}

// frequencyFactor saturates at 10 recent references.
func frequencyFactor(n int) float64 {
	return clamp01(float64(n) / 10)
}

// crossRefFactor saturates at 5 links.
func crossRefFactor(n int) float64 {
	return clamp01(float64(n) / 5)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// ScoreSnapshot scores every item in the snapshot with one shared scorer
// and timestamp, keeping results deterministic within a pass.
func ScoreSnapshot(s Scorer, snap ContextSnapshot, query string, now time.Time) []RelevanceResult {
	items := snap.Items()
	results := make([]RelevanceResult, len(items))
	for i, it := range items {
		results[i] = s.Score(it, query, now)
	}
	return results
}

// averageRelevance returns the mean score of items, or 0 for no items.
func averageRelevance(s Scorer, items []ContextItem, query string, now time.Time) float64 {
	if len(items) == 0 {
		return 0
	}
	total := 0.0
	for _, it := range items {
		total += s.Score(it, query, now).Score
	}
	return total / float64(len(items))
}
