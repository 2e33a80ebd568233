package contextengine

import (
	"fmt"
	"log/slog"
	"time"
)

// BudgetStrategy selects how a total token budget is split across categories.
type BudgetStrategy string

const (
	BudgetStrict        BudgetStrategy = "strict"
	BudgetFlexible      BudgetStrategy = "flexible"
	BudgetAdaptive      BudgetStrategy = "adaptive"
	BudgetPriorityBased BudgetStrategy = "priority_based"
)

// Valid reports whether s names a known strategy.
func (s BudgetStrategy) Valid() bool {
	switch s {
	case BudgetStrict, BudgetFlexible, BudgetAdaptive, BudgetPriorityBased:
		return true
	}
	return false
}

// strictShares are the fixed per-category percentages for BudgetStrict.
var strictShares = map[Category]float64{
	CategoryProfile:      0.15,
	CategoryConversation: 0.40,
	CategoryKnowledge:    0.30,
	CategoryExternal:     0.10,
	CategorySystem:       0.05,
}

// categoryPriority is the fixed priority of each category, consistent
// with item importance ordering.
var categoryPriority = map[Category]int{
	CategoryProfile:      3,
	CategoryConversation: 4,
	CategoryKnowledge:    3,
	CategoryExternal:     1,
	CategorySystem:       2,
}

// adaptiveFloor prevents adaptive allocation from starving small
// non-empty categories.
const adaptiveFloor = 100

// BudgetAllocator splits a total token budget across content categories.
// It never clips its own output to fit: an overrun is reported for the
// optimizer to resolve.
type BudgetAllocator struct {
	scorer Scorer
}

// NewBudgetAllocator returns an allocator. The scorer is used only by the
// priority_based strategy.
func NewBudgetAllocator(scorer Scorer) *BudgetAllocator {
	return &BudgetAllocator{scorer: scorer}
}

// Allocate computes per-category allocations for the snapshot. The
// returned overrun flag is true when sum(allocated) exceeds totalBudget;
// the condition is logged and left to the caller to reduce.
func (a *BudgetAllocator) Allocate(snap ContextSnapshot, totalBudget int, strategy BudgetStrategy, now time.Time) ([]BudgetAllocation, bool) {
	if !strategy.Valid() {
		strategy = BudgetStrict
	}

	var allocs []BudgetAllocation
	switch strategy {
	case BudgetStrict:
		allocs = a.allocateStrict(snap, totalBudget)
	case BudgetAdaptive:
		allocs = a.allocateAdaptive(snap, totalBudget, false)
	case BudgetFlexible:
		allocs = a.allocateAdaptive(snap, totalBudget, true)
	case BudgetPriorityBased:
		allocs = a.allocatePriorityBased(snap, totalBudget, now)
	}

	allocated := 0
	for _, al := range allocs {
		allocated += al.Allocated
	}
	overrun := allocated > totalBudget
	if overrun {
		slog.Warn("budget allocation overrun",
			"strategy", string(strategy),
			"allocated", allocated,
			"budget", totalBudget,
		)
	}
	return allocs, overrun
}

func (a *BudgetAllocator) allocateStrict(snap ContextSnapshot, totalBudget int) []BudgetAllocation {
	allocs := make([]BudgetAllocation, 0, 5)
	for _, c := range Categories() {
		allocated := int(float64(totalBudget) * strictShares[c])
		allocs = append(allocs, newAllocation(c, allocated, snap.CategoryTokens(c), false))
	}
	return allocs
}

// allocateAdaptive splits the budget proportionally to each category's
// actual current usage, with a floor for non-empty categories. flexible
// marks every allocation reassignable if underused.
func (a *BudgetAllocator) allocateAdaptive(snap ContextSnapshot, totalBudget int, flexible bool) []BudgetAllocation {
	used := make(map[Category]int, 5)
	totalUsed := 0
	for _, c := range Categories() {
		used[c] = snap.CategoryTokens(c)
		totalUsed += used[c]
	}

	allocs := make([]BudgetAllocation, 0, 5)
	for _, c := range Categories() {
		var allocated int
		if totalUsed > 0 {
			allocated = int(float64(totalBudget) * float64(used[c]) / float64(totalUsed))
		}
		if used[c] > 0 && allocated < adaptiveFloor {
			allocated = adaptiveFloor
		}
		allocs = append(allocs, newAllocation(c, allocated, used[c], flexible))
	}
	return allocs
}

// allocatePriorityBased weights each category by its average relevance
// score, normalized across categories.
func (a *BudgetAllocator) allocatePriorityBased(snap ContextSnapshot, totalBudget int, now time.Time) []BudgetAllocation {
	scores := map[Category]float64{
		CategoryProfile:      0.6, // flat text categories get a fixed mid score
		CategorySystem:       0.4,
		CategoryConversation: averageRelevance(a.scorer, snap.Conversation, "", now),
		CategoryKnowledge:    averageRelevance(a.scorer, snap.Knowledge, "", now),
		CategoryExternal:     averageRelevance(a.scorer, snap.External, "", now),
	}

	totalScore := 0.0
	for _, c := range Categories() {
		totalScore += scores[c]
	}

	allocs := make([]BudgetAllocation, 0, 5)
	for _, c := range Categories() {
		var allocated int
		if totalScore > 0 {
			allocated = int(float64(totalBudget) * scores[c] / totalScore)
		}
		allocs = append(allocs, newAllocation(c, allocated, snap.CategoryTokens(c), false))
	}
	return allocs
}

func newAllocation(c Category, allocated, used int, flexible bool) BudgetAllocation {
	return BudgetAllocation{
		Category:  c,
		Allocated: allocated,
		Used:      used,
		Remaining: allocated - used,
		Priority:  categoryPriority[c],
		Flexible:  flexible,
	}
}

// CheckAllocations verifies the sum(allocated) <= totalBudget invariant,
// returning a describable error for the anomaly rather than panicking.
func CheckAllocations(allocs []BudgetAllocation, totalBudget int) error {
	sum := 0
	for _, al := range allocs {
		sum += al.Allocated
	}
	if sum > totalBudget {
		return fmt.Errorf("allocations total %d exceed budget %d", sum, totalBudget)
	}
	return nil
}
