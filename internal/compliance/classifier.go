package compliance

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Signal weights. Keyword and direction signals are deliberately weaker
// than the two structural signals so either structural match dominates.
var (
	weightFeeHeuristic = decimal.NewFromInt(1)
	weightKeyword      = decimal.RequireFromString("0.6")
	weightTransfer     = decimal.NewFromInt(1)
	weightDirection    = decimal.RequireFromString("0.4")
)

// tieBreakFallback is appended after the configured priority list when
// resolving score ties.
var tieBreakFallback = []string{domain.CategoryExpense, domain.CategoryUnknown}

// keywordMatcher is one precompiled (category, keyword) pair.
type keywordMatcher struct {
	category string
	keyword  string
	pattern  *regexp.Regexp
}

// Classifier assigns compliance categories to transactions.
// Construct once at startup; all methods are safe for concurrent use.
type Classifier struct {
	matchers []keywordMatcher
	priority []string
}

// NewClassifier builds a classifier from the given configuration.
// A nil config uses the built-in defaults.
func NewClassifier(cfg *Config) *Classifier {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	c := &Classifier{priority: cfg.Priority}
	for _, cat := range cfg.Categories {
		for _, kw := range cat.Keywords {
			// Whole-word match: "gas" must not match "gasoline".
			pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
			c.matchers = append(c.matchers, keywordMatcher{
				category: cat.Category,
				keyword:  kw,
				pattern:  pattern,
			})
		}
	}
	return c
}

// TagCategories returns every category that received at least one signal,
// sorted descending by score. The sort is stable, so equal scores keep
// signal encounter order. Categories with zero signals are omitted.
func (c *Classifier) TagCategories(tx *domain.Transaction, book *AddressBook) []domain.TagResult {
	acc := newAccumulator()

	// Fee heuristic: positive fee against a nonpositive amount is the
	// shape of a pure network-fee record.
	if tx.Fee.IsPositive() && !tx.Amount.IsPositive() {
		acc.add(domain.CategoryFee, weightFeeHeuristic, "Positive fee + nonpositive amount")
	}

	// Keyword matching against the memo, one contribution per matched
	// (category, keyword) pair.
	if tx.Memo != "" {
		for _, m := range c.matchers {
			if m.pattern.MatchString(tx.Memo) {
				acc.add(m.category, weightKeyword, fmt.Sprintf("Matched keyword %q", m.keyword))
			}
		}
	}

	// Internal transfer: both endpoints present and owned.
	if tx.FromAddress != "" && tx.ToAddress != "" &&
		book.IsOwned(tx.FromAddress) && book.IsOwned(tx.ToAddress) {
		acc.add(domain.CategoryTransfer, weightTransfer, "Internal transfer (same owner)")
	}

	// Direction soft signal: low weight, easily overridden.
	switch domain.NormalizeDirection(tx.Direction) {
	case domain.DirectionIn:
		acc.add(domain.CategoryIncome, weightDirection, "Direction suggests inbound")
	case domain.DirectionOut:
		acc.add(domain.CategoryExpense, weightDirection, "Direction suggests outbound")
	}

	results := acc.results()
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score.GreaterThan(results[j].Score)
	})
	return results
}

// TagCategory collapses the multi-label result to a single winning
// category. Ties at the maximum score are resolved by walking the
// configured priority list extended with the fixed fallback sequence;
// no signals at all yields "unknown".
func (c *Classifier) TagCategory(tx *domain.Transaction, book *AddressBook) string {
	results := c.TagCategories(tx, book)
	if len(results) == 0 {
		return domain.CategoryUnknown
	}

	maxScore := results[0].Score
	contenders := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Score.Equal(maxScore) {
			contenders[r.Category] = true
		}
	}

	if len(contenders) == 1 {
		return results[0].Category
	}

	for _, category := range c.priority {
		if contenders[category] {
			return category
		}
	}
	for _, category := range tieBreakFallback {
		if contenders[category] {
			return category
		}
	}

	// No contender matched any priority entry; keep the stable order winner.
	return results[0].Category
}

// accumulator materializes one TagResult per category, preserving the
// order in which categories first received a signal.
type accumulator struct {
	order []string
	byCat map[string]*domain.TagResult
}

func newAccumulator() *accumulator {
	return &accumulator{byCat: make(map[string]*domain.TagResult)}
}

func (a *accumulator) add(category string, weight decimal.Decimal, reason string) {
	entry, ok := a.byCat[category]
	if !ok {
		entry = &domain.TagResult{Category: category}
		a.byCat[category] = entry
		a.order = append(a.order, category)
	}
	entry.Score = entry.Score.Add(weight)
	entry.Reasons = append(entry.Reasons, domain.TagReason{Category: category, Reason: reason})
}

func (a *accumulator) results() []domain.TagResult {
	out := make([]domain.TagResult, 0, len(a.order))
	for _, category := range a.order {
		out = append(out, *a.byCat[category])
	}
	return out
}
