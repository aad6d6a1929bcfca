package compliance

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFeeHeuristic(t *testing.T) {
	c := NewClassifier(nil)

	tx := &domain.Transaction{
		Memo:      "network fee",
		Amount:    dec("-1"),
		Fee:       dec("0.1"),
		Direction: "out",
	}

	if got := c.TagCategory(tx, nil); got != domain.CategoryFee {
		t.Errorf("expected fee, got %s", got)
	}

	results := c.TagCategories(tx, nil)
	if len(results) == 0 || results[0].Category != domain.CategoryFee {
		t.Fatalf("expected fee ranked first, got %+v", results)
	}
	// heuristic 1.0 + "network" 0.6 + "fee" 0.6
	if !results[0].Score.Equal(dec("2.2")) {
		t.Errorf("expected fee score 2.2, got %s", results[0].Score)
	}
}

func TestKeywordWholeWordBoundary(t *testing.T) {
	c := NewClassifier(nil)

	// "gas" must not match inside "gasoline"
	tx := &domain.Transaction{
		Memo:      "gasoline purchase",
		Amount:    dec("-10"),
		Direction: "out",
	}

	if got := c.TagCategory(tx, nil); got == domain.CategoryFee {
		t.Errorf("substring match leaked through word boundary: got %s", got)
	}
}

func TestKeywordMatchesAccumulate(t *testing.T) {
	c := NewClassifier(nil)

	tx := &domain.Transaction{Memo: "swap then trade on the exchange"}

	results := c.TagCategories(tx, nil)
	if len(results) != 1 {
		t.Fatalf("expected only trade category, got %+v", results)
	}
	if results[0].Category != domain.CategoryTrade {
		t.Fatalf("expected trade, got %s", results[0].Category)
	}
	if !results[0].Score.Equal(dec("1.8")) {
		t.Errorf("expected 3 x 0.6 = 1.8, got %s", results[0].Score)
	}
	if len(results[0].Reasons) != 3 {
		t.Errorf("expected one reason per matched keyword, got %d", len(results[0].Reasons))
	}
}

func TestInternalTransferSignal(t *testing.T) {
	c := NewClassifier(nil)
	book := NewAddressBook([]string{"rA", "rB"})

	tx := &domain.Transaction{
		FromAddress: "rA",
		ToAddress:   "rB",
	}

	if got := c.TagCategory(tx, book); got != domain.CategoryTransfer {
		t.Errorf("expected transfer, got %s", got)
	}

	// One endpoint not owned: no transfer signal, nothing else fires.
	stranger := &domain.Transaction{FromAddress: "rA", ToAddress: "rX"}
	if got := c.TagCategory(stranger, book); got != domain.CategoryUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestDirectionSoftSignal(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		direction string
		want      string
	}{
		{"in", domain.CategoryIncome},
		{"incoming", domain.CategoryIncome},
		{"credit", domain.CategoryIncome},
		{"out", domain.CategoryExpense},
		{"DEBIT", domain.CategoryExpense},
		{"sideways", domain.CategoryUnknown},
		{"", domain.CategoryUnknown},
	}

	for _, tt := range tests {
		tx := &domain.Transaction{Direction: tt.direction}
		if got := c.TagCategory(tx, nil); got != tt.want {
			t.Errorf("direction %q: expected %s, got %s", tt.direction, tt.want, got)
		}
	}
}

func TestDirectionOverriddenByKeyword(t *testing.T) {
	c := NewClassifier(nil)

	// Outbound direction contributes expense 0.4; the salary keyword
	// contributes income 0.6 and must win.
	tx := &domain.Transaction{Direction: "out", Memo: "monthly salary"}
	if got := c.TagCategory(tx, nil); got != domain.CategoryIncome {
		t.Errorf("keyword (0.6) should beat direction (0.4), got %s", got)
	}
}

func TestNoSignalsReturnsUnknown(t *testing.T) {
	c := NewClassifier(nil)

	tx := &domain.Transaction{Memo: "zzz", Direction: "unspecified"}

	if got := c.TagCategory(tx, nil); got != domain.CategoryUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
	if results := c.TagCategories(tx, nil); len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}

func TestTieBreakUsesPriorityOrder(t *testing.T) {
	// Declaration order and priority order deliberately disagree, so the
	// tie must be resolved by priority, not by encounter order.
	cfg := &Config{
		Categories: []CategoryKeywords{
			{Category: "trade", Keywords: []string{"rebalance"}},
			{Category: "income", Keywords: []string{"rebalance"}},
		},
		Priority: []string{"income", "trade"},
	}
	c := NewClassifier(cfg)

	tx := &domain.Transaction{Memo: "rebalance"}

	results := c.TagCategories(tx, nil)
	if len(results) != 2 || !results[0].Score.Equal(results[1].Score) {
		t.Fatalf("expected two tied results, got %+v", results)
	}
	if results[0].Category != "trade" {
		t.Fatalf("stable sort should keep encounter order, got %+v", results)
	}

	for i := 0; i < 10; i++ {
		if got := c.TagCategory(tx, nil); got != "income" {
			t.Fatalf("priority should pick income over trade, got %s", got)
		}
	}
}

func TestTieBreakFallbackSequence(t *testing.T) {
	// "expense" is not in the configured priority but is a contender;
	// the fixed fallback sequence picks it over a non-listed category.
	cfg := &Config{
		Categories: []CategoryKeywords{
			{Category: "staking", Keywords: []string{"restake"}},
			{Category: "expense", Keywords: []string{"restake"}},
		},
		Priority: []string{"income"},
	}
	c := NewClassifier(cfg)

	tx := &domain.Transaction{Memo: "restake"}
	if got := c.TagCategory(tx, nil); got != domain.CategoryExpense {
		t.Errorf("expected expense via fallback, got %s", got)
	}
}

func TestTieBreakKeepsStableOrderWhenNothingMatches(t *testing.T) {
	cfg := &Config{
		Categories: []CategoryKeywords{
			{Category: "alpha", Keywords: []string{"blorp"}},
			{Category: "beta", Keywords: []string{"blorp"}},
		},
		Priority: nil,
	}
	c := NewClassifier(cfg)

	tx := &domain.Transaction{Memo: "blorp"}
	if got := c.TagCategory(tx, nil); got != "alpha" {
		t.Errorf("expected first contender in stable order, got %s", got)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	c := NewClassifier(nil)
	book := NewAddressBook([]string{"0xAAA", "0xBBB"})

	tx := &domain.Transaction{
		FromAddress: "0xaaa",
		ToAddress:   "0xBBB",
		Memo:        "transfer of funds",
		Direction:   "out",
	}

	first := c.TagCategories(tx, book)
	second := c.TagCategories(tx, book)

	if len(first) != len(second) {
		t.Fatalf("result lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Category != second[i].Category || !first[i].Score.Equal(second[i].Score) {
			t.Errorf("result %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
	if c.TagCategory(tx, book) != c.TagCategory(tx, book) {
		t.Error("winning category not deterministic")
	}
}
