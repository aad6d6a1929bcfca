// Package risk computes a bounded risk score with explanatory flags for a
// single normalized transaction. Scoring is a pure function of the
// transaction: no state, no I/O, safe for concurrent use.
package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Flags emitted by the scorer, one per triggered rule, in firing order.
const (
	FlagOutgoing          = "outgoing"
	FlagIncoming          = "incoming"
	FlagMediumOutgoing    = "medium_outgoing"
	FlagLargeOutgoing     = "large_outgoing"
	FlagVeryLargeOutgoing = "very_large_outgoing"
	FlagFeePresent        = "fee_present"
	FlagHighFeeRatio      = "high_fee_ratio"
	FlagVeryHighFeeRatio  = "very_high_fee_ratio"
	FlagSuspiciousMemo    = "suspicious_memo"
	FlagSanctionedOrMixer = "sanctioned_or_mixer"
	FlagInternalTransfer  = "internal_transfer"
)

// Scoring weights and thresholds. Exact decimals: the fee-ratio thresholds
// in particular are compared at boundary values (ratio exactly 0.01 must
// not fire) and binary floats cannot represent them.
var (
	weightBase          = decimal.RequireFromString("0.10")
	weightNonzeroOut    = decimal.RequireFromString("0.10")
	weightMediumOut     = decimal.RequireFromString("0.10")
	weightLargeOut      = decimal.RequireFromString("0.15")
	weightVeryLargeOut  = decimal.RequireFromString("0.15")
	weightIncoming      = decimal.RequireFromString("0.05")
	weightFeePresent    = decimal.RequireFromString("0.05")
	weightHighRatio     = decimal.RequireFromString("0.05")
	weightVeryHighRatio = decimal.RequireFromString("0.10")
	weightMemoBase      = decimal.RequireFromString("0.20")
	weightMemoPerHit    = decimal.RequireFromString("0.05")
	weightRiskyTag      = decimal.RequireFromString("0.20")
	weightInternal      = decimal.RequireFromString("0.25")

	thresholdMedium    = decimal.NewFromInt(100)
	thresholdLarge     = decimal.NewFromInt(1000)
	thresholdVeryLarge = decimal.NewFromInt(10000)
	ratioHigh          = decimal.RequireFromString("0.01")
	ratioVeryHigh      = decimal.RequireFromString("0.05")

	maxScore = decimal.NewFromInt(1)
)

// suspiciousTerms are matched as lowercase substrings against the memo.
var suspiciousTerms = []string{
	"scam", "phish", "hack", "fraud", "ransom", "malware",
	"blackmail", "mixer", "tornado", "sanction", "darknet",
}

// Scorer computes risk scores. The zero value is ready to use; NewScorer
// exists for symmetry with the other engines.
type Scorer struct{}

// NewScorer creates a risk scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns the risk score in [0,1] and the triggered flags for tx.
// It never fails: malformed numeric fields arrive as zero from the ingest
// adapter and unrecognized directions contribute no signal.
func (s *Scorer) Score(tx *domain.Transaction) domain.RiskResult {
	score := weightBase
	flags := []string{}

	magnitude := tx.Amount.Abs()

	// Direction and magnitude. Thresholds are cumulative: a transaction
	// over 10000 receives all four magnitude bumps.
	switch domain.NormalizeDirection(tx.Direction) {
	case domain.DirectionOut:
		flags = append(flags, FlagOutgoing)
		if magnitude.IsPositive() {
			score = score.Add(weightNonzeroOut)
		}
		if magnitude.GreaterThan(thresholdMedium) {
			score = score.Add(weightMediumOut)
			flags = append(flags, FlagMediumOutgoing)
		}
		if magnitude.GreaterThan(thresholdLarge) {
			score = score.Add(weightLargeOut)
			flags = append(flags, FlagLargeOutgoing)
		}
		if magnitude.GreaterThan(thresholdVeryLarge) {
			score = score.Add(weightVeryLargeOut)
			flags = append(flags, FlagVeryLargeOutgoing)
		}
	case domain.DirectionIn:
		flags = append(flags, FlagIncoming)
		score = score.Sub(weightIncoming)
	}

	// Fee pressure. Ratio is treated as zero when the amount is zero.
	if tx.Fee.IsPositive() {
		score = score.Add(weightFeePresent)
		flags = append(flags, FlagFeePresent)

		if !magnitude.IsZero() {
			ratio := tx.Fee.Div(magnitude)
			if ratio.GreaterThan(ratioHigh) {
				score = score.Add(weightHighRatio)
				flags = append(flags, FlagHighFeeRatio)
			}
			if ratio.GreaterThan(ratioVeryHigh) {
				score = score.Add(weightVeryHighRatio)
				flags = append(flags, FlagVeryHighFeeRatio)
			}
		}
	}

	// Suspicious memo keywords: substring occurrences, not word boundaries.
	if hits := countSuspiciousTerms(tx.Memo); hits > 0 {
		bump := weightMemoBase.Add(weightMemoPerHit.Mul(decimal.NewFromInt(int64(hits))))
		score = score.Add(bump)
		flags = append(flags, FlagSuspiciousMemo)
	}

	// Tag-based adjustment from upstream enrichment.
	if tx.HasTag("sanctioned") || tx.HasTag("mixer") {
		score = score.Add(weightRiskyTag)
		flags = append(flags, FlagSanctionedOrMixer)
	}

	// Internal-transfer discount.
	if tx.IsInternal {
		score = score.Sub(weightInternal)
		flags = append(flags, FlagInternalTransfer)
	}

	// Clamp to [0,1].
	if score.IsNegative() {
		score = decimal.Zero
	} else if score.GreaterThan(maxScore) {
		score = maxScore
	}

	return domain.RiskResult{Score: score, Flags: flags}
}

// countSuspiciousTerms counts occurrences of the suspicious-term list in
// the memo, case-insensitively.
func countSuspiciousTerms(memo string) int {
	if memo == "" {
		return 0
	}
	lowered := strings.ToLower(memo)
	hits := 0
	for _, term := range suspiciousTerms {
		hits += strings.Count(lowered, term)
	}
	return hits
}
