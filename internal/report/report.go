// Package report aggregates annotated transactions into batch summaries
// and CSV exports. Aggregation is caller-side convenience: every entry was
// annotated independently.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultSuspiciousThreshold marks an entry suspicious in summaries.
var DefaultSuspiciousThreshold = decimal.RequireFromString("0.75")

// Entry pairs a transaction with its annotation.
type Entry struct {
	Transaction *domain.Transaction `json:"transaction"`
	Annotation  *domain.Annotation  `json:"annotation"`
}

// Summarize computes batch totals over annotated transactions. A
// zero-valued threshold falls back to the default.
func Summarize(entries []Entry, suspiciousThreshold decimal.Decimal) domain.ReportSummary {
	if suspiciousThreshold.IsZero() {
		suspiciousThreshold = DefaultSuspiciousThreshold
	}

	summary := domain.ReportSummary{
		Transactions: len(entries),
		Categories:   make(map[string]int),
	}

	for _, e := range entries {
		tx := e.Transaction
		if tx == nil {
			continue
		}

		switch domain.NormalizeDirection(tx.Direction) {
		case domain.DirectionIn:
			summary.TotalIn = summary.TotalIn.Add(tx.Amount.Abs())
		case domain.DirectionOut:
			summary.TotalOut = summary.TotalOut.Add(tx.Amount.Abs())
		}
		summary.Fees = summary.Fees.Add(tx.Fee)

		if e.Annotation != nil {
			summary.Categories[e.Annotation.Category]++
			if e.Annotation.RiskScore.GreaterThanOrEqual(suspiciousThreshold) {
				summary.SuspiciousCount++
			}
		}
	}

	return summary
}

var csvHeader = []string{
	"id", "timestamp", "chain", "symbol", "from_address", "to_address",
	"amount", "fee", "direction", "memo", "category", "risk_score",
	"risk_flags", "alerted",
}

// WriteCSV streams the entries as CSV, one row per transaction.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		tx := e.Transaction
		if tx == nil {
			continue
		}

		category, score, flags, alerted := domain.CategoryUnknown, decimal.Zero, "", false
		if e.Annotation != nil {
			category = e.Annotation.Category
			score = e.Annotation.RiskScore
			flags = strings.Join(e.Annotation.RiskFlags, "|")
			alerted = e.Annotation.Alerted
		}

		row := []string{
			tx.ID,
			tx.Timestamp.UTC().Format(time.RFC3339),
			tx.Chain,
			tx.Symbol,
			tx.FromAddress,
			tx.ToAddress,
			tx.Amount.String(),
			tx.Fee.String(),
			tx.Direction,
			tx.Memo,
			category,
			score.String(),
			flags,
			fmt.Sprintf("%t", alerted),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
