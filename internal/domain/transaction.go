// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the canonical, normalized ledger record the annotation
// pipeline operates on. Upstream chain adapters (XRPL, EVM, CSV import)
// are responsible for producing this shape; the ingest package converts
// loosely-typed payloads into it.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Source ledger (e.g., "XRP", "BSC", "CSV")
	Chain  string `json:"chain,omitempty"`
	Symbol string `json:"symbol,omitempty"`

	// Endpoints, compared case-insensitively; may be absent
	FromAddress string `json:"fromAddress,omitempty"`
	ToAddress   string `json:"toAddress,omitempty"`

	// Financial details. Exact decimals: fee-ratio thresholds are
	// compared at boundary values and must not drift.
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`

	// Direction as supplied upstream; normalized via NormalizeDirection
	Direction string `json:"direction"`

	// Free text used for keyword matching
	Memo string `json:"memo,omitempty"`

	// Labels attached by upstream enrichment (e.g., "sanctioned", "mixer")
	Tags []string `json:"tags,omitempty"`

	// Caller-supplied hint that both endpoints belong to the account holder
	IsInternal bool `json:"isInternal,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata passthrough
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Direction is the normalized transaction direction.
type Direction string

const (
	DirectionIn      Direction = "in"
	DirectionOut     Direction = "out"
	DirectionUnknown Direction = ""
)

// NormalizeDirection maps free-text direction synonyms to a canonical
// value. Unknown input normalizes to DirectionUnknown and contributes no
// direction-based signal anywhere in the pipeline.
func NormalizeDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "incoming", "credit":
		return DirectionIn
	case "out", "outgoing", "debit":
		return DirectionOut
	}
	return DirectionUnknown
}

// HasTag reports whether the transaction carries the given tag,
// case-insensitively.
func (t *Transaction) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if strings.EqualFold(strings.TrimSpace(have), tag) {
			return true
		}
	}
	return false
}
