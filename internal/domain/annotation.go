package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Compliance category labels. Every annotation collapses to exactly one.
const (
	CategoryFee      = "fee"
	CategoryTrade    = "trade"
	CategoryIncome   = "income"
	CategoryExpense  = "expense"
	CategoryTransfer = "transfer"
	CategoryUnknown  = "unknown"
)

// RiskResult is the output of the risk scorer: a score clamped to [0,1]
// plus one flag per triggered rule, in firing order.
type RiskResult struct {
	Score decimal.Decimal `json:"score"`
	Flags []string        `json:"flags"`
}

// TagReason explains one signal contribution to a category.
type TagReason struct {
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

// TagResult is one category candidate from multi-label classification.
// Score is an accumulated sum of weighted signals, not normalized to [0,1].
type TagResult struct {
	Category string          `json:"category"`
	Score    decimal.Decimal `json:"score"`
	Reasons  []TagReason     `json:"reasons"`
}

// Annotation is the complete annotation produced for one transaction:
// risk score with explanatory flags, the winning compliance category with
// the full ranked candidate list, and the alert decision.
type Annotation struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	TxID     string `json:"txId"`

	// Compliance classification
	Category   string      `json:"category"`
	TagResults []TagResult `json:"tagResults,omitempty"`

	// Risk scoring
	RiskScore decimal.Decimal `json:"riskScore"`
	RiskFlags []string        `json:"riskFlags,omitempty"`

	// Alerting
	Alerted      bool         `json:"alerted"`
	AlertMatches []AlertMatch `json:"alertMatches,omitempty"`

	Timestamp time.Time          `json:"timestamp"`
	Metadata  AnnotationMetadata `json:"metadata"`
}

// AnnotationMetadata carries processing information.
type AnnotationMetadata struct {
	TraceID       string `json:"traceId"`
	IngestMs      int64  `json:"ingestMs"`
	RiskMs        int64  `json:"riskMs"`
	ClassifyMs    int64  `json:"classifyMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// ReportSummary aggregates a batch of annotated transactions.
// Aggregation is a caller-side convenience; each transaction is still
// annotated independently.
type ReportSummary struct {
	TotalIn         decimal.Decimal `json:"totalIn"`
	TotalOut        decimal.Decimal `json:"totalOut"`
	Fees            decimal.Decimal `json:"fees"`
	SuspiciousCount int             `json:"suspiciousCount"`
	Transactions    int             `json:"transactions"`
	Categories      map[string]int  `json:"categories,omitempty"`
}
