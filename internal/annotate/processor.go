// Package annotate runs the full annotation pipeline for one transaction:
// risk scoring, compliance classification and the alert decision, assembled
// into a single Annotation record.
package annotate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/risk"
)

// EngineVersion is stamped into every annotation's metadata.
const EngineVersion = "kestrel-1.0"

// Processor annotates transactions. The scorer and classifier are pure;
// the processor only adds identity, timing and the alert decision.
type Processor struct {
	scorer     *risk.Scorer
	classifier *compliance.Classifier
	alerter    *alerts.Engine
}

// NewProcessor creates an annotation processor. The alert engine may be
// nil, in which case no annotation is ever marked alerted.
func NewProcessor(scorer *risk.Scorer, classifier *compliance.Classifier, alerter *alerts.Engine) *Processor {
	return &Processor{
		scorer:     scorer,
		classifier: classifier,
		alerter:    alerter,
	}
}

// Input carries one transaction through the pipeline.
type Input struct {
	TenantID    string
	TraceID     string
	Transaction *domain.Transaction
	AddressBook *compliance.AddressBook
	StartTime   time.Time
}

// Process scores and classifies a single transaction. Each call is
// independent; batches are just repeated invocation.
func (p *Processor) Process(ctx context.Context, input *Input) *domain.Annotation {
	start := time.Now()
	tx := input.Transaction

	riskStart := time.Now()
	riskResult := p.scorer.Score(tx)
	riskMs := time.Since(riskStart).Milliseconds()

	classifyStart := time.Now()
	tagResults := p.classifier.TagCategories(tx, input.AddressBook)
	category := winnerFrom(p.classifier, tx, input.AddressBook, tagResults)
	classifyMs := time.Since(classifyStart).Milliseconds()

	ann := &domain.Annotation{
		ID:         uuid.New().String(),
		TenantID:   input.TenantID,
		TxID:       tx.ID,
		Category:   category,
		TagResults: tagResults,
		RiskScore:  riskResult.Score,
		RiskFlags:  riskResult.Flags,
		Timestamp:  time.Now().UTC(),
	}

	if p.alerter != nil {
		matches := p.alerter.Evaluate(ctx, input.TenantID, tx, ann)
		ann.Alerted = len(matches) > 0
		ann.AlertMatches = matches
	}

	startTime := input.StartTime
	if startTime.IsZero() {
		startTime = start
	}

	ann.Metadata = domain.AnnotationMetadata{
		TraceID:       input.TraceID,
		RiskMs:        riskMs,
		ClassifyMs:    classifyMs,
		TotalMs:       time.Since(startTime).Milliseconds(),
		EngineVersion: EngineVersion,
	}

	return ann
}

// winnerFrom avoids re-running classification when the multi-label results
// are already in hand: it reproduces the classifier's collapse only when
// needed.
func winnerFrom(c *compliance.Classifier, tx *domain.Transaction, book *compliance.AddressBook, results []domain.TagResult) string {
	if len(results) == 0 {
		return domain.CategoryUnknown
	}
	if len(results) == 1 || results[0].Score.GreaterThan(results[1].Score) {
		return results[0].Category
	}
	return c.TagCategory(tx, book)
}
