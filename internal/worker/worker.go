// Package worker provides async annotation processing for the Pro tier.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/annotate"
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/ownership"
)

// Worker annotates transactions asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	processor *annotate.Processor
	owners    *ownership.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, processor *annotate.Processor, owners *ownership.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		processor: processor,
		owners:    owners,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processMessage(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processMessage(ctx, msg.TenantID, msg)
}

// processMessage annotates one ingested transaction payload.
// The payload is the raw upstream transaction object; normalization and
// annotation never fail, so the only errors here are infrastructure ones.
func (w *Worker) processMessage(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	// Decode with UseNumber so exact decimal strings survive
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(msg.Payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tx := ingest.Normalize(tenantID, raw)
	if tx.ID == "" {
		tx.ID = msg.ID
	}
	ingestMs := time.Since(start).Milliseconds()

	traceID := msg.Metadata["trace_id"]
	if traceID == "" {
		traceID = msg.ID
	}

	book := w.addressBook(ctx, tenantID)

	ann := w.processor.Process(ctx, &annotate.Input{
		TenantID:    tenantID,
		TraceID:     traceID,
		Transaction: tx,
		AddressBook: book,
		StartTime:   start,
	})
	ann.Metadata.IngestMs = ingestMs

	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction",
				"tx_id", tx.ID,
				"error", err,
			)
		}
		if err := w.repo.SaveAnnotation(ctx, tenantID, ann); err != nil {
			slog.Error("failed to save annotation",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	annPayload, _ := json.Marshal(ann)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAnnotation, annPayload); err != nil {
		slog.Error("failed to publish annotation",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	if ann.Alerted {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, annPayload); err != nil {
			slog.Error("failed to publish alert",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction annotated",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
		"category", ann.Category,
		"risk_score", ann.RiskScore,
		"alerted", ann.Alerted,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) addressBook(ctx context.Context, tenantID string) *compliance.AddressBook {
	if w.owners == nil {
		return nil
	}
	book, err := w.owners.AddressBook(ctx, tenantID)
	if err != nil {
		slog.Warn("failed to load address book, proceeding without",
			"tenant_id", tenantID,
			"error", err,
		)
		return nil
	}
	return book
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
