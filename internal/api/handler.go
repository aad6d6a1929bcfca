package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/annotate"
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/ownership"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// GlobalTenantID is used for alert rules that apply to all tenants.
const GlobalTenantID = "*"

// maxBatchSize caps a single batch annotation request.
const maxBatchSize = 1000

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	processor  *annotate.Processor
	classifier *compliance.Classifier
	alerter    *alerts.Engine
	owners     *ownership.Service
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, processor *annotate.Processor, classifier *compliance.Classifier, alerter *alerts.Engine, owners *ownership.Service, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		processor:  processor,
		classifier: classifier,
		alerter:    alerter,
		owners:     owners,
		version:    version,
	}
}

// decodeRaw decodes a request body into loosely-typed payloads with
// json.Number preserved, so exact decimal strings survive ingestion.
func decodeRaw(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// addressBook loads the tenant's address book; annotation proceeds with
// an empty book when ownership data is unavailable.
func (h *Handler) addressBook(r *http.Request, tenantID string) *compliance.AddressBook {
	if h.owners == nil {
		return nil
	}
	book, err := h.owners.AddressBook(r.Context(), tenantID)
	if err != nil {
		slog.Warn("failed to load address book, proceeding without",
			"tenant_id", tenantID,
			"error", err,
		)
		return nil
	}
	return book
}

// Annotate handles POST /annotate: normalize, score, classify and alert a
// single transaction. Malformed fields degrade to zero values; the only
// client error is an unparseable body.
func (h *Handler) Annotate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var raw map[string]interface{}
	if err := decodeRaw(r.Body, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx := ingest.Normalize(tenantID, raw)
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	ingestMs := time.Since(start).Milliseconds()

	ann := h.processor.Process(ctx, &annotate.Input{
		TenantID:    tenantID,
		TraceID:     traceID,
		Transaction: tx,
		AddressBook: h.addressBook(r, tenantID),
		StartTime:   start,
	})
	ann.Metadata.IngestMs = ingestMs

	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		}
		if err := h.repo.SaveAnnotation(ctx, tenantID, ann); err != nil {
			slog.Error("failed to save annotation", "tx_id", tx.ID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(ann)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicAnnotation, payload); err != nil {
			slog.Error("failed to publish annotation", "tx_id", tx.ID, "error", err)
		}
		if ann.Alerted {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "tx_id", tx.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, report.Entry{
		Transaction: tx,
		Annotation:  ann,
	})
}

// BatchResponse is the response for POST /annotate/batch and POST /report.
type BatchResponse struct {
	Entries []report.Entry       `json:"entries"`
	Summary domain.ReportSummary `json:"summary"`
}

// AnnotateBatch handles POST /annotate/batch: each transaction is
// annotated independently, then summarized.
func (h *Handler) AnnotateBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var raws []map[string]interface{}
	if err := decodeRaw(r.Body, &raws); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body: expected an array of transactions",
		})
		return
	}
	if len(raws) > maxBatchSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch too large: max " + strconv.Itoa(maxBatchSize) + " transactions",
		})
		return
	}

	// One address book for the whole batch
	book := h.addressBook(r, tenantID)

	entries := make([]report.Entry, 0, len(raws))
	for _, raw := range raws {
		itemStart := time.Now()
		tx := ingest.Normalize(tenantID, raw)
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		ingestMs := time.Since(itemStart).Milliseconds()

		ann := h.processor.Process(ctx, &annotate.Input{
			TenantID:    tenantID,
			TraceID:     traceID,
			Transaction: tx,
			AddressBook: book,
			StartTime:   itemStart,
		})
		ann.Metadata.IngestMs = ingestMs

		if h.repo != nil {
			if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
				slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
			}
			if err := h.repo.SaveAnnotation(ctx, tenantID, ann); err != nil {
				slog.Error("failed to save annotation", "tx_id", tx.ID, "error", err)
			}
		}

		if h.bus != nil && ann.Alerted {
			payload, _ := json.Marshal(ann)
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "tx_id", tx.ID, "error", err)
			}
		}

		entries = append(entries, report.Entry{Transaction: tx, Annotation: ann})
	}

	slog.Info("batch annotated",
		"tenant_id", tenantID,
		"count", len(entries),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	h.writeEntries(w, r, entries)
}

// ClassifyTransaction handles POST /compliance/tx: multi-label
// classification only, no risk score, no persistence.
func (h *Handler) ClassifyTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var raw map[string]interface{}
	if err := decodeRaw(r.Body, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx := ingest.Normalize(tenantID, raw)
	book := h.addressBook(r, tenantID)

	tagResults := h.classifier.TagCategories(tx, book)
	category := h.classifier.TagCategory(tx, book)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"category":   category,
		"tagResults": tagResults,
	})
}

// Report handles POST /report: annotate a batch without persisting or
// publishing anything, and return the aggregate summary. With
// ?format=csv the response is the per-transaction CSV export.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var raws []map[string]interface{}
	if err := decodeRaw(r.Body, &raws); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body: expected an array of transactions",
		})
		return
	}
	if len(raws) > maxBatchSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch too large: max " + strconv.Itoa(maxBatchSize) + " transactions",
		})
		return
	}

	book := h.addressBook(r, tenantID)

	entries := make([]report.Entry, 0, len(raws))
	for _, raw := range raws {
		tx := ingest.Normalize(tenantID, raw)
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		ann := h.processor.Process(ctx, &annotate.Input{
			TenantID:    tenantID,
			Transaction: tx,
			AddressBook: book,
		})
		entries = append(entries, report.Entry{Transaction: tx, Annotation: ann})
	}

	h.writeEntries(w, r, entries)
}

// writeEntries responds with JSON entries + summary, or CSV when requested.
func (h *Handler) writeEntries(w http.ResponseWriter, r *http.Request, entries []report.Entry) {
	if r.URL.Query().Get("format") == "csv" {
		var buf bytes.Buffer
		if err := report.WriteCSV(&buf, entries); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to render CSV",
			})
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
		return
	}

	writeJSON(w, http.StatusOK, BatchResponse{
		Entries: entries,
		Summary: report.Summarize(entries, decimal.Zero),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetAnnotation retrieves an annotation by ID.
func (h *Handler) GetAnnotation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	annID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	ann, err := h.repo.GetAnnotation(ctx, tenantID, annID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get annotation", "id", annID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "annotation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, ann)
}

// ListAnnotations retrieves recent annotations.
// Query params: since (RFC3339, default 24h ago), limit (default 100).
func (h *Handler) ListAnnotations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
			return
		}
		since = parsed
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	anns, err := h.repo.ListAnnotations(ctx, tenantID, since, limit)
	if err != nil {
		slog.Error("failed to list annotations", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list annotations",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"annotations": anns,
		"count":       len(anns),
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListAddresses returns the tenant's owned addresses.
func (h *Handler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.owners == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "ownership service not available",
		})
		return
	}

	addresses, err := h.owners.ListAddresses(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list addresses", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list addresses",
		})
		return
	}
	if addresses == nil {
		addresses = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"addresses": addresses,
		"count":     len(addresses),
	})
}

// AddAddressesRequest is the request body for POST /addresses.
type AddAddressesRequest struct {
	Addresses []string `json:"addresses"`
}

// AddAddresses registers owned addresses for the tenant.
func (h *Handler) AddAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.owners == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "ownership service not available",
		})
		return
	}

	var req AddAddressesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Addresses) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "addresses is required",
		})
		return
	}

	if err := h.owners.AddAddresses(ctx, tenantID, req.Addresses); err != nil {
		slog.Error("failed to add addresses", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to add addresses",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"added": len(req.Addresses),
	})
}

// RemoveAddress unregisters one owned address.
func (h *Handler) RemoveAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	address := chi.URLParam(r, "address")

	if h.owners == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "ownership service not available",
		})
		return
	}

	if err := h.owners.RemoveAddress(ctx, tenantID, address); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "address not found",
			})
			return
		}
		slog.Error("failed to remove address", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to remove address",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"removed": address,
	})
}

// ListAlertRules returns all loaded alert rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /alert-rules/reload.
func (h *Handler) ListAlertRules(w http.ResponseWriter, r *http.Request) {
	if h.alerter == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "alert engine not available",
		})
		return
	}

	loaded := h.alerter.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetAlertRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetAlertRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if h.alerter == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "alert engine not available",
		})
		return
	}

	for _, rule := range h.alerter.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "alert rule not found",
	})
}

// CreateAlertRuleRequest is the request body for creating an alert rule.
type CreateAlertRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Severity    string `json:"severity,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// CreateAlertRule creates a new alert rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /alert-rules/reload to hot-reload into the engine.
func (h *Handler) CreateAlertRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateAlertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and expression are required",
		})
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityWarning
	}

	rule := &domain.AlertRule{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Severity:    severity,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression before persisting
	if h.alerter != nil {
		if err := h.alerter.ValidateRule(rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
	}

	if h.repo != nil {
		if err := h.repo.SaveAlertRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save alert rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save alert rule",
			})
			return
		}
	}

	slog.Info("alert rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Alert rule created. Call POST /alert-rules/reload to apply changes.",
	})
}

// DeleteAlertRule removes an alert rule from the database.
func (h *Handler) DeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	if err := h.repo.DeleteAlertRule(ctx, GlobalTenantID, ruleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert rule not found",
			})
			return
		}
		slog.Error("failed to delete alert rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete alert rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"deleted": ruleID,
		"message": "Alert rule deleted. Call POST /alert-rules/reload to apply changes.",
	})
}

// ReloadAlertRules reloads all alert rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadAlertRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil || h.alerter == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository or alert engine not available",
		})
		return
	}

	dbRules, err := h.repo.ListAlertRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list alert rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load alert rules from database",
		})
		return
	}

	if err := h.alerter.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload alert rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload alert rules: " + err.Error(),
		})
		return
	}

	slog.Info("alert rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "alert rules reloaded successfully",
		"count":   h.alerter.RulesCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
