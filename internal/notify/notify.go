// Package notify delivers alert payloads to an external webhook.
// Delivery is best-effort and throttled per tenant; a slow or failing
// webhook must never block the annotation pipeline.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const throttleKey = "webhook-deliveries"

// Notifier posts alert payloads to a configured webhook URL.
type Notifier struct {
	url          string
	maxPerMinute int
	client       *http.Client
	cache        domain.Cache
}

// NewNotifier creates a webhook notifier. An empty webhook URL disables
// delivery; a nil cache disables throttling.
func NewNotifier(cfg domain.NotifyConfig, cache domain.Cache) *Notifier {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Notifier{
		url:          cfg.WebhookURL,
		maxPerMinute: cfg.MaxPerMinute,
		client:       &http.Client{Timeout: timeout},
		cache:        cache,
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.url != ""
}

// Start subscribes the notifier to the alert topic for a tenant.
func (n *Notifier) Start(ctx context.Context, bus domain.EventBus, tenantID string) (domain.Subscription, error) {
	if !n.Enabled() {
		return nil, fmt.Errorf("webhook URL not configured")
	}

	return bus.Subscribe(ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
		if err := n.Deliver(ctx, msg.TenantID, msg.Payload); err != nil {
			slog.Warn("webhook delivery failed",
				"tenant_id", msg.TenantID,
				"message_id", msg.ID,
				"error", err,
			)
		}
		return nil
	})
}

// Deliver posts one alert payload, applying the per-tenant rate limit.
func (n *Notifier) Deliver(ctx context.Context, tenantID string, payload []byte) error {
	if !n.Enabled() {
		return nil
	}

	if n.maxPerMinute > 0 && n.cache != nil {
		count, err := n.cache.IncrementCounter(ctx, tenantID, throttleKey, time.Minute)
		if err == nil && count > int64(n.maxPerMinute) {
			slog.Debug("webhook delivery throttled",
				"tenant_id", tenantID,
				"count", count,
				"max_per_minute", n.maxPerMinute,
			)
			return nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
