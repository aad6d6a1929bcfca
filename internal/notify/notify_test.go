package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestDeliver(t *testing.T) {
	var received atomic.Int32
	var lastTenant atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		lastTenant.Store(r.Header.Get("X-Tenant-ID"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier(domain.NotifyConfig{WebhookURL: server.URL}, nil)

	if err := notifier.Deliver(context.Background(), "tenant-001", []byte(`{"alert":true}`)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if received.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", received.Load())
	}
	if lastTenant.Load() != "tenant-001" {
		t.Errorf("expected tenant header, got %v", lastTenant.Load())
	}
}

func TestDeliverDisabled(t *testing.T) {
	notifier := NewNotifier(domain.NotifyConfig{}, nil)

	if notifier.Enabled() {
		t.Error("expected notifier to be disabled without URL")
	}
	if err := notifier.Deliver(context.Background(), "tenant-001", []byte("x")); err != nil {
		t.Errorf("disabled delivery must be a no-op, got %v", err)
	}
}

func TestDeliverErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewNotifier(domain.NotifyConfig{WebhookURL: server.URL}, nil)

	if err := notifier.Deliver(context.Background(), "tenant-001", []byte("x")); err == nil {
		t.Error("expected error for 5xx response")
	}
}

func TestThrottling(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	throttleCache := cache.NewLRUCache(100)
	notifier := NewNotifier(domain.NotifyConfig{
		WebhookURL:   server.URL,
		MaxPerMinute: 2,
	}, throttleCache)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := notifier.Deliver(ctx, "tenant-001", []byte("x")); err != nil {
			t.Fatalf("Deliver failed: %v", err)
		}
	}

	if received.Load() != 2 {
		t.Errorf("expected 2 deliveries within rate limit, got %d", received.Load())
	}

	// A different tenant gets its own window.
	if err := notifier.Deliver(ctx, "tenant-002", []byte("x")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if received.Load() != 3 {
		t.Errorf("expected per-tenant throttle windows, got %d", received.Load())
	}
}
