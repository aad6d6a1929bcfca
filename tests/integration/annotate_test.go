//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel ledger
// annotation engine.
//
// These tests verify the COMPLETE annotation pipeline:
//
//	Raw payload → Normalize → Risk score → Compliance tags → Alerts
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. TRANSACTION: A ledger movement on some chain (xrpl, bsc, a CSV
//    export). Amounts and fees are exact decimal strings.
//
// 2. RISK SCORE: A deterministic score in [0, 1] built from additive
//    bumps (magnitude, direction, fee ratio, memo terms, tags) and a
//    discount for transfers between the tenant's own addresses.
//
// 3. CATEGORY: One compliance label per transaction (income, expense,
//    fee, trade, transfer, unknown), picked from weighted keyword and
//    heuristic matches.
//
// 4. ALERT: CEL rules evaluated against the annotated transaction.
//    The stock deployment ships one rule: risk >= 0.75.
//
// PREREQUISITES: a running Kestrel instance with default configuration
// (built-in keywords, built-in high-risk alert rule). Tests that
// register owned addresses clean up after themselves.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// ============================================================================
// API Response Types (matching Kestrel's API contract)
// ============================================================================

// AnnotateResponse is what POST /annotate returns
type AnnotateResponse struct {
	Transaction struct {
		ID        string `json:"id"`
		Chain     string `json:"chain"`
		Amount    string `json:"amount"`
		Fee       string `json:"fee"`
		Direction string `json:"direction"`
	} `json:"transaction"`
	Annotation struct {
		ID         string `json:"id"`
		TxID       string `json:"txId"`
		Category   string `json:"category"`
		RiskScore  string `json:"riskScore"`
		RiskFlags  []string `json:"riskFlags"`
		Alerted    bool `json:"alerted"`
		TagResults []struct {
			Category string `json:"category"`
			Score    string `json:"score"`
		} `json:"tagResults"`
		AlertMatches []struct {
			RuleID   string `json:"ruleId"`
			Severity string `json:"severity"`
		} `json:"alertMatches"`
		Metadata struct {
			TraceID       string `json:"traceId"`
			TotalMs       int64  `json:"totalMs"`
			EngineVersion string `json:"engineVersion"`
		} `json:"metadata"`
	} `json:"annotation"`
}

// BatchResponse is what POST /annotate/batch returns
type BatchResponse struct {
	Entries []AnnotateResponse `json:"entries"`
	Summary struct {
		TotalIn         string         `json:"totalIn"`
		TotalOut        string         `json:"totalOut"`
		Fees            string         `json:"fees"`
		SuspiciousCount int            `json:"suspiciousCount"`
		Transactions    int            `json:"transactions"`
		Categories      map[string]int `json:"categories"`
	} `json:"summary"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func doRequest(t *testing.T, config TestConfig, method, path string, payload any) ([]byte, int) {
	t.Helper()

	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, reqBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	return respBody, resp.StatusCode
}

func annotate(t *testing.T, config TestConfig, raw map[string]any) AnnotateResponse {
	t.Helper()

	body, status := doRequest(t, config, "POST", "/annotate", raw)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result AnnotateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}

	return result
}

// ============================================================================
// SCENARIO 1: Routine Incoming Transaction (No Alert)
// ============================================================================

func TestIncomingSalary_LowRiskIncome(t *testing.T) {
	/*
	   SCENARIO: A routine incoming salary payment of 2500

	   EXPECTED BEHAVIOR:
	   - Risk: base 0.10 - incoming discount 0.05 = 0.05
	     (magnitude bumps only apply to outgoing flow)
	   - Category: "salary" memo matches the income keyword list
	   - Alerts: 0.05 < 0.75, no alert

	   FINAL: category=income, riskScore=0.05, alerted=false
	*/
	config := getTestConfig()

	result := annotate(t, config, map[string]any{
		"id":        fmt.Sprintf("it-salary-%d", time.Now().UnixNano()),
		"chain":     "xrpl",
		"symbol":    "XRP",
		"amount":    "2500",
		"fee":       "0",
		"direction": "in",
		"memo":      "monthly salary payment",
	})

	// ASSERTIONS
	if result.Annotation.Category != "income" {
		t.Errorf("Expected category income, got %s", result.Annotation.Category)
	}

	if result.Annotation.RiskScore != "0.05" {
		t.Errorf("Expected risk score 0.05, got %s", result.Annotation.RiskScore)
	}

	if result.Annotation.Alerted {
		t.Errorf("Expected no alert, got matches %v", result.Annotation.AlertMatches)
	}

	t.Logf("✓ Salary annotated: category=%s, risk=%s", result.Annotation.Category, result.Annotation.RiskScore)
}

// ============================================================================
// SCENARIO 2: High-Risk Outgoing Transaction (Alert Fires)
// ============================================================================

func TestMixerWithdrawal_Alerted(t *testing.T) {
	/*
	   SCENARIO: A 50,000 outgoing payment with a mixer memo

	   EXPECTED BEHAVIOR:
	   - Risk: base 0.10 + outgoing bumps (>0 0.10, >100 0.10,
	     >1000 0.15, >10000 0.15) + memo term "mixer" (0.20 + 0.05) = 0.85
	   - Category: no keyword match on an outgoing amount → expense
	   - Alerts: 0.85 >= 0.75 → the stock high-risk rule fires

	   FINAL: alerted=true with rule-high-risk in the matches
	*/
	config := getTestConfig()

	result := annotate(t, config, map[string]any{
		"id":        fmt.Sprintf("it-mixer-%d", time.Now().UnixNano()),
		"chain":     "bsc",
		"symbol":    "BNB",
		"amount":    "50000",
		"fee":       "0",
		"direction": "out",
		"memo":      "mixer deposit",
	})

	if result.Annotation.RiskScore != "0.85" {
		t.Errorf("Expected risk score 0.85, got %s", result.Annotation.RiskScore)
	}

	if !result.Annotation.Alerted {
		t.Fatalf("Expected alert for risk %s", result.Annotation.RiskScore)
	}

	found := false
	for _, m := range result.Annotation.AlertMatches {
		if m.RuleID == "rule-high-risk" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected rule-high-risk match, got %v", result.Annotation.AlertMatches)
	}

	t.Logf("✓ Mixer withdrawal alerted: risk=%s", result.Annotation.RiskScore)
}

// ============================================================================
// SCENARIO 3: Fee Ratio Boundary (Exactly 1%)
// ============================================================================

func TestFeeRatioBoundary_NotFlagged(t *testing.T) {
	/*
	   SCENARIO: An outgoing payment of 100 with a fee of exactly 1 (1%)

	   EXPECTED BEHAVIOR:
	   - The fee ratio comparison is strictly greater than 0.01, so a
	     ratio of exactly 0.01 must NOT add the high_fee_ratio bump
	   - Risk: 0.10 base + 0.10 nonzero outgoing (100 is not > 100,
	     no medium bump) + 0.05 fee_present = 0.25

	   WHY THIS TEST:
	   Boundary conditions catch off-by-one errors in threshold logic,
	   and float arithmetic would get this one wrong.
	*/
	config := getTestConfig()

	result := annotate(t, config, map[string]any{
		"id":        fmt.Sprintf("it-feeratio-%d", time.Now().UnixNano()),
		"chain":     "xrpl",
		"symbol":    "XRP",
		"amount":    "100",
		"fee":       "1",
		"direction": "out",
	})

	if result.Annotation.RiskScore != "0.25" {
		t.Errorf("Expected risk score 0.25 at the 1%% boundary, got %s", result.Annotation.RiskScore)
	}

	for _, f := range result.Annotation.RiskFlags {
		if f == "high_fee_ratio" {
			t.Errorf("high_fee_ratio must not fire at exactly 1%%")
		}
	}

	t.Logf("✓ Fee ratio boundary respected: risk=%s", result.Annotation.RiskScore)
}

// ============================================================================
// SCENARIO 4: Internal Transfer Between Owned Addresses
// ============================================================================

func TestInternalTransfer_DiscountedAndLabeled(t *testing.T) {
	/*
	   SCENARIO: The tenant registers two addresses, then moves 1000
	   between them.

	   EXPECTED BEHAVIOR:
	   - Ownership: both endpoints owned → isInternal
	   - Category: internal transfer heuristic wins → transfer
	   - Risk: 0.10 + 0.10 nonzero + 0.10 medium (1000 > 100)
	     - 0.25 internal discount = 0.05
	*/
	config := getTestConfig()

	addrA := fmt.Sprintf("rIntegrationA%d", time.Now().UnixNano())
	addrB := fmt.Sprintf("rIntegrationB%d", time.Now().UnixNano())

	body, status := doRequest(t, config, "POST", "/addresses", map[string]any{
		"addresses": []string{addrA, addrB},
	})
	if status != http.StatusOK && status != http.StatusCreated {
		t.Fatalf("Failed to register addresses: %d %s", status, string(body))
	}
	defer func() {
		doRequest(t, config, "DELETE", "/addresses/"+addrA, nil)
		doRequest(t, config, "DELETE", "/addresses/"+addrB, nil)
	}()

	result := annotate(t, config, map[string]any{
		"id":           fmt.Sprintf("it-internal-%d", time.Now().UnixNano()),
		"chain":        "xrpl",
		"symbol":       "XRP",
		"amount":       "1000",
		"fee":          "0",
		"direction":    "out",
		"from_address": addrA,
		"to_address":   addrB,
	})

	if result.Annotation.Category != "transfer" {
		t.Errorf("Expected category transfer, got %s", result.Annotation.Category)
	}

	if result.Annotation.RiskScore != "0.05" {
		t.Errorf("Expected discounted risk 0.05, got %s", result.Annotation.RiskScore)
	}

	t.Logf("✓ Internal transfer: category=%s, risk=%s", result.Annotation.Category, result.Annotation.RiskScore)
}

// ============================================================================
// SCENARIO 5: Malformed Payload Degrades, Never Errors
// ============================================================================

func TestMalformedPayload_GracefulDegradation(t *testing.T) {
	/*
	   SCENARIO: A payload with a junk amount, an unknown direction and
	   no memo.

	   EXPECTED BEHAVIOR:
	   - Amount parses to 0, direction coerces to "unknown"
	   - Risk: base only → 0.1
	   - Category: nothing matches → unknown
	   - The request still returns 200
	*/
	config := getTestConfig()

	result := annotate(t, config, map[string]any{
		"id":        fmt.Sprintf("it-malformed-%d", time.Now().UnixNano()),
		"chain":     "csv",
		"amount":    "not-a-number",
		"direction": "sideways",
	})

	if result.Annotation.RiskScore != "0.1" {
		t.Errorf("Expected base risk 0.1 for malformed input, got %s", result.Annotation.RiskScore)
	}

	if result.Annotation.Category != "unknown" {
		t.Errorf("Expected category unknown, got %s", result.Annotation.Category)
	}

	t.Logf("✓ Malformed payload degraded gracefully")
}

// ============================================================================
// SCENARIO 6: Batch Annotation With Summary
// ============================================================================

func TestBatchAnnotation_Summary(t *testing.T) {
	/*
	   SCENARIO: A three-transaction batch: an airdrop in, a gas fee,
	   and a large suspicious withdrawal.

	   EXPECTED BEHAVIOR:
	   - Per-entry annotations are independent
	   - The summary counts categories and suspicious entries, and
	     totals are exact decimal strings
	*/
	config := getTestConfig()

	nano := time.Now().UnixNano()
	batch := []map[string]any{
		{
			"id": fmt.Sprintf("it-batch-a-%d", nano), "chain": "bsc",
			"amount": "150", "fee": "0", "direction": "in", "memo": "token airdrop",
		},
		{
			"id": fmt.Sprintf("it-batch-b-%d", nano), "chain": "bsc",
			"amount": "0", "fee": "0.002", "direction": "out", "memo": "gas",
		},
		{
			"id": fmt.Sprintf("it-batch-c-%d", nano), "chain": "bsc",
			"amount": "25000", "fee": "0", "direction": "out", "memo": "darknet settlement",
		},
	}

	body, status := doRequest(t, config, "POST", "/annotate/batch", batch)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result BatchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal batch response: %v", err)
	}

	if len(result.Entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(result.Entries))
	}

	if result.Summary.Transactions != 3 {
		t.Errorf("Expected 3 transactions in summary, got %d", result.Summary.Transactions)
	}
	if result.Summary.Categories["income"] != 1 {
		t.Errorf("Expected 1 income entry, got %d", result.Summary.Categories["income"])
	}
	if result.Summary.Categories["fee"] != 1 {
		t.Errorf("Expected 1 fee entry, got %d", result.Summary.Categories["fee"])
	}
	if result.Summary.SuspiciousCount < 1 {
		t.Errorf("Expected at least one suspicious entry, got %d", result.Summary.SuspiciousCount)
	}

	t.Logf("✓ Batch summarized: %+v", result.Summary)
}

// ============================================================================
// SCENARIO 7: Annotations Are Retrievable After the Fact
// ============================================================================

func TestAnnotationPersistence_Roundtrip(t *testing.T) {
	/*
	   SCENARIO: Annotate a transaction, then fetch it back by ID.

	   EXPECTED BEHAVIOR:
	   - GET /annotations/{id} returns the same category and risk score
	   - GET /transactions/{id} returns the stored transaction with the
	     exact decimal amount
	*/
	config := getTestConfig()

	txID := fmt.Sprintf("it-persist-%d", time.Now().UnixNano())
	created := annotate(t, config, map[string]any{
		"id": txID, "chain": "xrpl", "symbol": "XRP",
		"amount": "1234.567890123", "fee": "0.00001", "direction": "out",
	})

	body, status := doRequest(t, config, "GET", "/annotations/"+created.Annotation.ID, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 fetching annotation, got %d: %s", status, string(body))
	}

	var fetched struct {
		Category  string `json:"category"`
		RiskScore string `json:"riskScore"`
	}
	if err := json.Unmarshal(body, &fetched); err != nil {
		t.Fatalf("Failed to unmarshal annotation: %v", err)
	}
	if fetched.RiskScore != created.Annotation.RiskScore {
		t.Errorf("Risk score changed across persistence: %s vs %s", fetched.RiskScore, created.Annotation.RiskScore)
	}

	body, status = doRequest(t, config, "GET", "/transactions/"+txID, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200 fetching transaction, got %d: %s", status, string(body))
	}

	var tx struct {
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(body, &tx); err != nil {
		t.Fatalf("Failed to unmarshal transaction: %v", err)
	}
	if tx.Amount != "1234.567890123" {
		t.Errorf("Expected exact decimal round-trip, got %s", tx.Amount)
	}

	t.Logf("✓ Annotation and transaction persisted exactly")
}
