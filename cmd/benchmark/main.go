// Benchmark tool for testing Kestrel against labeled ledger exports.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/labeled.csv -url http://localhost:8080
//
// This tool:
//   1. Reads a ledger CSV with suspicious/clean labels
//   2. Sends each transaction to Kestrel for annotation
//   3. Compares Kestrel's alert decision with the actual labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// The expected CSV columns are: id, timestamp, chain, symbol, amount,
// fee, direction, memo, from_address, to_address, is_suspicious.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction represents a row from a labeled ledger export
type LabeledTransaction struct {
	ID           string
	Timestamp    string
	Chain        string
	Symbol       string
	Amount       string
	Fee          string
	Direction    string
	Memo         string
	FromAddress  string
	ToAddress    string
	IsSuspicious bool
}

// AnnotateResponse is the subset of the Kestrel API response the
// benchmark cares about
type AnnotateResponse struct {
	Annotation struct {
		ID        string   `json:"id"`
		Category  string   `json:"category"`
		RiskScore string   `json:"riskScore"`
		RiskFlags []string `json:"riskFlags"`
		Alerted   bool     `json:"alerted"`
	} `json:"annotation"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Suspicious and alerted
	FalsePositives int64 // Clean but alerted
	TrueNegatives  int64 // Clean and not alerted
	FalseNegatives int64 // Suspicious but not alerted (missed!)

	TotalProcessed  int64
	TotalSuspicious int64
	TotalClean      int64
	TotalErrors     int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled ledger CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	suspiciousOnly := flag.Bool("suspicious-only", false, "Only test suspicious transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for clean transactions (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labeled.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Labeled Ledger Annotation          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Susp. Only:  %v\n", *suspiciousOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled data from %s...\n", *csvPath)
	transactions, err := readLabeledCSV(*csvPath, *limit, *suspiciousOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	// Count suspicious vs clean
	suspiciousCount := 0
	for _, tx := range transactions {
		if tx.IsSuspicious {
			suspiciousCount++
		}
	}
	fmt.Printf("  - Suspicious: %d (%.2f%%)\n", suspiciousCount, 100*float64(suspiciousCount)/float64(len(transactions)))
	fmt.Printf("  - Clean:      %d (%.2f%%)\n", len(transactions)-suspiciousCount, 100*float64(len(transactions)-suspiciousCount)/float64(len(transactions)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLabeledCSV(path string, limit int, suspiciousOnly bool, sampleRate float64) ([]LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	field := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var transactions []LabeledTransaction
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		label := strings.ToLower(field(record, "is_suspicious"))
		isSuspicious := label == "1" || label == "true"

		// Apply filters
		if suspiciousOnly && !isSuspicious {
			continue
		}

		// Sample clean transactions
		if !isSuspicious && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		tx := LabeledTransaction{
			ID:           field(record, "id"),
			Timestamp:    field(record, "timestamp"),
			Chain:        field(record, "chain"),
			Symbol:       field(record, "symbol"),
			Amount:       field(record, "amount"),
			Fee:          field(record, "fee"),
			Direction:    field(record, "direction"),
			Memo:         field(record, "memo"),
			FromAddress:  field(record, "from_address"),
			ToAddress:    field(record, "to_address"),
			IsSuspicious: isSuspicious,
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

func runBenchmark(transactions []LabeledTransaction, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := annotateTransaction(client, baseURL, tenantID, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.ID, err)
					}
					continue
				}

				// Track actual labels
				if tx.IsSuspicious {
					atomic.AddInt64(&metrics.TotalSuspicious, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				// Calculate confusion matrix
				predicted := result.Annotation.Alerted
				actual := tx.IsSuspicious

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					id := tx.ID
					if len(id) > 12 {
						id = id[:12]
					}
					fmt.Printf("%s %-12s | %-5s %-6s | Amount: %12s | Suspicious: %-5v | Kestrel: alerted=%-5v score=%s (%s)\n",
						status,
						id,
						tx.Chain,
						tx.Direction,
						tx.Amount,
						tx.IsSuspicious,
						result.Annotation.Alerted,
						result.Annotation.RiskScore,
						result.Annotation.Category,
					)
				}
			}
		}()
	}

	// Send work
	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func annotateTransaction(client *http.Client, baseURL, tenantID string, tx LabeledTransaction) (*AnnotateResponse, error) {
	// Build raw payload matching Kestrel's ingest format. Amount and
	// fee stay strings so the engine parses them exactly.
	req := map[string]any{
		"id":           tx.ID,
		"timestamp":    tx.Timestamp,
		"chain":        tx.Chain,
		"symbol":       tx.Symbol,
		"amount":       tx.Amount,
		"fee":          tx.Fee,
		"direction":    tx.Direction,
		"memo":         tx.Memo,
		"from_address": tx.FromAddress,
		"to_address":   tx.ToAddress,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/annotate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnnotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:   %d\n", m.TotalProcessed)
	fmt.Printf("   Total Suspicious:  %d\n", m.TotalSuspicious)
	fmt.Printf("   Total Clean:       %d\n", m.TotalClean)
	fmt.Printf("   Errors:            %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   ALERT       CLEAR")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actually suspicious)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of suspicious, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalSuspicious > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalSuspicious) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalSuspicious) * 100
		fmt.Printf("   Suspicious Caught: %d / %d (%.2f%%)\n", m.TruePositives, m.TotalSuspicious, detectionRate)
		fmt.Printf("   Suspicious Missed: %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalSuspicious, missRate)
	}
	if m.TotalClean > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalClean) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalClean, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most suspicious flow")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some suspicious flow")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant suspicious flow being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most suspicious flow is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
