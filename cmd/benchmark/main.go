// Benchmark tool for testing the auditor service against labelled claims.
//
// Usage:
//
//	go run ./cmd/benchmark -cases configs/test_cases.json -url http://localhost:8080
//
// This tool:
//  1. Reads labelled claim cases (text plus expected risk and decision)
//  2. Sends each claim to POST /claims/evaluate
//  3. Compares the service decision with the expected decision
//  4. Reports accuracy per category, a decision confusion matrix and latency
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/decision"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/report"
)

// EvaluateRequest is the free-text request format of /claims/evaluate
type EvaluateRequest struct {
	Text string `json:"text"`
}

// Metrics tracks transport-level benchmark results
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64 // transport failures, not ERROR decisions

	latencies []time.Duration
	mu        sync.Mutex
}

func (m *Metrics) record(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func (m *Metrics) percentile(p float64) time.Duration {
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), m.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func main() {
	// Parse flags
	casesPath := flag.String("cases", "", "Path to labelled cases JSON")
	baseURL := flag.String("url", "http://localhost:8080", "Auditor base URL")
	repeat := flag.Int("repeat", 1, "Send every case this many times")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each claim result")
	flag.Parse()

	if *casesPath == "" {
		fmt.Println("Usage: benchmark -cases /path/to/cases.json [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|        MEDICARE CLAIMS AUDITOR BENCHMARK                      |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nCases File:  %s\n", *casesPath)
	fmt.Printf("Auditor URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Repeat:      %d\n", *repeat)
	fmt.Println()

	// Check the service is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: auditor not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the auditor is running:")
		fmt.Println("  go run ./cmd/auditor")
		os.Exit(1)
	}
	fmt.Println("OK auditor is healthy")

	cases, err := readCases(*casesPath, *repeat)
	if err != nil {
		fmt.Printf("ERROR: Failed to read cases: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK loaded %d cases\n", len(cases))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	results, metrics := runBenchmark(cases, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	accuracy, err := report.Accuracy(cases, results)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	summary := report.Summarize(results)

	printResults(cases, results, accuracy, summary, metrics, duration)
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

func readCases(path string, repeat int) ([]report.LabelledCase, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cases, err := report.LoadCases(file)
	if err != nil {
		return nil, err
	}
	if repeat <= 1 {
		return cases, nil
	}

	out := make([]report.LabelledCase, 0, len(cases)*repeat)
	for r := 0; r < repeat; r++ {
		for _, c := range cases {
			c.Name = fmt.Sprintf("%s#%d", c.Name, r+1)
			out = append(out, c)
		}
	}
	return out, nil
}

func runBenchmark(cases []report.LabelledCase, baseURL string, numWorkers int, verbose bool) ([]*domain.DecisionResult, *Metrics) {
	metrics := &Metrics{}
	results := make([]*domain.DecisionResult, len(cases))

	// Create work channel of case indexes
	work := make(chan int, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for idx := range work {
				c := cases[idx]
				start := time.Now()
				result, err := evaluateClaim(client, baseURL, c.Text)
				metrics.record(time.Since(start))
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					result = decision.ErrorResult(nil, err)
				}
				results[idx] = result

				if verbose {
					status := "ok"
					if result.Decision != c.ExpectedDecision {
						status = "XX"
					}
					fmt.Printf("%s %-40s | expected %-15s | got %-15s (%.3f) | risk %s\n",
						status, c.Name, c.ExpectedDecision, result.Decision, result.CompositeScore, result.RiskTier)
				}
			}
		}()
	}

	// Send work
	for i := range cases {
		work <- i
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return results, metrics
}

func evaluateClaim(client *http.Client, baseURL, text string) (*domain.DecisionResult, error) {
	body, err := json.Marshal(EvaluateRequest{Text: text})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/claims/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Claim errors come back as ERROR decision records with a 4xx status
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.DecisionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(cases []report.LabelledCase, results []*domain.DecisionResult, acc *report.AccuracyReport, summary *report.Summary, m *Metrics, duration time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                      BENCHMARK RESULTS                        |")
	fmt.Println("+---------------------------------------------------------------+")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Transport Errors: %d\n", m.TotalErrors)
	fmt.Printf("   ERROR Decisions:  %d\n", summary.Errors)

	fmt.Printf("\nDECISION CONFUSION MATRIX (rows expected, columns actual)\n")
	decisions := domain.AllDecisions
	fmt.Printf("   %-16s", "")
	for _, d := range decisions {
		fmt.Printf("%16s", d)
	}
	fmt.Println()
	for _, expected := range decisions[:3] {
		fmt.Printf("   %-16s", expected)
		for _, actual := range decisions {
			n := 0
			for i, c := range cases {
				if c.ExpectedDecision == expected && results[i].Decision == actual {
					n++
				}
			}
			fmt.Printf("%16d", n)
		}
		fmt.Println()
	}

	fmt.Printf("\nACCURACY\n")
	if err := acc.Write(os.Stdout); err != nil {
		fmt.Printf("ERROR: %v\n", err)
	}

	fmt.Printf("\nOUTCOMES\n")
	if err := summary.Write(os.Stdout); err != nil {
		fmt.Printf("ERROR: %v\n", err)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Duration:         %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Throughput:       %.1f claims/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Printf("   Latency p50:      %v\n", m.percentile(0.50).Round(time.Microsecond))
	fmt.Printf("   Latency p95:      %v\n", m.percentile(0.95).Round(time.Microsecond))
	fmt.Printf("   Latency p99:      %v\n", m.percentile(0.99).Round(time.Microsecond))
	fmt.Println()
}
