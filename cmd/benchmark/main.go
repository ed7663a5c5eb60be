// Benchmark tool for replaying a labeled financial dataset against Sentinel.
//
// Usage:
//
//	go run ./cmd/benchmark -csv data/financial_intelligence.csv -url http://localhost:8080
//
// This tool:
//  1. Reads the financial dataset (tax_filing_income, dob, address, asset_flag)
//  2. Labels each row with the proxy ground truth used for training
//  3. Sends each row to POST /applicants/scan
//  4. Compares the returned red verdict with the label and reports
//     precision, recall, F1-score, the confusion matrix and latency
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/sentinel/internal/classifier"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// labeledApplicant is one dataset row with its proxy label.
type labeledApplicant struct {
	Applicant domain.Applicant
	IsFraud   bool
}

// Results tracks benchmark outcomes.
type Results struct {
	TruePositives  int64 // Fraud scored red
	FalsePositives int64 // Non-fraud scored red
	TrueNegatives  int64 // Non-fraud scored clean
	FalseNegatives int64 // Fraud scored clean (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	// LatenciesMs holds one entry per request, indexed by row.
	LatenciesMs []float64
}

func main() {
	csvPath := flag.String("csv", "", "Path to the financial dataset CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Sentinel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 5000, "Maximum rows to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent requests")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay rows labeled fraud")
	verbose := flag.Bool("verbose", false, "Print each row result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/financial_intelligence.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        SENTINEL BENCHMARK - Welfare Applicant Screening       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Sentinel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Printf("Fraud Only:   %v\n", *fraudOnly)
	fmt.Println()

	client := &http.Client{Timeout: 30 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Sentinel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Sentinel is running:")
		fmt.Println("  go run ./cmd/sentinel")
		os.Exit(1)
	}
	fmt.Println("✓ Sentinel is healthy")

	ctx := context.Background()
	fmt.Printf("\nReading dataset from %s...\n", *csvPath)
	rows, err := readDataset(ctx, *csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Println("ERROR: no usable rows in dataset")
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d applicants\n", len(rows))

	fraudCount := 0
	for _, r := range rows {
		if r.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(rows)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(rows)-fraudCount, 100*float64(len(rows)-fraudCount)/float64(len(rows)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	results := runBenchmark(ctx, client, rows, *baseURL, *tenantID, *workers, *verbose)
	printResults(results, time.Since(start))
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readDataset(ctx context.Context, path string, limit int, fraudOnly bool) ([]labeledApplicant, error) {
	records, err := (&classifier.CSVSource{Path: path}).Load(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]labeledApplicant, 0, len(records))
	for i, r := range records {
		isFraud := classifier.Label(r) == 1
		if fraudOnly && !isFraud {
			continue
		}
		rows = append(rows, labeledApplicant{
			Applicant: domain.Applicant{
				ID:             fmt.Sprintf("BENCH-%06d", i+1),
				Name:           fmt.Sprintf("Benchmark Applicant %d", i+1),
				DateOfBirth:    r.DateOfBirth,
				Address:        r.Address,
				DeclaredIncome: r.Income,
				AssetCategory:  r.AssetCategory,
			},
			IsFraud: isFraud,
		})
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

func runBenchmark(ctx context.Context, client *http.Client, rows []labeledApplicant, baseURL, tenantID string, numWorkers int, verbose bool) *Results {
	results := &Results{LatenciesMs: make([]float64, len(rows))}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			start := time.Now()
			assessment, err := scanApplicant(ctx, client, baseURL, tenantID, row.Applicant)
			results.LatenciesMs[i] = float64(time.Since(start).Microseconds()) / 1000
			atomic.AddInt64(&results.TotalProcessed, 1)

			if err != nil {
				atomic.AddInt64(&results.TotalErrors, 1)
				if verbose {
					fmt.Printf("ERROR: %s -> %v\n", row.Applicant.ID, err)
				}
				return nil
			}

			predicted := redVerdict(assessment)
			actual := row.IsFraud
			results.record(predicted, actual)

			if verbose {
				status := "✓"
				if predicted != actual {
					status = "✗"
				}
				fmt.Printf("%s %-12s | Income: ₹%12.2f | Asset: %-12s | Fraud: %-5v | Sentinel: %-12s (%.2f) | Flags: %d\n",
					status,
					row.Applicant.ID,
					row.Applicant.DeclaredIncome,
					row.Applicant.AssetCategory,
					actual,
					assessment.RiskStatus,
					assessment.FraudProbability,
					len(assessment.Flags),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// redVerdict reports whether the service scored the applicant red.
func redVerdict(a *domain.ApplicantAssessment) bool {
	return a.RiskStatus == domain.RiskStatusRed
}

// record adds one scored row to the confusion matrix.
func (r *Results) record(predicted, actual bool) {
	if actual {
		atomic.AddInt64(&r.TotalFraud, 1)
	} else {
		atomic.AddInt64(&r.TotalNonFraud, 1)
	}

	switch {
	case predicted && actual:
		atomic.AddInt64(&r.TruePositives, 1)
	case predicted && !actual:
		atomic.AddInt64(&r.FalsePositives, 1)
	case !predicted && !actual:
		atomic.AddInt64(&r.TrueNegatives, 1)
	default:
		atomic.AddInt64(&r.FalseNegatives, 1)
	}
}

func scanApplicant(ctx context.Context, client *http.Client, baseURL, tenantID string, a domain.Applicant) (*domain.ApplicantAssessment, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/applicants/scan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var rec domain.AssessmentRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, err
	}
	if rec.Applicant == nil {
		return nil, errors.New("response carries no applicant assessment")
	}
	return rec.Applicant, nil
}

func printResults(m *Results, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    FRAUD       CLEAN")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

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
	fmt.Printf("   Precision:  %.4f  (of red verdicts, how many were labeled fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of labeled fraud, how many were caught)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	if m.TotalFraud > 0 {
		fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, float64(m.TruePositives)/float64(m.TotalFraud)*100)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud, float64(m.FalseNegatives)/float64(m.TotalFraud)*100)
	}
	if m.TotalNonFraud > 0 {
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, float64(m.FalsePositives)/float64(m.TotalNonFraud)*100)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		latencies := stats.Float64Data(m.LatenciesMs)
		mean, _ := latencies.Mean()
		p50, _ := latencies.Percentile(50)
		p95, _ := latencies.Percentile(95)
		p99, _ := latencies.Percentile(99)
		fmt.Printf("   Avg Latency:      %.2f ms\n", mean)
		fmt.Printf("   p50 / p95 / p99:  %.2f / %.2f / %.2f ms\n", p50, p95, p99)
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	switch {
	case recall >= 0.9:
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	case recall >= 0.7:
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	case recall >= 0.5:
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	default:
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}
	switch {
	case precision >= 0.5:
		fmt.Println("   ✅ Good precision - red verdicts are meaningful")
	case precision >= 0.2:
		fmt.Println("   ⚠️  Low precision - many false alarms")
	default:
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
