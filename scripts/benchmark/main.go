package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "A11yscan API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of runs per URL for averaging")
	level  = flag.String("level", "AA", "WCAG conformance level (AA or AAA)")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering 5 site types.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Blog", "https://go.dev/blog/go1.21"},
	{"Docs", "https://go.dev/doc/effective_go"},
	{"News", "https://www.bbc.com/news"},
	{"Complex", "https://github.com/go-rod/rod"},
}

// --- Request / Response types (mirrors models package) ---

type scanRequest struct {
	URL              string `json:"url"`
	ConformanceLevel string `json:"conformance_level,omitempty"`
}

type scanAccepted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type jobResponse struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	ErrorCode string      `json:"error_code"`
	ErrorMsg  string      `json:"error"`
	Result    *scanResult `json:"result"`
}

type scanResult struct {
	Issues  []json.RawMessage `json:"issues"`
	Passes  []json.RawMessage `json:"passes"`
	Engines []engineRun       `json:"engines"`
	Page    pageInfo          `json:"page"`
	Timing  timingInfo        `json:"timing"`
}

type engineRun struct {
	Engine string `json:"engine"`
	OK     bool   `json:"ok"`
}

type pageInfo struct {
	Title      string `json:"title"`
	HTTPStatus int    `json:"http_status"`
}

type timingInfo struct {
	TotalMs      int64 `json:"total_ms"`
	NavigationMs int64 `json:"navigation_ms"`
	AuditMs      int64 `json:"audit_ms"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *errorDetail `json:"error"`
}

// --- Benchmark result types ---

type runResult struct {
	Run          int    `json:"run"`
	WallMs       int64  `json:"wall_ms"`
	TotalMs      int64  `json:"total_ms"`
	NavigationMs int64  `json:"navigation_ms"`
	AuditMs      int64  `json:"audit_ms"`
	Issues       int    `json:"issues"`
	Passes       int    `json:"passes"`
	EnginesOK    int    `json:"engines_ok"`
	HTTPStatus   int    `json:"http_status"`
	HasTitle     bool   `json:"has_title"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

type urlAverages struct {
	WallMs       float64 `json:"wall_ms"`
	TotalMs      float64 `json:"total_ms"`
	NavigationMs float64 `json:"navigation_ms"`
	AuditMs      float64 `json:"audit_ms"`
	Issues       float64 `json:"issues"`
}

type urlResult struct {
	URL      string       `json:"url"`
	Label    string       `json:"label"`
	Runs     []runResult  `json:"runs"`
	Averages *urlAverages `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp  string      `json:"timestamp"`
	APIURL     string      `json:"api_url"`
	Level      string      `json:"conformance_level"`
	RunsPerURL int         `json:"runs_per_url"`
	Results    []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== A11yscan Benchmark Suite ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Level:     %s\n", *level)
	fmt.Printf("Runs/URL:  %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure A11yscan is running (e.g. make run)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		Level:      *level,
		RunsPerURL: *runs,
	}

	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkURL(t.URL, i)
			if rr.Success {
				fmt.Printf("OK  %dms wall (%dms scan)  %d issues\n", rr.WallMs, rr.TotalMs, rr.Issues)
			} else {
				fmt.Printf("FAILED: %s\n", rr.Error)
			}
			ur.Runs = append(ur.Runs, rr)
		}

		ur.Averages = computeAverages(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	// Print summary table.
	printTable(report.Results)

	// Write JSON report.
	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// benchmarkURL submits one scan and polls it to a terminal state, measuring
// wall time from submission to completion alongside the server's own timing.
func benchmarkURL(url string, run int) runResult {
	rr := runResult{Run: run}
	start := time.Now()

	id, err := submitScan(url)
	if err != nil {
		rr.Error = err.Error()
		return rr
	}

	job, err := pollScan(id, 5*time.Minute)
	if err != nil {
		rr.Error = err.Error()
		return rr
	}
	rr.WallMs = time.Since(start).Milliseconds()

	if job.Status == "error" {
		rr.Error = fmt.Sprintf("[%s] %s", job.ErrorCode, job.ErrorMsg)
		return rr
	}
	if job.Result == nil {
		rr.Error = "completed without result"
		return rr
	}

	rr.Success = true
	rr.TotalMs = job.Result.Timing.TotalMs
	rr.NavigationMs = job.Result.Timing.NavigationMs
	rr.AuditMs = job.Result.Timing.AuditMs
	rr.Issues = len(job.Result.Issues)
	rr.Passes = len(job.Result.Passes)
	rr.HTTPStatus = job.Result.Page.HTTPStatus
	rr.HasTitle = job.Result.Page.Title != ""
	for _, e := range job.Result.Engines {
		if e.OK {
			rr.EnginesOK++
		}
	}
	return rr
}

func submitScan(url string) (string, error) {
	bodyBytes, err := json.Marshal(scanRequest{URL: url, ConformanceLevel: *level})
	if err != nil {
		return "", fmt.Errorf("marshal error: %v", err)
	}

	req, err := http.NewRequest("POST", *apiURL+"/api/v1/scans", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("request error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var er errorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != nil {
			return "", fmt.Errorf("submit rejected: [%s] %s", er.Error.Code, er.Error.Message)
		}
		return "", fmt.Errorf("submit returned status %d", resp.StatusCode)
	}

	var accepted scanAccepted
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("decode error: %v", err)
	}
	if accepted.ID == "" {
		return "", fmt.Errorf("submit returned no job id")
	}
	return accepted.ID, nil
}

func pollScan(id string, deadline time.Duration) (*jobResponse, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	until := time.Now().Add(deadline)

	for time.Now().Before(until) {
		time.Sleep(2 * time.Second)

		req, err := http.NewRequest("GET", *apiURL+"/api/v1/scans/"+id, nil)
		if err != nil {
			return nil, fmt.Errorf("request error: %v", err)
		}
		if *apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+*apiKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("poll failed: %v", err)
		}

		var job jobResponse
		err = json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode error: %v", err)
		}

		if job.Status != "pending" {
			return &job, nil
		}
	}
	return nil, fmt.Errorf("scan %s did not finish within %s", id, deadline)
}

func computeAverages(runs []runResult) *urlAverages {
	var successCount int
	var avg urlAverages

	for _, r := range runs {
		if !r.Success {
			continue
		}
		successCount++
		avg.WallMs += float64(r.WallMs)
		avg.TotalMs += float64(r.TotalMs)
		avg.NavigationMs += float64(r.NavigationMs)
		avg.AuditMs += float64(r.AuditMs)
		avg.Issues += float64(r.Issues)
	}

	if successCount == 0 {
		return nil
	}

	n := float64(successCount)
	avg.WallMs /= n
	avg.TotalMs /= n
	avg.NavigationMs /= n
	avg.AuditMs /= n
	avg.Issues /= n
	return &avg
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tAvg Wall\tAvg Scan\tAvg Audit\tIssues\tHTTP\n")
	fmt.Fprintf(w, "───\t────────\t────────\t─────────\t──────\t────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\t-\n", truncateURL(r.URL, 40))
			continue
		}

		// Determine dominant HTTP status from runs.
		status := dominantStatus(r.Runs)

		fmt.Fprintf(w, "%s\t%dms\t%dms\t%dms\t%.1f\t%d\n",
			truncateURL(r.URL, 40),
			int64(r.Averages.WallMs),
			int64(r.Averages.TotalMs),
			int64(r.Averages.AuditMs),
			r.Averages.Issues,
			status,
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func dominantStatus(runs []runResult) int {
	counts := map[int]int{}
	for _, r := range runs {
		if r.Success {
			counts[r.HTTPStatus]++
		}
	}
	best, bestCount := 0, 0
	for code, count := range counts {
		if count > bestCount {
			best = code
			bestCount = count
		}
	}
	return best
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
