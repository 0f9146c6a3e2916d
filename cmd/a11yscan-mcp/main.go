package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// scanRequest mirrors the A11yscan API request model.
type scanRequest struct {
	URL              string `json:"url"`
	ConformanceLevel string `json:"conformance_level,omitempty"`
}

// scanAccepted mirrors the immediate submission response.
type scanAccepted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// apiError mirrors the error detail carried by non-2xx responses.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error *apiError `json:"error"`
}

// finding mirrors one normalized audit finding.
type finding struct {
	Engine   string   `json:"engine"`
	RuleID   string   `json:"rule_id"`
	Type     string   `json:"type"`
	Severity string   `json:"severity"`
	WCAGRefs []string `json:"wcag_refs"`
	Selector string   `json:"selector"`
	Summary  string   `json:"summary"`
	HelpURL  string   `json:"help_url"`
}

// jobResponse mirrors the job returned by GET /api/v1/scans/{id}.
type jobResponse struct {
	ID        string `json:"id"`
	TargetURL string `json:"target_url"`
	Level     string `json:"conformance_level"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error"`
	Result    *struct {
		FinalURL string    `json:"final_url"`
		Issues   []finding `json:"issues"`
		Passes   []finding `json:"passes"`
		Engines  []struct {
			Engine  string `json:"engine"`
			Ruleset string `json:"ruleset"`
			OK      bool   `json:"ok"`
			Error   string `json:"error"`
		} `json:"engines"`
		Page struct {
			Title    string `json:"title"`
			Language string `json:"language"`
		} `json:"page"`
		Timing struct {
			TotalMs int64 `json:"total_ms"`
		} `json:"timing"`
	} `json:"result"`
}

func main() {
	apiURL := os.Getenv("A11YSCAN_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("A11YSCAN_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "A11YSCAN_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"a11yscan",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	runScanTool := mcp.NewTool("run_scan",
		mcp.WithDescription("Run a WCAG accessibility scan against a public web page and return the findings. Uses a headless browser to render the page, runs two audit engines, and waits for the scan to finish (typically 15-60 seconds)."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to audit"),
		),
		mcp.WithString("conformance_level",
			mcp.Description("WCAG conformance level to audit against: 'AA' (default) or 'AAA'"),
			mcp.Enum("AA", "AAA"),
		),
	)
	s.AddTool(runScanTool, handleRunScan(apiURL, apiKey))

	getReportTool := mcp.NewTool("get_scan_report",
		mcp.WithDescription("Fetch the markdown report of a previously run accessibility scan by its id."),
		mcp.WithString("scan_id",
			mcp.Required(),
			mcp.Description("The scan id returned by run_scan"),
		),
	)
	s.AddTool(getReportTool, handleGetScanReport(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiPost sends a POST request to the A11yscan API and returns status and body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload interface{}) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

// apiGet sends a GET request to the A11yscan API and returns status and body.
func apiGet(ctx context.Context, client *http.Client, apiURL, apiKey, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

// pollScan polls the scan endpoint until the job leaves "pending" or the
// context is cancelled.
func pollScan(ctx context.Context, client *http.Client, apiURL, apiKey, id string) (*jobResponse, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			status, body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/scans/"+id)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}
			if status != http.StatusOK {
				return nil, fmt.Errorf("poll returned status %d: %s", status, apiErrorText(body))
			}

			var job jobResponse
			if err := json.Unmarshal(body, &job); err != nil {
				return nil, fmt.Errorf("parse poll response: %w", err)
			}
			if job.Status != "pending" {
				return &job, nil
			}
		}
	}
}

// apiErrorText extracts the error message from a non-2xx response body.
func apiErrorText(body []byte) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != nil {
		return fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)
	}
	return strings.TrimSpace(string(body))
}

func handleRunScan(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		level := request.GetString("conformance_level", "")

		// Submit the scan.
		status, respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/scans", scanRequest{
			URL:              url,
			ConformanceLevel: level,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scan request failed: %v", err)), nil
		}
		if status != http.StatusAccepted {
			return mcp.NewToolResultError(fmt.Sprintf("scan rejected: %s", apiErrorText(respBody))), nil
		}

		var accepted scanAccepted
		if err := json.Unmarshal(respBody, &accepted); err != nil || accepted.ID == "" {
			return mcp.NewToolResultError("scan submission returned no job id"), nil
		}

		// Poll until terminal.
		job, err := pollScan(ctx, client, apiURL, apiKey, accepted.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling scan failed: %v", err)), nil
		}

		if job.Status == "error" {
			return mcp.NewToolResultError(fmt.Sprintf("scan failed: [%s] %s", job.ErrorCode, job.ErrorMsg)), nil
		}
		if job.Result == nil {
			return mcp.NewToolResultError("scan completed without a result"), nil
		}

		return mcp.NewToolResultText(renderFindings(job)), nil
	}
}

func handleGetScanReport(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("scan_id")
		if err != nil {
			return mcp.NewToolResultError("scan_id is required"), nil
		}

		status, body, err := apiGet(ctx, client, apiURL, apiKey, "/api/v1/scans/"+id+"/report")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("report request failed: %v", err)), nil
		}
		switch status {
		case http.StatusOK:
			return mcp.NewToolResultText(string(body)), nil
		case http.StatusConflict:
			return mcp.NewToolResultError("scan is still running; try again shortly"), nil
		case http.StatusNotFound:
			return mcp.NewToolResultError("no scan with that id"), nil
		default:
			return mcp.NewToolResultError(fmt.Sprintf("report returned status %d: %s", status, apiErrorText(body))), nil
		}
	}
}

// renderFindings formats a completed scan compactly: a header, severity
// counts, then one line per issue. Full details stay behind
// get_scan_report.
func renderFindings(job *jobResponse) string {
	r := job.Result

	var sb strings.Builder
	title := r.Page.Title
	if title == "" {
		title = job.TargetURL
	}
	sb.WriteString(fmt.Sprintf("Accessibility scan of %s (WCAG 2.1 %s)\n", title, job.Level))
	sb.WriteString(fmt.Sprintf("URL: %s\n", r.FinalURL))
	sb.WriteString(fmt.Sprintf("Completed in %.1fs\n\n", float64(r.Timing.TotalMs)/1000))

	for _, run := range r.Engines {
		if !run.OK {
			sb.WriteString(fmt.Sprintf("WARNING: engine %q failed (%s); results are partial.\n\n", run.Engine, run.Error))
		}
	}

	if len(r.Issues) == 0 {
		sb.WriteString(fmt.Sprintf("No issues found. %d checks passed.\n", len(r.Passes)))
		return sb.String()
	}

	counts := map[string]int{}
	for _, f := range r.Issues {
		counts[f.Severity]++
	}
	sb.WriteString(fmt.Sprintf("%d issues (%d critical, %d serious, %d moderate, %d minor), %d checks passed:\n\n",
		len(r.Issues), counts["critical"], counts["serious"], counts["moderate"], counts["minor"], len(r.Passes)))

	for i, f := range r.Issues {
		sb.WriteString(fmt.Sprintf("%d. [%s] %s: %s", i+1, f.Severity, f.RuleID, f.Summary))
		if f.Selector != "" {
			sb.WriteString(fmt.Sprintf(" (at %s)", f.Selector))
		}
		if len(f.WCAGRefs) > 0 {
			sb.WriteString(fmt.Sprintf(" [WCAG %s]", strings.Join(f.WCAGRefs, ", ")))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\nUse get_scan_report with scan_id %q for the full markdown report.\n", job.ID))
	return sb.String()
}
