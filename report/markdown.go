// Package report renders finished scan jobs as markdown documents for
// sharing outside the API. Tables carry the findings; GitHub-flavored
// alerts flag failures and severity at a glance.
package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"

	"github.com/use-agent/a11yscan/models"
)

// MarkdownWriter renders one job per Write call.
type MarkdownWriter struct {
	output io.Writer
}

// NewMarkdownWriter creates a writer that renders to output.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{output: output}
}

// Write renders the job. Pending jobs render a stub telling the reader to
// come back; failed jobs render the failure; complete jobs render the
// full findings document. Returns the rendered length in bytes.
func (w *MarkdownWriter) Write(job *models.Job) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, job)

	switch {
	case job.Status == models.StatusPending:
		md.Note("This scan is still running. Request the report again once it completes.")
		md.PlainText("")
	case job.Status == models.StatusError:
		md.Cautionf("Scan failed: %s (`%s`)", job.Error, job.ErrorCode)
		md.PlainText("")
	case job.Result != nil:
		w.writeSummary(md, job.Result)
		w.writeEngines(md, job.Result)
		w.writePage(md, job.Result)
		w.writeIssues(md, job.Result)
	}

	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, job *models.Job) {
	md.H1("Accessibility Scan Report")
	md.PlainText("")

	rows := [][]string{
		{"Target", "`" + job.TargetURL + "`"},
		{"Conformance Level", "WCAG 2.1 " + string(job.Level)},
		{"Status", statusText(job)},
	}
	if !job.UpdatedAt.IsZero() {
		rows = append(rows, []string{"Scan Date", job.UpdatedAt.Format("2006-01-02 15:04:05 MST")})
	}
	if job.Result != nil && job.Result.FinalURL != "" && job.Result.FinalURL != job.TargetURL {
		rows = append(rows, []string{"Final URL", "`" + job.Result.FinalURL + "`"})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func statusText(job *models.Job) string {
	switch job.Status {
	case models.StatusPending:
		return "⏳ Running"
	case models.StatusError:
		return "❌ Error"
	}
	if job.Result != nil {
		for _, run := range job.Result.Engines {
			if !run.OK {
				return "⚠️ Complete (partial: an engine failed)"
			}
		}
	}
	return "✅ Complete"
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, result *models.ScanResult) {
	md.H2("Severity Summary")
	md.PlainText("")

	counts := result.IssueCount()
	md.Table(markdown.TableSet{
		Header: []string{"Severity", "Count"},
		Rows: [][]string{
			{"🔴 Critical", strconv.Itoa(counts[models.SeverityCritical])},
			{"🟠 Serious", strconv.Itoa(counts[models.SeveritySerious])},
			{"🟡 Moderate", strconv.Itoa(counts[models.SeverityModerate])},
			{"🔵 Minor", strconv.Itoa(counts[models.SeverityMinor])},
			{"**Total**", "**" + strconv.Itoa(len(result.Issues)) + "**"},
		},
	})
	md.PlainText("")

	switch {
	case counts[models.SeverityCritical] > 0:
		md.Cautionf(
			"%d critical accessibility issue(s) lock some users out of this page entirely.",
			counts[models.SeverityCritical],
		)
	case counts[models.SeveritySerious] > 0:
		md.Warningf(
			"%d serious issue(s) make this page hard to use with assistive technology.",
			counts[models.SeveritySerious],
		)
	case counts[models.SeverityModerate] > 0:
		md.Importantf(
			"%d moderate issue(s) degrade the experience for some users.",
			counts[models.SeverityModerate],
		)
	case len(result.Issues) > 0:
		md.Note("Only minor issues detected.")
	default:
		md.Tip("No actionable accessibility issues detected.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeEngines(md *markdown.Markdown, result *models.ScanResult) {
	md.H2("Engines")
	md.PlainText("")

	rows := make([][]string, 0, len(result.Engines))
	var failed []string
	for _, run := range result.Engines {
		status := "✅ OK"
		if !run.OK {
			status = "❌ Failed"
			failed = append(failed, run.Engine)
		}
		rows = append(rows, []string{
			run.Engine,
			"`" + run.Ruleset + "`",
			status,
			strconv.Itoa(run.Findings),
			strconv.FormatInt(run.DurationMs, 10) + " ms",
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Engine", "Ruleset", "Status", "Findings", "Duration"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(failed) > 0 {
		md.Warningf(
			"Engine(s) %s failed to run; this report covers the remaining engine(s) only.",
			strings.Join(failed, ", "),
		)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writePage(md *markdown.Markdown, result *models.ScanResult) {
	page := result.Page
	if page.Title == "" && page.Language == "" && page.HTTPStatus == 0 && page.Overview == "" {
		return
	}

	md.H2("Page")
	md.PlainText("")

	var rows [][]string
	if page.Title != "" {
		rows = append(rows, []string{"Title", cell(page.Title, 80)})
	}
	if page.Language != "" {
		rows = append(rows, []string{"Language", page.Language})
	}
	if page.HTTPStatus != 0 {
		rows = append(rows, []string{"HTTP Status", strconv.Itoa(page.HTTPStatus)})
	}
	if page.Server != "" {
		rows = append(rows, []string{"Server", cell(page.Server, 60)})
	}
	if page.ContentType != "" {
		rows = append(rows, []string{"Content Type", cell(page.ContentType, 60)})
	}
	if len(rows) > 0 {
		md.Table(markdown.TableSet{
			Header: []string{"Property", "Value"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if page.Overview != "" {
		md.Details("Page overview", page.Overview)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeIssues(md *markdown.Markdown, result *models.ScanResult) {
	md.H2("Issues")
	md.PlainText("")

	if len(result.Issues) == 0 {
		md.PlainText("No actionable issues found.")
		md.PlainText("")
		return
	}

	severities := []struct {
		level  models.Severity
		header string
	}{
		{models.SeverityCritical, "### 🔴 Critical"},
		{models.SeveritySerious, "### 🟠 Serious"},
		{models.SeverityModerate, "### 🟡 Moderate"},
		{models.SeverityMinor, "### 🔵 Minor"},
	}

	for _, sev := range severities {
		issues := issuesBySeverity(result.Issues, sev.level)
		if len(issues) == 0 {
			continue
		}
		md.PlainText(sev.header)
		md.PlainText("")
		w.writeIssuesTable(md, issues)
	}
}

func (w *MarkdownWriter) writeIssuesTable(md *markdown.Markdown, issues []models.Finding) {
	rows := make([][]string, len(issues))
	for i, f := range issues {
		refs := strings.Join(f.WCAGRefs, ", ")
		if refs == "" {
			refs = "-"
		}
		selector := f.Selector
		if selector == "" {
			selector = "-"
		}
		rows[i] = []string{
			"`" + f.RuleID + "`",
			f.Engine,
			refs,
			cell(selector, 40),
			cell(f.Summary, 70),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"Rule", "Engine", "WCAG", "Element", "Summary"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, f := range issues {
		if f.Snippet != "" {
			md.Details(f.RuleID+" at "+cell(f.Selector, 40), cell(f.Snippet, 400))
		}
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by a11yscan*")
}

func issuesBySeverity(issues []models.Finding, sev models.Severity) []models.Finding {
	var out []models.Finding
	for _, f := range issues {
		if f.Severity == sev {
			out = append(out, f)
		}
	}
	return out
}

// cell makes a string safe for a markdown table cell: single line, pipes
// escaped, bounded length.
func cell(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "\\|")
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
