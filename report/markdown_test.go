package report

import (
	"strings"
	"testing"
	"time"

	"github.com/use-agent/a11yscan/models"
)

func completeJob() *models.Job {
	return &models.Job{
		ID:        "job-1",
		TargetURL: "https://example.com/",
		Level:     models.LevelAA,
		Status:    models.StatusComplete,
		UpdatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Result: &models.ScanResult{
			TargetURL: "https://example.com/",
			FinalURL:  "https://www.example.com/",
			Level:     models.LevelAA,
			Issues: []models.Finding{
				{
					Engine: "rules", RuleID: "img-alt",
					Type: models.TypeViolation, Severity: models.SeverityCritical,
					WCAGRefs: []string{"1.1.1"}, Selector: "#hero > img",
					Snippet: `<img src="hero.png">`, Summary: "Images must have alternate text",
				},
				{
					Engine: "criteria", RuleID: "WCAG2AA.Principle1.Guideline1_4.1_4_3.G18",
					Type: models.TypeWarning, Severity: models.SeveritySerious,
					WCAGRefs: []string{"1.4.3"}, Selector: "html > body > p",
					Summary: "Text contrast below 4.5:1",
				},
			},
			Passes: []models.Finding{
				{Engine: "rules", RuleID: "html-lang", Type: models.TypePass},
			},
			Engines: []models.EngineRun{
				{Engine: "rules", Ruleset: "wcag21aa", OK: true, Findings: 12, DurationMs: 340},
				{Engine: "criteria", Ruleset: "WCAG2AA", OK: true, Findings: 8, DurationMs: 120},
			},
			Page: models.PageInfo{
				Title:      "Example Domain",
				Language:   "en",
				Overview:   "A short overview of the page.",
				HTTPStatus: 200,
				Server:     "ECS (dcb/7EA2)",
			},
		},
	}
}

func render(t *testing.T, job *models.Job) string {
	t.Helper()
	var sb strings.Builder
	w := NewMarkdownWriter(&sb)
	n, err := w.Write(job)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n == 0 {
		t.Fatal("Write reported zero length")
	}
	return sb.String()
}

func TestWrite_CompleteJob(t *testing.T) {
	out := render(t, completeJob())

	for _, want := range []string{
		"# Accessibility Scan Report",
		"`https://example.com/`",
		"WCAG 2.1 AA",
		"✅ Complete",
		"## Severity Summary",
		"🔴 Critical",
		"## Engines",
		"`wcag21aa`",
		"## Issues",
		"`img-alt`",
		"1.1.1",
		"## Page",
		"Example Domain",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestWrite_CriticalIssuesRaiseCaution(t *testing.T) {
	out := render(t, completeJob())
	if !strings.Contains(out, "[!CAUTION]") {
		t.Error("critical issues did not produce a caution alert")
	}
}

func TestWrite_CleanScanGetsTip(t *testing.T) {
	job := completeJob()
	job.Result.Issues = nil

	out := render(t, job)
	if !strings.Contains(out, "[!TIP]") {
		t.Error("clean scan did not produce a tip alert")
	}
	if !strings.Contains(out, "No actionable issues found.") {
		t.Error("missing empty-issues text")
	}
}

func TestWrite_FailedEngineMarksPartial(t *testing.T) {
	job := completeJob()
	job.Result.Engines[1].OK = false
	job.Result.Engines[1].Error = "evaluation timed out"

	out := render(t, job)
	if !strings.Contains(out, "partial") {
		t.Error("status does not mention partial result")
	}
	if !strings.Contains(out, "❌ Failed") {
		t.Error("engine table does not flag the failure")
	}
}

func TestWrite_ErrorJob(t *testing.T) {
	job := &models.Job{
		ID:        "job-2",
		TargetURL: "https://blocked.example/",
		Level:     models.LevelAA,
		Status:    models.StatusError,
		ErrorCode: models.ErrCodeChallenge,
		Error:     "target served a bot challenge",
	}

	out := render(t, job)
	if !strings.Contains(out, "❌ Error") {
		t.Error("missing error status")
	}
	if !strings.Contains(out, "target served a bot challenge") {
		t.Error("missing error message")
	}
	if strings.Contains(out, "## Issues") {
		t.Error("error report should not render findings sections")
	}
}

func TestWrite_PendingJob(t *testing.T) {
	job := &models.Job{
		ID:        "job-3",
		TargetURL: "https://example.com/",
		Level:     models.LevelAAA,
		Status:    models.StatusPending,
	}

	out := render(t, job)
	if !strings.Contains(out, "still running") {
		t.Error("pending report missing the come-back note")
	}
}

func TestCell_EscapesTableBreakers(t *testing.T) {
	got := cell("a|b\nc", 100)
	if strings.Contains(got, "\n") {
		t.Errorf("newline survived: %q", got)
	}
	if !strings.Contains(got, "\\|") {
		t.Errorf("pipe not escaped: %q", got)
	}

	if got := cell(strings.Repeat("x", 50), 10); got != "xxxxxxx..." {
		t.Errorf("truncation = %q", got)
	}
}
