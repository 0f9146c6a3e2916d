package audit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/go-rod/rod"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/evidence"
	"github.com/use-agent/a11yscan/models"
)

// Aggregator drives every configured engine against one rendered page
// and merges the output. Engines run sequentially: they share a single
// renderer, and concurrent evaluation in one JS context mostly measures
// the engines fighting each other.
type Aggregator struct {
	cfg      config.AuditConfig
	capturer *evidence.Capturer
	engines  []Engine
}

// Outcome is the merged result of all engine runs against one page.
type Outcome struct {
	// Issues holds actionable findings (violations, warnings) across all
	// engines, sorted by severity. Passes holds passed checks and notices.
	Issues []models.Finding
	Passes []models.Finding

	// Engines records one entry per engine, including failed ones.
	Engines []models.EngineRun

	AuditMs    int64
	EvidenceMs int64
}

// NewAggregator wires the engines and the evidence capturer together.
// A nil capturer disables evidence capture entirely.
func NewAggregator(cfg config.AuditConfig, capturer *evidence.Capturer, engines ...Engine) *Aggregator {
	return &Aggregator{cfg: cfg, capturer: capturer, engines: engines}
}

// Run executes the audit phase. Engine failures are isolated: a throwing
// engine contributes an empty set tagged with its failure reason, and
// the remaining engines still run. Partial results beat no results here.
// Run itself never fails; callers inspect Outcome.Engines.
func (a *Aggregator) Run(ctx context.Context, page *rod.Page, level models.ConformanceLevel) *Outcome {
	outcome := &Outcome{
		Issues: []models.Finding{},
		Passes: []models.Finding{},
	}

	auditStart := time.Now()
	for _, eng := range a.engines {
		start := time.Now()
		findings, err := eng.Run(ctx, page, level)
		run := models.EngineRun{
			Engine:     eng.Name(),
			Ruleset:    eng.Ruleset(level),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			run.Error = failureReason(err)
			slog.Warn("audit engine failed, continuing with remaining engines",
				"engine", eng.Name(),
				"error", err,
			)
			outcome.Engines = append(outcome.Engines, run)
			continue
		}

		run.OK = true
		run.Findings = len(findings)
		outcome.Engines = append(outcome.Engines, run)

		for _, f := range findings {
			if f.Type.Actionable() {
				outcome.Issues = append(outcome.Issues, f)
			} else {
				outcome.Passes = append(outcome.Passes, f)
			}
		}
	}
	outcome.AuditMs = time.Since(auditStart).Milliseconds()

	sortFindings(outcome.Issues)

	evidenceStart := time.Now()
	a.attachEvidence(ctx, page, outcome.Issues)
	outcome.EvidenceMs = time.Since(evidenceStart).Milliseconds()

	return outcome
}

// attachEvidence captures a screenshot for each actionable issue that
// carries a locator. Passed checks and notices never get evidence; the
// issue list is already actionable-only, so only the locator matters
// here. Captures run sequentially against the shared renderer.
func (a *Aggregator) attachEvidence(ctx context.Context, page *rod.Page, issues []models.Finding) {
	if a.capturer == nil {
		return
	}
	for i := range issues {
		if ctx.Err() != nil {
			return
		}
		if issues[i].Selector == "" {
			continue
		}
		issues[i].Evidence = a.capturer.Capture(page, issues[i].Selector)
	}
}

// sortFindings orders by severity first, then deterministically by
// engine, rule and element so repeated scans of an unchanged page diff
// cleanly.
func sortFindings(findings []models.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Engine != b.Engine {
			return a.Engine < b.Engine
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Selector < b.Selector
	})
}

// failureReason extracts the short message from a typed scan error,
// falling back to the raw error text.
func failureReason(err error) string {
	var scanErr *models.ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Message
	}
	return err.Error()
}
