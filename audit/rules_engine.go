package audit

import (
	"context"
	_ "embed"
	"encoding/json"

	"github.com/go-rod/rod"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

//go:embed rules.js
var rulesJS string

// Raw shapes produced by rules.js. Findings are grouped per rule with
// one node entry per offending element.
type rulesReport struct {
	Violations []rulesRule `json:"violations"`
	Passes     []rulesRule `json:"passes"`
	Incomplete []rulesRule `json:"incomplete"`
}

type rulesRule struct {
	ID      string      `json:"id"`
	Impact  string      `json:"impact"`
	Tags    []string    `json:"tags"`
	Help    string      `json:"help"`
	HelpURL string      `json:"helpUrl"`
	Nodes   []rulesNode `json:"nodes"`
}

type rulesNode struct {
	Target         string `json:"target"`
	HTML           string `json:"html"`
	FailureSummary string `json:"failureSummary"`
}

// RulesEngine is the rule-organized audit engine. Its in-page script
// groups results per rule and rates each rule with an impact level.
type RulesEngine struct {
	cfg config.AuditConfig
}

func NewRulesEngine(cfg config.AuditConfig) *RulesEngine {
	return &RulesEngine{cfg: cfg}
}

func (e *RulesEngine) Name() string { return "rules" }

// Ruleset selects the rule set evaluated in the page. AAA turns on the
// enhanced-contrast thresholds and the stricter link checks.
func (e *RulesEngine) Ruleset(level models.ConformanceLevel) string {
	if level == models.LevelAAA {
		return "wcag21aaa"
	}
	return "wcag21aa"
}

func (e *RulesEngine) Run(ctx context.Context, page *rod.Page, level models.ConformanceLevel) ([]models.Finding, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EvalTimeout)
	defer cancel()

	res, err := page.Context(ctx).Eval(rulesJS, e.Ruleset(level))
	if err != nil {
		return nil, models.NewScanError(
			models.ErrCodeEngineFailure,
			"rules engine evaluation failed",
			err,
		)
	}

	var report rulesReport
	if err := json.Unmarshal([]byte(res.Value.Str()), &report); err != nil {
		return nil, models.NewScanError(
			models.ErrCodeEngineFailure,
			"rules engine returned malformed output",
			err,
		)
	}

	return e.normalize(report), nil
}

// normalize flattens the per-rule report into one finding per offending
// element. Passed rules collapse to a single finding each; nobody needs
// five hundred rows that say a check succeeded.
func (e *RulesEngine) normalize(report rulesReport) []models.Finding {
	findings := make([]models.Finding, 0, len(report.Violations)+len(report.Passes))

	for _, rule := range report.Violations {
		findings = append(findings, e.expand(rule, models.TypeViolation)...)
	}
	for _, rule := range report.Incomplete {
		findings = append(findings, e.expand(rule, models.TypeWarning)...)
	}
	for _, rule := range report.Passes {
		findings = append(findings, models.Finding{
			Engine:   e.Name(),
			RuleID:   rule.ID,
			Type:     models.TypePass,
			Severity: impactToSeverity(rule.Impact),
			WCAGRefs: refsFromTags(rule.Tags),
			Summary:  rule.Help,
			HelpURL:  rule.HelpURL,
		})
	}

	if max := e.cfg.MaxFindingsPerEngine; max > 0 && len(findings) > max {
		findings = findings[:max]
	}
	return findings
}

func (e *RulesEngine) expand(rule rulesRule, kind models.FindingType) []models.Finding {
	out := make([]models.Finding, 0, len(rule.Nodes))
	for _, node := range rule.Nodes {
		summary := node.FailureSummary
		if summary == "" {
			summary = rule.Help
		}
		out = append(out, models.Finding{
			Engine:   e.Name(),
			RuleID:   rule.ID,
			Type:     kind,
			Severity: impactToSeverity(rule.Impact),
			WCAGRefs: refsFromTags(rule.Tags),
			Selector: node.Target,
			Snippet:  truncateSnippet(node.HTML, e.cfg.SnippetMaxLen),
			Summary:  summary,
			HelpURL:  rule.HelpURL,
		})
	}
	return out
}

func impactToSeverity(impact string) models.Severity {
	switch impact {
	case "critical":
		return models.SeverityCritical
	case "serious":
		return models.SeveritySerious
	case "moderate":
		return models.SeverityModerate
	case "minor":
		return models.SeverityMinor
	}
	return models.SeverityModerate
}

func refsFromTags(tags []string) []string {
	var refs []string
	for _, tag := range tags {
		if ref := wcagRefFromTag(tag); ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}
