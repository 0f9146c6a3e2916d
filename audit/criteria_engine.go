package audit

import (
	"context"
	_ "embed"
	"encoding/json"

	"github.com/go-rod/rod"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

//go:embed criteria.js
var criteriaJS string

// Message type values used by criteria.js.
const (
	criteriaError   = 1
	criteriaWarning = 2
	criteriaNotice  = 3
)

// criteriaMessage is the flat per-element shape criteria.js emits. The
// code encodes standard, principle, guideline, criterion and technique,
// e.g. "WCAG2AA.Principle1.Guideline1_1.1_1_1.H37".
type criteriaMessage struct {
	Type     int    `json:"type"`
	Code     string `json:"code"`
	Selector string `json:"selector"`
	Element  string `json:"element"`
	Msg      string `json:"msg"`
}

// CriteriaEngine is the success-criteria-organized audit engine. Unlike
// the rules engine it emits one flat message per element and carries no
// impact rating, so severity is derived from the message type.
type CriteriaEngine struct {
	cfg config.AuditConfig
}

func NewCriteriaEngine(cfg config.AuditConfig) *CriteriaEngine {
	return &CriteriaEngine{cfg: cfg}
}

func (e *CriteriaEngine) Name() string { return "criteria" }

func (e *CriteriaEngine) Ruleset(level models.ConformanceLevel) string {
	if level == models.LevelAAA {
		return "WCAG2AAA"
	}
	return "WCAG2AA"
}

func (e *CriteriaEngine) Run(ctx context.Context, page *rod.Page, level models.ConformanceLevel) ([]models.Finding, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.EvalTimeout)
	defer cancel()

	res, err := page.Context(ctx).Eval(criteriaJS, e.Ruleset(level))
	if err != nil {
		return nil, models.NewScanError(
			models.ErrCodeEngineFailure,
			"criteria engine evaluation failed",
			err,
		)
	}

	var msgs []criteriaMessage
	if err := json.Unmarshal([]byte(res.Value.Str()), &msgs); err != nil {
		return nil, models.NewScanError(
			models.ErrCodeEngineFailure,
			"criteria engine returned malformed output",
			err,
		)
	}

	return e.normalize(msgs), nil
}

func (e *CriteriaEngine) normalize(msgs []criteriaMessage) []models.Finding {
	findings := make([]models.Finding, 0, len(msgs))
	for _, m := range msgs {
		var ref []string
		if r := wcagRefFromCode(m.Code); r != "" {
			ref = []string{r}
		}
		findings = append(findings, models.Finding{
			Engine:   e.Name(),
			RuleID:   m.Code,
			Type:     criteriaType(m.Type),
			Severity: criteriaSeverity(m.Type),
			WCAGRefs: ref,
			Selector: m.Selector,
			Snippet:  truncateSnippet(m.Element, e.cfg.SnippetMaxLen),
			Summary:  m.Msg,
		})
	}

	if max := e.cfg.MaxFindingsPerEngine; max > 0 && len(findings) > max {
		findings = findings[:max]
	}
	return findings
}

func criteriaType(t int) models.FindingType {
	switch t {
	case criteriaError:
		return models.TypeViolation
	case criteriaWarning:
		return models.TypeWarning
	case criteriaNotice:
		return models.TypeNotice
	}
	return models.TypeNotice
}

// criteriaSeverity approximates an impact rating from the message type;
// the engine itself does not rate severity.
func criteriaSeverity(t int) models.Severity {
	switch t {
	case criteriaError:
		return models.SeveritySerious
	case criteriaWarning:
		return models.SeverityModerate
	}
	return models.SeverityMinor
}
