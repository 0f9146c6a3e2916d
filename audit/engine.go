// Package audit runs two independently-built accessibility engines
// against a rendered page and merges their output into one normalized
// finding set. Engine-native result shapes never leave this package.
package audit

import (
	"context"
	"strings"

	"github.com/go-rod/rod"
	"github.com/use-agent/a11yscan/models"
)

// Engine is one audit implementation evaluated inside the page.
type Engine interface {
	// Name identifies the engine in findings and run records.
	Name() string

	// Ruleset maps a conformance level onto the engine's own ruleset
	// identifier, which is what the in-page script understands.
	Ruleset(level models.ConformanceLevel) string

	// Run evaluates the engine against the page and returns findings
	// already normalized into the shared shape. A returned error means
	// the whole engine run is unusable; partial output is never returned
	// alongside an error.
	Run(ctx context.Context, page *rod.Page, level models.ConformanceLevel) ([]models.Finding, error)
}

// truncateSnippet bounds element HTML captured into findings. Markup is
// evidence for a human reader, so cutting it short is fine; unbounded
// snippets have blown up result rows on pages with inlined SVG sprites.
func truncateSnippet(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// wcagRefFromTag converts a rules-engine tag like "wcag111" or "wcag1410"
// into a dotted success criterion ("1.1.1", "1.4.10"). Tags that are not
// criterion references (level tags like "wcag2aa") return "".
func wcagRefFromTag(tag string) string {
	digits := strings.TrimPrefix(tag, "wcag")
	if digits == tag || len(digits) < 3 {
		return ""
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ""
		}
	}
	// First digit is the principle, second the guideline, the rest the
	// criterion; "2aa"-style level tags were filtered above.
	return digits[:1] + "." + digits[1:2] + "." + digits[2:]
}

// wcagRefFromCode extracts the dotted success criterion from a criteria
// engine code like "WCAG2AA.Principle1.Guideline1_1.1_1_1.H37".
func wcagRefFromCode(code string) string {
	for _, part := range strings.Split(code, ".") {
		segs := strings.Split(part, "_")
		if len(segs) != 3 {
			continue
		}
		numeric := true
		for _, s := range segs {
			if s == "" {
				numeric = false
				break
			}
			for _, r := range s {
				if r < '0' || r > '9' {
					numeric = false
					break
				}
			}
		}
		if numeric {
			return strings.Join(segs, ".")
		}
	}
	return ""
}
