package models

import "encoding/base64"

// FindingType classifies what a check produced.
type FindingType string

const (
	// TypeViolation is a confirmed accessibility failure.
	TypeViolation FindingType = "violation"
	// TypeWarning needs human review but is likely a failure.
	TypeWarning FindingType = "warning"
	// TypeNotice is informational output from an engine.
	TypeNotice FindingType = "notice"
	// TypePass is a check that ran and succeeded.
	TypePass FindingType = "pass"
)

// Actionable reports whether the finding describes an issue a page owner
// must act on. Only actionable findings are eligible for evidence capture.
func (t FindingType) Actionable() bool {
	return t == TypeViolation || t == TypeWarning
}

// Severity is the impact rating attached to a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeveritySerious  Severity = "serious"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
)

// Rank orders severities for sorting, highest impact first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeveritySerious:
		return 1
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 3
	}
	return 4
}

// Finding is a single normalized check result from one audit engine.
// Engine identifies the origin; the raw engine shapes never leave the
// audit package.
type Finding struct {
	// Engine is the originating engine name ("rules" or "criteria").
	Engine string `json:"engine"`

	// RuleID is the engine-native rule identifier (e.g. "img-alt",
	// "wcag.1.1.1.img-alt").
	RuleID string `json:"rule_id"`

	Type     FindingType `json:"type"`
	Severity Severity    `json:"severity"`

	// WCAGRefs lists the success criteria the rule maps to (e.g. "1.4.3").
	WCAGRefs []string `json:"wcag_refs,omitempty"`

	// Selector locates the offending element at detection time. The page
	// may mutate before evidence capture; that drift is accepted.
	Selector string `json:"selector,omitempty"`

	// Snippet is the element's outer HTML, truncated.
	Snippet string `json:"snippet,omitempty"`

	// Summary is the human-readable description of the issue.
	Summary string `json:"summary"`

	HelpURL string `json:"help_url,omitempty"`

	// Evidence is the cropped, highlighted screenshot for this finding.
	// Nil when capture was not possible or not attempted.
	Evidence *Evidence `json:"evidence,omitempty"`
}

// Region is a rectangle in page coordinates.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Evidence is a captured screenshot tied to a finding. The image crosses
// every boundary as a self-describing data URI so downstream consumers
// need no format negotiation.
type Evidence struct {
	// Image is a data:image/png;base64 URI of the captured region.
	Image string `json:"image"`

	// Region is the page-coordinate rectangle the image covers.
	Region Region `json:"region"`

	// Source records which rung of the capture ladder produced the image:
	// "element", "parent", or "viewport".
	Source string `json:"source"`
}

// NewEvidence encodes raw PNG bytes into the boundary representation.
func NewEvidence(png []byte, region Region, source string) *Evidence {
	return &Evidence{
		Image:  PNGDataURI(png),
		Region: region,
		Source: source,
	}
}

// PNGDataURI wraps raw PNG bytes as a self-describing data URI.
func PNGDataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
