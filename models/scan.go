package models

// ConformanceLevel selects which WCAG level the engines audit against.
type ConformanceLevel string

const (
	LevelAA  ConformanceLevel = "AA"
	LevelAAA ConformanceLevel = "AAA"
)

// Valid reports whether the level is one of the supported values.
func (l ConformanceLevel) Valid() bool {
	return l == LevelAA || l == LevelAAA
}

// EngineRun records the outcome of one engine invocation. A failed engine
// keeps OK=false and its failure reason here while the scan itself still
// completes with the other engine's findings.
type EngineRun struct {
	Engine     string `json:"engine"`
	Ruleset    string `json:"ruleset"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Findings   int    `json:"findings"`
	DurationMs int64  `json:"duration_ms"`
}

// PageInfo holds page-level context recorded alongside the findings.
type PageInfo struct {
	Title    string `json:"title,omitempty"`
	Language string `json:"language,omitempty"`

	// Overview is a short readable extract of the page's main content,
	// included so reports can show what was audited.
	Overview string `json:"overview,omitempty"`

	// Preflight metadata from the HTTP probe. Informational only.
	HTTPStatus  int    `json:"http_status,omitempty"`
	Server      string `json:"server,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// TimingInfo breaks down the time spent in each scan phase.
type TimingInfo struct {
	TotalMs      int64 `json:"total_ms"`
	NavigationMs int64 `json:"navigation_ms"`
	AuditMs      int64 `json:"audit_ms"`
	EvidenceMs   int64 `json:"evidence_ms"`
}

// ScanResult is the merged artifact of one finished scan. It is produced
// once and immutable thereafter.
type ScanResult struct {
	TargetURL string           `json:"target_url"`
	FinalURL  string           `json:"final_url,omitempty"`
	Level     ConformanceLevel `json:"conformance_level"`

	// Issues holds actionable findings (violations and warnings) from
	// both engines; Passes holds passed checks and notices. Every finding
	// belongs to exactly one engine.
	Issues []Finding `json:"issues"`
	Passes []Finding `json:"passes"`

	Engines []EngineRun `json:"engines"`

	// Screenshot is the single whole-viewport capture for the scan,
	// as a data URI. Empty if the capture failed.
	Screenshot string `json:"screenshot,omitempty"`

	Page   PageInfo   `json:"page"`
	Timing TimingInfo `json:"timing"`
}

// IssueCount returns the number of actionable findings per severity.
func (r *ScanResult) IssueCount() map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range r.Issues {
		counts[f.Severity]++
	}
	return counts
}

// EngineFailed reports whether the named engine's run was marked failed.
func (r *ScanResult) EngineFailed(engine string) bool {
	for _, e := range r.Engines {
		if e.Engine == engine {
			return !e.OK
		}
	}
	return false
}
