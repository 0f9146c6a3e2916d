package models

// ScanRequest is the payload for POST /api/v1/scans.
type ScanRequest struct {
	// URL is the page to audit. Required. The full SSRF check runs inside
	// the scan; this binding only rejects syntactically broken input.
	URL string `json:"url" binding:"required,url"`

	// ConformanceLevel selects the WCAG target level.
	// Allowed: "AA" (default), "AAA".
	ConformanceLevel ConformanceLevel `json:"conformance_level,omitempty" binding:"omitempty,oneof=AA AAA"`
}

// Defaults applies default values to unset fields.
func (r *ScanRequest) Defaults() {
	if r.ConformanceLevel == "" {
		r.ConformanceLevel = LevelAA
	}
}

// BatchScanRequest is the payload for POST /api/v1/batch/scans.
// Each URL becomes an independent job under a shared batch id.
type BatchScanRequest struct {
	URLs []string `json:"urls" binding:"required,min=1,max=20,dive,url"`

	// ConformanceLevel applies to every URL in the batch.
	ConformanceLevel ConformanceLevel `json:"conformance_level,omitempty" binding:"omitempty,oneof=AA AAA"`
}

// Defaults applies default values to unset fields.
func (r *BatchScanRequest) Defaults() {
	if r.ConformanceLevel == "" {
		r.ConformanceLevel = LevelAA
	}
}
