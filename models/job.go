package models

import "time"

// JobStatus is the persisted lifecycle state of a scan job. The store only
// ever sees pending and the two terminal states; intermediate scan stages
// live in the orchestrator and its logs.
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusComplete JobStatus = "complete"
	StatusError    JobStatus = "error"
)

// Terminal reports whether the status will never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Job kinds stored alongside each row. The public-tier 24h limit applies
// per kind, so future job kinds rate-limit independently.
const (
	KindScan = "scan"
)

// Job is one asynchronously completed scan. Submission returns the ID
// immediately; the result is written back when the scan reaches a terminal
// state. Errors are recorded as data, never thrown back across the
// submission boundary.
type Job struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"`
	Requester string           `json:"-"`
	BatchID   string           `json:"batch_id,omitempty"`
	TargetURL string           `json:"target_url"`
	Level     ConformanceLevel `json:"conformance_level"`

	Status JobStatus `json:"status"`

	// ErrorCode and Error are set only for StatusError. Error is the
	// human-readable message shown to the requester.
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`

	Result *ScanResult `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
