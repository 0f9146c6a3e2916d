package models

// ScanAccepted is the immediate response for POST /api/v1/scans.
// The scan proceeds in the background; poll GET /api/v1/scans/:id.
type ScanAccepted struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}

// ErrorResponse is the body for any non-2xx API response.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}

// ScanListResponse is the response for GET /api/v1/scans.
type ScanListResponse struct {
	Scans []*Job `json:"scans"`
	Total int    `json:"total"`
}

// BatchScanResponse is the immediate response for POST /api/v1/batch/scans.
type BatchScanResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Total  int      `json:"total"`
	JobIDs []string `json:"job_ids"`
}

// BatchStatusResponse is the response for GET /api/v1/batch/scans/:id.
// Status is "processing" until every job reaches a terminal state, then
// "completed" (all complete), "failed" (all error) or "partial".
type BatchStatusResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Jobs      []*Job `json:"jobs,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string    `json:"status"` // "healthy" or "degraded"
	Uptime  string    `json:"uptime"`
	Scans   ScanStats `json:"scans"`
	Version string    `json:"version"`
}

// ScanStats reports orchestrator occupancy.
type ScanStats struct {
	MaxConcurrent int `json:"max_concurrent"`
	Active        int `json:"active"`
}
