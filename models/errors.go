package models

import "fmt"

// Error codes used in API responses and internal error handling.
const (
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeInvalidTarget   = "INVALID_TARGET"
	ErrCodeForbiddenTarget = "FORBIDDEN_TARGET"
	ErrCodeNavTimeout      = "NAVIGATION_TIMEOUT"
	ErrCodeNavigation      = "NAVIGATION_FAILED"
	ErrCodeChallenge       = "CHALLENGE_DETECTED"
	ErrCodeEngineFailure   = "ENGINE_FAILURE"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
	ErrCodeStore           = "STORE_ERROR"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeScanPending     = "SCAN_PENDING"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScanError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScanError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// NewScanError creates a new ScanError.
func NewScanError(code, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScanError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// Aborts reports whether the code terminates a scan before audits run.
// Validator rejections and challenge detection abort; engine and evidence
// failures degrade inside an otherwise complete result.
func (e *ScanError) Aborts() bool {
	switch e.Code {
	case ErrCodeInvalidTarget, ErrCodeForbiddenTarget, ErrCodeChallenge:
		return true
	}
	return false
}
