package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeJobNotFound         = "JOB_NOT_FOUND"
	ErrCodeJobNotReady         = "JOB_NOT_READY"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
	ErrCodeProvider            = "PROVIDER_ERROR"
	ErrCodeNavigation          = "NAVIGATION_FAILED"
	ErrCodeBrowserCrash        = "BROWSER_CRASH"
	ErrCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	ErrCodeProfileInUse        = "PROFILE_IN_USE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Sentinel errors, matched with errors.Is.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotReady       = errors.New("job not ready")
	ErrConfiguration     = errors.New("configuration error")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// NewJobNotFound reports an unknown job id.
func NewJobNotFound(jobID string) *ScrapeError {
	return NewScrapeError(ErrCodeJobNotFound, "job not found: "+jobID, ErrJobNotFound)
}

// NotReadyError is returned when results are requested for a job that has
// not completed. It carries the job's current status and progress so the
// caller knows whether to keep polling.
type NotReadyError struct {
	JobID    string
	Status   JobStatus
	Progress map[string]any
}

func (e *NotReadyError) Error() string {
	if msg, ok := e.Progress["message"]; ok {
		return fmt.Sprintf("job %s is not completed yet (status: %s, progress: %v)", e.JobID, e.Status, msg)
	}
	return fmt.Sprintf("job %s is not completed yet (status: %s)", e.JobID, e.Status)
}

// Is makes errors.Is(err, ErrJobNotReady) match.
func (e *NotReadyError) Is(target error) bool {
	return target == ErrJobNotReady
}

// ErrorCode extracts the code of the first ScrapeError in err's chain.
// Errors outside the taxonomy report ErrCodeInternal.
func ErrorCode(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	var nr *NotReadyError
	if errors.As(err, &nr) {
		return ErrCodeJobNotReady
	}
	return ErrCodeInternal
}
