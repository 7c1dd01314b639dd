package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies a pipeline failure for callers.
type ErrorCategory string

const (
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryProvider   ErrorCategory = "provider"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryMapping    ErrorCategory = "mapping"
	ErrorCategoryRateLimit  ErrorCategory = "rate_limit"
	ErrorCategoryUnknown    ErrorCategory = "unknown"
)

// ValidationError rejects caller input before any provider call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProviderFailure distinguishes how a provider call went wrong.
type ProviderFailure string

const (
	ProviderRejected          ProviderFailure = "rejected"
	ProviderUnreachable       ProviderFailure = "unreachable"
	ProviderFailed            ProviderFailure = "failed"
	ProviderAborted           ProviderFailure = "aborted"
	ProviderFinishedWithError ProviderFailure = "finished-with-error"
)

// ProviderError is a submission, poll or fetch failure. RunID is set when the
// provider assigned one before failing.
type ProviderError struct {
	ScraperID  string
	RunID      string
	Kind       ProviderFailure
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.ScraperID, e.Kind)
	if e.RunID != "" {
		msg += " (run " + e.RunID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TimeoutError means the run did not finish in time. ProviderReported is true
// when the provider itself returned TIMED-OUT and false when the local ceiling
// was reached; callers treat both the same.
type TimeoutError struct {
	ScraperID        string
	RunID            string
	Elapsed          time.Duration
	ProviderReported bool
	LastStatus       RunStatus
	LastErr          error
}

func (e *TimeoutError) Error() string {
	if e.ProviderReported {
		return fmt.Sprintf("run %s timed out at provider", e.RunID)
	}
	return fmt.Sprintf("run %s exceeded ceiling after %s (last status %s)", e.RunID, e.Elapsed, e.LastStatus)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// MappingError is a failure localized to one result item.
type MappingError struct {
	Index int
	Key   string
	Err   error
}

func (e *MappingError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("mapping item %d (%s): %v", e.Index, e.Key, e.Err)
	}
	return fmt.Sprintf("mapping item %d: %v", e.Index, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// RateLimitError reports a provider backoff condition (HTTP 429).
type RateLimitError struct {
	ScraperID  string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("provider %s: rate limited", e.ScraperID)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	return msg
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Classify returns the category of the first typed error in err's chain.
func Classify(err error) ErrorCategory {
	var (
		ve *ValidationError
		re *RateLimitError
		te *TimeoutError
		pe *ProviderError
		me *MappingError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ErrorCategoryValidation
	case errors.As(err, &te):
		// Checked before rate limits: a timeout may wrap the last poll error.
		return ErrorCategoryTimeout
	case errors.As(err, &re):
		return ErrorCategoryRateLimit
	case errors.As(err, &pe):
		return ErrorCategoryProvider
	case errors.As(err, &me):
		return ErrorCategoryMapping
	default:
		return ErrorCategoryUnknown
	}
}
