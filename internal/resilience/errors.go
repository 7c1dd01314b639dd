// Package resilience classifies provider failures and retries the ones a
// caller has opted into retrying.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/sells-group/leadscrape/internal/model"
)

// TransientError wraps an error that is safe to retry (e.g., 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err is worth another attempt. Rate limits are
// not transient; IsRetryableWithRateLimit covers them.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var pe *model.ProviderError
	if errors.As(err, &pe) {
		if pe.Kind == model.ProviderUnreachable || IsTransientHTTPStatus(pe.StatusCode) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsRateLimited reports whether err carries a provider rate limit.
func IsRateLimited(err error) bool {
	var re *model.RateLimitError
	return errors.As(err, &re)
}

// IsRetryableWithRateLimit is IsTransient plus rate limits, for callers that
// opted into retrying 429s.
func IsRetryableWithRateLimit(err error) bool {
	return IsRateLimited(err) || IsTransient(err)
}

// RetryAfter returns the provider-requested wait, or zero.
func RetryAfter(err error) time.Duration {
	var re *model.RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry. 429 is not included.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
