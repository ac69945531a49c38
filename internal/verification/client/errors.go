package client

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized registry failure taxonomy.
type ErrorCategory string

const (
	// ErrorTimeout: the registry took too long to respond.
	ErrorTimeout ErrorCategory = "timeout"
	// ErrorBadData: the registry answered with a body we cannot read.
	ErrorBadData ErrorCategory = "bad_data"
	// ErrorAuthentication: credentials rejected (401/403).
	ErrorAuthentication ErrorCategory = "authentication"
	// ErrorOutage: unreachable, 5xx, or the circuit is open.
	ErrorOutage ErrorCategory = "outage"
	// ErrorContractMismatch: an unexpected status for our request shape.
	ErrorContractMismatch ErrorCategory = "contract_mismatch"
	// ErrorRateLimited: the registry throttled us (429).
	ErrorRateLimited ErrorCategory = "rate_limited"
)

// RegistryError wraps registry call failures with a category.
type RegistryError struct {
	Category   ErrorCategory
	Message    string
	StatusCode int
	Underlying error
	Retryable  bool
	// unhealthy marks failures that count against the circuit breaker.
	unhealthy bool
}

func (e *RegistryError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("registry [%s]: %s: %v", e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("registry [%s]: %s", e.Category, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Underlying
}

// NewRegistryError builds a categorized error. Timeouts, outages and
// throttling are retryable with identical fields; the rest are not.
func NewRegistryError(category ErrorCategory, message string, underlying error) *RegistryError {
	retryable := category == ErrorTimeout ||
		category == ErrorOutage ||
		category == ErrorRateLimited
	return &RegistryError{
		Category:   category,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// CategoryOf extracts the category, or "" for foreign errors.
func CategoryOf(err error) ErrorCategory {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}
