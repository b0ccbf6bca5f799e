package domain

import "fmt"

// ErrorCategory buckets provider failures for retry decisions.
type ErrorCategory string

const (
	ErrQuotaExceeded  ErrorCategory = "quota_exceeded"
	ErrAuthentication ErrorCategory = "authentication_failed"
	ErrInvalidNumber  ErrorCategory = "invalid_number"
	ErrUnavailable    ErrorCategory = "service_unavailable"
	ErrUnknown        ErrorCategory = "unknown"
)

// ServiceError is the classified form of a raw provider error. Derived
// fresh from each failure; never stored.
type ServiceError struct {
	Provider          ProviderID
	Category          ErrorCategory
	Message           string
	ShouldRetry       bool
	RetryAfterSeconds int
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Category, e.Message)
}
