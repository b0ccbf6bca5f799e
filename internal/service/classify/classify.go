package classify

import (
	"errors"
	"strings"

	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/telephony"
)

// Retry cooldowns per category.
const (
	quotaRetryAfterSeconds       = 3600
	unavailableRetryAfterSeconds = 60
)

// Classify maps a raw provider error into a ServiceError with a retry
// policy. Pure and total: the same input always yields the same category.
// First match wins, in this order: quota, auth, invalid number,
// unavailable, unknown.
func Classify(provider domain.ProviderID, rawErr error) *domain.ServiceError {
	if rawErr == nil {
		return nil
	}

	message := rawErr.Error()
	lower := strings.ToLower(message)

	httpStatus := 0
	var provErr *telephony.ProviderError
	if errors.As(rawErr, &provErr) {
		httpStatus = provErr.HTTPStatus
	}

	switch {
	case httpStatus == 429 || containsAny(lower, "quota", "rate limit", "too many requests", "throughput"):
		return &domain.ServiceError{
			Provider:          provider,
			Category:          domain.ErrQuotaExceeded,
			Message:           message,
			ShouldRetry:       true,
			RetryAfterSeconds: quotaRetryAfterSeconds,
		}
	case httpStatus == 401 || httpStatus == 403 || containsAny(lower, "auth", "unauthorized", "forbidden", "credential"):
		return &domain.ServiceError{
			Provider: provider,
			Category: domain.ErrAuthentication,
			Message:  message,
		}
	case strings.Contains(lower, "invalid") && strings.Contains(lower, "number"):
		return &domain.ServiceError{
			Provider: provider,
			Category: domain.ErrInvalidNumber,
			Message:  message,
		}
	case httpStatus >= 500 || containsAny(lower, "unavailable", "timeout", "timed out", "deadline exceeded", "connection refused"):
		return &domain.ServiceError{
			Provider:          provider,
			Category:          domain.ErrUnavailable,
			Message:           message,
			ShouldRetry:       true,
			RetryAfterSeconds: unavailableRetryAfterSeconds,
		}
	default:
		return &domain.ServiceError{
			Provider: provider,
			Category: domain.ErrUnknown,
			Message:  message,
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
