package classify

import (
	"errors"
	"testing"

	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/telephony"
)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		name           string
		err            error
		wantCategory   domain.ErrorCategory
		wantRetry      bool
		wantRetryAfter int
	}{
		{
			name:           "http 429",
			err:            &telephony.ProviderError{Provider: domain.ProviderTwilio, HTTPStatus: 429, Message: "slow down"},
			wantCategory:   domain.ErrQuotaExceeded,
			wantRetry:      true,
			wantRetryAfter: 3600,
		},
		{
			name:           "quota keyword",
			err:            errors.New("daily quota reached for account"),
			wantCategory:   domain.ErrQuotaExceeded,
			wantRetry:      true,
			wantRetryAfter: 3600,
		},
		{
			name:         "http 401",
			err:          &telephony.ProviderError{Provider: domain.ProviderTwilio, HTTPStatus: 401, Message: "bad sid"},
			wantCategory: domain.ErrAuthentication,
		},
		{
			name:         "http 403",
			err:          &telephony.ProviderError{Provider: domain.ProviderVonage, HTTPStatus: 403, Message: "forbidden"},
			wantCategory: domain.ErrAuthentication,
		},
		{
			name:         "auth keyword",
			err:          errors.New("request unauthorized"),
			wantCategory: domain.ErrAuthentication,
		},
		{
			name:         "invalid number",
			err:          errors.New("the 'To' number is invalid: not a valid phone number"),
			wantCategory: domain.ErrInvalidNumber,
		},
		{
			name:           "http 500",
			err:            &telephony.ProviderError{Provider: domain.ProviderTwilio, HTTPStatus: 503, Message: "upstream broke"},
			wantCategory:   domain.ErrUnavailable,
			wantRetry:      true,
			wantRetryAfter: 60,
		},
		{
			name:           "timeout keyword",
			err:            errors.New("request failed: context deadline exceeded"),
			wantCategory:   domain.ErrUnavailable,
			wantRetry:      true,
			wantRetryAfter: 60,
		},
		{
			name:         "unknown",
			err:          errors.New("something odd happened"),
			wantCategory: domain.ErrUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(domain.ProviderTwilio, tc.err)
			if got.Category != tc.wantCategory {
				t.Errorf("category = %q, want %q", got.Category, tc.wantCategory)
			}
			if got.ShouldRetry != tc.wantRetry {
				t.Errorf("shouldRetry = %v, want %v", got.ShouldRetry, tc.wantRetry)
			}
			if got.RetryAfterSeconds != tc.wantRetryAfter {
				t.Errorf("retryAfter = %d, want %d", got.RetryAfterSeconds, tc.wantRetryAfter)
			}
			if got.Provider != domain.ProviderTwilio {
				t.Errorf("provider = %q", got.Provider)
			}
		})
	}
}

func TestClassifyQuotaWinsOverUnavailable(t *testing.T) {
	// A 429 with a 5xx-looking message must still classify as quota:
	// first match wins in decision order.
	err := &telephony.ProviderError{Provider: domain.ProviderTwilio, HTTPStatus: 429, Message: "service unavailable"}
	if got := Classify(domain.ProviderTwilio, err); got.Category != domain.ErrQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %q", got.Category)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	err := errors.New("rate limit hit")
	first := Classify(domain.ProviderVonage, err)
	second := Classify(domain.ProviderVonage, err)
	if *first != *second {
		t.Fatalf("classification not deterministic: %+v vs %+v", first, second)
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(domain.ProviderTwilio, nil); got != nil {
		t.Fatalf("expected nil for nil error, got %+v", got)
	}
}
