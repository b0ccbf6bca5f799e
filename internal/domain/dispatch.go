package domain

import (
	"fmt"
	"time"
)

// ProviderID identifies a telephony vendor. The set is closed at compile
// time; adding a vendor means adding an adapter and extending every switch.
type ProviderID string

const (
	ProviderTwilio ProviderID = "twilio"
	ProviderVonage ProviderID = "vonage"
	ProviderMock   ProviderID = "mock"
)

// ParseProviderID validates a configured provider name.
func ParseProviderID(name string) (ProviderID, error) {
	switch ProviderID(name) {
	case ProviderTwilio, ProviderVonage, ProviderMock:
		return ProviderID(name), nil
	default:
		return "", fmt.Errorf("unknown provider %q", name)
	}
}

// Channel distinguishes the two delivery paths.
type Channel string

const (
	ChannelCall Channel = "call"
	ChannelSMS  Channel = "sms"
)

// DeliveryStatus is the vendor-independent lifecycle state of a call or SMS.
type DeliveryStatus string

const (
	StatusInitiated DeliveryStatus = "initiated"
	StatusRinging   DeliveryStatus = "ringing"
	StatusAnswered  DeliveryStatus = "answered"
	StatusCompleted DeliveryStatus = "completed"
	StatusBusy      DeliveryStatus = "busy"
	StatusNoAnswer  DeliveryStatus = "no_answer"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// CallRequest describes one masked call to place. Transient; built per
// request and never persisted by this subsystem.
type CallRequest struct {
	CallerNumber      string
	CalleeNumber      string
	StatusCallbackURL string
}

// Validate checks both numbers against the international format.
func (r CallRequest) Validate() error {
	if err := ValidatePhoneNumber(r.CallerNumber); err != nil {
		return fmt.Errorf("caller number: %w", err)
	}
	if err := ValidatePhoneNumber(r.CalleeNumber); err != nil {
		return fmt.Errorf("callee number: %w", err)
	}
	return nil
}

// AttemptOutcome is the terminal state of one delivery attempt.
type AttemptOutcome string

const (
	AttemptSent   AttemptOutcome = "sent"
	AttemptFailed AttemptOutcome = "failed"
)

// AttemptRecord captures a single delivery attempt for the audit trail.
// Records are append-only; a sequence for one logical request is strictly
// increasing in AttemptNumber.
type AttemptRecord struct {
	AttemptNumber int            `json:"attempt_number"`
	Timestamp     time.Time      `json:"timestamp"`
	Outcome       AttemptOutcome `json:"outcome"`
	ErrorDetail   string         `json:"error_detail,omitempty"`
	Provider      ProviderID     `json:"provider,omitempty"`
}

// DispatchOutcome is the result of a full dispatch sequence (call or SMS),
// potentially spanning multiple providers. It always names the provider
// that ultimately served or last failed the request.
type DispatchOutcome struct {
	Channel     Channel         `json:"channel"`
	Provider    ProviderID      `json:"provider,omitempty"`
	ProviderRef string          `json:"provider_ref,omitempty"`
	Status      DeliveryStatus  `json:"status"`
	Message     string          `json:"message"`
	Attempts    []AttemptRecord `json:"attempts"`
}

// Sent reports whether the dispatch reached the vendor.
func (o DispatchOutcome) Sent() bool {
	return o.Status == StatusInitiated
}

// WebhookEvent is the canonical projection of a vendor status callback.
type WebhookEvent struct {
	ProviderRef     string         `json:"provider_ref"`
	Status          DeliveryStatus `json:"status"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
}

// QuotaStatus reports remaining send budget for one provider. Computed on
// demand from the quota tracker; never persisted.
type QuotaStatus struct {
	Provider       ProviderID `json:"provider"`
	Exceeded       bool       `json:"exceeded"`
	RemainingCalls *int       `json:"remaining_calls,omitempty"`
	RemainingSMS   *int       `json:"remaining_sms,omitempty"`
	ResetTime      *time.Time `json:"reset_time,omitempty"`
}

// ProviderInfo is the diagnostic view of an adapter. Credentials are never
// included; numbers are masked.
type ProviderInfo struct {
	Provider     ProviderID `json:"provider"`
	Configured   bool       `json:"configured"`
	MaskedNumber string     `json:"masked_number"`
	BaseURL      string     `json:"base_url"`
}

// SMSBodyLimit is the generic vendor character limit for one SMS submission.
const SMSBodyLimit = 1600
