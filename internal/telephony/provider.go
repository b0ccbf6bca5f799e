package telephony

import (
	"context"
	"fmt"

	"github.com/acme/vehicle-contact-relay/internal/domain"
)

// DeliveryResult captures the vendor's acknowledgement of an accepted call
// or SMS submission.
type DeliveryResult struct {
	ProviderRef    string
	ProviderStatus string
}

// HealthStatus reports whether an adapter is usable.
type HealthStatus struct {
	Healthy bool
	Message string
}

// Provider abstracts one telephony vendor. Implementations are stateless
// after construction and safe to share across concurrent dispatches; they
// never retry internally — retry policy belongs to the dispatch service.
type Provider interface {
	ID() domain.ProviderID

	// InitiateMaskedCall places one outbound call bridging caller and
	// callee through the relay number.
	InitiateMaskedCall(ctx context.Context, req domain.CallRequest) (DeliveryResult, error)

	// SendSMS submits one SMS. The body must be non-empty and within
	// the vendor character limit.
	SendSMS(ctx context.Context, to, body, statusCallbackURL string) (DeliveryResult, error)

	// ParseWebhook normalizes a vendor status callback. Returns nil on
	// malformed input so the caller can log and drop instead of failing.
	ParseWebhook(rawBody []byte) *domain.WebhookEvent

	// ValidateSignature verifies a vendor webhook signature against the
	// raw payload and the public callback URL.
	ValidateSignature(payload []byte, signature, url string) bool

	// CheckHealth is a pure precondition check on configuration; it does
	// not touch the network.
	CheckHealth(ctx context.Context) HealthStatus

	// Info exposes diagnostic configuration with credentials withheld
	// and numbers masked.
	Info() domain.ProviderInfo
}

// ProviderError carries vendor failure detail for classification.
type ProviderError struct {
	Provider   domain.ProviderID
	HTTPStatus int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ValidateSMSBody enforces the shared adapter precondition on SMS content.
func ValidateSMSBody(body string) error {
	if body == "" {
		return fmt.Errorf("sms body is empty")
	}
	if len(body) > domain.SMSBodyLimit {
		return fmt.Errorf("sms body exceeds %d characters", domain.SMSBodyLimit)
	}
	return nil
}

// Registry maps provider identities to constructed adapters.
type Registry struct {
	providers map[domain.ProviderID]Provider
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[domain.ProviderID]Provider, len(providers))
	for _, p := range providers {
		m[p.ID()] = p
	}
	return &Registry{providers: m}
}

// Get returns the adapter for the given identity.
func (r *Registry) Get(id domain.ProviderID) (Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("telephony: no adapter registered for provider %q", id)
	}
	return p, nil
}

// All returns every registered adapter.
func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
