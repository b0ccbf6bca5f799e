package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/telephony"
)

// Provider simulates vendor behaviour for local development when no real
// credentials are configured. Adapters are shared across concurrent
// dispatches, so the random source is guarded.
type Provider struct {
	successRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider(successRate float64) *Provider {
	if successRate <= 0 || successRate > 1 {
		successRate = 0.8
	}
	return &Provider{
		successRate: successRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ID returns the provider identity.
func (p *Provider) ID() domain.ProviderID {
	return domain.ProviderMock
}

// InitiateMaskedCall simulates a call submission.
func (p *Provider) InitiateMaskedCall(ctx context.Context, req domain.CallRequest) (telephony.DeliveryResult, error) {
	return p.attempt(ctx, "call")
}

// SendSMS simulates an SMS submission.
func (p *Provider) SendSMS(ctx context.Context, to, body, statusCallbackURL string) (telephony.DeliveryResult, error) {
	if err := telephony.ValidateSMSBody(body); err != nil {
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), Message: err.Error()}
	}
	return p.attempt(ctx, "sms")
}

func (p *Provider) attempt(ctx context.Context, kind string) (telephony.DeliveryResult, error) {
	delay, roll, ref := p.draw(kind)

	select {
	case <-ctx.Done():
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), Message: fmt.Sprintf("timeout: %v", ctx.Err())}
	case <-time.After(delay):
	}

	if roll <= p.successRate {
		return telephony.DeliveryResult{ProviderRef: ref, ProviderStatus: "queued"}, nil
	}
	return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), HTTPStatus: 503, Message: "simulated failure"}
}

// draw takes every random sample for one attempt under the lock.
func (p *Provider) draw(kind string) (delay time.Duration, roll float64, ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delay = time.Duration(10+p.rng.Intn(40)) * time.Millisecond
	roll = p.rng.Float64()
	ref = fmt.Sprintf("mock-%s-%d", kind, p.rng.Int63())
	return delay, roll, ref
}

// ParseWebhook accepts a JSON body with ref and status fields.
func (p *Provider) ParseWebhook(rawBody []byte) *domain.WebhookEvent {
	var event struct {
		Ref    string `json:"ref"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rawBody, &event); err != nil || event.Ref == "" {
		return nil
	}
	return &domain.WebhookEvent{ProviderRef: event.Ref, Status: domain.DeliveryStatus(event.Status)}
}

// ValidateSignature always accepts; the mock vendor has no signature scheme.
func (p *Provider) ValidateSignature(_ []byte, _ string, _ string) bool {
	return true
}

// CheckHealth always reports healthy.
func (p *Provider) CheckHealth(_ context.Context) telephony.HealthStatus {
	return telephony.HealthStatus{Healthy: true, Message: "mock provider ready"}
}

// Info exposes diagnostic configuration.
func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Provider:     p.ID(),
		Configured:   true,
		MaskedNumber: "****",
		BaseURL:      "mock://",
	}
}
