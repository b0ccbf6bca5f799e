package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/queue"
	"github.com/acme/vehicle-contact-relay/internal/telephony"
	apperrors "github.com/acme/vehicle-contact-relay/pkg/errors"
	"github.com/acme/vehicle-contact-relay/pkg/logger"
)

// scriptedProvider fails a fixed number of times, then succeeds. A
// failAlways provider never succeeds.
type scriptedProvider struct {
	id                    domain.ProviderID
	failuresBeforeSuccess int
	failAlways            bool
	err                   error
	healthy               bool

	calls int
	smses int
}

func (p *scriptedProvider) ID() domain.ProviderID { return p.id }

func (p *scriptedProvider) attempt() (telephony.DeliveryResult, error) {
	total := p.calls + p.smses
	if p.failAlways || total <= p.failuresBeforeSuccess {
		return telephony.DeliveryResult{}, p.err
	}
	return telephony.DeliveryResult{ProviderRef: string(p.id) + "-ref", ProviderStatus: "queued"}, nil
}

func (p *scriptedProvider) InitiateMaskedCall(ctx context.Context, req domain.CallRequest) (telephony.DeliveryResult, error) {
	p.calls++
	return p.attempt()
}

func (p *scriptedProvider) SendSMS(ctx context.Context, to, body, statusCallbackURL string) (telephony.DeliveryResult, error) {
	p.smses++
	return p.attempt()
}

func (p *scriptedProvider) ParseWebhook(rawBody []byte) *domain.WebhookEvent { return nil }

func (p *scriptedProvider) ValidateSignature(payload []byte, signature, url string) bool {
	return true
}

func (p *scriptedProvider) CheckHealth(ctx context.Context) telephony.HealthStatus {
	return telephony.HealthStatus{Healthy: p.healthy}
}

func (p *scriptedProvider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{Provider: p.id, Configured: p.healthy}
}

type fakeQuota struct {
	exceeded map[domain.ProviderID]bool
	recorded []domain.ProviderID
}

func (q *fakeQuota) Exceeded(ctx context.Context, provider domain.ProviderID, channel domain.Channel) bool {
	return q.exceeded[provider]
}

func (q *fakeQuota) RecordSend(ctx context.Context, provider domain.ProviderID, channel domain.Channel) error {
	q.recorded = append(q.recorded, provider)
	return nil
}

func (q *fakeQuota) Status(ctx context.Context, provider domain.ProviderID) domain.QuotaStatus {
	return domain.QuotaStatus{Provider: provider, Exceeded: q.exceeded[provider]}
}

type captureRecorder struct {
	records []queue.DeliveryRecord
}

func (r *captureRecorder) PublishDelivery(ctx context.Context, record queue.DeliveryRecord) error {
	r.records = append(r.records, record)
	return nil
}

type captureAdmin struct {
	notifications int
}

func (a *captureAdmin) NotifyQuotaExceeded(ctx context.Context, provider domain.ProviderID, channel domain.Channel, detail string) error {
	a.notifications++
	return nil
}

func unavailableErr(id domain.ProviderID) error {
	return &telephony.ProviderError{Provider: id, HTTPStatus: 503, Message: "service unavailable"}
}

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func newTestDispatch(policy Policy, quota QuotaTracker, recorder DeliveryRecorder, admin AdminNotifier, providers ...telephony.Provider) (*Service, *[]time.Duration) {
	svc := NewService(telephony.NewRegistry(providers...), policy, quota, recorder, admin, "https://relay.example.com", testLogger())
	var slept []time.Duration
	svc.sleep = func(ctx context.Context, d time.Duration) {
		slept = append(slept, d)
	}
	return svc, &slept
}

func validCall() domain.CallRequest {
	return domain.CallRequest{CallerNumber: "+15550001111", CalleeNumber: "+14155550100"}
}

func TestDispatchCallSucceedsFirstAttempt(t *testing.T) {
	primary := &scriptedProvider{id: domain.ProviderTwilio, healthy: true}
	quota := &fakeQuota{}
	recorder := &captureRecorder{}
	svc, slept := newTestDispatch(Policy{Primary: domain.ProviderTwilio, MaxAttempts: 3}, quota, recorder, nil, primary)

	out, err := svc.DispatchCall(context.Background(), validCall())
	if err != nil {
		t.Fatalf("DispatchCall() error = %v", err)
	}
	if !out.Sent() {
		t.Fatalf("status = %q, want initiated", out.Status)
	}
	if out.Provider != domain.ProviderTwilio || out.ProviderRef != "twilio-ref" {
		t.Errorf("provider/ref = %q/%q", out.Provider, out.ProviderRef)
	}
	if len(out.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(out.Attempts))
	}
	if len(*slept) != 0 {
		t.Errorf("no backoff before the first attempt, slept %v", *slept)
	}
	if len(quota.recorded) != 1 || quota.recorded[0] != domain.ProviderTwilio {
		t.Errorf("successful send must be quota-accounted, got %v", quota.recorded)
	}
	if len(recorder.records) != 1 {
		t.Fatalf("one delivery record expected, got %d", len(recorder.records))
	}
	if recorder.records[0].Status != domain.StatusInitiated {
		t.Errorf("record status = %q", recorder.records[0].Status)
	}
}

func TestDispatchCallRetriesThenSucceeds(t *testing.T) {
	// fails attempt 1, succeeds attempt 2
	primary := &scriptedProvider{id: domain.ProviderTwilio, failuresBeforeSuccess: 1, err: unavailableErr(domain.ProviderTwilio)}
	svc, slept := newTestDispatch(Policy{
		Primary:           domain.ProviderTwilio,
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
	}, nil, nil, nil, primary)

	out, err := svc.DispatchCall(context.Background(), validCall())
	if err != nil {
		t.Fatalf("DispatchCall() error = %v", err)
	}
	if !out.Sent() {
		t.Fatalf("status = %q", out.Status)
	}
	if len(out.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(out.Attempts))
	}
	if out.Attempts[0].Outcome != domain.AttemptFailed || out.Attempts[1].Outcome != domain.AttemptSent {
		t.Errorf("attempt outcomes = %q, %q", out.Attempts[0].Outcome, out.Attempts[1].Outcome)
	}
	if out.Attempts[0].AttemptNumber != 1 || out.Attempts[1].AttemptNumber != 2 {
		t.Errorf("attempt numbers must be strictly increasing")
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("expected one base-delay backoff, got %v", *slept)
	}
}

func TestDispatchFailoverAttemptCounts(t *testing.T) {
	// primary always throttled, fallback succeeds on its second try;
	// with MaxAttempts=3 the audit trail must show 3 + 2 = 5 attempts.
	primary := &scriptedProvider{id: domain.ProviderTwilio, failAlways: true,
		err: &telephony.ProviderError{Provider: domain.ProviderTwilio, HTTPStatus: 429, Message: "too many requests"}}
	fallback := &scriptedProvider{id: domain.ProviderVonage, failuresBeforeSuccess: 1, err: unavailableErr(domain.ProviderVonage)}
	admin := &captureAdmin{}
	svc, slept := newTestDispatch(Policy{
		Primary:           domain.ProviderTwilio,
		Fallback:          domain.ProviderVonage,
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
	}, nil, nil, admin, primary, fallback)

	out, err := svc.DispatchCall(context.Background(), validCall())
	if err != nil {
		t.Fatalf("DispatchCall() error = %v", err)
	}
	if !out.Sent() {
		t.Fatalf("status = %q", out.Status)
	}
	if out.Provider != domain.ProviderVonage {
		t.Errorf("provider = %q, want vonage", out.Provider)
	}
	if len(out.Attempts) != 5 {
		t.Fatalf("attempts = %d, want 5", len(out.Attempts))
	}
	for i, a := range out.Attempts {
		if a.AttemptNumber != i+1 {
			t.Errorf("attempt %d numbered %d, numbering must be global across providers", i, a.AttemptNumber)
		}
	}
	for _, a := range out.Attempts[:3] {
		if a.Provider != domain.ProviderTwilio {
			t.Errorf("first three attempts must be against the primary")
		}
	}
	for _, a := range out.Attempts[3:] {
		if a.Provider != domain.ProviderVonage {
			t.Errorf("remaining attempts must be against the fallback")
		}
	}
	// backoff restarts per provider loop: 1s, 2s within primary, then 1s in fallback
	want := []time.Duration{time.Second, 2 * time.Second, time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, (*slept)[i], want[i])
		}
	}
	// vendor 429 triggers the admin quota notification
	if admin.notifications == 0 {
		t.Errorf("vendor quota exhaustion must notify the admin channel")
	}
}

func TestDispatchBothProvidersExhaustedMessageNamesBoth(t *testing.T) {
	primary := &scriptedProvider{id: domain.ProviderTwilio, failAlways: true, err: unavailableErr(domain.ProviderTwilio)}
	fallback := &scriptedProvider{id: domain.ProviderVonage, failAlways: true,
		err: &telephony.ProviderError{Provider: domain.ProviderVonage, HTTPStatus: 429, Message: "throughput exceeded"}}
	recorder := &captureRecorder{}
	svc, _ := newTestDispatch(Policy{
		Primary:     domain.ProviderTwilio,
		Fallback:    domain.ProviderVonage,
		MaxAttempts: 2,
	}, nil, recorder, nil, primary, fallback)

	out, err := svc.DispatchSMS(context.Background(), "+14155550100", "Please move your vehicle, it is blocking the driveway.")
	if err != nil {
		t.Fatalf("DispatchSMS() error = %v", err)
	}
	if out.Sent() {
		t.Fatalf("dispatch must fail when every provider is exhausted")
	}
	if len(out.Attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(out.Attempts))
	}
	if !strings.Contains(out.Message, "twilio:") || !strings.Contains(out.Message, "vonage:") {
		t.Errorf("failure message must name every provider's reason: %q", out.Message)
	}
	if !strings.Contains(out.Message, "service_unavailable") || !strings.Contains(out.Message, "quota_exceeded") {
		t.Errorf("failure message must carry classified categories: %q", out.Message)
	}
	if len(recorder.records) != 1 || recorder.records[0].Status != domain.StatusFailed {
		t.Errorf("a failed sequence still emits one delivery record")
	}
}

func TestDispatchFallbackEqualToPrimaryNotRetried(t *testing.T) {
	primary := &scriptedProvider{id: domain.ProviderTwilio, failAlways: true, err: unavailableErr(domain.ProviderTwilio)}
	svc, _ := newTestDispatch(Policy{
		Primary:     domain.ProviderTwilio,
		Fallback:    domain.ProviderTwilio,
		MaxAttempts: 2,
	}, nil, nil, nil, primary)

	out, _ := svc.DispatchCall(context.Background(), validCall())
	if len(out.Attempts) != 2 {
		t.Errorf("a fallback identical to the primary must not double the attempts, got %d", len(out.Attempts))
	}
}

func TestDispatchNonRetryableAbortsProviderEarly(t *testing.T) {
	primary := &scriptedProvider{id: domain.ProviderTwilio, failAlways: true,
		err: &telephony.ProviderError{Provider: domain.ProviderTwilio, HTTPStatus: 401, Message: "authentication failed"}}
	fallback := &scriptedProvider{id: domain.ProviderVonage}
	svc, _ := newTestDispatch(Policy{
		Primary:     domain.ProviderTwilio,
		Fallback:    domain.ProviderVonage,
		MaxAttempts: 3,
	}, nil, nil, nil, primary, fallback)

	out, _ := svc.DispatchCall(context.Background(), validCall())
	if !out.Sent() {
		t.Fatalf("fallback should have served the request, status = %q", out.Status)
	}
	// auth failure aborts the primary after one try; fallback succeeds at once
	if len(out.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2 (1 aborted primary + 1 fallback)", len(out.Attempts))
	}
	if primary.calls != 1 {
		t.Errorf("non-retryable failure must not burn the remaining budget, primary tried %d times", primary.calls)
	}
}

func TestDispatchQuotaPreCheckSkipsProvider(t *testing.T) {
	primary := &scriptedProvider{id: domain.ProviderTwilio}
	fallback := &scriptedProvider{id: domain.ProviderVonage}
	quota := &fakeQuota{exceeded: map[domain.ProviderID]bool{domain.ProviderTwilio: true}}
	admin := &captureAdmin{}
	svc, _ := newTestDispatch(Policy{
		Primary:     domain.ProviderTwilio,
		Fallback:    domain.ProviderVonage,
		MaxAttempts: 3,
	}, quota, nil, admin, primary, fallback)

	out, _ := svc.DispatchSMS(context.Background(), "+14155550100", "Please move your vehicle, it is blocking the driveway.")
	if !out.Sent() {
		t.Fatalf("fallback should serve when the primary quota is spent, status = %q", out.Status)
	}
	if primary.smses != 0 {
		t.Errorf("a quota-exhausted provider must not be dispatched to")
	}
	// one synthetic failed attempt for the skip, one sent for the fallback
	if len(out.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(out.Attempts))
	}
	if out.Attempts[0].Outcome != domain.AttemptFailed || out.Attempts[0].Provider != domain.ProviderTwilio {
		t.Errorf("quota skip must leave a failed audit record for the primary")
	}
	if admin.notifications != 1 {
		t.Errorf("local quota exhaustion must notify the admin channel once, got %d", admin.notifications)
	}
}

func TestDispatchValidationRejectedBeforeNetwork(t *testing.T) {
	primary := &scriptedProvider{id: domain.ProviderTwilio}
	svc, _ := newTestDispatch(Policy{Primary: domain.ProviderTwilio}, nil, nil, nil, primary)

	if _, err := svc.DispatchCall(context.Background(), domain.CallRequest{CallerNumber: "bad", CalleeNumber: "+14155550100"}); err == nil {
		t.Errorf("invalid caller number must be rejected")
	}
	if _, err := svc.DispatchSMS(context.Background(), "+14155550100", ""); err == nil {
		t.Errorf("empty sms body must be rejected")
	}
	if _, err := svc.DispatchSMS(context.Background(), "+14155550100", strings.Repeat("x", domain.SMSBodyLimit+1)); err == nil {
		t.Errorf("oversized sms body must be rejected")
	}
	if primary.calls != 0 || primary.smses != 0 {
		t.Errorf("validation failures must not reach the provider")
	}
}

func TestDispatchValidationErrorsWrapSentinel(t *testing.T) {
	svc, _ := newTestDispatch(Policy{Primary: domain.ProviderTwilio}, nil, nil, nil, &scriptedProvider{id: domain.ProviderTwilio})

	_, err := svc.DispatchSMS(context.Background(), "not-a-number", "Please move your vehicle, it is blocking the driveway.")
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestCheckOverallHealth(t *testing.T) {
	healthy := &scriptedProvider{id: domain.ProviderTwilio, healthy: true}
	unhealthy := &scriptedProvider{id: domain.ProviderVonage}
	svc, _ := newTestDispatch(Policy{Primary: domain.ProviderTwilio}, &fakeQuota{}, nil, nil, healthy, unhealthy)

	report := svc.CheckOverallHealth(context.Background())
	if !report.Overall {
		t.Errorf("overall must be true when any provider is healthy")
	}
	if len(report.Providers) != 2 {
		t.Errorf("providers reported = %d, want 2", len(report.Providers))
	}
	if !report.Providers[domain.ProviderTwilio].Healthy || report.Providers[domain.ProviderVonage].Healthy {
		t.Errorf("per-provider health mismatch: %+v", report.Providers)
	}

	svc2, _ := newTestDispatch(Policy{Primary: domain.ProviderVonage}, nil, nil, nil, unhealthy)
	if svc2.CheckOverallHealth(context.Background()).Overall {
		t.Errorf("overall must be false when no provider is healthy")
	}
}

func TestPolicyDelayBefore(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2, MaxAttempts: 10}.normalized()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 5 * time.Second}, // capped
		{6, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := p.delayBefore(tc.attempt); got != tc.want {
			t.Errorf("delayBefore(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
