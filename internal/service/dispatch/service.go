package dispatch

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/vehicle-contact-relay/internal/config"
	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/queue"
	"github.com/acme/vehicle-contact-relay/internal/service/classify"
	"github.com/acme/vehicle-contact-relay/internal/telephony"
	apperrors "github.com/acme/vehicle-contact-relay/pkg/errors"
	"github.com/acme/vehicle-contact-relay/pkg/logger"
)

// Policy bounds one dispatch sequence: provider selection plus the retry
// loop parameters. Read-only after construction.
type Policy struct {
	Primary           domain.ProviderID
	Fallback          domain.ProviderID
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// PolicyFromConfig parses and validates the configured dispatch policy.
func PolicyFromConfig(cfg config.DispatchConfig) (Policy, error) {
	primary, err := domain.ParseProviderID(cfg.PrimaryProvider)
	if err != nil {
		return Policy{}, fmt.Errorf("dispatch: primary provider: %w", err)
	}
	p := Policy{
		Primary:           primary,
		MaxAttempts:       cfg.MaxAttempts,
		BaseDelay:         cfg.BaseDelay,
		MaxDelay:          cfg.MaxDelay,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}
	if cfg.FallbackProvider != "" {
		fallback, err := domain.ParseProviderID(cfg.FallbackProvider)
		if err != nil {
			return Policy{}, fmt.Errorf("dispatch: fallback provider: %w", err)
		}
		p.Fallback = fallback
	}
	return p.normalized(), nil
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 2
	}
	return p
}

// providerChain lists the providers to try in order. A fallback equal to
// the primary (or absent) yields a single-element chain, so the same
// provider is never dispatched to under two names.
func (p Policy) providerChain() []domain.ProviderID {
	chain := []domain.ProviderID{p.Primary}
	if p.Fallback != "" && p.Fallback != p.Primary {
		chain = append(chain, p.Fallback)
	}
	return chain
}

// delayBefore returns the backoff delay preceding attempt k (1-based)
// within one provider loop. The first attempt is never delayed.
func (p Policy) delayBefore(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-2)))
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}

// QuotaTracker accounts provider send volume.
type QuotaTracker interface {
	Exceeded(ctx context.Context, provider domain.ProviderID, channel domain.Channel) bool
	RecordSend(ctx context.Context, provider domain.ProviderID, channel domain.Channel) error
	Status(ctx context.Context, provider domain.ProviderID) domain.QuotaStatus
}

// DeliveryRecorder hands finished dispatch records to the logging
// collaborator.
type DeliveryRecorder interface {
	PublishDelivery(ctx context.Context, record queue.DeliveryRecord) error
}

// AdminNotifier delivers best-effort operator notifications.
type AdminNotifier interface {
	NotifyQuotaExceeded(ctx context.Context, provider domain.ProviderID, channel domain.Channel, detail string) error
}

// Service owns provider selection, retry-with-backoff, and failover for a
// single call or SMS dispatch.
type Service struct {
	registry     *telephony.Registry
	policy       Policy
	quota        QuotaTracker
	recorder     DeliveryRecorder
	admin        AdminNotifier
	callbackBase string
	log          *logger.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewService builds the dispatch service.
func NewService(
	registry *telephony.Registry,
	policy Policy,
	quota QuotaTracker,
	recorder DeliveryRecorder,
	admin AdminNotifier,
	callbackBase string,
	log *logger.Logger,
) *Service {
	return &Service{
		registry:     registry,
		policy:       policy.normalized(),
		quota:        quota,
		recorder:     recorder,
		admin:        admin,
		callbackBase: strings.TrimRight(callbackBase, "/"),
		log:          log,
		sleep:        sleepCtx,
	}
}

// Policy returns a read-only snapshot of the configured dispatch policy.
// Credentials are not part of the policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// RecordMeta attaches alert context to the emitted delivery record.
type RecordMeta struct {
	AlertID   uuid.UUID
	VehicleID string
}

// DispatchCall runs the full retry/failover sequence for one masked call.
// Provider failures are folded into the outcome; the returned error is
// non-nil only for invalid input, which is rejected before any network
// call.
func (s *Service) DispatchCall(ctx context.Context, req domain.CallRequest) (domain.DispatchOutcome, error) {
	return s.DispatchCallWithPolicy(ctx, req, s.policy, RecordMeta{})
}

// DispatchCallWithPolicy is DispatchCall under a caller-supplied policy.
// The emergency alert orchestrator uses this to run the same sequence
// with its own attempt budget and alert context on the audit record.
func (s *Service) DispatchCallWithPolicy(ctx context.Context, req domain.CallRequest, policy Policy, meta RecordMeta) (domain.DispatchOutcome, error) {
	if err := req.Validate(); err != nil {
		return domain.DispatchOutcome{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	outcome := s.run(ctx, domain.ChannelCall, policy, meta, func(ctx context.Context, p telephony.Provider) (telephony.DeliveryResult, error) {
		r := req
		if r.StatusCallbackURL == "" {
			r.StatusCallbackURL = s.callbackURL(p.ID())
		}
		return p.InitiateMaskedCall(ctx, r)
	})
	return outcome, nil
}

// DispatchSMS runs the full retry/failover sequence for one SMS.
func (s *Service) DispatchSMS(ctx context.Context, to, body string) (domain.DispatchOutcome, error) {
	return s.DispatchSMSWithPolicy(ctx, to, body, s.policy, RecordMeta{})
}

// DispatchSMSWithPolicy is DispatchSMS under a caller-supplied policy.
func (s *Service) DispatchSMSWithPolicy(ctx context.Context, to, body string, policy Policy, meta RecordMeta) (domain.DispatchOutcome, error) {
	if err := domain.ValidatePhoneNumber(to); err != nil {
		return domain.DispatchOutcome{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	if err := telephony.ValidateSMSBody(body); err != nil {
		return domain.DispatchOutcome{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	outcome := s.run(ctx, domain.ChannelSMS, policy, meta, func(ctx context.Context, p telephony.Provider) (telephony.DeliveryResult, error) {
		return p.SendSMS(ctx, to, body, s.callbackURL(p.ID()))
	})
	return outcome, nil
}

// run executes the retry/failover algorithm: up to MaxAttempts tries
// against the primary, then the same against a distinct fallback. Attempt
// numbers are global across providers so the audit trail stays strictly
// increasing. Once started the sequence runs to completion; a dropped
// client context must not abandon a half-sent delivery.
func (s *Service) run(
	ctx context.Context,
	channel domain.Channel,
	policy Policy,
	meta RecordMeta,
	action func(ctx context.Context, p telephony.Provider) (telephony.DeliveryResult, error),
) domain.DispatchOutcome {
	ctx = context.WithoutCancel(ctx)
	policy = policy.normalized()
	startedAt := time.Now().UTC()

	var attempts []domain.AttemptRecord
	var failures []string

	for _, pid := range policy.providerChain() {
		adapter, err := s.registry.Get(pid)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", pid, err))
			continue
		}

		if s.quota != nil && s.quota.Exceeded(ctx, pid, channel) {
			detail := fmt.Sprintf("local %s quota exhausted", channel)
			attempts = append(attempts, domain.AttemptRecord{
				AttemptNumber: len(attempts) + 1,
				Timestamp:     time.Now().UTC(),
				Outcome:       domain.AttemptFailed,
				ErrorDetail:   detail,
				Provider:      pid,
			})
			failures = append(failures, fmt.Sprintf("%s: %s", pid, detail))
			s.notifyQuota(ctx, pid, channel, detail)
			continue
		}

		result, svcErr := s.runProviderLoop(ctx, channel, policy, adapter, action, &attempts)
		if svcErr == nil {
			outcome := domain.DispatchOutcome{
				Channel:     channel,
				Provider:    pid,
				ProviderRef: result.ProviderRef,
				Status:      domain.StatusInitiated,
				Message:     fmt.Sprintf("%s accepted by %s", channel, pid),
				Attempts:    attempts,
			}
			s.record(ctx, outcome, meta, startedAt)
			return outcome
		}

		failures = append(failures, fmt.Sprintf("%s: %s (%s)", pid, svcErr.Message, svcErr.Category))
		if svcErr.Category == domain.ErrQuotaExceeded {
			s.notifyQuota(ctx, pid, channel, svcErr.Message)
		}
	}

	outcome := domain.DispatchOutcome{
		Channel:  channel,
		Status:   domain.StatusFailed,
		Message:  strings.Join(failures, "; "),
		Attempts: attempts,
	}
	if len(attempts) > 0 {
		outcome.Provider = attempts[len(attempts)-1].Provider
	}
	s.record(ctx, outcome, meta, startedAt)
	return outcome
}

// runProviderLoop tries one provider up to MaxAttempts times. A
// classification with ShouldRetry=false aborts the loop early so auth and
// invalid-number failures do not burn the remaining budget.
func (s *Service) runProviderLoop(
	ctx context.Context,
	channel domain.Channel,
	policy Policy,
	adapter telephony.Provider,
	action func(ctx context.Context, p telephony.Provider) (telephony.DeliveryResult, error),
	attempts *[]domain.AttemptRecord,
) (telephony.DeliveryResult, *domain.ServiceError) {
	var lastErr *domain.ServiceError

	for try := 1; try <= policy.MaxAttempts; try++ {
		if delay := policy.delayBefore(try); delay > 0 {
			s.sleep(ctx, delay)
		}

		result, err := action(ctx, adapter)
		record := domain.AttemptRecord{
			AttemptNumber: len(*attempts) + 1,
			Timestamp:     time.Now().UTC(),
			Provider:      adapter.ID(),
		}

		if err == nil {
			record.Outcome = domain.AttemptSent
			*attempts = append(*attempts, record)
			if s.quota != nil {
				if qErr := s.quota.RecordSend(ctx, adapter.ID(), channel); qErr != nil {
					s.log.Warn("dispatch: quota accounting failed", zap.Error(qErr))
				}
			}
			return result, nil
		}

		lastErr = classify.Classify(adapter.ID(), err)
		record.Outcome = domain.AttemptFailed
		record.ErrorDetail = lastErr.Message
		*attempts = append(*attempts, record)

		s.log.Warn("dispatch: attempt failed",
			zap.String("provider", string(adapter.ID())),
			zap.String("channel", string(channel)),
			zap.Int("attempt", record.AttemptNumber),
			zap.String("category", string(lastErr.Category)),
		)

		if !lastErr.ShouldRetry {
			break
		}
	}
	return telephony.DeliveryResult{}, lastErr
}

// HealthReport aggregates provider health.
type HealthReport struct {
	Overall   bool                                         `json:"overall"`
	Providers map[domain.ProviderID]telephony.HealthStatus `json:"providers"`
	Quota     map[domain.ProviderID]domain.QuotaStatus     `json:"quota,omitempty"`
}

// CheckOverallHealth reports per-provider health and quota. Overall is
// true iff at least one configured provider is healthy.
func (s *Service) CheckOverallHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		Providers: make(map[domain.ProviderID]telephony.HealthStatus),
		Quota:     make(map[domain.ProviderID]domain.QuotaStatus),
	}
	for _, adapter := range s.registry.All() {
		health := adapter.CheckHealth(ctx)
		report.Providers[adapter.ID()] = health
		if health.Healthy {
			report.Overall = true
		}
		if s.quota != nil {
			report.Quota[adapter.ID()] = s.quota.Status(ctx, adapter.ID())
		}
	}
	return report
}

func (s *Service) record(ctx context.Context, outcome domain.DispatchOutcome, meta RecordMeta, startedAt time.Time) {
	if s.recorder == nil {
		return
	}
	rec := queue.DeliveryRecord{
		RecordID:    uuid.New(),
		AlertID:     meta.AlertID,
		VehicleID:   meta.VehicleID,
		Channel:     outcome.Channel,
		Status:      outcome.Status,
		Provider:    outcome.Provider,
		ProviderRef: outcome.ProviderRef,
		Message:     outcome.Message,
		Attempts:    outcome.Attempts,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
	}
	if err := s.recorder.PublishDelivery(ctx, rec); err != nil {
		s.log.Error("dispatch: publish delivery record", zap.Error(err))
	}
}

// notifyQuota is best-effort: a failed admin notification is logged and
// swallowed, never allowed to block the primary flow.
func (s *Service) notifyQuota(ctx context.Context, provider domain.ProviderID, channel domain.Channel, detail string) {
	if s.admin == nil {
		return
	}
	if err := s.admin.NotifyQuotaExceeded(ctx, provider, channel, detail); err != nil {
		s.log.Warn("dispatch: admin quota notification failed", zap.Error(err))
	}
}

func (s *Service) callbackURL(provider domain.ProviderID) string {
	if s.callbackBase == "" {
		return ""
	}
	return fmt.Sprintf("%s/webhooks/%s", s.callbackBase, provider)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
