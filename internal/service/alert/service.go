package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/repository"
	"github.com/acme/vehicle-contact-relay/internal/service/dispatch"
	apperrors "github.com/acme/vehicle-contact-relay/pkg/errors"
	"github.com/acme/vehicle-contact-relay/pkg/logger"
)

// Dispatcher runs one bounded retry/failover sequence per invocation and
// returns the full per-attempt audit trail.
type Dispatcher interface {
	DispatchCallWithPolicy(ctx context.Context, req domain.CallRequest, policy dispatch.Policy, meta dispatch.RecordMeta) (domain.DispatchOutcome, error)
	DispatchSMSWithPolicy(ctx context.Context, to, body string, policy dispatch.Policy, meta dispatch.RecordMeta) (domain.DispatchOutcome, error)
}

// Service coordinates dual-channel emergency alerts: an alert call and an
// alert SMS to the vehicle owner, each with its own independent retry
// loop and audit trail.
type Service struct {
	directory  repository.VehicleDirectory
	templates  repository.AlertTemplateRepository
	dispatcher Dispatcher
	policy     dispatch.Policy
	voiceLine  string
	log        *logger.Logger
}

// NewService builds the alert orchestrator. The policy bounds each
// channel's retry loop independently of generic dispatch.
func NewService(
	directory repository.VehicleDirectory,
	templates repository.AlertTemplateRepository,
	dispatcher Dispatcher,
	policy dispatch.Policy,
	voiceLine string,
	log *logger.Logger,
) *Service {
	return &Service{
		directory:  directory,
		templates:  templates,
		dispatcher: dispatcher,
		policy:     policy,
		voiceLine:  voiceLine,
		log:        log,
	}
}

// Request describes one emergency alert.
type Request struct {
	VehicleID      string
	TemplateID     string
	CustomMessage  string
	Customizations Customizations
}

// Status is the overall alert outcome. The alert counts as sent when
// either channel reached the vendor.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Outcome reports both channel results and the combined status.
type Outcome struct {
	AlertID     uuid.UUID              `json:"alert_id"`
	VehicleID   string                 `json:"vehicle_id"`
	Status      Status                 `json:"status"`
	Message     string                 `json:"message"`
	CallMessage string                 `json:"call_message"`
	SMSMessage  string                 `json:"sms_message"`
	Call        domain.DispatchOutcome `json:"call"`
	SMS         domain.DispatchOutcome `json:"sms"`
}

// SendEmergencyAlert resolves the owner, composes per-channel messages,
// and drives the two delivery channels concurrently. It returns an error
// only for input validation and owner lookup failures, both fatal before
// any delivery attempt; channel failures are folded into the outcome.
func (s *Service) SendEmergencyAlert(ctx context.Context, req Request) (*Outcome, error) {
	if strings.TrimSpace(req.VehicleID) == "" {
		return nil, fmt.Errorf("%w: vehicle id is required", apperrors.ErrValidation)
	}

	owner, err := s.directory.ResolveOwner(ctx, req.VehicleID)
	if err != nil {
		return nil, fmt.Errorf("%w: vehicle %s: %v", apperrors.ErrOwnerLookup, req.VehicleID, err)
	}
	if err := domain.ValidatePhoneNumber(owner.OwnerPhone); err != nil {
		return nil, fmt.Errorf("%w: vehicle %s has no reachable owner number: %v", apperrors.ErrOwnerLookup, req.VehicleID, err)
	}

	callMessage, smsMessage, err := s.selectMessages(ctx, req, owner)
	if err != nil {
		return nil, err
	}

	alertID := uuid.New()
	meta := dispatch.RecordMeta{AlertID: alertID, VehicleID: req.VehicleID}

	s.log.Info("alert: dispatching dual-channel",
		zap.String("alert_id", alertID.String()),
		zap.String("vehicle_id", req.VehicleID),
		zap.String("owner", domain.MaskPhone(owner.OwnerPhone)),
	)

	// The two channels progress independently; a slow retry loop on one
	// must not delay the other. The alert completes only when both have
	// reached a terminal state.
	var wg sync.WaitGroup
	var callOutcome, smsOutcome domain.DispatchOutcome

	wg.Add(2)
	go func() {
		defer wg.Done()
		callOutcome = s.runCallChannel(ctx, owner.OwnerPhone, meta)
	}()
	go func() {
		defer wg.Done()
		smsOutcome = s.runSMSChannel(ctx, owner.OwnerPhone, smsMessage, meta)
	}()
	wg.Wait()

	outcome := &Outcome{
		AlertID:     alertID,
		VehicleID:   req.VehicleID,
		Status:      StatusFailed,
		Message:     summarize(callOutcome, smsOutcome),
		CallMessage: callMessage,
		SMSMessage:  smsMessage,
		Call:        callOutcome,
		SMS:         smsOutcome,
	}
	if callOutcome.Sent() || smsOutcome.Sent() {
		outcome.Status = StatusSent
	}

	s.log.Info("alert: finished",
		zap.String("alert_id", alertID.String()),
		zap.String("status", string(outcome.Status)),
		zap.Int("call_attempts", len(callOutcome.Attempts)),
		zap.Int("sms_attempts", len(smsOutcome.Attempts)),
	)

	return outcome, nil
}

// selectMessages picks the alert copy: a validated custom message is used
// verbatim on both channels; otherwise the call and SMS texts are derived
// independently from the resolved template.
func (s *Service) selectMessages(ctx context.Context, req Request, owner *repository.VehicleOwner) (callMessage, smsMessage string, err error) {
	if req.CustomMessage != "" {
		if v := domain.ValidateMessage(req.CustomMessage); !v.Valid {
			return "", "", fmt.Errorf("%w: custom message rejected: %s", apperrors.ErrValidation, v.Reason)
		}
		msg := strings.TrimSpace(req.CustomMessage)
		return msg, msg, nil
	}

	template := s.resolveTemplate(ctx, req.TemplateID)

	c := req.Customizations
	if c.VehicleDescriptor == "" {
		c.VehicleDescriptor = owner.Descriptor
	}

	callMessage = composeMessage(template.CallMessage, c)
	smsMessage = composeMessage(template.SMSMessage, c)

	if v := domain.ValidateMessage(callMessage); !v.Valid {
		return "", "", fmt.Errorf("%w: call message rejected: %s", apperrors.ErrValidation, v.Reason)
	}
	if v := domain.ValidateMessage(smsMessage); !v.Valid {
		return "", "", fmt.Errorf("%w: sms message rejected: %s", apperrors.ErrValidation, v.Reason)
	}
	return callMessage, smsMessage, nil
}

// resolveTemplate falls back from the requested template to the stored
// default and finally to the builtin copy.
func (s *Service) resolveTemplate(ctx context.Context, templateID string) *repository.AlertTemplate {
	if s.templates == nil {
		return &defaultTemplate
	}

	if templateID != "" {
		if t, err := s.templates.Get(ctx, templateID); err == nil {
			return t
		} else {
			s.log.Warn("alert: template lookup failed, falling back",
				zap.String("template_id", templateID), zap.Error(err))
		}
	}

	if t, err := s.templates.Fallback(ctx); err == nil {
		return t
	}
	return &defaultTemplate
}

// runCallChannel bridges the owner to the configured alert voice line.
func (s *Service) runCallChannel(ctx context.Context, ownerPhone string, meta dispatch.RecordMeta) domain.DispatchOutcome {
	req := domain.CallRequest{
		CallerNumber: s.voiceLine,
		CalleeNumber: ownerPhone,
	}
	outcome, err := s.dispatcher.DispatchCallWithPolicy(ctx, req, s.policy, meta)
	if err != nil {
		return domain.DispatchOutcome{
			Channel: domain.ChannelCall,
			Status:  domain.StatusFailed,
			Message: err.Error(),
		}
	}
	return outcome
}

func (s *Service) runSMSChannel(ctx context.Context, ownerPhone, body string, meta dispatch.RecordMeta) domain.DispatchOutcome {
	outcome, err := s.dispatcher.DispatchSMSWithPolicy(ctx, ownerPhone, body, s.policy, meta)
	if err != nil {
		return domain.DispatchOutcome{
			Channel: domain.ChannelSMS,
			Status:  domain.StatusFailed,
			Message: err.Error(),
		}
	}
	return outcome
}

// summarize names both channel statuses explicitly, with the underlying
// failure reasons preserved.
func summarize(call, sms domain.DispatchOutcome) string {
	return fmt.Sprintf("Call: %s, SMS: %s", channelSummary(call), channelSummary(sms))
}

func channelSummary(outcome domain.DispatchOutcome) string {
	if outcome.Sent() {
		return string(StatusSent)
	}
	if outcome.Message == "" {
		return string(StatusFailed)
	}
	return fmt.Sprintf("%s (%s)", StatusFailed, outcome.Message)
}
