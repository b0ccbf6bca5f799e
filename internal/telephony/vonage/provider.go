package vonage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/acme/vehicle-contact-relay/internal/config"
	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/telephony"
)

const defaultBaseURL = "https://rest.nexmo.com"

// Provider integrates the Vonage (Nexmo) REST API. Stateless after
// construction.
type Provider struct {
	cfg    config.VonageConfig
	client *http.Client
}

// New constructs a Vonage adapter.
func New(cfg config.VonageConfig) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// ID returns the provider identity.
func (p *Provider) ID() domain.ProviderID {
	return domain.ProviderVonage
}

// InitiateMaskedCall places an outbound call to the callee with an NCCO
// that connects it back to the caller through the relay number.
func (p *Provider) InitiateMaskedCall(ctx context.Context, req domain.CallRequest) (telephony.DeliveryResult, error) {
	payload := map[string]any{
		"to":   []map[string]string{{"type": "phone", "number": strings.TrimPrefix(req.CalleeNumber, "+")}},
		"from": map[string]string{"type": "phone", "number": strings.TrimPrefix(p.cfg.FromNumber, "+")},
		"ncco": []map[string]any{
			{
				"action": "connect",
				"from":   strings.TrimPrefix(p.cfg.FromNumber, "+"),
				"endpoint": []map[string]string{
					{"type": "phone", "number": strings.TrimPrefix(req.CallerNumber, "+")},
				},
			},
		},
	}
	if req.StatusCallbackURL != "" {
		payload["event_url"] = []string{req.StatusCallbackURL}
	}

	raw, status, err := p.post(ctx, p.cfg.BaseURL+"/v1/calls", payload)
	if err != nil {
		return telephony.DeliveryResult{}, err
	}

	var ack struct {
		UUID   string `json:"uuid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || ack.UUID == "" {
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), HTTPStatus: status, Message: "response missing call uuid"}
	}
	return telephony.DeliveryResult{ProviderRef: ack.UUID, ProviderStatus: ack.Status}, nil
}

// SendSMS submits one SMS through the Vonage SMS API.
func (p *Provider) SendSMS(ctx context.Context, to, body, statusCallbackURL string) (telephony.DeliveryResult, error) {
	if err := telephony.ValidateSMSBody(body); err != nil {
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), Message: err.Error()}
	}

	payload := map[string]any{
		"api_key":    p.cfg.APIKey,
		"api_secret": p.cfg.APISecret,
		"from":       strings.TrimPrefix(p.cfg.FromNumber, "+"),
		"to":         strings.TrimPrefix(to, "+"),
		"text":       body,
	}
	if statusCallbackURL != "" {
		payload["callback"] = statusCallbackURL
	}

	raw, status, err := p.post(ctx, p.cfg.BaseURL+"/sms/json", payload)
	if err != nil {
		return telephony.DeliveryResult{}, err
	}

	var ack struct {
		Messages []struct {
			MessageID string `json:"message-id"`
			Status    string `json:"status"`
			ErrorText string `json:"error-text"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || len(ack.Messages) == 0 {
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), HTTPStatus: status, Message: "response missing messages array"}
	}

	msg := ack.Messages[0]
	// Vonage reports per-message delivery errors with HTTP 200; status
	// "0" is the only success code.
	if msg.Status != "0" {
		return telephony.DeliveryResult{}, &telephony.ProviderError{
			Provider: p.ID(),
			Code:     msg.Status,
			Message:  fmt.Sprintf("sms rejected (status %s): %s", msg.Status, msg.ErrorText),
		}
	}
	return telephony.DeliveryResult{ProviderRef: msg.MessageID, ProviderStatus: "submitted"}, nil
}

func (p *Provider) post(ctx context.Context, endpoint string, payload map[string]any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, &telephony.ProviderError{Provider: p.ID(), Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &telephony.ProviderError{Provider: p.ID(), Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.cfg.APIKey, p.cfg.APISecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, &telephony.ProviderError{Provider: p.ID(), Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, &telephony.ProviderError{Provider: p.ID(), HTTPStatus: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Detail
		if msg == "" {
			msg = apiErr.Title
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, resp.StatusCode, &telephony.ProviderError{Provider: p.ID(), HTTPStatus: resp.StatusCode, Message: msg}
	}

	return raw, resp.StatusCode, nil
}

// ParseWebhook normalizes a Vonage event callback. Vonage posts JSON;
// string-encoded JSON bodies are tolerated. Returns nil on malformed
// input or when the identifier is missing.
func (p *Provider) ParseWebhook(rawBody []byte) *domain.WebhookEvent {
	trimmed := bytes.TrimSpace(rawBody)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil
		}
		return p.ParseWebhook([]byte(inner))
	}

	var event struct {
		UUID       string `json:"uuid"`
		MessageID  string `json:"message-id"`
		MessageID2 string `json:"messageId"`
		Status     string `json:"status"`
		Duration   string `json:"duration"`
		StartTime  string `json:"start_time"`
		EndTime    string `json:"end_time"`
	}
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil
	}

	ref := event.UUID
	if ref == "" {
		ref = event.MessageID
	}
	if ref == "" {
		ref = event.MessageID2
	}
	if ref == "" {
		return nil
	}

	out := &domain.WebhookEvent{
		ProviderRef: ref,
		Status:      mapStatus(event.Status),
	}
	if d, err := time.ParseDuration(event.Duration + "s"); err == nil && event.Duration != "" {
		out.DurationSeconds = int(d.Seconds())
	}
	if t := parseTime(event.StartTime); t != nil {
		out.StartedAt = t
	}
	if t := parseTime(event.EndTime); t != nil {
		out.EndedAt = t
	}
	return out
}

// ValidateSignature always accepts. The Vonage event callbacks configured
// here carry no signature header; this is a known weak point of the
// integration, carried forward deliberately rather than papered over with
// a scheme the vendor does not send.
func (p *Provider) ValidateSignature(_ []byte, _ string, _ string) bool {
	return true
}

// CheckHealth verifies required credentials and numbers are configured.
// Precondition check only; it never reaches the network.
func (p *Provider) CheckHealth(_ context.Context) telephony.HealthStatus {
	var missing []string
	if p.cfg.APIKey == "" {
		missing = append(missing, "api_key")
	}
	if p.cfg.APISecret == "" {
		missing = append(missing, "api_secret")
	}
	if p.cfg.FromNumber == "" {
		missing = append(missing, "from_number")
	}
	if len(missing) > 0 {
		return telephony.HealthStatus{Message: "vonage unconfigured: missing " + strings.Join(missing, ", ")}
	}
	return telephony.HealthStatus{Healthy: true, Message: "vonage configured"}
}

// Info exposes diagnostic configuration. Credentials are withheld.
func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Provider:     p.ID(),
		Configured:   p.CheckHealth(context.Background()).Healthy,
		MaskedNumber: domain.MaskPhone(p.cfg.FromNumber),
		BaseURL:      p.cfg.BaseURL,
	}
}

func mapStatus(vendorStatus string) domain.DeliveryStatus {
	switch strings.ToLower(vendorStatus) {
	case "started", "submitted", "accepted":
		return domain.StatusInitiated
	case "ringing":
		return domain.StatusRinging
	case "answered":
		return domain.StatusAnswered
	case "completed":
		return domain.StatusCompleted
	case "busy":
		return domain.StatusBusy
	case "timeout", "unanswered":
		return domain.StatusNoAnswer
	case "delivered":
		return domain.StatusDelivered
	case "failed", "rejected", "cancelled", "expired":
		return domain.StatusFailed
	default:
		return domain.StatusFailed
	}
}

func parseTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
