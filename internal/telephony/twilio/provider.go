package twilio

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/acme/vehicle-contact-relay/internal/config"
	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/telephony"
)

const defaultBaseURL = "https://api.twilio.com"

// Provider integrates the Twilio REST API. Stateless after construction.
type Provider struct {
	cfg    config.TwilioConfig
	client *http.Client
}

// New constructs a Twilio adapter.
func New(cfg config.TwilioConfig) *Provider {
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
	return domain.ProviderTwilio
}

// InitiateMaskedCall places an outbound call to the callee and bridges it
// to the caller through the relay number, so neither side sees the other's
// real number.
func (p *Provider) InitiateMaskedCall(ctx context.Context, req domain.CallRequest) (telephony.DeliveryResult, error) {
	twiml := fmt.Sprintf(`<Response><Dial callerId=%q>%s</Dial></Response>`, p.cfg.FromNumber, req.CallerNumber)

	form := url.Values{}
	form.Set("To", req.CalleeNumber)
	form.Set("From", p.cfg.FromNumber)
	form.Set("Twiml", twiml)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", p.cfg.BaseURL, p.cfg.AccountSID)
	return p.submit(ctx, endpoint, form)
}

// SendSMS submits one SMS through the Twilio Messages resource.
func (p *Provider) SendSMS(ctx context.Context, to, body, statusCallbackURL string) (telephony.DeliveryResult, error) {
	if err := telephony.ValidateSMSBody(body); err != nil {
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), Message: err.Error()}
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.cfg.FromNumber)
	form.Set("Body", body)
	if statusCallbackURL != "" {
		form.Set("StatusCallback", statusCallbackURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.cfg.BaseURL, p.cfg.AccountSID)
	return p.submit(ctx, endpoint, form)
}

func (p *Provider) submit(ctx context.Context, endpoint string, form url.Values) (telephony.DeliveryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), Message: fmt.Sprintf("build request: %v", err)}
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), HTTPStatus: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return telephony.DeliveryResult{}, &telephony.ProviderError{
			Provider:   p.ID(),
			HTTPStatus: resp.StatusCode,
			Code:       strconv.Itoa(apiErr.Code),
			Message:    msg,
		}
	}

	var ack struct {
		Sid    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Sid == "" {
		return telephony.DeliveryResult{}, &telephony.ProviderError{Provider: p.ID(), HTTPStatus: resp.StatusCode, Message: "response missing resource sid"}
	}

	return telephony.DeliveryResult{ProviderRef: ack.Sid, ProviderStatus: ack.Status}, nil
}

// ParseWebhook normalizes a Twilio status callback. Twilio posts
// form-encoded bodies by default but some integrations re-encode them as
// JSON; both shapes are tolerated. Returns nil on malformed input.
func (p *Provider) ParseWebhook(rawBody []byte) *domain.WebhookEvent {
	fields := decodeWebhookFields(rawBody)
	if fields == nil {
		return nil
	}

	ref := firstNonEmpty(fields["CallSid"], fields["MessageSid"], fields["SmsSid"])
	if ref == "" {
		return nil
	}

	status := firstNonEmpty(fields["CallStatus"], fields["MessageStatus"], fields["SmsStatus"])
	event := &domain.WebhookEvent{
		ProviderRef: ref,
		Status:      mapStatus(status),
	}

	if d, err := strconv.Atoi(fields["CallDuration"]); err == nil {
		event.DurationSeconds = d
	}
	if t := parseTimestamp(fields["Timestamp"]); t != nil {
		event.EndedAt = t
	}

	return event
}

// decodeWebhookFields accepts form-encoded, JSON object, and JSON
// string-encoded bodies.
func decodeWebhookFields(rawBody []byte) map[string]string {
	trimmed := bytes.TrimSpace(rawBody)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil
		}
		return decodeWebhookFields([]byte(inner))
	}

	if trimmed[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil
		}
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case float64:
				fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
			}
		}
		return fields
	}

	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return fields
}

// ValidateSignature implements the Twilio request-validation scheme:
// HMAC-SHA1 over the callback URL with sorted form parameters appended,
// compared against the X-Twilio-Signature header.
func (p *Provider) ValidateSignature(payload []byte, signature, callbackURL string) bool {
	if signature == "" || p.cfg.AuthToken == "" {
		return false
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '"') {
		// JSON callbacks are signed over URL + raw body.
		mac := hmac.New(sha1.New, []byte(p.cfg.AuthToken))
		mac.Write([]byte(callbackURL))
		mac.Write(payload)
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(expected), []byte(signature))
	}

	base := callbackURL
	if values, err := url.ParseQuery(string(payload)); err == nil && len(values) > 0 {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString(callbackURL)
		for _, k := range keys {
			sb.WriteString(k)
			sb.WriteString(values.Get(k))
		}
		base = sb.String()
	}

	mac := hmac.New(sha1.New, []byte(p.cfg.AuthToken))
	mac.Write([]byte(base))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// CheckHealth verifies required credentials and numbers are configured.
// This is a precondition check only; it never reaches the network.
func (p *Provider) CheckHealth(_ context.Context) telephony.HealthStatus {
	var missing []string
	if p.cfg.AccountSID == "" {
		missing = append(missing, "account_sid")
	}
	if p.cfg.AuthToken == "" {
		missing = append(missing, "auth_token")
	}
	if p.cfg.FromNumber == "" {
		missing = append(missing, "from_number")
	}
	if len(missing) > 0 {
		return telephony.HealthStatus{Message: "twilio unconfigured: missing " + strings.Join(missing, ", ")}
	}
	return telephony.HealthStatus{Healthy: true, Message: "twilio configured"}
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
	case "queued", "initiated", "accepted":
		return domain.StatusInitiated
	case "ringing":
		return domain.StatusRinging
	case "in-progress", "answered":
		return domain.StatusAnswered
	case "completed":
		return domain.StatusCompleted
	case "busy":
		return domain.StatusBusy
	case "no-answer":
		return domain.StatusNoAnswer
	case "sent", "delivered":
		return domain.StatusDelivered
	case "failed", "canceled", "undelivered":
		return domain.StatusFailed
	default:
		return domain.StatusFailed
	}
}

func parseTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
