package quota

import (
	"context"
	"testing"
	"time"

	"github.com/acme/vehicle-contact-relay/internal/config"
	"github.com/acme/vehicle-contact-relay/internal/domain"
)

func fixedNow() time.Time {
	return time.Date(2026, time.March, 14, 15, 30, 0, 0, time.UTC)
}

func TestWindowKeys(t *testing.T) {
	tracker := NewTracker(nil, config.QuotaConfig{})
	now := fixedNow()

	hourKey := tracker.key(domain.ProviderTwilio, domain.ChannelCall, hourWindow(now))
	if hourKey != "relay:quota:twilio:call:hour:2026031415" {
		t.Errorf("hour key = %q", hourKey)
	}

	dayKey := tracker.key(domain.ProviderVonage, domain.ChannelSMS, dayWindow(now))
	if dayKey != "relay:quota:vonage:sms:day:20260314" {
		t.Errorf("day key = %q", dayKey)
	}
}

func TestWindowTTLsOutliveTheWindow(t *testing.T) {
	now := fixedNow()
	if hourWindow(now).ttl <= time.Hour {
		t.Errorf("hour window counter must outlive its window")
	}
	if dayWindow(now).ttl <= 24*time.Hour {
		t.Errorf("day window counter must outlive its window")
	}
}

func TestLimitsPerChannel(t *testing.T) {
	tracker := NewTracker(nil, config.QuotaConfig{
		CallsPerHour: 10, CallsPerDay: 50,
		SMSPerHour: 20, SMSPerDay: 100,
	})

	hour, day := tracker.limits(domain.ChannelCall)
	if hour != 10 || day != 50 {
		t.Errorf("call limits = %d/%d", hour, day)
	}
	hour, day = tracker.limits(domain.ChannelSMS)
	if hour != 20 || day != 100 {
		t.Errorf("sms limits = %d/%d", hour, day)
	}
}

func TestNilClientFailsOpen(t *testing.T) {
	tracker := NewTracker(nil, config.QuotaConfig{CallsPerHour: 1})
	ctx := context.Background()

	if tracker.Exceeded(ctx, domain.ProviderTwilio, domain.ChannelCall) {
		t.Errorf("no backing store must never block delivery")
	}
	if err := tracker.RecordSend(ctx, domain.ProviderTwilio, domain.ChannelCall); err != nil {
		t.Errorf("RecordSend with no backing store: %v", err)
	}
	status := tracker.Status(ctx, domain.ProviderTwilio)
	if status.Exceeded || status.RemainingCalls != nil {
		t.Errorf("status must be empty without a backing store: %+v", status)
	}
}
