package quota

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/vehicle-contact-relay/internal/config"
	"github.com/acme/vehicle-contact-relay/internal/domain"
)

// incrScript bumps a window counter and sets its expiry on first use.
var incrScript = redis.NewScript(`
local key = KEYS[1]
local ttl = tonumber(ARGV[1])
local current = redis.call('INCR', key)
if current == 1 and ttl > 0 then
  redis.call('PEXPIRE', key, ttl)
end
return current
`)

// Tracker accounts provider send volume against hourly and daily windows
// using Redis counters. Accounting is advisory: Redis failures fail open
// so quota bookkeeping can never block delivery.
type Tracker struct {
	client *redis.Client
	cfg    config.QuotaConfig
	now    func() time.Time
}

// NewTracker constructs a quota tracker.
func NewTracker(client *redis.Client, cfg config.QuotaConfig) *Tracker {
	return &Tracker{client: client, cfg: cfg, now: time.Now}
}

// RecordSend counts one accepted send against both windows.
func (t *Tracker) RecordSend(ctx context.Context, provider domain.ProviderID, channel domain.Channel) error {
	if t.client == nil {
		return nil
	}
	now := t.now().UTC()
	for _, w := range []window{hourWindow(now), dayWindow(now)} {
		key := t.key(provider, channel, w)
		if err := incrScript.Run(ctx, t.client, []string{key}, w.ttl.Milliseconds()).Err(); err != nil {
			return fmt.Errorf("quota: record send: %w", err)
		}
	}
	return nil
}

// Exceeded reports whether either window is over its configured limit.
// Errors fail open.
func (t *Tracker) Exceeded(ctx context.Context, provider domain.ProviderID, channel domain.Channel) bool {
	if t.client == nil {
		return false
	}
	now := t.now().UTC()
	hourLimit, dayLimit := t.limits(channel)

	if hourLimit > 0 {
		if count, err := t.count(ctx, provider, channel, hourWindow(now)); err == nil && count >= hourLimit {
			return true
		}
	}
	if dayLimit > 0 {
		if count, err := t.count(ctx, provider, channel, dayWindow(now)); err == nil && count >= dayLimit {
			return true
		}
	}
	return false
}

// Status computes the remaining budget for one provider on demand.
func (t *Tracker) Status(ctx context.Context, provider domain.ProviderID) domain.QuotaStatus {
	status := domain.QuotaStatus{Provider: provider}
	if t.client == nil {
		return status
	}
	now := t.now().UTC()

	if remaining, ok := t.remaining(ctx, provider, domain.ChannelCall, now); ok {
		status.RemainingCalls = &remaining
		if remaining <= 0 {
			status.Exceeded = true
		}
	}
	if remaining, ok := t.remaining(ctx, provider, domain.ChannelSMS, now); ok {
		status.RemainingSMS = &remaining
		if remaining <= 0 {
			status.Exceeded = true
		}
	}
	if status.Exceeded {
		reset := now.Truncate(time.Hour).Add(time.Hour)
		status.ResetTime = &reset
	}
	return status
}

func (t *Tracker) remaining(ctx context.Context, provider domain.ProviderID, channel domain.Channel, now time.Time) (int, bool) {
	hourLimit, dayLimit := t.limits(channel)
	if hourLimit <= 0 && dayLimit <= 0 {
		return 0, false
	}

	found := false
	remaining := 0
	if hourLimit > 0 {
		if count, err := t.count(ctx, provider, channel, hourWindow(now)); err == nil {
			remaining = hourLimit - count
			found = true
		}
	}
	if dayLimit > 0 {
		if count, err := t.count(ctx, provider, channel, dayWindow(now)); err == nil {
			if left := dayLimit - count; !found || left < remaining {
				remaining = left
				found = true
			}
		}
	}
	if !found {
		return 0, false
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

func (t *Tracker) count(ctx context.Context, provider domain.ProviderID, channel domain.Channel, w window) (int, error) {
	val, err := t.client.Get(ctx, t.key(provider, channel, w)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func (t *Tracker) limits(channel domain.Channel) (hour, day int) {
	if channel == domain.ChannelCall {
		return t.cfg.CallsPerHour, t.cfg.CallsPerDay
	}
	return t.cfg.SMSPerHour, t.cfg.SMSPerDay
}

func (t *Tracker) key(provider domain.ProviderID, channel domain.Channel, w window) string {
	return fmt.Sprintf("relay:quota:%s:%s:%s", provider, channel, w.label)
}

type window struct {
	label string
	ttl   time.Duration
}

func hourWindow(now time.Time) window {
	return window{label: "hour:" + now.Format("2006010215"), ttl: 2 * time.Hour}
}

func dayWindow(now time.Time) window {
	return window{label: "day:" + now.Format("20060102"), ttl: 48 * time.Hour}
}
