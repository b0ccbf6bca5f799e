package scylla

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/queue"
	apperrors "github.com/acme/vehicle-contact-relay/pkg/errors"
)

// DeliveryLog persists delivery records and webhook status events in
// Scylla. Records are append-only: the audit trail is never rewritten.
type DeliveryLog struct {
	session *gocql.Session
}

// NewDeliveryLog creates a new delivery log.
func NewDeliveryLog(session *gocql.Session) *DeliveryLog {
	return &DeliveryLog{session: session}
}

// AppendRecord writes one finished delivery record together with its
// per-attempt history.
func (s *DeliveryLog) AppendRecord(ctx context.Context, record queue.DeliveryRecord) error {
	bucket := bucketDate(record.StartedAt)

	attemptsJSON, err := json.Marshal(record.Attempts)
	if err != nil {
		return apperrors.Wrap(err, "delivery log: marshal attempts")
	}

	if err := s.session.Query(`INSERT INTO deliveries_by_day (bucket, record_id, alert_id, vehicle_id, channel, status, provider, provider_ref, message, attempts, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bucket, record.RecordID.String(), record.AlertID.String(), record.VehicleID, string(record.Channel), string(record.Status),
		string(record.Provider), record.ProviderRef, record.Message, string(attemptsJSON), record.StartedAt, record.FinishedAt,
	).WithContext(ctx).Exec(); err != nil {
		return apperrors.Wrap(err, "delivery log: insert deliveries_by_day")
	}

	if record.ProviderRef != "" {
		if err := s.session.Query(`INSERT INTO deliveries_by_ref (provider_ref, record_id, bucket, channel, status, finished_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			record.ProviderRef, record.RecordID.String(), bucket, string(record.Channel), string(record.Status), record.FinishedAt,
		).WithContext(ctx).Exec(); err != nil {
			return apperrors.Wrap(err, "delivery log: insert deliveries_by_ref")
		}
	}

	return nil
}

// RecordStatusEvent reconciles a webhook-derived status against the
// delivery that produced the provider reference.
func (s *DeliveryLog) RecordStatusEvent(ctx context.Context, provider domain.ProviderID, event domain.WebhookEvent, receivedAt time.Time) error {
	if err := s.session.Query(`INSERT INTO delivery_status_events (provider_ref, received_at, provider, status, duration_seconds, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ProviderRef, receivedAt, string(provider), string(event.Status), event.DurationSeconds, event.StartedAt, event.EndedAt,
	).WithContext(ctx).Exec(); err != nil {
		return apperrors.Wrap(err, "delivery log: insert status event")
	}

	if err := s.session.Query(`UPDATE deliveries_by_ref SET status = ?, finished_at = ? WHERE provider_ref = ?`,
		string(event.Status), receivedAt, event.ProviderRef,
	).WithContext(ctx).Exec(); err != nil {
		return apperrors.Wrap(err, "delivery log: update deliveries_by_ref")
	}

	return nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
