package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/vehicle-contact-relay/internal/domain"
)

// DeliveryPublisher emits finished delivery records for persistence.
type DeliveryPublisher struct {
	writer *kafka.Writer
}

// NewDeliveryPublisher constructs a publisher for the delivery topic.
func NewDeliveryPublisher(k *Kafka, topic string) *DeliveryPublisher {
	return &DeliveryPublisher{writer: k.NewWriter(topic)}
}

// PublishDelivery writes the record to Kafka.
func (p *DeliveryPublisher) PublishDelivery(ctx context.Context, record DeliveryRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("delivery publisher: marshal record: %w", err)
	}
	msg := kafka.Message{
		Key:   record.RecordID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("delivery publisher: write record: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *DeliveryPublisher) Close() error {
	return p.writer.Close()
}

// StatusPublisher emits normalized webhook status events.
type StatusPublisher struct {
	writer *kafka.Writer
}

// NewStatusPublisher constructs a publisher for the status topic.
func NewStatusPublisher(k *Kafka, topic string) *StatusPublisher {
	return &StatusPublisher{writer: k.NewWriter(topic)}
}

// PublishStatus emits a status event to Kafka.
func (p *StatusPublisher) PublishStatus(ctx context.Context, event StatusEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("status publisher: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Event.ProviderRef),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("status publisher: write event: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *StatusPublisher) Close() error {
	return p.writer.Close()
}

// AdminPublisher emits operator notifications. Callers treat failures as
// best-effort.
type AdminPublisher struct {
	writer *kafka.Writer
}

// NewAdminPublisher constructs a publisher for the admin alert topic.
func NewAdminPublisher(k *Kafka, topic string) *AdminPublisher {
	return &AdminPublisher{writer: k.NewWriter(topic)}
}

// NotifyQuotaExceeded publishes a quota exhaustion notice.
func (p *AdminPublisher) NotifyQuotaExceeded(ctx context.Context, provider domain.ProviderID, channel domain.Channel, detail string) error {
	alert := AdminAlert{
		Kind:       "quota_exceeded",
		Provider:   provider,
		Channel:    channel,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("admin publisher: marshal alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(provider),
		Value: value,
		Time:  alert.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("admin publisher: write alert: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *AdminPublisher) Close() error {
	return p.writer.Close()
}
