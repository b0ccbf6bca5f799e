package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/acme/vehicle-contact-relay/internal/domain"
)

// DeliveryRecord is the structured record handed to the logging
// collaborator after every dispatch or alert channel reaches a terminal
// state.
type DeliveryRecord struct {
	RecordID    uuid.UUID              `json:"record_id"`
	AlertID     uuid.UUID              `json:"alert_id,omitempty"`
	VehicleID   string                 `json:"vehicle_id,omitempty"`
	Channel     domain.Channel         `json:"channel"`
	Status      domain.DeliveryStatus  `json:"status"`
	Provider    domain.ProviderID      `json:"provider,omitempty"`
	ProviderRef string                 `json:"provider_ref,omitempty"`
	Message     string                 `json:"message"`
	Attempts    []domain.AttemptRecord `json:"attempts"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
}

// StatusEvent carries a validated, normalized vendor webhook to the
// status worker for reconciliation.
type StatusEvent struct {
	Provider   domain.ProviderID   `json:"provider"`
	Event      domain.WebhookEvent `json:"event"`
	ReceivedAt time.Time           `json:"received_at"`
}

// AdminAlert is a best-effort operator notification.
type AdminAlert struct {
	Kind       string            `json:"kind"`
	Provider   domain.ProviderID `json:"provider"`
	Channel    domain.Channel    `json:"channel"`
	Detail     string            `json:"detail"`
	OccurredAt time.Time         `json:"occurred_at"`
}
