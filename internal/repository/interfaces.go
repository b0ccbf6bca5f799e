package repository

import (
	"context"
	"time"

	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/queue"
	apperrors "github.com/acme/vehicle-contact-relay/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
)

// VehicleOwner is the directory's view of a registered vehicle.
type VehicleOwner struct {
	VehicleID  string
	OwnerPhone string
	Descriptor string
}

// VehicleDirectory resolves vehicles to their owners. The directory is an
// external collaborator; a lookup failure is fatal to an alert.
type VehicleDirectory interface {
	ResolveOwner(ctx context.Context, vehicleID string) (*VehicleOwner, error)
}

// AlertTemplate is a stored emergency message template. Call and SMS
// bodies are kept separately so the two channels may diverge in wording.
type AlertTemplate struct {
	ID          string
	Name        string
	CallMessage string
	SMSMessage  string
	IsDefault   bool
}

// AlertTemplateRepository stores alert templates.
type AlertTemplateRepository interface {
	Get(ctx context.Context, id string) (*AlertTemplate, error)
	// Fallback returns the default-flagged template, or the first
	// available one when no default exists.
	Fallback(ctx context.Context) (*AlertTemplate, error)
}

// DeliveryLog is the audit store for delivery records, per-attempt
// history, and webhook status reconciliation.
type DeliveryLog interface {
	AppendRecord(ctx context.Context, record queue.DeliveryRecord) error
	RecordStatusEvent(ctx context.Context, provider domain.ProviderID, event domain.WebhookEvent, receivedAt time.Time) error
}
