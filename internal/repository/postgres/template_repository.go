package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/acme/vehicle-contact-relay/internal/repository"
)

// AlertTemplateRepository persists alert message templates.
type AlertTemplateRepository struct {
	db *sqlx.DB
}

// NewAlertTemplateRepository creates a new repository.
func NewAlertTemplateRepository(db *sqlx.DB) *AlertTemplateRepository {
	return &AlertTemplateRepository{db: db}
}

type templateRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	CallMessage string `db:"call_message"`
	SMSMessage  string `db:"sms_message"`
	IsDefault   bool   `db:"is_default"`
}

func (t templateRow) toDomain() *repository.AlertTemplate {
	return &repository.AlertTemplate{
		ID:          t.ID,
		Name:        t.Name,
		CallMessage: t.CallMessage,
		SMSMessage:  t.SMSMessage,
		IsDefault:   t.IsDefault,
	}
}

// Get retrieves a template by id.
func (r *AlertTemplateRepository) Get(ctx context.Context, id string) (*repository.AlertTemplate, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, name, call_message, sms_message, is_default
		FROM alert_templates WHERE id = $1`, id)

	var rec templateRow
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert templates: template %s: %w", id, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("alert templates: get: %w", err)
	}
	return rec.toDomain(), nil
}

// Fallback returns the default-flagged template, or the first available
// template when no default exists.
func (r *AlertTemplateRepository) Fallback(ctx context.Context) (*repository.AlertTemplate, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT id, name, call_message, sms_message, is_default
		FROM alert_templates ORDER BY is_default DESC, created_at ASC LIMIT 1`)

	var rec templateRow
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert templates: none available: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("alert templates: fallback: %w", err)
	}
	return rec.toDomain(), nil
}
