package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	alertsvc "github.com/acme/vehicle-contact-relay/internal/service/alert"
)

type alertRequest struct {
	VehicleID      string `json:"vehicle_id"`
	TemplateID     string `json:"template_id"`
	CustomMessage  string `json:"custom_message"`
	Customizations struct {
		VehicleDescriptor string `json:"vehicle_descriptor"`
		Location          string `json:"location"`
		ContactHint       string `json:"contact_hint"`
		Urgency           string `json:"urgency"`
	} `json:"customizations"`
}

// sendAlert triggers the dual-channel emergency alert for a vehicle. The
// response carries both channel outcomes; HTTP 502 signals that neither
// channel reached a vendor.
func (h *HandlerSet) sendAlert(ctx *fiber.Ctx) error {
	var req alertRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	outcome, err := h.alerts.SendEmergencyAlert(ctx.Context(), alertsvc.Request{
		VehicleID:     req.VehicleID,
		TemplateID:    req.TemplateID,
		CustomMessage: req.CustomMessage,
		Customizations: alertsvc.Customizations{
			VehicleDescriptor: req.Customizations.VehicleDescriptor,
			Location:          req.Customizations.Location,
			ContactHint:       req.Customizations.ContactHint,
			Urgency:           alertsvc.Urgency(req.Customizations.Urgency),
		},
	})
	if err != nil {
		return translateError(err)
	}

	status := http.StatusAccepted
	if outcome.Status != alertsvc.StatusSent {
		status = http.StatusBadGateway
	}
	return ctx.Status(status).JSON(outcome)
}
