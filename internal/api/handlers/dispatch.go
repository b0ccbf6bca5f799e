package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/vehicle-contact-relay/internal/domain"
)

type callRequest struct {
	CallerNumber      string `json:"caller_number"`
	CalleeNumber      string `json:"callee_number"`
	StatusCallbackURL string `json:"status_callback_url"`
}

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// dispatchCall places one masked call through the configured provider
// chain. Channel failures are reported in the body, not as HTTP errors.
func (h *HandlerSet) dispatchCall(ctx *fiber.Ctx) error {
	var req callRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	outcome, err := h.dispatch.DispatchCall(ctx.Context(), domain.CallRequest{
		CallerNumber:      req.CallerNumber,
		CalleeNumber:      req.CalleeNumber,
		StatusCallbackURL: req.StatusCallbackURL,
	})
	if err != nil {
		return translateError(err)
	}

	status := http.StatusAccepted
	if !outcome.Sent() {
		status = http.StatusBadGateway
	}
	return ctx.Status(status).JSON(outcome)
}

// dispatchSMS submits one SMS through the configured provider chain.
func (h *HandlerSet) dispatchSMS(ctx *fiber.Ctx) error {
	var req smsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	outcome, err := h.dispatch.DispatchSMS(ctx.Context(), req.To, req.Message)
	if err != nil {
		return translateError(err)
	}

	status := http.StatusAccepted
	if !outcome.Sent() {
		status = http.StatusBadGateway
	}
	return ctx.Status(status).JSON(outcome)
}

// listProviders returns adapter diagnostics with credentials withheld.
func (h *HandlerSet) listProviders(ctx *fiber.Ctx) error {
	var infos []domain.ProviderInfo
	for _, p := range h.container.Providers().All() {
		infos = append(infos, p.Info())
	}
	return ctx.JSON(fiber.Map{"providers": infos})
}

// providerHealth aggregates adapter configuration health and quota state.
func (h *HandlerSet) providerHealth(ctx *fiber.Ctx) error {
	report := h.dispatch.CheckOverallHealth(ctx.Context())
	status := http.StatusOK
	if !report.Overall {
		status = http.StatusServiceUnavailable
	}
	return ctx.Status(status).JSON(report)
}
