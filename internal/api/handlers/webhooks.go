package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/vehicle-contact-relay/internal/domain"
	"github.com/acme/vehicle-contact-relay/internal/queue"
)

// providerWebhook ingests a vendor status callback: signature check,
// payload normalization, then hand-off to the status topic. Malformed
// payloads are logged and dropped rather than surfaced to the vendor as
// a server error.
func (h *HandlerSet) providerWebhook(ctx *fiber.Ctx) error {
	providerID, err := domain.ParseProviderID(ctx.Params("provider"))
	if err != nil {
		return fiber.NewError(http.StatusNotFound, "unknown provider")
	}

	adapter, err := h.container.Providers().Get(providerID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, "unknown provider")
	}

	body := ctx.Body()
	callbackURL := h.callbackURL(ctx)

	if !adapter.ValidateSignature(body, signatureHeader(ctx, providerID), callbackURL) {
		h.container.Logger.Warn("webhook: signature rejected",
			zap.String("provider", string(providerID)),
			zap.String("url", callbackURL),
		)
		return fiber.NewError(http.StatusForbidden, "invalid signature")
	}

	event := adapter.ParseWebhook(body)
	if event == nil {
		h.container.Logger.Warn("webhook: malformed payload dropped",
			zap.String("provider", string(providerID)),
			zap.Int("bytes", len(body)),
		)
		return fiber.NewError(http.StatusBadRequest, "malformed payload")
	}

	statusEvent := queue.StatusEvent{
		Provider:   providerID,
		Event:      *event,
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.container.Publishers().Status.PublishStatus(ctx.Context(), statusEvent); err != nil {
		h.container.Logger.Error("webhook: publish status event", zap.Error(err))
		return fiber.NewError(http.StatusServiceUnavailable, "status event not accepted")
	}

	return ctx.SendStatus(http.StatusNoContent)
}

// callbackURL reconstructs the public URL the vendor signed against.
func (h *HandlerSet) callbackURL(ctx *fiber.Ctx) string {
	base := strings.TrimRight(h.container.Config.HTTP.PublicURL, "/")
	if base == "" {
		return ctx.BaseURL() + ctx.OriginalURL()
	}
	return base + ctx.OriginalURL()
}

func signatureHeader(ctx *fiber.Ctx, provider domain.ProviderID) string {
	switch provider {
	case domain.ProviderTwilio:
		return ctx.Get("X-Twilio-Signature")
	case domain.ProviderVonage:
		return ctx.Get("Authorization")
	default:
		return ctx.Get("X-Signature")
	}
}
