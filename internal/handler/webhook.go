package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

const maxWebhookBody = 64 << 10

// EventParser verifies and decodes a provider webhook delivery.
type EventParser interface {
	ParseEvent(payload []byte, signature string) (service.PaymentEvent, error)
}

// WebhookHandler receives payment provider events.
type WebhookHandler struct {
	Parser    EventParser
	Confirmer *service.Confirmer
	Logger    *slog.Logger
}

// NewWebhookHandler returns a WebhookHandler.
func NewWebhookHandler(p EventParser, cf *service.Confirmer, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{Parser: p, Confirmer: cf, Logger: logger.With("component", "webhook")}
}

// Stripe handles POST /webhook/stripe.  The signature is checked over
// the raw body.  Only transient failures answer 5xx, so the provider
// redelivers exactly the events a retry can fix.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	ev, err := h.Parser.ParseEvent(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		h.Logger.Warn("rejected webhook", "err", err)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event"})
	}
	if ev.Type == "" {
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}

	err = h.Confirmer.HandleEvent(c.Request().Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrValidation):
		// Redelivery cannot fix these.
		h.Logger.Info("webhook event not applied", "event_id", ev.ID, "booking_id", ev.CorrelationID, "err", err)
	case errors.Is(err, service.ErrTransientStorage), errors.Is(err, service.ErrTransientProvider):
		h.Logger.Warn("webhook event deferred", "event_id", ev.ID, "booking_id", ev.CorrelationID, "err", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily unavailable"})
	default:
		h.Logger.Error("webhook event failed", "event_id", ev.ID, "booking_id", ev.CorrelationID, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
