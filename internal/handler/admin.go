package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

// AdminHandler serves /v1/admin routes.  RequireRole(ADMIN) guards them.
type AdminHandler struct {
	Ledger *service.Ledger
}

// NewAdminHandler returns an AdminHandler over ledger.
func NewAdminHandler(ledger *service.Ledger) *AdminHandler {
	return &AdminHandler{Ledger: ledger}
}

// ListShowBookings handles GET /v1/admin/shows/:id/bookings?time=RFC3339.
func (h *AdminHandler) ListShowBookings(c echo.Context) error {
	at, err := showTimeQuery(c)
	if err != nil {
		return respondError(c, err)
	}
	list, err := h.Ledger.FindByShow(c.Request().Context(), c.Param("id"), at)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": list})
}

// Cancel handles POST /v1/admin/bookings/:id/cancel.  Admins may cancel
// in any state; canceling twice keeps the first reason.
func (h *AdminHandler) Cancel(c echo.Context) error {
	var req cancelRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = reasonAdmin
	}
	b, err := h.Ledger.Cancel(c.Request().Context(), c.Param("id"), reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Delete handles DELETE /v1/admin/bookings/:id.
func (h *AdminHandler) Delete(c echo.Context) error {
	if err := h.Ledger.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
