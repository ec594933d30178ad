package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

// ShowHandler serves the public catalog reads used by the seat picker.
type ShowHandler struct {
	Inventory *service.Inventory
}

// NewShowHandler returns a ShowHandler over inventory.
func NewShowHandler(inventory *service.Inventory) *ShowHandler {
	return &ShowHandler{Inventory: inventory}
}

// GetShow handles GET /v1/shows/:id.
func (h *ShowHandler) GetShow(c echo.Context) error {
	show, err := h.Inventory.Show(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, show)
}

// Occupied handles GET /v1/shows/:id/occupied?time=RFC3339 and lists the
// seats held by pending or paid bookings.
func (h *ShowHandler) Occupied(c echo.Context) error {
	at, err := showTimeQuery(c)
	if err != nil {
		return respondError(c, err)
	}
	seats, err := h.Inventory.OccupiedSeats(c.Request().Context(), c.Param("id"), at)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"show_id":        c.Param("id"),
		"show_date_time": at.UTC(),
		"occupied":       seats,
	})
}

func showTimeQuery(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("time")
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: time query parameter is required", service.ErrValidation)
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time must be RFC3339", service.ErrValidation)
	}
	return at.UTC(), nil
}
