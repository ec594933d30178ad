package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/movie-ticket-booking/internal/middleware"
	"github.com/iliyamo/movie-ticket-booking/internal/model"
	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

// Default cancel reasons when the caller gives none.
const (
	reasonCustomer = "canceled by customer"
	reasonAdmin    = "canceled by admin"
)

// BookingHandler serves the customer booking endpoints.  Routes are
// expected behind JWTAuth; ownership is checked here.
type BookingHandler struct {
	Orchestrator *service.Orchestrator
	Ledger       *service.Ledger
	Confirmer    *service.Confirmer
	Now          func() time.Time
}

// NewBookingHandler wires the booking services.  All of them are required.
func NewBookingHandler(o *service.Orchestrator, l *service.Ledger, cf *service.Confirmer) *BookingHandler {
	if o == nil || l == nil || cf == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Orchestrator: o, Ledger: l, Confirmer: cf, Now: time.Now}
}

type reserveRequest struct {
	ShowID       string    `json:"show_id" validate:"required"`
	ShowDateTime time.Time `json:"show_date_time" validate:"required"`
	Seats        []string  `json:"seats" validate:"required,min=1,dive,required"`
	// Email is used when the token carries no email claim.
	Email string `json:"email" validate:"omitempty,email"`
}

// Reserve handles POST /v1/bookings.  It creates a pending booking and
// returns it with the checkout URL.
func (h *BookingHandler) Reserve(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req reserveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}
	email := user.Email
	if email == "" {
		email = strings.TrimSpace(req.Email)
	}
	res, err := h.Orchestrator.Reserve(c.Request().Context(), service.ReserveRequest{
		UserID:       user.UserID,
		UserEmail:    email,
		ShowID:       req.ShowID,
		ShowDateTime: req.ShowDateTime,
		Seats:        req.Seats,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"booking":      res.Booking,
		"checkout_url": res.CheckoutURL,
	})
}

// ListMine handles GET /v1/my-bookings, newest first.
func (h *BookingHandler) ListMine(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	list, err := h.Ledger.FindByUser(c.Request().Context(), user.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": list})
}

// Get handles GET /v1/bookings/:id for the owner or an admin.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Confirm handles POST /v1/bookings/:id/confirm, the fallback used when
// the customer returns from checkout before the webhook lands.
func (h *BookingHandler) Confirm(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, err := h.Confirmer.ConfirmFromClient(c.Request().Context(), user.UserID, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// Cancel handles POST /v1/bookings/:id/cancel.  Owners may cancel until
// the show starts.
func (h *BookingHandler) Cancel(c echo.Context) error {
	var req cancelRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}
	b, err := h.owned(c)
	if err != nil {
		return respondError(c, err)
	}
	if !b.IsCanceled && !b.Show.ShowDateTime.After(h.Now()) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "show already started"})
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = reasonCustomer
	}
	b, err = h.Ledger.Cancel(c.Request().Context(), b.ID, reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Delete handles DELETE /v1/bookings/:id.  Owners may only remove
// bookings that were never paid.
func (h *BookingHandler) Delete(c echo.Context) error {
	b, err := h.owned(c)
	if err != nil {
		return respondError(c, err)
	}
	if b.IsPaid {
		return c.JSON(http.StatusConflict, echo.Map{"error": "paid bookings cannot be deleted"})
	}
	if err := h.Ledger.Delete(c.Request().Context(), b.ID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// owned loads the booking named by :id and checks the caller may see it.
func (h *BookingHandler) owned(c echo.Context) (*model.Booking, error) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return nil, service.ErrForbidden
	}
	b, err := h.Ledger.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if b.UserID != user.UserID && !user.IsAdmin() {
		return nil, service.ErrForbidden
	}
	return b, nil
}
