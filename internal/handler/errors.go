package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

// Validator adapts go-playground/validator to echo's c.Validate.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns a Validator with the default rule set.
func NewValidator() *Validator { return &Validator{v: validator.New()} }

// Validate implements echo.Validator.
func (cv *Validator) Validate(i interface{}) error { return cv.v.Struct(i) }

// bindAndValidate decodes the request into dst and checks its tags.  The
// error wraps service.ErrValidation.
func bindAndValidate(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", service.ErrValidation)
	}
	if err := c.Validate(dst); err != nil {
		return fmt.Errorf("%w: %s", service.ErrValidation, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return "invalid field " + fe.Field() + ": failed " + fe.Tag()
	}
	return err.Error()
}

// respondError maps service error kinds onto HTTP statuses.
func respondError(c echo.Context, err error) error {
	var conflict *service.SeatConflictError
	switch {
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":       "some seats are unavailable",
			"unavailable": conflict.Seats,
		})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrAuthentication):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	case errors.Is(err, service.ErrPricing):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrInvalidState):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrTransientStorage), errors.Is(err, service.ErrTransientProvider):
		c.Response().Header().Set("Retry-After", "5")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "temporarily unavailable, try again"})
	}
	slog.ErrorContext(c.Request().Context(), "request failed",
		"method", c.Request().Method, "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
