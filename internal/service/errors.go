package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/movie-ticket-booking/internal/repository"
)

// Error kinds returned by the booking services.  Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	ErrValidation        = errors.New("validation failed")
	ErrSeatConflict      = errors.New("seat conflict")
	ErrPricing           = errors.New("pricing error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrAuthentication    = errors.New("authentication failed")
	ErrForbidden         = errors.New("forbidden")
	ErrTransientStorage  = errors.New("storage temporarily unavailable")
	ErrTransientProvider = errors.New("payment provider temporarily unavailable")
)

// SeatConflictError names the requested seats that are already held by
// another active booking.  It matches ErrSeatConflict.
type SeatConflictError struct {
	Seats []string
}

func (e *SeatConflictError) Error() string {
	return "seats unavailable: " + strings.Join(e.Seats, ", ")
}

// Is lets errors.Is(err, ErrSeatConflict) match.
func (e *SeatConflictError) Is(target error) bool { return target == ErrSeatConflict }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func pricingf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPricing, fmt.Sprintf(format, args...))
}

// storageErr translates repository and driver errors into the service
// error kinds.  op names the failed operation for the message.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var taken *repository.SeatTakenError
	switch {
	case errors.As(err, &taken):
		return &SeatConflictError{Seats: taken.Seats}
	case errors.Is(err, repository.ErrBookingNotFound):
		return fmt.Errorf("%w: booking", ErrNotFound)
	case errors.Is(err, repository.ErrShowNotFound):
		return fmt.Errorf("%w: show", ErrNotFound)
	case isTransient(err):
		return fmt.Errorf("%w: %s: %v", ErrTransientStorage, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isTransient reports whether err is a timeout or a broken connection,
// i.e. something a retry may fix.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
