// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow the service layer to tell
// missing rows and seat claim collisions apart from plain database
// failures without inspecting driver errors itself.
package repository

import (
	"errors"
	"strings"
)

// ErrBookingNotFound is returned when no booking row has the requested id.
var ErrBookingNotFound = errors.New("booking not found")

// ErrShowNotFound indicates that a show was not located in the DB.
var ErrShowNotFound = errors.New("show not found")

// ErrSeatTaken is matched by SeatTakenError.  It signals that the unique
// seat claim index rejected an insert.
var ErrSeatTaken = errors.New("seat already taken")

// SeatTakenError names the seats whose active claim already belongs to
// another booking.
type SeatTakenError struct {
	Seats []string
}

func (e *SeatTakenError) Error() string {
	return "seats already taken: " + strings.Join(e.Seats, ",")
}

// Is lets errors.Is(err, ErrSeatTaken) match.
func (e *SeatTakenError) Is(target error) bool { return target == ErrSeatTaken }
