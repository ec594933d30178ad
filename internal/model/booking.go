package model

import "time"

// Status is the lifecycle state of a booking.  It is never set
// directly; DeriveStatus computes it from the paid and canceled flags.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusCanceled Status = "canceled"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCanceled:
		return true
	}
	return false
}

// String returns the string representation of Status.
func (s Status) String() string { return string(s) }

// DeriveStatus maps the (isPaid, isCanceled) pair onto a Status.
// Canceled dominates paid, paid dominates pending.
func DeriveStatus(isPaid, isCanceled bool) Status {
	switch {
	case isCanceled:
		return StatusCanceled
	case isPaid:
		return StatusPaid
	default:
		return StatusPending
	}
}

// MovieSnapshot is the part of the movie record copied into a booking
// at creation time.  Later catalog edits do not touch it.
type MovieSnapshot struct {
	Title            string `json:"title"`                       // bookings.movie_title
	OriginalLanguage string `json:"original_language,omitempty"` // bookings.movie_language
	Runtime          int    `json:"runtime,omitempty"`           // bookings.movie_runtime (minutes)
	PosterPath       string `json:"poster_path,omitempty"`       // bookings.movie_poster
}

// ShowSnapshot records which screening a booking is for.  ShowPrice is
// the total amount charged for the booking, in minor currency units.
type ShowSnapshot struct {
	ShowID       string        `json:"show_id"`        // bookings.show_id
	ShowDateTime time.Time     `json:"show_date_time"` // bookings.show_date_time (UTC)
	ShowPrice    int64         `json:"show_price"`     // bookings.show_price_cents
	Movie        MovieSnapshot `json:"movie"`
}

// Booking records a user's claim on one or more seats of a single
// show-time together with its payment/cancellation state.
//
// Fields:
//  ID               – system generated uuid, also the payment correlation id.
//  UserID           – opaque identifier from the identity provider.
//  UserEmail        – address confirmation mails are sent to.
//  Show             – snapshot of the show and movie at booking time.
//  BookedSeats      – seat labels (e.g. "A1"), non-empty and unique.
//  SeatPrices       – price per seat label at booking time.
//  TotalAmountCents – sum of SeatPrices.
//  IsPaid/IsCanceled – lifecycle flags; Status is derived from them.
//  CancelReason     – set only when canceled.
//  PaymentRef       – checkout session id at the payment provider.
//  NotifiedAt       – when the confirmation notification went out.
type Booking struct {
	ID               string           `json:"id"`                      // bookings.id
	UserID           string           `json:"user_id"`                 // bookings.user_id
	UserEmail        string           `json:"user_email"`              // bookings.user_email
	Show             ShowSnapshot     `json:"show"`
	BookedSeats      []string         `json:"booked_seats"`            // booking_seats.seat_label
	SeatPrices       map[string]int64 `json:"seat_prices"`             // booking_seats.price_cents
	TotalAmountCents int64            `json:"total_amount_cents"`      // bookings.total_amount_cents
	IsPaid           bool             `json:"is_paid"`                 // bookings.is_paid
	IsCanceled       bool             `json:"is_canceled"`             // bookings.is_canceled
	Status           Status           `json:"status"`                  // bookings.status
	CancelReason     string           `json:"cancel_reason,omitempty"` // bookings.cancel_reason
	PaymentRef       *string          `json:"-"`                       // bookings.payment_ref (nullable)
	NotifiedAt       *time.Time       `json:"notified_at,omitempty"`   // bookings.notified_at (nullable)
	CreatedAt        time.Time        `json:"created_at"`              // bookings.created_at
	UpdatedAt        time.Time        `json:"updated_at"`              // bookings.updated_at
}

// Refresh recomputes Status from the flags.  Every mutation of the
// flags must be followed by a call to Refresh.
func (b *Booking) Refresh() {
	b.Status = DeriveStatus(b.IsPaid, b.IsCanceled)
}

// Active reports whether the booking still holds its seats.
func (b *Booking) Active() bool { return !b.IsCanceled }
