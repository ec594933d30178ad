package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
)

// Draft is a booking about to be created.  SeatPrices must price every
// seat in Seats.
type Draft struct {
	UserID     string
	UserEmail  string
	Show       model.ShowSnapshot
	Seats      []string
	SeatPrices map[string]int64
}

// Ledger is the authoritative record of bookings and their lifecycle.
// Every mutation stamps UpdatedAt and keeps Status derived from the
// paid and canceled flags; the store enforces that a seat has at most
// one active claim.
type Ledger struct {
	store BookingStore
	settings
}

// NewLedger returns a Ledger over store.
func NewLedger(store BookingStore, opts ...Option) *Ledger {
	return &Ledger{store: store, settings: newSettings(opts)}
}

// Create assigns an id and persists d as a pending booking.  Seats must
// be non-empty and free of duplicates.  A seat already claimed by an
// active booking yields a *SeatConflictError.
func (l *Ledger) Create(ctx context.Context, d Draft) (*model.Booking, error) {
	if d.UserID == "" {
		return nil, validationf("user id is required")
	}
	if len(d.Seats) == 0 {
		return nil, validationf("at least one seat is required")
	}
	seats := make([]string, 0, len(d.Seats))
	prices := make(map[string]int64, len(d.Seats))
	var total int64
	for _, raw := range d.Seats {
		id, err := model.ParseSeatID(raw)
		if err != nil {
			return nil, validationf("invalid seat %q", raw)
		}
		label := id.String()
		if _, dup := prices[label]; dup {
			return nil, validationf("seat %s requested more than once", label)
		}
		price, ok := d.SeatPrices[label]
		if !ok {
			price, ok = d.SeatPrices[raw]
		}
		if !ok || price <= 0 {
			return nil, pricingf("no price for seat %s", label)
		}
		prices[label] = price
		seats = append(seats, label)
		total += price
	}
	model.SortSeatLabels(seats)

	now := l.now()
	show := d.Show
	show.ShowDateTime = show.ShowDateTime.UTC()
	show.ShowPrice = total
	b := &model.Booking{
		ID:               l.newID(),
		UserID:           d.UserID,
		UserEmail:        d.UserEmail,
		Show:             show,
		BookedSeats:      seats,
		SeatPrices:       prices,
		TotalAmountCents: total,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	b.Refresh()

	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	if err := l.store.Insert(ctx, b); err != nil {
		return nil, storageErr("create booking", err)
	}
	return b, nil
}

// Get returns a booking by id.
func (l *Ledger) Get(ctx context.Context, id string) (*model.Booking, error) {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	b, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get booking", err)
	}
	return b, nil
}

// MarkPaid moves a pending booking to paid.  The second result is true
// only for the call that performed the transition, so a repeated call
// on a paid booking succeeds with false.  A canceled booking cannot be
// paid: the booking is returned together with an ErrInvalidState error.
func (l *Ledger) MarkPaid(ctx context.Context, id string) (*model.Booking, bool, error) {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	changed, err := l.store.MarkPaid(ctx, id, l.now())
	if err != nil {
		return nil, false, storageErr("mark paid", err)
	}
	b, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, false, storageErr("mark paid", err)
	}
	if !changed && b.IsCanceled {
		return b, false, fmt.Errorf("%w: booking %s is canceled", ErrInvalidState, id)
	}
	return b, changed, nil
}

// Cancel moves a booking to canceled from either pending or paid and
// releases its seats.  Canceling an already canceled booking returns it
// unchanged, keeping the first reason.
func (l *Ledger) Cancel(ctx context.Context, id, reason string) (*model.Booking, error) {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	if _, err := l.store.Cancel(ctx, id, reason, l.now(), false); err != nil {
		return nil, storageErr("cancel booking", err)
	}
	b, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, storageErr("cancel booking", err)
	}
	return b, nil
}

// ExpirePending cancels a booking only if it is still pending.  It
// reports whether the booking was canceled by this call.
func (l *Ledger) ExpirePending(ctx context.Context, id, reason string) (bool, error) {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	ok, err := l.store.Cancel(ctx, id, reason, l.now(), true)
	if err != nil {
		return false, storageErr("expire booking", err)
	}
	return ok, nil
}

// Delete removes a booking permanently.  Callers decide who may delete
// what; the ledger does not check ownership or payment state.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	return storageErr("delete booking", l.store.Delete(ctx, id))
}

// FindByUser lists a user's bookings, newest first.
func (l *Ledger) FindByUser(ctx context.Context, userID string) ([]*model.Booking, error) {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	out, err := l.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, storageErr("list user bookings", err)
	}
	return out, nil
}

// FindByShow lists every booking of a show-time regardless of status.
func (l *Ledger) FindByShow(ctx context.Context, showID string, at time.Time) ([]*model.Booking, error) {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	out, err := l.store.ListByShow(ctx, showID, at.UTC())
	if err != nil {
		return nil, storageErr("list show bookings", err)
	}
	return out, nil
}

// StalePending returns ids of pending bookings created before cutoff.
func (l *Ledger) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	ids, err := l.store.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return nil, storageErr("list stale bookings", err)
	}
	return ids, nil
}

// SetPaymentRef stores the checkout session id on a booking.
func (l *Ledger) SetPaymentRef(ctx context.Context, id, ref string) error {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	return storageErr("set payment ref", l.store.SetPaymentRef(ctx, id, ref))
}

// ClaimNotification reserves the right to send a paid booking's
// confirmation.  Only one caller per booking gets true.
func (l *Ledger) ClaimNotification(ctx context.Context, id string) (bool, error) {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	ok, err := l.store.ClaimNotification(ctx, id, l.now())
	if err != nil {
		return false, storageErr("claim notification", err)
	}
	return ok, nil
}

// ReleaseNotification gives up a claim whose send failed so a later
// confirmation attempt can retry it.
func (l *Ledger) ReleaseNotification(ctx context.Context, id string) error {
	ctx, cancel := l.storageCtx(ctx)
	defer cancel()
	return storageErr("release notification", l.store.ReleaseNotification(ctx, id))
}
