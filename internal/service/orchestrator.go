package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
)

// ReserveRequest is a user's seat selection for one show-time.
type ReserveRequest struct {
	UserID       string
	UserEmail    string
	ShowID       string
	ShowDateTime time.Time
	Seats        []string
}

// Reservation is a created pending booking and the checkout URL the
// payer must visit.
type Reservation struct {
	Booking     *model.Booking
	CheckoutURL string
}

// CheckoutConfig holds the settings of the checkout step.
type CheckoutConfig struct {
	Currency  string // ISO code, lower case, e.g. "inr"
	ClientURL string // base URL of the web client for redirects
	MaxSeats  int    // 0 = unlimited
	// PaymentWindow is how long the checkout session stays open.  Zero
	// leaves the provider default.
	PaymentWindow time.Duration
}

// Orchestrator turns a seat selection into a pending booking and a
// payment checkout session.
type Orchestrator struct {
	ledger    *Ledger
	inventory *Inventory
	payments  PaymentProvider
	cfg       CheckoutConfig
	settings
}

// NewOrchestrator wires the reservation flow.
func NewOrchestrator(ledger *Ledger, inventory *Inventory, payments PaymentProvider, cfg CheckoutConfig, opts ...Option) *Orchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	return &Orchestrator{ledger: ledger, inventory: inventory, payments: payments, cfg: cfg, settings: newSettings(opts)}
}

// Reserve validates the selection, checks it against current occupancy,
// prices it, creates a pending booking and opens a checkout session
// tagged with the booking id.
//
// The occupancy check is advisory; the ledger insert is what rejects a
// seat taken concurrently, with the same *SeatConflictError.  If the
// checkout session cannot be created the pending booking stays behind
// and is left for the reaper.
func (o *Orchestrator) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if req.UserID == "" {
		return nil, validationf("user id is required")
	}
	if req.UserEmail == "" {
		return nil, validationf("user email is required")
	}
	if req.ShowID == "" {
		return nil, validationf("show id is required")
	}

	show, err := o.inventory.Show(ctx, req.ShowID)
	if err != nil {
		return nil, err
	}
	at := req.ShowDateTime.UTC()
	if !show.HasShowtime(at) {
		return nil, validationf("show %s has no showtime at %s", req.ShowID, at.Format(time.RFC3339))
	}
	if !at.After(o.now()) {
		return nil, validationf("show already started")
	}

	priced, err := PriceSeats(show.SeatLayout, req.Seats, o.cfg.MaxSeats)
	if err != nil {
		return nil, err
	}

	occupied, err := o.inventory.occupied(ctx, req.ShowID, at)
	if err != nil {
		return nil, err
	}
	if taken := intersect(priced.Labels, occupied); len(taken) > 0 {
		return nil, &SeatConflictError{Seats: taken}
	}

	b, err := o.ledger.Create(ctx, Draft{
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
		Show: model.ShowSnapshot{
			ShowID:       show.ID,
			ShowDateTime: at,
			Movie:        show.MovieSnapshot(),
		},
		Seats:      priced.Labels,
		SeatPrices: priced.Prices,
	})
	if err != nil {
		return nil, err
	}

	sess, err := o.checkout(ctx, b)
	if err != nil {
		o.logger.Warn("checkout session failed; booking left pending",
			"booking_id", b.ID, "user_id", b.UserID, "error", err)
		return nil, err
	}
	if err := o.ledger.SetPaymentRef(ctx, b.ID, sess.ID); err != nil {
		o.logger.Error("store payment ref failed", "booking_id", b.ID, "payment_ref", sess.ID, "error", err)
	} else {
		ref := sess.ID
		b.PaymentRef = &ref
	}
	return &Reservation{Booking: b, CheckoutURL: sess.URL}, nil
}

func (o *Orchestrator) checkout(ctx context.Context, b *model.Booking) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, o.paymentTimeout)
	defer cancel()

	base := strings.TrimRight(o.cfg.ClientURL, "/")
	req := CheckoutRequest{
		AmountCents:   b.TotalAmountCents,
		Currency:      o.cfg.Currency,
		Description:   checkoutDescription(b),
		SuccessURL:    base + "/mybookings?success=true&bookingId=" + url.QueryEscape(b.ID),
		CancelURL:     base + "/mybookings?canceled=true",
		CorrelationID: b.ID,
		CustomerEmail: b.UserEmail,
	}
	if o.cfg.PaymentWindow > 0 {
		req.ExpiresAt = o.now().Add(o.cfg.PaymentWindow)
	}
	sess, err := o.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, providerErr("create checkout session", err)
	}
	return sess, nil
}

// providerErr marks timeouts as transient provider failures.
func providerErr(op string, err error) error {
	if errors.Is(err, ErrTransientProvider) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTransientProvider, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func checkoutDescription(b *model.Booking) string {
	title := b.Show.Movie.Title
	if title == "" {
		title = "Movie Booking"
	}
	return fmt.Sprintf("%s, %s, seats %s",
		title, b.Show.ShowDateTime.Format("02 Jan 2006 15:04 MST"), strings.Join(b.BookedSeats, ", "))
}

// intersect returns the members of want found in have, in want's order.
func intersect(want, have []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range want {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
