package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
)

// PaymentEventType is the kind of an authenticated payment provider event.
type PaymentEventType string

const (
	EventPaymentCompleted PaymentEventType = "payment_completed"
	EventCheckoutExpired  PaymentEventType = "checkout_expired"
)

// PaymentEvent is a verified provider event reduced to what the core
// needs.  CorrelationID is the booking id; Reference is the provider's
// session id.
type PaymentEvent struct {
	ID            string
	Type          PaymentEventType
	CorrelationID string
	Reference     string
}

// Confirmer finalizes bookings once payment is confirmed.  The webhook
// and the client fallback both end in ConfirmPayment, which is
// idempotent.  The confirmation is sent by whichever call claims the
// booking's notification first, so a redelivery after a half-failed
// confirmation still produces exactly one message.
type Confirmer struct {
	ledger   *Ledger
	payments PaymentProvider
	notifier Notifier
	currency string
	settings
}

// NewConfirmer wires the payment confirmation flow.
func NewConfirmer(ledger *Ledger, payments PaymentProvider, notifier Notifier, currency string, opts ...Option) *Confirmer {
	if currency == "" {
		currency = "inr"
	}
	return &Confirmer{ledger: ledger, payments: payments, notifier: notifier, currency: currency, settings: newSettings(opts)}
}

// ConfirmPayment marks the booking identified by correlationID as paid
// and dispatches its confirmation if none went out yet.  A booking that
// is already paid is a success.  Paying a canceled booking returns
// ErrInvalidState and is logged as a reconciliation anomaly.  A failed
// notification is logged and does not undo the payment.
func (c *Confirmer) ConfirmPayment(ctx context.Context, correlationID string) (*model.Booking, error) {
	if correlationID == "" {
		return nil, validationf("correlation id is required")
	}
	b, changed, err := c.ledger.MarkPaid(ctx, correlationID)
	switch {
	case errors.Is(err, ErrInvalidState):
		c.logger.Error("reconciliation anomaly: payment confirmed for canceled booking",
			"booking_id", correlationID, "user_id", b.UserID, "payment_ref", deref(b.PaymentRef),
			"cancel_reason", b.CancelReason)
		return b, err
	case errors.Is(err, ErrNotFound):
		c.logger.Error("reconciliation anomaly: payment confirmed for unknown booking", "booking_id", correlationID)
		return nil, err
	case err != nil:
		return nil, err
	}
	if changed {
		c.logger.Info("booking paid", "booking_id", b.ID, "user_id", b.UserID, "total_cents", b.TotalAmountCents)
	} else {
		c.logger.Info("payment already confirmed", "booking_id", b.ID)
	}
	if b.NotifiedAt == nil {
		c.notify(ctx, b)
	}
	return b, nil
}

// notify claims and sends the confirmation.  It runs detached from the
// caller's cancellation so a webhook client hanging up does not drop
// the mail.  A failed send releases the claim.
func (c *Confirmer) notify(ctx context.Context, b *model.Booking) {
	if c.notifier == nil {
		return
	}
	n, err := RenderConfirmation(b, c.currency)
	if err != nil {
		c.logger.Warn("confirmation not sent", "booking_id", b.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
	defer cancel()
	claimed, err := c.ledger.ClaimNotification(ctx, b.ID)
	if err != nil {
		c.logger.Warn("confirmation not sent", "booking_id", b.ID, "error", err)
		return
	}
	if !claimed {
		return
	}
	if err := c.notifier.Send(ctx, n); err != nil {
		c.logger.Warn("confirmation not sent", "booking_id", b.ID, "to", b.UserEmail, "error", err)
		if err := c.ledger.ReleaseNotification(context.WithoutCancel(ctx), b.ID); err != nil {
			c.logger.Warn("release notification claim failed", "booking_id", b.ID, "error", err)
		}
	}
}

// ConfirmFromClient is the trusted fallback used when the payer returns
// from checkout before the webhook arrives.  Only the booking owner may
// call it, and the provider must report the booking's checkout session
// as paid.
func (c *Confirmer) ConfirmFromClient(ctx context.Context, userID, bookingID string) (*model.Booking, error) {
	b, err := c.ledger.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrForbidden
	}
	switch {
	case b.IsCanceled:
		return b, fmt.Errorf("%w: booking is canceled", ErrInvalidState)
	case b.IsPaid:
		return c.ConfirmPayment(ctx, b.ID)
	case b.PaymentRef == nil || *b.PaymentRef == "":
		return b, fmt.Errorf("%w: booking has no checkout session", ErrInvalidState)
	}

	pctx, cancel := context.WithTimeout(ctx, c.paymentTimeout)
	paid, err := c.payments.SessionPaid(pctx, *b.PaymentRef)
	cancel()
	if err != nil {
		return nil, providerErr("check checkout session", err)
	}
	if !paid {
		return b, fmt.Errorf("%w: payment not completed", ErrInvalidState)
	}
	return c.ConfirmPayment(ctx, b.ID)
}

// HandleEvent applies a verified provider event.  Completed payments are
// confirmed; expired checkouts release a still pending booking.  Other
// event types are ignored.
func (c *Confirmer) HandleEvent(ctx context.Context, ev PaymentEvent) error {
	switch ev.Type {
	case EventPaymentCompleted:
		_, err := c.ConfirmPayment(ctx, ev.CorrelationID)
		return err
	case EventCheckoutExpired:
		if ev.CorrelationID == "" {
			return nil
		}
		released, err := c.ledger.ExpirePending(ctx, ev.CorrelationID, ReasonCheckoutExpired)
		if err != nil {
			return err
		}
		if released {
			c.logger.Info("checkout expired; booking released", "booking_id", ev.CorrelationID)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
