// Package payment adapts Stripe Checkout to the booking core: it opens
// checkout sessions tagged with the booking id, looks up whether a
// session was paid and verifies webhook deliveries.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

// metadataBookingID is the session metadata key holding the booking id.
const metadataBookingID = "booking_id"

// Checkout sessions may expire no sooner than 30 minutes and no later
// than 24 hours after creation.
const (
	minSessionLifetime = 30*time.Minute + time.Minute
	maxSessionLifetime = 24*time.Hour - time.Minute
)

// expirySkew covers clock drift between this host and Stripe.
const expirySkew = time.Minute

// SessionLifetime is how long a session opened for the given payment
// window stays payable once Stripe's bounds are applied.
func SessionLifetime(window time.Duration) time.Duration {
	switch {
	case window < minSessionLifetime:
		return minSessionLifetime
	case window > maxSessionLifetime:
		return maxSessionLifetime
	}
	return window
}

// ReapAfter is the booking age after which its checkout session can no
// longer take payment.  createTimeout bounds the delay between creating
// the booking and opening its session.  Pending bookings must not be
// released before this age.
func ReapAfter(window, createTimeout time.Duration) time.Duration {
	return SessionLifetime(window) + createTimeout + expirySkew
}

// Config holds the Stripe credentials.  BaseURL overrides the API host
// and is only set in tests.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	BaseURL       string
}

// StripeProvider implements service.PaymentProvider with Stripe Checkout.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	now           func() time.Time
}

// NewStripeProvider builds a provider with its own HTTP client.
func NewStripeProvider(cfg Config) *StripeProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	var backends *stripe.Backends
	if cfg.BaseURL != "" {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BaseURL),
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	} else {
		backends = stripe.NewBackends(httpClient)
	}
	return &StripeProvider{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
		now:           time.Now,
	}
}

// CreateCheckoutSession opens a one line item payment session.  The
// booking id travels both as client_reference_id and in metadata.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
				UnitAmount: stripe.Int64(req.AmountCents),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.CorrelationID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if !req.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(p.clampExpiry(req.ExpiresAt).Unix())
	}
	params.AddMetadata(metadataBookingID, req.CorrelationID)
	params.Context = ctx

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &service.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) clampExpiry(t time.Time) time.Time {
	now := p.now()
	return now.Add(SessionLifetime(t.Sub(now)))
}

// SessionPaid reports whether the checkout session has been paid.
func (p *StripeProvider) SessionPaid(ctx context.Context, sessionID string) (bool, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return false, classify(err)
	}
	return sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid, nil
}

// ParseEvent verifies the Stripe-Signature header over the raw body and
// reduces the event to a service.PaymentEvent.  A bad signature wraps
// service.ErrAuthentication.  Events the core does not act on come back
// with an empty Type.
func (p *StripeProvider) ParseEvent(payload []byte, signature string) (service.PaymentEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return service.PaymentEvent{}, fmt.Errorf("%w: %v", service.ErrAuthentication, err)
	}
	out := service.PaymentEvent{ID: ev.ID}

	switch ev.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.expired":
	default:
		return out, nil
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return out, fmt.Errorf("decode checkout session: %w", err)
	}
	out.Reference = sess.ID
	out.CorrelationID = sess.Metadata[metadataBookingID]
	if out.CorrelationID == "" {
		out.CorrelationID = sess.ClientReferenceID
	}

	switch {
	case ev.Type == "checkout.session.expired":
		out.Type = service.EventCheckoutExpired
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		out.Type = service.EventPaymentCompleted
	}
	return out, nil
}

// classify marks errors a retry may fix as service.ErrTransientProvider.
func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: stripe %d: %s", service.ErrTransientProvider, se.HTTPStatusCode, se.Msg)
		}
		return fmt.Errorf("stripe %d: %s", se.HTTPStatusCode, se.Msg)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &ne) {
		return fmt.Errorf("%w: %v", service.ErrTransientProvider, err)
	}
	return err
}
