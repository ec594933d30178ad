// Package service holds the booking core: the ledger of bookings, the
// seat inventory query, the reservation flow that starts a checkout and
// the handler that confirms payments.  It depends on storage, catalog,
// payment and notification only through the interfaces declared here.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
)

// BookingStore is the persistence the ledger needs.  Insert must reject
// a booking whose seats collide with an active claim by returning a
// *repository.SeatTakenError.  MarkPaid and Cancel report whether the
// call performed the transition.  ClaimNotification stamps notified_at on
// a paid booking that has none yet and reports whether this call won;
// ReleaseNotification clears the stamp after a failed send.
type BookingStore interface {
	Insert(ctx context.Context, b *model.Booking) error
	Get(ctx context.Context, id string) (*model.Booking, error)
	MarkPaid(ctx context.Context, id string, at time.Time) (bool, error)
	Cancel(ctx context.Context, id, reason string, at time.Time, onlyPending bool) (bool, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]*model.Booking, error)
	ListByShow(ctx context.Context, showID string, at time.Time) ([]*model.Booking, error)
	OccupiedSeats(ctx context.Context, showID string, at time.Time) ([]string, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error)
	SetPaymentRef(ctx context.Context, id, ref string) error
	ClaimNotification(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseNotification(ctx context.Context, id string) error
}

// ShowCatalog looks up shows.  It returns repository.ErrShowNotFound for
// unknown ids.
type ShowCatalog interface {
	GetByID(ctx context.Context, id string) (*model.Show, error)
}

// CheckoutRequest is what the orchestrator asks the payment provider for.
type CheckoutRequest struct {
	AmountCents   int64
	Currency      string
	Description   string
	SuccessURL    string
	CancelURL     string
	CorrelationID string
	CustomerEmail string
	ExpiresAt     time.Time
}

// CheckoutSession is the provider's answer: a session id kept as the
// booking's payment reference and the URL to send the payer to.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentProvider creates checkout sessions and reports whether one has
// been paid.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	SessionPaid(ctx context.Context, sessionID string) (bool, error)
}

// Notifier delivers a rendered notification.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Option configures the services of this package.
type Option func(*settings)

type settings struct {
	now            func() time.Time
	newID          func() string
	logger         *slog.Logger
	storageTimeout time.Duration
	paymentTimeout time.Duration
	notifyTimeout  time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		now:            func() time.Time { return time.Now().UTC() },
		newID:          func() string { return uuid.NewString() },
		logger:         slog.Default(),
		storageTimeout: 5 * time.Second,
		paymentTimeout: 10 * time.Second,
		notifyTimeout:  15 * time.Second,
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithIDGenerator replaces the uuid booking id generator.
func WithIDGenerator(f func() string) Option {
	return func(s *settings) { s.newID = f }
}

// WithLogger sets the logger.  The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStorageTimeout bounds every store call.
func WithStorageTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.storageTimeout = d
		}
	}
}

// WithPaymentTimeout bounds every payment provider call.
func WithPaymentTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.paymentTimeout = d
		}
	}
}

// WithNotifyTimeout bounds every notification send.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func (s settings) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storageTimeout)
}
