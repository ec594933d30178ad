// Package memstore is an in-memory booking store and show catalog.  It
// enforces the same single active claim per seat as the MySQL schema so
// the booking services can be tested without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
	"github.com/iliyamo/movie-ticket-booking/internal/repository"
)

type seatKey struct {
	showID string
	at     int64
	label  string
}

// Store keeps bookings and shows in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
	claims   map[seatKey]string
	shows    map[string]*model.Show
	// Fail, when set, is returned by every booking call.
	Fail error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		bookings: map[string]*model.Booking{},
		claims:   map[seatKey]string{},
		shows:    map[string]*model.Show{},
	}
}

// PutShow adds or replaces a show in the catalog.
func (s *Store) PutShow(show *model.Show) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shows[show.ID] = cloneShow(show)
}

// GetByID implements the show catalog.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Show, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	show, ok := s.shows[id]
	if !ok {
		return nil, repository.ErrShowNotFound
	}
	return cloneShow(show), nil
}

func key(showID string, at time.Time, label string) seatKey {
	return seatKey{showID: showID, at: at.UTC().Unix(), label: label}
}

// Insert stores b and claims its seats, or claims nothing and returns a
// *repository.SeatTakenError.
func (s *Store) Insert(ctx context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	var taken []string
	for _, label := range b.BookedSeats {
		if _, ok := s.claims[key(b.Show.ShowID, b.Show.ShowDateTime, label)]; ok {
			taken = append(taken, label)
		}
	}
	if len(taken) > 0 {
		return &repository.SeatTakenError{Seats: taken}
	}
	for _, label := range b.BookedSeats {
		s.claims[key(b.Show.ShowID, b.Show.ShowDateTime, label)] = b.ID
	}
	s.bookings[b.ID] = cloneBooking(b)
	return nil
}

// Get returns a copy of the booking.
func (s *Store) Get(ctx context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return cloneBooking(b), nil
}

// MarkPaid flips a pending booking to paid.
func (s *Store) MarkPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	b, ok := s.bookings[id]
	if !ok || b.IsPaid || b.IsCanceled {
		return false, nil
	}
	b.IsPaid = true
	b.UpdatedAt = at
	b.Refresh()
	return true, nil
}

// Cancel cancels a booking and drops its seat claims.
func (s *Store) Cancel(ctx context.Context, id, reason string, at time.Time, onlyPending bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	b, ok := s.bookings[id]
	if !ok || b.IsCanceled || (onlyPending && b.IsPaid) {
		return false, nil
	}
	b.IsCanceled = true
	b.CancelReason = reason
	b.UpdatedAt = at
	b.Refresh()
	s.release(b)
	return true, nil
}

func (s *Store) release(b *model.Booking) {
	for _, label := range b.BookedSeats {
		k := key(b.Show.ShowID, b.Show.ShowDateTime, label)
		if s.claims[k] == b.ID {
			delete(s.claims, k)
		}
	}
}

// Delete removes a booking and its claims.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrBookingNotFound
	}
	s.release(b)
	delete(s.bookings, id)
	return nil
}

// ListByUser returns the user's bookings, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*model.Booking, error) {
	return s.filter(func(b *model.Booking) bool { return b.UserID == userID }, true)
}

// ListByShow returns every booking of a show-time, oldest first.
func (s *Store) ListByShow(ctx context.Context, showID string, at time.Time) ([]*model.Booking, error) {
	return s.filter(func(b *model.Booking) bool {
		return b.Show.ShowID == showID && b.Show.ShowDateTime.Equal(at)
	}, false)
}

func (s *Store) filter(keep func(*model.Booking) bool, newestFirst bool) ([]*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	out := []*model.Booking{}
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// OccupiedSeats returns the actively claimed seats of a show-time.
func (s *Store) OccupiedSeats(ctx context.Context, showID string, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	out := []string{}
	for k := range s.claims {
		if k.showID == showID && k.at == at.UTC().Unix() {
			out = append(out, k.label)
		}
	}
	model.SortSeatLabels(out)
	return out, nil
}

// ListStalePending returns ids of pending bookings created before the
// cutoff, oldest first.
func (s *Store) ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	list, err := s.filter(func(b *model.Booking) bool {
		return !b.IsPaid && !b.IsCanceled && b.CreatedAt.Before(before)
	}, false)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, b := range list {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// SetPaymentRef records the checkout session id.
func (s *Store) SetPaymentRef(ctx context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	b, ok := s.bookings[id]
	if !ok {
		return repository.ErrBookingNotFound
	}
	b.PaymentRef = &ref
	return nil
}

// ClaimNotification stamps the notification time on a paid booking
// that has none.
func (s *Store) ClaimNotification(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	b, ok := s.bookings[id]
	if !ok || !b.IsPaid || b.NotifiedAt != nil {
		return false, nil
	}
	b.NotifiedAt = &at
	return true, nil
}

// ReleaseNotification clears the notification time.
func (s *Store) ReleaseNotification(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if b, ok := s.bookings[id]; ok {
		b.NotifiedAt = nil
	}
	return nil
}

func cloneBooking(b *model.Booking) *model.Booking {
	c := *b
	c.BookedSeats = append([]string(nil), b.BookedSeats...)
	c.SeatPrices = make(map[string]int64, len(b.SeatPrices))
	for k, v := range b.SeatPrices {
		c.SeatPrices[k] = v
	}
	if b.PaymentRef != nil {
		ref := *b.PaymentRef
		c.PaymentRef = &ref
	}
	if b.NotifiedAt != nil {
		t := *b.NotifiedAt
		c.NotifiedAt = &t
	}
	return &c
}

func cloneShow(s *model.Show) *model.Show {
	c := *s
	c.Showtimes = append([]time.Time(nil), s.Showtimes...)
	c.SeatLayout.Groupings = make([]model.SeatGrouping, len(s.SeatLayout.Groupings))
	for i, g := range s.SeatLayout.Groupings {
		g.Rows = append([]string(nil), g.Rows...)
		c.SeatLayout.Groupings[i] = g
	}
	return &c
}
