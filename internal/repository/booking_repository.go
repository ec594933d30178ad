package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique index violation.
const mysqlDuplicateEntry = 1062

// BookingRepo stores bookings and their seat claims.  A booking row lives
// in bookings; each booked seat is a row in booking_seats carrying a
// claim column that is 1 while the booking is active and NULL once it
// is canceled.  The unique index on (show_id, show_date_time,
// seat_label, claim) therefore allows at most one active claim per seat
// while keeping canceled rows for the audit trail.  All timestamps are
// stored in UTC.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `b.id, b.user_id, b.user_email, b.show_id, b.show_date_time, b.show_price_cents,
	b.movie_title, b.movie_language, b.movie_runtime, b.movie_poster, b.total_amount_cents,
	b.is_paid, b.is_canceled, b.status, b.cancel_reason, b.payment_ref, b.notified_at,
	b.created_at, b.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(s rowScanner) (*model.Booking, error) {
	var b model.Booking
	var status string
	var reason, ref sql.NullString
	var notified sql.NullTime
	err := s.Scan(
		&b.ID, &b.UserID, &b.UserEmail, &b.Show.ShowID, &b.Show.ShowDateTime, &b.Show.ShowPrice,
		&b.Show.Movie.Title, &b.Show.Movie.OriginalLanguage, &b.Show.Movie.Runtime, &b.Show.Movie.PosterPath,
		&b.TotalAmountCents, &b.IsPaid, &b.IsCanceled, &status, &reason, &ref, &notified,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = model.Status(status)
	if reason.Valid {
		b.CancelReason = reason.String
	}
	if ref.Valid {
		pr := ref.String
		b.PaymentRef = &pr
	}
	if notified.Valid {
		t := notified.Time.UTC()
		b.NotifiedAt = &t
	}
	b.Show.ShowDateTime = b.Show.ShowDateTime.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	b.BookedSeats = []string{}
	b.SeatPrices = map[string]int64{}
	return &b, nil
}

// Insert persists a new booking and claims its seats in one
// transaction.  When any seat already has an active claim the whole
// insert is rolled back and a *SeatTakenError naming the taken seats is
// returned.
func (r *BookingRepo) Insert(ctx context.Context, b *model.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const q = `INSERT INTO bookings (id, user_id, user_email, show_id, show_date_time, show_price_cents,
		movie_title, movie_language, movie_runtime, movie_poster, total_amount_cents,
		is_paid, is_canceled, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q,
		b.ID, b.UserID, b.UserEmail, b.Show.ShowID, b.Show.ShowDateTime.UTC(), b.Show.ShowPrice,
		b.Show.Movie.Title, b.Show.Movie.OriginalLanguage, b.Show.Movie.Runtime, b.Show.Movie.PosterPath,
		b.TotalAmountCents, b.IsPaid, b.IsCanceled, string(b.Status), b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	); err != nil {
		return err
	}

	if err := r.claimSeatsTx(ctx, tx, b); err != nil {
		if isDuplicateEntry(err) {
			_ = tx.Rollback()
			committed = true // rolled back explicitly
			return r.takenSeats(ctx, b.Show.ShowID, b.Show.ShowDateTime, b.BookedSeats)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// claimSeatsTx inserts one booking_seats row per booked seat in a
// single statement.  Every row is inserted with claim = 1.
func (r *BookingRepo) claimSeatsTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	if len(b.BookedSeats) == 0 {
		return nil
	}
	query := `INSERT INTO booking_seats (booking_id, show_id, show_date_time, seat_label, price_cents, claim) VALUES `
	args := make([]interface{}, 0, len(b.BookedSeats)*5)
	for i, label := range b.BookedSeats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, 1)"
		args = append(args, b.ID, b.Show.ShowID, b.Show.ShowDateTime.UTC(), label, b.SeatPrices[label])
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// takenSeats builds the SeatTakenError for a rejected insert by reading
// which of the requested seats are actively claimed now.  If the
// competing claim disappeared in the meantime all requested seats are
// reported.
func (r *BookingRepo) takenSeats(ctx context.Context, showID string, at time.Time, seats []string) error {
	args := make([]interface{}, 0, len(seats)+2)
	args = append(args, showID, at.UTC())
	placeholders := make([]string, 0, len(seats))
	for _, s := range seats {
		args = append(args, s)
		placeholders = append(placeholders, "?")
	}
	q := `SELECT seat_label FROM booking_seats
		WHERE show_id = ? AND show_date_time = ? AND claim = 1
		AND seat_label IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY seat_label`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	var taken []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return err
		}
		taken = append(taken, label)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(taken) == 0 {
		taken = append(taken, seats...)
	}
	return &SeatTakenError{Seats: taken}
}

// isDuplicateEntry reports whether err is a MySQL unique index violation.
func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// Get returns the booking with the given id including its seats.  It
// returns ErrBookingNotFound when no such booking exists.
func (r *BookingRepo) Get(ctx context.Context, id string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	if err := r.loadSeats(ctx, []*model.Booking{b}); err != nil {
		return nil, err
	}
	return b, nil
}

// ListByUser returns all bookings of a user, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.user_id = ? ORDER BY b.created_at DESC, b.id`
	return r.list(ctx, q, userID)
}

// ListByShow returns all bookings, in any state, for one show-time.
func (r *BookingRepo) ListByShow(ctx context.Context, showID string, at time.Time) ([]*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b
		WHERE b.show_id = ? AND b.show_date_time = ? ORDER BY b.created_at, b.id`
	return r.list(ctx, q, showID, at.UTC())
}

func (r *BookingRepo) list(ctx context.Context, q string, args ...interface{}) ([]*model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadSeats(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadSeats fills BookedSeats and SeatPrices for the given bookings
// with a single IN query.
func (r *BookingRepo) loadSeats(ctx context.Context, bookings []*model.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	ids := make([]interface{}, 0, len(bookings))
	placeholders := make([]string, 0, len(bookings))
	index := make(map[string]*model.Booking, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
		placeholders = append(placeholders, "?")
		index[b.ID] = b
	}
	q := `SELECT booking_id, seat_label, price_cents FROM booking_seats
		WHERE booking_id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := r.db.QueryContext(ctx, q, ids...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var bookingID, label string
		var price int64
		if err := rows.Scan(&bookingID, &label, &price); err != nil {
			return err
		}
		if b, ok := index[bookingID]; ok {
			b.BookedSeats = append(b.BookedSeats, label)
			b.SeatPrices[label] = price
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, b := range bookings {
		model.SortSeatLabels(b.BookedSeats)
	}
	return nil
}

// OccupiedSeats returns the labels of all actively claimed seats of a
// show-time, sorted in seat order.
func (r *BookingRepo) OccupiedSeats(ctx context.Context, showID string, at time.Time) ([]string, error) {
	const q = `SELECT seat_label FROM booking_seats WHERE show_id = ? AND show_date_time = ? AND claim = 1`
	rows, err := r.db.QueryContext(ctx, q, showID, at.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		out = append(out, label)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	model.SortSeatLabels(out)
	return out, nil
}

// MarkPaid flips a pending booking to paid.  It reports true only for
// the call that performed the transition; a booking that is already
// paid or canceled is left untouched and false is returned.  The
// caller re-reads the booking to find out which case applies.
func (r *BookingRepo) MarkPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `UPDATE bookings SET is_paid = 1, status = 'paid', updated_at = ?
		WHERE id = ? AND is_paid = 0 AND is_canceled = 0`
	res, err := r.db.ExecContext(ctx, q, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Cancel marks a booking canceled, records reason and releases its seat
// claims.  With onlyPending set, paid bookings are not touched.  It
// reports whether this call performed the transition.
func (r *BookingRepo) Cancel(ctx context.Context, id, reason string, at time.Time, onlyPending bool) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	q := `UPDATE bookings SET is_canceled = 1, status = 'canceled', cancel_reason = ?, updated_at = ?
		WHERE id = ? AND is_canceled = 0`
	if onlyPending {
		q += ` AND is_paid = 0`
	}
	res, err := tx.ExecContext(ctx, q, reason, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE booking_seats SET claim = NULL WHERE booking_id = ?`, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}

// Delete removes a booking and, through the foreign key cascade, its
// seat rows.  It returns ErrBookingNotFound when nothing was deleted.
func (r *BookingRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// ListStalePending returns ids of pending bookings created before the
// given instant, oldest first, at most limit of them.
func (r *BookingRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	const q = `SELECT id FROM bookings
		WHERE is_paid = 0 AND is_canceled = 0 AND created_at < ?
		ORDER BY created_at LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetPaymentRef records the checkout session id of a booking.
func (r *BookingRepo) SetPaymentRef(ctx context.Context, id, ref string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE bookings SET payment_ref = ? WHERE id = ?`, ref, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBookingNotFound
	}
	return err
}

// ClaimNotification stamps notified_at on a paid booking that has not
// been notified yet.  It reports whether this call set the stamp.
func (r *BookingRepo) ClaimNotification(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `UPDATE bookings SET notified_at = ? WHERE id = ? AND is_paid = 1 AND notified_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseNotification clears notified_at after a failed send.
func (r *BookingRepo) ReleaseNotification(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bookings SET notified_at = NULL WHERE id = ?`, id)
	return err
}
