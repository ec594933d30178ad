package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
)

func TestIsDuplicateEntry(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'S1-2030-01-01 18:00:00-A1-1' for key 'uq_active_seat'"}
	other := &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"duplicate", dup, true},
		{"wrapped duplicate", fmt.Errorf("insert seats: %w", dup), true},
		{"deadlock", other, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := isDuplicateEntry(tc.err); got != tc.want {
			t.Errorf("%s: isDuplicateEntry = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSeatTakenErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("reserve: %w", &SeatTakenError{Seats: []string{"A1", "A2"}})
	if !errors.Is(err, ErrSeatTaken) {
		t.Fatal("expected errors.Is to match ErrSeatTaken")
	}
	var st *SeatTakenError
	if !errors.As(err, &st) {
		t.Fatal("expected errors.As to find *SeatTakenError")
	}
	if got := st.Error(); got != "seats already taken: A1,A2" {
		t.Errorf("unexpected message %q", got)
	}
}

var showTime = time.Date(2030, 1, 10, 18, 30, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*BookingRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewBookingRepo(db), mock
}

func testBooking(seats ...string) *model.Booking {
	prices := map[string]int64{}
	for _, s := range seats {
		prices[s] = 20000
	}
	return &model.Booking{
		ID:          "b1",
		UserID:      "u1",
		UserEmail:   "u1@example.com",
		Show:        model.ShowSnapshot{ShowID: "S1", ShowDateTime: showTime, ShowPrice: int64(len(seats)) * 20000},
		BookedSeats: seats,
		SeatPrices:  prices,
		Status:      model.StatusPending,
		CreatedAt:   showTime.Add(-time.Hour),
		UpdatedAt:   showTime.Add(-time.Hour),
	}
}

func TestInsertClaimsSeatsInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO booking_seats (booking_id, show_id, show_date_time, seat_label, price_cents, claim) VALUES (?, ?, ?, ?, ?, 1),(?, ?, ?, ?, ?, 1)")).
		WithArgs("b1", "S1", sqlmock.AnyArg(), "A1", int64(20000), "b1", "S1", sqlmock.AnyArg(), "A2", int64(20000)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := repo.Insert(context.Background(), testBooking("A1", "A2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestInsertDuplicateSeatReportsTakenSeats(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO booking_seats")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT seat_label FROM booking_seats")).
		WithArgs("S1", sqlmock.AnyArg(), "A1", "A2").
		WillReturnRows(sqlmock.NewRows([]string{"seat_label"}).AddRow("A2"))

	err := repo.Insert(context.Background(), testBooking("A1", "A2"))
	var st *SeatTakenError
	if !errors.As(err, &st) {
		t.Fatalf("err = %v, want *SeatTakenError", err)
	}
	if !reflect.DeepEqual(st.Seats, []string{"A2"}) {
		t.Errorf("taken = %v, want [A2]", st.Seats)
	}
}

func TestInsertOtherErrorRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO booking_seats")).WillReturnError(boom)
	mock.ExpectRollback()

	if err := repo.Insert(context.Background(), testBooking("A1")); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestMarkPaidReportsTransition(t *testing.T) {
	for _, tc := range []struct {
		name string
		rows int64
		want bool
	}{
		{"pending", 1, true},
		{"already paid or canceled", 0, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET is_paid = 1, status = 'paid', updated_at = ?")+
				".*"+regexp.QuoteMeta("WHERE id = ? AND is_paid = 0 AND is_canceled = 0")).
				WithArgs(sqlmock.AnyArg(), "b1").
				WillReturnResult(sqlmock.NewResult(0, tc.rows))

			got, err := repo.MarkPaid(context.Background(), "b1", showTime)
			if err != nil {
				t.Fatalf("MarkPaid: %v", err)
			}
			if got != tc.want {
				t.Errorf("changed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCancelPendingOnlyReleasesClaimsInTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bookings SET is_canceled = 1.*WHERE id = \? AND is_canceled = 0 AND is_paid = 0`).
		WithArgs("payment window expired", sqlmock.AnyArg(), "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE booking_seats SET claim = NULL WHERE booking_id = ?")).
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ok, err := repo.Cancel(context.Background(), "b1", "payment window expired", showTime, true)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v; want true, nil", ok, err)
	}
}

func TestCancelAnyStateKeepsPaidBookingsCancelable(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE bookings SET is_canceled = 1.*WHERE id = \? AND is_canceled = 0$`).
		WithArgs("canceled by admin", sqlmock.AnyArg(), "b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE booking_seats SET claim = NULL")).
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.Cancel(context.Background(), "b1", "canceled by admin", showTime, false)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v; want true, nil", ok, err)
	}
}

func TestCancelWithoutTransitionKeepsClaims(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET is_canceled = 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ok, err := repo.Cancel(context.Background(), "b1", "payment window expired", showTime, true)
	if err != nil || ok {
		t.Fatalf("Cancel = %v, %v; want false, nil", ok, err)
	}
}

func TestClaimNotificationOnlyOnce(t *testing.T) {
	repo, mock := newMockRepo(t)
	q := regexp.QuoteMeta("UPDATE bookings SET notified_at = ? WHERE id = ? AND is_paid = 1 AND notified_at IS NULL")
	mock.ExpectExec(q).WithArgs(sqlmock.AnyArg(), "b1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(sqlmock.AnyArg(), "b1").WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.ClaimNotification(context.Background(), "b1", showTime)
	if err != nil || !first {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	second, err := repo.ClaimNotification(context.Background(), "b1", showTime)
	if err != nil || second {
		t.Fatalf("second claim = %v, %v; want false", second, err)
	}
}
