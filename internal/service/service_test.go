package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
	"github.com/iliyamo/movie-ticket-booking/internal/service"
	"github.com/iliyamo/movie-ticket-booking/internal/service/memstore"
)

var (
	showTime = time.Date(2030, 1, 10, 18, 30, 0, 0, time.UTC)
	start    = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
)

func testShow() *model.Show {
	return &model.Show{
		ID:               "S",
		Title:            "Interstellar",
		OriginalLanguage: "en",
		Runtime:          169,
		PosterPath:       "interstellar.jpg",
		Showtimes:        []time.Time{showTime},
		SeatLayout: model.SeatLayout{
			SeatsPerRow: 8,
			Groupings: []model.SeatGrouping{
				{Rows: []string{"A", "B"}, PriceCents: 20000, Layout: model.LayoutGrid},
				{Rows: []string{"C", "D"}, PriceCents: 15000, Layout: model.LayoutStacked},
			},
		},
	}
}

type fakePayments struct {
	mu      sync.Mutex
	n       int
	paid    map[string]bool
	created []service.CheckoutRequest
	err     error
}

func (p *fakePayments) CreateCheckoutSession(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.n++
	id := fmt.Sprintf("cs_test_%d", p.n)
	if p.paid == nil {
		p.paid = map[string]bool{}
	}
	p.paid[id] = false
	p.created = append(p.created, req)
	return &service.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (p *fakePayments) SessionPaid(ctx context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paid[id], nil
}

func (p *fakePayments) pay(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid[id] = true
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []service.Notification
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, msg service.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fixture struct {
	now    time.Time
	store  *memstore.Store
	ledger *service.Ledger
	inv    *service.Inventory
	orch   *service.Orchestrator
	conf   *service.Confirmer
	pay    *fakePayments
	notes  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: start, store: memstore.New(), pay: &fakePayments{}, notes: &recordingNotifier{}}
	f.store.PutShow(testShow())
	opts := []service.Option{
		service.WithClock(func() time.Time { return f.now }),
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.ledger = service.NewLedger(f.store, opts...)
	f.inv = service.NewInventory(f.store, f.store, opts...)
	f.orch = service.NewOrchestrator(f.ledger, f.inv, f.pay, service.CheckoutConfig{
		Currency:      "inr",
		ClientURL:     "https://movies.test/",
		MaxSeats:      10,
		PaymentWindow: 30 * time.Minute,
	}, opts...)
	f.conf = service.NewConfirmer(f.ledger, f.pay, f.notes, "inr", opts...)
	return f
}

func (f *fixture) reserve(user string, seats ...string) (*service.Reservation, error) {
	return f.orch.Reserve(context.Background(), service.ReserveRequest{
		UserID:       user,
		UserEmail:    user + "@example.com",
		ShowID:       "S",
		ShowDateTime: showTime,
		Seats:        seats,
	})
}

func TestBookingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.reserve("u1", "A1", "A2")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	b := res.Booking
	if b.TotalAmountCents != 40000 || b.Show.ShowPrice != 40000 {
		t.Errorf("total = %d / %d, want 40000", b.TotalAmountCents, b.Show.ShowPrice)
	}
	if b.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", b.Status)
	}
	if !strings.HasPrefix(res.CheckoutURL, "https://checkout.test/") {
		t.Errorf("checkout url = %q", res.CheckoutURL)
	}
	req := f.pay.created[0]
	if req.CorrelationID != b.ID || req.AmountCents != 40000 || req.Currency != "inr" {
		t.Errorf("unexpected checkout request %+v", req)
	}
	if req.SuccessURL != "https://movies.test/mybookings?success=true&bookingId="+b.ID {
		t.Errorf("success url = %q", req.SuccessURL)
	}
	if !req.ExpiresAt.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("expires at = %v", req.ExpiresAt)
	}

	_, err = f.reserve("u2", "A1")
	var conflict *service.SeatConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, service.ErrSeatConflict) {
		t.Fatalf("second reserve err = %v, want SeatConflictError", err)
	}
	if len(conflict.Seats) != 1 || conflict.Seats[0] != "A1" {
		t.Errorf("conflicting seats = %v, want [A1]", conflict.Seats)
	}

	paid, err := f.conf.ConfirmPayment(ctx, b.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if paid.Status != model.StatusPaid || !paid.IsPaid {
		t.Errorf("after confirm status = %s", paid.Status)
	}
	if f.notes.count() != 1 {
		t.Fatalf("notifications = %d, want 1", f.notes.count())
	}
	n := f.notes.sent[0]
	if n.To != "u1@example.com" || !strings.Contains(n.HTML, "A1, A2") || !strings.Contains(n.HTML, "₹400.00") {
		t.Errorf("unexpected notification %+v", n)
	}
	if got, _ := f.ledger.Get(ctx, b.ID); got.NotifiedAt == nil {
		t.Error("NotifiedAt not recorded")
	}

	canceled, err := f.ledger.Cancel(ctx, b.ID, "user request")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != model.StatusCanceled || canceled.CancelReason != "user request" {
		t.Errorf("after cancel: status=%s reason=%q", canceled.Status, canceled.CancelReason)
	}
	occ, err := f.inv.OccupiedSeats(ctx, "S", showTime)
	if err != nil {
		t.Fatalf("occupied: %v", err)
	}
	for _, s := range occ {
		if s == "A1" || s == "A2" {
			t.Errorf("canceled seat %s still occupied", s)
		}
	}

	if _, err := f.reserve("u2", "A1"); err != nil {
		t.Fatalf("retry after cancel: %v", err)
	}
}

func TestNoDoubleBookingUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	const workers = 25

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.reserve(fmt.Sprintf("user%d", i), "B3", "B4")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, service.ErrSeatConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1 and %d", wins, conflicts, workers-1)
	}
	list, _ := f.ledger.FindByShow(context.Background(), "S", showTime)
	active := 0
	for _, b := range list {
		if b.Active() {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active bookings = %d, want 1", active)
	}
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	res, err := f.reserve("u1", "C1")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.conf.ConfirmPayment(context.Background(), res.Booking.ID); err != nil {
				t.Errorf("confirm: %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := f.conf.ConfirmPayment(context.Background(), res.Booking.ID); err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if got := f.notes.count(); got != 1 {
		t.Fatalf("notifications = %d, want exactly 1", got)
	}
}

func TestConfirmCanceledBookingIsInvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.reserve("u1", "D8")
	if _, err := f.ledger.Cancel(ctx, res.Booking.ID, "changed my mind"); err != nil {
		t.Fatal(err)
	}

	b, err := f.conf.ConfirmPayment(ctx, res.Booking.ID)
	if !errors.Is(err, service.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	if b == nil || b.Status != model.StatusCanceled {
		t.Errorf("booking should stay canceled, got %+v", b)
	}
	if f.notes.count() != 0 {
		t.Error("no notification expected for a canceled booking")
	}
}

func TestConfirmUnknownBooking(t *testing.T) {
	f := newFixture(t)
	if _, err := f.conf.ConfirmPayment(context.Background(), "missing"); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNotificationFailureKeepsPayment(t *testing.T) {
	f := newFixture(t)
	f.notes.err = errors.New("smtp down")
	res, _ := f.reserve("u1", "A5")

	b, err := f.conf.ConfirmPayment(context.Background(), res.Booking.ID)
	if err != nil {
		t.Fatalf("confirm should succeed when mail fails: %v", err)
	}
	if b.Status != model.StatusPaid {
		t.Errorf("status = %s, want paid", b.Status)
	}
	got, _ := f.ledger.Get(context.Background(), res.Booking.ID)
	if got.NotifiedAt != nil {
		t.Error("NotifiedAt must stay empty when the send failed")
	}
}

func TestReserveValidation(t *testing.T) {
	cases := []struct {
		name  string
		show  string
		at    time.Time
		seats []string
		want  error
	}{
		{"no seats", "S", showTime, nil, service.ErrValidation},
		{"unknown row", "S", showTime, []string{"Z1"}, service.ErrValidation},
		{"column out of range", "S", showTime, []string{"A9"}, service.ErrValidation},
		{"column zero", "S", showTime, []string{"A0"}, service.ErrValidation},
		{"malformed", "S", showTime, []string{"12"}, service.ErrValidation},
		{"duplicate", "S", showTime, []string{"A1", "a1"}, service.ErrValidation},
		{"unknown showtime", "S", showTime.Add(time.Hour), []string{"A1"}, service.ErrValidation},
		{"unknown show", "nope", showTime, []string{"A1"}, service.ErrNotFound},
		{"too many seats", "S", showTime, []string{"A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8", "B1", "B2", "B3"}, service.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.orch.Reserve(context.Background(), service.ReserveRequest{
				UserID: "u1", UserEmail: "u1@example.com", ShowID: tc.show, ShowDateTime: tc.at, Seats: tc.seats,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if list, _ := f.ledger.FindByUser(context.Background(), "u1"); len(list) != 0 {
				t.Errorf("validation failure must not create a booking, found %d", len(list))
			}
		})
	}
}

func TestReserveAfterShowStarted(t *testing.T) {
	f := newFixture(t)
	f.now = showTime.Add(time.Minute)
	if _, err := f.reserve("u1", "A1"); !errors.Is(err, service.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCheckoutFailureLeavesPendingBooking(t *testing.T) {
	f := newFixture(t)
	f.pay.err = fmt.Errorf("%w: stripe unreachable", service.ErrTransientProvider)

	_, err := f.reserve("u1", "C3", "C4")
	if !errors.Is(err, service.ErrTransientProvider) {
		t.Fatalf("err = %v, want ErrTransientProvider", err)
	}
	list, err := f.ledger.FindByUser(context.Background(), "u1")
	if err != nil || len(list) != 1 {
		t.Fatalf("want one orphaned booking, got %d (%v)", len(list), err)
	}
	if list[0].Status != model.StatusPending || list[0].PaymentRef != nil {
		t.Errorf("orphan should be pending without payment ref: %+v", list[0])
	}
	occ, _ := f.inv.OccupiedSeats(context.Background(), "S", showTime)
	if strings.Join(occ, ",") != "C3,C4" {
		t.Errorf("occupied = %v, want [C3 C4]", occ)
	}
}

func TestPriceIsSnapshotted(t *testing.T) {
	f := newFixture(t)
	res, err := f.reserve("u1", "A1", "C1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Booking.TotalAmountCents != 35000 {
		t.Fatalf("total = %d, want 35000", res.Booking.TotalAmountCents)
	}

	raised := testShow()
	raised.Title = "Interstellar (IMAX)"
	raised.SeatLayout.Groupings[0].PriceCents = 99900
	f.store.PutShow(raised)

	b, _ := f.ledger.Get(context.Background(), res.Booking.ID)
	if b.TotalAmountCents != 35000 || b.SeatPrices["A1"] != 20000 || b.Show.Movie.Title != "Interstellar" {
		t.Errorf("booking changed after catalog edit: %+v", b)
	}
}

func TestConfirmFromClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.reserve("u1", "B1")
	id := res.Booking.ID

	if _, err := f.conf.ConfirmFromClient(ctx, "intruder", id); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("other user: err = %v, want ErrForbidden", err)
	}
	if _, err := f.conf.ConfirmFromClient(ctx, "u1", id); !errors.Is(err, service.ErrInvalidState) {
		t.Fatalf("unpaid session: err = %v, want ErrInvalidState", err)
	}
	if f.notes.count() != 0 {
		t.Fatal("unpaid session must not notify")
	}

	f.pay.pay(*res.Booking.PaymentRef)
	b, err := f.conf.ConfirmFromClient(ctx, "u1", id)
	if err != nil {
		t.Fatalf("paid session: %v", err)
	}
	if b.Status != model.StatusPaid {
		t.Errorf("status = %s", b.Status)
	}
	// The webhook arriving afterwards is a no-op.
	if err := f.conf.HandleEvent(ctx, service.PaymentEvent{Type: service.EventPaymentCompleted, CorrelationID: id}); err != nil {
		t.Fatalf("late webhook: %v", err)
	}
	if f.notes.count() != 1 {
		t.Errorf("notifications = %d, want 1", f.notes.count())
	}
}

func TestCheckoutExpiredEventReleasesPendingOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending, _ := f.reserve("u1", "D1")
	paid, _ := f.reserve("u2", "D2")
	if _, err := f.conf.ConfirmPayment(ctx, paid.Booking.ID); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{pending.Booking.ID, paid.Booking.ID} {
		if err := f.conf.HandleEvent(ctx, service.PaymentEvent{Type: service.EventCheckoutExpired, CorrelationID: id}); err != nil {
			t.Fatalf("expired event: %v", err)
		}
	}
	p, _ := f.ledger.Get(ctx, pending.Booking.ID)
	q, _ := f.ledger.Get(ctx, paid.Booking.ID)
	if p.Status != model.StatusCanceled || p.CancelReason != service.ReasonCheckoutExpired {
		t.Errorf("pending booking: status=%s reason=%q", p.Status, p.CancelReason)
	}
	if q.Status != model.StatusPaid {
		t.Errorf("paid booking must survive, status=%s", q.Status)
	}
}

func TestReaperReleasesStalePendingBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale, _ := f.reserve("u1", "A3")
	paid, _ := f.reserve("u2", "A4")
	if _, err := f.conf.ConfirmPayment(ctx, paid.Booking.ID); err != nil {
		t.Fatal(err)
	}
	f.now = start.Add(10 * time.Minute)
	fresh, _ := f.reserve("u3", "A5")

	f.now = start.Add(20 * time.Minute)
	reaper := service.NewReaper(f.ledger, 15*time.Minute, time.Minute,
		service.WithClock(func() time.Time { return f.now }))
	n, err := reaper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("released = %d, want 1", n)
	}
	b, _ := f.ledger.Get(ctx, stale.Booking.ID)
	if b.Status != model.StatusCanceled || b.CancelReason != service.ReasonPaymentExpired {
		t.Errorf("stale booking: status=%s reason=%q", b.Status, b.CancelReason)
	}
	occ, _ := f.inv.OccupiedSeats(ctx, "S", showTime)
	if strings.Join(occ, ",") != "A4,A5" {
		t.Errorf("occupied = %v, want [A4 A5]", occ)
	}
	if b, _ := f.ledger.Get(ctx, fresh.Booking.ID); b.Status != model.StatusPending {
		t.Errorf("fresh booking status = %s", b.Status)
	}
}

func TestStorageTimeoutIsTransient(t *testing.T) {
	f := newFixture(t)
	f.store.Fail = context.DeadlineExceeded
	if _, err := f.inv.OccupiedSeats(context.Background(), "S", showTime); !errors.Is(err, service.ErrTransientStorage) {
		t.Fatalf("err = %v, want ErrTransientStorage", err)
	}
	if _, err := f.conf.ConfirmPayment(context.Background(), "any"); !errors.Is(err, service.ErrTransientStorage) {
		t.Fatalf("confirm err = %v, want ErrTransientStorage", err)
	}
}

func TestLedgerCreateRejectsBadDrafts(t *testing.T) {
	f := newFixture(t)
	snap := model.ShowSnapshot{ShowID: "S", ShowDateTime: showTime}
	cases := []struct {
		name  string
		draft service.Draft
		want  error
	}{
		{"empty", service.Draft{UserID: "u", Show: snap}, service.ErrValidation},
		{"duplicate", service.Draft{UserID: "u", Show: snap, Seats: []string{"A1", "A1"},
			SeatPrices: map[string]int64{"A1": 100}}, service.ErrValidation},
		{"unpriced", service.Draft{UserID: "u", Show: snap, Seats: []string{"A1"}}, service.ErrPricing},
	}
	for _, tc := range cases {
		if _, err := f.ledger.Create(context.Background(), tc.draft); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestDeleteFreesSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.reserve("u1", "B7")
	if err := f.ledger.Delete(ctx, res.Booking.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Get(ctx, res.Booking.ID); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("get after delete: %v", err)
	}
	if err := f.ledger.Delete(ctx, res.Booking.ID); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
	if _, err := f.reserve("u2", "B7"); err != nil {
		t.Errorf("seat should be free after delete: %v", err)
	}
}

// readAfterPaidFails fails the first Get that follows a successful
// MarkPaid, leaving the booking paid but the caller with an error.
type readAfterPaidFails struct {
	*memstore.Store
	mu    sync.Mutex
	armed bool
}

func (s *readAfterPaidFails) MarkPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	ok, err := s.Store.MarkPaid(ctx, id, at)
	if ok {
		s.mu.Lock()
		s.armed = true
		s.mu.Unlock()
	}
	return ok, err
}

func (s *readAfterPaidFails) Get(ctx context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	armed := s.armed
	s.armed = false
	s.mu.Unlock()
	if armed {
		return nil, context.DeadlineExceeded
	}
	return s.Store.Get(ctx, id)
}

func TestRedeliveryAfterFailedReadStillNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.reserve("u1", "B4")
	if err != nil {
		t.Fatal(err)
	}

	store := &readAfterPaidFails{Store: f.store}
	opts := []service.Option{
		service.WithClock(func() time.Time { return f.now }),
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	conf := service.NewConfirmer(service.NewLedger(store, opts...), f.pay, f.notes, "inr", opts...)

	if _, err := conf.ConfirmPayment(ctx, res.Booking.ID); !errors.Is(err, service.ErrTransientStorage) {
		t.Fatalf("first delivery: err = %v, want ErrTransientStorage", err)
	}
	b, err := conf.ConfirmPayment(ctx, res.Booking.ID)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if b.Status != model.StatusPaid {
		t.Errorf("status = %s, want paid", b.Status)
	}
	if got := f.notes.count(); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
	if _, err := conf.ConfirmPayment(ctx, res.Booking.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.notes.count(); got != 1 {
		t.Fatalf("notifications after third delivery = %d, want 1", got)
	}
}

func TestFailedSendIsRetriedOnNextConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, _ := f.reserve("u1", "B5")

	f.notes.err = errors.New("smtp down")
	if _, err := f.conf.ConfirmPayment(ctx, res.Booking.ID); err != nil {
		t.Fatal(err)
	}
	f.notes.mu.Lock()
	f.notes.err = nil
	f.notes.mu.Unlock()

	if _, err := f.conf.ConfirmPayment(ctx, res.Booking.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.notes.count(); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
	if b, _ := f.ledger.Get(ctx, res.Booking.ID); b.NotifiedAt == nil {
		t.Error("NotifiedAt not recorded after the retried send")
	}
}
