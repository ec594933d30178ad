package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

const testSecret = "whsec_test_secret"

func newTestProvider(t *testing.T, h http.HandlerFunc) *StripeProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripeProvider(Config{
		SecretKey:     "sk_test_123",
		WebhookSecret: testSecret,
		Timeout:       2 * time.Second,
		BaseURL:       srv.URL,
	})
}

func TestCreateCheckoutSessionSendsBookingReference(t *testing.T) {
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	var form map[string]string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = r.ParseForm()
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`)
	})
	p.now = func() time.Time { return now }

	sess, err := p.CreateCheckoutSession(context.Background(), service.CheckoutRequest{
		AmountCents:   40000,
		Currency:      "inr",
		Description:   "Interstellar (A1, A2)",
		SuccessURL:    "https://movies.test/mybookings?success=true&bookingId=b-1",
		CancelURL:     "https://movies.test/mybookings?canceled=true",
		CorrelationID: "b-1",
		CustomerEmail: "ana@example.com",
		ExpiresAt:     now.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if sess.ID != "cs_test_1" || sess.URL == "" {
		t.Errorf("session = %+v", sess)
	}
	want := map[string]string{}
	want["mode"] = "payment"
	want["client_reference_id"] = "b-1"
	want["metadata[booking_id]"] = "b-1"
	want["customer_email"] = "ana@example.com"
	want["line_items[0][quantity]"] = "1"
	want["line_items[0][price_data][currency]"] = "inr"
	want["line_items[0][price_data][unit_amount]"] = "40000"
	want["expires_at"] = strconv.FormatInt(now.Add(minSessionLifetime).Unix(), 10)
	for k, v := range want {
		if form[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, form[k], v)
		}
	}
}

func TestProviderErrorsAreClassified(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(status.Load()))
		fmt.Fprint(w, `{"error":{"type":"api_error","message":"boom"}}`)
	})

	_, err := p.SessionPaid(context.Background(), "cs_test_1")
	if !errors.Is(err, service.ErrTransientProvider) {
		t.Errorf("5xx: err = %v, want ErrTransientProvider", err)
	}

	status.Store(http.StatusBadRequest)
	_, err = p.CreateCheckoutSession(context.Background(), service.CheckoutRequest{AmountCents: 1, Currency: "inr"})
	if err == nil || errors.Is(err, service.ErrTransientProvider) {
		t.Errorf("4xx: err = %v, want permanent error", err)
	}
}

func TestSessionPaid(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/checkout/sessions/cs_paid":
			fmt.Fprint(w, `{"id":"cs_paid","object":"checkout.session","payment_status":"paid"}`)
		default:
			fmt.Fprint(w, `{"id":"cs_open","object":"checkout.session","payment_status":"unpaid"}`)
		}
	})
	if ok, err := p.SessionPaid(context.Background(), "cs_paid"); err != nil || !ok {
		t.Errorf("cs_paid: %v, %v", ok, err)
	}
	if ok, err := p.SessionPaid(context.Background(), "cs_open"); err != nil || ok {
		t.Errorf("cs_open: %v, %v", ok, err)
	}
}

func signed(t *testing.T, body string) ([]byte, string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

func eventBody(typ, session string) string {
	return fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2024-06-20","type":%q,"data":{"object":%s}}`, typ, session)
}

func TestParseEvent(t *testing.T) {
	p := NewStripeProvider(Config{WebhookSecret: testSecret})

	cases := []struct {
		name, typ, session string
		wantType           service.PaymentEventType
		wantCorrelation    string
	}{
		{
			"completed and paid",
			"checkout.session.completed",
			`{"id":"cs_1","object":"checkout.session","payment_status":"paid","metadata":{"booking_id":"b-1"}}`,
			service.EventPaymentCompleted, "b-1",
		},
		{
			"completed but unpaid",
			"checkout.session.completed",
			`{"id":"cs_1","object":"checkout.session","payment_status":"unpaid","metadata":{"booking_id":"b-1"}}`,
			"", "b-1",
		},
		{
			"async success falls back to client reference",
			"checkout.session.async_payment_succeeded",
			`{"id":"cs_2","object":"checkout.session","payment_status":"paid","client_reference_id":"b-2"}`,
			service.EventPaymentCompleted, "b-2",
		},
		{
			"expired",
			"checkout.session.expired",
			`{"id":"cs_3","object":"checkout.session","payment_status":"unpaid","metadata":{"booking_id":"b-3"}}`,
			service.EventCheckoutExpired, "b-3",
		},
		{
			"ignored type",
			"customer.created",
			`{"id":"cus_1","object":"customer"}`,
			"", "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, header := signed(t, eventBody(tc.typ, tc.session))
			ev, err := p.ParseEvent(payload, header)
			if err != nil {
				t.Fatalf("ParseEvent: %v", err)
			}
			if ev.Type != tc.wantType || ev.CorrelationID != tc.wantCorrelation || ev.ID != "evt_1" {
				t.Errorf("event = %+v", ev)
			}
		})
	}
}

func TestParseEventRejectsBadSignature(t *testing.T) {
	p := NewStripeProvider(Config{WebhookSecret: testSecret})
	payload, header := signed(t, eventBody("checkout.session.completed", `{"id":"cs_1"}`))

	if _, err := p.ParseEvent(payload, "t=1,v1=deadbeef"); !errors.Is(err, service.ErrAuthentication) {
		t.Errorf("forged header: err = %v", err)
	}
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-2] = ' '
	if _, err := p.ParseEvent(tampered, header); !errors.Is(err, service.ErrAuthentication) {
		t.Errorf("tampered body: err = %v", err)
	}
}

func TestReapAfterOutlivesSession(t *testing.T) {
	const timeout = 10 * time.Second
	created := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, window := range []time.Duration{10 * time.Minute, 30 * time.Minute, 31 * time.Minute, 2 * time.Hour, 48 * time.Hour} {
		opened := created.Add(timeout)
		p := &StripeProvider{now: func() time.Time { return opened }}
		expires := p.clampExpiry(opened.Add(window))
		reap := created.Add(ReapAfter(window, timeout))
		if !reap.After(expires) {
			t.Errorf("window %v: reaped at %v, session payable until %v", window, reap, expires)
		}
	}
}

func TestClampExpiry(t *testing.T) {
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &StripeProvider{now: func() time.Time { return now }}
	cases := []struct {
		in, want time.Duration
	}{
		{30 * time.Minute, 31 * time.Minute},
		{time.Hour, time.Hour},
		{48 * time.Hour, 24*time.Hour - time.Minute},
	}
	for _, tc := range cases {
		if got := p.clampExpiry(now.Add(tc.in)).Sub(now); got != tc.want {
			t.Errorf("clampExpiry(+%v) = +%v, want +%v", tc.in, got, tc.want)
		}
	}
}
