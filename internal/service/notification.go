package service

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
)

// Notification is a rendered message for the notification sink.  It is
// also the payload published on the notification queue.
type Notification struct {
	BookingID string `json:"booking_id"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	// InlineImage is the poster file referenced from HTML as cid:poster.
	InlineImage string  `json:"inline_image,omitempty"`
	Ticket      *Ticket `json:"ticket,omitempty"`
}

// Ticket carries what a printed ticket shows.
type Ticket struct {
	BookingID  string    `json:"booking_id"`
	MovieTitle string    `json:"movie_title"`
	ShowTime   time.Time `json:"show_time"`
	Seats      []string  `json:"seats"`
	TotalCents int64     `json:"total_cents"`
	Currency   string    `json:"currency"`
}

// Total formats the ticket amount.
func (t *Ticket) Total() string { return FormatAmount(t.TotalCents, t.Currency) }

// FormatAmount renders minor units with the currency symbol, e.g.
// FormatAmount(40000, "inr") == "₹400.00".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	num := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	switch strings.ToLower(currency) {
	case "inr":
		return sign + "₹" + num
	case "usd":
		return sign + "$" + num
	case "eur":
		return sign + "€" + num
	case "gbp":
		return sign + "£" + num
	}
	return sign + num + " " + strings.ToUpper(currency)
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: auto; border: 1px solid #ddd; border-radius: 10px; overflow: hidden;">
  <div style="background: #ff4d4f; color: white; padding: 20px; text-align: center;">
    <h2 style="margin: 0;">Booking Confirmed</h2>
  </div>
  {{if .Poster}}<div style="text-align: center; background: #f9f9f9; padding: 20px;">
    <img src="cid:poster" style="width: 200px; border-radius: 10px;" alt="Movie Poster" />
  </div>{{end}}
  <div style="padding: 20px; color: #333;">
    <h3 style="margin-bottom: 10px; font-size: 22px; color: #ff4d4f;">{{.Title}}</h3>
    <p><strong>Show Time:</strong> {{.ShowTime}}</p>
    <p><strong>Seats:</strong> {{.Seats}}</p>
    <p style="font-weight: bold; color: #2ecc71;">Total Price: {{.Total}}</p>
    <p style="font-size: 12px; color: #777;">Booking reference: {{.BookingID}}</p>
  </div>
  <div style="background: #f1f1f1; text-align: center; padding: 15px; font-size: 14px; color: #777;">
    Thank you for booking with us. Enjoy your movie!
  </div>
</div>`))

// RenderConfirmation builds the payment confirmation for a paid booking.
func RenderConfirmation(b *model.Booking, currency string) (Notification, error) {
	t := &Ticket{
		BookingID:  b.ID,
		MovieTitle: b.Show.Movie.Title,
		ShowTime:   b.Show.ShowDateTime,
		Seats:      append([]string(nil), b.BookedSeats...),
		TotalCents: b.TotalAmountCents,
		Currency:   currency,
	}
	var buf bytes.Buffer
	err := confirmationTmpl.Execute(&buf, struct {
		Title, ShowTime, Seats, Total, BookingID string
		Poster                                   bool
	}{
		Title:     t.MovieTitle,
		ShowTime:  t.ShowTime.Format("Mon, 02 Jan 2006 15:04 MST"),
		Seats:     strings.Join(t.Seats, ", "),
		Total:     t.Total(),
		BookingID: t.BookingID,
		Poster:    b.Show.Movie.PosterPath != "",
	})
	if err != nil {
		return Notification{}, fmt.Errorf("render confirmation: %w", err)
	}
	return Notification{
		BookingID:   b.ID,
		To:          b.UserEmail,
		Subject:     "Your booking for " + t.MovieTitle + " is confirmed",
		HTML:        buf.String(),
		InlineImage: b.Show.Movie.PosterPath,
		Ticket:      t,
	}, nil
}
