// Package notify delivers booking confirmations by SMTP.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/gomail.v2"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

// Config holds the SMTP account and where poster files live.
type Config struct {
	Host      string
	Port      int
	User      string
	Pass      string
	From      string
	PosterDir string
}

// Mailer implements service.Notifier over SMTP.
type Mailer struct {
	cfg    Config
	send   func(...*gomail.Message) error
	logger *slog.Logger
}

// NewMailer returns a Mailer that dials the SMTP server for every message.
func NewMailer(cfg Config, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	return &Mailer{cfg: cfg, send: d.DialAndSend, logger: logger}
}

// Send builds the MIME message and delivers it.  The SMTP exchange runs
// in its own goroutine so ctx can bound it.
func (m *Mailer) Send(ctx context.Context, n service.Notification) error {
	msg, err := m.build(n)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- m.send(msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", n.To, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mailer) build(n service.Notification) (*gomail.Message, error) {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", n.To)
	msg.SetHeader("Subject", n.Subject)

	html := n.HTML
	if poster := m.posterFile(n.InlineImage); poster != "" {
		msg.Embed(poster, gomail.Rename("poster"))
	}

	if n.Ticket != nil {
		qr, err := RenderTicketQR(n.Ticket.BookingID)
		if err != nil {
			return nil, err
		}
		msg.Embed("qr.png", gomail.SetCopyFunc(copyBytes(qr)))
		html += `<p style="text-align: center;"><img src="cid:qr.png" alt="Ticket QR code" width="160" /></p>`

		pdf, err := RenderTicketPDF(n.Ticket, qr)
		if err != nil {
			return nil, err
		}
		msg.Attach("ticket-"+n.Ticket.BookingID+".pdf", gomail.SetCopyFunc(copyBytes(pdf)))
	}
	msg.SetBody("text/html", html)
	return msg, nil
}

// posterFile resolves the poster under PosterDir, or "" when it is not
// available locally.
func (m *Mailer) posterFile(name string) string {
	if name == "" || m.cfg.PosterDir == "" {
		return ""
	}
	path := filepath.Join(m.cfg.PosterDir, filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		m.logger.Debug("poster not found, sending without it", "path", path)
		return ""
	}
	return path
}

func copyBytes(b []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	}
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	Logger *slog.Logger
}

// Send implements service.Notifier.
func (l LogNotifier) Send(ctx context.Context, n service.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "booking notification",
		"booking_id", n.BookingID, "to", n.To, "subject", n.Subject)
	return nil
}
