package notify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/iliyamo/movie-ticket-booking/internal/service"
)

const qrSize = 256

// RenderTicketQR encodes the booking id as a PNG QR code.
func RenderTicketQR(bookingID string) ([]byte, error) {
	png, err := qrcode.Encode(bookingID, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// RenderTicketPDF lays out a single A5 ticket with the QR code.
func RenderTicketPDF(t *service.Ticket, qr []byte) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetTitle("Movie ticket "+t.BookingID, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFillColor(255, 77, 79)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 14, "Booking Confirmed", "", 1, "C", true, 0, "")
	pdf.Ln(6)

	pdf.SetTextColor(51, 51, 51)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 8, tr(t.MovieTitle), "", "L", false)
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 12)
	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(32, 8, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 8, tr(value), "", 1, "L", false, 0, "")
	}
	row("Show time", t.ShowTime.Format("Mon, 02 Jan 2006 15:04 MST"))
	row("Seats", strings.Join(t.Seats, ", "))
	row("Total", plainAmount(t.TotalCents, t.Currency))
	row("Reference", t.BookingID)

	if len(qr) > 0 {
		opt := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("qr", opt, bytes.NewReader(qr))
		pdf.ImageOptions("qr", 44, pdf.GetY()+8, 60, 60, false, opt, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// plainAmount avoids currency symbols the core PDF fonts cannot draw.
func plainAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, strings.ToUpper(currency))
}
