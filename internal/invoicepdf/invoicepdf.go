// Package invoicepdf формирует PDF-документ счёта.
package invoicepdf

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/mmeshcher/drivingschool/internal/mailer"
	"github.com/mmeshcher/drivingschool/internal/model"
)

// Renderer рисует счёт на странице A4.
type Renderer struct {
	issuer string
}

// NewRenderer создаёт генератор PDF с названием автошколы в шапке.
func NewRenderer(issuer string) *Renderer {
	return &Renderer{issuer: issuer}
}

// Render записывает PDF счёта inv клиента customer в w.
func (r *Renderer) Render(w io.Writer, inv model.Invoice, customer model.User) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle("Faktura "+inv.ID, true)
	pdf.SetAuthor(r.issuer, true)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, tr(r.issuer), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 10, "Faktura", "", 1, "L", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Fakturanummer", inv.ID},
		{"Kund", customer.Name},
		{"E-post", customer.Email},
		{"Fakturadatum", inv.CreatedAt.Format(time.DateOnly)},
		{"Förfallodag", inv.DueDate.Format(time.DateOnly)},
		{"Status", string(inv.Status)},
	}
	if inv.BookingID != "" {
		rows = append(rows, [2]string{"Bokning", inv.BookingID})
	}
	for _, row := range rows {
		pdf.CellFormat(50, 7, tr(row[0]), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, tr(row[1]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(130, 8, "Beskrivning", "B", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, "Belopp", "B", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(130, 8, tr(inv.Description), "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, mailer.FormatAmount(inv.AmountMinor), "", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(130, 10, "Att betala", "T", 0, "L", false, 0, "")
	pdf.CellFormat(0, 10, mailer.FormatAmount(inv.AmountMinor), "T", 1, "R", false, 0, "")

	if inv.Status == model.InvoiceStatusPaid {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "I", 11)
		paid := fmt.Sprintf("Betald via %s, referens %s", inv.PaymentMethod, inv.PaymentReference)
		pdf.CellFormat(0, 8, tr(paid), "", 1, "L", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render invoice pdf: %w", err)
	}
	return nil
}
