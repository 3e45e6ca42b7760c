package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/drivingschool/internal/model"
)

// Message содержит готовое к отправке письмо.
type Message struct {
	Subject string
	HTML    string
}

// InvoiceMail содержит поля счёта, подставляемые в шаблоны писем.
type InvoiceMail struct {
	CustomerName string
	InvoiceID    string
	Description  string
	AmountMinor  int64
	DueDate      time.Time
	PayLink      string
}

type invoiceView struct {
	CustomerName string
	InvoiceID    string
	Description  string
	Amount       string
	DueDate      string
	PayLink      string
}

var (
	noticeTemplate = template.Must(template.New("notice").Parse(`<p>Hej {{.CustomerName}}!</p>
<p>Du har fått en ny faktura från trafikskolan{{if .Description}} för {{.Description}}{{end}}.</p>
<p>Belopp: <strong>{{.Amount}}</strong><br>Förfallodag: <strong>{{.DueDate}}</strong></p>
<p><a href="{{.PayLink}}">Betala fakturan</a></p>
<p>Fakturanummer: {{.InvoiceID}}</p>`))

	reminderTemplate = template.Must(template.New("reminder").Parse(`<p>Hej {{.CustomerName}}!</p>
<p>Vi har ännu inte fått betalning för din faktura{{if .Description}} för {{.Description}}{{end}}.</p>
<p>Belopp: <strong>{{.Amount}}</strong><br>Förfallodag: <strong>{{.DueDate}}</strong></p>
<p><a href="{{.PayLink}}">Betala nu</a></p>
<p>Fakturanummer: {{.InvoiceID}}</p>`))
)

// FormatAmount форматирует сумму в эре как кроны с двумя знаками после запятой.
func FormatAmount(amountMinor int64) string {
	return decimal.New(amountMinor, -2).StringFixed(2) + " " + model.Currency
}

// NoticeMessage формирует письмо о выставленном счёте.
func NoticeMessage(d InvoiceMail) (Message, error) {
	return render(noticeTemplate, "Ny faktura från trafikskolan", d)
}

// ReminderMessage формирует письмо-напоминание об оплате.
func ReminderMessage(d InvoiceMail) (Message, error) {
	return render(reminderTemplate, "Påminnelse: obetald faktura", d)
}

func render(tmpl *template.Template, subject string, d InvoiceMail) (Message, error) {
	view := invoiceView{
		CustomerName: d.CustomerName,
		InvoiceID:    d.InvoiceID,
		Description:  d.Description,
		Amount:       FormatAmount(d.AmountMinor),
		DueDate:      d.DueDate.Format(time.DateOnly),
		PayLink:      d.PayLink,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return Message{}, fmt.Errorf("render %s template: %w", tmpl.Name(), err)
	}

	return Message{Subject: subject, HTML: buf.String()}, nil
}
