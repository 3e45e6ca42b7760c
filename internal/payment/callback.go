// Package payment приводит уведомления платёжных провайдеров Swish и Qliro
// к единому событию подтверждения оплаты.
package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/drivingschool/internal/model"
)

var (
	// ErrCallbackMalformed возвращается, если тело уведомления пустое или не является JSON.
	ErrCallbackMalformed = errors.New("payment callback malformed")
	// ErrCallbackUnroutable возвращается при обработке разобранного уведомления
	// без ссылки на счёт или без ссылки провайдера.
	ErrCallbackUnroutable = errors.New("payment callback cannot be routed")
)

// Provider обозначает платёжного провайдера, присылающего уведомления.
type Provider string

const (
	ProviderSwish Provider = "swish"
	ProviderQliro Provider = "qliro"
)

// Method возвращает способ оплаты, под которым провайдер фиксируется в счёте.
func (p Provider) Method() model.PaymentMethod {
	switch p {
	case ProviderSwish:
		return model.PaymentMethodSwish
	case ProviderQliro:
		return model.PaymentMethodQliro
	}
	return ""
}

// Kind различает назначение уведомления.
type Kind uint8

const (
	// KindSettlement обозначает уведомление о состоянии платежа. При Settled счёт отмечается оплаченным.
	KindSettlement Kind = iota
	// KindValidation обозначает предварительную проверку заказа. Счёт не изменяется.
	KindValidation
)

// Callback содержит разобранное уведомление провайдера. Оно живёт в пределах одного запроса.
// Поля ссылок могут быть пустыми: такое уведомление адаптер отклоняет при обработке.
type Callback struct {
	Provider          Provider
	Kind              Kind
	ProviderReference string
	InvoiceRef        string
	Amount            *decimal.Decimal
	Status            string
	Settled           bool
	Raw               []byte
	// Invalid содержит ошибку разбора полей корректного JSON.
	Invalid error
}

type swishCallback struct {
	ID                    string           `json:"id"`
	PayeePaymentReference string           `json:"payeePaymentReference"`
	PaymentReference      string           `json:"paymentReference"`
	Status                string           `json:"status"`
	Amount                *decimal.Decimal `json:"amount"`
	Currency              string           `json:"currency"`
}

// ParseSwish разбирает уведомление Swish о платёжном запросе.
func ParseSwish(raw []byte) (Callback, error) {
	var p swishCallback
	invalid := decode(raw, &p)
	if errors.Is(invalid, ErrCallbackMalformed) {
		return Callback{}, invalid
	}

	return Callback{
		Provider:          ProviderSwish,
		Kind:              KindSettlement,
		ProviderReference: p.ID,
		InvoiceRef:        p.PayeePaymentReference,
		Amount:            p.Amount,
		Status:            p.Status,
		Settled:           p.Status == "PAID",
		Raw:               raw,
		Invalid:           invalid,
	}, nil
}

type qliroCallback struct {
	OrderID              int64            `json:"OrderId"`
	MerchantReference    string           `json:"MerchantReference"`
	PaymentTransactionID int64            `json:"PaymentTransactionId"`
	Status               string           `json:"Status"`
	NotificationType     string           `json:"NotificationType"`
	TotalPrice           *decimal.Decimal `json:"TotalPrice"`
	Currency             string           `json:"Currency"`
}

// ParseQliroStatus разбирает уведомление order-management-status.
// Ссылкой провайдера служит номер заказа Qliro: он не меняется между повторными уведомлениями.
func ParseQliroStatus(raw []byte) (Callback, error) {
	p, invalid := parseQliro(raw)
	if errors.Is(invalid, ErrCallbackMalformed) {
		return Callback{}, invalid
	}

	settled := p.Status == "Success" &&
		(p.NotificationType == "Preauthorization" || p.NotificationType == "Capture")

	return Callback{
		Provider:          ProviderQliro,
		Kind:              KindSettlement,
		ProviderReference: orderReference(p.OrderID),
		InvoiceRef:        p.MerchantReference,
		Amount:            p.TotalPrice,
		Status:            p.Status,
		Settled:           settled,
		Raw:               raw,
		Invalid:           invalid,
	}, nil
}

// ParseQliroValidation разбирает запрос order-validate.
func ParseQliroValidation(raw []byte) (Callback, error) {
	p, invalid := parseQliro(raw)
	if errors.Is(invalid, ErrCallbackMalformed) {
		return Callback{}, invalid
	}

	return Callback{
		Provider:          ProviderQliro,
		Kind:              KindValidation,
		ProviderReference: orderReference(p.OrderID),
		InvoiceRef:        p.MerchantReference,
		Amount:            p.TotalPrice,
		Raw:               raw,
		Invalid:           invalid,
	}, nil
}

func parseQliro(raw []byte) (qliroCallback, error) {
	var p qliroCallback
	err := decode(raw, &p)
	return p, err
}

func orderReference(orderID int64) string {
	if orderID <= 0 {
		return ""
	}
	return strconv.FormatInt(orderID, 10)
}

// decode разбирает JSON-тело. Пустое тело или не-JSON дают ErrCallbackMalformed;
// корректный JSON неподходящей формы даёт ErrCallbackUnroutable.
func decode(raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty body", ErrCallbackMalformed)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%w: body is not json", ErrCallbackMalformed)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCallbackUnroutable, err)
	}
	return nil
}
