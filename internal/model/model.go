// Package model содержит доменные сущности сервиса автошколы.
package model

import (
	"fmt"
	"time"
)

// Currency задаёт единственную валюту счетов.
const Currency = "SEK"

// Role описывает роль пользователя. Набор ролей закрыт.
type Role uint8

const (
	RoleStudent Role = iota + 1
	RoleTeacher
	RoleAdmin
)

// ParseRole разбирает строковое представление роли.
func ParseRole(s string) (Role, error) {
	switch s {
	case "student":
		return RoleStudent, nil
	case "teacher":
		return RoleTeacher, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleTeacher:
		return "teacher"
	case RoleAdmin:
		return "admin"
	}
	return "unknown"
}

// CanAdminister сообщает, разрешены ли роли операции администратора.
func (r Role) CanAdminister() bool {
	switch r {
	case RoleAdmin:
		return true
	case RoleTeacher, RoleStudent:
		return false
	}
	return false
}

// User представляет пользователя, которому выставляются счета.
type User struct {
	ID    int64
	Email string
	Name  string
	Role  Role
}

// InvoiceStatus описывает состояние счёта.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// ParseInvoiceStatus проверяет строковое значение статуса.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch st := InvoiceStatus(s); st {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown invoice status %q", s)
}

// Open сообщает, ожидает ли счёт оплаты.
func (s InvoiceStatus) Open() bool {
	return s == InvoiceStatusSent || s == InvoiceStatusOverdue
}

// PaymentMethod описывает способ оплаты счёта.
type PaymentMethod string

const (
	PaymentMethodSwish    PaymentMethod = "swish"
	PaymentMethodQliro    PaymentMethod = "qliro"
	PaymentMethodBankgiro PaymentMethod = "bankgiro"
	PaymentMethodManual   PaymentMethod = "manual"
)

// ParsePaymentMethod проверяет строковое значение способа оплаты.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PaymentMethodSwish, PaymentMethodQliro, PaymentMethodBankgiro, PaymentMethodManual:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// Invoice описывает счёт клиента автошколы.
// Сумма хранится в эре (минимальных единицах валюты).
type Invoice struct {
	ID               string
	CustomerID       int64
	BookingID        string
	Description      string
	AmountMinor      int64
	Status           InvoiceStatus
	DueDate          time.Time
	PaymentMethod    PaymentMethod
	PaymentReference string
	PaidAt           *time.Time
	SentAt           *time.Time
	CancelledAt      *time.Time
	RemindersSent    int
	LastRemindedAt   *time.Time
	CreatedAt        time.Time
}

// EffectiveStatus возвращает статус с учётом просрочки на момент now.
// Отправленный счёт считается просроченным со дня, следующего за сроком оплаты.
func (inv Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if inv.Status != InvoiceStatusSent || inv.DueDate.IsZero() {
		return inv.Status
	}

	y, m, d := inv.DueDate.Date()
	overdueFrom := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	if !now.UTC().Before(overdueFrom) {
		return InvoiceStatusOverdue
	}
	return inv.Status
}

// WithEffectiveStatus возвращает копию счёта с вычисленным статусом.
func (inv Invoice) WithEffectiveStatus(now time.Time) Invoice {
	inv.Status = inv.EffectiveStatus(now)
	return inv
}
