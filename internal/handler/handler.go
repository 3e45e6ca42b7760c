// Package handler содержит HTTP-обработчики API счетов автошколы.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/drivingschool/internal/middleware"
	"github.com/mmeshcher/drivingschool/internal/model"
	"github.com/mmeshcher/drivingschool/internal/payment"
	"github.com/mmeshcher/drivingschool/internal/service"
)

const dateLayout = "2006-01-02"

// Service определяет контракт движка счетов, используемого HTTP-обработчиками.
type Service interface {
	ListForCustomer(ctx context.Context, customerID int64, status *model.InvoiceStatus) ([]model.Invoice, error)
	GetCustomerInvoice(ctx context.Context, customerID int64, id string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, status *model.InvoiceStatus) ([]model.Invoice, error)
	CreateInvoice(ctx context.Context, in service.NewInvoice) (*model.Invoice, error)
	SendInvoice(ctx context.Context, id string) (*model.Invoice, error)
	MarkAsPaid(ctx context.Context, id string, method model.PaymentMethod, reference string) (*model.Invoice, error)
	SendReminder(ctx context.Context, id string) (*model.Invoice, error)
	Cancel(ctx context.Context, id string) (*model.Invoice, error)
	ReconcileQliro(ctx context.Context, id, orderID string) (*model.Invoice, error)
	WritePDF(ctx context.Context, id string, w io.Writer) error
}

// CallbackProcessor применяет разобранные уведомления платёжных провайдеров.
type CallbackProcessor interface {
	Process(ctx context.Context, cb payment.Callback) payment.Result
}

// Handler реализует HTTP-обработчики API счетов.
type Handler struct {
	service        Service
	callbacks      CallbackProcessor
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	limiter        *middleware.RateLimiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// verifier проверяет токены сессии, выпущенные веб-приложением.
func NewHandler(s Service, callbacks CallbackProcessor, logger *zap.Logger, verifier middleware.Verifier, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		service:        s,
		callbacks:      callbacks,
		logger:         logger,
		authMiddleware: middleware.NewAuthMiddleware(verifier),
		limiter:        limiter,
	}
}

type invoiceResponse struct {
	ID               string  `json:"id"`
	CustomerID       int64   `json:"customerId"`
	BookingID        string  `json:"bookingId,omitempty"`
	Description      string  `json:"description,omitempty"`
	Amount           string  `json:"amount"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
	DueDate          string  `json:"dueDate"`
	PaymentMethod    string  `json:"paymentMethod,omitempty"`
	PaymentReference string  `json:"paymentReference,omitempty"`
	PaidAt           *string `json:"paidAt,omitempty"`
	SentAt           *string `json:"sentAt,omitempty"`
	CancelledAt      *string `json:"cancelledAt,omitempty"`
	RemindersSent    int     `json:"remindersSent"`
	LastRemindedAt   *string `json:"lastRemindedAt,omitempty"`
	CreatedAt        string  `json:"createdAt"`
}

func newInvoiceResponse(inv model.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:               inv.ID,
		CustomerID:       inv.CustomerID,
		BookingID:        inv.BookingID,
		Description:      inv.Description,
		Amount:           decimal.New(inv.AmountMinor, -2).StringFixed(2),
		Currency:         model.Currency,
		Status:           string(inv.Status),
		DueDate:          inv.DueDate.Format(dateLayout),
		PaymentMethod:    string(inv.PaymentMethod),
		PaymentReference: inv.PaymentReference,
		PaidAt:           formatTime(inv.PaidAt),
		SentAt:           formatTime(inv.SentAt),
		CancelledAt:      formatTime(inv.CancelledAt),
		RemindersSent:    inv.RemindersSent,
		LastRemindedAt:   formatTime(inv.LastRemindedAt),
		CreatedAt:        inv.CreatedAt.Format(time.RFC3339),
	}
}

func newInvoiceListResponse(invoices []model.Invoice) []invoiceResponse {
	resp := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		resp = append(resp, newInvoiceResponse(inv))
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// ListInvoices возвращает счета текущего пользователя, при необходимости отфильтрованные по статусу.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	status, ok := statusFilter(w, r)
	if !ok {
		return
	}

	invoices, err := h.service.ListForCustomer(r.Context(), identity.UserID, status)
	if err != nil {
		h.serviceError(w, err, "list customer invoices error", zap.Int64("userID", identity.UserID))
		return
	}

	h.writeJSON(w, http.StatusOK, newInvoiceListResponse(invoices))
}

// GetInvoice возвращает один счёт текущего пользователя.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id := invoiceID(r)
	inv, err := h.service.GetCustomerInvoice(r.Context(), identity.UserID, id)
	if err != nil {
		h.serviceError(w, err, "get customer invoice error", zap.Int64("userID", identity.UserID), zap.String("invoiceID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newInvoiceResponse(*inv))
}

func statusFilter(w http.ResponseWriter, r *http.Request) (*model.InvoiceStatus, bool) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, true
	}

	status, err := model.ParseInvoiceStatus(raw)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return nil, false
	}
	return &status, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// serviceError переводит ошибку движка счетов в HTTP-статус.
func (h *Handler) serviceError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	var status int
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrProviderUnavailable):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.logger.Debug(msg, append(fields, zap.Error(err))...)
	http.Error(w, http.StatusText(status), status)
}
