package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/drivingschool/internal/model"
	"github.com/mmeshcher/drivingschool/internal/service"
	"github.com/mmeshcher/drivingschool/internal/validation"
)

func invoiceID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// ListAllInvoices возвращает все счета для администратора.
func (h *Handler) ListAllInvoices(w http.ResponseWriter, r *http.Request) {
	status, ok := statusFilter(w, r)
	if !ok {
		return
	}

	invoices, err := h.service.ListInvoices(r.Context(), status)
	if err != nil {
		h.serviceError(w, err, "list invoices error")
		return
	}

	h.writeJSON(w, http.StatusOK, newInvoiceListResponse(invoices))
}

type createInvoiceRequest struct {
	CustomerID  int64           `json:"customerId"`
	Amount      decimal.Decimal `json:"amount"`
	DueDate     string          `json:"dueDate"`
	Description string          `json:"description"`
	BookingID   string          `json:"bookingId"`
}

// CreateInvoice создаёт черновик счёта.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	minor := req.Amount.Shift(2)
	if minor.IsNegative() || !minor.Equal(minor.Truncate(0)) || !minor.BigInt().IsInt64() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	dueDate, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	inv, err := h.service.CreateInvoice(r.Context(), service.NewInvoice{
		CustomerID:  req.CustomerID,
		AmountMinor: minor.IntPart(),
		DueDate:     dueDate,
		Description: req.Description,
		BookingID:   req.BookingID,
	})
	if err != nil {
		h.serviceError(w, err, "create invoice error", zap.Int64("customerID", req.CustomerID))
		return
	}

	h.writeJSON(w, http.StatusCreated, newInvoiceResponse(*inv))
}

// SendInvoice переводит черновик в статус sent.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	id := invoiceID(r)
	inv, err := h.service.SendInvoice(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "send invoice error", zap.String("invoiceID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newInvoiceResponse(*inv))
}

type markPaidRequest struct {
	PaymentMethod    string `json:"paymentMethod"`
	PaymentReference string `json:"paymentReference"`
}

// MarkAsPaid вручную отмечает счёт оплаченным.
func (h *Handler) MarkAsPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	method, err := model.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidPaymentReference(method, req.PaymentReference) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	id := invoiceID(r)
	inv, err := h.service.MarkAsPaid(r.Context(), id, method, req.PaymentReference)
	if err != nil {
		h.serviceError(w, err, "mark invoice paid error",
			zap.String("invoiceID", id),
			zap.String("method", string(method)),
			zap.String("reference", req.PaymentReference),
		)
		return
	}

	h.writeJSON(w, http.StatusOK, newInvoiceResponse(*inv))
}

// SendReminder отправляет клиенту напоминание об оплате.
func (h *Handler) SendReminder(w http.ResponseWriter, r *http.Request) {
	id := invoiceID(r)
	inv, err := h.service.SendReminder(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "send reminder error", zap.String("invoiceID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newInvoiceResponse(*inv))
}

// CancelInvoice отменяет неоплаченный счёт.
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	id := invoiceID(r)
	inv, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "cancel invoice error", zap.String("invoiceID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, newInvoiceResponse(*inv))
}

type reconcileRequest struct {
	QliroOrderID string `json:"qliroOrderId"`
}

// Reconcile сверяет счёт с состоянием заказа в Qliro.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id := invoiceID(r)
	inv, err := h.service.ReconcileQliro(r.Context(), id, req.QliroOrderID)
	if err != nil {
		h.serviceError(w, err, "reconcile invoice error", zap.String("invoiceID", id), zap.String("qliroOrderID", req.QliroOrderID))
		return
	}

	h.writeJSON(w, http.StatusOK, newInvoiceResponse(*inv))
}

// InvoicePDF отдаёт PDF-документ счёта.
func (h *Handler) InvoicePDF(w http.ResponseWriter, r *http.Request) {
	id := invoiceID(r)

	var buf bytes.Buffer
	if err := h.service.WritePDF(r.Context(), id, &buf); err != nil {
		h.serviceError(w, err, "render invoice pdf error", zap.String("invoiceID", id))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="invoice-%s.pdf"`, id))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Error("write invoice pdf error", zap.Error(err), zap.String("invoiceID", id))
	}
}
