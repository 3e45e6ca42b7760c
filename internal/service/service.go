// Package service реализует жизненный цикл счетов автошколы.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/drivingschool/internal/metrics"
	"github.com/mmeshcher/drivingschool/internal/model"
	"github.com/mmeshcher/drivingschool/internal/qliro"
	"github.com/mmeshcher/drivingschool/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
// Все изменяющие методы выполняют условное обновление одной строки.
type Repository interface {
	Close() error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	CreateInvoice(ctx context.Context, inv model.Invoice) (*model.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	ListInvoicesByCustomer(ctx context.Context, customerID int64) ([]model.Invoice, error)
	ListInvoices(ctx context.Context) ([]model.Invoice, error)
	TransitionInvoice(ctx context.Context, id string, from []model.InvoiceStatus, to model.InvoiceStatus, at time.Time) (*model.Invoice, error)
	MarkInvoicePaid(ctx context.Context, id string, method model.PaymentMethod, reference string, paidAt time.Time) (*model.Invoice, error)
	IncrementReminders(ctx context.Context, id string, at time.Time) (*model.Invoice, error)
}

// Mailer доставляет письма клиентам.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Renderer формирует документ счёта.
type Renderer interface {
	Render(w io.Writer, inv model.Invoice, customer model.User) error
}

// QliroClient запрашивает состояние заказа в Qliro.
type QliroClient interface {
	GetOrder(ctx context.Context, orderID string) (*qliro.Order, error)
}

// Service содержит бизнес-логику жизненного цикла счетов.
type Service struct {
	repo      Repository
	mailer    Mailer
	renderer  Renderer
	qliro     QliroClient
	logger    *zap.Logger
	publicURL string
	now       func() time.Time
}

// NewService создаёт сервис счетов. qliroClient может быть nil, если сверка с Qliro не настроена.
func NewService(repo Repository, mailer Mailer, renderer Renderer, qliroClient QliroClient, logger *zap.Logger, publicURL string) *Service {
	return &Service{
		repo:      repo,
		mailer:    mailer,
		renderer:  renderer,
		qliro:     qliroClient,
		logger:    logger,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// NewInvoice содержит данные для создания черновика счёта.
type NewInvoice struct {
	CustomerID  int64
	AmountMinor int64
	DueDate     time.Time
	Description string
	BookingID   string
}

// CreateInvoice создаёт счёт в статусе draft.
func (s *Service) CreateInvoice(ctx context.Context, in NewInvoice) (*model.Invoice, error) {
	if in.CustomerID <= 0 {
		return nil, fmt.Errorf("%w: customer id must be positive", ErrInvalidInput)
	}
	if in.AmountMinor < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	if in.DueDate.IsZero() {
		return nil, fmt.Errorf("%w: due date is required", ErrInvalidInput)
	}

	inv, err := s.repo.CreateInvoice(ctx, model.Invoice{
		ID:          uuid.NewString(),
		CustomerID:  in.CustomerID,
		BookingID:   in.BookingID,
		Description: in.Description,
		AmountMinor: in.AmountMinor,
		Status:      model.InvoiceStatusDraft,
		DueDate:     in.DueDate,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: unknown customer %d", ErrInvalidInput, in.CustomerID)
		}
		return nil, err
	}

	metrics.InvoiceTransitionsTotal.WithLabelValues(string(model.InvoiceStatusDraft)).Inc()
	return s.effective(inv), nil
}

// GetInvoice возвращает счёт по идентификатору.
func (s *Service) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.effective(inv), nil
}

// GetCustomerInvoice возвращает счёт, только если он принадлежит клиенту customerID.
func (s *Service) GetCustomerInvoice(ctx context.Context, customerID int64, id string) (*model.Invoice, error) {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.CustomerID != customerID {
		return nil, fmt.Errorf("%w: invoice %s", ErrNotFound, id)
	}
	return inv, nil
}

// ListForCustomer возвращает счета клиента. Фильтр применяется к статусу с учётом просрочки.
func (s *Service) ListForCustomer(ctx context.Context, customerID int64, status *model.InvoiceStatus) ([]model.Invoice, error) {
	invoices, err := s.repo.ListInvoicesByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.filter(invoices, status), nil
}

// ListInvoices возвращает все счета с необязательным фильтром по статусу.
func (s *Service) ListInvoices(ctx context.Context, status *model.InvoiceStatus) ([]model.Invoice, error) {
	invoices, err := s.repo.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	return s.filter(invoices, status), nil
}

// SendInvoice переводит черновик в статус sent и уведомляет клиента.
// Сбой отправки письма не откатывает переход.
func (s *Service) SendInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	inv, err := s.repo.TransitionInvoice(ctx, id,
		[]model.InvoiceStatus{model.InvoiceStatusDraft}, model.InvoiceStatusSent, s.now().UTC())
	if errors.Is(err, repository.ErrStatusMismatch) {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status.Open() {
			return s.effective(current), nil
		}
		return nil, fmt.Errorf("%w: cannot send %s invoice", ErrConflict, current.Status)
	}
	if err != nil {
		return nil, err
	}

	metrics.InvoiceTransitionsTotal.WithLabelValues(string(model.InvoiceStatusSent)).Inc()
	s.logger.Info("invoice sent", zap.String("invoice", id), zap.Int64("customerID", inv.CustomerID))

	if err := s.notify(ctx, *inv); err != nil {
		s.logger.Warn("invoice notice not delivered", zap.String("invoice", id), zap.Error(err))
	}

	return s.effective(inv), nil
}

// MarkAsPaid фиксирует оплату счёта. Повтор с той же ссылкой ничего не меняет;
// попытка перезаписать ссылку оплаченного счёта возвращает ErrConflict.
func (s *Service) MarkAsPaid(ctx context.Context, id string, method model.PaymentMethod, reference string) (*model.Invoice, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}
	if reference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", ErrInvalidInput)
	}
	if _, err := model.ParsePaymentMethod(string(method)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	inv, err := s.repo.MarkInvoicePaid(ctx, id, method, reference, s.now().UTC())
	switch {
	case err == nil:
		metrics.InvoiceTransitionsTotal.WithLabelValues(string(model.InvoiceStatusPaid)).Inc()
		s.logger.Info("invoice paid",
			zap.String("invoice", id),
			zap.String("method", string(method)),
			zap.String("reference", reference),
		)
		return s.effective(inv), nil
	case errors.Is(err, repository.ErrPaymentReferenceTaken):
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	case !errors.Is(err, repository.ErrStatusMismatch):
		return nil, err
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status != model.InvoiceStatusPaid {
		return nil, fmt.Errorf("%w: cannot pay %s invoice", ErrConflict, current.Status)
	}
	if current.PaymentMethod == method && current.PaymentReference == reference {
		return s.effective(current), nil
	}
	return nil, fmt.Errorf("%w: invoice %s already paid with reference %s", ErrConflict, id, current.PaymentReference)
}

// Cancel аннулирует счёт. Оплаченный счёт аннулировать нельзя.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Invoice, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	inv, err := s.repo.TransitionInvoice(ctx, id,
		[]model.InvoiceStatus{model.InvoiceStatusDraft, model.InvoiceStatusSent, model.InvoiceStatusOverdue},
		model.InvoiceStatusCancelled, s.now().UTC())
	if errors.Is(err, repository.ErrStatusMismatch) {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == model.InvoiceStatusCancelled {
			return s.effective(current), nil
		}
		return nil, fmt.Errorf("%w: cannot cancel %s invoice", ErrConflict, current.Status)
	}
	if err != nil {
		return nil, err
	}

	metrics.InvoiceTransitionsTotal.WithLabelValues(string(model.InvoiceStatusCancelled)).Inc()
	s.logger.Info("invoice cancelled", zap.String("invoice", id))

	return s.effective(inv), nil
}

// ReconcileQliro повторно запрашивает заказ в Qliro и, если он оплачен, отмечает счёт оплаченным.
func (s *Service) ReconcileQliro(ctx context.Context, id, orderID string) (*model.Invoice, error) {
	if s.qliro == nil {
		return nil, ErrProviderUnavailable
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: qliro order id is required", ErrInvalidInput)
	}

	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	order, err := s.qliro.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, qliro.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, fmt.Errorf("query qliro order %s: %w", orderID, err)
	}

	ref, err := normalizeID(order.MerchantReference)
	if err != nil || ref != inv.ID {
		return nil, fmt.Errorf("%w: qliro order %s belongs to %q", ErrConflict, orderID, order.MerchantReference)
	}
	if !order.Settled() {
		return nil, fmt.Errorf("%w: qliro order %s is not settled", ErrConflict, orderID)
	}
	if !order.TotalPrice.Shift(2).Equal(decimal.NewFromInt(inv.AmountMinor)) {
		return nil, fmt.Errorf("%w: qliro order %s amount %s does not match invoice", ErrConflict, orderID, order.TotalPrice)
	}

	return s.MarkAsPaid(ctx, inv.ID, model.PaymentMethodQliro, strconv.FormatInt(order.OrderID, 10))
}

// WritePDF записывает PDF-документ счёта в w.
func (s *Service) WritePDF(ctx context.Context, id string, w io.Writer) error {
	inv, err := s.GetInvoice(ctx, id)
	if err != nil {
		return err
	}

	customer, err := s.customer(ctx, inv.CustomerID)
	if err != nil {
		return err
	}

	if err := s.renderer.Render(w, *inv, *customer); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*model.Invoice, error) {
	id, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			return nil, fmt.Errorf("%w: invoice %s", ErrNotFound, id)
		}
		return nil, err
	}
	return inv, nil
}

func (s *Service) customer(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: customer %d", ErrNotFound, id)
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) effective(inv *model.Invoice) *model.Invoice {
	res := inv.WithEffectiveStatus(s.now())
	return &res
}

func (s *Service) filter(invoices []model.Invoice, status *model.InvoiceStatus) []model.Invoice {
	now := s.now()
	res := make([]model.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		inv = inv.WithEffectiveStatus(now)
		if status != nil && inv.Status != *status {
			continue
		}
		res = append(res, inv)
	}
	return res
}

func (s *Service) payLink(id string) string {
	return s.publicURL + "/invoices/" + id + "/pay"
}

// normalizeID приводит идентификатор счёта к каноническому виду UUID.
// Swish ограничивает длину ссылки, поэтому допускается форма без дефисов.
func normalizeID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%w: invoice %q", ErrNotFound, id)
	}
	return parsed.String(), nil
}
