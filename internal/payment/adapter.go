package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/drivingschool/internal/metrics"
	"github.com/mmeshcher/drivingschool/internal/model"
)

var (
	// ErrAmountMismatch возвращается, если сумма в уведомлении не совпадает с суммой счёта.
	ErrAmountMismatch = errors.New("callback amount does not match invoice")
	// ErrNotPayable возвращается при проверке заказа для счёта, который не ожидает оплаты.
	ErrNotPayable = errors.New("invoice is not awaiting payment")
)

// Engine описывает операции жизненного цикла счёта, нужные адаптеру.
type Engine interface {
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	MarkAsPaid(ctx context.Context, id string, method model.PaymentMethod, reference string) (*model.Invoice, error)
}

// Outcome описывает итог обработки уведомления для журналов и метрик.
type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeValidated Outcome = "validated"
	OutcomeFailed    Outcome = "failed"
)

// Result содержит внутренний результат обработки уведомления.
// Ошибка здесь не влияет на ответ провайдеру: она журналируется и разбирается вручную.
type Result struct {
	Invoice *model.Invoice
	Outcome Outcome
	Err     error
}

// Adapter передаёт разобранные уведомления в движок счетов.
type Adapter struct {
	engine Engine
	logger *zap.Logger
}

// NewAdapter создаёт адаптер уведомлений провайдеров.
func NewAdapter(engine Engine, logger *zap.Logger) *Adapter {
	return &Adapter{engine: engine, logger: logger}
}

// Process применяет уведомление cb к счёту, на который оно ссылается.
func (a *Adapter) Process(ctx context.Context, cb Callback) Result {
	res := a.process(ctx, cb)

	metrics.PaymentCallbacksTotal.WithLabelValues(string(cb.Provider), string(res.Outcome)).Inc()

	fields := []zap.Field{
		zap.String("provider", string(cb.Provider)),
		zap.String("providerReference", cb.ProviderReference),
		zap.String("invoiceRef", cb.InvoiceRef),
		zap.String("status", cb.Status),
		zap.String("outcome", string(res.Outcome)),
	}
	if res.Err != nil {
		a.logger.Error("payment callback not applied", append(fields, zap.Error(res.Err), zap.ByteString("payload", cb.Raw))...)
	} else {
		a.logger.Info("payment callback processed", fields...)
	}

	return res
}

func (a *Adapter) process(ctx context.Context, cb Callback) Result {
	if cb.Invalid != nil {
		return Result{Outcome: OutcomeFailed, Err: cb.Invalid}
	}
	if cb.InvoiceRef == "" || cb.ProviderReference == "" {
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: invoice ref %q, provider ref %q", ErrCallbackUnroutable, cb.InvoiceRef, cb.ProviderReference)}
	}

	inv, err := a.engine.GetInvoice(ctx, cb.InvoiceRef)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	if cb.Amount != nil && !amountMatches(*cb.Amount, inv.AmountMinor) {
		return Result{
			Invoice: inv,
			Outcome: OutcomeFailed,
			Err:     fmt.Errorf("%w: got %s, invoice %d minor units", ErrAmountMismatch, cb.Amount.String(), inv.AmountMinor),
		}
	}

	switch cb.Kind {
	case KindValidation:
		if !inv.Status.Open() {
			return Result{Invoice: inv, Outcome: OutcomeFailed, Err: fmt.Errorf("%w: status %s", ErrNotPayable, inv.Status)}
		}
		return Result{Invoice: inv, Outcome: OutcomeValidated}
	case KindSettlement:
		if !cb.Settled {
			return Result{Invoice: inv, Outcome: OutcomeIgnored}
		}
		paid, err := a.engine.MarkAsPaid(ctx, inv.ID, cb.Provider.Method(), cb.ProviderReference)
		if err != nil {
			return Result{Invoice: inv, Outcome: OutcomeFailed, Err: err}
		}
		return Result{Invoice: paid, Outcome: OutcomePaid}
	}

	return Result{Invoice: inv, Outcome: OutcomeFailed, Err: fmt.Errorf("unknown callback kind %d", cb.Kind)}
}

func amountMatches(amount decimal.Decimal, minor int64) bool {
	return amount.Shift(2).Equal(decimal.NewFromInt(minor))
}
