package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/drivingschool/internal/mailer"
	"github.com/mmeshcher/drivingschool/internal/metrics"
	"github.com/mmeshcher/drivingschool/internal/model"
	"github.com/mmeshcher/drivingschool/internal/repository"
)

// SendReminder отправляет клиенту напоминание об оплате.
// Для оплаченного или аннулированного счёта ничего не делает и возвращает его без изменений.
// Счётчик напоминаний увеличивается только после успешной доставки письма.
func (s *Service) SendReminder(ctx context.Context, id string) (*model.Invoice, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch status := inv.EffectiveStatus(s.now()); status {
	case model.InvoiceStatusPaid, model.InvoiceStatusCancelled:
		metrics.RemindersTotal.WithLabelValues("skipped").Inc()
		return s.effective(inv), nil
	case model.InvoiceStatusDraft:
		return nil, fmt.Errorf("%w: cannot remind %s invoice", ErrConflict, status)
	}

	customer, err := s.customer(ctx, inv.CustomerID)
	if err != nil {
		return nil, err
	}

	msg, err := mailer.ReminderMessage(s.mailData(*inv, *customer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	if err := s.mailer.Send(ctx, customer.Email, msg.Subject, msg.HTML); err != nil {
		metrics.RemindersTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("reminder not delivered", zap.String("invoice", inv.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	metrics.RemindersTotal.WithLabelValues("delivered").Inc()

	updated, err := s.repo.IncrementReminders(ctx, inv.ID, s.now().UTC())
	if errors.Is(err, repository.ErrStatusMismatch) {
		// Счёт закрыли между чтением и обновлением; письмо уже ушло.
		return s.GetInvoice(ctx, inv.ID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("reminder sent",
		zap.String("invoice", inv.ID),
		zap.Int("remindersSent", updated.RemindersSent),
	)

	return s.effective(updated), nil
}

// notify отправляет письмо о новом счёте.
func (s *Service) notify(ctx context.Context, inv model.Invoice) error {
	customer, err := s.customer(ctx, inv.CustomerID)
	if err != nil {
		return err
	}

	msg, err := mailer.NoticeMessage(s.mailData(inv, *customer))
	if err != nil {
		return err
	}

	return s.mailer.Send(ctx, customer.Email, msg.Subject, msg.HTML)
}

func (s *Service) mailData(inv model.Invoice, customer model.User) mailer.InvoiceMail {
	return mailer.InvoiceMail{
		CustomerName: customer.Name,
		InvoiceID:    inv.ID,
		Description:  inv.Description,
		AmountMinor:  inv.AmountMinor,
		DueDate:      inv.DueDate,
		PayLink:      s.payLink(inv.ID),
	}
}
