// Package mailer отправляет письма клиентам автошколы через SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/mmeshcher/drivingschool/internal/config"
)

// ErrNotConfigured возвращается, если SMTP-сервер не задан в конфигурации.
var ErrNotConfigured = errors.New("smtp delivery is not configured")

// SMTPMailer доставляет HTML-письма через SMTP-сервер. Повторных попыток не делает.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// NewSMTPMailer создаёт отправителя по параметрам cfg.
func NewSMTPMailer(cfg config.SMTP) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, ErrNotConfigured
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &SMTPMailer{client: client, from: cfg.From}, nil
}

// Send отправляет одно письмо с HTML-телом.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// Disabled используется, когда SMTP не настроен: любая отправка завершается ошибкой.
type Disabled struct{}

// Send всегда возвращает ErrNotConfigured.
func (Disabled) Send(context.Context, string, string, string) error {
	return ErrNotConfigured
}
