// Package repository содержит реализацию хранилища счетов в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/drivingschool/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvoiceNotFound возвращается, если счёт не найден.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrStatusMismatch возвращается, если условное обновление не затронуло строку:
	// счёт существует, но находится в неподходящем статусе.
	ErrStatusMismatch = errors.New("invoice status does not allow update")
	// ErrPaymentReferenceTaken возвращается, если ссылка на платёж уже закреплена за другим счётом.
	ErrPaymentReferenceTaken = errors.New("payment reference already used")
)

const invoiceColumns = `id::text, customer_id, booking_id, description, amount, status, due_date,
	payment_method, payment_reference, paid_at, sent_at, cancelled_at,
	reminders_sent, last_reminded_at, created_at`

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, delays: retryDelays}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сериализационных конфликтах, дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, role FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.Name, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	u.Role, err = model.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}

	return &u, nil
}

// CreateInvoice сохраняет новый счёт.
func (r *PostgresRepository) CreateInvoice(ctx context.Context, inv model.Invoice) (*model.Invoice, error) {
	var created *model.Invoice
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`INSERT INTO invoices (id, customer_id, booking_id, description, amount, status, due_date, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+invoiceColumns,
			inv.ID, inv.CustomerID, nullString(inv.BookingID), inv.Description,
			inv.AmountMinor, string(inv.Status), inv.DueDate, inv.CreatedAt,
		)
		var err error
		created, err = scanInvoice(row)
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: %d", ErrUserNotFound, inv.CustomerID)
		}
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return created, nil
}

// GetInvoice возвращает счёт по идентификатору.
func (r *PostgresRepository) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// ListInvoicesByCustomer возвращает счета клиента в порядке создания.
func (r *PostgresRepository) ListInvoicesByCustomer(ctx context.Context, customerID int64) ([]model.Invoice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE customer_id = $1
		 ORDER BY created_at, id`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoices: %w", err)
	}
	return collectInvoices(rows)
}

// ListInvoices возвращает все счета в порядке создания.
func (r *PostgresRepository) ListInvoices(ctx context.Context) ([]model.Invoice, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select invoices: %w", err)
	}
	return collectInvoices(rows)
}

// TransitionInvoice переводит счёт в статус to, только если текущий статус входит в from.
func (r *PostgresRepository) TransitionInvoice(ctx context.Context, id string, from []model.InvoiceStatus, to model.InvoiceStatus, at time.Time) (*model.Invoice, error) {
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}

	var updated *model.Invoice
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`UPDATE invoices
			 SET status = $2::text,
			     sent_at = CASE WHEN $2::text = 'sent' THEN $3 ELSE sent_at END,
			     cancelled_at = CASE WHEN $2::text = 'cancelled' THEN $3 ELSE cancelled_at END
			 WHERE id = $1 AND status = ANY($4)
			 RETURNING `+invoiceColumns,
			id, string(to), at, allowed,
		)
		var err error
		updated, err = scanInvoice(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("transition invoice: %w", err)
	}
	return updated, nil
}

// MarkInvoicePaid атомарно переводит открытый счёт в статус paid вместе со способом и ссылкой оплаты.
func (r *PostgresRepository) MarkInvoicePaid(ctx context.Context, id string, method model.PaymentMethod, reference string, paidAt time.Time) (*model.Invoice, error) {
	var updated *model.Invoice
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`UPDATE invoices
			 SET status = 'paid', payment_method = $2, payment_reference = $3, paid_at = $4
			 WHERE id = $1 AND status IN ('sent', 'overdue')
			 RETURNING `+invoiceColumns,
			id, string(method), reference, paidAt,
		)
		var err error
		updated, err = scanInvoice(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusMismatch
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrPaymentReferenceTaken, method, reference)
		}
		return nil, fmt.Errorf("mark invoice paid: %w", err)
	}
	return updated, nil
}

// IncrementReminders увеличивает счётчик напоминаний открытого счёта.
func (r *PostgresRepository) IncrementReminders(ctx context.Context, id string, at time.Time) (*model.Invoice, error) {
	var updated *model.Invoice
	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`UPDATE invoices
			 SET reminders_sent = reminders_sent + 1, last_reminded_at = $2
			 WHERE id = $1 AND status IN ('sent', 'overdue')
			 RETURNING `+invoiceColumns,
			id, at,
		)
		var err error
		updated, err = scanInvoice(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("increment reminders: %w", err)
	}
	return updated, nil
}

func collectInvoices(rows pgx.Rows) ([]model.Invoice, error) {
	defer rows.Close()

	var res []model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		res = append(res, *inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanInvoice(row pgx.Row) (*model.Invoice, error) {
	var (
		inv       model.Invoice
		bookingID *string
		status    string
		method    *string
		reference *string
	)

	err := row.Scan(
		&inv.ID, &inv.CustomerID, &bookingID, &inv.Description, &inv.AmountMinor, &status, &inv.DueDate,
		&method, &reference, &inv.PaidAt, &inv.SentAt, &inv.CancelledAt,
		&inv.RemindersSent, &inv.LastRemindedAt, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Status = model.InvoiceStatus(status)
	if bookingID != nil {
		inv.BookingID = *bookingID
	}
	if method != nil {
		inv.PaymentMethod = model.PaymentMethod(*method)
	}
	if reference != nil {
		inv.PaymentReference = *reference
	}

	return &inv, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
