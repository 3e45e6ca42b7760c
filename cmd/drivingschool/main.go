// Package main запускает HTTP-сервер счетов автошколы.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/drivingschool/internal/config"
	"github.com/mmeshcher/drivingschool/internal/handler"
	"github.com/mmeshcher/drivingschool/internal/invoicepdf"
	"github.com/mmeshcher/drivingschool/internal/mailer"
	"github.com/mmeshcher/drivingschool/internal/metrics"
	"github.com/mmeshcher/drivingschool/internal/middleware"
	"github.com/mmeshcher/drivingschool/internal/payment"
	"github.com/mmeshcher/drivingschool/internal/qliro"
	"github.com/mmeshcher/drivingschool/internal/repository"
	"github.com/mmeshcher/drivingschool/internal/service"
)

const invoiceIssuer = "Trafikskolan"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var mail service.Mailer = mailer.Disabled{}
	smtpMailer, err := mailer.NewSMTPMailer(cfg.SMTP)
	switch {
	case err == nil:
		mail = smtpMailer
	case errors.Is(err, mailer.ErrNotConfigured):
		sugar.Warn("smtp is not configured, invoice mails will fail")
	default:
		sugar.Fatalw("smtp initialization error", "error", err.Error())
	}

	var qliroClient service.QliroClient
	if cfg.Qliro.APIURL != "" {
		qliroClient = qliro.NewClient(cfg.Qliro.APIURL, cfg.Qliro.APIKey, cfg.Qliro.APISecret)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	svc := service.NewService(repo, mail, invoicepdf.NewRenderer(invoiceIssuer), qliroClient, logger, cfg.PublicURL)
	defer svc.Close()

	adapter := payment.NewAdapter(svc, logger)
	verifier := middleware.NewHMACVerifier(cfg.AuthSecret)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)

	h := handler.NewHandler(svc, adapter, logger, verifier, limiter)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting invoice server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
