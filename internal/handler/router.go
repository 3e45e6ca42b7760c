package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/drivingschool/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса счетов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(custommiddleware.Metrics)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/payments", func(r chi.Router) {
		r.Post("/qliro/order-validate", h.QliroOrderValidate)
		r.Post("/qliro/order-management-status", h.QliroOrderStatus)
		r.Post("/swish/callback", h.SwishCallback)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.limiter.Middleware)

		r.Get("/invoices", h.ListInvoices)
		r.Get("/invoices/{id}", h.GetInvoice)

		r.Route("/admin/invoices", func(r chi.Router) {
			r.Use(custommiddleware.RequireAdmin)

			r.Get("/", h.ListAllInvoices)
			r.Post("/", h.CreateInvoice)
			r.Post("/{id}/send", h.SendInvoice)
			r.Post("/{id}/pay", h.MarkAsPaid)
			r.Post("/{id}/remind", h.SendReminder)
			r.Post("/{id}/cancel", h.CancelInvoice)
			r.Post("/{id}/reconcile", h.Reconcile)
			r.Get("/{id}/pdf", h.InvoicePDF)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
