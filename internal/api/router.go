package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malipo/orchestrator/internal/gateway"
	"github.com/malipo/orchestrator/internal/reconcile"
	"github.com/malipo/orchestrator/internal/reminder"
	"github.com/malipo/orchestrator/internal/repository"
)

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(
	registry *gateway.Registry,
	creds *repository.CredentialRepo,
	txns *repository.TransactionRepo,
	links *repository.LinkRepo,
	customers *repository.CustomerRepo,
	reconciler *reconcile.Service,
	scheduler *reminder.Scheduler,
) http.Handler {
	h := &Handlers{
		registry:   registry,
		creds:      creds,
		txns:       txns,
		links:      links,
		customers:  customers,
		reconciler: reconciler,
		scheduler:  scheduler,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Payments.
		r.Post("/payments/initiate", h.InitiatePayment)
		r.Post("/payments/query", h.QueryPayment)
		r.Post("/payments/capture", h.CapturePayment)

		// Gateway webhooks.
		r.Post("/callbacks/{gateway}/{transactionID}", h.GatewayCallback)

		// Reminders.
		r.Post("/reminders/check", h.CheckReminders)
		r.Post("/reminders/send", h.SendReminder)

		// Transactions.
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{id}", h.GetTransaction)

		// Customers.
		r.Get("/customers", h.ListCustomers)

		// Payment links.
		r.Post("/links", h.CreateLink)
		r.Post("/links/{slug}/paid", h.MarkLinkPaid)

		// Merchant gateway configuration.
		r.Put("/merchants/{merchantID}/credentials/{gateway}", h.SaveCredentials)
	})

	return r
}
