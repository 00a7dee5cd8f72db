package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/malipo/orchestrator/internal/api"
	"github.com/malipo/orchestrator/internal/dispatch"
	"github.com/malipo/orchestrator/internal/events"
	"github.com/malipo/orchestrator/internal/gateway"
	"github.com/malipo/orchestrator/internal/invoice"
	"github.com/malipo/orchestrator/internal/notify"
	"github.com/malipo/orchestrator/internal/reconcile"
	"github.com/malipo/orchestrator/internal/reminder"
	"github.com/malipo/orchestrator/internal/repository"
)

func main() {
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "malipo.db")

	log.Printf("Initializing database at %s", dbPath)
	db, err := repository.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to init DB: %v", err)
	}
	defer db.Close()

	// Create repositories.
	txnRepo := repository.NewTransactionRepo(db)
	linkRepo := repository.NewLinkRepo(db)
	customerRepo := repository.NewCustomerRepo(db)
	credRepo := repository.NewCredentialRepo(db)

	// Gateway adapters. The callback URL gets the transaction id
	// appended per request.
	callbackBase := getEnv("CALLBACK_BASE_URL", "http://localhost:"+port) + "/api/v1/callbacks"
	registry := gateway.NewRegistry(
		gateway.NewMpesa(gateway.MpesaConfig{
			BaseURL:     getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			CallbackURL: callbackBase + "/mpesa",
		}),
		gateway.NewStripe(gateway.StripeConfig{
			BaseURL: getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		}),
		gateway.NewPaystack(gateway.PaystackConfig{
			BaseURL:     getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			CallbackURL: getEnv("PAYSTACK_CALLBACK_URL", ""),
		}),
		gateway.NewPaypal(gateway.PaypalConfig{
			BaseURL: getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		}),
	)

	// Notification collaborators; no-ops when unconfigured.
	var sms notify.SMSSender = notify.NoopSMS{}
	if endpoint := os.Getenv("SMS_ENDPOINT"); endpoint != "" {
		sms = notify.NewHTTPSMS(endpoint, os.Getenv("SMS_API_KEY"), getEnv("SMS_SENDER_ID", "MALIPO"))
	}
	var email notify.EmailSender = notify.NoopEmail{}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		email = notify.NewSMTPEmail(host, getEnv("SMTP_PORT", "587"),
			os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"),
			getEnv("SMTP_FROM", "receipts@malipo.local"))
	}

	// Invoice rendering and storage.
	renderer := invoice.NewPDFRenderer(getEnv("INVOICE_BUSINESS_NAME", ""))
	storage := invoice.NewLocalStorage(getEnv("INVOICE_DIR", "invoices"),
		getEnv("INVOICE_BASE_URL", "http://localhost:"+port+"/invoices"))

	// Event publishing; nil when no brokers configured.
	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = strings.Split(v, ",")
	}
	publisher := events.NewPublisher(brokers, getEnv("KAFKA_TOPIC", "payments.transactions"))
	defer publisher.Close()

	// Core services.
	dispatcher := dispatch.NewDispatcher(txnRepo, customerRepo, renderer, storage, sms, email)
	reconciler := reconcile.NewService(txnRepo, dispatcher, publisher)
	linkBase := getEnv("LINK_BASE_URL", "http://localhost:"+port+"/pay")
	scheduler := reminder.NewScheduler(linkRepo, sms, reminderInterval(), linkBase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go scheduler.Start(ctx)

	router := api.NewRouter(registry, credRepo, txnRepo, linkRepo, customerRepo, reconciler, scheduler)
	handler := cors.AllowAll().Handler(router)

	server := &http.Server{Addr: ":" + port, Handler: handler}

	go func() {
		log.Printf("Malipo Payment Orchestrator")
		log.Printf("Listening on http://localhost:%s", port)
		log.Printf("API base: http://localhost:%s/api/v1", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING: shutdown: %v", err)
	}
}

func getEnv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// reminderInterval returns the sweep interval from REMINDER_INTERVAL
// (Go duration syntax), defaulting to one hour.
func reminderInterval() time.Duration {
	if v := os.Getenv("REMINDER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return time.Hour
}
