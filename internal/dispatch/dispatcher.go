// Package dispatch fans out the side effects of a successful payment:
// customer aggregate upkeep, invoice generation, and receipt delivery.
// Everything here is best effort; the transaction status persisted by
// the reconciler is the authoritative outcome and nothing in this
// package can change it.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/malipo/orchestrator/internal/domain"
	"github.com/malipo/orchestrator/internal/invoice"
	"github.com/malipo/orchestrator/internal/notify"
	"github.com/malipo/orchestrator/internal/repository"
	"github.com/malipo/orchestrator/pkg/metrics"
)

// sideEffectTimeout bounds each individual side effect; past it the
// operation is abandoned and logged as failed, with no retry from here.
const sideEffectTimeout = 20 * time.Second

type Dispatcher struct {
	txns      *repository.TransactionRepo
	customers *repository.CustomerRepo
	renderer  invoice.Renderer
	storage   invoice.Storage
	sms       notify.SMSSender
	email     notify.EmailSender

	recMu sync.Mutex // serializes notification-history appends
}

func NewDispatcher(
	txns *repository.TransactionRepo,
	customers *repository.CustomerRepo,
	renderer invoice.Renderer,
	storage invoice.Storage,
	sms notify.SMSSender,
	email notify.EmailSender,
) *Dispatcher {
	return &Dispatcher{
		txns:      txns,
		customers: customers,
		renderer:  renderer,
		storage:   storage,
		sms:       sms,
		email:     email,
	}
}

// OnSuccess runs every side effect for a transaction that just reached
// success. The reconciler's conditional update guarantees this runs at
// most once per transaction, which is what keeps the customer counters
// honest.
func (d *Dispatcher) OnSuccess(ctx context.Context, tx *domain.Transaction) {
	if err := d.upsertCustomer(tx); err != nil {
		log.Printf("[dispatch] WARNING: customer upsert for %s failed: %v", tx.ID, err)
		metrics.IncSideEffectFailure("customer")
	}

	d.generateInvoice(ctx, tx)
	d.sendReceipts(ctx, tx)
}

func (d *Dispatcher) upsertCustomer(tx *domain.Transaction) error {
	if tx.PayerPhone == "" && tx.PayerEmail == "" {
		return nil
	}

	customer, err := d.customers.FindByIdentity(tx.OwnerUID, tx.PayerPhone, tx.PayerEmail)
	if err != nil {
		return fmt.Errorf("find customer: %w", err)
	}

	now := time.Now().UTC()
	if customer == nil {
		customer = &domain.Customer{
			ID:        uuid.NewString(),
			OwnerUID:  tx.OwnerUID,
			Name:      tx.PayerName,
			Phone:     tx.PayerPhone,
			Email:     tx.PayerEmail,
			CreatedAt: now,
		}
	}

	// Backfill contact fields the first transaction may have lacked.
	if customer.Name == "" {
		customer.Name = tx.PayerName
	}
	if customer.Phone == "" {
		customer.Phone = tx.PayerPhone
	}
	if customer.Email == "" {
		customer.Email = tx.PayerEmail
	}

	customer.RecordPayment(tx.Processor, tx.Amount, now)

	if err := d.customers.Save(customer); err != nil {
		return fmt.Errorf("save customer: %w", err)
	}
	return nil
}

func (d *Dispatcher) generateInvoice(ctx context.Context, tx *domain.Transaction) {
	if d.renderer == nil || d.storage == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	type rendered struct {
		url string
		err error
	}
	done := make(chan rendered, 1)
	go func() {
		data, err := d.renderer.Render(tx)
		if err != nil {
			done <- rendered{err: fmt.Errorf("render: %w", err)}
			return
		}
		url, err := d.storage.Store(data, "invoices/"+tx.ID+".pdf")
		done <- rendered{url: url, err: err}
	}()

	var url string
	var err error
	select {
	case r := <-done:
		url, err = r.url, r.err
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		log.Printf("[dispatch] WARNING: invoice generation for %s failed: %v", tx.ID, err)
		metrics.IncSideEffectFailure("invoice")
		d.record(tx.ID, "invoice", false, err.Error())
		return
	}

	if err := d.txns.SetInvoice(tx.ID, url); err != nil {
		log.Printf("[dispatch] WARNING: storing invoice url for %s failed: %v", tx.ID, err)
		metrics.IncSideEffectFailure("invoice")
		return
	}
	d.record(tx.ID, "invoice", true, url)
}

// sendReceipts attempts each populated channel independently and
// concurrently: a dead SMS provider never blocks the email receipt.
func (d *Dispatcher) sendReceipts(ctx context.Context, tx *domain.Transaction) {
	var wg sync.WaitGroup

	if tx.PayerPhone != "" && d.sms != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
			defer cancel()

			text := receiptSMS(tx)
			if err := d.sms.SendSMS(cctx, tx.PayerPhone, text); err != nil {
				log.Printf("[dispatch] WARNING: sms receipt for %s failed: %v", tx.ID, err)
				metrics.IncSideEffectFailure("sms")
				d.record(tx.ID, "sms", false, err.Error())
				return
			}
			d.record(tx.ID, "sms", true, "")
		}()
	}

	if tx.PayerEmail != "" && d.email != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
			defer cancel()

			subject, body := receiptEmail(tx)
			if err := d.email.SendEmail(cctx, tx.PayerEmail, subject, body); err != nil {
				log.Printf("[dispatch] WARNING: email receipt for %s failed: %v", tx.ID, err)
				metrics.IncSideEffectFailure("email")
				d.record(tx.ID, "email", false, err.Error())
				return
			}
			d.record(tx.ID, "email", true, "")
		}()
	}

	wg.Wait()
}

func (d *Dispatcher) record(txID, channel string, success bool, detail string) {
	d.recMu.Lock()
	defer d.recMu.Unlock()

	rec := domain.NotificationRecord{
		Channel:   channel,
		Success:   success,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if err := d.txns.AppendNotification(txID, rec); err != nil {
		log.Printf("[dispatch] WARNING: appending %s record for %s failed: %v", channel, txID, err)
	}
}

func receiptSMS(tx *domain.Transaction) string {
	msg := fmt.Sprintf("Payment of %s %s received", tx.Currency, tx.Amount.StringFixed(2))
	if tx.GatewayRef != "" {
		msg += ", ref " + tx.GatewayRef
	}
	return msg + ". Thank you."
}

func receiptEmail(tx *domain.Transaction) (subject, body string) {
	subject = fmt.Sprintf("Payment receipt %s", tx.ID)
	body = fmt.Sprintf(
		"Hello %s,\n\nWe received your payment of %s %s via %s.\n",
		orDefault(tx.PayerName, "there"), tx.Currency, tx.Amount.StringFixed(2), tx.Processor,
	)
	if tx.GatewayRef != "" {
		body += fmt.Sprintf("Reference: %s\n", tx.GatewayRef)
	}
	body += "\nThank you for your business."
	return subject, body
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
