package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusSuccess  TransactionStatus = "success"
	StatusFailed   TransactionStatus = "failed"
	StatusCanceled TransactionStatus = "canceled"
)

// Terminal reports whether no further status transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled
}

type Processor string

const (
	ProcessorMpesa    Processor = "mpesa"
	ProcessorStripe   Processor = "stripe"
	ProcessorPaystack Processor = "paystack"
	ProcessorPaypal   Processor = "paypal"
)

// Processors lists every supported gateway in stable order.
func Processors() []Processor {
	return []Processor{ProcessorMpesa, ProcessorStripe, ProcessorPaystack, ProcessorPaypal}
}

// NotificationRecord is one entry in a transaction's append-only
// notification history.
type NotificationRecord struct {
	Channel   string    `json:"channel"` // sms | email | invoice
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transaction is one payment attempt. Its ID doubles as the
// client-supplied reference/order id sent to the gateway, which is how
// callbacks are correlated back to it.
type Transaction struct {
	ID              string               `json:"id"`
	OwnerUID        string               `json:"owner_uid"`
	Processor       Processor            `json:"payment_processor"`
	Amount          decimal.Decimal      `json:"amount"`
	Currency        string               `json:"currency"`
	Description     string               `json:"description,omitempty"`
	PayerPhone      string               `json:"payer_phone,omitempty"`
	PayerEmail      string               `json:"payer_email,omitempty"`
	PayerName       string               `json:"payer_name,omitempty"`
	GatewayHandle   string               `json:"gateway_handle,omitempty"`
	GatewayRef      string               `json:"gateway_ref,omitempty"` // receipt / charge / capture id
	Status          TransactionStatus    `json:"status"`
	FailureReason   string               `json:"failure_reason,omitempty"`
	CallbackPayload []byte               `json:"callback_payload,omitempty"`
	InvoiceURL      string               `json:"invoice_url,omitempty"`
	HasInvoice      bool                 `json:"has_invoice"`
	Notifications   []NotificationRecord `json:"notification_history,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// Outcome is the canonical result of a gateway callback or query after
// provider-specific normalization.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomePending  Outcome = "pending"
	OutcomeCanceled Outcome = "canceled"
)

// Status maps an outcome onto the transaction status it produces.
func (o Outcome) Status() TransactionStatus {
	switch o {
	case OutcomeSuccess:
		return StatusSuccess
	case OutcomeCanceled:
		return StatusCanceled
	case OutcomePending:
		return StatusPending
	default:
		return StatusFailed
	}
}

// NormalizedResult is a gateway adapter's in-memory output: the
// provider-specific callback reduced to canonical fields. RawPayload is
// kept verbatim for audit.
type NormalizedResult struct {
	Outcome    Outcome
	GatewayRef string
	Reason     string
	PayerPhone string
	PayerEmail string
	PayerName  string
	RawPayload []byte
}
