// Package gateway normalizes the external payment providers behind one
// capability interface. Adding a provider means adding an Adapter, never
// branching on provider names in shared logic.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/malipo/orchestrator/internal/domain"
)

// InitiateRequest is the provider-agnostic payment initiation input.
// Amount is in major units; each adapter does its own minor-unit
// conversion at the provider boundary.
type InitiateRequest struct {
	TransactionID string
	MerchantID    string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	PayerPhone    string
	PayerEmail    string
	PayerName     string
}

// Handle is the gateway's opaque correlation token returned by Initiate:
// a checkout-request id, payment-intent id, reference, or order id. The
// caller persists it alongside the transaction. Extra carries provider
// artifacts the client may need (approval URL, client secret).
type Handle struct {
	Reference string            `json:"reference"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// QueryStatus is the advisory result of a synchronous status poll. It
// never mutates persisted state; only the callback path does.
type QueryStatus struct {
	Outcome domain.Outcome `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
}

// Adapter is the uniform capability set every provider implements.
//
// ParseCallback must be pure and total: a malformed payload maps to a
// failed NormalizedResult with a reason, never a panic or error, because
// the HTTP layer must acknowledge the gateway regardless of parse
// outcome. VerifySignature runs before ParseCallback on the webhook path;
// a failure is rejected with a client error and nothing is processed.
type Adapter interface {
	Name() domain.Processor
	Initiate(ctx context.Context, req InitiateRequest, creds *domain.MerchantCredentials) (Handle, error)
	ParseCallback(raw []byte, headers http.Header) domain.NormalizedResult
	VerifySignature(ctx context.Context, raw []byte, headers http.Header, creds *domain.MerchantCredentials) error
	// Ack is the acknowledgement body this gateway expects on its webhook.
	Ack() any
}

// Querier is implemented by adapters whose provider supports polling.
type Querier interface {
	Query(ctx context.Context, handle string, creds *domain.MerchantCredentials) (QueryStatus, error)
}

// Capturer is implemented by adapters whose provider needs an explicit
// capture step after payer approval.
type Capturer interface {
	Capture(ctx context.Context, handle string, creds *domain.MerchantCredentials) (QueryStatus, error)
}

// Registry holds the closed set of adapters keyed by processor name.
type Registry struct {
	adapters map[domain.Processor]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Processor]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a processor, or a ValidationError for an
// unknown one.
func (r *Registry) Get(p domain.Processor) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, domain.Validationf("gateway", "unknown gateway %q", p)
	}
	return a, nil
}

// hundred converts major units to the minor units most providers take.
var hundred = decimal.NewFromInt(100)

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
