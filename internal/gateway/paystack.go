package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/malipo/orchestrator/internal/domain"
)

// PaystackConfig configures the card/bank aggregator adapter.
type PaystackConfig struct {
	BaseURL     string // e.g. https://api.paystack.co
	CallbackURL string
	Client      *http.Client
}

// Paystack drives the regional aggregator: initialize, verify by
// reference, and HMAC-signed webhooks.
type Paystack struct {
	cfg PaystackConfig
}

func NewPaystack(cfg PaystackConfig) *Paystack {
	if cfg.Client == nil {
		cfg.Client = defaultHTTPClient()
	}
	return &Paystack{cfg: cfg}
}

func (p *Paystack) Name() domain.Processor { return domain.ProcessorPaystack }

// Initiate initializes a hosted checkout. The transaction id is the
// aggregator reference, so callbacks and verify calls correlate without
// extra bookkeeping.
func (p *Paystack) Initiate(ctx context.Context, req InitiateRequest, creds *domain.MerchantCredentials) (Handle, error) {
	secretKey := creds.Secret("secret_key")
	if secretKey == "" {
		return Handle{}, domain.ErrGatewayNotConfigured
	}
	if req.PayerEmail == "" {
		return Handle{}, domain.Validationf("payer_email", "aggregator checkout requires an email")
	}

	body := map[string]any{
		"email":     req.PayerEmail,
		"amount":    req.Amount.Mul(hundred).Round(0).String(), // minor units
		"currency":  strings.ToUpper(orDefault(req.Currency, "KES")),
		"reference": req.TransactionID,
		"metadata": map[string]any{
			"description": req.Description,
			"merchant_id": req.MerchantID,
		},
	}
	if p.cfg.CallbackURL != "" {
		body["callback_url"] = p.cfg.CallbackURL
	}

	var resp struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	err := postJSON(ctx, p.cfg.Client, p.cfg.BaseURL+"/transaction/initialize",
		map[string]string{"Authorization": "Bearer " + secretKey}, body, &resp)
	if err != nil {
		return Handle{}, fmt.Errorf("initialize: %w", err)
	}
	if !resp.Status {
		return Handle{}, fmt.Errorf("initialize rejected: %s", resp.Message)
	}

	return Handle{
		Reference: resp.Data.Reference,
		Extra:     map[string]string{"authorization_url": resp.Data.AuthorizationURL},
	}, nil
}

// ParseCallback normalizes aggregator webhook events.
func (p *Paystack) ParseCallback(raw []byte, _ http.Header) domain.NormalizedResult {
	var event struct {
		Event string `json:"event"`
		Data  struct {
			ID        int64  `json:"id"`
			Reference string `json:"reference"`
			Status    string `json:"status"`
			Message   string `json:"gateway_response"`
			Customer  struct {
				Email string `json:"email"`
				Phone string `json:"phone"`
			} `json:"customer"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.NormalizedResult{
			Outcome:    domain.OutcomeFailed,
			Reason:     "unparseable webhook payload: " + err.Error(),
			RawPayload: raw,
		}
	}

	res := domain.NormalizedResult{
		GatewayRef: fmt.Sprintf("%d", event.Data.ID),
		Reason:     event.Data.Message,
		PayerEmail: event.Data.Customer.Email,
		PayerPhone: event.Data.Customer.Phone,
		RawPayload: raw,
	}
	if event.Data.ID == 0 {
		res.GatewayRef = event.Data.Reference
	}

	switch event.Event {
	case "charge.success":
		res.Outcome = domain.OutcomeSuccess
	case "charge.failed":
		res.Outcome = domain.OutcomeFailed
	default:
		res.Outcome = mapPaystackStatus(event.Data.Status)
		if res.Outcome == domain.OutcomeFailed && res.Reason == "" {
			res.Reason = "unhandled event " + event.Event
		}
	}
	return res
}

// VerifySignature computes HMAC-SHA512 over the raw body with the
// merchant secret key and compares against the signature header in
// constant time.
func (p *Paystack) VerifySignature(_ context.Context, raw []byte, headers http.Header, creds *domain.MerchantCredentials) error {
	secret := creds.Secret("secret_key")
	if secret == "" {
		return domain.ErrGatewayNotConfigured
	}

	supplied := headers.Get("x-paystack-signature")
	if supplied == "" {
		return fmt.Errorf("%w: missing signature header", domain.ErrInvalidSignature)
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(supplied)) {
		return fmt.Errorf("%w: digest mismatch", domain.ErrInvalidSignature)
	}
	return nil
}

func (p *Paystack) Ack() any {
	return map[string]bool{"status": true}
}

// Query verifies a transaction by reference. Advisory only.
func (p *Paystack) Query(ctx context.Context, handle string, creds *domain.MerchantCredentials) (QueryStatus, error) {
	secretKey := creds.Secret("secret_key")
	if secretKey == "" {
		return QueryStatus{}, domain.ErrGatewayNotConfigured
	}

	var resp struct {
		Status bool `json:"status"`
		Data   struct {
			Status  string `json:"status"`
			Message string `json:"gateway_response"`
		} `json:"data"`
	}
	err := getJSON(ctx, p.cfg.Client, p.cfg.BaseURL+"/transaction/verify/"+handle,
		map[string]string{"Authorization": "Bearer " + secretKey}, &resp)
	if err != nil {
		var pe *providerError
		if errors.As(err, &pe) && pe.status == http.StatusNotFound {
			// the aggregator reports abandoned checkouts as unknown references
			return QueryStatus{Outcome: domain.OutcomeCanceled, Reason: "reference not found"}, nil
		}
		return QueryStatus{}, fmt.Errorf("verify: %w", err)
	}

	return QueryStatus{Outcome: mapPaystackStatus(resp.Data.Status), Reason: resp.Data.Message}, nil
}

// mapPaystackStatus is total over the aggregator's documented statuses.
func mapPaystackStatus(status string) domain.Outcome {
	switch strings.ToLower(status) {
	case "success":
		return domain.OutcomeSuccess
	case "pending", "ongoing", "processing", "queued":
		return domain.OutcomePending
	case "abandoned":
		return domain.OutcomeCanceled
	default:
		return domain.OutcomeFailed
	}
}
