package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/malipo/orchestrator/internal/domain"
)

// signatureTolerance bounds how stale a signed webhook timestamp may be
// before it is treated as a replay.
const signatureTolerance = 5 * time.Minute

// StripeConfig configures the card-processor adapter.
type StripeConfig struct {
	BaseURL string // e.g. https://api.stripe.com
	Client  *http.Client
	// Now is swappable for signature-tolerance tests.
	Now func() time.Time
}

// Stripe drives the card processor: PaymentIntent creation plus signed
// webhooks. The provider has no poll endpoint worth using; status
// arrives via webhook only.
type Stripe struct {
	cfg StripeConfig
}

func NewStripe(cfg StripeConfig) *Stripe {
	if cfg.Client == nil {
		cfg.Client = defaultHTTPClient()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Stripe{cfg: cfg}
}

func (s *Stripe) Name() domain.Processor { return domain.ProcessorStripe }

// Initiate creates a PaymentIntent. The handle is the intent id; the
// client completes the payment with the client secret in Extra.
func (s *Stripe) Initiate(ctx context.Context, req InitiateRequest, creds *domain.MerchantCredentials) (Handle, error) {
	secretKey := creds.Secret("secret_key")
	if secretKey == "" {
		return Handle{}, domain.ErrGatewayNotConfigured
	}

	currency := strings.ToLower(orDefault(req.Currency, "kes"))

	form := url.Values{}
	// The card processor takes minor units.
	form.Set("amount", req.Amount.Mul(hundred).Round(0).String())
	form.Set("currency", currency)
	form.Set("description", orDefault(req.Description, "Payment"))
	form.Set("metadata[transaction_id]", req.TransactionID)
	if req.PayerEmail != "" {
		form.Set("receipt_email", req.PayerEmail)
	}

	var resp struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	err := postForm(ctx, s.cfg.Client, s.cfg.BaseURL+"/v1/payment_intents",
		map[string]string{"Authorization": "Bearer " + secretKey}, form, &resp)
	if err != nil {
		return Handle{}, fmt.Errorf("create payment intent: %w", err)
	}

	return Handle{
		Reference: resp.ID,
		Extra:     map[string]string{"client_secret": resp.ClientSecret},
	}, nil
}

// ParseCallback maps webhook event types onto canonical outcomes.
// Unrecognized event types fail closed rather than erroring.
func (s *Stripe) ParseCallback(raw []byte, _ http.Header) domain.NormalizedResult {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID           string `json:"id"`
				LatestCharge string `json:"latest_charge"`
				ReceiptEmail string `json:"receipt_email"`
				LastError    struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
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
		GatewayRef: event.Data.Object.ID,
		PayerEmail: event.Data.Object.ReceiptEmail,
		RawPayload: raw,
	}
	if event.Data.Object.LatestCharge != "" {
		res.GatewayRef = event.Data.Object.LatestCharge
	}

	switch event.Type {
	case "payment_intent.succeeded":
		res.Outcome = domain.OutcomeSuccess
	case "payment_intent.processing":
		res.Outcome = domain.OutcomePending
		res.Reason = "payment still processing"
	case "payment_intent.canceled":
		res.Outcome = domain.OutcomeCanceled
		res.Reason = "payment canceled"
	case "payment_intent.payment_failed":
		res.Outcome = domain.OutcomeFailed
		res.Reason = orDefault(event.Data.Object.LastError.Message, "payment failed")
	default:
		res.Outcome = domain.OutcomeFailed
		res.Reason = "unhandled event type " + event.Type
	}
	return res
}

// VerifySignature checks the provider's signed-webhook scheme: the
// signature header carries a timestamp and one or more HMAC-SHA256
// digests of "<timestamp>.<body>" keyed with the webhook secret, which
// is distinct from the API secret key.
func (s *Stripe) VerifySignature(_ context.Context, raw []byte, headers http.Header, creds *domain.MerchantCredentials) error {
	secret := creds.Secret("webhook_secret")
	if secret == "" {
		return domain.ErrGatewayNotConfigured
	}

	header := headers.Get("Stripe-Signature")
	if header == "" {
		return fmt.Errorf("%w: missing signature header", domain.ErrInvalidSignature)
	}

	var timestamp int64
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp, _ = strconv.ParseInt(v, 10, 64)
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if timestamp == 0 || len(candidates) == 0 {
		return fmt.Errorf("%w: malformed signature header", domain.ErrInvalidSignature)
	}

	age := s.cfg.Now().Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, c := range candidates {
		if hmac.Equal([]byte(expected), []byte(c)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching digest", domain.ErrInvalidSignature)
}

func (s *Stripe) Ack() any {
	return map[string]bool{"received": true}
}
