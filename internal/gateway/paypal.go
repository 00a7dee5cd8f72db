package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/malipo/orchestrator/internal/domain"
)

// PaypalConfig configures the web-wallet adapter.
type PaypalConfig struct {
	BaseURL string // e.g. https://api-m.paypal.com
	Client  *http.Client
}

// Paypal drives the web-wallet processor: order create, capture, and
// webhooks verified through the provider's own verification endpoint.
type Paypal struct {
	cfg PaypalConfig
}

func NewPaypal(cfg PaypalConfig) *Paypal {
	if cfg.Client == nil {
		cfg.Client = defaultHTTPClient()
	}
	return &Paypal{cfg: cfg}
}

func (p *Paypal) Name() domain.Processor { return domain.ProcessorPaypal }

// Initiate creates a CAPTURE-intent order. The handle is the order id;
// Extra carries the payer approval link.
func (p *Paypal) Initiate(ctx context.Context, req InitiateRequest, creds *domain.MerchantCredentials) (Handle, error) {
	token, err := p.accessToken(ctx, creds)
	if err != nil {
		return Handle{}, err
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.TransactionID,
			"custom_id":    req.TransactionID,
			"description":  orDefault(req.Description, "Payment"),
			"amount": map[string]string{
				"currency_code": strings.ToUpper(orDefault(req.Currency, "USD")),
				"value":         req.Amount.StringFixed(2),
			},
		}},
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	err = postJSON(ctx, p.cfg.Client, p.cfg.BaseURL+"/v2/checkout/orders",
		map[string]string{"Authorization": "Bearer " + token}, body, &resp)
	if err != nil {
		return Handle{}, fmt.Errorf("create order: %w", err)
	}

	handle := Handle{Reference: resp.ID, Extra: map[string]string{}}
	for _, l := range resp.Links {
		if l.Rel == "approve" {
			handle.Extra["approval_url"] = l.Href
		}
	}
	return handle, nil
}

// Capture captures an approved order. Used by the client-facing capture
// endpoint; the authoritative status transition still arrives by webhook.
func (p *Paypal) Capture(ctx context.Context, orderID string, creds *domain.MerchantCredentials) (QueryStatus, error) {
	token, err := p.accessToken(ctx, creds)
	if err != nil {
		return QueryStatus{}, err
	}

	var resp struct {
		Status string `json:"status"`
	}
	err = postJSON(ctx, p.cfg.Client,
		p.cfg.BaseURL+"/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture",
		map[string]string{"Authorization": "Bearer " + token},
		map[string]any{}, &resp)
	if err != nil {
		return QueryStatus{}, fmt.Errorf("capture order: %w", err)
	}
	return QueryStatus{Outcome: mapPaypalOrderStatus(resp.Status), Reason: resp.Status}, nil
}

// ParseCallback maps wallet webhook event types onto canonical outcomes.
// Order approval is not capture and stays pending.
func (p *Paypal) ParseCallback(raw []byte, _ http.Header) domain.NormalizedResult {
	var event struct {
		EventType string `json:"event_type"`
		Resource  struct {
			ID       string `json:"id"`
			Status   string `json:"status"`
			CustomID string `json:"custom_id"`
			Payer    struct {
				EmailAddress string `json:"email_address"`
				Name         struct {
					GivenName string `json:"given_name"`
					Surname   string `json:"surname"`
				} `json:"name"`
			} `json:"payer"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.NormalizedResult{
			Outcome:    domain.OutcomeFailed,
			Reason:     "unparseable webhook payload: " + err.Error(),
			RawPayload: raw,
		}
	}

	res := domain.NormalizedResult{
		GatewayRef: event.Resource.ID,
		PayerEmail: event.Resource.Payer.EmailAddress,
		RawPayload: raw,
	}
	if n := event.Resource.Payer.Name; n.GivenName != "" {
		res.PayerName = strings.TrimSpace(n.GivenName + " " + n.Surname)
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		res.Outcome = domain.OutcomeSuccess
	case "PAYMENT.CAPTURE.PENDING":
		res.Outcome = domain.OutcomePending
		res.Reason = "capture pending"
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		res.Outcome = domain.OutcomeFailed
		res.Reason = "capture denied"
	case "CHECKOUT.ORDER.APPROVED":
		res.Outcome = domain.OutcomePending
		res.Reason = "order approved, awaiting capture"
	default:
		res.Outcome = domain.OutcomeFailed
		res.Reason = "unhandled event type " + event.EventType
	}
	return res
}

// VerifySignature calls the provider's verify-webhook-signature
// endpoint with the transmission headers and the raw event. Requires a
// configured webhook_id; unverifiable webhooks are rejected.
func (p *Paypal) VerifySignature(ctx context.Context, raw []byte, headers http.Header, creds *domain.MerchantCredentials) error {
	webhookID := creds.Secret("webhook_id")
	if webhookID == "" {
		return domain.ErrGatewayNotConfigured
	}

	token, err := p.accessToken(ctx, creds)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	body := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        webhookID,
		"webhook_event":     json.RawMessage(raw),
	}

	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	err = postJSON(ctx, p.cfg.Client, p.cfg.BaseURL+"/v1/notifications/verify-webhook-signature",
		map[string]string{"Authorization": "Bearer " + token}, body, &resp)
	if err != nil {
		return fmt.Errorf("%w: verification call failed: %v", domain.ErrInvalidSignature, err)
	}
	if resp.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: verification status %s", domain.ErrInvalidSignature, resp.VerificationStatus)
	}
	return nil
}

func (p *Paypal) Ack() any {
	return map[string]string{"status": "ok"}
}

func mapPaypalOrderStatus(status string) domain.Outcome {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return domain.OutcomeSuccess
	case "APPROVED", "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		return domain.OutcomePending
	case "VOIDED":
		return domain.OutcomeCanceled
	default:
		return domain.OutcomeFailed
	}
}

func (p *Paypal) accessToken(ctx context.Context, creds *domain.MerchantCredentials) (string, error) {
	clientID, clientSecret := creds.Secret("client_id"), creds.Secret("client_secret")
	if clientID == "" || clientSecret == "" {
		return "", domain.ErrGatewayNotConfigured
	}
	auth := base64.StdEncoding.EncodeToString([]byte(clientID + ":" + clientSecret))

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	err := postForm(ctx, p.cfg.Client, p.cfg.BaseURL+"/v1/oauth2/token",
		map[string]string{"Authorization": "Basic " + auth}, form, &resp)
	if err != nil {
		return "", fmt.Errorf("oauth: %w", err)
	}
	if resp.AccessToken == "" {
		return "", domain.ErrInvalidCredentials
	}
	return resp.AccessToken, nil
}
