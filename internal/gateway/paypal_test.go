package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malipo/orchestrator/internal/domain"
)

func paypalCreds() *domain.MerchantCredentials {
	return &domain.MerchantCredentials{
		MerchantID: "m1",
		Gateway:    domain.ProcessorPaypal,
		Enabled:    true,
		Secrets: map[string]string{
			"client_id":     "client",
			"client_secret": "secret",
			"webhook_id":    "WH-123",
		},
	}
}

func TestPaypalParseCallback(t *testing.T) {
	p := NewPaypal(PaypalConfig{})

	cases := []struct {
		event string
		want  domain.Outcome
	}{
		{"PAYMENT.CAPTURE.COMPLETED", domain.OutcomeSuccess},
		{"PAYMENT.CAPTURE.PENDING", domain.OutcomePending},
		{"PAYMENT.CAPTURE.DENIED", domain.OutcomeFailed},
		{"CHECKOUT.ORDER.APPROVED", domain.OutcomePending}, // approval is not capture
		{"BILLING.SUBSCRIPTION.CREATED", domain.OutcomeFailed},
	}
	for _, tc := range cases {
		raw := []byte(fmt.Sprintf(
			`{"event_type":%q,"resource":{"id":"CAP-1","status":"COMPLETED","payer":{"email_address":"p@example.com","name":{"given_name":"Jane","surname":"Doe"}}}}`,
			tc.event))
		res := p.ParseCallback(raw, nil)
		assert.Equal(t, tc.want, res.Outcome, "event %s", tc.event)
		assert.Equal(t, "CAP-1", res.GatewayRef)
		assert.Equal(t, "Jane Doe", res.PayerName)
	}
}

func TestPaypalParseCallbackGarbage(t *testing.T) {
	p := NewPaypal(PaypalConfig{})
	res := p.ParseCallback([]byte("{truncated"), nil)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.NotEmpty(t, res.Reason)
}

func paypalServer(t *testing.T, verificationStatus string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/v1/notifications/verify-webhook-signature":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "WH-123", body["webhook_id"])
			assert.Equal(t, "sig-1", body["transmission_sig"])
			json.NewEncoder(w).Encode(map[string]string{"verification_status": verificationStatus})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func TestPaypalVerifySignature(t *testing.T) {
	raw := []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`)
	headers := http.Header{}
	headers.Set("Paypal-Transmission-Id", "tid-1")
	headers.Set("Paypal-Transmission-Sig", "sig-1")
	headers.Set("Paypal-Transmission-Time", "2024-06-01T12:00:00Z")
	headers.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	headers.Set("Paypal-Auth-Algo", "SHA256withRSA")

	t.Run("verified", func(t *testing.T) {
		srv := paypalServer(t, "SUCCESS")
		defer srv.Close()

		p := NewPaypal(PaypalConfig{BaseURL: srv.URL})
		assert.NoError(t, p.VerifySignature(context.Background(), raw, headers, paypalCreds()))
	})

	t.Run("rejected", func(t *testing.T) {
		srv := paypalServer(t, "FAILURE")
		defer srv.Close()

		p := NewPaypal(PaypalConfig{BaseURL: srv.URL})
		err := p.VerifySignature(context.Background(), raw, headers, paypalCreds())
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("missing webhook id", func(t *testing.T) {
		p := NewPaypal(PaypalConfig{BaseURL: "http://unused"})
		creds := paypalCreds()
		delete(creds.Secrets, "webhook_id")
		err := p.VerifySignature(context.Background(), raw, headers, creds)
		assert.ErrorIs(t, err, domain.ErrGatewayNotConfigured)
	})
}

func TestPaypalOrderStatusMapping(t *testing.T) {
	cases := map[string]domain.Outcome{
		"COMPLETED": domain.OutcomeSuccess,
		"APPROVED":  domain.OutcomePending,
		"CREATED":   domain.OutcomePending,
		"VOIDED":    domain.OutcomeCanceled,
		"WEIRD":     domain.OutcomeFailed,
	}
	for status, want := range cases {
		assert.Equal(t, want, mapPaypalOrderStatus(status), "status %q", status)
	}
}
