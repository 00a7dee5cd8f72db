package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malipo/orchestrator/internal/domain"
)

func stripeCreds() *domain.MerchantCredentials {
	return &domain.MerchantCredentials{
		MerchantID: "m1",
		Gateway:    domain.ProcessorStripe,
		Enabled:    true,
		Secrets: map[string]string{
			"secret_key":     "sk_test_123",
			"webhook_secret": "whsec_abc",
		},
	}
}

func signStripe(secret string, t time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", t.Unix())
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifySignature(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewStripe(StripeConfig{Now: func() time.Time { return now }})
	body := []byte(`{"type":"payment_intent.succeeded"}`)

	headers := http.Header{}
	headers.Set("Stripe-Signature", signStripe("whsec_abc", now, body))
	assert.NoError(t, s.VerifySignature(context.Background(), body, headers, stripeCreds()))

	t.Run("tampered body", func(t *testing.T) {
		tampered := []byte(`{"type":"payment_intent.succeeded","amount":9}`)
		err := s.VerifySignature(context.Background(), tampered, headers, stripeCreds())
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		bad := http.Header{}
		bad.Set("Stripe-Signature", signStripe("whsec_other", now, body))
		err := s.VerifySignature(context.Background(), body, bad, stripeCreds())
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		stale := http.Header{}
		stale.Set("Stripe-Signature", signStripe("whsec_abc", now.Add(-10*time.Minute), body))
		err := s.VerifySignature(context.Background(), body, stale, stripeCreds())
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		err := s.VerifySignature(context.Background(), body, http.Header{}, stripeCreds())
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})
}

func TestStripeParseCallback(t *testing.T) {
	s := NewStripe(StripeConfig{})

	cases := []struct {
		event string
		want  domain.Outcome
	}{
		{"payment_intent.succeeded", domain.OutcomeSuccess},
		{"payment_intent.processing", domain.OutcomePending},
		{"payment_intent.canceled", domain.OutcomeCanceled},
		{"payment_intent.payment_failed", domain.OutcomeFailed},
		{"charge.refunded", domain.OutcomeFailed}, // unhandled types fail closed
	}
	for _, tc := range cases {
		raw := []byte(fmt.Sprintf(
			`{"type":%q,"data":{"object":{"id":"pi_123","latest_charge":"ch_456"}}}`, tc.event))
		res := s.ParseCallback(raw, nil)
		assert.Equal(t, tc.want, res.Outcome, "event %s", tc.event)
		assert.Equal(t, "ch_456", res.GatewayRef, "event %s", tc.event)
	}
}

func TestStripeParseCallbackGarbage(t *testing.T) {
	s := NewStripe(StripeConfig{})
	res := s.ParseCallback([]byte("<xml>nope</xml>"), nil)
	require.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.NotEmpty(t, res.Reason)
}
