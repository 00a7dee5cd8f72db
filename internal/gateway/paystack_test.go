package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malipo/orchestrator/internal/domain"
)

func paystackCreds() *domain.MerchantCredentials {
	return &domain.MerchantCredentials{
		MerchantID: "m1",
		Gateway:    domain.ProcessorPaystack,
		Enabled:    true,
		Secrets:    map[string]string{"secret_key": "sk_test_xyz"},
	}
}

func signPaystack(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystackInitiate(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_xyz", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]string{
				"authorization_url": "https://checkout.example/abc",
				"access_code":       "abc",
				"reference":         "tx-9",
			},
		})
	}))
	defer srv.Close()

	p := NewPaystack(PaystackConfig{BaseURL: srv.URL})
	handle, err := p.Initiate(context.Background(), InitiateRequest{
		TransactionID: "tx-9",
		MerchantID:    "m1",
		Amount:        decimal.RequireFromString("150.50"),
		Currency:      "KES",
		PayerEmail:    "payer@example.com",
	}, paystackCreds())
	require.NoError(t, err)

	assert.Equal(t, "tx-9", handle.Reference)
	assert.Equal(t, "https://checkout.example/abc", handle.Extra["authorization_url"])
	assert.Equal(t, "15050", gotBody["amount"]) // minor units
	assert.Equal(t, "tx-9", gotBody["reference"])
}

func TestPaystackInitiateRequiresEmail(t *testing.T) {
	p := NewPaystack(PaystackConfig{BaseURL: "http://unused"})
	_, err := p.Initiate(context.Background(), InitiateRequest{
		TransactionID: "tx-9",
		Amount:        decimal.NewFromInt(10),
	}, paystackCreds())
	assert.True(t, domain.IsValidation(err))
}

func TestPaystackVerifySignature(t *testing.T) {
	p := NewPaystack(PaystackConfig{})
	body := []byte(`{"event":"charge.success","data":{"reference":"tx-9"}}`)

	headers := http.Header{}
	headers.Set("x-paystack-signature", signPaystack("sk_test_xyz", body))
	assert.NoError(t, p.VerifySignature(context.Background(), body, headers, paystackCreds()))

	t.Run("tampered", func(t *testing.T) {
		err := p.VerifySignature(context.Background(), []byte(`{"event":"charge.success"}`), headers, paystackCreds())
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		err := p.VerifySignature(context.Background(), body, http.Header{}, paystackCreds())
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})
}

func TestPaystackParseCallback(t *testing.T) {
	p := NewPaystack(PaystackConfig{})

	raw := []byte(`{
		"event": "charge.success",
		"data": {
			"id": 302961,
			"reference": "tx-9",
			"status": "success",
			"gateway_response": "Approved",
			"customer": {"email": "payer@example.com", "phone": "0712345678"}
		}
	}`)
	res := p.ParseCallback(raw, nil)

	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "302961", res.GatewayRef)
	assert.Equal(t, "payer@example.com", res.PayerEmail)
	assert.Equal(t, "0712345678", res.PayerPhone)
}

func TestPaystackStatusMapping(t *testing.T) {
	cases := map[string]domain.Outcome{
		"success":   domain.OutcomeSuccess,
		"pending":   domain.OutcomePending,
		"ongoing":   domain.OutcomePending,
		"abandoned": domain.OutcomeCanceled,
		"failed":    domain.OutcomeFailed,
		"reversed":  domain.OutcomeFailed,
		"":          domain.OutcomeFailed,
	}
	for status, want := range cases {
		assert.Equal(t, want, mapPaystackStatus(status), "status %q", status)
	}
}

func TestPaystackQueryNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "Transaction reference not found"})
	}))
	defer srv.Close()

	p := NewPaystack(PaystackConfig{BaseURL: srv.URL})
	status, err := p.Query(context.Background(), "tx-missing", paystackCreds())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCanceled, status.Outcome)
}
