package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malipo/orchestrator/internal/domain"
)

func mpesaCreds() *domain.MerchantCredentials {
	return &domain.MerchantCredentials{
		MerchantID: "m1",
		Gateway:    domain.ProcessorMpesa,
		Enabled:    true,
		Secrets: map[string]string{
			"consumer_key":    "key",
			"consumer_secret": "secret",
			"shortcode":       "174379",
			"passkey":         "passkey",
		},
	}
}

func TestMpesaInitiate(t *testing.T) {
	var pushReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/mpesa/stkpush/v1/processrequest":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&pushReq))
			json.NewEncoder(w).Encode(map[string]string{
				"CheckoutRequestID":   "ws_CO_123",
				"ResponseCode":        "0",
				"ResponseDescription": "Success. Request accepted for processing",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	m := NewMpesa(MpesaConfig{BaseURL: srv.URL, CallbackURL: "https://example.com/cb"})

	handle, err := m.Initiate(context.Background(), InitiateRequest{
		TransactionID: "tx-1",
		MerchantID:    "m1",
		Amount:        decimal.NewFromInt(100),
		PayerPhone:    "0712345678",
	}, mpesaCreds())
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_123", handle.Reference)

	assert.Equal(t, "254712345678", pushReq["PartyA"])
	assert.Equal(t, "254712345678", pushReq["PhoneNumber"])
	assert.Equal(t, "tx-1", pushReq["AccountReference"])
	assert.Equal(t, "https://example.com/cb/tx-1", pushReq["CallBackURL"])
	assert.Equal(t, float64(100), pushReq["Amount"])
}

func TestMpesaInitiateInvalidPhone(t *testing.T) {
	m := NewMpesa(MpesaConfig{BaseURL: "http://unused"})

	_, err := m.Initiate(context.Background(), InitiateRequest{
		TransactionID: "tx-1",
		Amount:        decimal.NewFromInt(100),
		PayerPhone:    "12345",
	}, mpesaCreds())
	assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
}

func TestMpesaInitiateBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewMpesa(MpesaConfig{BaseURL: srv.URL})
	_, err := m.Initiate(context.Background(), InitiateRequest{
		TransactionID: "tx-1",
		Amount:        decimal.NewFromInt(100),
		PayerPhone:    "0712345678",
	}, mpesaCreds())
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func stkCallback(resultCode int, items []map[string]any) []byte {
	payload := map[string]any{
		"Body": map[string]any{
			"stkCallback": map[string]any{
				"CheckoutRequestID": "ws_CO_123",
				"ResultCode":        resultCode,
				"ResultDesc":        "desc",
				"CallbackMetadata":  map[string]any{"Item": items},
			},
		},
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func TestMpesaParseCallbackSuccess(t *testing.T) {
	m := NewMpesa(MpesaConfig{})

	raw := stkCallback(0, []map[string]any{
		{"Name": "Amount", "Value": 100.0},
		{"Name": "MpesaReceiptNumber", "Value": "ABC123"},
		{"Name": "PhoneNumber", "Value": 254712345678},
	})
	res := m.ParseCallback(raw, nil)

	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "ABC123", res.GatewayRef)
	assert.Equal(t, "254712345678", res.PayerPhone)
	assert.Equal(t, raw, res.RawPayload)
}

func TestMpesaParseCallbackOutcomes(t *testing.T) {
	m := NewMpesa(MpesaConfig{})

	cases := map[int]domain.Outcome{
		1032: domain.OutcomeCanceled, // user dismissed the prompt
		1037: domain.OutcomeFailed,   // timeout reaching handset
		1:    domain.OutcomeFailed,   // insufficient funds
		2001: domain.OutcomeFailed,   // wrong pin
		9999: domain.OutcomeFailed,   // unrecognized code fails closed
	}
	for code, want := range cases {
		res := m.ParseCallback(stkCallback(code, nil), nil)
		assert.Equal(t, want, res.Outcome, "result code %d", code)
	}
}

func TestMpesaParseCallbackSuccessWithoutReceipt(t *testing.T) {
	m := NewMpesa(MpesaConfig{})

	res := m.ParseCallback(stkCallback(0, nil), nil)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "no receipt")
}

func TestMpesaParseCallbackGarbage(t *testing.T) {
	m := NewMpesa(MpesaConfig{})

	for _, raw := range []string{"", "not json", `{"Body": 42}`, `[]`} {
		res := m.ParseCallback([]byte(raw), nil)
		assert.Equal(t, domain.OutcomeFailed, res.Outcome, "payload %q", raw)
		assert.NotEmpty(t, res.Reason, "payload %q", raw)
	}
}

func TestMpesaQueryProcessing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/mpesa/stkpushquery/v1/query":
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{
				"errorCode":    "500.001.1001",
				"errorMessage": "The transaction is being processed",
			})
		}
	}))
	defer srv.Close()

	m := NewMpesa(MpesaConfig{BaseURL: srv.URL})
	status, err := m.Query(context.Background(), "ws_CO_123", mpesaCreds())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, status.Outcome)
}

func TestMpesaQueryNotFoundIsCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/mpesa/stkpushquery/v1/query":
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"errorCode":    "404.001.04",
				"errorMessage": "The transaction does not exist",
			})
		}
	}))
	defer srv.Close()

	m := NewMpesa(MpesaConfig{BaseURL: srv.URL})
	status, err := m.Query(context.Background(), "ws_CO_404", mpesaCreds())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCanceled, status.Outcome)
}

func TestMpesaQuerySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/mpesa/stkpushquery/v1/query":
			json.NewEncoder(w).Encode(map[string]string{
				"ResultCode": "0",
				"ResultDesc": "The service request is processed successfully.",
			})
		}
	}))
	defer srv.Close()

	m := NewMpesa(MpesaConfig{BaseURL: srv.URL})
	status, err := m.Query(context.Background(), "ws_CO_123", mpesaCreds())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, status.Outcome)
}
