package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/malipo/orchestrator/internal/domain"
)

// M-Pesa STK result codes. The table is total: anything unrecognized
// maps to failed.
const (
	mpesaCodeSuccess      = 0
	mpesaCodeInsufficient = 1
	mpesaCodeCanceled     = 1032
	mpesaCodeTimeout      = 1037
	mpesaCodeWrongPIN     = 2001

	// Returned as an error code, not a result code, while the STK prompt
	// is still on the handset.
	mpesaErrProcessing = "500.001.1001"
)

// MpesaConfig configures the mobile-money push adapter.
type MpesaConfig struct {
	BaseURL     string // e.g. https://api.safaricom.co.ke
	CallbackURL string // public URL the gateway posts results to; the transaction id is appended
	Client      *http.Client
}

// Mpesa drives the mobile-money push gateway: STK push initiation, STK
// query polling, and result callbacks.
type Mpesa struct {
	cfg MpesaConfig
}

func NewMpesa(cfg MpesaConfig) *Mpesa {
	if cfg.Client == nil {
		cfg.Client = defaultHTTPClient()
	}
	return &Mpesa{cfg: cfg}
}

func (m *Mpesa) Name() domain.Processor { return domain.ProcessorMpesa }

// Initiate performs the OAuth handshake and fires an STK push at the
// payer's handset. The returned handle is the CheckoutRequestID; gateway
// acceptance is not payment success.
func (m *Mpesa) Initiate(ctx context.Context, req InitiateRequest, creds *domain.MerchantCredentials) (Handle, error) {
	phone, err := NormalizePhone(req.PayerPhone)
	if err != nil {
		return Handle{}, err
	}

	token, err := m.accessToken(ctx, creds)
	if err != nil {
		return Handle{}, err
	}

	shortcode := creds.Secret("shortcode")
	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(shortcode + creds.Secret("passkey") + timestamp))

	// STK push takes whole shillings.
	amount := req.Amount.Round(0).IntPart()
	if amount <= 0 {
		return Handle{}, domain.Validationf("amount", "must round to at least 1")
	}

	body := map[string]any{
		"BusinessShortCode": shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       m.cfg.CallbackURL + "/" + req.TransactionID,
		"AccountReference":  req.TransactionID,
		"TransactionDesc":   orDefault(req.Description, "Payment"),
	}

	var resp struct {
		CheckoutRequestID string `json:"CheckoutRequestID"`
		ResponseCode      string `json:"ResponseCode"`
		ResponseDesc      string `json:"ResponseDescription"`
	}
	err = postJSON(ctx, m.cfg.Client, m.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest",
		map[string]string{"Authorization": "Bearer " + token}, body, &resp)
	if err != nil {
		return Handle{}, fmt.Errorf("stk push: %w", err)
	}
	if resp.ResponseCode != "0" {
		return Handle{}, fmt.Errorf("stk push rejected: %s", resp.ResponseDesc)
	}
	return Handle{Reference: resp.CheckoutRequestID}, nil
}

// ParseCallback normalizes an STK result callback. Total: garbled
// payloads map to a failed outcome with a reason, never an error.
func (m *Mpesa) ParseCallback(raw []byte, _ http.Header) domain.NormalizedResult {
	var payload struct {
		Body struct {
			StkCallback struct {
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        int    `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
				CallbackMetadata  struct {
					Item []struct {
						Name  string          `json:"Name"`
						Value json.RawMessage `json:"Value"`
					} `json:"Item"`
				} `json:"CallbackMetadata"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.NormalizedResult{
			Outcome:    domain.OutcomeFailed,
			Reason:     "unparseable callback payload: " + err.Error(),
			RawPayload: raw,
		}
	}

	cb := payload.Body.StkCallback
	res := domain.NormalizedResult{
		Outcome:    mapMpesaResultCode(cb.ResultCode),
		Reason:     cb.ResultDesc,
		RawPayload: raw,
	}

	// On success the receipt number rides in the metadata item list.
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			var s string
			if json.Unmarshal(item.Value, &s) == nil {
				res.GatewayRef = s
			}
		case "PhoneNumber":
			// delivered as a number, not a string
			var n json.Number
			if json.Unmarshal(item.Value, &n) == nil {
				res.PayerPhone = n.String()
			}
		}
	}

	if res.Outcome == domain.OutcomeSuccess && res.GatewayRef == "" {
		res.Outcome = domain.OutcomeFailed
		res.Reason = "success result with no receipt number in metadata"
	}
	return res
}

// VerifySignature is a no-op: the gateway does not sign STK callbacks.
// Authenticity rests on the unguessable per-transaction callback path.
func (m *Mpesa) VerifySignature(context.Context, []byte, http.Header, *domain.MerchantCredentials) error {
	return nil
}

// Ack is the acknowledgement schema this gateway expects on callbacks.
func (m *Mpesa) Ack() any {
	return map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"}
}

// Query polls the STK transaction status. Advisory only; persisted state
// is mutated exclusively by the callback path.
func (m *Mpesa) Query(ctx context.Context, handle string, creds *domain.MerchantCredentials) (QueryStatus, error) {
	token, err := m.accessToken(ctx, creds)
	if err != nil {
		return QueryStatus{}, err
	}

	shortcode := creds.Secret("shortcode")
	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString(
		[]byte(shortcode + creds.Secret("passkey") + timestamp))

	body := map[string]any{
		"BusinessShortCode": shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": handle,
	}

	var resp struct {
		ResultCode string `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
		ErrorCode  string `json:"errorCode"`
	}
	err = postJSON(ctx, m.cfg.Client, m.cfg.BaseURL+"/mpesa/stkpushquery/v1/query",
		map[string]string{"Authorization": "Bearer " + token}, body, &resp)
	if err != nil {
		return mapMpesaQueryError(err)
	}

	code, convErr := strconv.Atoi(resp.ResultCode)
	if convErr != nil {
		return QueryStatus{Outcome: domain.OutcomeFailed, Reason: resp.ResultDesc}, nil
	}
	return QueryStatus{Outcome: mapMpesaResultCode(code), Reason: resp.ResultDesc}, nil
}

// mapMpesaResultCode is the single result-code table shared by the
// callback and query paths.
func mapMpesaResultCode(code int) domain.Outcome {
	switch code {
	case mpesaCodeSuccess:
		return domain.OutcomeSuccess
	case mpesaCodeCanceled:
		return domain.OutcomeCanceled
	case mpesaCodeInsufficient, mpesaCodeTimeout, mpesaCodeWrongPIN:
		return domain.OutcomeFailed
	default:
		return domain.OutcomeFailed
	}
}

// mapMpesaQueryError interprets the gateway's error responses on the poll
// path: "still processing" is pending, "transaction not found" signals an
// abandoned checkout and maps to canceled. Everything else propagates.
func mapMpesaQueryError(err error) (QueryStatus, error) {
	var pe *providerError
	if !errors.As(err, &pe) {
		return QueryStatus{}, fmt.Errorf("stk query: %w", err)
	}

	var body struct {
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	_ = json.Unmarshal(pe.body, &body)

	switch {
	case strings.Contains(body.ErrorCode, mpesaErrProcessing):
		return QueryStatus{Outcome: domain.OutcomePending, Reason: body.ErrorMessage}, nil
	case strings.Contains(strings.ToLower(body.ErrorMessage), "not exist"),
		strings.Contains(strings.ToLower(body.ErrorMessage), "not found"):
		return QueryStatus{Outcome: domain.OutcomeCanceled, Reason: body.ErrorMessage}, nil
	}
	return QueryStatus{}, fmt.Errorf("stk query: %w", err)
}

func (m *Mpesa) accessToken(ctx context.Context, creds *domain.MerchantCredentials) (string, error) {
	key, secret := creds.Secret("consumer_key"), creds.Secret("consumer_secret")
	if key == "" || secret == "" {
		return "", domain.ErrGatewayNotConfigured
	}
	auth := base64.StdEncoding.EncodeToString([]byte(key + ":" + secret))

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	err := getJSON(ctx, m.cfg.Client,
		m.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials",
		map[string]string{"Authorization": "Basic " + auth}, &resp)
	if err != nil {
		return "", fmt.Errorf("oauth: %w", err)
	}
	if resp.AccessToken == "" {
		return "", domain.ErrInvalidCredentials
	}
	return resp.AccessToken, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
