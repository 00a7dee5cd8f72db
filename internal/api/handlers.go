package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/malipo/orchestrator/internal/domain"
	"github.com/malipo/orchestrator/internal/gateway"
	"github.com/malipo/orchestrator/internal/reconcile"
	"github.com/malipo/orchestrator/internal/reminder"
	"github.com/malipo/orchestrator/internal/repository"
	"github.com/malipo/orchestrator/pkg/metrics"
)

// maxCallbackBody caps webhook bodies; gateways send kilobytes, not megabytes.
const maxCallbackBody = 1 << 20

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	registry   *gateway.Registry
	creds      *repository.CredentialRepo
	txns       *repository.TransactionRepo
	links      *repository.LinkRepo
	customers  *repository.CustomerRepo
	reconciler *reconcile.Service
	scheduler  *reminder.Scheduler
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto response codes for the
// merchant-facing initiation and query paths. The callback path never
// uses this; it always acknowledges.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err), errors.Is(err, domain.ErrInvalidPhoneNumber):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrGatewayNotConfigured),
		errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrTransientGateway):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// --- InitiatePayment ---

type initiateRequest struct {
	Gateway       string `json:"gateway"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	Description   string `json:"description,omitempty"`
	MerchantID    string `json:"merchant_id"`
	TransactionID string `json:"transaction_id"`
	PayerPhone    string `json:"payer_phone,omitempty"`
	PayerEmail    string `json:"payer_email,omitempty"`
	PayerName     string `json:"payer_name,omitempty"`
}

func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	proc := domain.Processor(req.Gateway)
	adapter, err := h.registry.Get(proc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.MerchantID == "" {
		writeDomainError(w, domain.Validationf("merchant_id", "required"))
		return
	}
	if req.TransactionID == "" {
		writeDomainError(w, domain.Validationf("transaction_id", "required"))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeDomainError(w, domain.Validationf("amount", "must be a positive decimal"))
		return
	}

	creds, err := h.creds.Resolve(req.MerchantID, proc)
	if err != nil {
		metrics.IncInitiation(req.Gateway, "rejected")
		writeDomainError(w, err)
		return
	}

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:          req.TransactionID,
		OwnerUID:    req.MerchantID,
		Processor:   proc,
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		PayerPhone:  req.PayerPhone,
		PayerEmail:  req.PayerEmail,
		PayerName:   req.PayerName,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.txns.Insert(tx); err != nil {
		writeError(w, http.StatusConflict, "transaction id already exists")
		return
	}

	handle, err := adapter.Initiate(r.Context(), gateway.InitiateRequest{
		TransactionID: req.TransactionID,
		MerchantID:    req.MerchantID,
		Amount:        amount,
		Currency:      req.Currency,
		Description:   req.Description,
		PayerPhone:    req.PayerPhone,
		PayerEmail:    req.PayerEmail,
		PayerName:     req.PayerName,
	}, creds)
	if err != nil {
		metrics.IncInitiation(req.Gateway, "rejected")
		// The record was created above; close it out so it does not sit
		// pending forever.
		finalizeErr := h.txns.Finalize(req.TransactionID, &domain.NormalizedResult{
			Outcome: domain.OutcomeFailed,
			Reason:  "initiation failed: " + err.Error(),
		})
		if finalizeErr != nil {
			log.Printf("[api] WARNING: closing failed initiation %s: %v", req.TransactionID, finalizeErr)
		}
		writeJSON(w, statusForInitiateError(err), map[string]any{
			"status":        "rejected",
			"error_message": err.Error(),
		})
		return
	}

	if err := h.txns.SetHandle(req.TransactionID, handle.Reference); err != nil {
		log.Printf("[api] WARNING: storing handle for %s: %v", req.TransactionID, err)
	}

	metrics.IncInitiation(req.Gateway, "accepted")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "accepted",
		"gateway_handle": handle,
	})
}

func statusForInitiateError(err error) int {
	switch {
	case domain.IsValidation(err), errors.Is(err, domain.ErrInvalidPhoneNumber):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrGatewayNotConfigured),
		errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransientGateway):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// --- GatewayCallback ---

// GatewayCallback receives provider webhooks. Contract: always respond
// 200 with the gateway's expected acknowledgement, whatever happens
// internally — except a signature failure, which is rejected with a
// client error and logged as a security event. A non-2xx on anything
// else would make the gateway retry aggressively, and retries are the
// only path to duplicate side effects.
func (h *Handlers) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	gatewayName := chi.URLParam(r, "gateway")
	transactionID := chi.URLParam(r, "transactionID")

	adapter, err := h.registry.Get(domain.Processor(gatewayName))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown gateway")
		return
	}
	defer func() {
		metrics.ObserveCallback(gatewayName, time.Since(start).Seconds())
	}()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		log.Printf("[api] WARNING: reading callback body for %s: %v", transactionID, err)
		writeJSON(w, http.StatusOK, adapter.Ack())
		return
	}

	tx, err := h.txns.GetByID(transactionID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[api] WARNING: loading transaction %s: %v", transactionID, err)
		} else {
			log.Printf("[api] callback for unknown transaction %s, acknowledging", transactionID)
		}
		writeJSON(w, http.StatusOK, adapter.Ack())
		return
	}

	creds, err := h.creds.Resolve(tx.OwnerUID, adapter.Name())
	if err != nil {
		// A callback for a merchant with no configuration is suspicious
		// but not actionable; acknowledge without processing.
		log.Printf("[api] WARNING: no credentials for %s/%s on callback, acknowledging", tx.OwnerUID, gatewayName)
		writeJSON(w, http.StatusOK, adapter.Ack())
		return
	}

	if err := adapter.VerifySignature(r.Context(), raw, r.Header, creds); err != nil {
		log.Printf("[api] SECURITY: signature verification failed for %s callback %s: %v",
			gatewayName, transactionID, err)
		metrics.IncCallback(gatewayName, "bad_signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	result := adapter.ParseCallback(raw, r.Header)
	if err := h.reconciler.Apply(r.Context(), transactionID, result); err != nil {
		log.Printf("[api] WARNING: reconciling %s: %v", transactionID, err)
	}

	writeJSON(w, http.StatusOK, adapter.Ack())
}

// --- QueryPayment ---

type queryRequest struct {
	Gateway       string `json:"gateway"`
	GatewayHandle string `json:"gateway_handle"`
	MerchantID    string `json:"merchant_id"`
}

// QueryPayment polls the gateway for an advisory status. It never
// mutates persisted state; the callback path owns that.
func (h *Handlers) QueryPayment(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.GatewayHandle == "" {
		writeDomainError(w, domain.Validationf("gateway_handle", "required"))
		return
	}

	adapter, err := h.registry.Get(domain.Processor(req.Gateway))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	querier, ok := adapter.(gateway.Querier)
	if !ok {
		writeDomainError(w, domain.Validationf("gateway", "%s does not support status polling", req.Gateway))
		return
	}

	creds, err := h.creds.Resolve(req.MerchantID, adapter.Name())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status, err := querier.Query(r.Context(), req.GatewayHandle, creds)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":       status.Outcome,
		"reason":        status.Reason,
		"is_processing": status.Outcome == domain.OutcomePending,
		"is_successful": status.Outcome == domain.OutcomeSuccess,
		"is_canceled":   status.Outcome == domain.OutcomeCanceled,
	})
}

// --- CapturePayment ---

type captureRequest struct {
	Gateway       string `json:"gateway"`
	GatewayHandle string `json:"gateway_handle"`
	MerchantID    string `json:"merchant_id"`
}

// CapturePayment triggers the explicit capture step for providers that
// separate approval from capture. The response is advisory; the
// authoritative status transition still arrives by webhook.
func (h *Handlers) CapturePayment(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.GatewayHandle == "" {
		writeDomainError(w, domain.Validationf("gateway_handle", "required"))
		return
	}

	adapter, err := h.registry.Get(domain.Processor(req.Gateway))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	capturer, ok := adapter.(gateway.Capturer)
	if !ok {
		writeDomainError(w, domain.Validationf("gateway", "%s does not support capture", req.Gateway))
		return
	}

	creds, err := h.creds.Resolve(req.MerchantID, adapter.Name())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status, err := capturer.Capture(r.Context(), req.GatewayHandle, creds)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":       status.Outcome,
		"reason":        status.Reason,
		"is_successful": status.Outcome == domain.OutcomeSuccess,
	})
}

// --- Reminders ---

func (h *Handlers) CheckReminders(w http.ResponseWriter, r *http.Request) {
	result := h.scheduler.Sweep(r.Context())
	writeJSON(w, http.StatusOK, result)
}

type sendReminderRequest struct {
	Slug string `json:"slug"`
	Tier string `json:"type"`
}

func (h *Handlers) SendReminder(w http.ResponseWriter, r *http.Request) {
	var req sendReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.scheduler.SendManual(r.Context(), req.Slug, domain.ReminderTier(req.Tier)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// --- Transactions ---

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TransactionFilter{
		OwnerUID:  q.Get("merchant_id"),
		Processor: q.Get("gateway"),
		Status:    q.Get("status"),
		From:      parseTime(q.Get("from")),
		To:        parseTime(q.Get("to")),
		Page:      parseIntDefault(q.Get("page"), 1),
		Limit:     parseIntDefault(q.Get("limit"), 50),
	}

	txns, total, err := h.txns.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"total":        total,
		"page":         filter.Page,
		"limit":        filter.Limit,
	})
}

func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, err := h.txns.GetByID(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// --- Customers ---

func (h *Handlers) ListCustomers(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")
	if merchantID == "" {
		writeError(w, http.StatusBadRequest, "merchant_id is required")
		return
	}
	customers, err := h.customers.ListByOwner(merchantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

// --- Payment links ---

type createLinkRequest struct {
	Slug           string `json:"slug"`
	MerchantID     string `json:"merchant_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Description    string `json:"description,omitempty"`
	RecipientPhone string `json:"recipient_phone,omitempty"`
	ExpiryDate     string `json:"expiry_date,omitempty"`
}

func (h *Handlers) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeDomainError(w, domain.Validationf("amount", "must be a positive decimal"))
		return
	}
	if req.Slug == "" || req.MerchantID == "" {
		writeDomainError(w, domain.Validationf("slug", "slug and merchant_id are required"))
		return
	}

	link := &domain.PaymentLink{
		Slug:           req.Slug,
		OwnerUID:       req.MerchantID,
		Amount:         amount,
		Currency:       req.Currency,
		Description:    req.Description,
		RecipientPhone: req.RecipientPhone,
		Status:         domain.LinkActive,
		ExpiryDate:     parseTime(req.ExpiryDate),
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.links.Insert(link); err != nil {
		writeError(w, http.StatusConflict, "link slug already exists")
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *Handlers) MarkLinkPaid(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if _, err := h.links.GetBySlug(slug); err != nil {
		writeError(w, http.StatusNotFound, "link not found")
		return
	}
	if err := h.links.MarkPaid(slug); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

// --- Merchant credentials ---

type saveCredentialsRequest struct {
	Enabled bool              `json:"enabled"`
	Secrets map[string]string `json:"secrets"`
}

func (h *Handlers) SaveCredentials(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	gatewayName := domain.Processor(chi.URLParam(r, "gateway"))

	if _, err := h.registry.Get(gatewayName); err != nil {
		writeDomainError(w, err)
		return
	}

	var req saveCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	err := h.creds.Save(&domain.MerchantCredentials{
		MerchantID: merchantID,
		Gateway:    gatewayName,
		Enabled:    req.Enabled,
		Secrets:    req.Secrets,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
