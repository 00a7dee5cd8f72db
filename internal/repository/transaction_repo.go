package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/malipo/orchestrator/internal/domain"
)

type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

func (r *TransactionRepo) Insert(tx *domain.Transaction) error {
	notif, err := json.Marshal(emptyIfNil(tx.Notifications))
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO transactions
		(id, owner_uid, processor, amount, currency, description,
		 payer_phone, payer_email, payer_name, gateway_handle, gateway_ref,
		 status, failure_reason, callback_payload, invoice_url, has_invoice,
		 notifications, created_at, updated_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		tx.ID, tx.OwnerUID, string(tx.Processor), tx.Amount.String(), tx.Currency,
		tx.Description, tx.PayerPhone, tx.PayerEmail, tx.PayerName,
		tx.GatewayHandle, tx.GatewayRef, string(tx.Status), tx.FailureReason,
		tx.CallbackPayload, tx.InvoiceURL, boolToInt(tx.HasInvoice),
		string(notif), tx.CreatedAt.Format(time.RFC3339),
		tx.UpdatedAt.Format(time.RFC3339), formatNullableTime(tx.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepo) GetByID(id string) (*domain.Transaction, error) {
	row := r.db.QueryRow("SELECT * FROM transactions WHERE id = ?", id)
	return scanTransaction(row.Scan)
}

func (r *TransactionRepo) GetByHandle(handle string) (*domain.Transaction, error) {
	row := r.db.QueryRow("SELECT * FROM transactions WHERE gateway_handle = ?", handle)
	return scanTransaction(row.Scan)
}

// SetHandle records the gateway's opaque handle after a successful initiate.
func (r *TransactionRepo) SetHandle(id, handle string) error {
	_, err := r.db.Exec(
		"UPDATE transactions SET gateway_handle = ?, updated_at = ? WHERE id = ?",
		handle, time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// Finalize applies a terminal status transition with compare-and-swap
// semantics: the row is only touched while still pending, so of two
// near-simultaneous callback deliveries exactly one wins. The loser gets
// domain.ErrConflict and must take the re-delivery no-op path.
func (r *TransactionRepo) Finalize(id string, res *domain.NormalizedResult) error {
	status := res.Outcome.Status()
	now := time.Now().UTC()

	var completedAt any
	if status.Terminal() {
		completedAt = now.Format(time.RFC3339)
	}

	out, err := r.db.Exec(
		`UPDATE transactions SET
			status = ?,
			gateway_ref = CASE WHEN ? != '' THEN ? ELSE gateway_ref END,
			failure_reason = ?,
			callback_payload = ?,
			payer_phone = CASE WHEN ? != '' THEN ? ELSE payer_phone END,
			payer_email = CASE WHEN ? != '' THEN ? ELSE payer_email END,
			payer_name = CASE WHEN ? != '' THEN ? ELSE payer_name END,
			updated_at = ?,
			completed_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(status),
		res.GatewayRef, res.GatewayRef,
		res.Reason,
		res.RawPayload,
		res.PayerPhone, res.PayerPhone,
		res.PayerEmail, res.PayerEmail,
		res.PayerName, res.PayerName,
		now.Format(time.RFC3339),
		completedAt,
		id,
	)
	if err != nil {
		return fmt.Errorf("finalize transaction: %w", err)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

// RecordRedelivery stores the newest raw payload on an already-terminal
// transaction for audit, without touching status or completion fields.
func (r *TransactionRepo) RecordRedelivery(id string, rawPayload []byte) error {
	_, err := r.db.Exec(
		"UPDATE transactions SET callback_payload = ?, updated_at = ? WHERE id = ?",
		rawPayload, time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// SetInvoice records the rendered invoice URL.
func (r *TransactionRepo) SetInvoice(id, url string) error {
	_, err := r.db.Exec(
		"UPDATE transactions SET invoice_url = ?, has_invoice = 1, updated_at = ? WHERE id = ?",
		url, time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// AppendNotification appends one attempt record to the transaction's
// notification history.
func (r *TransactionRepo) AppendNotification(id string, rec domain.NotificationRecord) error {
	tx, err := r.GetByID(id)
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	history := append(tx.Notifications, rec)
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = r.db.Exec(
		"UPDATE transactions SET notifications = ?, updated_at = ? WHERE id = ?",
		string(data), time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

type TransactionFilter struct {
	OwnerUID  string
	Processor string
	Status    string
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

func (r *TransactionRepo) List(f TransactionFilter) ([]domain.Transaction, int, error) {
	where, args := buildTransactionWhere(f)

	var total int
	countSQL := "SELECT COUNT(*) FROM transactions" + where
	if err := r.db.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	querySQL := "SELECT * FROM transactions" + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(querySQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		txns = append(txns, *tx)
	}
	return txns, total, rows.Err()
}

// --- helpers ---

func buildTransactionWhere(f TransactionFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.OwnerUID != "" {
		clauses = append(clauses, "owner_uid = ?")
		args = append(args, f.OwnerUID)
	}
	if f.Processor != "" {
		clauses = append(clauses, "processor = ?")
		args = append(args, f.Processor)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.From.Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, f.To.Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanTransaction(scan func(...any) error) (*domain.Transaction, error) {
	var tx domain.Transaction
	var proc, status, amount, notifications, createdAt, updatedAt string
	var completedAt sql.NullString
	var hasInvoice int
	var payload []byte

	err := scan(
		&tx.ID, &tx.OwnerUID, &proc, &amount, &tx.Currency, &tx.Description,
		&tx.PayerPhone, &tx.PayerEmail, &tx.PayerName,
		&tx.GatewayHandle, &tx.GatewayRef, &status, &tx.FailureReason,
		&payload, &tx.InvoiceURL, &hasInvoice, &notifications,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Processor = domain.Processor(proc)
	tx.Status = domain.TransactionStatus(status)
	tx.Amount, _ = decimal.NewFromString(amount)
	tx.CallbackPayload = payload
	tx.HasInvoice = hasInvoice != 0
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	tx.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		tx.CompletedAt = &t
	}
	if notifications != "" {
		_ = json.Unmarshal([]byte(notifications), &tx.Notifications)
	}

	return &tx, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(recs []domain.NotificationRecord) []domain.NotificationRecord {
	if recs == nil {
		return []domain.NotificationRecord{}
	}
	return recs
}
